package dispatch

import (
	"sync"

	"github.com/SixerrAI/sixerr-plugin/internal/ctrl"
	"github.com/SixerrAI/sixerr-plugin/internal/emit"
)

// requestSink binds a translator's output to one request id. The mutex is
// held across the state check and the emit, so a frame and a concurrent
// shut or fail can never interleave. Once shut (session teardown), every
// further frame is dropped; once a terminal frame has gone out, fail
// becomes a no-op. Each id therefore gets at most one terminal.
type requestSink struct {
	out *emit.Sender
	id  string

	mu       sync.Mutex
	dead     bool
	terminal bool
}

func newRequestSink(out *emit.Sender, id string) *requestSink {
	return &requestSink{out: out, id: id}
}

func (s *requestSink) shut() {
	s.mu.Lock()
	s.dead = true
	s.mu.Unlock()
}

// fail shuts the sink and emits the final error frame, unless the
// translator's own terminal frame already went out.
func (s *requestSink) fail(code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead || s.terminal {
		s.dead = true
		return
	}
	s.dead = true
	s.terminal = true
	s.out.Error(s.id, code, message)
}

func (s *requestSink) Response(body any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return
	}
	s.terminal = true
	s.out.Response(s.id, body)
}

func (s *requestSink) StreamEvent(event any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return
	}
	s.out.StreamEvent(s.id, event)
}

func (s *requestSink) StreamEnd(usage ctrl.Usage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return
	}
	s.terminal = true
	s.out.StreamEnd(s.id, usage)
}

// Error does not mark the sink terminal: mid-stream backend errors are
// followed by finalize frames and a stream_end.
func (s *requestSink) Error(code, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return
	}
	s.out.Error(s.id, code, message)
}
