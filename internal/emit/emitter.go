// Package emit serializes outbound frames onto the session's single send
// channel. All frames for a connection, heartbeat pongs included, pass
// through one Sender so per-connection frame ordering is never corrupted.
package emit

import (
	"context"
	"encoding/json"

	"github.com/SixerrAI/sixerr-plugin/core/logx"
	"github.com/SixerrAI/sixerr-plugin/internal/ctrl"
)

// Sender pushes encoded frames onto a connection's send channel. The
// channel is drained by a single writer goroutine owned by the session.
type Sender struct {
	ctx context.Context
	ch  chan<- []byte
}

// New creates a Sender bound to one connection's lifetime.
func New(ctx context.Context, ch chan<- []byte) *Sender {
	return &Sender{ctx: ctx, ch: ch}
}

// Send marshals a frame and queues it for writing. If the connection is
// gone the frame is dropped; pending requests are terminal failures across
// reconnects, so there is nothing to retry here.
func (s *Sender) Send(frame any) {
	b, err := json.Marshal(frame)
	if err != nil {
		logx.Log.Error().Err(err).Msg("marshal outbound frame")
		return
	}
	select {
	case s.ch <- b:
	case <-s.ctx.Done():
	}
}

// Response emits the terminal frame of a non-streaming request.
func (s *Sender) Response(id string, body any) {
	raw, err := json.Marshal(body)
	if err != nil {
		logx.Log.Error().Err(err).Str("request", id).Msg("marshal response body")
		s.Error(id, ctrl.CodePluginError, "encode response: "+err.Error())
		return
	}
	s.Send(ctrl.ResponseFrame{Type: "response", ID: id, Body: raw})
}

// StreamEvent emits one dialect stream event for a request.
func (s *Sender) StreamEvent(id string, event any) {
	raw, err := json.Marshal(event)
	if err != nil {
		logx.Log.Error().Err(err).Str("request", id).Msg("marshal stream event")
		return
	}
	s.Send(ctrl.StreamEventFrame{Type: "stream_event", ID: id, Event: raw})
}

// StreamEnd emits the terminal frame of a streaming request.
func (s *Sender) StreamEnd(id string, usage ctrl.Usage) {
	s.Send(ctrl.StreamEndFrame{Type: "stream_end", ID: id, Usage: usage})
}

// Error emits a request-scoped error frame.
func (s *Sender) Error(id, code, message string) {
	s.Send(ctrl.ErrorFrame{Type: "error", ID: id, Code: code, Message: message})
}
