// Package dispatch correlates inbound request frames with outbound
// responses: one PendingRequest per broker request id, with an
// authoritative deadline.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/SixerrAI/sixerr-plugin/core/logx"
	"github.com/SixerrAI/sixerr-plugin/internal/ctrl"
	"github.com/SixerrAI/sixerr-plugin/internal/emit"
	"github.com/SixerrAI/sixerr-plugin/internal/status"
	"github.com/SixerrAI/sixerr-plugin/internal/translate"
)

const (
	// DefaultTimeout bounds one request end to end.
	DefaultTimeout = 120 * time.Second
	// graceDelay is how long after the deadline the dispatcher waits for
	// the unit of work to wind down before force-releasing the slot.
	graceDelay = 5 * time.Second
)

type pendingRequest struct {
	cancel context.CancelFunc
	sink   *requestSink
}

// Dispatcher owns the per-request-id bookkeeping for one session. Requests
// for different ids run concurrently and never block each other; all their
// frames share the session's single outbound path.
type Dispatcher struct {
	chat      translate.Translator
	responses translate.Translator
	timeout   time.Duration
	grace     time.Duration

	mu      sync.Mutex
	pending map[string]*pendingRequest
}

// New creates a dispatcher routing to the two dialect translators.
// A timeout of zero selects DefaultTimeout.
func New(chat, responses translate.Translator, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Dispatcher{
		chat:      chat,
		responses: responses,
		timeout:   timeout,
		grace:     graceDelay,
		pending:   map[string]*pendingRequest{},
	}
}

// selectTranslator picks a dialect from the body shape: a messages array is
// the Chat-Completions dialect, an input value the Responses dialect.
func (d *Dispatcher) selectTranslator(body []byte) translate.Translator {
	var probe struct {
		Messages json.RawMessage `json:"messages"`
		Input    json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil
	}
	switch {
	case len(probe.Messages) > 0:
		return d.chat
	case len(probe.Input) > 0:
		return d.responses
	default:
		return nil
	}
}

// Dispatch starts one request. It never blocks: bookkeeping happens inline,
// the work runs in its own goroutine. A second request with a known id is
// rejected, not merged.
func (d *Dispatcher) Dispatch(parent context.Context, out *emit.Sender, id string, body []byte) {
	d.mu.Lock()
	if _, ok := d.pending[id]; ok {
		d.mu.Unlock()
		logx.Log.Warn().Str("request", id).Msg("duplicate request id rejected")
		out.Error(id, ctrl.CodeDuplicateRequest, "request id already pending")
		return
	}
	tr := d.selectTranslator(body)
	if tr == nil {
		d.mu.Unlock()
		out.Error(id, ctrl.CodeBadRequest, "body matches no supported dialect")
		return
	}
	reqCtx, cancel := context.WithTimeout(parent, d.timeout)
	sink := newRequestSink(out, id)
	d.pending[id] = &pendingRequest{cancel: cancel, sink: sink}
	d.mu.Unlock()

	status.IncInflight()
	logx.Log.Info().Str("request", id).Str("dialect", tr.Name()).Msg("request start")
	start := time.Now()

	done := make(chan struct{})
	go func() {
		defer close(done)
		tr.Run(reqCtx, body, sink)
	}()
	go func() {
		timedOut := false
		select {
		case <-done:
		case <-reqCtx.Done():
			// The deadline fired (or the session is going away). Give the
			// capability a grace period to observe the cancellation; an
			// unresponsive backend must never occupy the slot forever.
			select {
			case <-done:
			case <-time.After(d.grace):
				timedOut = true
				sink.fail(ctrl.CodePluginError, "timed out")
			}
		}
		cancel()
		d.release(id)
		dur := time.Since(start)
		status.DecInflight()
		status.RequestCompleted(!timedOut, dur)
		lvl := logx.Log.Info()
		msg := "request complete"
		if timedOut {
			lvl = logx.Log.Warn()
			msg = "request timed out"
		}
		lvl.Str("request", id).Dur("duration", dur).Msg(msg)
	}()
}

func (d *Dispatcher) release(id string) {
	d.mu.Lock()
	delete(d.pending, id)
	d.mu.Unlock()
}

// CancelAll aborts every pending request and suppresses their late frames.
// Used on session teardown: in-flight requests at disconnect are terminal
// failures, never resumed.
func (d *Dispatcher) CancelAll() {
	d.mu.Lock()
	for id, p := range d.pending {
		p.sink.shut()
		p.cancel()
		delete(d.pending, id)
	}
	d.mu.Unlock()
}

// PendingCount reports the number of in-flight requests.
func (d *Dispatcher) PendingCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
