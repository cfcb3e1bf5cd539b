// Package translate converts between the broker's two external LLM dialects
// and the canonical conversation handed to the backend, including the
// stateful reconstruction of streamed tool calls from incremental deltas.
package translate

import (
	"context"

	"github.com/SixerrAI/sixerr-plugin/internal/ctrl"
)

// Sink receives the frames produced while handling one request. It is bound
// to the request id by the dispatcher; implementations must be safe to call
// from the request's goroutine only.
type Sink interface {
	// Response emits the terminal frame of a non-streaming request.
	Response(body any)
	// StreamEvent emits one dialect stream event.
	StreamEvent(event any)
	// StreamEnd emits the terminal frame of a streaming request.
	StreamEnd(usage ctrl.Usage)
	// Error emits an error frame. Whether it is terminal depends on the
	// request mode: terminal for non-streaming requests, informational for
	// streams (which still finalize afterwards).
	Error(code, message string)
}

// Translator handles one dialect end to end: parse the request body, build
// the canonical conversation, run it against the backend, and emit frames.
// Run never lets a failure escape; every error becomes a frame on the sink.
type Translator interface {
	Name() string
	Run(ctx context.Context, body []byte, sink Sink)
}
