package llm

import "context"

// Usage reports cumulative token counts. The backend reports totals, not
// increments; the last value observed wins.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// EventType tags one entry of a streamed completion.
type EventType string

const (
	EventTextDelta     EventType = "text_delta"
	EventToolCallStart EventType = "toolcall_start"
	EventToolCallDelta EventType = "toolcall_delta"
	EventToolCallEnd   EventType = "toolcall_end"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Event is one element of the finite, non-restartable event sequence a
// streaming completion produces. Fields are populated per type:
// Delta for text_delta/toolcall_delta, ToolCall for toolcall_end,
// Usage for done and (optionally) error, ErrorMessage for error.
type Event struct {
	Type         EventType
	Delta        string
	ToolCall     *ToolCall
	Usage        *Usage
	ErrorMessage string
}

// Result is the outcome of a single-shot completion.
type Result struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
	// Truncated reports a length-limited stop.
	Truncated bool
}

// Request is one unit of inference work.
type Request struct {
	Model        string
	Conversation Conversation
	Images       []ImagePart
	APIKey       string
}

// Client executes canonical conversations against an LLM backend.
// Implementations must observe ctx cancellation promptly; the dispatcher's
// timeout is authoritative regardless.
type Client interface {
	// Complete runs the request to completion and returns the final content.
	Complete(ctx context.Context, req Request) (Result, error)
	// Stream runs the request and emits events in order on a single
	// goroutine. The sequence ends with done or error; emit is never called
	// after Stream returns.
	Stream(ctx context.Context, req Request, emit func(Event)) error
}
