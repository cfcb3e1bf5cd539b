package translate

import (
	"context"

	"github.com/SixerrAI/sixerr-plugin/internal/ctrl"
	"github.com/SixerrAI/sixerr-plugin/internal/llm"
	"github.com/SixerrAI/sixerr-plugin/internal/wallet"
)

// fakeClient replays a scripted event sequence or result.
type fakeClient struct {
	events []llm.Event
	err    error

	result      llm.Result
	completeErr error

	lastReq llm.Request
}

// panicClient blows up on Complete.
type panicClient struct {
	fakeClient
}

func (p *panicClient) Complete(ctx context.Context, req llm.Request) (llm.Result, error) {
	panic("backend exploded")
}

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (llm.Result, error) {
	f.lastReq = req
	return f.result, f.completeErr
}

func (f *fakeClient) Stream(ctx context.Context, req llm.Request, emit func(llm.Event)) error {
	f.lastReq = req
	for _, ev := range f.events {
		emit(ev)
	}
	return f.err
}

// captureSink records every frame in arrival order.
type captureSink struct {
	frames []capturedFrame
}

type capturedFrame struct {
	kind  string // "response", "event", "end", "error"
	body  any
	usage ctrl.Usage
	code  string
	msg   string
}

func (s *captureSink) Response(body any) {
	s.frames = append(s.frames, capturedFrame{kind: "response", body: body})
}

func (s *captureSink) StreamEvent(event any) {
	s.frames = append(s.frames, capturedFrame{kind: "event", body: event})
}

func (s *captureSink) StreamEnd(usage ctrl.Usage) {
	s.frames = append(s.frames, capturedFrame{kind: "end", usage: usage})
}

func (s *captureSink) Error(code, message string) {
	s.frames = append(s.frames, capturedFrame{kind: "error", code: code, msg: message})
}

func (s *captureSink) kinds() []string {
	var out []string
	for _, f := range s.frames {
		out = append(out, f.kind)
	}
	return out
}

func testCreds() wallet.CredentialSource {
	return &wallet.StaticCredentials{ProviderName: "test", Model: "test-model", Key: "test-key"}
}

// field walks nested map frames built by the framers.
func field(v any, path ...string) any {
	for _, p := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[p]
	}
	return v
}

func choiceDelta(frame any) map[string]any {
	choices, ok := field(frame, "choices").([]map[string]any)
	if !ok || len(choices) == 0 {
		return nil
	}
	d, _ := choices[0]["delta"].(map[string]any)
	return d
}

func choiceFinish(frame any) any {
	choices, ok := field(frame, "choices").([]map[string]any)
	if !ok || len(choices) == 0 {
		return nil
	}
	return choices[0]["finish_reason"]
}
