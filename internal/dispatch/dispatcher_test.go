package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/SixerrAI/sixerr-plugin/internal/ctrl"
	"github.com/SixerrAI/sixerr-plugin/internal/emit"
	"github.com/SixerrAI/sixerr-plugin/internal/translate"
)

type stubTranslator struct {
	name string
	run  func(ctx context.Context, body []byte, sink translate.Sink)
}

func (s stubTranslator) Name() string { return s.name }

func (s stubTranslator) Run(ctx context.Context, body []byte, sink translate.Sink) {
	s.run(ctx, body, sink)
}

// collectFrames drains the send channel into decoded envelopes until the
// timeout elapses with no traffic.
func collectFrames(t *testing.T, ch <-chan []byte, quiet time.Duration) []map[string]any {
	t.Helper()
	var out []map[string]any
	for {
		select {
		case b := <-ch:
			var m map[string]any
			if err := json.Unmarshal(b, &m); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			out = append(out, m)
		case <-time.After(quiet):
			return out
		}
	}
}

func TestDispatchDuplicateRequestID(t *testing.T) {
	release := make(chan struct{})
	chat := stubTranslator{name: "chat", run: func(ctx context.Context, body []byte, sink translate.Sink) {
		<-release
		sink.Response(map[string]any{"ok": true})
	}}
	d := New(chat, stubTranslator{name: "responses"}, time.Minute)

	ch := make(chan []byte, 64)
	out := emit.New(context.Background(), ch)
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)

	d.Dispatch(context.Background(), out, "r1", body)
	d.Dispatch(context.Background(), out, "r1", body)

	frames := collectFrames(t, ch, 100*time.Millisecond)
	if len(frames) != 1 {
		t.Fatalf("frames before release: %v", frames)
	}
	if frames[0]["type"] != "error" || frames[0]["code"] != "duplicate_request" || frames[0]["id"] != "r1" {
		t.Errorf("duplicate rejection: %v", frames[0])
	}

	// The original request is undisturbed and completes normally.
	close(release)
	frames = collectFrames(t, ch, 100*time.Millisecond)
	if len(frames) != 1 || frames[0]["type"] != "response" {
		t.Fatalf("original request frames: %v", frames)
	}
	if d.PendingCount() != 0 {
		t.Errorf("pending count: %d", d.PendingCount())
	}
}

func TestDispatchBadBody(t *testing.T) {
	d := New(stubTranslator{name: "chat"}, stubTranslator{name: "responses"}, time.Minute)
	ch := make(chan []byte, 8)
	out := emit.New(context.Background(), ch)

	d.Dispatch(context.Background(), out, "r1", []byte(`{"neither":true}`))
	frames := collectFrames(t, ch, 50*time.Millisecond)
	if len(frames) != 1 || frames[0]["code"] != "bad_request" {
		t.Fatalf("frames: %v", frames)
	}
	if d.PendingCount() != 0 {
		t.Errorf("pending count: %d", d.PendingCount())
	}
}

// A unit of work that ignores its cancellation signal is force-released
// after the grace period: exactly one error frame, and a late response
// must not produce a second terminal.
func TestDispatchTimeoutUnresponsiveWork(t *testing.T) {
	done := make(chan struct{})
	chat := stubTranslator{name: "chat", run: func(ctx context.Context, body []byte, sink translate.Sink) {
		// Deliberately ignores ctx.
		time.Sleep(300 * time.Millisecond)
		sink.Response(map[string]any{"late": true})
		close(done)
	}}
	d := New(chat, stubTranslator{name: "responses"}, 30*time.Millisecond)
	d.grace = 20 * time.Millisecond

	ch := make(chan []byte, 64)
	out := emit.New(context.Background(), ch)
	d.Dispatch(context.Background(), out, "r1", []byte(`{"messages":[{"role":"user","content":"hi"}]}`))

	<-done
	frames := collectFrames(t, ch, 100*time.Millisecond)
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %v", frames)
	}
	if frames[0]["type"] != "error" || frames[0]["code"] != "plugin_error" || frames[0]["message"] != "timed out" {
		t.Errorf("timeout frame: %v", frames[0])
	}
	if d.PendingCount() != 0 {
		t.Errorf("pending count: %d", d.PendingCount())
	}
}

// A request released by timeout frees its id for reuse.
func TestDispatchSlotReleasedAfterTimeout(t *testing.T) {
	first := true
	chat := stubTranslator{name: "chat", run: func(ctx context.Context, body []byte, sink translate.Sink) {
		if first {
			first = false
			<-ctx.Done()
			return
		}
		sink.Response(map[string]any{"ok": true})
	}}
	d := New(chat, stubTranslator{name: "responses"}, 20*time.Millisecond)
	d.grace = 20 * time.Millisecond

	ch := make(chan []byte, 64)
	out := emit.New(context.Background(), ch)
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)

	d.Dispatch(context.Background(), out, "r1", body)
	deadline := time.Now().Add(2 * time.Second)
	for d.PendingCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slot never released")
		}
		time.Sleep(5 * time.Millisecond)
	}

	d.Dispatch(context.Background(), out, "r1", body)
	frames := collectFrames(t, ch, 100*time.Millisecond)
	sawResponse := false
	for _, f := range frames {
		if f["type"] == "response" && f["id"] == "r1" {
			sawResponse = true
		}
		if f["code"] == "duplicate_request" {
			t.Errorf("reused id rejected: %v", f)
		}
	}
	if !sawResponse {
		t.Errorf("no response for reused id: %v", frames)
	}
}

// Whichever of the translator's terminal and the force-timeout error lands
// first wins; the other is dropped.
func TestSinkSingleTerminal(t *testing.T) {
	ch := make(chan []byte, 8)
	out := emit.New(context.Background(), ch)

	s := newRequestSink(out, "r1")
	s.Response(map[string]any{"ok": true})
	s.fail(ctrl.CodePluginError, "timed out")
	frames := collectFrames(t, ch, 50*time.Millisecond)
	if len(frames) != 1 || frames[0]["type"] != "response" {
		t.Fatalf("response then fail: %v", frames)
	}

	s = newRequestSink(out, "r2")
	s.fail(ctrl.CodePluginError, "timed out")
	s.Response(map[string]any{"late": true})
	frames = collectFrames(t, ch, 50*time.Millisecond)
	if len(frames) != 1 || frames[0]["type"] != "error" {
		t.Fatalf("fail then response: %v", frames)
	}

	s = newRequestSink(out, "r3")
	s.StreamEnd(ctrl.Usage{TotalTokens: 1})
	s.fail(ctrl.CodePluginError, "timed out")
	frames = collectFrames(t, ch, 50*time.Millisecond)
	if len(frames) != 1 || frames[0]["type"] != "stream_end" {
		t.Fatalf("stream_end then fail: %v", frames)
	}
}

func TestCancelAllSuppressesLateFrames(t *testing.T) {
	started := make(chan struct{})
	finish := make(chan struct{})
	chat := stubTranslator{name: "chat", run: func(ctx context.Context, body []byte, sink translate.Sink) {
		close(started)
		<-finish
		sink.Response(map[string]any{"late": true})
	}}
	d := New(chat, stubTranslator{name: "responses"}, time.Minute)

	ch := make(chan []byte, 64)
	out := emit.New(context.Background(), ch)
	d.Dispatch(context.Background(), out, "r1", []byte(`{"messages":[{"role":"user","content":"hi"}]}`))
	<-started
	d.CancelAll()
	close(finish)

	frames := collectFrames(t, ch, 100*time.Millisecond)
	if len(frames) != 0 {
		t.Errorf("late frames leaked: %v", frames)
	}
	if d.PendingCount() != 0 {
		t.Errorf("pending count: %d", d.PendingCount())
	}
}
