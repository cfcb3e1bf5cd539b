package translate

import (
	"context"
	"fmt"
	"strings"

	"github.com/SixerrAI/sixerr-plugin/core/logx"
	"github.com/SixerrAI/sixerr-plugin/internal/ctrl"
	"github.com/SixerrAI/sixerr-plugin/internal/llm"
)

// dialectFramer supplies the dialect-specific wire framing for the shared
// streaming state machine. A nil frame means the dialect does not forward
// that event.
type dialectFramer interface {
	openFrames() []any
	textDeltaFrame(delta string) any
	toolCallStartFrame(index int) any
	toolCallDeltaFrame(index int, delta string) any
	toolCallEndFrame(index int, call llm.ToolCall) any
	finalizeFrames(finishReason, text string, calls []llm.ToolCall, usage llm.Usage) []any
	endUsage(u llm.Usage) ctrl.Usage
}

// runStream drives one streaming request: open frames, one forward pass over
// the capability's event sequence, finalize frames, and exactly one
// stream_end. Failures from the capability call become a plugin_error frame;
// the stream still finalizes so the dispatcher's slot is always released.
func runStream(ctx context.Context, client llm.Client, req llm.Request, sink Sink, fr dialectFramer) {
	for _, f := range fr.openFrames() {
		sink.StreamEvent(f)
	}

	var (
		acc   toolCallAccumulator
		text  strings.Builder
		usage llm.Usage
	)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("backend stream panic: %v", r)
			}
		}()
		return client.Stream(ctx, req, func(ev llm.Event) {
			switch ev.Type {
			case llm.EventTextDelta:
				text.WriteString(ev.Delta)
				if f := fr.textDeltaFrame(ev.Delta); f != nil {
					sink.StreamEvent(f)
				}
			case llm.EventToolCallStart:
				idx := acc.Start()
				if f := fr.toolCallStartFrame(idx); f != nil {
					sink.StreamEvent(f)
				}
			case llm.EventToolCallDelta:
				idx, ok := acc.Delta(ev.Delta)
				if !ok {
					logx.Log.Warn().Msg("tool-call delta with no open call; dropped")
					return
				}
				if f := fr.toolCallDeltaFrame(idx, ev.Delta); f != nil {
					sink.StreamEvent(f)
				}
			case llm.EventToolCallEnd:
				idx, call, ok := acc.End(ev.ToolCall)
				if !ok {
					logx.Log.Warn().Msg("tool-call end with no open call; dropped")
					return
				}
				if f := fr.toolCallEndFrame(idx, call); f != nil {
					sink.StreamEvent(f)
				}
			case llm.EventDone:
				if ev.Usage != nil {
					usage = *ev.Usage
				}
			case llm.EventError:
				if ev.Usage != nil {
					usage = *ev.Usage
				}
				sink.Error(ctrl.CodeBackendError, ev.ErrorMessage)
			}
		})
	}()
	if err != nil {
		sink.Error(ctrl.CodePluginError, err.Error())
	}

	completed := acc.Completed()
	finish := "stop"
	if len(completed) > 0 {
		finish = "tool_calls"
	}
	for _, f := range fr.finalizeFrames(finish, text.String(), completed, usage) {
		sink.StreamEvent(f)
	}
	sink.StreamEnd(fr.endUsage(usage))
}
