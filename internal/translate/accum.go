package translate

import (
	"strings"

	"github.com/SixerrAI/sixerr-plugin/internal/llm"
)

// accumEntry buffers one in-flight tool call while its argument text
// arrives in deltas.
type accumEntry struct {
	id    string
	name  string
	args  strings.Builder
	done  bool
	final llm.ToolCall
}

// toolCallAccumulator reconstructs tool calls from the capability's
// start/delta/end events. Indices are 0-based in first-seen order; deltas
// apply to the most recently started call, ends finalize the earliest
// unfinished one.
type toolCallAccumulator struct {
	entries []*accumEntry
}

// Start allocates the next index and returns it.
func (a *toolCallAccumulator) Start() int {
	a.entries = append(a.entries, &accumEntry{})
	return len(a.entries) - 1
}

// Delta appends argument text to the most recently started call. It
// reports the index written to, or false when no call is open.
func (a *toolCallAccumulator) Delta(s string) (int, bool) {
	for i := len(a.entries) - 1; i >= 0; i-- {
		if !a.entries[i].done {
			a.entries[i].args.WriteString(s)
			return i, true
		}
	}
	return 0, false
}

// End finalizes the earliest unfinished call. The buffered argument text is
// authoritative; the event's tool call supplies id, name, and arguments for
// backends that only report them at completion. Malformed argument JSON
// degrades to a raw-string wrapper.
func (a *toolCallAccumulator) End(ev *llm.ToolCall) (int, llm.ToolCall, bool) {
	for i, e := range a.entries {
		if e.done {
			continue
		}
		args := e.args.String()
		call := llm.ToolCall{}
		if ev != nil {
			call.ID = ev.ID
			call.Name = ev.Name
			if args == "" {
				args = ev.ArgumentsJSON
			}
		}
		call.ArgumentsJSON = args
		call.Arguments = llm.ParseArguments(args)
		e.done = true
		e.final = call
		return i, call, true
	}
	return 0, llm.ToolCall{}, false
}

// Completed returns the finalized calls in index order.
func (a *toolCallAccumulator) Completed() []llm.ToolCall {
	var out []llm.ToolCall
	for _, e := range a.entries {
		if e.done {
			out = append(out, e.final)
		}
	}
	return out
}
