package llm

import "encoding/json"

// Role identifies who produced a conversation turn.
type Role string

const (
	RoleUser       Role = "user"
	RoleAssistant  Role = "assistant"
	RoleToolResult Role = "tool_result"
)

// ToolCall is one tool invocation requested by the model. Arguments holds
// the parsed JSON value; ArgumentsJSON keeps the exact text the backend
// produced so dialect encoders can round-trip it.
type ToolCall struct {
	ID            string
	Name          string
	Arguments     any
	ArgumentsJSON string
}

// ToolDef describes a tool the model may call. Parameters is a JSON Schema
// value passed through untouched.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Turn is one entry in a canonical conversation.
// User and assistant turns carry Text; assistant turns may also carry
// ToolCalls. Tool-result turns carry the CallID they answer.
type Turn struct {
	Role      Role
	Text      string
	ToolCalls []ToolCall
	CallID    string
}

// ImagePart is an inline image extracted from a request body.
type ImagePart struct {
	MediaType string
	Data      string // base64 payload, no data: prefix
}

// Conversation is the dialect-independent turn sequence handed to the LLM
// capability. Callers must guarantee at least one turn; translators repair
// empty conversations by inserting an empty user turn.
type Conversation struct {
	System string
	Turns  []Turn
	Tools  []ToolDef
}

// ParseArguments parses a tool-call argument string as JSON. Malformed
// argument text degrades to a raw-string wrapper instead of failing the
// request.
func ParseArguments(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return map[string]any{"_raw": raw}
	}
	return v
}
