package ctrl

import "encoding/json"

// ProtocolVersion is the broker control-protocol version this plugin speaks.
// It is sent in the auth frame and echoed back in auth_ok.
const ProtocolVersion = 1

// Inbound frames (broker -> plugin).

type RequestFrame struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

type PingFrame struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

type AuthOKFrame struct {
	Type     string `json:"type"`
	PluginID string `json:"pluginId"`
	Protocol int    `json:"protocol"`
}

type AuthErrorFrame struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type JWTRefreshFrame struct {
	Type string `json:"type"`
	JWT  string `json:"jwt"`
}

// UnrecognizedFrame carries any inbound frame whose type is unknown. The
// session logs and drops it; it must never tear the connection down.
type UnrecognizedFrame struct {
	Type string
	Raw  json.RawMessage
}

// Outbound frames (plugin -> broker).

type AuthFrame struct {
	Type     string `json:"type"`
	JWT      string `json:"jwt"`
	Protocol int    `json:"protocol"`
}

type PongFrame struct {
	Type string `json:"type"`
	TS   int64  `json:"ts"`
}

type ResponseFrame struct {
	Type string          `json:"type"`
	ID   string          `json:"id"`
	Body json.RawMessage `json:"body"`
}

type StreamEventFrame struct {
	Type  string          `json:"type"`
	ID    string          `json:"id"`
	Event json.RawMessage `json:"event"`
}

type StreamEndFrame struct {
	Type  string `json:"type"`
	ID    string `json:"id"`
	Usage Usage  `json:"usage"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Usage reports token counts on a terminal stream_end frame. Field naming
// follows the request's dialect: the Chat-Completions dialect fills
// prompt/completion tokens, the Responses dialect fills input/output tokens.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	InputTokens      int `json:"input_tokens,omitempty"`
	OutputTokens     int `json:"output_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens"`
}

// Request-scoped error codes.
const (
	CodeDuplicateRequest = "duplicate_request"
	CodeBadRequest       = "bad_request"
	CodeBackendError     = "backend_error"
	CodePluginError      = "plugin_error"
)
