package translate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SixerrAI/sixerr-plugin/internal/ctrl"
	"github.com/SixerrAI/sixerr-plugin/internal/llm"
	"github.com/SixerrAI/sixerr-plugin/internal/wallet"
)

// Chat-Completions dialect wire shapes.

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Tools    []chatTool    `json:"tools,omitempty"`
	Stream   bool          `json:"stream"`
}

type chatMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []chatToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type chatContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL struct {
		URL string `json:"url"`
	} `json:"image_url,omitempty"`
}

// ChatTranslator handles the Chat-Completions dialect.
type ChatTranslator struct {
	client llm.Client
	creds  wallet.CredentialSource
}

// NewChat creates the Chat-Completions translator.
func NewChat(client llm.Client, creds wallet.CredentialSource) *ChatTranslator {
	return &ChatTranslator{client: client, creds: creds}
}

func (t *ChatTranslator) Name() string { return "chat_completions" }

// chatContent splits a message content value into its text (parts joined by
// newline) and any inline data: URI images. Remote image URLs are dropped.
func chatContent(raw json.RawMessage) (string, []llm.ImagePart) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []chatContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", nil
	}
	var texts []string
	var images []llm.ImagePart
	for _, p := range parts {
		switch p.Type {
		case "text":
			texts = append(texts, p.Text)
		case "image_url":
			if img, ok := parseDataURI(p.ImageURL.URL); ok {
				images = append(images, img)
			}
		}
	}
	return strings.Join(texts, "\n"), images
}

// BuildConversation converts a Chat-Completions request body into the
// canonical conversation plus any extracted images.
func (t *ChatTranslator) BuildConversation(req chatRequest) (llm.Conversation, []llm.ImagePart) {
	var conv llm.Conversation
	var images []llm.ImagePart
	var system []string
	for _, m := range req.Messages {
		switch m.Role {
		case "system", "developer":
			text, _ := chatContent(m.Content)
			if text != "" {
				system = append(system, text)
			}
		case "user":
			text, imgs := chatContent(m.Content)
			images = append(images, imgs...)
			conv.Turns = append(conv.Turns, llm.Turn{Role: llm.RoleUser, Text: text})
		case "assistant":
			text, _ := chatContent(m.Content)
			turn := llm.Turn{Role: llm.RoleAssistant, Text: text}
			for _, tc := range m.ToolCalls {
				turn.ToolCalls = append(turn.ToolCalls, llm.ToolCall{
					ID:            tc.ID,
					Name:          tc.Function.Name,
					Arguments:     llm.ParseArguments(tc.Function.Arguments),
					ArgumentsJSON: tc.Function.Arguments,
				})
			}
			conv.Turns = append(conv.Turns, turn)
		case "tool":
			text, _ := chatContent(m.Content)
			conv.Turns = append(conv.Turns, llm.Turn{Role: llm.RoleToolResult, CallID: m.ToolCallID, Text: text})
		}
	}
	conv.System = strings.Join(system, "\n\n")
	for _, tool := range req.Tools {
		conv.Tools = append(conv.Tools, llm.ToolDef{
			Name:        tool.Function.Name,
			Description: tool.Function.Description,
			Parameters:  tool.Function.Parameters,
		})
	}
	ensureTurns(&conv)
	return conv, images
}

// Run parses the body and executes the request, streaming or not. A panic
// from the capability becomes a plugin_error frame; it never crosses this
// boundary.
func (t *ChatTranslator) Run(ctx context.Context, body []byte, sink Sink) {
	defer func() {
		if r := recover(); r != nil {
			sink.Error(ctrl.CodePluginError, fmt.Sprintf("request panic: %v", r))
		}
	}()
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		sink.Error(ctrl.CodeBadRequest, fmt.Sprintf("parse chat request: %v", err))
		return
	}
	conv, images := t.BuildConversation(req)
	key, err := t.creds.APIKey(ctx)
	if err != nil {
		sink.Error(ctrl.CodePluginError, fmt.Sprintf("obtain api key: %v", err))
		return
	}
	llmReq := llm.Request{Model: t.creds.ModelID(), Conversation: conv, Images: images, APIKey: key}
	if req.Stream {
		runStream(ctx, t.client, llmReq, sink, newChatFramer(req.Model))
		return
	}
	t.runNonStreaming(ctx, llmReq, req.Model, sink)
}

func (t *ChatTranslator) runNonStreaming(ctx context.Context, req llm.Request, model string, sink Sink) {
	res, err := t.client.Complete(ctx, req)
	if err != nil {
		sink.Error(ctrl.CodeBackendError, err.Error())
		return
	}
	finish := "stop"
	switch {
	case len(res.ToolCalls) > 0:
		finish = "tool_calls"
	case res.Truncated:
		finish = "length"
	}
	msg := map[string]any{"role": "assistant", "content": res.Text}
	if calls := encodeChatToolCalls(res.ToolCalls); calls != nil {
		msg["tool_calls"] = calls
	}
	sink.Response(map[string]any{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []map[string]any{{
			"index":         0,
			"message":       msg,
			"finish_reason": finish,
		}},
		"usage": map[string]any{
			"prompt_tokens":     res.Usage.InputTokens,
			"completion_tokens": res.Usage.OutputTokens,
			"total_tokens":      res.Usage.TotalTokens,
		},
	})
}

func encodeChatToolCalls(calls []llm.ToolCall) []map[string]any {
	if len(calls) == 0 {
		return nil
	}
	out := make([]map[string]any, 0, len(calls))
	for _, tc := range calls {
		out = append(out, map[string]any{
			"id":   tc.ID,
			"type": "function",
			"function": map[string]any{
				"name":      tc.Name,
				"arguments": tc.ArgumentsJSON,
			},
		})
	}
	return out
}

// chatFramer frames the shared streaming machine as chat.completion.chunk
// events.
type chatFramer struct {
	streamID string
	model    string
	created  int64
}

func newChatFramer(model string) *chatFramer {
	return &chatFramer{streamID: "chatcmpl-" + uuid.NewString(), model: model, created: time.Now().Unix()}
}

func (f *chatFramer) chunk(delta map[string]any, finish any) map[string]any {
	return map[string]any{
		"id":      f.streamID,
		"object":  "chat.completion.chunk",
		"created": f.created,
		"model":   f.model,
		"choices": []map[string]any{{
			"index":         0,
			"delta":         delta,
			"finish_reason": finish,
		}},
	}
}

func (f *chatFramer) openFrames() []any {
	return []any{f.chunk(map[string]any{"role": "assistant"}, nil)}
}

func (f *chatFramer) textDeltaFrame(delta string) any {
	return f.chunk(map[string]any{"content": delta}, nil)
}

func (f *chatFramer) toolCallStartFrame(index int) any {
	return f.chunk(map[string]any{"tool_calls": []map[string]any{{
		"index":    index,
		"id":       "",
		"type":     "function",
		"function": map[string]any{"name": "", "arguments": ""},
	}}}, nil)
}

func (f *chatFramer) toolCallDeltaFrame(index int, delta string) any {
	return f.chunk(map[string]any{"tool_calls": []map[string]any{{
		"index":    index,
		"function": map[string]any{"arguments": delta},
	}}}, nil)
}

func (f *chatFramer) toolCallEndFrame(index int, call llm.ToolCall) any {
	return f.chunk(map[string]any{"tool_calls": []map[string]any{{
		"index":    index,
		"id":       call.ID,
		"type":     "function",
		"function": map[string]any{"name": call.Name, "arguments": call.ArgumentsJSON},
	}}}, nil)
}

func (f *chatFramer) finalizeFrames(finishReason, text string, calls []llm.ToolCall, usage llm.Usage) []any {
	return []any{f.chunk(map[string]any{}, finishReason)}
}

func (f *chatFramer) endUsage(u llm.Usage) ctrl.Usage {
	return ctrl.Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
}
