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

// Responses dialect wire shapes.

type responsesRequest struct {
	Model  string          `json:"model"`
	Input  json.RawMessage `json:"input"`
	Stream bool            `json:"stream"`
}

type responsesItem struct {
	Type    string          `json:"type"`
	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
	CallID  string          `json:"call_id,omitempty"`
	Name    string          `json:"name,omitempty"`
	// Arguments of a replayed function_call item; Output of a
	// function_call_output item.
	Arguments string `json:"arguments,omitempty"`
	Output    string `json:"output,omitempty"`
}

type responsesContentPart struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ResponsesTranslator handles the Responses dialect. Its streaming path is
// text-only: tool-call events update bookkeeping but are not forwarded as
// frames.
type ResponsesTranslator struct {
	client llm.Client
	creds  wallet.CredentialSource
}

// NewResponses creates the Responses translator.
func NewResponses(client llm.Client, creds wallet.CredentialSource) *ResponsesTranslator {
	return &ResponsesTranslator{client: client, creds: creds}
}

func (t *ResponsesTranslator) Name() string { return "responses" }

func responsesContent(raw json.RawMessage) (string, []llm.ImagePart) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []responsesContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", nil
	}
	var texts []string
	var images []llm.ImagePart
	for _, p := range parts {
		switch p.Type {
		case "input_text", "output_text", "text":
			texts = append(texts, p.Text)
		case "input_image":
			if img, ok := parseDataURI(p.ImageURL); ok {
				images = append(images, img)
			}
		}
	}
	return strings.Join(texts, "\n"), images
}

// BuildConversation converts a Responses request input into the canonical
// conversation. A bare string becomes one user turn; reasoning items are
// ignored; an empty result is repaired with an empty user turn.
func (t *ResponsesTranslator) BuildConversation(req responsesRequest) (llm.Conversation, []llm.ImagePart) {
	var conv llm.Conversation
	var images []llm.ImagePart

	var s string
	if err := json.Unmarshal(req.Input, &s); err == nil {
		conv.Turns = append(conv.Turns, llm.Turn{Role: llm.RoleUser, Text: s})
		ensureTurns(&conv)
		return conv, nil
	}

	var items []responsesItem
	if err := json.Unmarshal(req.Input, &items); err != nil {
		ensureTurns(&conv)
		return conv, nil
	}
	var system []string
	for _, it := range items {
		switch it.Type {
		case "message", "":
			text, imgs := responsesContent(it.Content)
			switch it.Role {
			case "system", "developer":
				if text != "" {
					system = append(system, text)
				}
			case "user":
				images = append(images, imgs...)
				conv.Turns = append(conv.Turns, llm.Turn{Role: llm.RoleUser, Text: text})
			case "assistant":
				conv.Turns = append(conv.Turns, llm.Turn{Role: llm.RoleAssistant, Text: text})
			}
		case "function_call":
			conv.Turns = append(conv.Turns, llm.Turn{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{
				ID:            it.CallID,
				Name:          it.Name,
				Arguments:     llm.ParseArguments(it.Arguments),
				ArgumentsJSON: it.Arguments,
			}}})
		case "function_call_output":
			conv.Turns = append(conv.Turns, llm.Turn{Role: llm.RoleToolResult, CallID: it.CallID, Text: it.Output})
		case "reasoning":
			// Replayed reasoning traces carry no turn content.
		}
	}
	conv.System = strings.Join(system, "\n\n")
	ensureTurns(&conv)
	return conv, images
}

// Run parses the body and executes the request, streaming or not. A panic
// from the capability becomes a plugin_error frame; it never crosses this
// boundary.
func (t *ResponsesTranslator) Run(ctx context.Context, body []byte, sink Sink) {
	defer func() {
		if r := recover(); r != nil {
			sink.Error(ctrl.CodePluginError, fmt.Sprintf("request panic: %v", r))
		}
	}()
	var req responsesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		sink.Error(ctrl.CodeBadRequest, fmt.Sprintf("parse responses request: %v", err))
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
		runStream(ctx, t.client, llmReq, sink, newResponsesFramer(req.Model))
		return
	}
	t.runNonStreaming(ctx, llmReq, req.Model, sink)
}

func (t *ResponsesTranslator) runNonStreaming(ctx context.Context, req llm.Request, model string, sink Sink) {
	res, err := t.client.Complete(ctx, req)
	if err != nil {
		sink.Error(ctrl.CodeBackendError, err.Error())
		return
	}
	output := []map[string]any{{
		"id":     "msg_" + uuid.NewString(),
		"type":   "message",
		"role":   "assistant",
		"status": "completed",
		"content": []map[string]any{{
			"type": "output_text",
			"text": res.Text,
		}},
	}}
	for _, tc := range res.ToolCalls {
		output = append(output, map[string]any{
			"id":        "fc_" + uuid.NewString(),
			"type":      "function_call",
			"status":    "completed",
			"call_id":   tc.ID,
			"name":      tc.Name,
			"arguments": tc.ArgumentsJSON,
		})
	}
	body := map[string]any{
		"id":         "resp_" + uuid.NewString(),
		"object":     "response",
		"created_at": time.Now().Unix(),
		"model":      model,
		"status":     "completed",
		"output":     output,
		"usage": map[string]any{
			"input_tokens":  res.Usage.InputTokens,
			"output_tokens": res.Usage.OutputTokens,
			"total_tokens":  res.Usage.TotalTokens,
		},
	}
	if res.Truncated && len(res.ToolCalls) == 0 {
		body["status"] = "incomplete"
		body["incomplete_details"] = map[string]any{"reason": "max_output_tokens"}
	}
	sink.Response(body)
}

// responsesFramer frames the shared streaming machine as Responses API
// events. Tool-call frames are intentionally absent: the Responses stream
// is text-only in this system.
type responsesFramer struct {
	respID  string
	itemID  string
	model   string
	created int64
}

func newResponsesFramer(model string) *responsesFramer {
	return &responsesFramer{
		respID:  "resp_" + uuid.NewString(),
		itemID:  "msg_" + uuid.NewString(),
		model:   model,
		created: time.Now().Unix(),
	}
}

func (f *responsesFramer) openFrames() []any {
	return []any{
		map[string]any{
			"type": "response.created",
			"response": map[string]any{
				"id":         f.respID,
				"object":     "response",
				"created_at": f.created,
				"model":      f.model,
				"status":     "in_progress",
			},
		},
		map[string]any{
			"type":         "response.output_item.added",
			"output_index": 0,
			"item": map[string]any{
				"id":     f.itemID,
				"type":   "message",
				"role":   "assistant",
				"status": "in_progress",
			},
		},
		map[string]any{
			"type":          "response.content_part.added",
			"item_id":       f.itemID,
			"output_index":  0,
			"content_index": 0,
			"part":          map[string]any{"type": "output_text", "text": ""},
		},
	}
}

func (f *responsesFramer) textDeltaFrame(delta string) any {
	return map[string]any{
		"type":          "response.output_text.delta",
		"item_id":       f.itemID,
		"output_index":  0,
		"content_index": 0,
		"delta":         delta,
	}
}

func (f *responsesFramer) toolCallStartFrame(index int) any { return nil }

func (f *responsesFramer) toolCallDeltaFrame(index int, delta string) any { return nil }

func (f *responsesFramer) toolCallEndFrame(index int, call llm.ToolCall) any { return nil }

func (f *responsesFramer) finalizeFrames(finishReason, text string, calls []llm.ToolCall, usage llm.Usage) []any {
	return []any{
		map[string]any{
			"type":          "response.output_text.done",
			"item_id":       f.itemID,
			"output_index":  0,
			"content_index": 0,
			"text":          text,
		},
		map[string]any{
			"type": "response.completed",
			"response": map[string]any{
				"id":         f.respID,
				"object":     "response",
				"created_at": f.created,
				"model":      f.model,
				"status":     "completed",
				"output": []map[string]any{{
					"id":     f.itemID,
					"type":   "message",
					"role":   "assistant",
					"status": "completed",
					"content": []map[string]any{{
						"type": "output_text",
						"text": text,
					}},
				}},
				"usage": map[string]any{
					"input_tokens":  usage.InputTokens,
					"output_tokens": usage.OutputTokens,
					"total_tokens":  usage.TotalTokens,
				},
			},
		},
	}
}

func (f *responsesFramer) endUsage(u llm.Usage) ctrl.Usage {
	return ctrl.Usage{
		InputTokens:  u.InputTokens,
		OutputTokens: u.OutputTokens,
		TotalTokens:  u.TotalTokens,
	}
}
