package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
)

// OpenAIClient talks to an OpenAI-compatible chat completions backend.
type OpenAIClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIClient creates a client for the given base URL
// (e.g. http://127.0.0.1:11434/v1).
func NewOpenAIClient(base string) *OpenAIClient {
	return &OpenAIClient{baseURL: strings.TrimSuffix(base, "/"), httpClient: &http.Client{}}
}

type wireToolCall struct {
	Index    *int   `json:"index,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (u wireUsage) toUsage() Usage {
	return Usage{InputTokens: u.PromptTokens, OutputTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
}

func (c *OpenAIClient) buildPayload(req Request, stream bool) map[string]any {
	var msgs []map[string]any
	if req.Conversation.System != "" {
		msgs = append(msgs, map[string]any{"role": "system", "content": req.Conversation.System})
	}
	lastUser := -1
	for i, t := range req.Conversation.Turns {
		if t.Role == RoleUser {
			lastUser = i
		}
	}
	for i, t := range req.Conversation.Turns {
		switch t.Role {
		case RoleUser:
			if i == lastUser && len(req.Images) > 0 {
				parts := []map[string]any{}
				if t.Text != "" {
					parts = append(parts, map[string]any{"type": "text", "text": t.Text})
				}
				for _, img := range req.Images {
					uri := "data:" + img.MediaType + ";base64," + img.Data
					parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": uri}})
				}
				msgs = append(msgs, map[string]any{"role": "user", "content": parts})
			} else {
				msgs = append(msgs, map[string]any{"role": "user", "content": t.Text})
			}
		case RoleAssistant:
			m := map[string]any{"role": "assistant"}
			if t.Text != "" {
				m["content"] = t.Text
			}
			if len(t.ToolCalls) > 0 {
				var calls []map[string]any
				for _, tc := range t.ToolCalls {
					calls = append(calls, map[string]any{
						"id":   tc.ID,
						"type": "function",
						"function": map[string]any{
							"name":      tc.Name,
							"arguments": tc.ArgumentsJSON,
						},
					})
				}
				m["tool_calls"] = calls
			}
			msgs = append(msgs, m)
		case RoleToolResult:
			msgs = append(msgs, map[string]any{"role": "tool", "tool_call_id": t.CallID, "content": t.Text})
		}
	}
	payload := map[string]any{"model": req.Model, "messages": msgs, "stream": stream}
	if stream {
		payload["stream_options"] = map[string]any{"include_usage": true}
	}
	if len(req.Conversation.Tools) > 0 {
		var tools []map[string]any
		for _, td := range req.Conversation.Tools {
			fn := map[string]any{"name": td.Name}
			if td.Description != "" {
				fn["description"] = td.Description
			}
			if len(td.Parameters) > 0 {
				fn["parameters"] = td.Parameters
			}
			tools = append(tools, map[string]any{"type": "function", "function": fn})
		}
		payload["tools"] = tools
	}
	return payload
}

func (c *OpenAIClient) post(ctx context.Context, req Request, stream bool) (*http.Response, error) {
	b, err := json.Marshal(c.buildPayload(req, stream))
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("backend returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

// Health checks that the backend answers its models endpoint.
func (c *OpenAIClient) Health(ctx context.Context, apiKey string) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend returned %d", resp.StatusCode)
	}
	return nil
}

// Complete runs a single-shot completion.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (Result, error) {
	resp, err := c.post(ctx, req, false)
	if err != nil {
		return Result{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	var out struct {
		Choices []struct {
			Message struct {
				Content   string         `json:"content"`
				ToolCalls []wireToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *wireUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Result{}, fmt.Errorf("decode completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return Result{}, fmt.Errorf("backend returned no choices")
	}
	ch := out.Choices[0]
	res := Result{Text: ch.Message.Content, Truncated: ch.FinishReason == "length"}
	for _, tc := range ch.Message.ToolCalls {
		res.ToolCalls = append(res.ToolCalls, ToolCall{
			ID:            tc.ID,
			Name:          tc.Function.Name,
			Arguments:     ParseArguments(tc.Function.Arguments),
			ArgumentsJSON: tc.Function.Arguments,
		})
	}
	if out.Usage != nil {
		res.Usage = out.Usage.toUsage()
	}
	return res, nil
}

// pendingCall buffers one streamed tool call until the backend stops
// appending to it.
type pendingCall struct {
	id   string
	name string
	args strings.Builder
}

// Stream runs a streaming completion, translating backend chunks into typed
// events. OpenAI-style backends never signal the end of a tool call
// explicitly, so calls are finalized when the stream finishes.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, emit func(Event)) error {
	resp, err := c.post(ctx, req, true)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	calls := map[int]*pendingCall{}
	var order []int
	var lastUsage *Usage
	finishCalls := func() {
		sort.Ints(order)
		for _, idx := range order {
			pc := calls[idx]
			args := pc.args.String()
			emit(Event{Type: EventToolCallEnd, ToolCall: &ToolCall{
				ID:            pc.id,
				Name:          pc.name,
				Arguments:     ParseArguments(args),
				ArgumentsJSON: args,
			}})
		}
		order = nil
		calls = map[int]*pendingCall{}
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content   string         `json:"content"`
					ToolCalls []wireToolCall `json:"tool_calls"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage *wireUsage `json:"usage"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}
		if chunk.Error != nil {
			ev := Event{Type: EventError, ErrorMessage: chunk.Error.Message}
			if chunk.Usage != nil {
				u := chunk.Usage.toUsage()
				ev.Usage = &u
			}
			emit(ev)
			return nil
		}
		if chunk.Usage != nil {
			u := chunk.Usage.toUsage()
			lastUsage = &u
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		d := chunk.Choices[0].Delta
		if d.Content != "" {
			emit(Event{Type: EventTextDelta, Delta: d.Content})
		}
		for _, tc := range d.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			pc, ok := calls[idx]
			if !ok {
				// A new index means the backend is done appending to the
				// previous calls.
				finishCalls()
				pc = &pendingCall{}
				calls[idx] = pc
				order = append(order, idx)
				emit(Event{Type: EventToolCallStart})
			}
			if tc.ID != "" {
				pc.id = tc.ID
			}
			if tc.Function.Name != "" {
				pc.name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				pc.args.WriteString(tc.Function.Arguments)
				emit(Event{Type: EventToolCallDelta, Delta: tc.Function.Arguments})
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	finishCalls()
	emit(Event{Type: EventDone, Usage: lastUsage})
	return nil
}
