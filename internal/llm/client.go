// Package llm talks to an OpenAI-compatible chat-completions endpoint and
// provides the keyword fallback used when the model is unavailable or its
// output is unparseable.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"aria/internal/resilience"
)

// CompletionRequest carries one turn's model input: system instructions, the
// serialized ContextBundle and the user message.
type CompletionRequest struct {
	System  string
	Context string
	Message string
}

// Classification is the structured intent/entities block the model may
// return alongside its reply.
type Classification struct {
	Intent   string            `json:"intent"`
	Entities map[string]string `json:"entities,omitempty"`
	Salience float64           `json:"salience,omitempty"` // 0..1, how memory-worthy the turn is
	Memory   string            `json:"memory,omitempty"`   // durable fact worth storing, if any
}

// CompletionResult is the parsed model response. Classification is nil when
// the model produced free text only.
type CompletionResult struct {
	Text           string
	Classification *Classification
}

// Client calls an OpenAI-compatible /chat/completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewClient creates a chat-completions client. The HTTP timeout is a safety
// net; per-call deadlines come from the resilience wrapper's context.
func NewClient(baseURL, apiKey, model string) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// structured response envelope the model is instructed to emit
type modelEnvelope struct {
	Reply    string            `json:"reply"`
	Intent   string            `json:"intent"`
	Entities map[string]string `json:"entities"`
	Salience float64           `json:"salience"`
	Memory   string            `json:"memory"`
}

// Complete sends one turn to the model and parses the reply. Transport and
// server failures come back wrapped in the resilience taxonomy so the caller
// can retry or short-circuit correctly.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	system := req.System
	if req.Context != "" {
		system = system + "\n\n# User Context\n\n" + req.Context
	}

	body := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": req.Message},
		},
		"temperature": 0.4,
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, resilience.Permanentf("llm request encode", err)
	}

	apiURL := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, resilience.Permanentf("llm request build", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, resilience.Transientf("llm request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resilience.Transientf("llm response read", err)
	}

	if resp.StatusCode != http.StatusOK {
		apiErr := fmt.Errorf("API error %d: %s", resp.StatusCode, truncate(string(respBody), 500))
		if resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusRequestTimeout ||
			resp.StatusCode >= 500 {
			return nil, resilience.Transientf("llm call", apiErr)
		}
		return nil, resilience.Permanentf("llm call", apiErr)
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &completion); err != nil {
		return nil, resilience.Transientf("llm response parse", err)
	}
	if len(completion.Choices) == 0 {
		return nil, resilience.Transientf("llm response", fmt.Errorf("no choices returned"))
	}

	return ParseModelOutput(completion.Choices[0].Message.Content), nil
}

// ParseModelOutput extracts the structured envelope from raw model output.
// Models wrap JSON in code fences or prepend prose often enough that this
// has to be forgiving; anything unparseable degrades to plain text.
func ParseModelOutput(content string) *CompletionResult {
	raw := strings.TrimSpace(content)
	candidate := raw

	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```")
		if idx := strings.LastIndex(candidate, "```"); idx >= 0 {
			candidate = candidate[:idx]
		}
		candidate = strings.TrimSpace(candidate)
	}

	if start := strings.Index(candidate, "{"); start >= 0 {
		if end := strings.LastIndex(candidate, "}"); end > start {
			var envelope modelEnvelope
			if err := json.Unmarshal([]byte(candidate[start:end+1]), &envelope); err == nil && (envelope.Reply != "" || envelope.Intent != "") {
				result := &CompletionResult{Text: envelope.Reply}
				if envelope.Intent != "" {
					result.Classification = &Classification{
						Intent:   envelope.Intent,
						Entities: envelope.Entities,
						Salience: envelope.Salience,
						Memory:   envelope.Memory,
					}
				}
				return result
			}
		}
	}

	return &CompletionResult{Text: raw}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
