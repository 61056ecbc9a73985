// Package aipipe is the background enrichment pipeline: after an entry is
// captured it gets a grammar pass on its notes, a type-routed AI summary,
// and an entity/topics/people classification, each patched back into the
// store independently.
//
// The pipeline is fire-and-forget. Capture never waits on it, a failed
// step is logged and skipped with no retry, and a missing API key
// disables it entirely. The entry simply stays unclassified.
package aipipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hazyhaar/grimoire/safeio"
)

// DefaultBaseURL is the OpenAI API root.
const DefaultBaseURL = "https://api.openai.com/v1"

// Default models; vision summaries need the larger one.
const (
	DefaultModel       = "gpt-5-nano"
	DefaultVisionModel = "gpt-5"
)

// LLM is the completion surface the pipeline depends on. *Client is the
// production implementation; tests substitute stubs.
type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteVision(ctx context.Context, prompt, imageDataURL string) (string, error)
}

// Client calls the OpenAI Responses API.
type Client struct {
	apiKey      string
	model       string
	visionModel string
	baseURL     string
	httpClient  *http.Client
}

// ClientOption customises the client.
type ClientOption func(*Client)

// WithModel overrides the text model.
func WithModel(m string) ClientOption {
	return func(c *Client) {
		if m != "" {
			c.model = m
		}
	}
}

// WithVisionModel overrides the vision model.
func WithVisionModel(m string) ClientOption {
	return func(c *Client) {
		if m != "" {
			c.visionModel = m
		}
	}
}

// WithBaseURL overrides the API root (tests).
func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(u, "/") }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Responses API client.
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:      apiKey,
		model:       DefaultModel,
		visionModel: DefaultVisionModel,
		baseURL:     DefaultBaseURL,
		httpClient:  &http.Client{Timeout: 90 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Complete sends a text prompt and returns the model's output text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	return c.respond(ctx, map[string]any{
		"model": c.model,
		"input": prompt,
	})
}

// CompleteVision sends a prompt plus an image (data: URL or https URL).
func (c *Client) CompleteVision(ctx context.Context, prompt, imageDataURL string) (string, error) {
	return c.respond(ctx, map[string]any{
		"model": c.visionModel,
		"input": []map[string]any{{
			"role": "user",
			"content": []map[string]any{
				{"type": "input_text", "text": prompt},
				{"type": "input_image", "image_url": imageDataURL},
			},
		}},
	})
}

// responsesReply is the subset of the Responses API payload we read:
// output items of type "message" carry content parts of type
// "output_text".
type responsesReply struct {
	Output []struct {
		Type    string `json:"type"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) respond(ctx context.Context, payload map[string]any) (string, error) {
	if c.apiKey == "" {
		return "", fmt.Errorf("aipipe: no API key configured")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("aipipe: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/responses", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("aipipe: new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("aipipe: post: %w", err)
	}
	defer resp.Body.Close()

	data, err := safeio.LimitedReadAll(resp.Body, safeio.MaxResponseBody)
	if err != nil {
		return "", fmt.Errorf("aipipe: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("aipipe: http %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var reply responsesReply
	if err := json.Unmarshal(data, &reply); err != nil {
		return "", fmt.Errorf("aipipe: parse response: %w", err)
	}
	if reply.Error != nil {
		return "", fmt.Errorf("aipipe: api error: %s", reply.Error.Message)
	}

	var sb strings.Builder
	for _, item := range reply.Output {
		if item.Type != "message" {
			continue
		}
		for _, part := range item.Content {
			if part.Type == "output_text" {
				sb.WriteString(part.Text)
			}
		}
	}
	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", fmt.Errorf("aipipe: empty response")
	}
	return out, nil
}

// StripFences removes a surrounding markdown code fence from a model
// reply, so JSON answers wrapped in ```json blocks still parse.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		// Drop the language tag line.
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
