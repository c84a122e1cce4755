// Package gemini provides a chat client for Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/spediresicuro/anne/internal/domain/llm"
)

// Client adapts genai to llmclient.Client. The SDK client is bound to one
// API key, so it is built lazily and rebuilt when the key rotates.
type Client struct {
	baseURL string
	key     func() string

	mu      sync.Mutex
	client  *genai.Client
	boundTo string
}

// NewClient creates a client. baseURL overrides the public endpoint when set.
func NewClient(baseURL string, key func() string) *Client {
	return &Client{baseURL: baseURL, key: key}
}

func (c *Client) sdk(ctx context.Context) (*genai.Client, error) {
	key := ""
	if c.key != nil {
		key = c.key()
	}
	if key == "" {
		return nil, errors.New("gemini: API key is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.client != nil && c.boundTo == key {
		return c.client, nil
	}
	cfg := &genai.ClientConfig{APIKey: key, Backend: genai.BackendGeminiAPI}
	if c.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	c.client, c.boundTo = client, key
	return client, nil
}

// Chat performs one completion.
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	client, err := c.sdk(ctx)
	if err != nil {
		return nil, err
	}

	system, rest := llm.SplitSystem(req.Messages)
	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := genai.Role(genai.RoleUser)
		if m.Role == llm.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if t := req.Options.Temperature; t != nil {
		cfg.Temperature = genai.Ptr(float32(*t))
	}
	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens) //nolint:gosec // bounded by caller options
	}
	if req.Options.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := client.Models.GenerateContent(ctx, req.Model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return nil, errors.New("gemini: no text in response")
	}

	out := &llm.Response{Content: text, Model: resp.ModelVersion}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = &llm.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return out, nil
}
