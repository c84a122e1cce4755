// Package openaicompat provides a chat client for OpenAI-compatible
// endpoints: OpenAI itself, DeepSeek and local servers such as Ollama.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/spediresicuro/anne/internal/domain/llm"
)

// Default endpoints.
const (
	OpenAIBaseURL   = "https://api.openai.com/v1"
	DeepSeekBaseURL = "https://api.deepseek.com/v1"
)

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 512

// KeyFunc returns the current API key. It is read on every call so rotated
// secrets apply without a restart. An empty key sends no Authorization header.
type KeyFunc func() string

// Client talks to the /chat/completions endpoint.
type Client struct {
	baseURL    string
	key        KeyFunc
	httpClient *http.Client
}

// NewClient creates a client. Timeouts come from the caller's context.
func NewClient(baseURL string, key KeyFunc) *Client {
	if key == nil {
		key = func() string { return "" }
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		httpClient: &http.Client{},
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []llm.Message   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Chat performs one completion.
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	body := chatRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Options.Temperature,
		MaxTokens:   req.Options.MaxTokens,
	}
	if req.Options.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	data, err := c.doRequest(ctx, http.MethodPost, "/chat/completions", body)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal completion: %w", err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("chat completion: no choices in response")
	}

	resp := &llm.Response{Content: out.Choices[0].Message.Content, Model: out.Model}
	if out.Usage != nil {
		resp.Usage = &llm.Usage{
			InputTokens:  out.Usage.PromptTokens,
			OutputTokens: out.Usage.CompletionTokens,
			TotalTokens:  out.Usage.TotalTokens,
		}
	}
	return resp, nil
}

// Health checks that the endpoint answers the model listing.
func (c *Client) Health(ctx context.Context) (bool, error) {
	_, err := c.doRequest(ctx, http.MethodGet, "/models", nil)
	return err == nil, err
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := c.key(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, &StatusError{Code: resp.StatusCode, Body: string(data)}
	}
	return data, nil
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Code, e.Body)
}
