// Package anthropic provides a chat client for the Anthropic Messages API.
package anthropic

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

const (
	// BaseURL is the public API endpoint.
	BaseURL    = "https://api.anthropic.com/v1"
	apiVersion = "2023-06-01"
	// defaultMaxTokens is sent when the caller sets none; the API requires it.
	defaultMaxTokens = 1024
	maxErrorBody     = 512
)

// Client talks to the /messages endpoint.
type Client struct {
	baseURL    string
	key        func() string
	httpClient *http.Client
}

// NewClient creates a client. key is read on every call.
func NewClient(baseURL string, key func() string) *Client {
	if baseURL == "" {
		baseURL = BaseURL
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		key:        key,
		httpClient: &http.Client{},
	}
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
}

type response struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Chat performs one completion. System messages travel in the system field.
func (c *Client) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	system, rest := llm.SplitSystem(req.Messages)
	body := request{
		Model:       req.Model,
		MaxTokens:   req.Options.MaxTokens,
		System:      system,
		Messages:    make([]message, 0, len(rest)),
		Temperature: req.Options.Temperature,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	for _, m := range rest {
		body.Messages = append(body.Messages, message{Role: string(m.Role), Content: m.Content})
	}

	buf, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("anthropic-version", apiVersion)
	if c.key != nil {
		httpReq.Header.Set("x-api-key", c.key())
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if len(data) > maxErrorBody {
			data = data[:maxErrorBody]
		}
		return nil, fmt.Errorf("anthropic api error %d: %s", resp.StatusCode, data)
	}

	var out response
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if out.Error != nil {
		return nil, fmt.Errorf("anthropic api error: %s", out.Error.Message)
	}

	var text strings.Builder
	for _, part := range out.Content {
		if part.Type == "text" {
			text.WriteString(part.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("anthropic: no text in response")
	}

	return &llm.Response{
		Content: text.String(),
		Model:   out.Model,
		Usage: &llm.Usage{
			InputTokens:  out.Usage.InputTokens,
			OutputTokens: out.Usage.OutputTokens,
			TotalTokens:  out.Usage.InputTokens + out.Usage.OutputTokens,
		},
	}, nil
}
