// Package llmclient defines the port for language-model provider backends.
package llmclient

import (
	"context"

	"github.com/spediresicuro/anne/internal/domain/llm"
)

// Client performs one chat completion against a single provider.
// Implementations must not retry; the caller owns timeouts.
type Client interface {
	Chat(ctx context.Context, req llm.Request) (*llm.Response, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req llm.Request) (*llm.Response, error)

// Chat calls f.
func (f ClientFunc) Chat(ctx context.Context, req llm.Request) (*llm.Response, error) {
	return f(ctx, req)
}
