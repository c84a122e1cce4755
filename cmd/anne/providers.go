package main

import (
	"github.com/spediresicuro/anne/internal/adapter/anthropic"
	"github.com/spediresicuro/anne/internal/adapter/gemini"
	"github.com/spediresicuro/anne/internal/adapter/openaicompat"
	"github.com/spediresicuro/anne/internal/config"
	"github.com/spediresicuro/anne/internal/domain/provider"
	"github.com/spediresicuro/anne/internal/port/llmclient"
	"github.com/spediresicuro/anne/internal/secrets"
)

// providerClients builds one client per known provider. Keys are read from
// the vault on every call so a SIGHUP reload takes effect immediately.
func providerClients(cfg config.Provider, vault *secrets.Vault) map[string]llmclient.Client {
	key := func(name string) func() string {
		credKey, ok := provider.CredentialKey(name)
		if !ok {
			return func() string { return "" }
		}
		return func() string { return vault.Get(credKey) }
	}
	baseURL := func(name, fallback string) string {
		if u := cfg.BaseURLs[name]; u != "" {
			return u
		}
		return fallback
	}

	return map[string]llmclient.Client{
		provider.Local:     openaicompat.NewClient(baseURL(provider.Local, cfg.LocalURL), nil),
		provider.OpenAI:    openaicompat.NewClient(baseURL(provider.OpenAI, openaicompat.OpenAIBaseURL), key(provider.OpenAI)),
		provider.DeepSeek:  openaicompat.NewClient(baseURL(provider.DeepSeek, openaicompat.DeepSeekBaseURL), key(provider.DeepSeek)),
		provider.Anthropic: anthropic.NewClient(baseURL(provider.Anthropic, anthropic.BaseURL), key(provider.Anthropic)),
		provider.Gemini:    gemini.NewClient(cfg.BaseURLs[provider.Gemini], key(provider.Gemini)),
	}
}
