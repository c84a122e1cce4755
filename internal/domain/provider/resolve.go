// Package provider resolves which language-model provider and model serve a
// role, optionally specialized by business domain.
//
// Resolution is a pure function over a Lookup, so it can be tested with a
// plain map. Keys are tried from most to least specific and the first
// non-empty value wins:
//
//	provider: PROVIDER_{DOMAIN}_{ROLE} → PROVIDER_{ROLE} → PROVIDER → local
//	model:    MODEL_{DOMAIN}_{ROLE}    → MODEL_{ROLE}    → DefaultModels[provider]
package provider

import (
	"os"
	"strings"
)

// Provider names.
const (
	Local     = "local"
	OpenAI    = "openai"
	Anthropic = "anthropic"
	Gemini    = "gemini"
	DeepSeek  = "deepseek"
)

// DefaultModels maps each provider to the model used when no MODEL_* key is set.
var DefaultModels = map[string]string{
	Local:     "llama3.1:8b",
	OpenAI:    "gpt-4o-mini",
	Anthropic: "claude-3-haiku-20240307",
	Gemini:    "gemini-2.0-flash",
	DeepSeek:  "deepseek-chat",
}

// credentialKeys maps providers to the configuration name of their API key.
var credentialKeys = map[string]string{
	OpenAI:    "OPENAI_API_KEY",
	Anthropic: "ANTHROPIC_API_KEY",
	Gemini:    "GOOGLE_API_KEY",
	DeepSeek:  "DEEPSEEK_API_KEY",
}

// Known reports whether name is a supported provider.
func Known(name string) bool {
	_, ok := DefaultModels[name]
	return ok
}

// Names returns every supported provider.
func Names() []string {
	return []string{Local, OpenAI, Anthropic, Gemini, DeepSeek}
}

// CredentialKey returns the API key name for provider. The local provider
// needs no credential and reports false.
func CredentialKey(name string) (string, bool) {
	k, ok := credentialKeys[name]
	return k, ok
}

// CredentialKeys returns every credential name, for secret loaders.
func CredentialKeys() []string {
	return []string{"OPENAI_API_KEY", "ANTHROPIC_API_KEY", "GOOGLE_API_KEY", "DEEPSEEK_API_KEY"}
}

// Lookup returns the configured value for key, or "".
type Lookup func(key string) string

// MapLookup looks keys up in m.
func MapLookup(m map[string]string) Lookup {
	return func(key string) string { return m[key] }
}

// EnvLookup reads the process environment.
func EnvLookup() Lookup { return os.Getenv }

// Layered tries lookups in order and returns the first non-empty value.
func Layered(lookups ...Lookup) Lookup {
	return func(key string) string {
		for _, l := range lookups {
			if l == nil {
				continue
			}
			if v := strings.TrimSpace(l(key)); v != "" {
				return v
			}
		}
		return ""
	}
}

// Resolution is the outcome of Resolve, including which keys won.
type Resolution struct {
	Role           string `json:"role"`
	Domain         string `json:"domain,omitempty"`
	Provider       string `json:"provider"`
	Model          string `json:"model"`
	ProviderSource string `json:"provider_source"` // key that set the provider, or "default"
	ModelSource    string `json:"model_source"`    // key that set the model, or "default"
}

// SourceDefault marks a value that came from the built-in fallback.
const SourceDefault = "default"

// ProviderKeys lists the provider keys for role and domain, most specific first.
func ProviderKeys(role, domain string) []string {
	return keys("PROVIDER", role, domain, true)
}

// ModelKeys lists the model keys for role and domain, most specific first.
func ModelKeys(role, domain string) []string {
	return keys("MODEL", role, domain, false)
}

func keys(prefix, role, domain string, global bool) []string {
	r, d := keyPart(role), keyPart(domain)
	var out []string
	if d != "" && r != "" {
		out = append(out, prefix+"_"+d+"_"+r)
	}
	if r != "" {
		out = append(out, prefix+"_"+r)
	}
	if global {
		out = append(out, prefix)
	}
	return out
}

// Resolve picks provider and model for role within domain. domain may be empty.
// The provider name is lower-cased; unknown names are returned as-is so the
// caller can reject them with ErrUnknownProvider.
func Resolve(lookup Lookup, role, domain string) Resolution {
	res := Resolution{Role: role, Domain: domain, Provider: Local, ProviderSource: SourceDefault}
	for _, k := range ProviderKeys(role, domain) {
		if v := strings.TrimSpace(lookup(k)); v != "" {
			res.Provider = strings.ToLower(v)
			res.ProviderSource = k
			break
		}
	}

	res.Model = DefaultModels[res.Provider]
	res.ModelSource = SourceDefault
	for _, k := range ModelKeys(role, domain) {
		if v := strings.TrimSpace(lookup(k)); v != "" {
			res.Model = v
			res.ModelSource = k
			break
		}
	}
	return res
}

// keyPart upper-cases s and replaces anything but letters and digits with '_'.
func keyPart(s string) string {
	s = strings.TrimSpace(s)
	var b strings.Builder
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
