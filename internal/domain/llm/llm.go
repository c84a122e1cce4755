// Package llm holds the provider-neutral chat types.
package llm

// Role of a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Options tune a single call. Zero values mean provider defaults.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
	// JSON asks the provider for a JSON object response where supported.
	JSON bool `json:"json,omitempty"`
}

// Request is what a provider client receives.
type Request struct {
	Model    string
	Messages []Message
	Options  Options
}

// Usage reports token consumption when the provider returns it.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the result of a chat call.
type Response struct {
	Content string `json:"content"`
	Model   string `json:"model"`
	Usage   *Usage `json:"usage,omitempty"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// SplitSystem separates system messages (joined) from the conversation,
// for providers that take the system prompt out of band.
func SplitSystem(msgs []Message) (string, []Message) {
	var system string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		rest = append(rest, m)
	}
	return system, rest
}
