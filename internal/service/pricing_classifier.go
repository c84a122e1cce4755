package service

import (
	"context"
	"strings"

	"github.com/spediresicuro/anne/internal/domain/llm"
)

// Provider roles and domains used by the decision layer itself.
const (
	RoleSupervisor = "supervisor"
	DomainPricing  = "pricing"
)

const pricingClassifierPrompt = `Sei il classificatore di un assistente per spedizioni.
Rispondi solo "SI" se il messaggio chiede un preventivo o il costo di una spedizione, altrimenti "NO".`

// ModelPricingClassifier asks the supervisor model whether ambiguous pricing
// phrasing is a quote request. It implements intent.PricingClassifier.
type ModelPricingClassifier struct {
	chat Chatter
}

// NewModelPricingClassifier creates a classifier over the provider router.
func NewModelPricingClassifier(chat Chatter) *ModelPricingClassifier {
	return &ModelPricingClassifier{chat: chat}
}

// IsPricingRequest returns the model's verdict. Provider errors are returned
// unchanged so the router can answer with an apology.
func (c *ModelPricingClassifier) IsPricingRequest(ctx context.Context, text string) (bool, error) {
	zero := 0.0
	resp, err := c.chat.Chat(ctx, RoleSupervisor, DomainPricing,
		[]llm.Message{llm.System(pricingClassifierPrompt), llm.User(text)},
		llm.Options{Temperature: &zero, MaxTokens: 4},
	)
	if err != nil {
		return false, err
	}
	answer := strings.ToLower(strings.Trim(strings.TrimSpace(resp.Content), `."'!*`))
	for _, yes := range []string{"si", "sì", "yes"} {
		if strings.HasPrefix(answer, yes) {
			return true, nil
		}
	}
	return false, nil
}
