// Package guardrail decides whether a worker result may be applied without
// an explicit human confirmation.
//
// The decision is a pure function of the WorkerResult and a Policy. The
// action category is checked first and is absolute: only safe-reversible
// results can ever auto-proceed, whatever their confidence.
package guardrail

import (
	"errors"
	"fmt"
	"strings"
)

// Category classifies the side effect a worker result would commit.
type Category string

const (
	CategorySafeReversible Category = "safe-reversible"
	CategoryFinancial      Category = "financial"
	CategoryBooking        Category = "booking"
)

// Mode is the outcome of the guardrail.
type Mode string

const (
	ModeAutoProceed         Mode = "auto-proceed"
	ModeSuggestProceed      Mode = "suggest-proceed"
	ModeRequireConfirmation Mode = "require-confirmation"
)

// Decision reasons.
const (
	ReasonNotReversible    = "category_not_safe_reversible"
	ReasonValidationErrors = "validation_errors"
	ReasonHighConfidence   = "high_confidence"
	ReasonMediumConfidence = "medium_confidence"
	ReasonLowConfidence    = "low_confidence"
)

// User-facing messages.
const (
	MessageAutoProceed    = "✅ Dati verificati e applicati automaticamente."
	MessageSuggestProceed = "💡 Dati quasi completi: vuoi procedere?"
	MessageConfirm        = "Per procedere serve una tua conferma esplicita."
)

// WorkerResult is produced fresh by every worker invocation.
type WorkerResult struct {
	ConfidenceScore  float64        `json:"confidence_score"` // 0-100
	ValidationErrors []string       `json:"validation_errors,omitempty"`
	ActionCategory   Category       `json:"action_category"`
	Payload          map[string]any `json:"payload,omitempty"`
	// Reply is the worker's text for the operator.
	Reply string `json:"reply,omitempty"`
}

// Decision is the guardrail outcome for one WorkerResult.
type Decision struct {
	Mode        Mode   `json:"mode"`
	UserMessage string `json:"user_message"`
	Reason      string `json:"reason"`
}

// Policy holds the confidence thresholds. Values come from configuration.
type Policy struct {
	AutoProceedThreshold    float64
	SuggestProceedThreshold float64
}

// DefaultPolicy returns the standard thresholds (85 / 70).
func DefaultPolicy() Policy {
	return Policy{AutoProceedThreshold: 85, SuggestProceedThreshold: 70}
}

// Validate checks 0 <= suggest <= auto <= 100.
func (p Policy) Validate() error {
	if p.SuggestProceedThreshold < 0 || p.AutoProceedThreshold > 100 {
		return errors.New("guardrail thresholds must be within [0, 100]")
	}
	if p.SuggestProceedThreshold > p.AutoProceedThreshold {
		return fmt.Errorf("suggest threshold %.1f exceeds auto threshold %.1f",
			p.SuggestProceedThreshold, p.AutoProceedThreshold)
	}
	return nil
}

// Evaluate applies the policy table to r.
func (p Policy) Evaluate(r WorkerResult) Decision {
	if r.ActionCategory != CategorySafeReversible {
		return Decision{Mode: ModeRequireConfirmation, UserMessage: MessageConfirm, Reason: ReasonNotReversible}
	}
	if len(r.ValidationErrors) > 0 {
		return Decision{
			Mode:        ModeRequireConfirmation,
			UserMessage: MessageConfirm + "\n- " + strings.Join(r.ValidationErrors, "\n- "),
			Reason:      ReasonValidationErrors,
		}
	}

	score := clamp(r.ConfidenceScore)
	switch {
	case score >= p.AutoProceedThreshold:
		return Decision{Mode: ModeAutoProceed, UserMessage: MessageAutoProceed, Reason: ReasonHighConfidence}
	case score >= p.SuggestProceedThreshold:
		return Decision{Mode: ModeSuggestProceed, UserMessage: MessageSuggestProceed, Reason: ReasonMediumConfidence}
	default:
		return Decision{Mode: ModeRequireConfirmation, UserMessage: MessageConfirm, Reason: ReasonLowConfidence}
	}
}

// clamp bounds a score to [0, 100]; NaN counts as 0.
func clamp(v float64) float64 {
	switch {
	case v != v || v < 0:
		return 0
	case v > 100:
		return 100
	}
	return v
}
