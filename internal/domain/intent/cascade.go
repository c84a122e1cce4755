package intent

import (
	"context"
	"fmt"
)

// Input is what every detector sees.
type Input struct {
	Text    string
	Session SessionState
}

// Detector reports whether a rule applies. Only model-backed detectors
// return errors.
type Detector func(ctx context.Context, in Input) (bool, error)

// Rule pairs a detector with the worker kind it routes to.
type Rule struct {
	Name   string
	Kind   WorkerKind
	Detect Detector
}

// Cascade is an ordered list of rules; the first match wins.
type Cascade []Rule

// Match evaluates rules top to bottom and returns the first that applies.
// A detector error stops evaluation: later rules are not consulted because
// their precedence relative to the failed one is unknown.
func (c Cascade) Match(ctx context.Context, in Input) (Rule, error) {
	for _, r := range c {
		ok, err := r.Detect(ctx, in)
		if err != nil {
			return r, fmt.Errorf("detector %s: %w", r.Name, err)
		}
		if ok {
			return r, nil
		}
	}
	return Rule{Name: "legacy-default", Kind: KindLegacyDefault, Detect: always}, nil
}

// Kinds returns the kinds in evaluation order.
func (c Cascade) Kinds() []WorkerKind {
	out := make([]WorkerKind, len(c))
	for i, r := range c {
		out[i] = r.Kind
	}
	return out
}

// PricingClassifier decides ambiguous pricing phrasing, typically with a
// model call. It returns true when the text asks for a quote.
type PricingClassifier interface {
	IsPricingRequest(ctx context.Context, text string) (bool, error)
}

// DefaultCascade returns the production rule order. Mentor, explain and
// debug keep the order observed in the legacy router pending product
// confirmation. clf may be nil, in which case ambiguous pricing phrasing is
// not treated as pricing.
func DefaultCascade(clf PricingClassifier) Cascade {
	return Cascade{
		{Name: "booking-confirmation", Kind: KindBooking, Detect: func(_ context.Context, in Input) (bool, error) {
			return IsBookingConfirmation(in.Text, in.Session), nil
		}},
		{Name: "ocr-patterns", Kind: KindOCR, Detect: textOnly(IsOCRText)},
		{Name: "mentor", Kind: KindMentor, Detect: textOnly(IsMentorRequest)},
		{Name: "explain", Kind: KindExplain, Detect: textOnly(IsExplainRequest)},
		{Name: "debug", Kind: KindDebug, Detect: textOnly(IsDebugRequest)},
		{Name: "support", Kind: KindSupport, Detect: func(_ context.Context, in Input) (bool, error) {
			return IsSupportRequest(in.Text, in.Session), nil
		}},
		{Name: "crm", Kind: KindCRM, Detect: textOnly(IsCRMRequest)},
		{Name: "outreach", Kind: KindOutreach, Detect: textOnly(IsOutreachRequest)},
		{Name: "pricing", Kind: KindPricing, Detect: pricingDetector(clf)},
		{Name: "shipment-creation", Kind: KindShipmentCreation, Detect: textOnly(IsShipmentCreation)},
		{Name: "shipment-cancel", Kind: KindShipmentCancel, Detect: func(_ context.Context, in Input) (bool, error) {
			return IsShipmentCancel(in.Text, in.Session), nil
		}},
		{Name: "legacy-default", Kind: KindLegacyDefault, Detect: always},
	}
}

func pricingDetector(clf PricingClassifier) Detector {
	return func(ctx context.Context, in Input) (bool, error) {
		switch ClassifyPricing(in.Text) {
		case PricingExplicit:
			return true, nil
		case PricingAmbiguous:
			if clf == nil {
				return false, nil
			}
			return clf.IsPricingRequest(ctx, in.Text)
		default:
			return false, nil
		}
	}
}

func textOnly(fn func(string) bool) Detector {
	return func(_ context.Context, in Input) (bool, error) { return fn(in.Text), nil }
}

func always(context.Context, Input) (bool, error) { return true, nil }
