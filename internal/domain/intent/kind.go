// Package intent classifies operator requests into worker capabilities.
//
// Every detector here is a pure function of the message text and, where
// relevant, the session state. The precedence between detectors lives in
// one place, the ordered Cascade, so it can be read and tested as data.
package intent

import "fmt"

// WorkerKind is the closed set of capabilities a request can be routed to.
type WorkerKind string

const (
	KindBooking          WorkerKind = "booking"
	KindOCR              WorkerKind = "ocr"
	KindMentor           WorkerKind = "mentor"
	KindExplain          WorkerKind = "explain"
	KindDebug            WorkerKind = "debug"
	KindSupport          WorkerKind = "support"
	KindCRM              WorkerKind = "crm"
	KindOutreach         WorkerKind = "outreach"
	KindPricing          WorkerKind = "pricing"
	KindShipmentCreation WorkerKind = "shipment-creation"
	KindShipmentCancel   WorkerKind = "shipment-cancel"
	KindLegacyDefault    WorkerKind = "legacy-default"
)

// AllKinds lists every WorkerKind in cascade order.
func AllKinds() []WorkerKind {
	return []WorkerKind{
		KindBooking, KindOCR, KindMentor, KindExplain, KindDebug, KindSupport,
		KindCRM, KindOutreach, KindPricing, KindShipmentCreation, KindShipmentCancel,
		KindLegacyDefault,
	}
}

// ParseKind validates s as a WorkerKind.
func ParseKind(s string) (WorkerKind, error) {
	for _, k := range AllKinds() {
		if string(k) == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown worker kind %q", s)
}

// Step is the next step of a routing decision: a WorkerKind or End.
type Step string

// End marks a decision whose terminal reply was produced in-line.
const End Step = "END"

// Step converts the kind to a routing step.
func (k WorkerKind) Step() Step { return Step(k) }

// Reasons recorded on routing decisions.
const (
	ReasonMatched             = "intent_matched"
	ReasonWorkerCompleted     = "worker_completed"
	ReasonWorkerUnavailable   = "worker_unavailable"
	ReasonWorkerFailed        = "worker_failed"
	ReasonDetectorFailed      = "detector_failed"
	ReasonDelegationAmbiguous = "delegation_ambiguous"
	ReasonDelegationNotFound  = "delegation_not_found"
	ReasonDelegationDenied    = "delegation_not_permitted"
	ReasonDelegationEnded     = "delegation_ended"
)

// Decision is the output of the intent router.
type Decision struct {
	NextStep      Step       `json:"next_step"`
	Reason        string     `json:"reason"`
	MatchedIntent WorkerKind `json:"matched_intent,omitempty"`
}

// Dispatch returns a decision that hands the request to kind.
func Dispatch(kind WorkerKind, reason string) Decision {
	return Decision{NextStep: kind.Step(), Reason: reason, MatchedIntent: kind}
}

// Terminal returns an END decision.
func Terminal(reason string, matched WorkerKind) Decision {
	return Decision{NextStep: End, Reason: reason, MatchedIntent: matched}
}
