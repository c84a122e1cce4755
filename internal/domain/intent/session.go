package intent

// Shipment creation phases tracked across turns.
const (
	PhaseNone       = ""
	PhaseCollecting = "collecting"
	PhaseConfirming = "confirming"
)

// SessionState is the prior conversation state some detectors consult.
// It belongs to the caller; the router never mutates it.
type SessionState struct {
	// PendingPricingOptions is the number of quotes shown to the operator
	// and not yet booked or discarded.
	PendingPricingOptions int `json:"pending_pricing_options"`
	// ShipmentCreationPhase is non-empty while a guided creation flow runs.
	ShipmentCreationPhase string `json:"shipment_creation_phase,omitempty"`
	// Values carries worker-specific state through unchanged.
	Values map[string]string `json:"values,omitempty"`
	// ActiveDelegation is the sub-account the operator keeps acting for
	// until they end the delegation.
	ActiveDelegation *ActiveDelegation `json:"active_delegation,omitempty"`
}

// ActiveDelegation is an accepted delegation carried across turns.
type ActiveDelegation struct {
	TargetUserID  string `json:"target_user_id"`
	TargetName    string `json:"target_name"`
	WorkspaceID   string `json:"workspace_id"`
	WorkspaceName string `json:"workspace_name,omitempty"`
}

// Valid reports whether d names both a target and a workspace.
func (d *ActiveDelegation) Valid() bool {
	return d != nil && d.TargetUserID != "" && d.WorkspaceID != ""
}

// HasPendingQuotes reports whether a booking confirmation can apply.
func (s SessionState) HasPendingQuotes() bool { return s.PendingPricingOptions > 0 }

// CreationInProgress reports whether a shipment creation flow is active.
func (s SessionState) CreationInProgress() bool { return s.ShipmentCreationPhase != PhaseNone }
