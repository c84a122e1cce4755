package delegation

import "fmt"

// LookupError wraps a portfolio lookup failure. It is never fatal to a
// request: the caller proceeds without delegation.
type LookupError struct {
	OperatorID string
	Err        error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("delegation lookup for operator %s: %v", e.OperatorID, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }
