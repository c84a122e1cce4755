package provider

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is against a *Error.
var (
	ErrNoCredential    = errors.New("no credential configured")
	ErrTimeout         = errors.New("call timed out")
	ErrCallFailed      = errors.New("call failed")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrCircuitOpen     = errors.New("provider circuit open")
)

// Error is a failed provider call. The message always names role and provider.
type Error struct {
	Kind     error
	Provider string
	Model    string
	Role     string
	Domain   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("provider %s (role %s", e.Provider, e.Role)
	if e.Domain != "" {
		msg += ", domain " + e.Domain
	}
	if e.Model != "" {
		msg += ", model " + e.Model
	}
	msg += "): " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the underlying cause.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewError builds an Error for res.
func NewError(kind error, res Resolution, cause error) *Error {
	return &Error{Kind: kind, Provider: res.Provider, Model: res.Model, Role: res.Role, Domain: res.Domain, Err: cause}
}
