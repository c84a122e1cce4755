// Package acting defines the identity under which a request executes.
//
// A Context is built once per request and never mutated. When an operator
// delegates to a sub-account, WithDelegation derives a new Context whose
// target and workspace are the sub-account's; the original stays valid.
package acting

import (
	"fmt"
	"slices"

	"github.com/spediresicuro/anne/internal/domain"
)

// Role is a platform account role.
type Role string

const (
	RoleUser     Role = "user"
	RoleReseller Role = "reseller"
	RoleAdmin    Role = "admin"
)

// PermissionDelegate lets a non-reseller workspace member act for sub-accounts.
const PermissionDelegate = "delegate"

// Delegation reasons.
const (
	// ReasonOnBehalfOf tags contexts derived from "on behalf of" phrasing.
	ReasonOnBehalfOf = "delegation:on_behalf_of"
	// ReasonSession tags contexts restored from a delegation kept in the session.
	ReasonSession = "delegation:session"
)

// Actor is who issued the request.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
	IsDelegate  bool   `json:"is_delegate"`
}

// Principal is whose resources and wallet a request affects.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

// Workspace is the tenant boundary in effect for the target.
type Workspace struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Depth         int      `json:"depth"`
	WalletBalance float64  `json:"wallet_balance"`
	Permissions   []string `json:"permissions,omitempty"`
}

// Context is the immutable acting identity of one request.
type Context struct {
	actor        Actor
	target       Principal
	workspace    Workspace
	isDelegating bool
	reason       string
}

// New builds a non-delegated Context: the target is the actor itself.
func New(actor Actor, ws Workspace) (Context, error) {
	if actor.ID == "" {
		return Context{}, fmt.Errorf("acting context: actor id is required: %w", domain.ErrValidation)
	}
	if ws.ID == "" {
		return Context{}, fmt.Errorf("acting context: workspace id is required: %w", domain.ErrValidation)
	}
	return Context{
		actor:     actor,
		target:    Principal{ID: actor.ID, DisplayName: actor.DisplayName, Role: actor.Role},
		workspace: cloneWorkspace(ws),
	}, nil
}

// WithDelegation returns a new Context acting for target inside ws.
// The receiver is left untouched.
func (c Context) WithDelegation(target Principal, ws Workspace, reason string) Context {
	d := c
	d.actor.IsDelegate = true
	d.target = target
	d.workspace = cloneWorkspace(ws)
	d.isDelegating = true
	d.reason = reason
	return d
}

// Actor returns the authenticated operator.
func (c Context) Actor() Actor { return c.actor }

// Target returns the principal whose resources are affected.
func (c Context) Target() Principal { return c.target }

// Workspace returns a copy of the effective workspace.
func (c Context) Workspace() Workspace { return cloneWorkspace(c.workspace) }

// IsDelegating reports whether the target differs from the actor by delegation.
func (c Context) IsDelegating() bool { return c.isDelegating }

// DelegationReason returns the free-text delegation tag, if any.
func (c Context) DelegationReason() string { return c.reason }

// TargetIsActor reports whether side effects land on the actor's own account.
func (c Context) TargetIsActor() bool {
	return c.target.ID == c.actor.ID && !c.isDelegating
}

// CanDelegate reports whether the actor may act for sub-accounts.
func (c Context) CanDelegate() bool {
	switch c.actor.Role {
	case RoleReseller, RoleAdmin:
		return true
	}
	return slices.Contains(c.workspace.Permissions, PermissionDelegate)
}

// Snapshot is the wire form of a Context.
type Snapshot struct {
	Actor            Actor     `json:"actor"`
	Target           Principal `json:"target"`
	Workspace        Workspace `json:"workspace"`
	IsDelegating     bool      `json:"is_delegating"`
	DelegationReason string    `json:"delegation_reason,omitempty"`
}

// Snapshot returns a copy suitable for serialization.
func (c Context) Snapshot() Snapshot {
	return Snapshot{
		Actor:            c.actor,
		Target:           c.target,
		Workspace:        c.Workspace(),
		IsDelegating:     c.isDelegating,
		DelegationReason: c.reason,
	}
}

// FromSnapshot rebuilds a Context received over the wire.
func FromSnapshot(s Snapshot) (Context, error) {
	c, err := New(s.Actor, s.Workspace)
	if err != nil {
		return Context{}, err
	}
	if !s.IsDelegating {
		return c, nil
	}
	if s.Target.ID == "" {
		return Context{}, fmt.Errorf("acting context: delegated target id is required: %w", domain.ErrValidation)
	}
	return c.WithDelegation(s.Target, s.Workspace, s.DelegationReason), nil
}

func cloneWorkspace(ws Workspace) Workspace {
	ws.Permissions = slices.Clone(ws.Permissions)
	return ws
}
