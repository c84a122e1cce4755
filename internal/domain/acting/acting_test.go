package acting

import (
	"errors"
	"testing"

	"github.com/spediresicuro/anne/internal/domain"
)

func reseller(t *testing.T) Context {
	t.Helper()
	c, err := New(
		Actor{ID: "u-1", DisplayName: "Giulia Bianchi", Role: RoleReseller},
		Workspace{ID: "ws-1", Name: "Bianchi Logistica", WalletBalance: 120, Permissions: []string{"ship"}},
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewTargetsActor(t *testing.T) {
	c := reseller(t)
	if !c.TargetIsActor() {
		t.Fatal("non-delegated context must target the actor")
	}
	if c.IsDelegating() {
		t.Fatal("new context must not be delegating")
	}
	if c.Target().ID != c.Actor().ID || c.Target().Role != RoleReseller {
		t.Errorf("unexpected target %+v", c.Target())
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		ws    Workspace
	}{
		{"missing actor", Actor{}, Workspace{ID: "ws"}},
		{"missing workspace", Actor{ID: "u"}, Workspace{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.actor, tt.ws); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestWithDelegationDerivesNewContext(t *testing.T) {
	orig := reseller(t)
	d := orig.WithDelegation(
		Principal{ID: "u-9", DisplayName: "Mario Rossi", Role: RoleUser},
		Workspace{ID: "ws-9", Name: "Rossi Srl", Depth: 1},
		ReasonOnBehalfOf,
	)

	if !d.IsDelegating() || d.TargetIsActor() {
		t.Fatal("derived context must be delegating")
	}
	if d.Target().ID != "u-9" || d.Workspace().ID != "ws-9" {
		t.Errorf("target/workspace not replaced: %+v %+v", d.Target(), d.Workspace())
	}
	if d.Actor().ID != "u-1" || !d.Actor().IsDelegate {
		t.Errorf("actor must stay the operator and be marked delegate: %+v", d.Actor())
	}
	if d.DelegationReason() != ReasonOnBehalfOf {
		t.Errorf("unexpected reason %q", d.DelegationReason())
	}

	// The original is unchanged.
	if orig.IsDelegating() || orig.Workspace().ID != "ws-1" || orig.Actor().IsDelegate {
		t.Errorf("original context mutated: %+v", orig.Snapshot())
	}
}

func TestWorkspacePermissionsAreCopied(t *testing.T) {
	c := reseller(t)
	ws := c.Workspace()
	ws.Permissions[0] = "tampered"
	if c.Workspace().Permissions[0] != "ship" {
		t.Fatal("Workspace() must return a copy")
	}
}

func TestCanDelegate(t *testing.T) {
	tests := []struct {
		name  string
		role  Role
		perms []string
		want  bool
	}{
		{"reseller", RoleReseller, nil, true},
		{"admin", RoleAdmin, nil, true},
		{"user without permission", RoleUser, []string{"ship"}, false},
		{"user with delegate permission", RoleUser, []string{PermissionDelegate}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Actor{ID: "u", Role: tt.role}, Workspace{ID: "ws", Permissions: tt.perms})
			if err != nil {
				t.Fatal(err)
			}
			if got := c.CanDelegate(); got != tt.want {
				t.Errorf("CanDelegate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromSnapshotRoundTrip(t *testing.T) {
	orig := reseller(t)
	d := orig.WithDelegation(Principal{ID: "u-9", DisplayName: "Mario Rossi", Role: RoleUser}, Workspace{ID: "ws-9"}, ReasonOnBehalfOf)

	for _, c := range []Context{orig, d} {
		got, err := FromSnapshot(c.Snapshot())
		if err != nil {
			t.Fatal(err)
		}
		if got.Actor() != c.Actor() || got.Target() != c.Target() || got.Workspace().ID != c.Workspace().ID ||
			got.IsDelegating() != c.IsDelegating() || got.DelegationReason() != c.DelegationReason() {
			t.Errorf("round trip mismatch: %+v vs %+v", got.Snapshot(), c.Snapshot())
		}
	}

	bad := d.Snapshot()
	bad.Target.ID = ""
	if _, err := FromSnapshot(bad); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}
