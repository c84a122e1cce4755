package audit

import (
	"errors"
	"strings"
	"testing"

	"github.com/spediresicuro/anne/internal/domain"
)

func TestEntryKey(t *testing.T) {
	e := Entry{Action: ActionDelegationActivated, WorkspaceID: "ws-9", TraceID: "tr-1", ResourceID: "ws-9"}
	k := e.Key()
	if k != (Key{WorkspaceID: "ws-9", TraceID: "tr-1", ResourceID: "ws-9", Action: ActionDelegationActivated}) {
		t.Fatalf("unexpected key %+v", k)
	}
	if got := k.String(); got != "ws-9.tr-1.ws-9.DELEGATION_ACTIVATED" {
		t.Errorf("unexpected key string %q", got)
	}
}

func TestEntryValidate(t *testing.T) {
	valid := Entry{Action: ActionDelegationActivated, WorkspaceID: "ws", TraceID: "tr", ResourceID: "r"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("valid entry rejected: %v", err)
	}

	for _, mutate := range []func(*Entry){
		func(e *Entry) { e.Action = "" },
		func(e *Entry) { e.TraceID = "" },
		func(e *Entry) { e.WorkspaceID = "" },
		func(e *Entry) { e.ResourceID = "" },
	} {
		e := valid
		mutate(&e)
		if err := e.Validate(); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("expected ErrValidation for %+v, got %v", e, err)
		}
	}
}

func TestTruncate(t *testing.T) {
	long := strings.Repeat("è", 300)
	got := Truncate(long)
	if n := len([]rune(got)); n != 200 {
		t.Errorf("expected 200 runes, got %d", n)
	}
	if Truncate("breve") != "breve" {
		t.Error("short text must be unchanged")
	}
}
