package service_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/spediresicuro/anne/internal/adapter/memory"
	"github.com/spediresicuro/anne/internal/config"
	"github.com/spediresicuro/anne/internal/domain/acting"
	"github.com/spediresicuro/anne/internal/domain/audit"
	"github.com/spediresicuro/anne/internal/domain/delegation"
	"github.com/spediresicuro/anne/internal/domain/intent"
	"github.com/spediresicuro/anne/internal/port/portfolio"
	"github.com/spediresicuro/anne/internal/service"
)

const marioMessage = "per conto di Mario Rossi quanto costa un collo da 5kg a Roma?"

type recordingSink struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (s *recordingSink) Emit(_ context.Context, e audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

func (s *recordingSink) all() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.entries...)
}

func resellerContext(t *testing.T) acting.Context {
	t.Helper()
	ac, err := acting.New(
		acting.Actor{ID: "op-reseller", DisplayName: "Luca Reseller", Role: acting.RoleReseller},
		acting.Workspace{ID: "ws-reseller", Name: "Reseller Hub", Depth: 1, WalletBalance: 500},
	)
	if err != nil {
		t.Fatal(err)
	}
	return ac
}

func staticPortfolio(accounts ...delegation.Account) portfolio.Lookup {
	return portfolio.LookupFunc(func(context.Context, string) ([]delegation.Account, error) {
		return accounts, nil
	})
}

// sequenceScorer returns scores in call order.
func sequenceScorer(scores ...float64) delegation.Scorer {
	var (
		mu sync.Mutex
		i  int
	)
	return func(string, string) float64 {
		mu.Lock()
		defer mu.Unlock()
		s := scores[i%len(scores)]
		i++
		return s
	}
}

func newResolver(p portfolio.Lookup, sink service.AuditSink) *service.DelegationResolver {
	return service.NewDelegationResolver(p, sink, config.Defaults().Delegation, discardLogger(), nil)
}

var marioAccount = delegation.Account{WorkspaceID: "ws-mario", WorkspaceName: "Rossi Spedizioni", UserID: "user-mario", DisplayName: "Mario Rossi"}

func TestDelegationResolver_NoPhraseKeepsIdentity(t *testing.T) {
	sink := &recordingSink{}
	r := newResolver(staticPortfolio(marioAccount), sink)
	ac := resellerContext(t)

	res := r.Resolve(context.Background(), ac, "quanto costa un collo da 5kg a Roma?", "trace-1")
	if res.Detected || res.Terminal() {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Acting.IsDelegating() || res.Acting.Target().ID != ac.Actor().ID {
		t.Fatal("target must equal actor without delegation phrasing")
	}
	if len(sink.all()) != 0 {
		t.Fatal("no audit entry expected")
	}
}

func TestDelegationResolver_SingleConfidentMatch(t *testing.T) {
	sink := &recordingSink{}
	r := newResolver(staticPortfolio(marioAccount), sink)
	r.SetScorer(sequenceScorer(0.95))
	ac := resellerContext(t)

	res := r.Resolve(context.Background(), ac, marioMessage, "trace-1")
	if res.Outcome != delegation.OutcomeAccepted || res.Terminal() {
		t.Fatalf("expected acceptance, got %+v", res)
	}

	d := res.Acting
	if !d.IsDelegating() || d.Target().ID != "user-mario" || d.Workspace().ID != "ws-mario" {
		t.Fatalf("unexpected derived context %+v", d.Snapshot())
	}
	if d.DelegationReason() != acting.ReasonOnBehalfOf || d.Actor().ID != "op-reseller" {
		t.Fatalf("derived context must keep the actor: %+v", d.Snapshot())
	}
	if ac.IsDelegating() || ac.Workspace().ID != "ws-reseller" {
		t.Fatal("original context must not change")
	}
	if res.Text != "quanto costa un collo da 5kg a Roma?" {
		t.Errorf("unexpected remaining text %q", res.Text)
	}
	if !strings.Contains(res.Notice, "Mario Rossi") {
		t.Errorf("unexpected notice %q", res.Notice)
	}

	entries := sink.all()
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Action != audit.ActionDelegationActivated || e.TraceID != "trace-1" || e.ResourceID != "ws-mario" ||
		e.WorkspaceID != "ws-reseller" || e.ActorID != "op-reseller" || e.TargetID != "user-mario" {
		t.Fatalf("unexpected audit entry %+v", e)
	}
}

func TestDelegationResolver_NearTieIsAmbiguous(t *testing.T) {
	sink := &recordingSink{}
	twin := delegation.Account{WorkspaceID: "ws-mario-2", WorkspaceName: "Rossi Trasporti", UserID: "user-mario-2", DisplayName: "Mario Rossi"}
	r := newResolver(staticPortfolio(marioAccount, twin), sink)
	r.SetScorer(sequenceScorer(0.91, 0.90))
	ac := resellerContext(t)

	res := r.Resolve(context.Background(), ac, marioMessage, "trace-1")
	if res.Outcome != delegation.OutcomeAmbiguous || !res.Terminal() {
		t.Fatalf("expected ambiguity, got %+v", res)
	}
	if res.Acting.IsDelegating() {
		t.Fatal("no delegation may be activated on a near-tie")
	}
	for _, ws := range []string{"Rossi Spedizioni", "Rossi Trasporti"} {
		if !strings.Contains(res.Reply, ws) {
			t.Errorf("reply %q should list %s", res.Reply, ws)
		}
	}
	if len(sink.all()) != 0 {
		t.Fatal("no audit entry expected")
	}
}

func TestDelegationResolver_DisambiguationListIsCapped(t *testing.T) {
	var accounts []delegation.Account
	for _, n := range []string{"A", "B", "C", "D", "E", "F", "G"} {
		accounts = append(accounts, delegation.Account{WorkspaceID: "ws-" + n, DisplayName: "Mario Rossi " + n})
	}
	r := newResolver(staticPortfolio(accounts...), &recordingSink{})
	r.SetScorer(sequenceScorer(0.8))

	res := r.Resolve(context.Background(), resellerContext(t), marioMessage, "trace-1")
	if got := strings.Count(res.Reply, "•"); got != 5 {
		t.Fatalf("expected 5 listed candidates, got %d in %q", got, res.Reply)
	}
}

func TestDelegationResolver_NotFound(t *testing.T) {
	sink := &recordingSink{}
	r := newResolver(staticPortfolio(delegation.Account{WorkspaceID: "ws-x", DisplayName: "Logistica Bianchi"}), sink)

	res := r.Resolve(context.Background(), resellerContext(t), marioMessage, "trace-1")
	if res.Outcome != delegation.OutcomeNotFound || !strings.Contains(res.Reply, "Mario Rossi") {
		t.Fatalf("expected not-found reply, got %+v", res)
	}
	if len(sink.all()) != 0 {
		t.Fatal("no audit entry expected")
	}
}

func TestDelegationResolver_DefaultScorerAcceptsExactName(t *testing.T) {
	sink := &recordingSink{}
	r := newResolver(staticPortfolio(
		marioAccount,
		delegation.Account{WorkspaceID: "ws-bianchi", DisplayName: "Logistica Bianchi"},
	), sink)

	res := r.Resolve(context.Background(), resellerContext(t), marioMessage, "trace-1")
	if res.Outcome != delegation.OutcomeAccepted || res.Acting.Workspace().ID != "ws-mario" {
		t.Fatalf("expected exact match to be accepted, got %+v", res)
	}
}

func TestDelegationResolver_LookupFailureIsNonFatal(t *testing.T) {
	sink := &recordingSink{}
	failing := portfolio.LookupFunc(func(context.Context, string) ([]delegation.Account, error) {
		return nil, errors.New("connection refused")
	})
	log, rec := newRecordingLogger()
	r := service.NewDelegationResolver(failing, sink, config.Defaults().Delegation, log, nil)
	ac := resellerContext(t)

	res := r.Resolve(context.Background(), ac, marioMessage, "trace-1")
	if res.Terminal() {
		t.Fatal("lookup failure must not end the request")
	}
	var le *delegation.LookupError
	if !errors.As(res.LookupErr, &le) || le.OperatorID != "op-reseller" {
		t.Fatalf("expected LookupError, got %v", res.LookupErr)
	}
	if res.Acting.IsDelegating() || res.Acting.Target().ID != ac.Actor().ID {
		t.Fatal("request must proceed non-delegated")
	}
	if len(rec.find("delegation_lookup_failed")) != 1 {
		t.Fatal("lookup failure must be telemetered")
	}
	if len(sink.all()) != 0 {
		t.Fatal("no audit entry expected")
	}
}

func TestDelegationResolver_PermissionGate(t *testing.T) {
	called := false
	p := portfolio.LookupFunc(func(context.Context, string) ([]delegation.Account, error) {
		called = true
		return []delegation.Account{marioAccount}, nil
	})
	r := newResolver(p, &recordingSink{})
	ac, _ := acting.New(acting.Actor{ID: "op-user", Role: acting.RoleUser}, acting.Workspace{ID: "ws-user"})

	res := r.Resolve(context.Background(), ac, marioMessage, "trace-1")
	if !res.Terminal() || res.Acting.IsDelegating() {
		t.Fatalf("expected a denial, got %+v", res)
	}
	if called {
		t.Fatal("portfolio must not be queried without permission")
	}

	allowed, _ := acting.New(acting.Actor{ID: "op-user", Role: acting.RoleUser},
		acting.Workspace{ID: "ws-user", Permissions: []string{acting.PermissionDelegate}})
	r.SetScorer(sequenceScorer(0.95))
	if res := r.Resolve(context.Background(), allowed, marioMessage, "trace-1"); res.Outcome != delegation.OutcomeAccepted {
		t.Fatalf("delegate permission should allow delegation, got %+v", res)
	}
}

func TestDelegationResolver_AuditIsIdempotentPerTraceAndWorkspace(t *testing.T) {
	store := memory.NewAuditStore()
	emitter := service.NewAuditEmitter(store, nil, config.Defaults().Audit, discardLogger(), nil)
	r := newResolver(staticPortfolio(marioAccount), emitter)
	r.SetScorer(sequenceScorer(0.95))
	ac := resellerContext(t)

	for i := 0; i < 3; i++ {
		r.Resolve(context.Background(), ac, marioMessage, "trace-replayed")
	}
	r.Resolve(context.Background(), ac, marioMessage, "trace-new")
	emitter.Close()

	byTrace := map[string]int{}
	for _, e := range store.All() {
		if e.Action == audit.ActionDelegationActivated {
			byTrace[e.TraceID]++
		}
	}
	if byTrace["trace-replayed"] != 1 || byTrace["trace-new"] != 1 || len(byTrace) != 2 {
		t.Fatalf("expected one entry per trace, got %v", byTrace)
	}
}

var marioSession = &intent.ActiveDelegation{
	TargetUserID:  "user-mario",
	TargetName:    "Mario Rossi",
	WorkspaceID:   "ws-mario",
	WorkspaceName: "Rossi Spedizioni",
}

func TestDelegationResolver_AcceptanceIsKeptForNextTurn(t *testing.T) {
	r := newResolver(staticPortfolio(marioAccount), &recordingSink{})
	r.SetScorer(sequenceScorer(0.95))

	res := r.Resolve(context.Background(), resellerContext(t), marioMessage, "trace-1")
	if res.Active == nil || *res.Active != *marioSession {
		t.Fatalf("expected the accepted delegation to be kept, got %+v", res.Active)
	}
}

func TestDelegationResolver_SessionDelegationIsRestored(t *testing.T) {
	sink := &recordingSink{}
	r := newResolver(portfolio.LookupFunc(func(context.Context, string) ([]delegation.Account, error) {
		t.Error("a restored delegation must not hit the portfolio")
		return nil, nil
	}), sink)
	ac := resellerContext(t)

	res := r.ResolveSession(context.Background(), ac, "e un collo da 10kg a Torino?", "trace-2", marioSession)
	if res.Terminal() || res.Detected {
		t.Fatalf("unexpected result %+v", res)
	}
	d := res.Acting
	if !d.IsDelegating() || d.Target().ID != "user-mario" || d.Workspace().ID != "ws-mario" || d.Actor().ID != "op-reseller" {
		t.Fatalf("unexpected restored context %+v", d.Snapshot())
	}
	if d.DelegationReason() != acting.ReasonSession {
		t.Errorf("unexpected reason %q", d.DelegationReason())
	}
	if res.Active != marioSession {
		t.Error("the session delegation must be carried forward")
	}
	if len(sink.all()) != 0 {
		t.Fatal("restoring a delegation must not audit again")
	}
}

func TestDelegationResolver_EndDelegation(t *testing.T) {
	store := memory.NewAuditStore()
	emitter := service.NewAuditEmitter(store, nil, config.Defaults().Audit, discardLogger(), nil)
	r := newResolver(staticPortfolio(marioAccount), emitter)
	ac := resellerContext(t)

	var res service.DelegationResult
	for range 3 {
		res = r.ResolveSession(context.Background(), ac, "ok, torna al mio workspace", "trace-end", marioSession)
	}
	emitter.Close()

	if !res.Ended || !res.Terminal() || res.Active != nil {
		t.Fatalf("expected a terminal end without active delegation, got %+v", res)
	}
	if res.Acting.IsDelegating() || res.Acting.Workspace().ID != "ws-reseller" {
		t.Fatalf("expected the operator's own identity, got %+v", res.Acting.Snapshot())
	}
	if !strings.Contains(res.Reply, "Mario Rossi") {
		t.Errorf("unexpected reply %q", res.Reply)
	}

	var ended []audit.Entry
	for _, e := range store.All() {
		if e.Action == audit.ActionDelegationDeactivated {
			ended = append(ended, e)
		}
	}
	if len(ended) != 1 {
		t.Fatalf("expected one deactivation entry for the trace, got %d", len(ended))
	}
	e := ended[0]
	if e.WorkspaceID != "ws-reseller" || e.ResourceID != "ws-mario" || e.ActorID != "op-reseller" || e.TargetID != "user-mario" {
		t.Fatalf("unexpected audit entry %+v", e)
	}
}

func TestDelegationResolver_EndWithoutActiveDelegationPassesThrough(t *testing.T) {
	sink := &recordingSink{}
	r := newResolver(staticPortfolio(marioAccount), sink)

	res := r.ResolveSession(context.Background(), resellerContext(t), "torna al mio workspace", "trace-1", nil)
	if res.Terminal() || res.Ended || res.Active != nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(sink.all()) != 0 {
		t.Fatal("nothing to deactivate, no audit expected")
	}
}

func TestDelegationResolver_NewClauseReplacesSessionDelegation(t *testing.T) {
	anna := delegation.Account{WorkspaceID: "ws-anna", UserID: "user-anna", DisplayName: "Anna Verdi"}
	r := newResolver(staticPortfolio(marioAccount, anna), &recordingSink{})

	res := r.ResolveSession(context.Background(), resellerContext(t), "per conto di Anna Verdi quanto costa un collo?", "trace-3", marioSession)
	if res.Outcome != delegation.OutcomeAccepted {
		t.Fatalf("expected acceptance, got %+v", res)
	}
	if res.Acting.Workspace().ID != "ws-anna" || res.Active == nil || res.Active.WorkspaceID != "ws-anna" {
		t.Fatalf("expected the new delegation to win, got %+v / %+v", res.Acting.Snapshot(), res.Active)
	}
}

func TestDelegationResolver_SessionDelegationNeedsPermission(t *testing.T) {
	ac, err := acting.New(
		acting.Actor{ID: "op-user", DisplayName: "Gianni", Role: acting.RoleUser},
		acting.Workspace{ID: "ws-user"},
	)
	if err != nil {
		t.Fatal(err)
	}
	r := newResolver(staticPortfolio(marioAccount), &recordingSink{})

	res := r.ResolveSession(context.Background(), ac, "e un collo da 10kg?", "trace-4", marioSession)
	if res.Acting.IsDelegating() || res.Active != nil {
		t.Fatalf("a session delegation must not outlive the permission, got %+v", res)
	}
}
