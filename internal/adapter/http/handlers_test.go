package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	annehttp "github.com/spediresicuro/anne/internal/adapter/http"
	"github.com/spediresicuro/anne/internal/adapter/memory"
	"github.com/spediresicuro/anne/internal/config"
	"github.com/spediresicuro/anne/internal/domain"
	"github.com/spediresicuro/anne/internal/domain/acting"
	"github.com/spediresicuro/anne/internal/domain/audit"
	"github.com/spediresicuro/anne/internal/domain/guardrail"
	"github.com/spediresicuro/anne/internal/domain/intent"
	"github.com/spediresicuro/anne/internal/domain/provider"
	"github.com/spediresicuro/anne/internal/logger"
	"github.com/spediresicuro/anne/internal/port/worker"
	"github.com/spediresicuro/anne/internal/resilience"
	"github.com/spediresicuro/anne/internal/service"
)

// routerFunc adapts a function to annehttp.Router.
type routerFunc func(ctx context.Context, req service.RouteRequest) (*service.RouteResult, error)

func (f routerFunc) Route(ctx context.Context, req service.RouteRequest) (*service.RouteResult, error) {
	return f(ctx, req)
}

type fakeProviders struct {
	states []resilience.NamedState
}

func (f fakeProviders) Resolve(role, dom string) provider.Resolution {
	return provider.Resolve(provider.MapLookup(map[string]string{"PROVIDER": provider.Anthropic}), role, dom)
}

func (f fakeProviders) BreakerStates() []resilience.NamedState { return f.states }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTestRouter(h *annehttp.Handlers) chi.Router {
	r := chi.NewRouter()
	annehttp.MountRoutes(r, h, nil)
	return r
}

func do(t *testing.T, r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

var resellerSnapshot = acting.Snapshot{
	Actor:     acting.Actor{ID: "op-reseller", DisplayName: "Luca Reseller", Role: acting.RoleReseller},
	Workspace: acting.Workspace{ID: "ws-reseller", Name: "Reseller Hub", Depth: 1},
}

func TestRouteDelegatedPricing(t *testing.T) {
	store := memory.NewAuditStore()
	emitter := service.NewAuditEmitter(store, nil, config.Defaults().Audit, discardLogger(), nil)
	defer emitter.Close()

	port := memory.NewPortfolio([]config.StaticAccount{{
		OperatorID: "op-reseller", WorkspaceID: "ws-mario", WorkspaceName: "Rossi Spedizioni",
		UserID: "user-mario", DisplayName: "Mario Rossi",
	}})
	resolver := service.NewDelegationResolver(port, emitter, config.Defaults().Delegation, discardLogger(), nil)

	workers := worker.NewRegistry()
	err := workers.Register(intent.KindPricing, worker.Func(func(_ context.Context, ac acting.Context, _ string, _ intent.SessionState) (guardrail.WorkerResult, error) {
		if ac.Workspace().ID != "ws-mario" {
			return guardrail.WorkerResult{}, fmt.Errorf("unexpected workspace %s", ac.Workspace().ID)
		}
		return guardrail.WorkerResult{ConfidenceScore: 90, ActionCategory: guardrail.CategorySafeReversible, Reply: "GLS 8,90 €"}, nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	sup := service.NewSupervisor(resolver, intent.DefaultCascade(nil), workers, guardrail.DefaultPolicy(), emitter, nil, discardLogger(), nil)
	r := newTestRouter(&annehttp.Handlers{Supervisor: sup, Audit: store})

	rec := do(t, r, http.MethodPost, "/api/v1/route", map[string]any{
		"message":        "per conto di Mario Rossi quanto costa un collo da 5kg a Roma?",
		"acting_context": resellerSnapshot,
		"trace_id":       "trace-http-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var out struct {
		TraceID   string              `json:"trace_id"`
		Decision  intent.Decision     `json:"decision"`
		Guardrail *guardrail.Decision `json:"guardrail"`
		Reply     string              `json:"reply"`
		Acting    acting.Snapshot     `json:"acting_context"`

		ActiveDelegation *intent.ActiveDelegation `json:"active_delegation"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	if out.TraceID != "trace-http-1" {
		t.Errorf("trace id = %q", out.TraceID)
	}
	if out.Decision.NextStep != intent.End || out.Decision.MatchedIntent != intent.KindPricing {
		t.Errorf("unexpected decision %+v", out.Decision)
	}
	if out.Guardrail == nil || out.Guardrail.Mode != guardrail.ModeAutoProceed {
		t.Errorf("expected auto-proceed, got %+v", out.Guardrail)
	}
	if !out.Acting.IsDelegating || out.Acting.Target.ID != "user-mario" || out.Acting.Actor.ID != "op-reseller" {
		t.Errorf("unexpected acting %+v", out.Acting)
	}
	if out.ActiveDelegation == nil || out.ActiveDelegation.WorkspaceID != "ws-mario" {
		t.Fatalf("expected the active delegation in the response, got %+v", out.ActiveDelegation)
	}

	// The next turn carries the delegation back in the session.
	rec = do(t, r, http.MethodPost, "/api/v1/route", map[string]any{
		"message":        "quanto costa un collo da 10kg a Torino?",
		"acting_context": resellerSnapshot,
		"trace_id":       "trace-http-2",
		"session":        intent.SessionState{ActiveDelegation: out.ActiveDelegation},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("follow-up: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"reason":"worker_completed"`) {
		t.Errorf("follow-up must reach the worker for ws-mario, got %s", rec.Body.String())
	}

	emitter.Close()
	rec = do(t, r, http.MethodGet, "/api/v1/audit?workspace_id=ws-reseller", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("audit list: expected 200, got %d", rec.Code)
	}
	var entries []audit.Entry
	if err := json.NewDecoder(rec.Body).Decode(&entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Action != audit.ActionDelegationActivated {
		t.Errorf("expected one delegation entry, got %+v", entries)
	}
}

func TestRouteValidation(t *testing.T) {
	called := false
	r := newTestRouter(&annehttp.Handlers{Supervisor: routerFunc(func(context.Context, service.RouteRequest) (*service.RouteResult, error) {
		called = true
		return nil, errors.New("unreachable")
	})})

	delegated := resellerSnapshot
	delegated.IsDelegating = true
	delegated.Target = acting.Principal{ID: "user-mario"}

	tests := []struct {
		name string
		body any
	}{
		{"malformed body", "{not json"},
		{"missing message", map[string]any{"acting_context": resellerSnapshot}},
		{"missing actor", map[string]any{"message": "ciao", "acting_context": acting.Snapshot{Workspace: resellerSnapshot.Workspace}}},
		{"client-side delegation", map[string]any{"message": "ciao", "acting_context": delegated}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, r, http.MethodPost, "/api/v1/route", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
	if called {
		t.Error("supervisor must not run on invalid requests")
	}
}

func TestRouteErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("route: message is required: %w", domain.ErrValidation), http.StatusBadRequest},
		{"internal", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&annehttp.Handlers{Supervisor: routerFunc(func(context.Context, service.RouteRequest) (*service.RouteResult, error) {
				return nil, tt.err
			})})
			rec := do(t, r, http.MethodPost, "/api/v1/route", map[string]any{"message": "ciao", "acting_context": resellerSnapshot})
			if rec.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, rec.Code)
			}
			if tt.want == http.StatusInternalServerError && strings.Contains(rec.Body.String(), "boom") {
				t.Error("internal error details must not leak")
			}
		})
	}
}

func TestRouteTraceIDFromHeader(t *testing.T) {
	var got string
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(logger.WithTraceID(req.Context(), "trace-header")))
		})
	})
	annehttp.MountRoutes(r, &annehttp.Handlers{Supervisor: routerFunc(func(_ context.Context, req service.RouteRequest) (*service.RouteResult, error) {
		got = req.TraceID
		return &service.RouteResult{TraceID: req.TraceID, Decision: intent.Terminal(intent.ReasonMatched, intent.KindSupport), Acting: req.Acting}, nil
	})}, nil)

	rec := do(t, r, http.MethodPost, "/api/v1/route", map[string]any{"message": "ciao", "acting_context": resellerSnapshot})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got != "trace-header" {
		t.Errorf("trace id = %q, want trace-header", got)
	}
}

func TestResolveProvider(t *testing.T) {
	r := newTestRouter(&annehttp.Handlers{Providers: fakeProviders{}})

	rec := do(t, r, http.MethodGet, "/api/v1/providers/resolve?role=supervisor&domain=pricing", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var res provider.Resolution
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatal(err)
	}
	if res.Provider != provider.Anthropic || res.ProviderSource != "PROVIDER" {
		t.Errorf("unexpected resolution %+v", res)
	}

	rec = do(t, r, http.MethodGet, "/api/v1/providers/resolve", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing role: expected 400, got %d", rec.Code)
	}
}

func TestListAuditUnsupported(t *testing.T) {
	r := newTestRouter(&annehttp.Handlers{})
	rec := do(t, r, http.MethodGet, "/api/v1/audit?workspace_id=ws-1", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		checks     map[string]annehttp.HealthCheck
		states     []resilience.NamedState
		wantCode   int
		wantStatus string
	}{
		{
			name:       "all ok",
			checks:     map[string]annehttp.HealthCheck{"nats": func(context.Context) error { return nil }},
			wantCode:   http.StatusOK,
			wantStatus: "ok",
		},
		{
			name:       "open breaker degrades without failing",
			states:     []resilience.NamedState{{Name: provider.OpenAI, State: resilience.StateOpen}},
			wantCode:   http.StatusOK,
			wantStatus: "degraded",
		},
		{
			name:       "failed check",
			checks:     map[string]annehttp.HealthCheck{"postgres": func(context.Context) error { return errors.New("refused") }},
			wantCode:   http.StatusServiceUnavailable,
			wantStatus: "degraded",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newTestRouter(&annehttp.Handlers{Providers: fakeProviders{states: tt.states}, Checks: tt.checks})
			rec := do(t, r, http.MethodGet, "/health", nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("expected %d, got %d", tt.wantCode, rec.Code)
			}
			var body struct {
				Status string `json:"status"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
		})
	}
}
