package http

import (
	"context"
	"net/http"
	"time"

	"github.com/spediresicuro/anne/internal/domain/acting"
	"github.com/spediresicuro/anne/internal/domain/audit"
	"github.com/spediresicuro/anne/internal/domain/guardrail"
	"github.com/spediresicuro/anne/internal/domain/intent"
	"github.com/spediresicuro/anne/internal/domain/provider"
	"github.com/spediresicuro/anne/internal/logger"
	"github.com/spediresicuro/anne/internal/port/auditstore"
	"github.com/spediresicuro/anne/internal/resilience"
	"github.com/spediresicuro/anne/internal/service"
)

// Router is the decision entry point. *service.Supervisor implements it.
type Router interface {
	Route(ctx context.Context, req service.RouteRequest) (*service.RouteResult, error)
}

// Providers reports provider resolution and breaker state.
// *service.ProviderRouter implements it.
type Providers interface {
	Resolve(role, domain string) provider.Resolution
	BreakerStates() []resilience.NamedState
}

// HealthCheck probes one dependency. A nil error means healthy.
type HealthCheck func(ctx context.Context) error

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Supervisor Router
	Providers  Providers
	Audit      auditstore.Lister // nil when the audit backend cannot list
	Checks     map[string]HealthCheck
	Version    string
}

type routeRequest struct {
	Message       string              `json:"message"`
	ActingContext acting.Snapshot     `json:"acting_context"`
	TraceID       string              `json:"trace_id"`
	Session       intent.SessionState `json:"session"`
}

type routeResponse struct {
	TraceID          string                   `json:"trace_id"`
	Decision         intent.Decision          `json:"decision"`
	Guardrail        *guardrail.Decision      `json:"guardrail,omitempty"`
	Reply            string                   `json:"reply"`
	Acting           acting.Snapshot          `json:"acting_context"`
	ActiveDelegation *intent.ActiveDelegation `json:"active_delegation,omitempty"`
	Payload          map[string]any           `json:"payload,omitempty"`
}

// Route handles POST /api/v1/route. The body carries the operator's own
// identity: delegation is resolved from the message, never accepted from
// the client.
func (h *Handlers) Route(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[routeRequest](w, r)
	if !ok {
		return
	}
	if !requireField(w, req.Message, "message") {
		return
	}
	if req.ActingContext.IsDelegating {
		writeError(w, http.StatusBadRequest, "acting_context must describe the operator, not a delegated account")
		return
	}
	ac, err := acting.New(req.ActingContext.Actor, req.ActingContext.Workspace)
	if err != nil {
		writeDomainError(w, err, "invalid acting context")
		return
	}

	traceID := req.TraceID
	if traceID == "" {
		traceID = logger.TraceID(r.Context())
	}

	res, err := h.Supervisor.Route(r.Context(), service.RouteRequest{
		Message: req.Message,
		Acting:  ac,
		TraceID: traceID,
		Session: req.Session,
	})
	if err != nil {
		writeDomainError(w, err, "route failed")
		return
	}

	out := routeResponse{
		TraceID:          res.TraceID,
		Decision:         res.Decision,
		Guardrail:        res.Guardrail,
		Reply:            res.Reply,
		Acting:           res.Acting.Snapshot(),
		ActiveDelegation: res.ActiveDelegation,
	}
	if res.Result != nil {
		out.Payload = res.Result.Payload
	}
	writeJSON(w, http.StatusOK, out)
}

// ResolveProvider handles GET /api/v1/providers/resolve?role=&domain=.
func (h *Handlers) ResolveProvider(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("role")
	if !requireField(w, role, "role") {
		return
	}
	writeJSON(w, http.StatusOK, h.Providers.Resolve(role, r.URL.Query().Get("domain")))
}

// ListAudit handles GET /api/v1/audit?workspace_id=.
func (h *Handlers) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.Audit == nil {
		writeError(w, http.StatusNotImplemented, "audit backend does not support listing")
		return
	}
	ws := r.URL.Query().Get("workspace_id")
	if !requireField(w, ws, "workspace_id") {
		return
	}
	entries, err := h.Audit.List(r.Context(), ws)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

type healthStatus struct {
	Status    string                  `json:"status"`
	Version   string                  `json:"version,omitempty"`
	Checks    map[string]string       `json:"checks,omitempty"`
	Providers []resilience.NamedState `json:"providers"`
}

// Health handles GET /health. A failing check answers 503. An open provider
// breaker only marks the status degraded: deterministic routes keep working.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	st := healthStatus{Status: "ok", Version: h.Version, Providers: []resilience.NamedState{}}
	code := http.StatusOK

	if len(h.Checks) > 0 {
		st.Checks = make(map[string]string, len(h.Checks))
	}
	for name, check := range h.Checks {
		if err := check(ctx); err != nil {
			st.Checks[name] = "error: " + err.Error()
			st.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		st.Checks[name] = "ok"
	}

	if h.Providers != nil {
		for _, b := range h.Providers.BreakerStates() {
			if b.State == resilience.StateOpen {
				st.Status = "degraded"
			}
			st.Providers = append(st.Providers, b)
		}
	}
	writeJSON(w, code, st)
}
