package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	anneotel "github.com/spediresicuro/anne/internal/adapter/otel"
	"github.com/spediresicuro/anne/internal/domain"
	"github.com/spediresicuro/anne/internal/domain/acting"
	"github.com/spediresicuro/anne/internal/domain/audit"
	"github.com/spediresicuro/anne/internal/domain/delegation"
	"github.com/spediresicuro/anne/internal/domain/guardrail"
	"github.com/spediresicuro/anne/internal/domain/intent"
	"github.com/spediresicuro/anne/internal/logger"
	"github.com/spediresicuro/anne/internal/port/messagequeue"
	"github.com/spediresicuro/anne/internal/port/worker"
)

const replyDetectorFailed = "Mi dispiace, in questo momento non riesco a interpretare la richiesta. Riprova tra poco."

// RouteRequest is one operator message to route.
type RouteRequest struct {
	Message string
	Acting  acting.Context
	// TraceID correlates retries; one is generated when empty.
	TraceID string
	Session intent.SessionState
}

// RouteResult is the outcome of Route.
type RouteResult struct {
	TraceID   string
	Decision  intent.Decision
	Guardrail *guardrail.Decision
	Reply     string
	// Acting is the effective identity after delegation resolution.
	Acting acting.Context
	// ActiveDelegation is what the caller stores in the session for the
	// next turn; nil clears it.
	ActiveDelegation *intent.ActiveDelegation
	// Result is the in-line worker output, when a worker ran.
	Result *guardrail.WorkerResult
}

// Supervisor routes a request in one pass: delegation check, intent match,
// then dispatch to a registered worker or hand-off to the caller.
type Supervisor struct {
	resolver *DelegationResolver
	cascade  intent.Cascade
	workers  *worker.Registry
	policy   guardrail.Policy
	sink     AuditSink
	pub      messagequeue.Publisher
	log      *slog.Logger
	metrics  *anneotel.Metrics
	now      func() time.Time
}

// NewSupervisor creates a Supervisor. workers, pub and metrics may be nil.
func NewSupervisor(
	resolver *DelegationResolver,
	cascade intent.Cascade,
	workers *worker.Registry,
	policy guardrail.Policy,
	sink AuditSink,
	pub messagequeue.Publisher,
	log *slog.Logger,
	metrics *anneotel.Metrics,
) *Supervisor {
	return &Supervisor{
		resolver: resolver,
		cascade:  cascade,
		workers:  workers,
		policy:   policy,
		sink:     sink,
		pub:      pub,
		log:      log,
		metrics:  metrics,
		now:      time.Now,
	}
}

// Route decides how to handle req. Only malformed requests return an error;
// every other failure resolves to a decision and a reply.
func (s *Supervisor) Route(ctx context.Context, req RouteRequest) (*RouteResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, fmt.Errorf("route: message is required: %w", domain.ErrValidation)
	}
	if req.Acting.Actor().ID == "" {
		return nil, fmt.Errorf("route: acting context is required: %w", domain.ErrValidation)
	}

	start := s.now()
	traceID := req.TraceID
	if traceID == "" {
		traceID = uuid.NewString()
	}
	ctx = logger.WithTraceID(ctx, traceID)
	ctx, span := anneotel.StartRouteSpan(ctx, traceID, req.Acting.Workspace().ID)
	defer span.End()

	res := s.route(ctx, req, traceID)
	span.SetAttributes(
		attribute.String("routing.next_step", string(res.Decision.NextStep)),
		attribute.String("routing.reason", res.Decision.Reason),
		attribute.Bool("routing.delegating", res.Acting.IsDelegating()),
	)
	s.complete(ctx, res, s.now().Sub(start))
	return res, nil
}

func (s *Supervisor) route(ctx context.Context, req RouteRequest, traceID string) *RouteResult {
	// received -> delegation-checked
	dres := s.resolver.ResolveSession(ctx, req.Acting, req.Message, traceID, req.Session.ActiveDelegation)
	res := &RouteResult{TraceID: traceID, Acting: dres.Acting, ActiveDelegation: dres.Active}
	if dres.Terminal() {
		res.Decision = intent.Terminal(delegationReason(dres), "")
		res.Reply = dres.Reply
		return res
	}

	// delegation-checked -> intent-matched
	rule, err := s.cascade.Match(ctx, intent.Input{Text: dres.Text, Session: req.Session})
	if err != nil {
		s.log.WarnContext(ctx, "intent detector failed", "detector", rule.Name, "error", err)
		res.Decision = intent.Terminal(intent.ReasonDetectorFailed, rule.Kind)
		res.Reply = replyDetectorFailed
		return res
	}

	// intent-matched -> dispatched
	w, ok := s.workers.Get(rule.Kind)
	if !ok {
		res.Decision = intent.Dispatch(rule.Kind, intent.ReasonMatched)
		res.Reply = dres.Notice
		return res
	}

	result, err := w.Run(ctx, dres.Acting, dres.Text, req.Session)
	if err != nil {
		s.log.ErrorContext(ctx, "worker failed, falling back to legacy", "worker", rule.Kind, "error", err)
		res.Decision = intent.Decision{
			NextStep:      intent.KindLegacyDefault.Step(),
			Reason:        intent.ReasonWorkerFailed,
			MatchedIntent: rule.Kind,
		}
		res.Reply = dres.Notice
		return res
	}

	gd := s.policy.Evaluate(result)
	res.Decision = intent.Terminal(intent.ReasonWorkerCompleted, rule.Kind)
	res.Guardrail = &gd
	res.Result = &result
	res.Reply = joinReply(dres.Notice, result.Reply, gd.UserMessage)

	if gd.Mode == guardrail.ModeAutoProceed {
		s.sink.Emit(ctx, audit.Entry{
			Action:      audit.ActionGuardrailAutoProceed,
			ActorID:     dres.Acting.Actor().ID,
			TargetID:    dres.Acting.Target().ID,
			WorkspaceID: dres.Acting.Workspace().ID,
			TraceID:     traceID,
			ResourceID:  "guardrail:" + string(rule.Kind),
			Metadata: map[string]any{
				"confidence":      result.ConfidenceScore,
				"action_category": string(result.ActionCategory),
				"delegating":      dres.Acting.IsDelegating(),
			},
		})
	}
	return res
}

// complete emits the per-request record, metrics and routing event.
func (s *Supervisor) complete(ctx context.Context, res *RouteResult, elapsed time.Duration) {
	mode := ""
	if res.Guardrail != nil {
		mode = string(res.Guardrail.Mode)
	}
	s.log.InfoContext(ctx, "supervisor_router_complete",
		"next_step", res.Decision.NextStep,
		"reason", res.Decision.Reason,
		"intent", res.Decision.MatchedIntent,
		"delegating", res.Acting.IsDelegating(),
		"guardrail_mode", mode,
		"duration_ms", elapsed.Milliseconds(),
	)

	if s.metrics != nil {
		s.metrics.RoutingDecisions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("next_step", string(res.Decision.NextStep)),
			attribute.String("reason", res.Decision.Reason),
		))
		s.metrics.RouteDuration.Record(ctx, elapsed.Seconds())
		if mode != "" {
			s.metrics.GuardrailDecisions.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
		}
	}

	if s.pub == nil {
		return
	}
	data, err := json.Marshal(messagequeue.RoutingDecidedPayload{
		TraceID:       res.TraceID,
		ActorID:       res.Acting.Actor().ID,
		TargetID:      res.Acting.Target().ID,
		WorkspaceID:   res.Acting.Workspace().ID,
		NextStep:      string(res.Decision.NextStep),
		Reason:        res.Decision.Reason,
		MatchedIntent: string(res.Decision.MatchedIntent),
		Delegating:    res.Acting.IsDelegating(),
		GuardrailMode: mode,
		DurationMs:    elapsed.Milliseconds(),
	})
	if err != nil {
		s.log.WarnContext(ctx, "routing event encode failed", "error", err)
		return
	}
	if err := s.pub.Publish(ctx, messagequeue.SubjectRoutingDecided, data); err != nil {
		s.log.WarnContext(ctx, "routing event publish failed", "error", err)
	}
}

func delegationReason(r DelegationResult) string {
	switch {
	case r.Ended:
		return intent.ReasonDelegationEnded
	case r.Outcome == delegation.OutcomeAmbiguous:
		return intent.ReasonDelegationAmbiguous
	case r.Outcome == delegation.OutcomeNotFound && r.Acting.CanDelegate():
		return intent.ReasonDelegationNotFound
	default:
		return intent.ReasonDelegationDenied
	}
}

func joinReply(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
