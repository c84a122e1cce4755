package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	anneotel "github.com/spediresicuro/anne/internal/adapter/otel"
	"github.com/spediresicuro/anne/internal/config"
	"github.com/spediresicuro/anne/internal/domain/acting"
	"github.com/spediresicuro/anne/internal/domain/audit"
	"github.com/spediresicuro/anne/internal/domain/delegation"
	"github.com/spediresicuro/anne/internal/domain/intent"
	"github.com/spediresicuro/anne/internal/port/portfolio"
)

// Delegation replies.
const (
	replyDelegationDenied    = "Non hai i permessi per operare per conto di altri clienti in questo workspace."
	replyDelegationNotFound  = "Non ho trovato nessun sub-client con nome %q. Verifica il nome e riprova."
	replyDelegationAmbiguous = "Ho trovato più clienti simili a %q. Quale intendi?\n\n%s\n\nSpecifica il nome esatto."
	noticeDelegationActive   = "Opero per conto di %s."
	replyDelegationEnded     = "Ho disattivato la delegazione per %s. Ora opero di nuovo sul tuo workspace."
)

// DelegationResult is the outcome of delegation resolution for one request.
type DelegationResult struct {
	// Detected is true when the message contained an "on behalf of" clause.
	Detected bool
	Outcome  delegation.Outcome
	// Acting is the effective identity: derived on acceptance, the original otherwise.
	Acting acting.Context
	// Text is the message handed to intent detection, without the delegation clause.
	Text string
	// Reply is set when resolution ends the request (denied, not found, ambiguous).
	Reply string
	// Notice tells the operator whom they are acting for after acceptance.
	Notice     string
	Candidates []delegation.Candidate
	// LookupErr is set when the portfolio lookup failed; the request proceeds
	// without delegation.
	LookupErr error
	// Active is the delegation the caller keeps for the next turn, nil when
	// none is in effect.
	Active *intent.ActiveDelegation
	// Ended is true when the operator closed an active delegation.
	Ended bool
}

// Terminal reports whether resolution produced the final reply.
func (r DelegationResult) Terminal() bool { return r.Reply != "" }

// DelegationResolver turns "per conto di X" phrasing into a derived acting
// identity, auditing every activation.
type DelegationResolver struct {
	portfolio portfolio.Lookup
	sink      AuditSink
	rule      delegation.Rule
	scorer    delegation.Scorer
	maxListed int
	log       *slog.Logger
	metrics   *anneotel.Metrics
}

// NewDelegationResolver creates a resolver. metrics may be nil.
func NewDelegationResolver(p portfolio.Lookup, sink AuditSink, cfg config.Delegation, log *slog.Logger, metrics *anneotel.Metrics) *DelegationResolver {
	maxListed := cfg.MaxListed
	if maxListed < 1 {
		maxListed = 5
	}
	return &DelegationResolver{
		portfolio: p,
		sink:      sink,
		rule:      delegation.Rule{Threshold: cfg.ConfidenceThreshold, Margin: cfg.MinMargin},
		scorer:    delegation.Score,
		maxListed: maxListed,
		log:       log,
		metrics:   metrics,
	}
}

// SetScorer replaces the name similarity function.
func (r *DelegationResolver) SetScorer(s delegation.Scorer) {
	if s != nil {
		r.scorer = s
	}
}

// Resolve checks message for delegation phrasing and resolves the target.
// ac is never modified.
func (r *DelegationResolver) Resolve(ctx context.Context, ac acting.Context, message, traceID string) DelegationResult {
	return r.ResolveSession(ctx, ac, message, traceID, nil)
}

// ResolveSession is Resolve for a conversation that may carry a delegation
// from an earlier turn. An end-delegation request closes active; without a
// new clause, active is restored onto ac.
func (r *DelegationResolver) ResolveSession(ctx context.Context, ac acting.Context, message, traceID string, active *intent.ActiveDelegation) DelegationResult {
	if !active.Valid() {
		active = nil
	}
	if active != nil && !ac.CanDelegate() {
		r.log.WarnContext(ctx, "dropping session delegation", "operator_id", ac.Actor().ID, "role", ac.Actor().Role)
		active = nil
	}

	if active != nil && intent.DetectEndDelegation(message) {
		return r.end(ctx, ac, message, traceID, active)
	}

	req, ok := intent.DetectDelegation(message)
	if !ok {
		if active != nil {
			return r.restore(ctx, ac, message, active)
		}
		return DelegationResult{Acting: ac, Text: message}
	}

	res := DelegationResult{Detected: true, Acting: ac, Text: req.Remainder, Active: active}
	operator := ac.Actor().ID

	if !ac.CanDelegate() {
		r.log.WarnContext(ctx, "delegation not permitted", "operator_id", operator, "role", ac.Actor().Role)
		r.count(ctx, "denied")
		res.Reply = replyDelegationDenied
		return res
	}

	ctx, span := anneotel.StartDelegationSpan(ctx, operator)
	defer span.End()

	accounts, err := r.portfolio.ListDelegableAccounts(ctx, operator)
	if err != nil {
		lerr := &delegation.LookupError{OperatorID: operator, Err: err}
		span.RecordError(lerr)
		r.log.WarnContext(ctx, "delegation_lookup_failed", "operator_id", operator, "error", lerr)
		r.count(ctx, "lookup_failed")
		res.LookupErr = lerr
		return res
	}

	sel := r.rule.Select(delegation.Rank(req.Name, accounts, r.scorer))
	res.Outcome = sel.Outcome
	res.Candidates = sel.Candidates
	span.SetAttributes(
		attribute.String("delegation.outcome", sel.Outcome.String()),
		attribute.Int("delegation.candidates", len(sel.Candidates)),
	)
	r.count(ctx, sel.Outcome.String())

	switch sel.Outcome {
	case delegation.OutcomeNotFound:
		res.Reply = fmt.Sprintf(replyDelegationNotFound, req.Name)
	case delegation.OutcomeAmbiguous:
		res.Reply = fmt.Sprintf(replyDelegationAmbiguous, req.Name, r.candidateList(sel.Candidates))
		r.log.InfoContext(ctx, "delegation ambiguous", "operator_id", operator, "candidates", len(sel.Candidates))
	case delegation.OutcomeAccepted:
		best := sel.Best
		res.Acting = ac.WithDelegation(
			acting.Principal{ID: best.UserID, DisplayName: best.DisplayName, Role: acting.RoleUser},
			acting.Workspace{ID: best.WorkspaceID, Name: best.WorkspaceName},
			acting.ReasonOnBehalfOf,
		)
		res.Active = &intent.ActiveDelegation{
			TargetUserID:  best.UserID,
			TargetName:    best.DisplayName,
			WorkspaceID:   best.WorkspaceID,
			WorkspaceName: best.WorkspaceName,
		}
		res.Notice = fmt.Sprintf(noticeDelegationActive, best.DisplayName)
		r.log.InfoContext(ctx, "delegation activated",
			"operator_id", operator,
			"target_workspace_id", best.WorkspaceID,
			"confidence", best.Confidence,
		)
		r.sink.Emit(ctx, audit.Entry{
			Action:      audit.ActionDelegationActivated,
			ActorID:     operator,
			TargetID:    best.UserID,
			WorkspaceID: ac.Workspace().ID,
			TraceID:     traceID,
			ResourceID:  best.WorkspaceID,
			Metadata: map[string]any{
				"sub_client_name":  best.DisplayName,
				"confidence":       best.Confidence,
				"phrase":           req.Phrase,
				"action_requested": audit.Truncate(message),
			},
		})
	}
	return res
}

// restore re-derives the acting identity from a delegation kept in the session.
func (r *DelegationResolver) restore(ctx context.Context, ac acting.Context, message string, active *intent.ActiveDelegation) DelegationResult {
	r.log.DebugContext(ctx, "session delegation restored",
		"operator_id", ac.Actor().ID,
		"target_workspace_id", active.WorkspaceID,
	)
	r.count(ctx, "restored")
	return DelegationResult{
		Acting: ac.WithDelegation(
			acting.Principal{ID: active.TargetUserID, DisplayName: active.TargetName, Role: acting.RoleUser},
			acting.Workspace{ID: active.WorkspaceID, Name: active.WorkspaceName},
			acting.ReasonSession,
		),
		Text:   message,
		Active: active,
	}
}

// end closes an active delegation. The operator's own identity stays in effect.
func (r *DelegationResolver) end(ctx context.Context, ac acting.Context, message, traceID string, active *intent.ActiveDelegation) DelegationResult {
	operator := ac.Actor().ID
	r.log.InfoContext(ctx, "delegation deactivated",
		"operator_id", operator,
		"target_workspace_id", active.WorkspaceID,
	)
	r.count(ctx, "ended")
	r.sink.Emit(ctx, audit.Entry{
		Action:      audit.ActionDelegationDeactivated,
		ActorID:     operator,
		TargetID:    active.TargetUserID,
		WorkspaceID: ac.Workspace().ID,
		TraceID:     traceID,
		ResourceID:  active.WorkspaceID,
		Metadata: map[string]any{
			"sub_client_name":  active.TargetName,
			"action_requested": audit.Truncate(message),
		},
	})
	return DelegationResult{
		Acting: ac,
		Text:   message,
		Reply:  fmt.Sprintf(replyDelegationEnded, active.TargetName),
		Ended:  true,
	}
}

func (r *DelegationResolver) candidateList(cands []delegation.Candidate) string {
	if len(cands) > r.maxListed {
		cands = cands[:r.maxListed]
	}
	lines := make([]string, 0, len(cands))
	for _, c := range cands {
		if c.WorkspaceName != "" {
			lines = append(lines, fmt.Sprintf("• **%s** (%s)", c.WorkspaceName, c.DisplayName))
		} else {
			lines = append(lines, fmt.Sprintf("• **%s**", c.DisplayName))
		}
	}
	return strings.Join(lines, "\n")
}

func (r *DelegationResolver) count(ctx context.Context, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.DelegationOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
