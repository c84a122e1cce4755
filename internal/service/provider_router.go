package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	anneotel "github.com/spediresicuro/anne/internal/adapter/otel"
	"github.com/spediresicuro/anne/internal/config"
	"github.com/spediresicuro/anne/internal/domain/llm"
	"github.com/spediresicuro/anne/internal/domain/provider"
	"github.com/spediresicuro/anne/internal/port/llmclient"
	"github.com/spediresicuro/anne/internal/resilience"
)

// Telemetry events emitted once per provider call.
const (
	EventLLMCall  = "llm_call"
	EventLLMError = "llm_error"
)

// CredentialSource returns provider API keys by configuration name and
// scrubs them from text. secrets.Vault implements it.
type CredentialSource interface {
	Get(key string) string
	RedactString(s string) string
}

// Chatter is the provider router as seen by detectors and workers.
type Chatter interface {
	Chat(ctx context.Context, role, domain string, msgs []llm.Message, opts llm.Options) (*llm.Response, error)
}

// ProviderRouter resolves provider and model per role and domain and makes
// exactly one bounded call. It never retries and never switches provider:
// the local provider is a fallback only when configured explicitly.
type ProviderRouter struct {
	lookup       provider.Lookup
	creds        CredentialSource
	clients      map[string]llmclient.Client
	breakers     *resilience.Set
	timeout      time.Duration
	localTimeout time.Duration
	log          *slog.Logger
	metrics      *anneotel.Metrics
	now          func() time.Time
}

// NewProviderRouter creates a router. breakers and metrics may be nil.
func NewProviderRouter(
	cfg config.Provider,
	lookup provider.Lookup,
	creds CredentialSource,
	clients map[string]llmclient.Client,
	breakers *resilience.Set,
	log *slog.Logger,
	metrics *anneotel.Metrics,
) *ProviderRouter {
	return &ProviderRouter{
		lookup:       lookup,
		creds:        creds,
		clients:      clients,
		breakers:     breakers,
		timeout:      cfg.Timeout,
		localTimeout: cfg.LocalTimeout,
		log:          log,
		metrics:      metrics,
		now:          time.Now,
	}
}

// Resolve reports which provider and model would serve role in domain.
func (r *ProviderRouter) Resolve(role, domain string) provider.Resolution {
	return provider.Resolve(r.lookup, role, domain)
}

// BreakerStates reports the circuit state of every provider called so far.
func (r *ProviderRouter) BreakerStates() []resilience.NamedState {
	if r.breakers == nil {
		return nil
	}
	return r.breakers.States()
}

// Chat sends msgs to the provider resolved for role and domain. Failures are
// returned as *provider.Error. The caller's cancellation does not abort an
// in-flight call; only the router's timeout does.
func (r *ProviderRouter) Chat(ctx context.Context, role, domain string, msgs []llm.Message, opts llm.Options) (*llm.Response, error) {
	res := r.Resolve(role, domain)

	ctx, span := anneotel.StartChatSpan(ctx, res.Provider, res.Model, role, domain)
	defer span.End()

	start := r.now()
	resp, err := r.call(ctx, res, llm.Request{Model: res.Model, Messages: msgs, Options: opts})
	elapsed := r.now().Sub(start)

	r.record(ctx, res, elapsed, resp, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
	}
	return resp, err
}

func (r *ProviderRouter) call(ctx context.Context, res provider.Resolution, req llm.Request) (*llm.Response, error) {
	if !provider.Known(res.Provider) {
		return nil, provider.NewError(provider.ErrUnknownProvider, res, nil)
	}
	if key, needed := provider.CredentialKey(res.Provider); needed && r.creds.Get(key) == "" {
		return nil, provider.NewError(provider.ErrNoCredential, res, fmt.Errorf("%s is not set", key))
	}
	client, ok := r.clients[res.Provider]
	if !ok {
		return nil, provider.NewError(provider.ErrCallFailed, res, errors.New("no client configured"))
	}

	timeout := r.timeout
	if res.Provider == provider.Local {
		timeout = r.localTimeout
	}

	if r.breakers == nil {
		return r.invoke(ctx, client, req, res, timeout)
	}

	var resp *llm.Response
	err := r.breakers.Get(res.Provider).Execute(func() error {
		var callErr error
		resp, callErr = r.invoke(ctx, client, req, res, timeout)
		return callErr
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return nil, provider.NewError(provider.ErrCircuitOpen, res, err)
	}
	return resp, err
}

// invoke runs the client call in its own goroutine and waits for the result
// or the deadline, whichever comes first. A client that ignores its context
// is abandoned at the deadline; its result is discarded.
func (r *ProviderRouter) invoke(ctx context.Context, client llmclient.Client, req llm.Request, res provider.Resolution, timeout time.Duration) (*llm.Response, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	type result struct {
		resp *llm.Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := client.Chat(callCtx, req)
		done <- result{resp: resp, err: err}
	}()

	select {
	case out := <-done:
		switch {
		case out.err != nil && errors.Is(out.err, context.DeadlineExceeded):
			return nil, provider.NewError(provider.ErrTimeout, res, out.err)
		case out.err != nil:
			return nil, provider.NewError(provider.ErrCallFailed, res, out.err)
		case out.resp == nil:
			return nil, provider.NewError(provider.ErrCallFailed, res, errors.New("empty response"))
		}
		if out.resp.Model == "" {
			out.resp.Model = res.Model
		}
		return out.resp, nil
	case <-callCtx.Done():
		return nil, provider.NewError(provider.ErrTimeout, res, fmt.Errorf("no response within %s", timeout))
	}
}

// record emits the single telemetry record of a call. It never includes
// message content.
func (r *ProviderRouter) record(ctx context.Context, res provider.Resolution, elapsed time.Duration, resp *llm.Response, err error) {
	event, level, outcome := EventLLMCall, slog.LevelInfo, "ok"
	if err != nil {
		event, level, outcome = EventLLMError, slog.LevelError, errorKind(err)
	}

	model := res.Model
	if resp != nil && resp.Model != "" {
		model = resp.Model
	}

	attrs := []slog.Attr{
		slog.String("event", event),
		slog.String("provider", res.Provider),
		slog.String("model", model),
		slog.String("role", res.Role),
		slog.String("domain", res.Domain),
		slog.Int64("elapsed_ms", elapsed.Milliseconds()),
	}
	if resp != nil && resp.Usage != nil {
		attrs = append(attrs,
			slog.Int("tokens_in", resp.Usage.InputTokens),
			slog.Int("tokens_out", resp.Usage.OutputTokens),
			slog.Int("tokens_total", resp.Usage.TotalTokens),
		)
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", r.creds.RedactString(err.Error())))
	}
	r.log.LogAttrs(ctx, level, event, attrs...)

	if r.metrics == nil {
		return
	}
	set := metric.WithAttributes(
		attribute.String("provider", res.Provider),
		attribute.String("role", res.Role),
		attribute.String("outcome", outcome),
	)
	r.metrics.LLMCalls.Add(ctx, 1, set)
	r.metrics.LLMDuration.Record(ctx, elapsed.Seconds(), set)
	if resp != nil && resp.Usage != nil {
		r.metrics.LLMTokens.Add(ctx, int64(resp.Usage.TotalTokens), metric.WithAttributes(
			attribute.String("provider", res.Provider),
			attribute.String("role", res.Role),
		))
	}
}

// errorKind names the provider error kind for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, provider.ErrNoCredential):
		return "no_credential"
	case errors.Is(err, provider.ErrTimeout):
		return "timeout"
	case errors.Is(err, provider.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, provider.ErrUnknownProvider):
		return "unknown_provider"
	default:
		return "call_failed"
	}
}

// IgnoreForBreaker reports errors that say nothing about provider health.
func IgnoreForBreaker(err error) bool {
	return errors.Is(err, provider.ErrNoCredential) || errors.Is(err, provider.ErrUnknownProvider)
}
