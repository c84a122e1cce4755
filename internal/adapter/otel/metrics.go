package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "anne"

// Metrics holds all decision-layer metric instruments.
type Metrics struct {
	LLMCalls           metric.Int64Counter
	LLMDuration        metric.Float64Histogram
	LLMTokens          metric.Int64Counter
	RoutingDecisions   metric.Int64Counter
	RouteDuration      metric.Float64Histogram
	GuardrailDecisions metric.Int64Counter
	DelegationOutcomes metric.Int64Counter
	AuditWritten       metric.Int64Counter
	AuditDropped       metric.Int64Counter
}

// NewMetrics creates all metric instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.LLMCalls, err = meter.Int64Counter("anne.llm.calls",
		metric.WithDescription("Provider calls by provider, role and outcome"))
	if err != nil {
		return nil, err
	}

	m.LLMDuration, err = meter.Float64Histogram("anne.llm.duration_seconds",
		metric.WithDescription("Provider call latency in seconds"))
	if err != nil {
		return nil, err
	}

	m.LLMTokens, err = meter.Int64Counter("anne.llm.tokens",
		metric.WithDescription("Tokens reported by providers"))
	if err != nil {
		return nil, err
	}

	m.RoutingDecisions, err = meter.Int64Counter("anne.routing.decisions",
		metric.WithDescription("Routing decisions by next step and reason"))
	if err != nil {
		return nil, err
	}

	m.RouteDuration, err = meter.Float64Histogram("anne.routing.duration_seconds",
		metric.WithDescription("End-to-end route latency in seconds"))
	if err != nil {
		return nil, err
	}

	m.GuardrailDecisions, err = meter.Int64Counter("anne.guardrail.decisions",
		metric.WithDescription("Guardrail outcomes by mode"))
	if err != nil {
		return nil, err
	}

	m.DelegationOutcomes, err = meter.Int64Counter("anne.delegation.outcomes",
		metric.WithDescription("Delegation resolver outcomes"))
	if err != nil {
		return nil, err
	}

	m.AuditWritten, err = meter.Int64Counter("anne.audit.written",
		metric.WithDescription("Audit entries written or skipped as duplicates"))
	if err != nil {
		return nil, err
	}

	m.AuditDropped, err = meter.Int64Counter("anne.audit.dropped",
		metric.WithDescription("Audit entries dropped or failed"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
