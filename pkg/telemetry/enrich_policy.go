package telemetry

import (
	"github.com/polisai/atomws/pkg/policy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RecordPolicyDecision annotates the span with the policy decision outcome.
func RecordPolicyDecision(span trace.Span, decision policy.Decision) {
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.String("policy.decision.action", string(decision.Action)))
	if decision.Reason != "" {
		span.SetAttributes(attribute.String("policy.decision.reason", decision.Reason))
	}
	if decision.Status != 0 {
		span.SetAttributes(attribute.Int("policy.decision.status", decision.Status))
	}
	for key, value := range decision.Metadata {
		if value == "" {
			continue
		}
		span.SetAttributes(attribute.String("policy."+key, value))
	}
}
