package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
)

func TestSecurityMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewSecurityMetrics(reg)
	if err != nil {
		t.Fatalf("NewSecurityMetrics returned error: %v", err)
	}

	metrics.ObserveRateLimitDecision("/api/v1/auth/login", "denied")
	metrics.ObserveRateLimitDecision("/api/v1/auth/login", "denied")
	metrics.ObserveRateLimitDecision("", "allowed")
	metrics.ObserveSessionCreated()
	metrics.ObserveSessionTerminated(domain.TerminationReasonSuperseded)

	if got := testutil.ToFloat64(metrics.RateLimitDecisions.WithLabelValues("/api/v1/auth/login", "denied")); got != 2 {
		t.Fatalf("expected 2 denied decisions, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.RateLimitDecisions.WithLabelValues("unknown", "allowed")); got != 1 {
		t.Fatalf("expected empty endpoint to be labelled unknown, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.SessionsCreated); got != 1 {
		t.Fatalf("expected 1 created session, got %v", got)
	}
	if got := testutil.ToFloat64(metrics.SessionsTerminated.WithLabelValues("SUPERSEDED")); got != 1 {
		t.Fatalf("expected 1 superseded termination, got %v", got)
	}
}

func TestSecurityMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSecurityMetrics(reg)
	if err != nil {
		t.Fatalf("NewSecurityMetrics returned error: %v", err)
	}
	second, err := NewSecurityMetrics(reg)
	if err != nil {
		t.Fatalf("second NewSecurityMetrics returned error: %v", err)
	}

	first.ObserveSessionCreated()
	if got := testutil.ToFloat64(second.SessionsCreated); got != 1 {
		t.Fatalf("expected collectors to be shared, got %v", got)
	}
}

func TestNilSecurityMetricsIsSafe(t *testing.T) {
	var metrics *SecurityMetrics
	metrics.ObserveRateLimitDecision("/x", "allowed")
	metrics.ObserveSessionCreated()
	metrics.ObserveSessionTerminated(domain.TerminationReasonTimeout)
}
