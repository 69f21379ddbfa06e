package telemetry

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/core/port"
)

const namespace = "blog"

// Register registers collector with reg, returning the already registered collector of
// the same type when one exists.
func Register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("existing collector has unexpected type %T", already.ExistingCollector)
		}
		var zero T
		return zero, fmt.Errorf("register collector: %w", err)
	}
	return collector, nil
}

// SecurityMetrics records rate-limit decisions and session lifecycle transitions.
type SecurityMetrics struct {
	RateLimitDecisions *prometheus.CounterVec
	SessionsCreated    prometheus.Counter
	SessionsTerminated *prometheus.CounterVec
}

// NewSecurityMetrics constructs and registers the engine collectors.
func NewSecurityMetrics(reg prometheus.Registerer) (*SecurityMetrics, error) {
	decisions, err := Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate-limit decisions partitioned by endpoint and outcome.",
	}, []string{"endpoint", "outcome"}))
	if err != nil {
		return nil, err
	}

	created, err := Register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "created_total",
		Help:      "Sessions created by successful logins.",
	}))
	if err != nil {
		return nil, err
	}

	terminated, err := Register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "terminated_total",
		Help:      "Sessions that left the active state, partitioned by reason.",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}

	return &SecurityMetrics{
		RateLimitDecisions: decisions,
		SessionsCreated:    created,
		SessionsTerminated: terminated,
	}, nil
}

// ObserveRateLimitDecision counts one limiter decision.
func (m *SecurityMetrics) ObserveRateLimitDecision(endpoint, outcome string) {
	if m == nil {
		return
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	m.RateLimitDecisions.WithLabelValues(endpoint, outcome).Inc()
}

// ObserveSessionCreated counts one new session.
func (m *SecurityMetrics) ObserveSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// ObserveSessionTerminated counts one terminated session.
func (m *SecurityMetrics) ObserveSessionTerminated(reason domain.TerminationReason) {
	if m == nil {
		return
	}
	m.SessionsTerminated.WithLabelValues(string(reason)).Inc()
}

var _ port.SecurityMetrics = (*SecurityMetrics)(nil)
