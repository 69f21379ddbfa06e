package audit

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nobodyz328/MyWeb-sub005/internal/core/domain"
	"github.com/nobodyz328/MyWeb-sub005/internal/core/port"
)

// Fanout delivers every event to each configured backend. One backend failing
// does not stop delivery to the others.
type Fanout struct {
	sinks  []port.AuditSink
	logger *zap.Logger
}

// NewFanout builds a sink over the non-nil backends.
func NewFanout(logger *zap.Logger, sinks ...port.AuditSink) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fanout{logger: logger}
	for _, sink := range sinks {
		if sink != nil {
			f.sinks = append(f.sinks, sink)
		}
	}
	return f
}

// Len returns the number of backends.
func (f *Fanout) Len() int { return len(f.sinks) }

func (f *Fanout) each(kind string, deliver func(port.AuditSink) error) error {
	var errs []error
	for _, sink := range f.sinks {
		if err := deliver(sink); err != nil {
			backend := fmt.Sprintf("%T", sink)
			f.logger.Warn("audit backend failed",
				zap.String("backend", backend),
				zap.String("kind", kind),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("%s: %w", backend, err))
		}
	}
	return errors.Join(errs...)
}

func (f *Fanout) LogSecurityEvent(ctx context.Context, event domain.SecurityEvent) error {
	return f.each(kindSecurity, func(s port.AuditSink) error { return s.LogSecurityEvent(ctx, event) })
}

func (f *Fanout) LogUserLogin(ctx context.Context, event domain.LoginEvent) error {
	return f.each(kindLogin, func(s port.AuditSink) error { return s.LogUserLogin(ctx, event) })
}

func (f *Fanout) LogUserLogout(ctx context.Context, event domain.LogoutEvent) error {
	return f.each(kindLogout, func(s port.AuditSink) error { return s.LogUserLogout(ctx, event) })
}

var _ port.AuditSink = (*Fanout)(nil)
