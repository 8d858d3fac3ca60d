package service

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Rotation results recorded on refreshguard.session.rotations.
const (
	RotationSuccess     = "success"
	RotationInvalid     = "invalid"
	RotationStale       = "stale"
	RotationCompromised = "compromised"
	RotationError       = "error"
)

// Attempt kinds recorded on refreshguard.auth.attempts.
const (
	AttemptLogin    = "login"
	AttemptRegister = "register"
	AttemptRefresh  = "refresh"
)

// Metrics holds the session counters. A nil *Metrics records nothing.
type Metrics struct {
	issued        metric.Int64Counter
	rotations     metric.Int64Counter
	reuseDetected metric.Int64Counter
	revoked       metric.Int64Counter
	authAttempts  metric.Int64Counter
}

// NewMetrics creates the counters on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	var (
		m   Metrics
		err error
	)
	if m.issued, err = meter.Int64Counter("refreshguard.session.issued",
		metric.WithDescription("Sessions issued at login or registration")); err != nil {
		return nil, err
	}
	if m.rotations, err = meter.Int64Counter("refreshguard.session.rotations",
		metric.WithDescription("Refresh token rotations by result")); err != nil {
		return nil, err
	}
	if m.reuseDetected, err = meter.Int64Counter("refreshguard.session.reuse_detected",
		metric.WithDescription("Replays of rotated or revoked refresh tokens")); err != nil {
		return nil, err
	}
	if m.revoked, err = meter.Int64Counter("refreshguard.session.revoked",
		metric.WithDescription("Sessions revoked by logout or reuse handling")); err != nil {
		return nil, err
	}
	if m.authAttempts, err = meter.Int64Counter("refreshguard.auth.attempts",
		metric.WithDescription("Authentication attempts by type and outcome")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) sessionIssued(ctx context.Context) {
	if m == nil {
		return
	}
	m.issued.Add(ctx, 1)
}

func (m *Metrics) rotation(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.rotations.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) reuse(ctx context.Context) {
	if m == nil {
		return
	}
	m.reuseDetected.Add(ctx, 1)
}

func (m *Metrics) sessionsRevoked(ctx context.Context, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.revoked.Add(ctx, n)
}

// AuthAttempt records one login, register or refresh attempt.
func (m *Metrics) AuthAttempt(ctx context.Context, kind string, success bool) {
	if m == nil {
		return
	}
	m.authAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("type", kind),
		attribute.Bool("success", success),
	))
}
