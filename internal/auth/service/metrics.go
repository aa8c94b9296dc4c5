package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MeterName is the instrumentation scope of the service's instruments.
const MeterName = "github.com/aussiebroadwan/tokend"

// Refresh outcomes.
const (
	OutcomeRotated       = "rotated"
	OutcomeRejected      = "rejected"
	OutcomeReuseDetected = "reuse_detected"
	OutcomeError         = "error"
)

// Metrics holds the service counters. A nil *Metrics records nothing.
type Metrics struct {
	issued    metric.Int64Counter
	refreshes metric.Int64Counter
	rejected  metric.Int64Counter
	reuse     metric.Int64Counter
	rotations metric.Int64Counter
}

// NewMetrics registers the service counters on meter. A nil meter yields
// no-op instruments.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(MeterName)
	}

	var (
		m   Metrics
		err error
	)
	if m.issued, err = meter.Int64Counter("tokend_tokens_issued_total",
		metric.WithDescription("Tokens signed, by kind.")); err != nil {
		return nil, fmt.Errorf("create issued counter: %w", err)
	}
	if m.refreshes, err = meter.Int64Counter("tokend_refresh_total",
		metric.WithDescription("Refresh attempts, by outcome.")); err != nil {
		return nil, fmt.Errorf("create refresh counter: %w", err)
	}
	if m.rejected, err = meter.Int64Counter("tokend_verify_rejected_total",
		metric.WithDescription("Rejected tokens, by error kind.")); err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}
	if m.reuse, err = meter.Int64Counter("tokend_refresh_reuse_total",
		metric.WithDescription("Refresh token replays that revoked a session.")); err != nil {
		return nil, fmt.Errorf("create reuse counter: %w", err)
	}
	if m.rotations, err = meter.Int64Counter("tokend_key_rotations_total",
		metric.WithDescription("Signing key rotations, by source.")); err != nil {
		return nil, fmt.Errorf("create rotations counter: %w", err)
	}
	return &m, nil
}

func (m *Metrics) tokenIssued(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.issued.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) refreshed(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.refreshes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (m *Metrics) tokenRejected(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) reuseDetected(ctx context.Context) {
	if m == nil {
		return
	}
	m.reuse.Add(ctx, 1)
}

func (m *Metrics) keyRotated(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.rotations.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}
