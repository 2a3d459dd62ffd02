package services

import (
	"context"

	"go.opentelemetry.io/otel"

	domain "github.com/shopforge/engine/internal/domain"
)

var tracer = otel.Tracer("github.com/shopforge/engine/internal/services")

// Logger receives structured service events. main adapts it onto zap.
type Logger func(ctx context.Context, event string, fields map[string]any)

// Metrics records engine counters. Implementations must be safe for concurrent use.
type Metrics interface {
	PromotionsResolved(ctx context.Context, shopID string, applied int, couponRejected bool)
	CouponRedemption(ctx context.Context, shopID string, outcome string)
	AutomationRun(ctx context.Context, shopID string, status domain.RunStatus, testRun bool)
	ResyncChanges(ctx context.Context, shopID string, inserted, deleted int)
}

type noopMetrics struct{}

func (noopMetrics) PromotionsResolved(context.Context, string, int, bool)         {}
func (noopMetrics) CouponRedemption(context.Context, string, string)              {}
func (noopMetrics) AutomationRun(context.Context, string, domain.RunStatus, bool) {}
func (noopMetrics) ResyncChanges(context.Context, string, int, int)               {}

func loggerOrNoop(logger Logger) Logger {
	if logger == nil {
		return func(context.Context, string, map[string]any) {}
	}
	return logger
}

func metricsOrNoop(metrics Metrics) Metrics {
	if metrics == nil {
		return noopMetrics{}
	}
	return metrics
}
