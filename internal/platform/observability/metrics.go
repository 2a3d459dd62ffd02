package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/shopforge/engine/internal/domain"
)

const meterName = "github.com/shopforge/engine"

// Metrics records engine counters through an OpenTelemetry meter.
type Metrics struct {
	resolved    metric.Int64Counter
	applied     metric.Int64Counter
	redemptions metric.Int64Counter
	runs        metric.Int64Counter
	resync      metric.Int64Counter
}

// NewMetrics registers the counters on provider. A nil provider uses the global one.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	var (
		m   Metrics
		err error
	)
	if m.resolved, err = meter.Int64Counter("promotions.resolved",
		metric.WithDescription("Discount resolutions served")); err != nil {
		return nil, err
	}
	if m.applied, err = meter.Int64Counter("promotions.applied",
		metric.WithDescription("Promotions applied across resolutions")); err != nil {
		return nil, err
	}
	if m.redemptions, err = meter.Int64Counter("coupons.redemptions",
		metric.WithDescription("Coupon redemption attempts by outcome")); err != nil {
		return nil, err
	}
	if m.runs, err = meter.Int64Counter("automations.runs",
		metric.WithDescription("Automation run logs by status")); err != nil {
		return nil, err
	}
	if m.resync, err = meter.Int64Counter("collections.resync.changes",
		metric.WithDescription("Membership rows inserted or deleted by resyncs")); err != nil {
		return nil, err
	}
	return &m, nil
}

// PromotionsResolved implements services.Metrics.
func (m *Metrics) PromotionsResolved(ctx context.Context, shopID string, applied int, couponRejected bool) {
	shop := attribute.String("shop.id", shopID)
	m.resolved.Add(ctx, 1, metric.WithAttributes(shop, attribute.Bool("coupon.rejected", couponRejected)))
	if applied > 0 {
		m.applied.Add(ctx, int64(applied), metric.WithAttributes(shop))
	}
}

// CouponRedemption implements services.Metrics.
func (m *Metrics) CouponRedemption(ctx context.Context, shopID string, outcome string) {
	m.redemptions.Add(ctx, 1, metric.WithAttributes(attribute.String("shop.id", shopID), attribute.String("outcome", outcome)))
}

// AutomationRun implements services.Metrics.
func (m *Metrics) AutomationRun(ctx context.Context, shopID string, status domain.RunStatus, testRun bool) {
	m.runs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("shop.id", shopID),
		attribute.String("status", string(status)),
		attribute.Bool("test_run", testRun),
	))
}

// ResyncChanges implements services.Metrics.
func (m *Metrics) ResyncChanges(ctx context.Context, shopID string, inserted, deleted int) {
	shop := attribute.String("shop.id", shopID)
	if inserted > 0 {
		m.resync.Add(ctx, int64(inserted), metric.WithAttributes(shop, attribute.String("change", "insert")))
	}
	if deleted > 0 {
		m.resync.Add(ctx, int64(deleted), metric.WithAttributes(shop, attribute.String("change", "delete")))
	}
}
