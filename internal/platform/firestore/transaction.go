package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 10 * time.Second
	defaultTxLabel    = "transaction"
)

var tracer = otel.Tracer("github.com/shopforge/engine/internal/platform/firestore")

// TxFunc is executed within a Firestore transaction. It may run more than once when Firestore
// detects contention, so it must not have side effects outside tx.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
	label    string
}

// WithTxAttempts overrides how many times a contended transaction is retried.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout bounds the whole transaction including retries.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithTxLabel names the transaction in spans and wrapped errors, e.g. "coupons.redeem".
func WithTxLabel(label string) TxOption {
	return func(cfg *txConfig) {
		if label != "" {
			cfg.label = label
		}
	}
}

// RunTransaction executes fn within a transaction on the provided client. Errors are wrapped so
// repositories can classify contention and missing documents.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout, label: defaultTxLabel}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	if client == nil {
		return WrapError(cfg.label, errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError(cfg.label, errors.New("firestore: transaction function is nil"))
	}

	if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "firestore.tx."+cfg.label, trace.WithAttributes(
		attribute.Int("firestore.tx.max_attempts", cfg.attempts),
	))
	defer span.End()

	attempts := 0
	err := client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		attempts++
		return fn(ctx, tx)
	}, firestore.MaxAttempts(cfg.attempts))
	span.SetAttributes(attribute.Int("firestore.tx.attempts", attempts))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return WrapError(cfg.label, err)
}
