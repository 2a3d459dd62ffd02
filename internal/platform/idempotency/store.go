// Package idempotency records which Pub/Sub deliveries were already processed so redelivered
// events do not fire automations twice.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Status represents the lifecycle state of a processed-event record.
type Status string

const (
	// DefaultTTL is how long completed records are retained.
	DefaultTTL = 24 * time.Hour
	// DefaultLease bounds how long a pending reservation blocks redeliveries. A worker that dies
	// mid-event loses its claim after the lease.
	DefaultLease = 5 * time.Minute

	// StatusPending indicates a worker is processing the event.
	StatusPending Status = "pending"
	// StatusCompleted indicates the event was fully processed.
	StatusCompleted Status = "completed"
)

// ReservationState describes the outcome of attempting to reserve a key.
type ReservationState int

const (
	// ReservationStateNew means the caller owns the key and should process the event.
	ReservationStateNew ReservationState = iota
	// ReservationStateCompleted means the event was already processed.
	ReservationStateCompleted
	// ReservationStatePending means another worker holds an unexpired lease.
	ReservationStatePending
)

// Record captures the persisted state of a key.
type Record struct {
	Key       string
	Status    Status
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Store persists reservations of processed-event keys.
type Store interface {
	// Reserve claims key for lease unless a completed or live pending record exists.
	Reserve(ctx context.Context, key string, now time.Time, lease time.Duration) (ReservationState, error)
	// Complete marks key processed and retains it for ttl.
	Complete(ctx context.Context, key string, now time.Time, ttl time.Duration) error
	// Release drops a pending reservation so a redelivery may retry.
	Release(ctx context.Context, key string) error
	CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error)
}

// EventKey builds the ledger key of a shop event.
func EventKey(shopID, eventID string) string {
	return strings.TrimSpace(shopID) + "/" + strings.TrimSpace(eventID)
}

func documentID(key string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(key)))
	return hex.EncodeToString(sum[:])
}

func expired(r Record, now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}
