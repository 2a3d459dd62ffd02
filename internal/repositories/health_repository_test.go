package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/shopforge/engine/internal/domain"
)

func TestDependencyHealthRepository_AllBackendsReady(t *testing.T) {
	now := time.Date(2025, time.April, 2, 8, 0, 0, 0, time.UTC)
	ok := func(context.Context) error { return nil }
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "firestore", Check: ok},
		{Name: "redis", Check: ok},
	}, func() time.Time { return now })
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusOK {
		t.Fatalf("expected ok, got %s", report.Status)
	}
	if len(report.Checks) != 2 {
		t.Fatalf("expected 2 checks, got %d", len(report.Checks))
	}
	if report.GeneratedAt != now || report.Checks["redis"].CheckedAt != now {
		t.Fatalf("clock not applied: %#v", report)
	}
}

func TestDependencyHealthRepository_DegradedBackend(t *testing.T) {
	boom := errors.New("connection refused")
	repo, err := NewDependencyHealthRepository([]DependencyCheck{
		{Name: "postgres", Check: func(context.Context) error { return boom }},
		{Name: "firestore", Check: func(context.Context) error { return nil }},
	}, nil)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusDegraded {
		t.Fatalf("expected degraded, got %s", report.Status)
	}
	if got := report.Checks["postgres"]; got.Error != boom.Error() {
		t.Fatalf("expected postgres error %q, got %q", boom, got.Error)
	}
}

func TestDependencyHealthRepository_Timeout(t *testing.T) {
	repo, err := NewDependencyHealthRepository([]DependencyCheck{{
		Name:    "pubsub",
		Timeout: 5 * time.Millisecond,
		Check: func(ctx context.Context) error {
			select {
			case <-time.After(50 * time.Millisecond):
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}}, nil)
	if err != nil {
		t.Fatalf("NewDependencyHealthRepository: %v", err)
	}

	report, err := repo.Collect(context.Background())
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if report.Status != domain.HealthStatusError || report.Checks["pubsub"].Detail != "timeout" {
		t.Fatalf("expected timeout error, got %#v", report.Checks["pubsub"])
	}
}

func TestDependencyHealthRepository_RejectsIncompleteChecks(t *testing.T) {
	if _, err := NewDependencyHealthRepository(nil, nil); err == nil {
		t.Fatalf("expected error for empty checks")
	}
	if _, err := NewDependencyHealthRepository([]DependencyCheck{{Name: "redis"}}, nil); err == nil {
		t.Fatalf("expected error for missing check func")
	}
}
