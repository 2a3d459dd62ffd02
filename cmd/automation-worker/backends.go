package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/shopforge/engine/internal/platform/config"
	pfirestore "github.com/shopforge/engine/internal/platform/firestore"
	"github.com/shopforge/engine/internal/repositories"
	firestoreRepo "github.com/shopforge/engine/internal/repositories/firestore"
	"github.com/shopforge/engine/internal/repositories/memory"
	"github.com/shopforge/engine/internal/repositories/postgres"
	redisRepo "github.com/shopforge/engine/internal/repositories/redis"
)

const redisKeyPrefix = "engine"

// backends holds the swappable stores selected by configuration.
type backends struct {
	Catalog     repositories.CatalogRepository
	Collections repositories.CollectionRepository
	Ledger      repositories.CouponLedger

	db    *sql.DB
	redis *goredis.Client
}

func openBackends(ctx context.Context, cfg config.Config, provider *pfirestore.Provider) (*backends, error) {
	b := &backends{}

	switch cfg.Catalog.Backend {
	case config.BackendPostgres:
		db, err := postgres.Open(ctx, cfg.Catalog.PostgresDSN)
		if err != nil {
			return nil, err
		}
		b.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
		repo, err := postgres.NewCatalogRepository(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		b.Catalog, b.Collections = repo, repo
	case config.BackendMemory:
		repo := memory.NewCatalogRepository()
		b.Catalog, b.Collections = repo, repo
	default:
		repo, err := firestoreRepo.NewCatalogRepository(provider)
		if err != nil {
			return nil, err
		}
		b.Catalog, b.Collections = repo, repo
	}

	switch cfg.Coupons.Ledger {
	case config.BackendRedis:
		b.redis = goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ledger, err := redisRepo.NewCouponLedger(b.redis, redisKeyPrefix)
		if err != nil {
			b.closeQuietly()
			return nil, err
		}
		b.Ledger = ledger
	case config.BackendMemory:
		b.Ledger = memory.NewCouponLedger()
	default:
		ledger, err := firestoreRepo.NewCouponLedger(provider)
		if err != nil {
			b.closeQuietly()
			return nil, err
		}
		b.Ledger = ledger
	}
	return b, nil
}

func (b *backends) Close(logger *zap.Logger) {
	if b.db != nil {
		if err := b.db.Close(); err != nil {
			logger.Warn("postgres close error", zap.Error(err))
		}
	}
	if b.redis != nil {
		if err := b.redis.Close(); err != nil {
			logger.Warn("redis close error", zap.Error(err))
		}
	}
}

func (b *backends) closeQuietly() {
	if b.db != nil {
		_ = b.db.Close()
	}
	if b.redis != nil {
		_ = b.redis.Close()
	}
}

func buildHealthRepository(cfg config.Config, client *firestore.Client, events *pubsub.Topic, b *backends) (repositories.HealthRepository, error) {
	checks := make([]repositories.DependencyCheck, 0, 4)
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	if cfg.Automation.DispatchMode == config.DispatchPubSub && events != nil {
		topic := events
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", strings.TrimSpace(cfg.PubSub.EventsTopic))
				}
				return nil
			},
		})
	}
	if b != nil && b.redis != nil {
		rdb := b.redis
		checks = append(checks, repositories.DependencyCheck{
			Name:    "redis",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
	}
	if b != nil && b.db != nil {
		db := b.db
		checks = append(checks, repositories.DependencyCheck{
			Name:    "postgres",
			Timeout: time.Second,
			Check:   db.PingContext,
		})
	}
	if len(checks) == 0 {
		return nil, errors.New("health: no dependency checks configured")
	}
	return repositories.NewDependencyHealthRepository(checks, time.Now)
}
