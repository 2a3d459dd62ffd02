package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	domain "github.com/shopforge/engine/internal/domain"
	"github.com/shopforge/engine/internal/handlers"
	"github.com/shopforge/engine/internal/platform/config"
	pfirestore "github.com/shopforge/engine/internal/platform/firestore"
	"github.com/shopforge/engine/internal/platform/idempotency"
	"github.com/shopforge/engine/internal/platform/jobs"
	"github.com/shopforge/engine/internal/platform/observability"
	"github.com/shopforge/engine/internal/platform/secrets"
	"github.com/shopforge/engine/internal/platform/webhooksig"
	firestoreRepo "github.com/shopforge/engine/internal/repositories/firestore"
	"github.com/shopforge/engine/internal/services"
)

const dedupCleanupInterval = 10 * time.Minute

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	bootLogger, err := observability.NewLogger(os.Getenv("LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}

	resolver, err := secrets.NewResolver(ctx,
		secrets.WithLogger(bootLogger.Named("secrets")),
		secrets.WithProject(os.Getenv("ENGINE_SECRETS_PROJECT_ID")),
		secrets.WithMeter(otel.GetMeterProvider().Meter("github.com/shopforge/engine/secrets")),
	)
	if err != nil {
		bootLogger.Fatal("failed to initialise secret resolver", zap.Error(err))
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			bootLogger.Warn("secret resolver close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			bootLogger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		bootLogger.Fatal("failed to load configuration", zap.Error(err))
	}

	baseLogger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		bootLogger.Fatal("failed to initialise logger", zap.Error(err))
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("engine")
	ctx = observability.WithLogger(ctx, logger)

	metrics, err := observability.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		logger.Fatal("failed to initialise metrics", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	pubsubClient, err := pubsub.NewClient(ctx, pubsubProjectID(cfg))
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	backends, err := openBackends(ctx, cfg, firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise storage backends", zap.Error(err))
	}
	defer backends.Close(logger)

	promotionRepo, err := firestoreRepo.NewPromotionRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise promotion repository", zap.Error(err))
	}
	automationRepo, err := firestoreRepo.NewAutomationRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise automation repository", zap.Error(err))
	}
	eventStore, err := firestoreRepo.NewEventStore(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise event store", zap.Error(err))
	}
	entityWriter, err := firestoreRepo.NewEntityWriter(firestoreProvider, time.Now)
	if err != nil {
		logger.Fatal("failed to initialise entity writer", zap.Error(err))
	}

	promotionService, err := services.NewPromotionService(services.PromotionServiceDeps{
		Promotions: promotionRepo,
		Settings:   promotionRepo,
		Ledger:     backends.Ledger,
		Clock:      time.Now,
		Logger:     observability.EventLogger(logger.Named("promotions")),
		Metrics:    metrics,
	})
	if err != nil {
		logger.Fatal("failed to initialise promotion service", zap.Error(err))
	}

	collectionEngine, err := services.NewCollectionRuleEngine(services.CollectionServiceDeps{
		Catalog:     backends.Catalog,
		Collections: backends.Collections,
		Clock:       time.Now,
		Logger:      observability.EventLogger(logger.Named("collections")),
		Metrics:     metrics,
	})
	if err != nil {
		logger.Fatal("failed to initialise collection rule engine", zap.Error(err))
	}

	eventsTopic := pubsubClient.Topic(cfg.PubSub.EventsTopic)
	defer eventsTopic.Stop()
	notificationsTopic := pubsubClient.Topic(cfg.PubSub.NotificationsTopic)
	defer notificationsTopic.Stop()

	var dispatcher services.EventDispatcher
	inline := &services.InlineDispatcher{}
	switch cfg.Automation.DispatchMode {
	case config.DispatchInline:
		dispatcher = inline
	default:
		publisher, err := jobs.NewEventPublisher(eventsTopic)
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		dispatcher = publisher
	}

	eventLog, err := services.NewEventLog(services.EventLogDeps{
		Events:     eventStore,
		Dispatcher: dispatcher,
		Clock:      time.Now,
		Logger:     observability.EventLogger(logger.Named("events")),
	})
	if err != nil {
		logger.Fatal("failed to initialise event log", zap.Error(err))
	}

	actionHandlers, err := buildActionHandlers(cfg, notificationsTopic, entityWriter, eventLog)
	if err != nil {
		logger.Fatal("failed to initialise automation actions", zap.Error(err))
	}

	automationEngine, err := services.NewAutomationEngine(services.AutomationEngineDeps{
		Automations:     automationRepo,
		RunLogs:         automationRepo,
		Handlers:        actionHandlers,
		MaxDepth:        cfg.Automation.MaxDepth,
		RunLogRetention: cfg.Automation.RunLogRetention,
		Clock:           time.Now,
		Logger:          observability.EventLogger(logger.Named("automations")),
		Metrics:         metrics,
	})
	if err != nil {
		logger.Fatal("failed to initialise automation engine", zap.Error(err))
	}
	inline.Bind(automationEngine)

	workerCtx, workerCancel := context.WithCancel(observability.WithLogger(context.Background(), logger))
	var workerWG sync.WaitGroup

	if cfg.Automation.DispatchMode == config.DispatchPubSub {
		processed := idempotency.NewFirestoreStore(firestoreClient)
		subscriber, err := jobs.NewEventSubscriber(jobs.SubscriberDeps{
			Subscription: pubsubClient.Subscription(cfg.PubSub.EventsSubscription),
			Handler:      automationEngine,
			Processed:    processed,
			DedupTTL:     cfg.Events.DedupTTL,
			Clock:        time.Now,
			Logger:       observability.EventLogger(logger.Named("subscriber")),
		})
		if err != nil {
			logger.Fatal("failed to initialise event subscriber", zap.Error(err))
		}

		workerWG.Add(2)
		go func() {
			defer workerWG.Done()
			subLogger := logger.Named("subscriber").With(zap.String("subscription", cfg.PubSub.EventsSubscription))
			subLogger.Info("consuming shop events")
			if err := subscriber.Run(workerCtx); err != nil {
				subLogger.Error("subscriber stopped", zap.Error(err))
			}
		}()
		go func() {
			defer workerWG.Done()
			runDedupCleanup(workerCtx, processed, logger.Named("idempotency"))
		}()
	}

	healthRepo, err := buildHealthRepository(cfg, firestoreClient, eventsTopic, backends)
	if err != nil {
		logger.Warn("health: dependency checks unavailable", zap.Error(err))
	}
	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfoFromEnv(startedAt))}
	if healthRepo != nil {
		healthOpts = append(healthOpts, handlers.WithHealthRepository(healthRepo))
	}

	engineHandlers := handlers.NewEngineHandlers(handlers.EngineHandlersDeps{
		Promotions:  promotionService,
		Collections: collectionEngine,
		Automations: automationEngine,
		Events:      eventLog,
		Clock:       time.Now,
	})

	httpLogger := logger.Named("http")
	opts := []handlers.Option{
		handlers.WithMiddlewares(
			observability.RecoveryMiddleware(httpLogger),
			observability.RequestLoggerMiddleware(httpLogger),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithInternalRoutes(engineHandlers.Routes),
	}
	if secret := strings.TrimSpace(cfg.Server.InternalSecret); secret != "" {
		verifier, err := webhooksig.NewVerifier(secret, time.Now)
		if err != nil {
			logger.Fatal("failed to initialise request verifier", zap.Error(err))
		}
		authLogger := logger.Named("auth")
		opts = append(opts, handlers.WithInternalMiddlewares(verifier.Middleware(func(_ context.Context, err error) {
			authLogger.Warn("rejected unsigned internal request", zap.Error(err))
		})))
	} else {
		logger.Warn("internal routes are not signature protected")
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handlers.NewRouter(opts...),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := httpLogger.With(zap.String("addr", server.Addr), zap.String("dispatch", cfg.Automation.DispatchMode))
	go func() {
		serverLogger.Info("automation worker listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	workerCancel()
	workerWG.Wait()
}

func runDedupCleanup(ctx context.Context, store idempotency.Store, logger *zap.Logger) {
	ticker := time.NewTicker(dedupCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, time.Minute)
			removed, err := store.CleanupExpired(runCtx, time.Now().UTC(), 500)
			cancel()
			if err != nil {
				logger.Error("dedup cleanup error", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("dedup cleanup removed records", zap.Int("count", removed))
			}
		case <-ctx.Done():
			return
		}
	}
}

func buildActionHandlers(cfg config.Config, notifications *pubsub.Topic, writer *firestoreRepo.EntityWriter, events services.EventLog) (services.ActionHandlers, error) {
	var signer services.RequestSigner
	if secret := strings.TrimSpace(cfg.Webhooks.SigningSecret); secret != "" {
		s, err := webhooksig.NewSigner(secret)
		if err != nil {
			return nil, fmt.Errorf("webhook signer: %w", err)
		}
		signer = s
	}
	webhook := services.NewWebhookAction(services.WebhookActionDeps{
		Client:      &http.Client{},
		Signer:      signer,
		Timeout:     cfg.Webhooks.Timeout,
		MaxAttempts: cfg.Webhooks.MaxAttempts,
	})

	publisher, err := jobs.NewNotificationPublisher(notifications)
	if err != nil {
		return nil, err
	}
	notification, err := services.NewNotificationAction(services.NotificationActionDeps{
		Publisher: publisher,
		Locales:   cfg.Notifications.Locales,
		Clock:     time.Now,
	})
	if err != nil {
		return nil, err
	}

	entityDeps := services.EntityActionDeps{Writer: writer, Events: events}
	create, err := services.NewCreateEntityAction(entityDeps)
	if err != nil {
		return nil, err
	}
	update, err := services.NewUpdateEntityAction(entityDeps)
	if err != nil {
		return nil, err
	}

	return services.ActionHandlers{
		domain.ActionCallWebhook:      webhook,
		domain.ActionSendNotification: notification,
		domain.ActionCreateEntity:     create,
		domain.ActionUpdateEntity:     update,
	}, nil
}

func buildInfoFromEnv(started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(os.Getenv("ENGINE_BUILD_VERSION"))
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(os.Getenv("ENGINE_BUILD_COMMIT_SHA"))
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(os.Getenv("ENGINE_ENVIRONMENT"))
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func pubsubProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.PubSub.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}
