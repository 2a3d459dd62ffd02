package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile             = ".env"
	defaultPort                = "8080"
	defaultReadTimeout         = 15 * time.Second
	defaultWriteTimeout        = 30 * time.Second
	defaultEventsTopic         = "shop-events"
	defaultEventsSubscription  = "automation-worker"
	defaultNotificationsTopic  = "notifications"
	defaultMaxAutomationDepth  = 3
	defaultRunLogRetention     = 200
	defaultWebhookTimeout      = 10 * time.Second
	defaultWebhookMaxAttempts  = 3
	defaultEventsDedupTTL      = 24 * time.Hour
	defaultNotificationLocales = "en"
)

// Backend names accepted by the catalog and coupon ledger selectors.
const (
	BackendFirestore = "firestore"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendMemory    = "memory"

	DispatchInline = "inline"
	DispatchPubSub = "pubsub"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Server        ServerConfig
	Firestore     FirestoreConfig
	PubSub        PubSubConfig
	Catalog       CatalogConfig
	Coupons       CouponConfig
	Redis         RedisConfig
	Automation    AutomationConfig
	Webhooks      WebhookConfig
	Notifications NotificationConfig
	Events        EventsConfig
	Secrets       SecretsConfig
	LogLevel      string
}

// ServerConfig configures the worker's HTTP server.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// InternalSecret, when set, requires signed requests on the internal routes.
	InternalSecret string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID    string
	EmulatorHost string
}

// PubSubConfig names the topics and subscription the engine uses.
type PubSubConfig struct {
	ProjectID          string
	EventsTopic        string
	EventsSubscription string
	NotificationsTopic string
}

// CatalogConfig selects where products and collection memberships live.
type CatalogConfig struct {
	Backend     string
	PostgresDSN string
}

// CouponConfig selects the coupon usage ledger.
type CouponConfig struct {
	Ledger string
}

// RedisConfig configures the Redis coupon ledger.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AutomationConfig bounds automation execution.
type AutomationConfig struct {
	DispatchMode    string
	MaxDepth        int
	RunLogRetention int
}

// WebhookConfig controls the call_webhook action.
type WebhookConfig struct {
	SigningSecret string
	Timeout       time.Duration
	MaxAttempts   int
}

// NotificationConfig controls the send_notification action.
type NotificationConfig struct {
	Locales []string
}

// EventsConfig controls event consumption.
type EventsConfig struct {
	DedupTTL time.Duration
}

// SecretsConfig locates Secret Manager.
type SecretsConfig struct {
	ProjectID string
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets a custom secret resolver used for sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the engine configuration from defaults, .env overrides, environment
// variables and Secret Manager references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}

	cfg := Config{
		Server: ServerConfig{
			Port:           stringWithDefault(lookup, "ENGINE_SERVER_PORT", defaultPort),
			ReadTimeout:    durationWithDefault(lookup, "ENGINE_SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:   durationWithDefault(lookup, "ENGINE_SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			InternalSecret: stringWithDefault(lookup, "ENGINE_SERVER_INTERNAL_SECRET", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:    stringWithDefault(lookup, "ENGINE_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost: stringWithDefault(lookup, "ENGINE_FIRESTORE_EMULATOR_HOST", ""),
		},
		PubSub: PubSubConfig{
			ProjectID:          stringWithDefault(lookup, "ENGINE_PUBSUB_PROJECT_ID", ""),
			EventsTopic:        stringWithDefault(lookup, "ENGINE_PUBSUB_EVENTS_TOPIC", defaultEventsTopic),
			EventsSubscription: stringWithDefault(lookup, "ENGINE_PUBSUB_EVENTS_SUBSCRIPTION", defaultEventsSubscription),
			NotificationsTopic: stringWithDefault(lookup, "ENGINE_PUBSUB_NOTIFICATIONS_TOPIC", defaultNotificationsTopic),
		},
		Catalog: CatalogConfig{
			Backend:     strings.ToLower(stringWithDefault(lookup, "ENGINE_CATALOG_BACKEND", BackendFirestore)),
			PostgresDSN: stringWithDefault(lookup, "ENGINE_POSTGRES_DSN", ""),
		},
		Coupons: CouponConfig{
			Ledger: strings.ToLower(stringWithDefault(lookup, "ENGINE_COUPON_LEDGER", BackendFirestore)),
		},
		Redis: RedisConfig{
			Addr:     stringWithDefault(lookup, "ENGINE_REDIS_ADDR", ""),
			Password: stringWithDefault(lookup, "ENGINE_REDIS_PASSWORD", ""),
			DB:       intWithDefault(lookup, "ENGINE_REDIS_DB", 0),
		},
		Automation: AutomationConfig{
			DispatchMode:    strings.ToLower(stringWithDefault(lookup, "ENGINE_DISPATCH_MODE", DispatchPubSub)),
			MaxDepth:        intWithDefault(lookup, "ENGINE_AUTOMATION_MAX_DEPTH", defaultMaxAutomationDepth),
			RunLogRetention: intWithDefault(lookup, "ENGINE_AUTOMATION_RUNLOG_RETENTION", defaultRunLogRetention),
		},
		Webhooks: WebhookConfig{
			SigningSecret: stringWithDefault(lookup, "ENGINE_WEBHOOK_SIGNING_SECRET", ""),
			Timeout:       durationWithDefault(lookup, "ENGINE_WEBHOOK_TIMEOUT", defaultWebhookTimeout),
			MaxAttempts:   intWithDefault(lookup, "ENGINE_WEBHOOK_MAX_ATTEMPTS", defaultWebhookMaxAttempts),
		},
		Notifications: NotificationConfig{
			Locales: csvWithDefault(lookup, "ENGINE_NOTIFICATION_LOCALES", defaultNotificationLocales),
		},
		Events: EventsConfig{
			DedupTTL: durationWithDefault(lookup, "ENGINE_EVENTS_DEDUP_TTL", defaultEventsDedupTTL),
		},
		Secrets: SecretsConfig{
			ProjectID: stringWithDefault(lookup, "ENGINE_SECRETS_PROJECT_ID", ""),
		},
		LogLevel: strings.ToLower(stringWithDefault(lookup, "LOG_LEVEL", "info")),
	}

	// Pub/Sub and Secret Manager default to the Firestore project.
	if cfg.PubSub.ProjectID == "" {
		cfg.PubSub.ProjectID = cfg.Firestore.ProjectID
	}
	if cfg.Secrets.ProjectID == "" {
		cfg.Secrets.ProjectID = cfg.Firestore.ProjectID
	}

	secretFields := []*string{
		&cfg.Catalog.PostgresDSN,
		&cfg.Redis.Password,
		&cfg.Webhooks.SigningSecret,
		&cfg.Server.InternalSecret,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return secret, nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Port == "" {
		missing = append(missing, "Server.Port")
	}
	if cfg.Firestore.ProjectID == "" {
		missing = append(missing, "Firestore.ProjectID")
	}
	switch cfg.Catalog.Backend {
	case BackendFirestore, BackendMemory:
	case BackendPostgres:
		if cfg.Catalog.PostgresDSN == "" {
			missing = append(missing, "Catalog.PostgresDSN")
		}
	default:
		missing = append(missing, "Catalog.Backend")
	}
	switch cfg.Coupons.Ledger {
	case BackendFirestore, BackendMemory:
	case BackendRedis:
		if cfg.Redis.Addr == "" {
			missing = append(missing, "Redis.Addr")
		}
	default:
		missing = append(missing, "Coupons.Ledger")
	}
	switch cfg.Automation.DispatchMode {
	case DispatchInline:
	case DispatchPubSub:
		if cfg.PubSub.EventsTopic == "" {
			missing = append(missing, "PubSub.EventsTopic")
		}
	default:
		missing = append(missing, "Automation.DispatchMode")
	}
	if cfg.Automation.MaxDepth <= 0 {
		missing = append(missing, "Automation.MaxDepth")
	}
	if cfg.Webhooks.MaxAttempts <= 0 {
		missing = append(missing, "Webhooks.MaxAttempts")
	}
	if cfg.Events.DedupTTL <= 0 {
		missing = append(missing, "Events.DedupTTL")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		values[strings.TrimSpace(key)] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key, fallback string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		raw = fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
