package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/shopforge/engine/internal/platform/config"
)

const webhookResource = "projects/test/secrets/webhook_signing/versions/latest"

func TestResolveCachesRemoteSecret(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	client.values[webhookResource] = "remote-secret"

	resolver, err := NewResolver(ctx,
		WithSecretManagerClient(client),
		WithProject("test"),
		WithLogger(zap.NewNop()),
	)
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	defer resolver.Close()

	for i := 0; i < 2; i++ {
		got, err := resolver.ResolveSecret(ctx, "secret://webhook_signing")
		if err != nil {
			t.Fatalf("ResolveSecret returned error: %v", err)
		}
		if got != "remote-secret" {
			t.Fatalf("expected remote-secret, got %s", got)
		}
	}
	if calls := client.callCount(webhookResource); calls != 1 {
		t.Fatalf("expected remote fetch once, got %d", calls)
	}
}

func TestResolveRetriesTransientErrors(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	client.values[webhookResource] = "remote-secret"
	client.failures[webhookResource] = []error{
		status.Error(codes.Unavailable, "try again"),
		status.Error(codes.DeadlineExceeded, "slow"),
	}

	resolver, err := NewResolver(ctx, WithSecretManagerClient(client), WithProject("test"))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	var pauses []time.Duration
	resolver.sleep = func(_ context.Context, d time.Duration) error {
		pauses = append(pauses, d)
		return nil
	}

	got, err := resolver.ResolveSecret(ctx, "sm://webhook_signing")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if got != "remote-secret" {
		t.Fatalf("expected remote-secret, got %s", got)
	}
	if calls := client.callCount(webhookResource); calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if len(pauses) != 2 {
		t.Fatalf("expected 2 backoff pauses, got %d", len(pauses))
	}
}

func TestResolveFallsBackWhenSecretManagerUnavailable(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallback(t, "secret://webhook_signing=local-secret\n")

	client := newFakeSecretClient()
	client.errors[webhookResource] = status.Error(codes.PermissionDenied, "denied")

	resolver, err := NewResolver(ctx,
		WithSecretManagerClient(client),
		WithProject("test"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}

	got, err := resolver.ResolveSecret(ctx, "secret://webhook_signing")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if got != "local-secret" {
		t.Fatalf("expected fallback secret local-secret, got %s", got)
	}
}

func TestResolveUsesExplicitVersionAndProject(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	pinned := "projects/other/secrets/webhook_signing/versions/5"
	client.values[pinned] = "version-5"

	resolver, err := NewResolver(ctx, WithSecretManagerClient(client), WithProject("test"))
	if err != nil {
		t.Fatalf("NewResolver error: %v", err)
	}

	got, err := resolver.ResolveSecret(ctx, "secret://webhook_signing?version=5&project=other")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if got != "version-5" || client.callCount(pinned) != 1 {
		t.Fatalf("expected version-5 from pinned resource, got %s", got)
	}
}

func TestResolveDoesNotFallbackOnNotFound(t *testing.T) {
	ctx := context.Background()
	fallbackPath := writeFallback(t, "secret://webhook_signing=local-secret\n")

	client := newFakeSecretClient()
	client.errors[webhookResource] = status.Error(codes.NotFound, "missing")

	resolver, err := NewResolver(ctx,
		WithSecretManagerClient(client),
		WithProject("test"),
		WithFallbackFile(fallbackPath),
	)
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}

	if _, err := resolver.ResolveSecret(ctx, "secret://webhook_signing"); err == nil {
		t.Fatal("expected error when secret is missing")
	}
	if calls := client.callCount(webhookResource); calls != 1 {
		t.Fatalf("NotFound must not be retried, got %d calls", calls)
	}
}

func TestNewResolverWithoutCredentialsUsesFallback(t *testing.T) {
	ctx := context.Background()

	originalFactory := secretManagerClientFactory
	secretManagerClientFactory = func(context.Context, ...option.ClientOption) (secretManagerClient, error) {
		return nil, errors.New("no credentials")
	}
	t.Cleanup(func() {
		secretManagerClientFactory = originalFactory
	})

	fallbackPath := writeFallback(t, "# local development\nsm://postgres_dsn=postgres://localhost/engine\n")
	resolver, err := NewResolver(ctx, WithProject("test"), WithFallbackFile(fallbackPath))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}

	value, err := resolver.ResolveSecret(ctx, "secret://postgres_dsn")
	if err != nil {
		t.Fatalf("ResolveSecret returned error: %v", err)
	}
	if value != "postgres://localhost/engine" {
		t.Fatalf("expected local secret, got %s", value)
	}
}

func TestResolverPlugsIntoConfigLoad(t *testing.T) {
	ctx := context.Background()

	client := newFakeSecretClient()
	client.values[webhookResource] = "whsec"

	resolver, err := NewResolver(ctx, WithSecretManagerClient(client), WithProject("test"))
	if err != nil {
		t.Fatalf("NewResolver returned error: %v", err)
	}
	cfg, err := config.Load(ctx,
		config.WithEnvFile(""),
		config.WithoutSystemEnv(),
		config.WithEnvMap(map[string]string{
			"ENGINE_FIRESTORE_PROJECT_ID":   "test",
			"ENGINE_WEBHOOK_SIGNING_SECRET": "sm://webhook_signing",
		}),
		config.WithSecretResolver(resolver),
	)
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}
	if cfg.Webhooks.SigningSecret != "whsec" {
		t.Fatalf("expected resolved signing secret, got %q", cfg.Webhooks.SigningSecret)
	}
}

func writeFallback(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".secrets.local")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("failed writing fallback file: %v", err)
	}
	return path
}

type fakeSecretClient struct {
	mu       sync.Mutex
	values   map[string]string
	errors   map[string]error
	failures map[string][]error
	counter  map[string]int
}

func newFakeSecretClient() *fakeSecretClient {
	return &fakeSecretClient{
		values:   make(map[string]string),
		errors:   make(map[string]error),
		failures: make(map[string][]error),
		counter:  make(map[string]int),
	}
}

func (f *fakeSecretClient) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	name := req.GetName()
	f.counter[name]++

	if queued := f.failures[name]; len(queued) > 0 {
		f.failures[name] = queued[1:]
		return nil, queued[0]
	}
	if err, ok := f.errors[name]; ok && err != nil {
		return nil, err
	}
	if value, ok := f.values[name]; ok {
		return &secretmanagerpb.AccessSecretVersionResponse{
			Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
		}, nil
	}
	return nil, status.Error(codes.NotFound, "not found")
}

func (f *fakeSecretClient) Close() error {
	return nil
}

func (f *fakeSecretClient) callCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counter[name]
}
