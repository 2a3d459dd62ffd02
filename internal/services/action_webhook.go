package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
)

const (
	defaultWebhookTimeout     = 10 * time.Second
	defaultWebhookMaxAttempts = 3
	webhookResponseLimit      = 4 << 10
)

// ErrWebhookRejected is returned when the endpoint answers with a non-retryable status.
var ErrWebhookRejected = errors.New("call_webhook: endpoint rejected request")

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RequestSigner adds authentication headers to an outbound webhook request.
type RequestSigner interface {
	Sign(req *http.Request, body []byte) error
}

// WebhookActionDeps configures the call_webhook handler.
type WebhookActionDeps struct {
	Client      HTTPDoer
	Signer      RequestSigner
	Timeout     time.Duration
	MaxAttempts int
	// Backoff controls the pause between attempts. Zero values fall back to gax defaults.
	Backoff gax.Backoff
	Sleep   func(ctx context.Context, d time.Duration) error
}

type webhookAction struct {
	client      HTTPDoer
	signer      RequestSigner
	timeout     time.Duration
	maxAttempts int
	backoff     gax.Backoff
	sleep       func(ctx context.Context, d time.Duration) error
}

// NewWebhookAction returns the call_webhook handler. Config keys: url, method, headers, body.
// Without a body the event envelope is posted.
func NewWebhookAction(deps WebhookActionDeps) ActionHandler {
	client := deps.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = defaultWebhookTimeout
	}
	attempts := deps.MaxAttempts
	if attempts <= 0 {
		attempts = defaultWebhookMaxAttempts
	}
	backoff := deps.Backoff
	if backoff.Initial == 0 {
		backoff.Initial = 200 * time.Millisecond
	}
	if backoff.Max == 0 {
		backoff.Max = 5 * time.Second
	}
	if backoff.Multiplier == 0 {
		backoff.Multiplier = 2
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = gax.Sleep
	}
	return &webhookAction{
		client:      client,
		signer:      deps.Signer,
		timeout:     timeout,
		maxAttempts: attempts,
		backoff:     backoff,
		sleep:       sleep,
	}
}

func (a *webhookAction) Execute(ctx context.Context, req ActionRequest) (map[string]any, error) {
	payload := req.Event.Payload
	target := RenderTemplate(configString(req.Action.Config, "url"), payload)
	parsed, err := url.Parse(target)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("call_webhook: invalid url %q", target)
	}
	method := strings.ToUpper(configString(req.Action.Config, "method"))
	if method == "" {
		method = http.MethodPost
	}

	var body any
	if custom := configMap(req.Action.Config, "body"); custom != nil {
		body = renderData(custom, payload)
	} else {
		body = map[string]any{
			"eventId":      req.Event.ID,
			"eventType":    req.Event.Type,
			"shopId":       req.Event.ShopID,
			"automationId": req.Automation.ID,
			"testRun":      req.TestRun,
			"payload":      payload,
		}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("call_webhook: encode body: %w", err)
	}
	headers := renderData(configMap(req.Action.Config, "headers"), payload)

	backoff := a.backoff
	var lastErr error
	for attempt := 1; attempt <= a.maxAttempts; attempt++ {
		status, retry, err := a.attempt(ctx, method, parsed.String(), encoded, headers, req)
		if err == nil {
			return map[string]any{"status": status, "attempts": attempt}, nil
		}
		lastErr = err
		if !retry || attempt == a.maxAttempts {
			break
		}
		if err := a.sleep(ctx, backoff.Pause()); err != nil {
			return nil, fmt.Errorf("call_webhook: %w", err)
		}
	}
	return nil, lastErr
}

// attempt performs one delivery. retry reports whether a later attempt may succeed.
func (a *webhookAction) attempt(ctx context.Context, method, target string, body []byte, headers map[string]any, req ActionRequest) (int, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
	if err != nil {
		return 0, false, fmt.Errorf("call_webhook: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Shop-Event-Id", req.Event.ID)
	httpReq.Header.Set("X-Automation-Id", req.Automation.ID)
	if req.TestRun {
		httpReq.Header.Set("X-Automation-Test-Run", "true")
	}
	for k, v := range headers {
		httpReq.Header.Set(k, fmt.Sprint(v))
	}
	if a.signer != nil {
		if err := a.signer.Sign(httpReq, body); err != nil {
			return 0, false, fmt.Errorf("call_webhook: sign request: %w", err)
		}
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return 0, true, fmt.Errorf("call_webhook: %w", err)
	}
	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, webhookResponseLimit))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return resp.StatusCode, false, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resp.StatusCode, true, fmt.Errorf("call_webhook: endpoint returned %d", resp.StatusCode)
	default:
		return resp.StatusCode, false, fmt.Errorf("%w: status %d: %s", ErrWebhookRejected, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
}
