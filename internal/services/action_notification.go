package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/language"
)

// NotificationChannel selects the delivery medium of a notification.
type NotificationChannel string

const (
	NotificationEmail NotificationChannel = "email"
	NotificationSMS   NotificationChannel = "sms"
	NotificationPush  NotificationChannel = "push"
)

// ErrNotificationPublisherMissing indicates the notification action has nowhere to publish.
var ErrNotificationPublisherMissing = errors.New("send_notification: publisher is not configured")

// Notification is the rendered message handed to the delivery pipeline.
type Notification struct {
	ShopID       string              `json:"shopId"`
	AutomationID string              `json:"automationId"`
	EventID      string              `json:"eventId"`
	Channel      NotificationChannel `json:"channel"`
	Recipient    string              `json:"recipient"`
	Locale       string              `json:"locale"`
	Subject      string              `json:"subject,omitempty"`
	Body         string              `json:"body"`
	TestRun      bool                `json:"testRun"`
	CreatedAt    time.Time           `json:"createdAt"`
}

// NotificationPublisher enqueues rendered notifications and returns the message id.
type NotificationPublisher interface {
	PublishNotification(ctx context.Context, notification Notification) (string, error)
}

// NotificationActionDeps configures the send_notification handler.
type NotificationActionDeps struct {
	Publisher NotificationPublisher
	// Locales lists supported locales; the first is the fallback.
	Locales []string
	Clock   func() time.Time
}

type notificationAction struct {
	publisher NotificationPublisher
	supported []language.Tag
	matcher   language.Matcher
	html      *bluemonday.Policy
	text      *bluemonday.Policy
	clock     func() time.Time
}

// NewNotificationAction returns the send_notification handler. Config keys: channel, recipient,
// subject, template and locale. subject and template may be strings or maps keyed by locale.
func NewNotificationAction(deps NotificationActionDeps) (ActionHandler, error) {
	if deps.Publisher == nil {
		return nil, ErrNotificationPublisherMissing
	}
	locales := deps.Locales
	if len(locales) == 0 {
		locales = []string{"en"}
	}
	supported := make([]language.Tag, 0, len(locales))
	for _, raw := range locales {
		tag, err := parseLocale(raw)
		if err != nil {
			return nil, fmt.Errorf("send_notification: locale %q: %w", raw, err)
		}
		supported = append(supported, tag)
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	html := bluemonday.UGCPolicy()
	html.RequireNoFollowOnLinks(true)

	return &notificationAction{
		publisher: deps.Publisher,
		supported: supported,
		matcher:   language.NewMatcher(supported),
		html:      html,
		text:      bluemonday.StrictPolicy(),
		clock:     func() time.Time { return clock().UTC() },
	}, nil
}

func (a *notificationAction) Execute(ctx context.Context, req ActionRequest) (map[string]any, error) {
	config := req.Action.Config
	payload := req.Event.Payload

	channel := NotificationChannel(strings.ToLower(configString(config, "channel")))
	if channel == "" {
		channel = NotificationEmail
	}
	switch channel {
	case NotificationEmail, NotificationSMS, NotificationPush:
	default:
		return nil, fmt.Errorf("send_notification: unsupported channel %q", channel)
	}

	recipient := strings.TrimSpace(RenderTemplate(configString(config, "recipient"), payload))
	if recipient == "" {
		return nil, errors.New("send_notification: recipient is required")
	}

	locale := a.resolveLocale(RenderTemplate(configString(config, "locale"), payload))
	body := RenderTemplate(localized(config["template"], locale), payload)
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("send_notification: template rendered empty")
	}
	subject := RenderTemplate(localized(config["subject"], locale), payload)

	if channel == NotificationEmail {
		body = a.html.Sanitize(body)
	} else {
		body = a.text.Sanitize(body)
	}
	subject = a.text.Sanitize(subject)

	id, err := a.publisher.PublishNotification(ctx, Notification{
		ShopID:       req.Event.ShopID,
		AutomationID: req.Automation.ID,
		EventID:      req.Event.ID,
		Channel:      channel,
		Recipient:    recipient,
		Locale:       locale,
		Subject:      subject,
		Body:         body,
		TestRun:      req.TestRun,
		CreatedAt:    a.clock(),
	})
	if err != nil {
		return nil, fmt.Errorf("send_notification: publish: %w", err)
	}
	return map[string]any{
		"messageId": id,
		"channel":   string(channel),
		"locale":    locale,
	}, nil
}

// resolveLocale maps a requested tag onto the closest supported locale.
func (a *notificationAction) resolveLocale(requested string) string {
	tag, err := parseLocale(requested)
	if err != nil || tag == language.Und {
		return a.supported[0].String()
	}
	_, index, _ := a.matcher.Match(tag)
	return a.supported[index].String()
}

func parseLocale(raw string) (language.Tag, error) {
	raw = strings.ReplaceAll(strings.TrimSpace(raw), "_", "-")
	if raw == "" {
		return language.Und, nil
	}
	return language.Parse(raw)
}

// localized picks the variant for locale from a per-locale map, falling back to its base
// language and then to "default".
func localized(value any, locale string) string {
	switch v := value.(type) {
	case string:
		return v
	case map[string]any:
		base := locale
		if i := strings.IndexByte(locale, '-'); i > 0 {
			base = locale[:i]
		}
		for _, key := range []string{locale, base, "default"} {
			if s, ok := v[key].(string); ok {
				return s
			}
		}
	case map[string]string:
		return localized(toAnyMap(v), locale)
	}
	return ""
}

func toAnyMap(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
