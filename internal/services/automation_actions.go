package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	domain "github.com/shopforge/engine/internal/domain"
)

// ActionRequest carries everything an action handler may read.
type ActionRequest struct {
	Automation Automation
	Action     domain.AutomationAction
	Event      ShopEvent
	TestRun    bool
}

// ActionHandler executes one automation action type. Returned output is stored on the run log.
type ActionHandler interface {
	Execute(ctx context.Context, req ActionRequest) (map[string]any, error)
}

// ActionHandlerFunc adapts a function to ActionHandler.
type ActionHandlerFunc func(ctx context.Context, req ActionRequest) (map[string]any, error)

// Execute implements ActionHandler.
func (f ActionHandlerFunc) Execute(ctx context.Context, req ActionRequest) (map[string]any, error) {
	return f(ctx, req)
}

// ActionHandlers maps action types to their handlers.
type ActionHandlers map[domain.ActionType]ActionHandler

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// RenderTemplate replaces {{path}} placeholders with values looked up in the payload. Unknown
// paths render as empty strings.
func RenderTemplate(template string, payload map[string]any) string {
	return placeholderPattern.ReplaceAllStringFunc(template, func(match string) string {
		path := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := LookupPath(payload, path)
		if !ok {
			return ""
		}
		if s, ok := value.(string); ok {
			return s
		}
		return fmt.Sprint(value)
	})
}

func configString(config map[string]any, key string) string {
	if config == nil {
		return ""
	}
	value, ok := config[key]
	if !ok || value == nil {
		return ""
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(value))
}

func configMap(config map[string]any, key string) map[string]any {
	if config == nil {
		return nil
	}
	value, _ := config[key].(map[string]any)
	return value
}

// renderData renders string leaves of a config map against the payload.
func renderData(data map[string]any, payload map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch value := v.(type) {
		case string:
			out[k] = RenderTemplate(value, payload)
		case map[string]any:
			out[k] = renderData(value, payload)
		default:
			out[k] = v
		}
	}
	return out
}
