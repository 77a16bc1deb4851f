package openai

import (
	"context"
	"strings"
)

type ctxKey struct{}

// WithRequestAPIKey attaches a caller-supplied API key that takes precedence
// over the client's configured key.
func WithRequestAPIKey(ctx context.Context, apiKey string) context.Context {
	return context.WithValue(ctx, ctxKey{}, strings.TrimSpace(apiKey))
}

func RequestAPIKeyFromContext(ctx context.Context) string {
	value, _ := ctx.Value(ctxKey{}).(string)
	return value
}
