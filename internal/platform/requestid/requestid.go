package requestid

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

const Header = "X-Request-Id"

type ctxKey struct{}

func New() string {
	return uuid.NewString()
}

// WithContext attaches id to ctx so outgoing calls reuse it.
func WithContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, strings.TrimSpace(id))
}

// FromContext returns the id attached to ctx, or a fresh one.
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(ctxKey{}).(string); ok && id != "" {
		return id
	}
	return New()
}
