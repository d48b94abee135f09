package httpx

import (
	"context"

	"github.com/flightdesk/flightdesk/pkg/jwtx"
)

type ctxKey string

const (
	CtxKeyUserID ctxKey = "user_id"
	CtxKeyClaims ctxKey = "claims"
)

// ClaimsFromContext returns the claims stored by AuthnMiddleware.
func ClaimsFromContext(ctx context.Context) (jwtx.Claims, bool) {
	c, ok := ctx.Value(CtxKeyClaims).(jwtx.Claims)
	return c, ok
}

// UserIDFromContext returns the authenticated subject, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(CtxKeyUserID).(string)
	return id
}

// ContextWithClaims stores claims the same way AuthnMiddleware does.
func ContextWithClaims(ctx context.Context, c jwtx.Claims) context.Context {
	ctx = context.WithValue(ctx, CtxKeyUserID, c.Subject)
	ctx = context.WithValue(ctx, CtxKeyClaims, c)
	return ctx
}
