package auth

import (
	"context"

	"wellnest/internal/model"
)

type ctxKey string

const (
	userContextKey    ctxKey = "wellnest.auth.user"
	sessionContextKey ctxKey = "wellnest.auth.session"
)

func withUserContext(ctx context.Context, u model.User) context.Context {
	return context.WithValue(ctx, userContextKey, u)
}

func withSessionContext(ctx context.Context, s model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// WithUser returns ctx carrying u, as RequireAPI would.
func WithUser(ctx context.Context, u model.User) context.Context {
	return withUserContext(ctx, u)
}

func UserFromContext(ctx context.Context) (model.User, bool) {
	v := ctx.Value(userContextKey)
	u, ok := v.(model.User)
	return u, ok
}

func SessionFromContext(ctx context.Context) (model.Session, bool) {
	v := ctx.Value(sessionContextKey)
	s, ok := v.(model.Session)
	return s, ok
}
