package middleware

import (
	"context"

	"github.com/qcom/taskmanager/internal/models"
	"github.com/qcom/taskmanager/internal/service"
)

type contextKey int

const (
	claimsKey contextKey = iota
	userKey
)

func withIdentity(ctx context.Context, claims *service.Claims, user *models.User) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	return context.WithValue(ctx, userKey, user)
}

// UserFromContext returns the authenticated user set by RequireAuth.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey).(*models.User)
	return user, ok && user != nil
}

func UserIDFromContext(ctx context.Context) (string, bool) {
	user, ok := UserFromContext(ctx)
	if !ok {
		return "", false
	}
	return user.ID, true
}

func ClaimsFromContext(ctx context.Context) (*service.Claims, bool) {
	claims, ok := ctx.Value(claimsKey).(*service.Claims)
	return claims, ok && claims != nil
}
