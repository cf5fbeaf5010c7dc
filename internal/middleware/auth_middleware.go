package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/qcom/taskmanager/internal/models"
	"github.com/qcom/taskmanager/internal/service"
	"github.com/sirupsen/logrus"
)

// IdentityResolver confirms that a verified subject is still an active user.
type IdentityResolver interface {
	ResolveActive(ctx context.Context, subjectID string) (*models.User, error)
}

type AuthMiddleware struct {
	jwtService *service.JWTService
	identities IdentityResolver
	logger     *logrus.Logger
}

func NewAuthMiddleware(jwtService *service.JWTService, identities IdentityResolver, logger *logrus.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		jwtService: jwtService,
		identities: identities,
		logger:     logger,
	}
}

// RequireAuth admits only requests bearing a valid access token of an active
// user. Every token failure gets the same response.
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			m.respondUnauthorized(w)
			return
		}

		claims, err := m.jwtService.VerifyClass(tokenString, models.TokenClassAccess)
		if err != nil {
			m.logger.WithError(err).Debug("Token verification failed")
			m.respondUnauthorized(w)
			return
		}

		user, err := m.identities.ResolveActive(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, service.ErrSubjectNotActive) {
				m.logger.WithField("user_id", claims.Subject).Debug("Token subject is not active")
				m.respondUnauthorized(w)
				return
			}
			m.logger.WithError(err).Error("Failed to resolve token subject")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error":{"code":"INTERNAL_ERROR","message":"Failed to resolve identity"}}`))
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), claims, user)))
	})
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func (m *AuthMiddleware) respondUnauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"Invalid or missing credentials"}}`))
}
