package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/qcom/taskmanager/internal/service"
	"github.com/sirupsen/logrus"
)

type AuthHandlers struct {
	authService *service.AuthService
	logger      *logrus.Logger
}

func NewAuthHandlers(authService *service.AuthService, logger *logrus.Logger) *AuthHandlers {
	return &AuthHandlers{
		authService: authService,
		logger:      logger,
	}
}

type CredentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type SessionResponse struct {
	AccessToken      string       `json:"access_token"`
	RefreshToken     string       `json:"refresh_token"`
	TokenType        string       `json:"token_type"`
	ExpiresIn        int64        `json:"expires_in"`
	RefreshExpiresIn int64        `json:"refresh_expires_in"`
	User             UserResponse `json:"user"`
}

func newSessionResponse(s *service.Session) SessionResponse {
	return SessionResponse{
		AccessToken:      s.Tokens.AccessToken,
		RefreshToken:     s.Tokens.RefreshToken,
		TokenType:        s.Tokens.TokenType,
		ExpiresIn:        s.Tokens.ExpiresIn,
		RefreshExpiresIn: s.Tokens.RefreshExpiresIn,
		User:             newUserResponse(s.User),
	}
}

func (h *AuthHandlers) Register(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	session, err := h.authService.Register(r.Context(), req.Email, req.Password)
	switch {
	case errors.Is(err, service.ErrInvalidEmail):
		respondWithError(w, http.StatusBadRequest, "INVALID_EMAIL", "Invalid email format")
		return
	case errors.Is(err, service.ErrWeakPassword):
		respondWithError(w, http.StatusBadRequest, "WEAK_PASSWORD", "Password must be at least 8 characters")
		return
	case errors.Is(err, service.ErrEmailExists):
		respondWithError(w, http.StatusConflict, "EMAIL_EXISTS", "Email is already registered")
		return
	case err != nil:
		h.logger.WithError(err).Error("Failed to register user")
		respondWithError(w, http.StatusInternalServerError, "REGISTRATION_FAILED", "Failed to register user")
		return
	}

	respondWithJSON(w, http.StatusCreated, newSessionResponse(session))
}

func (h *AuthHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req CredentialsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	session, err := h.authService.Login(r.Context(), req.Email, req.Password)
	if errors.Is(err, service.ErrInvalidCredentials) {
		respondWithError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to log in user")
		respondWithError(w, http.StatusInternalServerError, "LOGIN_FAILED", "Failed to log in")
		return
	}

	respondWithJSON(w, http.StatusOK, newSessionResponse(session))
}

// RefreshToken mints a new pair from a refresh token. Every way the
// presented token can fail is answered with the same 401.
func (h *AuthHandlers) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		respondWithError(w, http.StatusBadRequest, "MISSING_TOKEN", "Refresh token is required")
		return
	}

	session, err := h.authService.Refresh(r.Context(), token)
	if err != nil {
		if isTokenFailure(err) {
			h.logger.WithError(err).Debug("Refresh rejected")
			respondWithError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid or expired refresh token")
			return
		}
		h.logger.WithError(err).Error("Failed to refresh tokens")
		respondWithError(w, http.StatusInternalServerError, "TOKEN_REFRESH_FAILED", "Failed to refresh tokens")
		return
	}

	respondWithJSON(w, http.StatusOK, newSessionResponse(session))
}

func isTokenFailure(err error) bool {
	return errors.Is(err, service.ErrTokenInvalid) ||
		errors.Is(err, service.ErrTokenExpired) ||
		errors.Is(err, service.ErrTokenWrongClass) ||
		errors.Is(err, service.ErrSubjectNotActive)
}
