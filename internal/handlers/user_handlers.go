package handlers

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/qcom/taskmanager/internal/middleware"
	"github.com/qcom/taskmanager/internal/models"
	"github.com/qcom/taskmanager/internal/service"
	"github.com/sirupsen/logrus"
)

type UserHandlers struct {
	authService *service.AuthService
	logger      *logrus.Logger
}

func NewUserHandlers(authService *service.AuthService, logger *logrus.Logger) *UserHandlers {
	return &UserHandlers{
		authService: authService,
		logger:      logger,
	}
}

func (h *UserHandlers) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing credentials")
		return
	}
	respondWithJSON(w, http.StatusOK, newUserResponse(user))
}

// GetUser returns a profile to its owner or to an admin. Anyone else gets
// the same 404 as for an unknown id.
func (h *UserHandlers) GetUser(w http.ResponseWriter, r *http.Request) {
	caller, ok := middleware.UserFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing credentials")
		return
	}

	id := mux.Vars(r)["id"]
	if id != caller.ID && !caller.HasRole(models.RoleAdmin) {
		respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	}

	user, err := h.authService.FindActiveByID(r.Context(), id)
	if errors.Is(err, service.ErrUserNotFound) {
		respondWithError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("user_id", id).Error("Failed to load user")
		respondWithError(w, http.StatusInternalServerError, "USER_LOOKUP_FAILED", "Failed to load user")
		return
	}

	respondWithJSON(w, http.StatusOK, newUserResponse(user))
}

func (h *UserHandlers) DeleteMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid or missing credentials")
		return
	}

	if err := h.authService.SoftDelete(r.Context(), userID); err != nil {
		h.logger.WithError(err).WithField("user_id", userID).Error("Failed to delete user")
		respondWithError(w, http.StatusInternalServerError, "USER_DELETE_FAILED", "Failed to delete user")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
