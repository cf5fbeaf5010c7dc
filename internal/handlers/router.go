package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/qcom/taskmanager/internal/middleware"
	"github.com/sirupsen/logrus"
)

// NewRouter wires the HTTP surface. Admission runs ahead of routing so a
// rejected request never reaches a handler, matched or not.
func NewRouter(
	authHandlers *AuthHandlers,
	userHandlers *UserHandlers,
	authMiddleware *middleware.AuthMiddleware,
	rateLimit *middleware.RateLimitMiddleware,
	logger *logrus.Logger,
) http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	auth := api.PathPrefix("/auth").Subrouter()
	auth.HandleFunc("/register", authHandlers.Register).Methods("POST")
	auth.HandleFunc("/login", authHandlers.Login).Methods("POST")
	auth.HandleFunc("/refresh", authHandlers.RefreshToken).Methods("POST")

	users := api.PathPrefix("/users").Subrouter()
	users.Use(authMiddleware.RequireAuth)
	users.HandleFunc("/me", userHandlers.Me).Methods("GET")
	users.HandleFunc("/me", userHandlers.DeleteMe).Methods("DELETE")
	users.HandleFunc("/{id}", userHandlers.GetUser).Methods("GET")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respondWithError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	})

	var h http.Handler = router
	h = rateLimit.Handler(h)
	h = middleware.LoggingMiddleware(logger)(h)
	h = middleware.CORSMiddleware(h)
	return h
}
