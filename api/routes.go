package api

import (
	"github.com/garnizeh/mockprep/internal/config"
	"github.com/garnizeh/mockprep/internal/service"
	"github.com/garnizeh/mockprep/pkg/repository"
	"github.com/gorilla/mux"
)

// SetupRoutes builds the router. db may be nil, which drops the database
// check from /health.
func SetupRoutes(cfg *config.Config, version, buildTime string, svc *service.Service, users repository.UserRepo, db Pinger) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)

	systemHandler := &SystemHandler{DB: db}
	authHandler := NewAuthHandler(users, svc, cfg.JWTSecret, cfg.TokenDuration)
	interviewsHandler := NewInterviewsHandler(svc, cfg.MaxUploadBytes)
	personalityHandler := NewPersonalityHandler(svc)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")
	r.HandleFunc("/v1/auth/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/v1/auth/signin", authHandler.Signin).Methods("POST")

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(cfg.JWTSecret))

	apiV1.HandleFunc("/auth/signout", authHandler.Signout).Methods("POST")

	apiV1.HandleFunc("/interviews", interviewsHandler.Create).Methods("POST")
	apiV1.HandleFunc("/interviews", interviewsHandler.List).Methods("GET")
	apiV1.HandleFunc("/interviews/{id}", interviewsHandler.Get).Methods("GET")
	apiV1.HandleFunc("/interviews/{id}/status", interviewsHandler.Status).Methods("GET")
	apiV1.HandleFunc("/interviews/{id}/upload-target", interviewsHandler.UploadTarget).Methods("POST")
	apiV1.HandleFunc("/interviews/{id}/video", interviewsHandler.UploadVideo).Methods("POST")
	apiV1.HandleFunc("/interviews/{id}/submit", interviewsHandler.Submit).Methods("POST")

	apiV1.HandleFunc("/personality", personalityHandler.Get).Methods("GET")
	apiV1.HandleFunc("/personality", personalityHandler.Update).Methods("PUT")

	return r
}
