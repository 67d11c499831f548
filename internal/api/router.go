package api

import (
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/itscraftings/converse/internal/api/recovery"
	"github.com/itscraftings/converse/internal/services"
	"github.com/itscraftings/converse/internal/store"
)

// Metrics is the HTTP-facing part of metrics.Collector.
type Metrics interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// Deps are the collaborators the router dispatches to.
type Deps struct {
	Conversations *services.ConversationService
	Messages      *services.MessageService
	Users         *services.UserService
	// UserLookup backs the session middleware.
	UserLookup store.Users
	Tokens     TokenVerifier
	// Subscriptions serves GET /api/subscriptions; nil leaves the route unregistered.
	Subscriptions http.Handler
	Health        func() bool
	Metrics       Metrics
	// AllowedOrigins enables CORS for the listed origins. Empty disables it.
	AllowedOrigins []string
	Log            zerolog.Logger
}

// NewRouter creates a new HTTP router with all API routes
func NewRouter(d Deps) http.Handler {
	router := mux.NewRouter()

	// Global middlewares
	router.Use(recovery.Middleware(d.Log))
	if d.Metrics != nil {
		router.Use(d.Metrics.Middleware)
	}

	healthHandler := NewHealthHandler(d.Health)
	convHandler := NewConversationHandler(d.Conversations)
	msgHandler := NewMessageHandler(d.Messages)
	userHandler := NewUserHandler(d.Users)

	// Health & metrics endpoints
	router.HandleFunc("/api/health", healthHandler.CheckHealth).Methods("GET")
	if d.Metrics != nil {
		router.Handle("/metrics", d.Metrics.Handler()).Methods("GET")
	}

	// Everything below resolves the session first
	authed := router.PathPrefix("/api").Subrouter()
	authed.Use(sessionMiddleware(d.Tokens, d.UserLookup, d.Log))

	authed.HandleFunc("/me", userHandler.Me).Methods("GET")
	authed.HandleFunc("/users/search", userHandler.SearchUsers).Methods("GET")
	authed.HandleFunc("/users/username", userHandler.CreateUsername).Methods("POST")

	authed.HandleFunc("/conversations", convHandler.ListConversations).Methods("GET")
	authed.HandleFunc("/conversations", convHandler.CreateConversation).Methods("POST")
	authed.HandleFunc("/conversations/{conversationId}", convHandler.DeleteConversation).Methods("DELETE")
	authed.HandleFunc("/conversations/{conversationId}/read", convHandler.MarkConversationAsRead).Methods("POST")
	authed.HandleFunc("/conversations/{conversationId}/messages", msgHandler.ListMessages).Methods("GET")
	authed.HandleFunc("/conversations/{conversationId}/messages", msgHandler.SendMessage).Methods("POST")

	if d.Subscriptions != nil {
		authed.Handle("/subscriptions", d.Subscriptions).Methods("GET")
	}

	if len(d.AllowedOrigins) == 0 {
		return router
	}
	return handlers.CORS(
		handlers.AllowedOrigins(d.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Authorization", "Content-Type"}),
	)(router)
}
