package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pairchat/internal/config"
)

// NewRouter mounts every HTTP and WebSocket endpoint.
func NewRouter(h *Handlers, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(accessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(corsHandler(cfg.Server.AllowedOrigins))

	r.NotFound(h.HandleNotFound)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Message: "Method not allowed"})
	})

	r.Get("/", h.HandleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws", h.HandleWebSocket)

	limits := cfg.RateLimit
	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Use(rateLimit(limits.AuthRequests, limits.Window, limits.Disabled))
			r.Post("/signup", h.HandleSignup)
			r.Post("/signin", h.HandleSignin)
			r.Post("/logout", h.HandleLogout)
			r.With(h.authn.Middleware).Get("/me", h.HandleMe)
		})

		r.Group(func(r chi.Router) {
			r.Use(rateLimit(limits.Requests, limits.Window, limits.Disabled))
			r.Use(h.authn.Middleware)

			r.Post("/conversations", h.HandleCreateConversation)
			r.Get("/conversations/{userId}", h.HandleUserConversations)

			r.Post("/messages", h.HandleSendMessage)
			r.Get("/messages/users", h.HandleUsers)
			r.Get("/messages/{conversationId}", h.HandleMessages)

			r.Get("/users/online", h.HandleOnlineUsers)
		})
	})

	return r
}
