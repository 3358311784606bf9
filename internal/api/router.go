package api

import (
	"net/http"

	"github.com/ashureev/rolecall/internal/middleware"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// RouterConfig carries the pieces of the HTTP surface owned by other packages.
type RouterConfig struct {
	APIToken      string
	AllowedOrigin string
	// WebSocket serves /ws/chats/{chatID}. It sits behind the API token
	// (header or access_token query) and then Identity.
	WebSocket http.Handler
	Identity  func(http.Handler) http.Handler
	// Static serves everything that is not an API route.
	Static http.Handler
}

// NewRouter assembles the chi router.
func NewRouter(roleplay *RoleplayHandler, health *HealthHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.HideQueryToken)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))

	origins := []string{"*"}
	if cfg.AllowedOrigin != "" {
		origins = []string{cfg.AllowedOrigin}
	}
	r.Use(middleware.CORS(origins))

	health.RegisterHealth(r)

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RequireToken(cfg.APIToken)).Post("/events", roleplay.PostEvent)
		roleplay.RegisterRoutes(r)
	})

	if cfg.WebSocket != nil {
		ws := cfg.WebSocket
		if cfg.Identity != nil {
			ws = cfg.Identity(ws)
		}
		ws = middleware.RequireStreamToken(cfg.APIToken)(ws)
		r.Handle("/ws/chats/{chatID}", ws)
	}

	if cfg.Static != nil {
		r.Handle("/*", cfg.Static)
	}
	return r
}
