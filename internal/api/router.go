package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// RouterOptions configures the HTTP surface
type RouterOptions struct {
	AllowedOrigins []string
	// TrustProxy rewrites RemoteAddr from X-Forwarded-For / X-Real-IP
	TrustProxy bool
	Limiter    *IPRateLimiter
	// WebSocket serves GET /ws when set
	WebSocket http.Handler
	Logger    *slog.Logger
}

// NewRouter mounts every route at the root and again under /api
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	if opts.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", h.Health)
	if opts.WebSocket != nil {
		r.Handle("/ws", opts.WebSocket)
	}

	routes := func(r chi.Router) {
		if opts.Limiter != nil {
			r.Use(opts.Limiter.Middleware)
		}
		r.Post("/trades/open", h.OpenTrade)
		r.Post("/trades/close", h.CloseTrade)
		r.Patch("/trades/close/{id}", h.SettleTrade)
		r.Get("/trades/history", h.TradeHistory)

		r.Post("/tournaments/join", h.JoinTournament)
		r.Get("/tournaments", h.ListTournaments)

		r.Get("/leaderboard", h.Leaderboard)
		r.Get("/leaderboard/users", h.UserRankings)

		r.Patch("/user/update/{id}", h.UpdateUser)
		r.Get("/price", h.Price)
	}
	r.Group(routes)
	r.Route("/api", routes)

	return r
}
