package server

import (
	"log/slog"
	"os"

	"github.com/go-chi/chi/v5"
)

func addRoutes(r chi.Router, logger *slog.Logger, d Deps, limiter *RateLimiter) {
	broker := NewBroker()
	admins := NewSQLiteAdminStore(d.DB)
	history := NewHistoryStore(d.DB)
	hub := newHub(logger, broker, history, d.I18n)
	d.Sessions.OnDiscard = hub.discarded
	settings := sessionSettings{minShuffle: d.MinShuffle, maxFollowUps: d.MaxFollowUps}

	r.Get("/openapi.json", handleOpenAPI())
	r.Handle("/docs", handleSwaggerUI())
	r.Handle("/docs/*", handleSwaggerUI())
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics.Handler())
	}

	r.Get("/api/spreads", handleSpreads(d.Catalog))
	r.Get("/api/phases", handlePhases(d.I18n))

	// User routes: bearer token, or ?token= for EventSource and WebSocket.
	r.Group(func(r chi.Router) {
		r.Use(userAuthMiddleware(d.Verifier))

		r.Get("/api/credits", handleCredits(d.Ledger))
		r.Get("/api/credits/history", handleCreditHistory(d.Ledger))
		r.Get("/api/history", handleHistory(history))
		r.Get("/api/history/{id}", handleHistoryItem(history, d.I18n))

		r.Get("/api/readings/current", handleCurrentReading(d.Sessions, d.I18n))
		r.Get("/api/readings/{id}", handleGetReading(d.Sessions, d.I18n))
		r.Delete("/api/readings/{id}", handleExitReading(d.Sessions))
		r.Get("/api/readings/{id}/events", handleEvents(d.Sessions, broker, d.I18n))
		r.Get("/api/readings/{id}/ws", handleReadingWS(logger, d.Sessions, broker, d.I18n, d.WSOriginPatterns))

		r.Group(func(r chi.Router) {
			r.Use(limiter.Handler)
			r.Post("/api/readings", handleStartReading(d.Sessions, d.Catalog, d.I18n, hub, settings))
			r.Post("/api/readings/{id}/actions", handleReadingAction(logger, d.Sessions, d.I18n))
		})
	})

	// Admin auth.
	r.Post("/api/admin/login", handleAdminLogin(admins))
	r.Post("/api/admin/logout", handleAdminLogout(logger, admins))
	r.Get("/api/admin/me", handleAdminMe(admins))

	r.Route("/api/admin/users/{userID}", func(r chi.Router) {
		r.Use(adminAuthMiddleware(admins))
		r.Get("/credits", handleAdminUserCredits(d.Ledger))
		r.Post("/credits", handleAdminGrantCredits(logger, d.Ledger))
	})

	if d.SPADir != "" {
		if info, err := os.Stat(d.SPADir); err == nil && info.IsDir() {
			logger.Info("serving SPA", "dir", d.SPADir)
			r.NotFound(handleSPA(d.SPADir))
		}
	}
}
