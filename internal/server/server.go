package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/arcanadesk/tarot/internal/auth"
	"github.com/arcanadesk/tarot/internal/credits"
	"github.com/arcanadesk/tarot/internal/i18n"
	"github.com/arcanadesk/tarot/internal/metrics"
	"github.com/arcanadesk/tarot/internal/reading"
	"github.com/arcanadesk/tarot/internal/tarot"
)

// Deps are the collaborators the HTTP API is built from.
type Deps struct {
	DB       *sql.DB
	Ledger   *credits.Ledger
	Catalog  *tarot.Catalog
	Sessions *reading.Manager
	Verifier *auth.Verifier
	I18n     *i18n.Catalog
	Metrics  *metrics.Metrics

	MinShuffle     time.Duration
	MaxFollowUps   int
	RateLimitRPS   float64
	RateLimitBurst int
	SPADir         string

	// WSOriginPatterns are cross-origin hosts allowed on the WebSocket.
	WSOriginPatterns []string
}

type Server struct {
	srv     *http.Server
	logger  *slog.Logger
	limiter *RateLimiter
}

// New builds the router. extra mounts infrastructure routes owned by the
// caller, such as health checks.
func New(addr string, logger *slog.Logger, deps Deps, extra func(chi.Router)) *Server {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(newStructuredLogger(logger))
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Middleware)
	}
	r.Use(middleware.Recoverer)

	if extra != nil {
		extra(r)
	}
	limiter := NewRateLimiter(deps.RateLimitRPS, deps.RateLimitBurst, logger)
	addRoutes(r, logger, deps, limiter)

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           r,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       120 * time.Second,
		},
		logger:  logger,
		limiter: limiter,
	}
}

func (s *Server) Run(_ context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.srv.Addr, err)
	}

	err = s.srv.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

// ForgetIdleClients drops rate-limit state of callers idle since cutoff.
func (s *Server) ForgetIdleClients(cutoff time.Time) int {
	return s.limiter.Cleanup(cutoff)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

func newStructuredLogger(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				logger.Info("http request",
					"method", r.Method,
					"path", r.URL.Path,
					"status", ww.Status(),
					"bytes", ww.BytesWritten(),
					"duration_ms", time.Since(start).Milliseconds(),
					"request_id", middleware.GetReqID(r.Context()),
				)
			}()

			next.ServeHTTP(ww, r)
		})
	}
}
