// Package health serves /healthz: one status per backing store.
package health

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/arcanadesk/tarot/internal/migrations"
)

// Checker verifies that an infrastructure dependency is usable.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// SQLite pings db and verifies its schema is at the latest migration.
func SQLite(db *sql.DB) Checker {
	return CheckerFunc(func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		have, err := migrations.Version(db)
		if err != nil {
			return err
		}
		want, err := migrations.Latest()
		if err != nil {
			return err
		}
		if have < want {
			return fmt.Errorf("schema at version %d, want %d", have, want)
		}
		return nil
	})
}

// Redis pings the interpretation cache.
func Redis(rdb *redis.Client) Checker {
	return CheckerFunc(func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	})
}

// Result is the outcome of one check.
type Result struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latencyMs"`
}

type Handler struct {
	checks map[string]Checker
	logger *slog.Logger
}

func NewHandler(logger *slog.Logger, checks map[string]Checker) *Handler {
	return &Handler{checks: checks, logger: logger}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.check)
	return r
}

func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		g       errgroup.Group
		results = make(map[string]Result, len(h.checks))
		status  = http.StatusOK
	)
	for name, c := range h.checks {
		g.Go(func() error {
			start := time.Now()
			err := c.Check(ctx)
			res := Result{Status: "ok", LatencyMS: time.Since(start).Milliseconds()}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				h.logger.Error("health check failed", "name", name, "error", err)
				res.Status = "error"
				status = http.StatusServiceUnavailable
			}
			results[name] = res
			return nil
		})
	}
	_ = g.Wait()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(results)
}
