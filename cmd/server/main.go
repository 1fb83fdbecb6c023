package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/arcanadesk/tarot/internal/auth"
	"github.com/arcanadesk/tarot/internal/config"
	"github.com/arcanadesk/tarot/internal/credits"
	"github.com/arcanadesk/tarot/internal/database"
	"github.com/arcanadesk/tarot/internal/handler/health"
	"github.com/arcanadesk/tarot/internal/i18n"
	"github.com/arcanadesk/tarot/internal/interpret"
	"github.com/arcanadesk/tarot/internal/metrics"
	"github.com/arcanadesk/tarot/internal/migrations"
	"github.com/arcanadesk/tarot/internal/reading"
	"github.com/arcanadesk/tarot/internal/server"
	"github.com/arcanadesk/tarot/internal/tarot"
)

const sweepInterval = time.Minute

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	m := metrics.New()

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	checks := map[string]health.Checker{"sqlite": health.SQLite(db)}

	// --- Interpretation ---
	if cfg.OpenRouterAPIKey == "" {
		logger.Warn("OPENROUTER_API_KEY not set; interpretations will fail")
	}
	client := interpret.NewClient(&http.Client{Timeout: cfg.LLMTimeout}, cfg.OpenRouterAPIKey,
		cfg.OpenRouterBaseURL, cfg.LLMModel, cfg.LLMFallbackModels, logger)

	policy := interpret.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.LLMMaxAttempts
	policy.InitialBackoff = cfg.LLMInitialBackoff
	policy.MaxBackoff = cfg.LLMMaxBackoff
	policy.AttemptTimeout = cfg.LLMTimeout
	retrier := interpret.NewRetrier(client, policy, logger)
	retrier.OnAttempt = m.InterpretAttempt

	var interpreter interpret.Interpreter = retrier

	// --- Redis (optional interpretation cache) ---
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis")

		interpreter = interpret.NewCache(retrier, rdb, cfg.InterpretCacheTTL, logger)
		checks["redis"] = health.Redis(rdb)
	}

	// --- Domain ---
	tr, err := i18n.Load()
	if err != nil {
		return fmt.Errorf("loading translations: %w", err)
	}
	catalog := tarot.NewCatalog()
	if _, err := catalog.Spreads(); err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}

	ledger := credits.NewLedger(db, logger)
	ledger.OnChange = m.CreditsMoved

	sessions := reading.NewManager(reading.Deps{
		Credits:     ledger,
		Cards:       tarot.NewDealer(catalog, rand.New(rand.NewSource(time.Now().UnixNano()))),
		Interpreter: interpreter,
		Logger:      logger,
		OnTransition: func(from, to reading.Phase) {
			m.PhaseTransition(from.String(), to.String())
		},
	}, cfg.SessionIdleTTL)
	m.TrackLiveSessions(sessions.Len)

	if cfg.AdminEmail != "" {
		if err := server.SeedAdmin(ctx, logger, server.NewSQLiteAdminStore(db), cfg.AdminEmail, cfg.AdminPassword); err != nil {
			return fmt.Errorf("seeding admin: %w", err)
		}
	}

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, server.Deps{
		DB:             db,
		Ledger:         ledger,
		Catalog:        catalog,
		Sessions:       sessions,
		Verifier:       auth.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		I18n:           tr,
		Metrics:        m,
		MinShuffle:     cfg.MinShuffle,
		MaxFollowUps:   cfg.MaxFollowUps,
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		SPADir:         cfg.SPADir,

		WSOriginPatterns: cfg.WSOriginPatterns,
	}, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, checks).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	g.Go(func() error {
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case now := <-t.C:
				expired := sessions.Sweep(now)
				clients := srv.ForgetIdleClients(now.Add(-10 * sweepInterval))
				if expired > 0 || clients > 0 {
					logger.Info("swept idle state", "sessions", expired, "rate_limit_clients", clients)
				}
			}
		}
	})

	return g.Wait()
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}
