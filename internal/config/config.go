package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr string     `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath   string     `env:"DB_PATH" envDefault:"data/tarot.db"`
	LogLevel slog.Level `env:"LOG_LEVEL" envDefault:"INFO"`
	SPADir   string     `env:"SPA_DIR" envDefault:"../web/dist"`
	// RedisURL enables the interpretation cache when set.
	RedisURL string `env:"REDIS_URL"`

	JWTSecret string `env:"JWT_SECRET,required,unset"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"arcanadesk"`

	AdminEmail    string `env:"ADMIN_EMAIL"`
	AdminPassword string `env:"ADMIN_PASSWORD,unset"`

	OpenRouterAPIKey  string        `env:"OPENROUTER_API_KEY,unset"`
	OpenRouterBaseURL string        `env:"OPENROUTER_BASE_URL" envDefault:"https://openrouter.ai/api/v1"`
	LLMModel          string        `env:"LLM_MODEL" envDefault:"openai/gpt-4o-mini"`
	LLMFallbackModels []string      `env:"LLM_FALLBACK_MODELS" envSeparator:","`
	LLMTimeout        time.Duration `env:"LLM_TIMEOUT" envDefault:"30s"`
	LLMMaxAttempts    int           `env:"LLM_MAX_ATTEMPTS" envDefault:"3"`
	LLMInitialBackoff time.Duration `env:"LLM_INITIAL_BACKOFF" envDefault:"500ms"`
	LLMMaxBackoff     time.Duration `env:"LLM_MAX_BACKOFF" envDefault:"5s"`
	InterpretCacheTTL time.Duration `env:"INTERPRET_CACHE_TTL" envDefault:"24h"`

	MinShuffle     time.Duration `env:"MIN_SHUFFLE" envDefault:"2s"`
	MaxFollowUps   int           `env:"MAX_FOLLOW_UPS" envDefault:"3"`
	SessionIdleTTL time.Duration `env:"SESSION_IDLE_TTL" envDefault:"30m"`

	RateLimitRPS   float64 `env:"RATE_LIMIT_RPS" envDefault:"5"`
	RateLimitBurst int     `env:"RATE_LIMIT_BURST" envDefault:"10"`

	// WSOriginPatterns lists extra browser origins, as host patterns such
	// as "*.arcanadesk.app", that may open the reading WebSocket. Same-origin
	// pages are always accepted.
	WSOriginPatterns []string `env:"WS_ORIGIN_PATTERNS" envSeparator:","`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c Config) validate() error {
	var errs []error
	if len(c.JWTSecret) < 32 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 32 bytes"))
	}
	if c.LLMMaxAttempts < 1 {
		errs = append(errs, errors.New("LLM_MAX_ATTEMPTS must be at least 1"))
	}
	if c.MaxFollowUps < 0 {
		errs = append(errs, errors.New("MAX_FOLLOW_UPS must not be negative"))
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst < 1 {
		errs = append(errs, errors.New("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		errs = append(errs, errors.New("ADMIN_EMAIL and ADMIN_PASSWORD must be set together"))
	}
	return errors.Join(errs...)
}
