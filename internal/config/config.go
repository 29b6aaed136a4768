package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds server settings read from the environment
type Config struct {
	Addr             string        `env:"GAMEPATCH_ADDR" envDefault:":8080"`
	DBPath           string        `env:"GAMEPATCH_DB_PATH" envDefault:"gamepatch.db"`
	JWTSecret        string        `env:"GAMEPATCH_JWT_SECRET"`
	DefaultBot       string        `env:"GAMEPATCH_DEFAULT_BOT" envDefault:"greeter"`
	RateLimit        float64       `env:"GAMEPATCH_RATE_LIMIT" envDefault:"100"`
	RateBurst        int           `env:"GAMEPATCH_RATE_BURST" envDefault:"20"`
	MaxBodyBytes     int64         `env:"GAMEPATCH_MAX_BODY_BYTES" envDefault:"1048576"`
	ConditionTimeout time.Duration `env:"GAMEPATCH_CONDITION_TIMEOUT" envDefault:"100ms"`
	AllowedOrigins   []string      `env:"GAMEPATCH_ALLOWED_ORIGINS" envSeparator:","`
	LogLevel         string        `env:"GAMEPATCH_LOG_LEVEL" envDefault:"info"`
	LogFormat        string        `env:"GAMEPATCH_LOG_FORMAT" envDefault:"text"`
}

// Load reads a .env file if present, then the environment
func Load(files ...string) (*Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values env parsing cannot
func (c *Config) Validate() error {
	if c.RateLimit <= 0 || c.RateBurst <= 0 {
		return fmt.Errorf("rate limit and burst must be positive")
	}
	if c.MaxBodyBytes <= 0 {
		return fmt.Errorf("max body bytes must be positive")
	}
	if c.ConditionTimeout <= 0 {
		return fmt.Errorf("condition timeout must be positive")
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	return nil
}

// NewLogger builds the process logger from the configured level and format
func NewLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
