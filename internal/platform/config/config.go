package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envPrefix = "MINPAKU_"

	defaultEnvFile            = ".env"
	defaultEnvironment        = "development"
	defaultLogLevel           = "info"
	defaultPort               = "8080"
	defaultReadTimeout        = 15 * time.Second
	defaultWriteTimeout       = 30 * time.Second
	defaultIdleTimeout        = 120 * time.Second
	defaultShutdownTimeout    = 10 * time.Second
	defaultSessionCookie      = "minpaku_session"
	defaultSessionIdle        = 2 * time.Hour
	defaultSessionLifetime    = 7 * 24 * time.Hour
	defaultSimulationTimeout  = 15 * time.Second
	defaultStoreDriver        = "memory"
	defaultStoreTTL           = 24 * time.Hour
	defaultStoreKeyPrefix     = "minpaku:wizard:"
	defaultHistoryDriver      = "memory"
	defaultHistoryPerSession  = 20
	defaultSubmitPerMinute    = 10
	defaultLocale             = "ja"
	minSessionHashKeyLength   = 32
	productionEnvironmentName = "production"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Session     SessionConfig
	Simulation  SimulationConfig
	Store       StoreConfig
	History     HistoryConfig
	RateLimit   RateLimitConfig
	Locale      LocaleConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	DevMode         bool
}

// SessionConfig configures the visitor cookie.
type SessionConfig struct {
	CookieName  string
	HashKey     string
	BlockKey    string
	Secure      bool
	IdleTimeout time.Duration
	Lifetime    time.Duration
}

// SimulationConfig points at the external simulation backend. An empty BaseURL
// selects the built-in demo responder.
type SimulationConfig struct {
	BaseURL string
	Timeout time.Duration
}

// StoreConfig selects where wizard state lives.
type StoreConfig struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
	TTL           time.Duration
}

// HistoryConfig selects the submission log backend.
type HistoryConfig struct {
	Driver      string
	DatabaseURL string
	PerSession  int
}

// RateLimitConfig controls request throttling on submission routes.
type RateLimitConfig struct {
	SubmitPerMinute int
}

// LocaleConfig lists the UI languages.
type LocaleConfig struct {
	Default   string
	Supported []string
}

// IsProduction reports whether the process runs with production hardening.
func (c Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, productionEnvironmentName)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// Load assembles the configuration by combining defaults, .env overrides and
// environment variables.
func Load(opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if value, ok := dotEnvValues[key]; ok {
			return value, true
		}
		return "", false
	}
	prefixed := func(key string) (string, bool) {
		return lookup(envPrefix + key)
	}

	cfg := Config{
		Environment: strings.ToLower(stringWithDefault(prefixed, "ENV", defaultEnvironment)),
		LogLevel:    stringWithDefault(prefixed, "LOG_LEVEL", stringWithDefault(lookup, "LOG_LEVEL", defaultLogLevel)),
		Server: ServerConfig{
			Port:            stringWithDefault(prefixed, "PORT", stringWithDefault(lookup, "PORT", defaultPort)),
			ReadTimeout:     durationWithDefault(prefixed, "SERVER_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(prefixed, "SERVER_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(prefixed, "SERVER_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(prefixed, "SERVER_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
			DevMode:         boolWithDefault(prefixed, "DEV", false),
		},
		Session: SessionConfig{
			CookieName:  stringWithDefault(prefixed, "SESSION_COOKIE", defaultSessionCookie),
			HashKey:     stringWithDefault(prefixed, "SESSION_HASH_KEY", ""),
			BlockKey:    stringWithDefault(prefixed, "SESSION_BLOCK_KEY", ""),
			IdleTimeout: durationWithDefault(prefixed, "SESSION_IDLE_TIMEOUT", defaultSessionIdle),
			Lifetime:    durationWithDefault(prefixed, "SESSION_LIFETIME", defaultSessionLifetime),
		},
		Simulation: SimulationConfig{
			BaseURL: strings.TrimRight(stringWithDefault(prefixed, "SIMULATION_BASE_URL", ""), "/"),
			Timeout: durationWithDefault(prefixed, "SIMULATION_TIMEOUT", defaultSimulationTimeout),
		},
		Store: StoreConfig{
			Driver:        strings.ToLower(stringWithDefault(prefixed, "STORE_DRIVER", defaultStoreDriver)),
			RedisAddr:     stringWithDefault(prefixed, "REDIS_ADDR", ""),
			RedisPassword: stringWithDefault(prefixed, "REDIS_PASSWORD", ""),
			RedisDB:       intWithDefault(prefixed, "REDIS_DB", 0),
			KeyPrefix:     stringWithDefault(prefixed, "STORE_KEY_PREFIX", defaultStoreKeyPrefix),
			TTL:           durationWithDefault(prefixed, "STORE_TTL", defaultStoreTTL),
		},
		History: HistoryConfig{
			Driver:      strings.ToLower(stringWithDefault(prefixed, "HISTORY_DRIVER", defaultHistoryDriver)),
			DatabaseURL: stringWithDefault(prefixed, "DATABASE_URL", stringWithDefault(lookup, "DATABASE_URL", "")),
			PerSession:  intWithDefault(prefixed, "HISTORY_PER_SESSION", defaultHistoryPerSession),
		},
		RateLimit: RateLimitConfig{
			SubmitPerMinute: intWithDefault(prefixed, "RATE_LIMIT_SUBMIT_PER_MINUTE", defaultSubmitPerMinute),
		},
		Locale: LocaleConfig{
			Default:   strings.ToLower(stringWithDefault(prefixed, "DEFAULT_LOCALE", defaultLocale)),
			Supported: csvWithDefault(prefixed, "SUPPORTED_LOCALES", []string{"ja", "en"}),
		},
	}
	cfg.Session.Secure = boolWithDefault(prefixed, "SESSION_SECURE", cfg.IsProduction())

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validateConfig(cfg Config) error {
	var fields []string

	if strings.TrimSpace(cfg.Server.Port) == "" {
		fields = append(fields, "Server.Port")
	} else if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port <= 0 || port > 65535 {
		fields = append(fields, "Server.Port")
	}
	if cfg.Simulation.Timeout <= 0 {
		fields = append(fields, "Simulation.Timeout")
	}
	if cfg.Simulation.BaseURL == "" && cfg.IsProduction() {
		fields = append(fields, "Simulation.BaseURL")
	}
	if cfg.Session.HashKey != "" && len(cfg.Session.HashKey) < minSessionHashKeyLength {
		fields = append(fields, "Session.HashKey")
	}
	if cfg.Session.HashKey == "" && cfg.IsProduction() {
		fields = append(fields, "Session.HashKey")
	}
	switch n := len(cfg.Session.BlockKey); n {
	case 0, 16, 24, 32:
	default:
		fields = append(fields, "Session.BlockKey")
	}

	switch cfg.Store.Driver {
	case "memory":
	case "redis":
		if cfg.Store.RedisAddr == "" {
			fields = append(fields, "Store.RedisAddr")
		}
	default:
		fields = append(fields, "Store.Driver")
	}
	if cfg.Store.TTL <= 0 {
		fields = append(fields, "Store.TTL")
	}

	switch cfg.History.Driver {
	case "memory", "none":
	case "postgres":
		if cfg.History.DatabaseURL == "" {
			fields = append(fields, "History.DatabaseURL")
		}
	default:
		fields = append(fields, "History.Driver")
	}
	if cfg.History.PerSession <= 0 {
		fields = append(fields, "History.PerSession")
	}
	if cfg.RateLimit.SubmitPerMinute < 0 {
		fields = append(fields, "RateLimit.SubmitPerMinute")
	}

	if len(cfg.Locale.Supported) == 0 || !contains(cfg.Locale.Supported, cfg.Locale.Default) {
		fields = append(fields, "Locale.Default")
	}

	if len(fields) > 0 {
		return &ValidationError{fields: fields}
	}
	return nil
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	values, err := godotenv.Read(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}

func csvWithDefault(lookup func(string) (string, bool), key string, fallback []string) []string {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		out := make([]string, len(fallback))
		copy(out, fallback)
		return out
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.ToLower(strings.TrimSpace(part))
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
