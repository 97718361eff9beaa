package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App          AppConfig
	Postgres     PostgresConfig
	Redis        RedisConfig
	Logger       LoggerConfig
	Auth         AuthConfig
	Problem      ProblemConfig
	AI           AIConfig
	Notification NotificationConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
	TraceSQL       bool
}

// RedisConfig holds Redis connection values. An empty Addr disables Redis.
type RedisConfig struct {
	Addr                string
	Password            string
	DB                  int
	TicketEventsChannel string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	Issuer                string
	AccessTokenTTLMinutes int
}

// ProblemConfig tunes the recurring-incident engine.
type ProblemConfig struct {
	MatchThreshold       float64
	WindowDays           int
	MinCount             int
	PromoteOnLink        bool
	SweepLockTTLSeconds  int
	FingerprintWorkers   int
	AnalyticsTop         int
	SuggestionLimit      int
	RecentTicketsPerPeer int
}

// AIConfig selects and tunes the ticket classifier.
type AIConfig struct {
	Provider        string
	AnthropicAPIKey string
	Model           string
	TimeoutSeconds  int
	MaxRetries      int
	CacheTTLMinutes int
}

// NotificationConfig holds stub notification endpoints.
type NotificationConfig struct {
	EmailFrom  string
	WebhookURL string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}
	threshold, err := strconv.ParseFloat(getEnv("PROBLEM_MATCH_THRESHOLD", "0.45"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid PROBLEM_MATCH_THRESHOLD: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "problem-service"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
			TraceSQL:       getEnvAsBool("POSTGRES_TRACE_SQL", false),
		},
		Redis: RedisConfig{
			Addr:                getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:            os.Getenv("REDIS_PASSWORD"),
			DB:                  redisDB,
			TicketEventsChannel: getEnv("REDIS_TICKET_EVENTS_CHANNEL", "tickets:events"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			Issuer:                getEnv("AUTH_JWT_ISSUER", "problem-service"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
		},
		Problem: ProblemConfig{
			MatchThreshold:       threshold,
			WindowDays:           getEnvAsInt("PROBLEM_WINDOW_DAYS", 7),
			MinCount:             getEnvAsInt("PROBLEM_MIN_COUNT", 5),
			PromoteOnLink:        getEnvAsBool("PROBLEM_PROMOTE_ON_LINK", true),
			SweepLockTTLSeconds:  getEnvAsInt("PROBLEM_SWEEP_LOCK_TTL_SECONDS", 300),
			FingerprintWorkers:   getEnvAsInt("PROBLEM_FINGERPRINT_WORKERS", 4),
			AnalyticsTop:         getEnvAsInt("PROBLEM_ANALYTICS_TOP", 5),
			SuggestionLimit:      getEnvAsInt("PROBLEM_SUGGESTION_LIMIT", 5),
			RecentTicketsPerPeer: getEnvAsInt("PROBLEM_RECENT_TICKETS_PER_MATCH", 8),
		},
		AI: AIConfig{
			Provider:        strings.ToLower(getEnv("AI_PROVIDER", "rules")),
			AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
			Model:           getEnv("AI_MODEL", "claude-haiku-4-5-20251001"),
			TimeoutSeconds:  getEnvAsInt("AI_TIMEOUT_SECONDS", 8),
			MaxRetries:      getEnvAsInt("AI_MAX_RETRIES", 2),
			CacheTTLMinutes: getEnvAsInt("AI_CACHE_TTL_MINUTES", 60),
		},
		Notification: NotificationConfig{
			EmailFrom:  getEnv("NOTIFY_EMAIL_FROM", "noreply@example.com"),
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
		},
	}

	if err := cfg.Problem.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects engine settings that would make detection meaningless.
func (p ProblemConfig) Validate() error {
	if p.MatchThreshold <= 0 || p.MatchThreshold > 1 {
		return fmt.Errorf("PROBLEM_MATCH_THRESHOLD must be in (0,1], got %v", p.MatchThreshold)
	}
	if p.WindowDays <= 0 {
		return fmt.Errorf("PROBLEM_WINDOW_DAYS must be positive, got %d", p.WindowDays)
	}
	if p.MinCount < 2 {
		return fmt.Errorf("PROBLEM_MIN_COUNT must be at least 2, got %d", p.MinCount)
	}
	return nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// SweepLockTTL returns how long a detection sweep may hold the distributed lock.
func (p ProblemConfig) SweepLockTTL() time.Duration {
	if p.SweepLockTTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(p.SweepLockTTLSeconds) * time.Second
}

// Timeout returns the per-call classifier deadline.
func (a AIConfig) Timeout() time.Duration {
	if a.TimeoutSeconds <= 0 {
		return 8 * time.Second
	}
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long classifier results stay cached; zero disables caching.
func (a AIConfig) CacheTTL() time.Duration {
	if a.CacheTTLMinutes <= 0 {
		return 0
	}
	return time.Duration(a.CacheTTLMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
