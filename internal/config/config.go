package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Auth     AuthConfig
	Discord  DiscordConfig
	Tickets  TicketsConfig
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
}

// RedisConfig holds Redis connection values. An empty Addr selects the in-process cache.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	ServiceKeyHash        string
}

// DiscordConfig configures the chat platform REST adapter.
type DiscordConfig struct {
	Token          string
	APIBase        string
	RetryCount     int
	RetryWaitMs    int
	RetryMaxWaitMs int
	TimeoutSeconds int
}

// TicketsConfig tunes the ticket workflows and the archival pipeline.
type TicketsConfig struct {
	CounterCacheTTLSeconds    int
	ArchivePageSize           int
	ArchiveWorkers            int
	ArchiveQueueSize          int
	ArchiveMaxAttempts        int
	ArchiveSweepSchedule      string
	ArchiveStaleAfterSeconds  int
	DeleteChannelAfterArchive bool
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "guild-tickets"),
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
		},
		Redis: RedisConfig{
			Addr:      os.Getenv("REDIS_ADDR"),
			Password:  os.Getenv("REDIS_PASSWORD"),
			DB:        redisDB,
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "tickets:"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			ServiceKeyHash:        os.Getenv("AUTH_SERVICE_KEY_HASH"),
		},
		Discord: DiscordConfig{
			Token:          os.Getenv("DISCORD_TOKEN"),
			APIBase:        getEnv("DISCORD_API_BASE", "https://discord.com/api/v10"),
			RetryCount:     getEnvAsInt("DISCORD_RETRY_COUNT", 4),
			RetryWaitMs:    getEnvAsInt("DISCORD_RETRY_WAIT_MS", 500),
			RetryMaxWaitMs: getEnvAsInt("DISCORD_RETRY_MAX_WAIT_MS", 10000),
			TimeoutSeconds: getEnvAsInt("DISCORD_TIMEOUT_SECONDS", 15),
		},
		Tickets: TicketsConfig{
			CounterCacheTTLSeconds:    getEnvAsInt("TICKETS_COUNTER_CACHE_TTL_SECONDS", 30),
			ArchivePageSize:           getEnvAsInt("TICKETS_ARCHIVE_PAGE_SIZE", 100),
			ArchiveWorkers:            getEnvAsInt("TICKETS_ARCHIVE_WORKERS", 2),
			ArchiveQueueSize:          getEnvAsInt("TICKETS_ARCHIVE_QUEUE_SIZE", 256),
			ArchiveMaxAttempts:        getEnvAsInt("TICKETS_ARCHIVE_MAX_ATTEMPTS", 5),
			ArchiveSweepSchedule:      getEnv("TICKETS_ARCHIVE_SWEEP_SCHEDULE", "@every 1m"),
			ArchiveStaleAfterSeconds:  getEnvAsInt("TICKETS_ARCHIVE_STALE_AFTER_SECONDS", 300),
			DeleteChannelAfterArchive: getEnvAsBool("TICKETS_DELETE_CHANNEL_AFTER_ARCHIVE", true),
		},
	}

	if cfg.Tickets.ArchivePageSize <= 0 || cfg.Tickets.ArchivePageSize > 100 {
		return nil, fmt.Errorf("invalid TICKETS_ARCHIVE_PAGE_SIZE: must be between 1 and 100")
	}

	return cfg, nil
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

// CounterCacheTTL returns how long open-ticket counts may be served from cache.
func (t TicketsConfig) CounterCacheTTL() time.Duration {
	return time.Duration(t.CounterCacheTTLSeconds) * time.Second
}

// ArchiveStaleAfter returns the age after which the sweeper re-enqueues unfinished archives.
func (t TicketsConfig) ArchiveStaleAfter() time.Duration {
	return time.Duration(t.ArchiveStaleAfterSeconds) * time.Second
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
