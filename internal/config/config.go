package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module provides the application configuration.
var Module = fx.Module("config",
	fx.Provide(Load),
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string
	NodeID      int64

	OTLPEndpoint string
	Telemetry    TelemetryConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int

	RateLimit  RateLimitConfig
	Metering   MeteringConfig
	Settlement SettlementConfig
	Sweeper    SweeperConfig
	Seed       SeedConfig
}

// TelemetryConfig holds logging and OpenTelemetry settings. The OTEL_*
// variables follow the OpenTelemetry environment conventions.
type TelemetryConfig struct {
	ServiceName   string
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OTLPProtocol  string
	SamplingRatio float64
}

// RateLimitConfig selects the limiter backend.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// MeteringConfig bounds how often a single user may trigger one action.
type MeteringConfig struct {
	WindowMs     int
	MaxPerWindow int
	RatesFile    string
}

// SettlementConfig controls how settled payments become wallet credits.
type SettlementConfig struct {
	// TokensPerMinorUnit is used when a paid intent carries no meta.tokens.
	// Empty or zero disables the fallback.
	TokensPerMinorUnit string
	IntentTTL          time.Duration
}

// SweeperConfig controls the pending intent expiry loop.
type SweeperConfig struct {
	Enabled   bool
	Interval  time.Duration
	BatchSize int
}

// SeedConfig bootstraps one funded workspace for local runs.
type SeedConfig struct {
	WorkspaceID string
	Tokens      int64
	MonthlyCap  int64
	Features    []string
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "tokenwallet"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		NodeID:       int64(getenvInt("SNOWFLAKE_NODE_ID", 1)),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),

		Telemetry: TelemetryConfig{
			ServiceName:   getenv("OTEL_SERVICE_NAME", ""),
			LogLevel:      strings.ToLower(strings.TrimSpace(getenv("LOG_LEVEL", "info"))),
			LogFormat:     strings.ToLower(strings.TrimSpace(getenv("LOG_FORMAT", "json"))),
			OtelEnabled:   getenvBool("OTEL_ENABLED", true),
			OTLPProtocol:  strings.ToLower(strings.TrimSpace(getenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")))),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postgres"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 10),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 50),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME_SECONDS", 3600),
		DBConnMaxIdleTime: getenvInt("DATABASE_CONN_MAX_IDLE_TIME_SECONDS", 600),

		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_REDIS_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "localhost:6379")),
			RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
		},
		Metering: MeteringConfig{
			WindowMs:     getenvInt("METERING_RATE_WINDOW_MS", 60_000),
			MaxPerWindow: getenvInt("METERING_RATE_MAX", 120),
			RatesFile:    strings.TrimSpace(getenv("METERING_RATES_FILE", "")),
		},
		Settlement: SettlementConfig{
			TokensPerMinorUnit: strings.TrimSpace(getenv("SETTLEMENT_TOKENS_PER_MINOR_UNIT", "")),
			IntentTTL:          getenvDuration("SETTLEMENT_INTENT_TTL", 24*time.Hour),
		},
		Sweeper: SweeperConfig{
			Enabled:   getenvBool("SWEEPER_ENABLED", true),
			Interval:  getenvDuration("SWEEPER_INTERVAL", time.Minute),
			BatchSize: getenvInt("SWEEPER_BATCH_SIZE", 100),
		},
		Seed: SeedConfig{
			WorkspaceID: strings.TrimSpace(getenv("SEED_WORKSPACE_ID", "")),
			Tokens:      int64(getenvInt("SEED_TOKENS", 1000)),
			MonthlyCap:  int64(getenvInt("SEED_MONTHLY_CAP", 0)),
			Features:    getenvList("SEED_FEATURES"),
		},
	}
}

// IsProduction reports whether the service runs in production.
func (c Config) IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(c.Environment), "production")
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getenvDuration(key string, def time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}
