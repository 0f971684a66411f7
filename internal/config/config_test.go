package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_SERVICE", "")
	t.Setenv("METERING_RATE_WINDOW_MS", "")
	t.Setenv("SETTLEMENT_INTENT_TTL", "")

	cfg := Load()
	if cfg.AppName != "tokenwallet" {
		t.Fatalf("expected default app name, got %q", cfg.AppName)
	}
	if cfg.Metering.WindowMs != 60_000 {
		t.Fatalf("expected default window 60000, got %d", cfg.Metering.WindowMs)
	}
	if cfg.Settlement.IntentTTL != 24*time.Hour {
		t.Fatalf("expected default intent ttl, got %s", cfg.Settlement.IntentTTL)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("METERING_RATE_MAX", "3")
	t.Setenv("RATE_LIMIT_REDIS_ENABLED", "yes")
	t.Setenv("SWEEPER_INTERVAL", "30s")
	t.Setenv("SETTLEMENT_TOKENS_PER_MINOR_UNIT", " 1.5 ")
	t.Setenv("ENVIRONMENT", "production")

	cfg := Load()
	if cfg.Metering.MaxPerWindow != 3 {
		t.Fatalf("expected max 3, got %d", cfg.Metering.MaxPerWindow)
	}
	if !cfg.RateLimit.Enabled {
		t.Fatalf("expected redis limiter enabled")
	}
	if cfg.Sweeper.Interval != 30*time.Second {
		t.Fatalf("expected 30s interval, got %s", cfg.Sweeper.Interval)
	}
	if cfg.Settlement.TokensPerMinorUnit != "1.5" {
		t.Fatalf("expected trimmed ratio, got %q", cfg.Settlement.TokensPerMinorUnit)
	}
	if !cfg.IsProduction() {
		t.Fatalf("expected production environment")
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("METERING_RATE_MAX", "many")
	t.Setenv("SWEEPER_INTERVAL", "soon")

	cfg := Load()
	if cfg.Metering.MaxPerWindow != 120 {
		t.Fatalf("expected fallback max, got %d", cfg.Metering.MaxPerWindow)
	}
	if cfg.Sweeper.Interval != time.Minute {
		t.Fatalf("expected fallback interval, got %s", cfg.Sweeper.Interval)
	}
}

func TestTelemetryProtocolPrefersTracesOverride(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_PROTOCOL", "HTTP")
	t.Setenv("OTEL_SAMPLING_RATIO", "0.5")
	t.Setenv("LOG_LEVEL", " Debug ")

	cfg := Load()
	if cfg.Telemetry.OTLPProtocol != "http" {
		t.Fatalf("expected http protocol, got %q", cfg.Telemetry.OTLPProtocol)
	}
	if cfg.Telemetry.SamplingRatio != 0.5 {
		t.Fatalf("expected 0.5 sampling ratio, got %v", cfg.Telemetry.SamplingRatio)
	}
	if cfg.Telemetry.LogLevel != "debug" {
		t.Fatalf("expected debug level, got %q", cfg.Telemetry.LogLevel)
	}
}
