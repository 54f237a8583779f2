package config

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("ENV", "test")
	cfg := LoadConfig()

	if cfg.ServerPort != 8080 {
		t.Fatalf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.Auth.TokenTTL != 7*24*time.Hour {
		t.Fatalf("TokenTTL = %v, want 7 days", cfg.Auth.TokenTTL)
	}
	if cfg.Auth.OTPTTL != 600*time.Second {
		t.Fatalf("OTPTTL = %v, want 600s", cfg.Auth.OTPTTL)
	}
	if !cfg.Auth.RequireOTP {
		t.Fatalf("RequireOTP should default to true")
	}
	if cfg.MQ.Channel != "water.events" {
		t.Fatalf("MQ.Channel = %q", cfg.MQ.Channel)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_USE_SSL", "true")
	t.Setenv("AUTH_REQUIRE_OTP", "off")
	t.Setenv("OTP_TTL", "2m")
	t.Setenv("STORAGE_BACKEND", "GCS")
	t.Setenv("MQ_BACKEND", "memory")
	t.Setenv("RATE_LIMIT_CAPACITY", "5")

	cfg := LoadConfig()

	if cfg.ServerPort != 9090 {
		t.Fatalf("ServerPort = %d, want 9090", cfg.ServerPort)
	}
	if !cfg.Database.UseSSL {
		t.Fatalf("expected UseSSL")
	}
	if cfg.Auth.RequireOTP {
		t.Fatalf("expected RequireOTP to be disabled")
	}
	if cfg.Auth.OTPTTL != 2*time.Minute {
		t.Fatalf("OTPTTL = %v, want 2m", cfg.Auth.OTPTTL)
	}
	if cfg.Storage.Backend != "gcs" {
		t.Fatalf("Storage.Backend = %q, want gcs", cfg.Storage.Backend)
	}
	if cfg.MQ.Backend != "memory" {
		t.Fatalf("MQ.Backend = %q, want memory", cfg.MQ.Backend)
	}
	if cfg.RateLimit.Capacity != 5 {
		t.Fatalf("RateLimit.Capacity = %d, want 5", cfg.RateLimit.Capacity)
	}
}

func TestGetEnvBoolFallsBackOnGarbage(t *testing.T) {
	t.Setenv("SOME_FLAG", "maybe")
	if got := getEnvBool("SOME_FLAG", true); !got {
		t.Fatalf("expected default for unparsable value")
	}
}
