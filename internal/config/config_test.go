package config

import (
	"testing"
	"time"
)

func validLocal() Config {
	return Config{
		App:   AppConfig{Env: "local", Port: 8080},
		DB:    DBConfig{Host: "localhost", Port: 5432, User: "postgres", Password: "x", Name: "dialer"},
		Redis: RedisConfig{Host: "localhost", Port: 6379},
	}
}

func TestLoad_ReportsMissingRequired(t *testing.T) {
	c := Config{}
	if err := c.Validate(); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidate_ProductionRequiresSSLModeAndTwilio(t *testing.T) {
	c := validLocal()
	c.App.Env = "production"
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for production without DB_SSLMODE and Twilio credentials")
	}
}

func TestValidate_LocalDefaults(t *testing.T) {
	c := validLocal()
	if err := c.Validate(); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if c.DB.SSLMode != "disable" {
		t.Fatalf("expected sslmode disable default, got %q", c.DB.SSLMode)
	}
	if c.Dialer.RingWindow != 30*time.Second {
		t.Fatalf("expected 30s ring window default, got %s", c.Dialer.RingWindow)
	}
	if c.Dialer.MaxLegs != 3 {
		t.Fatalf("expected 3 legs default, got %d", c.Dialer.MaxLegs)
	}
	if c.App.NodeID == "" {
		t.Fatalf("expected node id default")
	}
	if c.Events.Heartbeat <= 0 || c.Session.LeaseTTL <= c.Events.Heartbeat {
		t.Fatalf("expected lease ttl above heartbeat, got lease=%s heartbeat=%s", c.Session.LeaseTTL, c.Events.Heartbeat)
	}
}

func TestValidate_MaxLegsBounded(t *testing.T) {
	c := validLocal()
	c.Dialer.MaxLegs = 4
	if err := c.Validate(); err == nil {
		t.Fatalf("expected error for more than 3 legs")
	}
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "9000")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_PORT", "5432")
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_NAME", "n")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6379")
	t.Setenv("DIALER_RING_WINDOW", "20s")
	t.Setenv("DIALER_MAX_LEGS", "2")

	c, err := Load()
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if c.Dialer.RingWindow != 20*time.Second || c.Dialer.MaxLegs != 2 {
		t.Fatalf("unexpected dialer config: %+v", c.Dialer)
	}
	if c.HTTPAddr() != ":9000" || c.RedisAddr() != "redis:6379" {
		t.Fatalf("unexpected addrs %q %q", c.HTTPAddr(), c.RedisAddr())
	}
}

func TestLoad_RejectsBadInteger(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("APP_PORT", "nope")
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
