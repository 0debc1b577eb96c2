package config

import (
	"strings"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9001" {
		t.Fatalf("expected default addr, got %q", cfg.Addr)
	}
	if cfg.TickPeriod != 50*time.Millisecond {
		t.Fatalf("expected 50ms tick period, got %s", cfg.TickPeriod)
	}
	if cfg.EmptyRunPolicy != "deferred" {
		t.Fatalf("expected deferred empty run policy, got %q", cfg.EmptyRunPolicy)
	}
	if cfg.OpenPlatform {
		t.Fatal("expected campaign server by default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("MAGIK_TICK_PERIOD", "10ms")
	t.Setenv("MAGIK_OPEN_PLATFORM", "true")
	t.Setenv("MAGIK_WORLD", "nether")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.TickPeriod != 10*time.Millisecond {
		t.Fatalf("expected 10ms, got %s", cfg.TickPeriod)
	}
	if !cfg.OpenPlatform {
		t.Fatal("expected open platform")
	}
	if cfg.WorldName != "nether" {
		t.Fatalf("expected nether, got %q", cfg.WorldName)
	}
}

func TestLoadRejectsNonPositiveTick(t *testing.T) {
	t.Setenv("MAGIK_TICK_PERIOD", "0s")

	if _, err := Load(); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseEnvError(t *testing.T) {
	t.Setenv("MAGIK_MAX_SCRIPT_BYTES", "not-an-int")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestSetupLogging(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	if err := SetupLogging(Config{LogLevel: "debug", LogFormat: "json"}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}
	if err := SetupLogging(Config{LogLevel: "loud"}); err == nil {
		t.Fatal("expected level error")
	}
	if err := SetupLogging(Config{LogLevel: "info", LogFormat: "xml"}); err == nil {
		t.Fatal("expected format error")
	}
}
