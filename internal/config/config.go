package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	log "github.com/sirupsen/logrus"
)

// Config holds the spell host settings read from the environment.
type Config struct {
	Addr        string        `env:"MAGIK_ADDR" envDefault:"127.0.0.1:9001"`
	ServerName  string        `env:"MAGIK_SERVER_NAME" envDefault:"magikcraft"`
	WorldName   string        `env:"MAGIK_WORLD" envDefault:"world"`
	TickPeriod  time.Duration `env:"MAGIK_TICK_PERIOD" envDefault:"50ms"`
	LogLevel    string        `env:"MAGIK_LOG_LEVEL" envDefault:"info"`
	LogFormat   string        `env:"MAGIK_LOG_FORMAT" envDefault:"text"`
	RecipesPath string        `env:"MAGIK_RECIPES_PATH" envDefault:"caldarium.db"`

	// EmptyRunPolicy decides what doNTimes does when asked to run zero
	// times: deferred, immediate or reject.
	EmptyRunPolicy string `env:"MAGIK_EMPTY_RUN_POLICY" envDefault:"deferred"`

	// OpenPlatform servers hand scripts the sender object unconditionally.
	OpenPlatform bool `env:"MAGIK_OPEN_PLATFORM" envDefault:"false"`

	MaxScriptBytes int `env:"MAGIK_MAX_SCRIPT_BYTES" envDefault:"65536"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load reads Config from the environment and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.TickPeriod <= 0 {
		return Config{}, fmt.Errorf("tick period must be positive, got %s", cfg.TickPeriod)
	}
	if cfg.MaxScriptBytes <= 0 {
		return Config{}, fmt.Errorf("max script bytes must be positive, got %d", cfg.MaxScriptBytes)
	}
	return cfg, nil
}

// SetupLogging configures the package-level logrus logger.
func SetupLogging(cfg Config) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)
	log.SetOutput(os.Stderr)

	switch strings.ToLower(strings.TrimSpace(cfg.LogFormat)) {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	default:
		return fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
	return nil
}
