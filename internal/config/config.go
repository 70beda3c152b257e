package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	Port        string
	APIBaseURL  string
	APITimeout  time.Duration
	MockOnly    bool
	GuestStore  string // sqlite | redis | memory
	DBDSN       string
	RedisAddr   string
	LogFile     string
	Tracing     bool
	SessionIdle time.Duration
}

const (
	defaultPort        = "8081"
	defaultAPIBaseURL  = "http://127.0.0.1:8080/api/v1"
	defaultAPITimeout  = 8 * time.Second
	defaultGuestStore  = "sqlite"
	defaultDSN         = "storefront-guest.db"
	defaultRedisAddr   = "localhost:6379"
	defaultSessionIdle = 30 * time.Minute
)

func Defaults() Config {
	return Config{
		Port:        defaultPort,
		APIBaseURL:  defaultAPIBaseURL,
		APITimeout:  defaultAPITimeout,
		GuestStore:  defaultGuestStore,
		DBDSN:       defaultDSN,
		RedisAddr:   defaultRedisAddr,
		LogFile:     "./storefront.log",
		SessionIdle: defaultSessionIdle,
	}
}

// Load reads CONFIG_FILE (optional TOML) and then lets environment variables
// override it.
func Load() (Config, error) {
	cfg := Defaults()
	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	log.Printf("[config] PORT=%s API_BASE_URL=%s MOCK_ONLY=%t GUEST_STORE=%s DB_DSN=%s REDIS_ADDR=%s LOG_FILE=%s TRACING=%t",
		cfg.Port, cfg.APIBaseURL, cfg.MockOnly, cfg.GuestStore, cfg.DBDSN, cfg.RedisAddr, cfg.LogFile, cfg.Tracing)
	return cfg, nil
}

// fileConfig is the TOML shape; durations are written as strings ("8s").
type fileConfig struct {
	Port        *string `toml:"port"`
	APIBaseURL  *string `toml:"api_base_url"`
	APITimeout  string  `toml:"api_timeout"`
	MockOnly    *bool   `toml:"mock_only"`
	GuestStore  *string `toml:"guest_store"`
	DBDSN       *string `toml:"db_dsn"`
	RedisAddr   *string `toml:"redis_addr"`
	LogFile     *string `toml:"log_file"`
	Tracing     *bool   `toml:"tracing"`
	SessionIdle string  `toml:"session_idle"`
}

func loadFile(path string, cfg *Config) error {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			log.Printf("[config] %s not found, using defaults", path)
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	var raw fileConfig
	if err := toml.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	setStr := func(dst *string, v *string) {
		if v != nil && strings.TrimSpace(*v) != "" {
			*dst = strings.TrimSpace(*v)
		}
	}
	setStr(&cfg.Port, raw.Port)
	setStr(&cfg.APIBaseURL, raw.APIBaseURL)
	setStr(&cfg.GuestStore, raw.GuestStore)
	setStr(&cfg.DBDSN, raw.DBDSN)
	setStr(&cfg.RedisAddr, raw.RedisAddr)
	setStr(&cfg.LogFile, raw.LogFile)
	if raw.MockOnly != nil {
		cfg.MockOnly = *raw.MockOnly
	}
	if raw.Tracing != nil {
		cfg.Tracing = *raw.Tracing
	}
	if raw.APITimeout != "" {
		d, err := time.ParseDuration(raw.APITimeout)
		if err != nil {
			return fmt.Errorf("parse api_timeout: %w", err)
		}
		cfg.APITimeout = d
	}
	if raw.SessionIdle != "" {
		d, err := time.ParseDuration(raw.SessionIdle)
		if err != nil {
			return fmt.Errorf("parse session_idle: %w", err)
		}
		cfg.SessionIdle = d
	}
	return nil
}

func applyEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	str("PORT", &cfg.Port)
	str("API_BASE_URL", &cfg.APIBaseURL)
	str("GUEST_STORE", &cfg.GuestStore)
	str("DB_DSN", &cfg.DBDSN)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("LOG_FILE", &cfg.LogFile)
	if v, err := strconv.ParseBool(os.Getenv("MOCK_ONLY")); err == nil {
		cfg.MockOnly = v
	}
	if v, err := strconv.ParseBool(os.Getenv("TRACING")); err == nil {
		cfg.Tracing = v
	}
	if d, err := time.ParseDuration(os.Getenv("API_TIMEOUT")); err == nil && d > 0 {
		cfg.APITimeout = d
	}
	if d, err := time.ParseDuration(os.Getenv("SESSION_IDLE")); err == nil && d > 0 {
		cfg.SessionIdle = d
	}
}

func (c Config) validate() error {
	switch c.GuestStore {
	case "sqlite", "redis", "memory":
	default:
		return fmt.Errorf("config: unknown guest_store %q", c.GuestStore)
	}
	if c.APITimeout <= 0 {
		return fmt.Errorf("config: api timeout must be positive")
	}
	return nil
}
