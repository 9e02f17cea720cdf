// Package config lê a configuração dos binários a partir do ambiente
// (com .env opcional) e o arquivo de regras do guard.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"abuse-guard/middleware/ratelimit/domain"

	"github.com/joho/godotenv"
)

const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

type Config struct {
	ListenAddr  string
	UpstreamURL string

	StoreType    string
	StoreTimeout time.Duration
	Redis        RedisConfig

	RulesFile string
	Rules     domain.Config

	AdminToken          string
	ServiceToken        string
	UserHeader          string
	TrustXFF            bool
	AddRateLimitHeaders bool

	LogLevel  string
	LogFormat string

	Stats  StatsConfig
	Events EventsConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type StatsConfig struct {
	Enabled   bool
	Prefix    string
	TTL       time.Duration
	Bucket    string
	TrackKeys bool
}

type EventsConfig struct {
	RPS   float64
	Burst int
}

// Load lê .env (se existir) e depois o ambiente. UPSTREAM_URL só é exigido
// por quem faz proxy, então a validação fica com o binário.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{}
	cfg.ListenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.UpstreamURL = os.Getenv("UPSTREAM_URL")

	cfg.StoreType = strings.ToLower(getenvDefault("STORE_TYPE", StoreMemory))
	cfg.StoreTimeout = getenvDurationDefault("STORE_TIMEOUT", 200*time.Millisecond)
	cfg.Redis = RedisConfig{
		Addr:     getenvDefault("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       getenvIntDefault("REDIS_DB", 0),
	}

	cfg.RulesFile = os.Getenv("GUARD_RULES_FILE")
	rules, err := LoadRules(cfg.RulesFile)
	if err != nil {
		return Config{}, err
	}
	cfg.Rules = rules

	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.ServiceToken = os.Getenv("SERVICE_TOKEN")
	cfg.UserHeader = getenvDefault("USER_HEADER", "X-User-Email")
	cfg.TrustXFF = getenvBoolDefault("TRUST_XFF", false)
	cfg.AddRateLimitHeaders = getenvBoolDefault("ADD_RATELIMIT_HEADERS", false)

	cfg.LogLevel = getenvDefault("LOG_LEVEL", "info")
	cfg.LogFormat = getenvDefault("LOG_FORMAT", "json")

	cfg.Stats = StatsConfig{
		Enabled:   getenvBoolDefault("RATE_STATS_ENABLED", false),
		Prefix:    getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats"),
		TTL:       getenvDurationDefault("RATE_STATS_TTL", 24*time.Hour),
		Bucket:    getenvDefault("RATE_STATS_BUCKET", "minute"),
		TrackKeys: getenvBoolDefault("RATE_STATS_TRACK_KEYS", false),
	}
	cfg.Events = EventsConfig{
		RPS:   getenvFloatDefault("EVENT_RPS", 50),
		Burst: getenvIntDefault("EVENT_BURST", 100),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.StoreType {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("STORE_TYPE must be %q or %q, got %q", StoreMemory, StoreRedis, c.StoreType)
	}
	if c.StoreType == StoreRedis && strings.TrimSpace(c.Redis.Addr) == "" {
		return errors.New("REDIS_ADDR is required when STORE_TYPE=redis")
	}
	if c.Stats.Enabled && c.StoreType != StoreRedis {
		return errors.New("RATE_STATS_ENABLED requires STORE_TYPE=redis")
	}
	if c.StoreTimeout <= 0 {
		return errors.New("STORE_TIMEOUT must be > 0")
	}
	if c.Events.RPS <= 0 || c.Events.Burst <= 0 {
		return errors.New("EVENT_RPS and EVENT_BURST must be > 0")
	}
	return nil
}

// LoadRules lê o arquivo de regras (YAML ou JSON). Caminho vazio devolve os
// defaults.
func LoadRules(path string) (domain.Config, error) {
	if strings.TrimSpace(path) == "" {
		return domain.DefaultConfig(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Config{}, fmt.Errorf("read rules file: %w", err)
	}
	cfg, err := domain.ParseConfig(data)
	if err != nil {
		return domain.Config{}, fmt.Errorf("rules file %s: %w", path, err)
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getenvFloatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBoolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDurationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
