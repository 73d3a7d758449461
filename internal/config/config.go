package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPAddr             string
	DatabaseDriver       string
	DatabaseURL          string
	CORSAllowedOrigins   []string
	CORSAllowCredentials bool

	JWTSecret string
	LogMode   string

	RedisAddr    string
	RedisChannel string

	// ActivityRetention of zero keeps the activity log forever.
	ActivityRetention  time.Duration
	RepairInterval     time.Duration
	WorkerPollInterval time.Duration
}

// fileConfig is the optional YAML file named by LEARNPLAN_CONFIG.
// Environment variables win over file values.
type fileConfig struct {
	HTTPAddr              string   `yaml:"http_addr"`
	DatabaseDriver        string   `yaml:"database_driver"`
	DatabaseURL           string   `yaml:"database_url"`
	CORSAllowedOrigins    []string `yaml:"cors_allowed_origins"`
	CORSAllowCredentials  bool     `yaml:"cors_allow_credentials"`
	LogMode               string   `yaml:"log_mode"`
	RedisAddr             string   `yaml:"redis_addr"`
	RedisChannel          string   `yaml:"redis_channel"`
	ActivityRetentionDays int      `yaml:"activity_retention_days"`
	RepairInterval        string   `yaml:"repair_interval"`
	WorkerPollInterval    string   `yaml:"worker_poll_interval"`
}

func Load() (Config, error) {
	_ = godotenv.Load()

	fc := fileConfig{
		HTTPAddr:           ":8080",
		DatabaseDriver:     "postgres",
		LogMode:            "dev",
		RedisChannel:       "learnplan.activity",
		RepairInterval:     "1h",
		WorkerPollInterval: "800ms",
	}
	if path := getenv("LEARNPLAN_CONFIG", ""); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg := Config{
		HTTPAddr:             getenv("HTTP_ADDR", fc.HTTPAddr),
		DatabaseDriver:       strings.ToLower(getenv("DATABASE_DRIVER", fc.DatabaseDriver)),
		DatabaseURL:          getenv("DATABASE_URL", fc.DatabaseURL),
		CORSAllowCredentials: getenv("CORS_ALLOW_CREDENTIALS", strconv.FormatBool(fc.CORSAllowCredentials)) == "true",
		JWTSecret:            getenv("JWT_SECRET", ""),
		LogMode:              getenv("LOG_MODE", fc.LogMode),
		RedisAddr:            getenv("REDIS_ADDR", fc.RedisAddr),
		RedisChannel:         getenv("REDIS_CHANNEL", fc.RedisChannel),
	}

	origins := fc.CORSAllowedOrigins
	if v := getenv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		origins = strings.Split(v, ",")
	}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o != "" {
			cfg.CORSAllowedOrigins = append(cfg.CORSAllowedOrigins, o)
		}
	}

	days, err := strconv.Atoi(getenv("ACTIVITY_RETENTION_DAYS", strconv.Itoa(fc.ActivityRetentionDays)))
	if err != nil || days < 0 {
		return Config{}, fmt.Errorf("invalid ACTIVITY_RETENTION_DAYS")
	}
	cfg.ActivityRetention = time.Duration(days) * 24 * time.Hour

	if cfg.RepairInterval, err = time.ParseDuration(getenv("REPAIR_INTERVAL", fc.RepairInterval)); err != nil {
		return Config{}, fmt.Errorf("invalid REPAIR_INTERVAL: %w", err)
	}
	if cfg.WorkerPollInterval, err = time.ParseDuration(getenv("WORKER_POLL_INTERVAL", fc.WorkerPollInterval)); err != nil {
		return Config{}, fmt.Errorf("invalid WORKER_POLL_INTERVAL: %w", err)
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported DATABASE_DRIVER %q", cfg.DatabaseDriver)
	}
	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("missing env: DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("missing env: JWT_SECRET")
	}
	return cfg, nil
}

func getenv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}
