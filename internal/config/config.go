// Package config implements the bootstrap configuration layer: process
// env vars and an optional config.yaml, read with
// github.com/spf13/viper the way the teacher's internal/config/settings.go
// does, using github.com/adrg/xdg for the default config directory.
//
// This is distinct from internal/settingsstore, which holds the domain
// Setting key/value table in the relational store behind a read-through
// cache. Config here covers only what must be known before the store can
// even be reached.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
	"github.com/gookit/color"
	"github.com/spf13/viper"
)

// Config is the bootstrap configuration the composition root needs
// before it can open a store connection or bind an HTTP listener.
type Config struct {
	DBConnection            string `mapstructure:"db_connection"`
	DashboardUser           string `mapstructure:"dashboard_user"`
	DashboardPassword       string `mapstructure:"dashboard_password"`
	MaxParallelTranslations int    `mapstructure:"max_parallel_translations"`
	MaxConcurrentJobs       int    `mapstructure:"max_concurrent_jobs"`
	ListenAddr              string `mapstructure:"listen_addr"`
	RedisURL                string `mapstructure:"redis_url"`
}

const appName = "subtrans"

const (
	defaultDashboardUser     = "admin"
	defaultDashboardPassword = "admin"
)

func configPath() (string, error) {
	dir := filepath.Join(xdg.ConfigHome, appName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads environment variables and an optional config.yaml,
// producing a Config with defaults filled in. customPath overrides the
// XDG-resolved config file location when non-empty.
func Load(customPath string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.BindEnv("db_connection", "DB_CONNECTION")
	v.BindEnv("dashboard_user", "DASHBOARD_USER")
	v.BindEnv("dashboard_password", "DASHBOARD_PASSWORD")
	v.BindEnv("max_parallel_translations", "MAX_PARALLEL_TRANSLATIONS")
	v.BindEnv("max_concurrent_jobs", "MAX_CONCURRENT_JOBS")
	v.BindEnv("listen_addr", "LISTEN_ADDR")
	v.BindEnv("redis_url", "REDIS_URL")

	v.SetDefault("dashboard_user", defaultDashboardUser)
	v.SetDefault("dashboard_password", defaultDashboardPassword)
	v.SetDefault("max_parallel_translations", 4)
	v.SetDefault("max_concurrent_jobs", 4)
	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("redis_url", "redis://localhost:6379/0")

	path := customPath
	if path == "" {
		p, err := configPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	warnIfDefaultCredentials(cfg)
	return cfg, nil
}

// warnIfDefaultCredentials logs a prominent colorized warning when the
// dashboard is left on its default basic-auth credentials, per spec.md
// §6's "defaulting credentials must log a prominent warning".
func warnIfDefaultCredentials(cfg Config) {
	if cfg.DashboardUser == defaultDashboardUser && cfg.DashboardPassword == defaultDashboardPassword {
		color.Redln("*** dashboard is using default basic-auth credentials (admin/admin) — set DASHBOARD_USER/DASHBOARD_PASSWORD ***")
	}
}
