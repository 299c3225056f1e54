// Package config содержит логику чтения конфигурации сервиса бара.
package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress     = "localhost:8080"
	defaultAgiosInterval  = time.Hour
	defaultSystemUsername = "bar"
)

// Config содержит параметры конфигурации сервиса бара.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	AuthSecret     string        `env:"AUTH_SECRET"`
	AgiosInterval  time.Duration `env:"AGIOS_INTERVAL"`
	SystemUsername string        `env:"SYSTEM_USERNAME"`
	// AdminUsernames перечисляет пользователей, которые считаются персоналом всех баров.
	AdminUsernames []string `env:"ADMIN_USERNAMES" envSeparator:","`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envAuthSecret := cfg.AuthSecret
	envAgiosInterval := cfg.AgiosInterval
	envSystemUsername := cfg.SystemUsername
	envAdminUsernames := cfg.AdminUsernames
	_, agiosIntervalSet := os.LookupEnv("AGIOS_INTERVAL")

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI (in-memory storage when empty)")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret for signing auth tokens")
	flag.DurationVar(&cfg.AgiosInterval, "i", defaultAgiosInterval, "agios scheduler tick interval (0 disables)")
	flag.StringVar(&cfg.SystemUsername, "u", defaultSystemUsername, "username owning the bar default accounts")
	admins := flag.String("admins", "", "comma-separated usernames acting as staff in every bar")

	flag.Parse()

	cfg.AdminUsernames = splitList(*admins)

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if agiosIntervalSet {
		cfg.AgiosInterval = envAgiosInterval
	}
	if envSystemUsername != "" {
		cfg.SystemUsername = envSystemUsername
	}
	if len(envAdminUsernames) > 0 {
		cfg.AdminUsernames = splitList(strings.Join(envAdminUsernames, ","))
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.SystemUsername == "" {
		cfg.SystemUsername = defaultSystemUsername
	}

	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, v := range strings.Split(s, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}
