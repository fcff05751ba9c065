// Package config содержит логику чтения конфигурации SMM-панели.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации SMM-панели.
type Config struct {
	RunAddress     string        `env:"RUN_ADDRESS"`
	DatabaseURI    string        `env:"DATABASE_URI"`
	ProviderAPIURL string        `env:"PROVIDER_API_URL"`
	ProviderAPIKey string        `env:"PROVIDER_API_KEY"`
	AuthSecret     string        `env:"AUTH_SECRET"`
	SyncInterval   time.Duration `env:"SYNC_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных
// окружения. Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envProviderURL := cfg.ProviderAPIURL
	envProviderKey := cfg.ProviderAPIKey
	envAuthSecret := cfg.AuthSecret
	envSyncInterval := cfg.SyncInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.ProviderAPIURL, "p", "", "SMM provider API base URL")
	flag.StringVar(&cfg.ProviderAPIKey, "k", "", "SMM provider API key")
	flag.StringVar(&cfg.AuthSecret, "s", "", "secret key for auth cookie signing")
	flag.DurationVar(&cfg.SyncInterval, "i", 5*time.Second, "provider status sync interval")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envProviderURL != "" {
		cfg.ProviderAPIURL = envProviderURL
	}
	if envProviderKey != "" {
		cfg.ProviderAPIKey = envProviderKey
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envSyncInterval != 0 {
		cfg.SyncInterval = envSyncInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 5 * time.Second
	}

	return cfg, nil
}
