// Package config содержит логику чтения конфигурации платёжного шлюза.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации платёжного шлюза.
type Config struct {
	RunAddress        string  `env:"RUN_ADDRESS"`
	DatabaseURI       string  `env:"DATABASE_URI"`
	NotifyBaseURL     string  `env:"NOTIFY_BASE_URL"`
	RechargeBonusRate float64 `env:"RECHARGE_BONUS_RATE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotifyBaseURL := cfg.NotifyBaseURL
	envBonusRate := cfg.RechargeBonusRate

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifyBaseURL, "n", "", "public base URL for provider callbacks")
	flag.Float64Var(&cfg.RechargeBonusRate, "b", 0, "recharge bonus rate in percent")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifyBaseURL != "" {
		cfg.NotifyBaseURL = envNotifyBaseURL
	}
	if envBonusRate != 0 {
		cfg.RechargeBonusRate = envBonusRate
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.RechargeBonusRate < 0 {
		return nil, fmt.Errorf("recharge bonus rate must be non-negative, got %v", cfg.RechargeBonusRate)
	}

	return cfg, nil
}
