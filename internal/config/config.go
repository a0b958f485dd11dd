// Package config содержит логику чтения конфигурации сервиса coopdesk.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
)

// defaultTokenSecret — общий секрет подписи талонов, единый для печати и сканирования.
const defaultTokenSecret = "s0c1ety_Sup3r_S3cr3t_K3y_@2024"

// Config содержит параметры конфигурации сервиса coopdesk.
type Config struct {
	RunAddress       string `env:"RUN_ADDRESS"`
	DatabaseURI      string `env:"DATABASE_URI"`
	PrinterAddresses string `env:"PRINTER_ADDRESSES"`
	TokenSecret      string `env:"TOKEN_SECRET"`
	OperatorPhone    string `env:"OPERATOR_PHONE"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envPrinterAddresses := cfg.PrinterAddresses
	envTokenSecret := cfg.TokenSecret
	envOperatorPhone := cfg.OperatorPhone

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PrinterAddresses, "p", "", "comma-separated printer list, each as name@host:port")
	flag.StringVar(&cfg.TokenSecret, "k", defaultTokenSecret, "shared secret for token signing")
	flag.StringVar(&cfg.OperatorPhone, "o", "", "fallback operator phone number")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envPrinterAddresses != "" {
		cfg.PrinterAddresses = envPrinterAddresses
	}
	if envTokenSecret != "" {
		cfg.TokenSecret = envTokenSecret
	}
	if envOperatorPhone != "" {
		cfg.OperatorPhone = envOperatorPhone
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.TokenSecret == "" {
		cfg.TokenSecret = defaultTokenSecret
	}

	return cfg, nil
}
