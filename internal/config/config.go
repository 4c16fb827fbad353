package config

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

type Config struct {
	APIBaseURL  string
	SocketURL   string
	StateFile   string
	UserID      string
	HTTPTimeout time.Duration
}

func Load(cliMode bool) (*Config, error) {
	httpTimeout, err := time.ParseDuration(getEnv("HTTP_TIMEOUT", "15s"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		APIBaseURL:  getEnv("PHARMADEAL_API_URL", "http://localhost:3000/api/v1"),
		SocketURL:   getEnv("PHARMADEAL_SOCKET_URL", "ws://localhost:3000/socket"),
		StateFile:   getEnv("PHARMADEAL_STATE", "pharmadeal.db"),
		UserID:      os.Getenv("PHARMADEAL_USER_ID"),
		HTTPTimeout: httpTimeout,
	}

	if err := cfg.Validate(cliMode); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate(cliMode bool) error {
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be greater than 0")
	}

	if cliMode {
		return nil
	}

	u, err := url.Parse(c.SocketURL)
	if err != nil {
		return fmt.Errorf("PHARMADEAL_SOCKET_URL is not a valid URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("PHARMADEAL_SOCKET_URL must use ws or wss scheme, got %q", u.Scheme)
	}

	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
