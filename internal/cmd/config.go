package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional yaml configuration. Every field has an env or
// built-in default, so a missing file is fine.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	NATS struct {
		URL        string `yaml:"url"`
		StreamName string `yaml:"stream_name"`
	} `yaml:"nats"`
	Gateway struct {
		PingIntervalSec int `yaml:"ping_interval_sec"`
		ReadTimeoutSec  int `yaml:"read_timeout_sec"`
	} `yaml:"gateway"`
}

func loadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return &config, nil
}

func (c *Config) serverPort() string {
	if c.Server.Port != "" {
		return c.Server.Port
	}
	return getEnv("PORT", "8080")
}

func (c *Config) natsURL() string {
	if c.NATS.URL != "" {
		return c.NATS.URL
	}
	return getEnv("NATS_URL", "nats://localhost:4222")
}

func (c *Config) natsStream() string {
	if c.NATS.StreamName != "" {
		return c.NATS.StreamName
	}
	return getEnv("NATS_STREAM", "TIMER_EVENTS")
}

func (c *Config) pingInterval() time.Duration {
	if c.Gateway.PingIntervalSec > 0 {
		return time.Duration(c.Gateway.PingIntervalSec) * time.Second
	}
	return time.Duration(getEnvAsInt("GATEWAY_PING_INTERVAL_SEC", 30)) * time.Second
}

func (c *Config) readTimeout() time.Duration {
	if c.Gateway.ReadTimeoutSec > 0 {
		return time.Duration(c.Gateway.ReadTimeoutSec) * time.Second
	}
	return time.Duration(getEnvAsInt("GATEWAY_READ_TIMEOUT_SEC", 60)) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
