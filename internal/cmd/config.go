package main

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port      string
	NATSURL   string
	NATSToken string
	TiersPath string
	TokenTTL  time.Duration
	LogLevel  string

	Database DatabaseConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func loadConfig() Config {
	return Config{
		Port:      getEnv("PORT", "8080"),
		NATSURL:   getEnv("NATS_URL", "nats://localhost:4222"),
		NATSToken: getEnv("NATS_TOKEN", ""),
		TiersPath: getEnv("TIERS_CONFIG", ""),
		TokenTTL:  getEnvAsDuration("REALTIME_TOKEN_TTL", time.Hour),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Database: getEnv("DB_NAME", "patentify"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
	}
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

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
