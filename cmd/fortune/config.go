package main

import (
	"os"
	"strconv"
	"time"
)

// config holds the command line settings. Defaults come from the environment.
type config struct {
	LogLevel string

	// Client
	Host string

	// Shared
	Port        uint16
	IdleTimeout time.Duration
	MaxLength   int

	// Server
	Listen          string
	ShutdownTimeout time.Duration
}

// loadFromEnv returns the defaults taken from FORTUNE_* environment variables.
func loadFromEnv() config {
	return config{
		LogLevel:        getEnv("FORTUNE_LOG_LEVEL", "info"),
		Host:            getEnv("FORTUNE_HOST", "localhost"),
		Port:            getEnvUint16("FORTUNE_PORT", 0),
		IdleTimeout:     getEnvDuration("FORTUNE_IDLE_TIMEOUT", 0),
		MaxLength:       getEnvInt("FORTUNE_MAX_LENGTH", 0),
		Listen:          getEnv("FORTUNE_LISTEN", ""),
		ShutdownTimeout: getEnvDuration("FORTUNE_SHUTDOWN_TIMEOUT", 0),
	}
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvUint16(key string, defaultValue uint16) uint16 {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseUint(value, 10, 16); err == nil {
			return uint16(n)
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
