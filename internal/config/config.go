// Package config handles loading and managing application configuration
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/PhilippeHo27/mp3maker/internal/constants"
	"github.com/PhilippeHo27/mp3maker/internal/models"
)

// New loads configuration from the environment (and an optional .env file)
// and returns a Config struct.
func New() models.Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.WithError(err).Warn("Failed to load .env file")
	}

	var config models.Config

	config.Port = getEnv("PORT", constants.DefaultPort)
	config.BasePath = strings.TrimSuffix(getEnv("BASE_PATH", ""), "/")
	config.Production = config.BasePath != "" || getEnv("APP_ENV", "") == "production"
	config.TempDir = getEnv("TEMP_DIR", constants.DefaultTempDir)
	config.StaticDir = getEnv("STATIC_DIR", constants.DefaultStaticDir)
	config.CookiesFile = getEnv("COOKIES_FILE", constants.DefaultCookiesFile)
	config.YtdlpPath = getEnv("YTDLP_PATH", constants.DefaultYtdlpPath)
	config.LogLevel = getEnv("LOG_LEVEL", "info")

	config.MaxConcurrentSessions = parseIntEnv("MAX_CONCURRENT_SESSIONS", constants.DefaultMaxConcurrentSessions)
	if config.MaxConcurrentSessions < 1 {
		logrus.Warnf("Invalid MAX_CONCURRENT_SESSIONS, using default %d", constants.DefaultMaxConcurrentSessions)
		config.MaxConcurrentSessions = constants.DefaultMaxConcurrentSessions
	}

	config.ConversionTimeout = parseDurationEnv("CONVERSION_TIMEOUT", constants.DefaultConversionTimeout)

	allowedOriginsStr := getEnv("ALLOWED_ORIGINS", "")
	if allowedOriginsStr == "" {
		config.AllowedOrigins = []string{"*"}
	} else {
		origins := strings.Split(allowedOriginsStr, ",")
		config.AllowedOrigins = make([]string, 0, len(origins))
		for _, origin := range origins {
			trimmed := strings.TrimSpace(origin)
			if trimmed != "" {
				config.AllowedOrigins = append(config.AllowedOrigins, trimmed)
			}
		}
	}

	logrus.WithFields(logrus.Fields{
		"port":         config.Port,
		"base_path":    config.BasePath,
		"production":   config.Production,
		"max_sessions": config.MaxConcurrentSessions,
		"timeout":      config.ConversionTimeout,
	}).Info("Configuration loaded")

	return config
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// parseIntEnv retrieves an integer environment variable or returns a default.
func parseIntEnv(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		logrus.Warnf("Invalid integer value for %s ('%s'), using default %d", key, valueStr, fallback)
		return fallback
	}
	return value
}

// parseDurationEnv retrieves a duration environment variable or returns a default.
func parseDurationEnv(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		logrus.Warnf("Invalid duration value for %s ('%s'), using default %v", key, valueStr, fallback)
		return fallback
	}
	return value
}
