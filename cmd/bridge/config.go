package main

import (
	"flag"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/thenexusengine/tne_adbridge/internal/config"
)

// ServerConfig holds all server configuration
type ServerConfig struct {
	// Server
	Port        string
	CallTimeout time.Duration

	// Exchange
	ExchangeURL     string
	ExchangeTimeout time.Duration
	DemoAds         bool
	DemoVideo       bool
	AppBundle       string
	AppName         string
	PublisherID     string

	// Device
	DeviceID        string
	PlatformVersion int
	OS              string
	OSVersion       string

	// Database
	DatabaseConfig *DatabaseConfig

	// Redis
	RedisURL string
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// ParseConfig parses configuration from flags and environment variables
func ParseConfig() *ServerConfig {
	// Parse flags with environment variable fallbacks
	port := flag.String("port", getEnvOrDefault("BRIDGE_PORT", "8080"), "Server port")
	exchangeURL := flag.String("exchange-url", os.Getenv("EXCHANGE_URL"), "OpenRTB exchange auction URL")
	exchangeTimeout := flag.Duration("exchange-timeout", getEnvDurationOrDefault("EXCHANGE_TIMEOUT", config.DefaultExchangeTimeout), "Timeout for one ad request")
	callTimeout := flag.Duration("call-timeout", getEnvDurationOrDefault("CALL_TIMEOUT", config.DefaultCallTimeout), "How long a method call may take before the HTTP request times out")
	demo := flag.Bool("demo", getEnvBoolOrDefault("BRIDGE_DEMO_ADS", false), "Serve mock ads from the in-process demo exchange")
	flag.Parse()

	cfg := &ServerConfig{
		Port:            *port,
		CallTimeout:     *callTimeout,
		ExchangeURL:     *exchangeURL,
		ExchangeTimeout: *exchangeTimeout,
		DemoAds:         *demo || *exchangeURL == "",
		DemoVideo:       getEnvBoolOrDefault("BRIDGE_DEMO_VIDEO", false),
		AppBundle:       getEnvOrDefault("APP_BUNDLE", "com.example.app"),
		AppName:         getEnvOrDefault("APP_NAME", "Example App"),
		PublisherID:     os.Getenv("PUBLISHER_ID"),
		DeviceID:        getEnvOrDefault("BRIDGE_DEVICE_ID", uuid.NewString()),
		PlatformVersion: getEnvIntOrDefault("BRIDGE_PLATFORM_VERSION", 34),
		OS:              getEnvOrDefault("BRIDGE_OS", "android"),
		OSVersion:       getEnvOrDefault("BRIDGE_OS_VERSION", "14"),
		RedisURL:        os.Getenv("REDIS_URL"),
	}

	// Parse database config if DB_HOST is set
	if dbHost := os.Getenv("DB_HOST"); dbHost != "" {
		cfg.DatabaseConfig = &DatabaseConfig{
			Host:     dbHost,
			Port:     getEnvOrDefault("DB_PORT", "5432"),
			User:     getEnvOrDefault("DB_USER", "adbridge"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "adbridge"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		}
	}

	return cfg
}

// getEnvOrDefault returns the environment variable value or a default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBoolOrDefault returns the environment variable as bool or a default
func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return defaultValue
	}
	return d
}
