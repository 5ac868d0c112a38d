package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Port        string
	Environment string

	// Remote ticketing API
	APIBaseURL     string
	APIToken       string
	RequestTimeout time.Duration

	// Redis configuration
	RedisURL string

	// Settlement watch
	SettlementPollInterval time.Duration
	SettlementMaxWait      time.Duration

	// PubNub settlement pushes (optional; polling alone is enough)
	PubNubSubscribeKey string
	PubNubUserID       string
	PubNubChannel      string

	// Scan station
	StationID string

	// Rate limiting for the scan endpoint
	ScanRateLimit  int
	ScanRateWindow time.Duration

	// Monitoring
	EnableMetrics bool
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file, using environment")
	}

	return &Config{
		// Server
		Port:        getEnv("PORT", "8090"),
		Environment: getEnv("ENVIRONMENT", "development"),

		// Remote API
		APIBaseURL:     getEnv("API_BASE_URL", "http://localhost:5000"),
		APIToken:       getEnv("API_TOKEN", ""),
		RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", "15s"),

		// Redis
		RedisURL: getEnv("REDIS_URL", "localhost:6379"),

		// Settlement
		SettlementPollInterval: getEnvAsDuration("SETTLEMENT_POLL_INTERVAL", "3s"),
		SettlementMaxWait:      getEnvAsDuration("SETTLEMENT_MAX_WAIT", "90s"),

		// PubNub
		PubNubSubscribeKey: getEnv("PUBNUB_SUBSCRIBE_KEY", ""),
		PubNubUserID:       getEnv("PUBNUB_USER_ID", "evanda-gateway"),
		PubNubChannel:      getEnv("PUBNUB_CHANNEL", "mpesa-settlements"),

		// Scan station
		StationID: getEnv("STATION_ID", ""),

		// Rate limiting
		ScanRateLimit:  getEnvAsInt("SCAN_RATE_LIMIT", 30),
		ScanRateWindow: getEnvAsDuration("SCAN_RATE_WINDOW", "1m"),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
