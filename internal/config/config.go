package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the base server configuration.
type Config struct {
	Host                    string
	Port                    string
	SQLiteDBPath            string
	JWTSecret               string
	JWTAccessTokenExpirySec int

	// KEFTimeoutMs bounds ordinary speaker calls.
	KEFTimeoutMs int
	// KEFLongPollTimeoutMs is how long a long-poll may be held by the speaker.
	KEFLongPollTimeoutMs int

	SpeakersConfigPath string
	// Timezone is the default IANA zone for night-mode schedules.
	Timezone           string
	AuditRetentionDays int

	// MQTT state publishing (disabled unless MQTT_ENABLED=true)
	MQTTEnabled     bool
	MQTTBrokerHost  string
	MQTTBrokerPort  int
	MQTTClientID    string
	MQTTUsername    string
	MQTTPassword    string
	MQTTTopicPrefix string
}

// Load reads configuration from environment variables with defaults.
func Load() (Config, error) {
	cfg := Config{
		Host:                    envString("HOST", "0.0.0.0"),
		Port:                    envString("PORT", "9100"),
		SQLiteDBPath:            envString("SQLITE_DB_PATH", "./data/kef-hub.db"),
		JWTSecret:               envString("JWT_SECRET", ""),
		JWTAccessTokenExpirySec: envInt("JWT_ACCESS_TOKEN_EXPIRY", 3600),
		KEFTimeoutMs:            envInt("KEF_TIMEOUT_MS", 3000),
		KEFLongPollTimeoutMs:    envInt("KEF_LONG_POLL_TIMEOUT_MS", 10000),
		SpeakersConfigPath:      envString("SPEAKERS_CONFIG_PATH", "./speakers.yaml"),
		Timezone:                envString("TIMEZONE", "Local"),
		AuditRetentionDays:      envInt("AUDIT_RETENTION_DAYS", 14),
		MQTTEnabled:             envBool("MQTT_ENABLED", false),
		MQTTBrokerHost:          envString("MQTT_BROKER_HOST", "localhost"),
		MQTTBrokerPort:          envInt("MQTT_BROKER_PORT", 1883),
		MQTTClientID:            envString("MQTT_CLIENT_ID", "kef-hub"),
		MQTTUsername:            envString("MQTT_USERNAME", ""),
		MQTTPassword:            envString("MQTT_PASSWORD", ""),
		MQTTTopicPrefix:         envString("MQTT_TOPIC_PREFIX", "kefhub"),
	}

	if len(strings.TrimSpace(cfg.JWTSecret)) < 32 {
		return Config{}, fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if cfg.KEFTimeoutMs <= 0 {
		return Config{}, fmt.Errorf("KEF_TIMEOUT_MS must be positive")
	}
	if cfg.KEFLongPollTimeoutMs < 1000 {
		return Config{}, fmt.Errorf("KEF_LONG_POLL_TIMEOUT_MS must be at least 1000")
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		return Config{}, fmt.Errorf("TIMEZONE %q: %w", cfg.Timezone, err)
	}

	return cfg, nil
}

// KEFTimeout returns KEFTimeoutMs as a duration.
func (c Config) KEFTimeout() time.Duration {
	return time.Duration(c.KEFTimeoutMs) * time.Millisecond
}

// LongPollTimeout returns KEFLongPollTimeoutMs as a duration.
func (c Config) LongPollTimeout() time.Duration {
	return time.Duration(c.KEFLongPollTimeoutMs) * time.Millisecond
}

// Location resolves Timezone. Load has already validated it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func envString(key, fallback string) string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return val
}

func envInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	return strings.EqualFold(val, "true")
}
