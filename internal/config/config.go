package config

import (
	"fmt"
	"log"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JokerTrickster/unity-dice-sub000/internal/logger"
)

// Config is the full client configuration. Values come from an optional YAML
// file overridden by environment variables.
type Config struct {
	ServerURL string `yaml:"server_url"`

	// Per-request timeout defaults
	RequestTimeout time.Duration `yaml:"request_timeout"`
	WarningWindow  time.Duration `yaml:"warning_window"`

	// Matching state machine
	SearchTimeout time.Duration `yaml:"search_timeout"`

	// Reconnection policy: explicit per-attempt delays, last value reused.
	MaxReconnectAttempts int             `yaml:"max_reconnect_attempts"`
	ReconnectSchedule    []time.Duration `yaml:"reconnect_schedule"`

	// Transport
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	PongWait          time.Duration `yaml:"pong_wait"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// Outbound queue
	SendRetryLimit int `yaml:"send_retry_limit"`

	// Durable store: memory, redis or postgres
	StoreBackend  string `yaml:"store_backend"`
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"redis_password"`
	DatabaseURL   string `yaml:"database_url"`

	Log logger.Config `yaml:"log"`
}

// LoadConfig reads the optional YAML file named by MATCHCLIENT_CONFIG, then
// applies environment overrides on top of defaults.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("MATCHCLIENT_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.ServerURL = GetEnv("MATCHING_SERVER_URL", cfg.ServerURL)
	cfg.RequestTimeout = GetEnvAsDuration("REQUEST_TIMEOUT", cfg.RequestTimeout)
	cfg.WarningWindow = GetEnvAsDuration("WARNING_WINDOW", cfg.WarningWindow)
	cfg.SearchTimeout = GetEnvAsDuration("SEARCH_TIMEOUT", cfg.SearchTimeout)
	cfg.MaxReconnectAttempts = GetEnvAsInt("MAX_RECONNECT_ATTEMPTS", cfg.MaxReconnectAttempts)
	cfg.HeartbeatInterval = GetEnvAsDuration("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.SendRetryLimit = GetEnvAsInt("SEND_RETRY_LIMIT", cfg.SendRetryLimit)
	cfg.StoreBackend = GetEnv("STORE_BACKEND", cfg.StoreBackend)
	cfg.RedisURL = GetEnv("REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = GetEnv("REDIS_PASSWORD", cfg.RedisPassword)
	cfg.DatabaseURL = GetEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.Log.Level = GetEnv("LOG_LEVEL", cfg.Log.Level)

	if schedule := os.Getenv("RECONNECT_SCHEDULE"); schedule != "" {
		parsed, err := parseSchedule(schedule)
		if err != nil {
			return nil, fmt.Errorf("parse RECONNECT_SCHEDULE: %w", err)
		}
		cfg.ReconnectSchedule = parsed
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ServerURL:            "wss://matching.unity-dice.io/ws",
		RequestTimeout:       30 * time.Second,
		WarningWindow:        5 * time.Second,
		SearchTimeout:        120 * time.Second,
		MaxReconnectAttempts: 6,
		ReconnectSchedule: []time.Duration{
			1 * time.Second,
			2 * time.Second,
			4 * time.Second,
			8 * time.Second,
			15 * time.Second,
			30 * time.Second,
		},
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      10 * time.Second,
		PongWait:          60 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		SendRetryLimit:    3,
		StoreBackend:      "memory",
		RedisURL:          "localhost:6379",
		Log:               logger.Config{Level: "info", Format: "console", Output: "stdout"},
	}
}

// Validate reports the first problem that would make the client unusable.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
		return fmt.Errorf("server_url %q is not a valid ws/wss URL", c.ServerURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive")
	}
	if c.WarningWindow < 0 || c.WarningWindow >= c.RequestTimeout {
		return fmt.Errorf("warning_window must be in [0, request_timeout)")
	}
	if c.MaxReconnectAttempts < 0 {
		return fmt.Errorf("max_reconnect_attempts must not be negative")
	}
	if len(c.ReconnectSchedule) == 0 {
		return fmt.Errorf("reconnect_schedule must not be empty")
	}
	for _, d := range c.ReconnectSchedule {
		if d < 0 {
			return fmt.Errorf("reconnect_schedule delays must not be negative")
		}
	}
	if c.SendRetryLimit < 1 {
		return fmt.Errorf("send_retry_limit must be at least 1")
	}
	switch c.StoreBackend {
	case "memory", "redis", "postgres":
	default:
		return fmt.Errorf("store_backend %q is not one of memory/redis/postgres", c.StoreBackend)
	}
	return nil
}

func parseSchedule(s string) ([]time.Duration, error) {
	parts := strings.Split(s, ",")
	out := make([]time.Duration, 0, len(parts))
	for _, p := range parts {
		d, err := time.ParseDuration(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func GetEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func GetEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		log.Printf("Invalid integer value for %s: %s, using default: %d", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}

func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("Invalid duration value for %s: %s, using default: %s", key, valueStr, defaultValue)
		return defaultValue
	}
	return value
}
