package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Breaker  BreakerConfig  `json:"breaker"`
	Monitor  MonitorConfig  `json:"monitor"`
	Alerting AlertingConfig `json:"alerting"`
	Redis    RedisConfig    `json:"redis"`
	Tracing  TracingConfig  `json:"tracing"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// BreakerConfig contains circuit breaker defaults for the registry
type BreakerConfig struct {
	MaxFailures      int           `json:"max_failures"`
	ResetTimeout     time.Duration `json:"reset_timeout"`
	SuccessesToClose int           `json:"successes_to_close"`
}

// MonitorConfig contains query performance monitor configuration
type MonitorConfig struct {
	MaxSamples           int           `json:"max_samples"`
	MaxSampleAge         time.Duration `json:"max_sample_age"`
	EvaluationWindow     time.Duration `json:"evaluation_window"`
	MinWindowSamples     int           `json:"min_window_samples"`
	MaxQueryTime         time.Duration `json:"max_query_time"`
	MinCacheHitRate      float64       `json:"min_cache_hit_rate"`
	MaxErrorRate         float64       `json:"max_error_rate"`
	MaxAuthDelay         time.Duration `json:"max_auth_delay"`
	DegradationThreshold float64       `json:"degradation_threshold"`
}

// AlertingConfig contains alert manager configuration
type AlertingConfig struct {
	Environment   string        `json:"environment"`
	CheckInterval time.Duration `json:"check_interval"`
	HistorySize   int           `json:"history_size"`
	WebhookURL    string        `json:"webhook_url"`
}

// RedisConfig contains the optional Redis alert sink configuration
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Channel  string `json:"channel"`
	ListKey  string `json:"list_key"`
}

// TracingConfig contains distributed tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Breaker: BreakerConfig{
			MaxFailures:      getEnvInt("BREAKER_MAX_FAILURES", 5),
			ResetTimeout:     getEnvDuration("BREAKER_RESET_TIMEOUT", 30*time.Second),
			SuccessesToClose: getEnvInt("BREAKER_SUCCESSES_TO_CLOSE", 3),
		},
		Monitor: MonitorConfig{
			MaxSamples:           getEnvInt("MONITOR_MAX_SAMPLES", 1000),
			MaxSampleAge:         getEnvDuration("MONITOR_MAX_SAMPLE_AGE", 30*time.Minute),
			EvaluationWindow:     getEnvDuration("MONITOR_EVALUATION_WINDOW", time.Minute),
			MinWindowSamples:     getEnvInt("MONITOR_MIN_WINDOW_SAMPLES", 10),
			MaxQueryTime:         getEnvDuration("MONITOR_MAX_QUERY_TIME", 2*time.Second),
			MinCacheHitRate:      getEnvFloat("MONITOR_MIN_CACHE_HIT_RATE", 30),
			MaxErrorRate:         getEnvFloat("MONITOR_MAX_ERROR_RATE", 10),
			MaxAuthDelay:         getEnvDuration("MONITOR_MAX_AUTH_DELAY", 500*time.Millisecond),
			DegradationThreshold: getEnvFloat("MONITOR_DEGRADATION_THRESHOLD", 50),
		},
		Alerting: AlertingConfig{
			Environment:   getEnvString("ALERTING_ENVIRONMENT", "development"),
			CheckInterval: getEnvDuration("ALERTING_CHECK_INTERVAL", 30*time.Second),
			HistorySize:   getEnvInt("ALERTING_HISTORY_SIZE", 100),
			WebhookURL:    getEnvString("ALERTING_WEBHOOK_URL", ""),
		},
		Redis: RedisConfig{
			Enabled:  getEnvBool("REDIS_ENABLED", false),
			Addr:     getEnvString("REDIS_ADDR", "localhost:6379"),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			Channel:  getEnvString("REDIS_ALERT_CHANNEL", "queryguard:alerts"),
			ListKey:  getEnvString("REDIS_ALERT_LIST", "queryguard:alerts:recent"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			ServiceName:    getEnvString("TRACING_SERVICE_NAME", "queryguard"),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return config, nil
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if c.Breaker.MaxFailures <= 0 {
		return fmt.Errorf("breaker max failures must be positive")
	}
	if c.Breaker.ResetTimeout <= 0 {
		return fmt.Errorf("breaker reset timeout must be positive")
	}
	if c.Breaker.SuccessesToClose <= 0 {
		return fmt.Errorf("breaker successes to close must be positive")
	}
	if c.Monitor.MaxSamples <= 0 {
		return fmt.Errorf("monitor max samples must be positive")
	}
	if env := c.Alerting.Environment; env != "development" && env != "production" {
		return fmt.Errorf("unknown alerting environment %q", env)
	}
	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("tracing sampling rate %f out of range", c.Tracing.SamplingRate)
	}
	return nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
