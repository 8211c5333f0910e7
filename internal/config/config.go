// Package config provides configuration loading and management for the application.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	// HTTP server port
	Port string

	// Logging output
	LogLevel  string
	LogFormat string

	// OpenTelemetry endpoint for observability
	OtelEndpoint string

	Engine     EngineConfig
	Simulation SimulationConfig
	Monitor    MonitorConfig
	Export     ExportConfig
	RateLimit  RateLimitConfig
	Genesis    GenesisConfig

	// VerifySignatures requires approval signatures to recover to the signer address
	VerifySignatures bool
}

// EngineConfig bounds the batch processing loop
type EngineConfig struct {
	MaxConcurrentBatches    int
	ProcessingInterval      time.Duration
	BatchTimeout            time.Duration
	MaxRetries              int
	CircuitFailureThreshold int
	CircuitResetDelay       time.Duration
}

// SimulationConfig tunes the simulated transfer executor
type SimulationConfig struct {
	MinDelay    time.Duration
	MaxDelay    time.Duration
	FailureRate float64
}

// MonitorConfig drives metrics collection and alerting
type MonitorConfig struct {
	MetricsInterval  time.Duration
	SnapshotInterval time.Duration
	AlertGracePeriod time.Duration
}

// ExportConfig defines webhook export of alerts and snapshots
type ExportConfig struct {
	WebhookURL     string
	WebhookAPIKey  string
	ExportInterval time.Duration
	BatchSize      int
	SignPayloads   bool
}

// Enabled reports whether a webhook target is configured
func (e ExportConfig) Enabled() bool { return e.WebhookURL != "" }

// RateLimitConfig limits API request rate
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// GenesisConfig controls seeding at startup
type GenesisConfig struct {
	TablePath string
	AutoSeed  bool
}

// Default returns the configuration used when nothing is overridden
func Default() Config {
	return Config{
		Port:      "8080",
		LogLevel:  "info",
		LogFormat: "text",
		Engine: EngineConfig{
			MaxConcurrentBatches:    8,
			ProcessingInterval:      100 * time.Millisecond,
			BatchTimeout:            5 * time.Minute,
			MaxRetries:              3,
			CircuitFailureThreshold: 5,
			CircuitResetDelay:       30 * time.Second,
		},
		Simulation: SimulationConfig{
			MinDelay: 10 * time.Millisecond,
			MaxDelay: 50 * time.Millisecond,
		},
		Monitor: MonitorConfig{
			MetricsInterval:  time.Second,
			SnapshotInterval: 10 * time.Second,
			AlertGracePeriod: 60 * time.Second,
		},
		Export: ExportConfig{
			ExportInterval: time.Minute,
			BatchSize:      100,
			SignPayloads:   true,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Genesis: GenesisConfig{AutoSeed: true},
	}
}

// Load builds the configuration from defaults, an optional CONFIG_FILE, then environment variables
func Load() (Config, error) {
	cfg := Default()
	if path := GetEnvOrDefault("CONFIG_FILE", ""); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return cfg, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = GetEnvOrDefault("PORT", c.Port)
	c.LogLevel = strings.ToLower(GetEnvOrDefault("LOG_LEVEL", c.LogLevel))
	c.LogFormat = strings.ToLower(GetEnvOrDefault("LOG_FORMAT", c.LogFormat))
	c.OtelEndpoint = GetEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", c.OtelEndpoint)

	c.Engine.MaxConcurrentBatches = GetEnvAsInt("MAX_CONCURRENT_BATCHES", c.Engine.MaxConcurrentBatches)
	c.Engine.ProcessingInterval = GetEnvAsDuration("PROCESSING_INTERVAL", c.Engine.ProcessingInterval)
	c.Engine.BatchTimeout = GetEnvAsDuration("BATCH_TIMEOUT", c.Engine.BatchTimeout)
	c.Engine.MaxRetries = GetEnvAsInt("MAX_RETRIES", c.Engine.MaxRetries)
	c.Engine.CircuitFailureThreshold = GetEnvAsInt("CIRCUIT_FAILURE_THRESHOLD", c.Engine.CircuitFailureThreshold)
	c.Engine.CircuitResetDelay = GetEnvAsDuration("CIRCUIT_RESET_DELAY", c.Engine.CircuitResetDelay)

	c.Simulation.MinDelay = GetEnvAsDuration("SIMULATED_MIN_DELAY", c.Simulation.MinDelay)
	c.Simulation.MaxDelay = GetEnvAsDuration("SIMULATED_MAX_DELAY", c.Simulation.MaxDelay)
	c.Simulation.FailureRate = GetEnvAsFloat("SIMULATED_FAILURE_RATE", c.Simulation.FailureRate)

	c.Monitor.MetricsInterval = GetEnvAsDuration("METRICS_INTERVAL", c.Monitor.MetricsInterval)
	c.Monitor.SnapshotInterval = GetEnvAsDuration("SNAPSHOT_INTERVAL", c.Monitor.SnapshotInterval)
	c.Monitor.AlertGracePeriod = GetEnvAsDuration("ALERT_GRACE_PERIOD", c.Monitor.AlertGracePeriod)

	c.Export.WebhookURL = GetEnvOrDefault("WEBHOOK_URL", c.Export.WebhookURL)
	c.Export.WebhookAPIKey = GetEnvOrDefault("WEBHOOK_API_KEY", c.Export.WebhookAPIKey)
	c.Export.ExportInterval = GetEnvAsDuration("EXPORT_INTERVAL", c.Export.ExportInterval)
	c.Export.BatchSize = GetEnvAsInt("EXPORT_BATCH_SIZE", c.Export.BatchSize)
	c.Export.SignPayloads = GetEnvAsBool("EXPORT_SIGN_PAYLOADS", c.Export.SignPayloads)

	c.RateLimit.RequestsPerSecond = GetEnvAsFloat("RATE_LIMIT_RPS", c.RateLimit.RequestsPerSecond)
	c.RateLimit.Burst = GetEnvAsInt("RATE_LIMIT_BURST", c.RateLimit.Burst)

	c.Genesis.TablePath = GetEnvOrDefault("GENESIS_TABLE_PATH", c.Genesis.TablePath)
	c.Genesis.AutoSeed = GetEnvAsBool("AUTO_GENESIS", c.Genesis.AutoSeed)

	c.VerifySignatures = GetEnvAsBool("VERIFY_SIGNATURES", c.VerifySignatures)
}

// Validate rejects settings the engine cannot run with
func (c Config) Validate() error {
	switch {
	case c.Port == "":
		return fmt.Errorf("port must not be empty")
	case c.Engine.MaxConcurrentBatches < 1:
		return fmt.Errorf("max concurrent batches must be at least 1, got %d", c.Engine.MaxConcurrentBatches)
	case c.Engine.ProcessingInterval <= 0:
		return fmt.Errorf("processing interval must be positive")
	case c.Engine.BatchTimeout < 0:
		return fmt.Errorf("batch timeout must not be negative")
	case c.Engine.CircuitFailureThreshold < 1:
		return fmt.Errorf("circuit failure threshold must be at least 1")
	case c.Simulation.MaxDelay < c.Simulation.MinDelay:
		return fmt.Errorf("simulated max delay %s below min delay %s", c.Simulation.MaxDelay, c.Simulation.MinDelay)
	case c.Simulation.FailureRate < 0 || c.Simulation.FailureRate > 1:
		return fmt.Errorf("simulated failure rate must be within [0,1], got %.3f", c.Simulation.FailureRate)
	case c.Monitor.MetricsInterval <= 0 || c.Monitor.SnapshotInterval <= 0:
		return fmt.Errorf("monitor intervals must be positive")
	case c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1:
		return fmt.Errorf("rate limit must be positive")
	}
	return nil
}

// GetEnv retrieves an environment variable and whether it exists
func GetEnv(key string) (string, bool) {
	value, exists := os.LookupEnv(key)
	return value, exists
}

// GetEnvOrDefault retrieves an environment variable or returns the default value if not set
func GetEnvOrDefault(key, defaultValue string) string {
	if value, exists := GetEnv(key); exists {
		return value
	}
	return defaultValue
}

// GetEnvAsInt retrieves an environment variable as an integer with a default value
func GetEnvAsInt(key string, defaultValue int) int {
	if value, exists := GetEnv(key); exists {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvAsFloat retrieves an environment variable as a float with a default value
func GetEnvAsFloat(key string, defaultValue float64) float64 {
	if value, exists := GetEnv(key); exists {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// GetEnvAsDuration retrieves an environment variable as a duration with a default value
func GetEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := GetEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvAsBool retrieves an environment variable as a bool with a default value
func GetEnvAsBool(key string, defaultValue bool) bool {
	if value, exists := GetEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
