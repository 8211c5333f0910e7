package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// FileConfig is the JSON layout of CONFIG_FILE. Durations are Go duration strings; empty fields keep defaults.
type FileConfig struct {
	Port         string `json:"port"`
	LogLevel     string `json:"log_level"`
	LogFormat    string `json:"log_format"`
	OtelEndpoint string `json:"otel_endpoint"`

	Engine struct {
		MaxConcurrentBatches    int    `json:"max_concurrent_batches"`
		ProcessingInterval      string `json:"processing_interval"`
		BatchTimeout            string `json:"batch_timeout"`
		MaxRetries              int    `json:"max_retries"`
		CircuitFailureThreshold int    `json:"circuit_failure_threshold"`
		CircuitResetDelay       string `json:"circuit_reset_delay"`
	} `json:"engine"`

	Simulation struct {
		MinDelay    string   `json:"min_delay"`
		MaxDelay    string   `json:"max_delay"`
		FailureRate *float64 `json:"failure_rate"`
	} `json:"simulation"`

	Monitor struct {
		MetricsInterval  string `json:"metrics_interval"`
		SnapshotInterval string `json:"snapshot_interval"`
		AlertGracePeriod string `json:"alert_grace_period"`
	} `json:"monitor"`

	Export struct {
		WebhookURL     string `json:"webhook_url"`
		WebhookAPIKey  string `json:"webhook_api_key,omitempty"`
		ExportInterval string `json:"export_interval"`
		BatchSize      int    `json:"batch_size"`
		SignPayloads   *bool  `json:"sign_payloads"`
	} `json:"export"`

	RateLimit struct {
		RequestsPerSecond float64 `json:"requests_per_second"`
		Burst             int     `json:"burst"`
	} `json:"rate_limiting"`

	Genesis struct {
		TablePath string `json:"table_path"`
		AutoSeed  *bool  `json:"auto_seed"`
	} `json:"genesis"`

	VerifySignatures *bool `json:"verify_signatures"`
}

// applyFile overlays the JSON file at path onto c
func (c *Config) applyFile(path string) error {
	fileData, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	var fc FileConfig
	if err := json.Unmarshal(fileData, &fc); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := c.overlay(fc); err != nil {
		return fmt.Errorf("invalid config file %s: %w", path, err)
	}
	logrus.Infof("Loaded configuration from %s", path)
	return nil
}

func (c *Config) overlay(fc FileConfig) error {
	setString(&c.Port, fc.Port)
	setString(&c.LogLevel, fc.LogLevel)
	setString(&c.LogFormat, fc.LogFormat)
	setString(&c.OtelEndpoint, fc.OtelEndpoint)

	setInt(&c.Engine.MaxConcurrentBatches, fc.Engine.MaxConcurrentBatches)
	setInt(&c.Engine.MaxRetries, fc.Engine.MaxRetries)
	setInt(&c.Engine.CircuitFailureThreshold, fc.Engine.CircuitFailureThreshold)

	durations := []struct {
		dst *time.Duration
		raw string
	}{
		{&c.Engine.ProcessingInterval, fc.Engine.ProcessingInterval},
		{&c.Engine.BatchTimeout, fc.Engine.BatchTimeout},
		{&c.Engine.CircuitResetDelay, fc.Engine.CircuitResetDelay},
		{&c.Simulation.MinDelay, fc.Simulation.MinDelay},
		{&c.Simulation.MaxDelay, fc.Simulation.MaxDelay},
		{&c.Monitor.MetricsInterval, fc.Monitor.MetricsInterval},
		{&c.Monitor.SnapshotInterval, fc.Monitor.SnapshotInterval},
		{&c.Monitor.AlertGracePeriod, fc.Monitor.AlertGracePeriod},
		{&c.Export.ExportInterval, fc.Export.ExportInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return err
		}
		*d.dst = v
	}

	if fc.Simulation.FailureRate != nil {
		c.Simulation.FailureRate = *fc.Simulation.FailureRate
	}
	setString(&c.Export.WebhookURL, fc.Export.WebhookURL)
	setString(&c.Export.WebhookAPIKey, fc.Export.WebhookAPIKey)
	setInt(&c.Export.BatchSize, fc.Export.BatchSize)
	if fc.Export.SignPayloads != nil {
		c.Export.SignPayloads = *fc.Export.SignPayloads
	}
	if fc.RateLimit.RequestsPerSecond > 0 {
		c.RateLimit.RequestsPerSecond = fc.RateLimit.RequestsPerSecond
	}
	setInt(&c.RateLimit.Burst, fc.RateLimit.Burst)
	setString(&c.Genesis.TablePath, fc.Genesis.TablePath)
	if fc.Genesis.AutoSeed != nil {
		c.Genesis.AutoSeed = *fc.Genesis.AutoSeed
	}
	if fc.VerifySignatures != nil {
		c.VerifySignatures = *fc.VerifySignatures
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
