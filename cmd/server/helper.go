package main

import (
	"github.com/sirupsen/logrus"

	"github.com/yourorg/tburn-genesis-engine/internal/config"
	"github.com/yourorg/tburn-genesis-engine/internal/engine"
	"github.com/yourorg/tburn-genesis-engine/internal/enterprise"
)

// setupLogging configures the logging for the application
func setupLogging(level, format string) {
	switch format {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	default:
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn", "warning":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	logrus.Info("Logging configured")
}

func engineConfig(cfg config.Config) engine.Config {
	return engine.Config{
		MaxConcurrentBatches:    cfg.Engine.MaxConcurrentBatches,
		ProcessingInterval:      cfg.Engine.ProcessingInterval,
		BatchTimeout:            cfg.Engine.BatchTimeout,
		MaxRetries:              cfg.Engine.MaxRetries,
		CircuitFailureThreshold: cfg.Engine.CircuitFailureThreshold,
		CircuitResetDelay:       cfg.Engine.CircuitResetDelay,
	}
}

func exporterConfig(cfg config.ExportConfig) enterprise.ExporterConfig {
	return enterprise.ExporterConfig{
		Enabled:        cfg.Enabled(),
		BatchSize:      cfg.BatchSize,
		ExportInterval: cfg.ExportInterval,
		WebhookURL:     cfg.WebhookURL,
		WebhookAPIKey:  cfg.WebhookAPIKey,
		SignPayloads:   cfg.SignPayloads,
	}
}
