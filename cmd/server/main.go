// Package main is the entry point for the TBURN genesis distribution engine. It seeds the
// 10B TBURN allocation, runs the batch processor and serves the operator API.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/tburn-genesis-engine/internal/api"
	"github.com/yourorg/tburn-genesis-engine/internal/config"
	"github.com/yourorg/tburn-genesis-engine/internal/engine"
	"github.com/yourorg/tburn-genesis-engine/internal/enterprise"
	"github.com/yourorg/tburn-genesis-engine/internal/genesis"
	"github.com/yourorg/tburn-genesis-engine/internal/monitor"
	"github.com/yourorg/tburn-genesis-engine/internal/otel"
	"github.com/yourorg/tburn-genesis-engine/internal/security"
)

// main is the entry point for the application
func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Invalid configuration: %v", err)
	}
	setupLogging(cfg.LogLevel, cfg.LogFormat)

	shutdownTracer := otel.InitTracer(cfg)
	defer shutdownTracer()

	eng := engine.New(engineConfig(cfg)).
		WithExecutor(engine.NewSimulatedExecutor(cfg.Simulation.MinDelay, cfg.Simulation.MaxDelay, cfg.Simulation.FailureRate)).
		WithTracer(otel.Tracer())
	if cfg.VerifySignatures {
		eng.WithVerifier(security.EthereumVerifier{})
		logrus.Info("Approval signatures are verified against signer addresses")
	}

	table, err := genesis.Load(cfg.Genesis.TablePath)
	if err != nil {
		logrus.Fatalf("Failed to load genesis table: %v", err)
	}

	mon := monitor.New(eng, monitor.Options{
		MetricsInterval:  cfg.Monitor.MetricsInterval,
		SnapshotInterval: cfg.Monitor.SnapshotInterval,
		GracePeriod:      cfg.Monitor.AlertGracePeriod,
	}).WithBus(eng.Events())

	var exporter *enterprise.MetricsExporter
	if cfg.Export.Enabled() {
		exporter, err = enterprise.NewMetricsExporter(exporterConfig(cfg.Export))
		if err != nil {
			logrus.Fatalf("Failed to create webhook exporter: %v", err)
		}
		mon.WithNotifier(exporter)
	}

	server := api.NewServer(eng, mon, api.Options{
		Port:              cfg.Port,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
	}).WithGenesisTable(table)
	if exporter != nil {
		server.WithExporter(exporter)
	}

	if cfg.Genesis.AutoSeed {
		summary, err := eng.InitializeGenesisDistribution(table)
		if err != nil {
			logrus.Fatalf("Genesis initialization failed: %v", err)
		}
		logrus.WithFields(logrus.Fields{
			"tasks":     summary.Tasks,
			"batches":   summary.Batches,
			"vesting":   summary.VestingSchedules,
			"approvals": summary.ApprovalRequests,
		}).Info("Genesis distribution seeded")
	}

	mon.Start()
	eng.Start()
	server.Start()

	// Wait for interrupt signal to gracefully shut down
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Server shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logrus.Errorf("Server shutdown failed: %v", err)
	}
	eng.Stop()
	if err := eng.Wait(ctx); err != nil {
		logrus.Warnf("In-flight batches did not finish: %v", err)
	}
	mon.Stop()
	if exporter != nil {
		exporter.Stop()
	}

	logrus.Info("Server stopped")
}
