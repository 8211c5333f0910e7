// Package enterprise delivers monitor alerts and snapshots to an external webhook
package enterprise

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/tburn-genesis-engine/internal/monitor"
	"github.com/yourorg/tburn-genesis-engine/internal/security"
)

// ErrNotConfigured is returned when an enabled exporter has no webhook URL
var ErrNotConfigured = errors.New("webhook URL not configured")

// Record kinds
const (
	KindAlert    = "alert"
	KindSnapshot = "snapshot"
)

// Record is one exported item
type Record struct {
	Kind      string      `json:"kind"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// ExporterConfig holds configuration for webhook export
type ExporterConfig struct {
	Enabled        bool
	BatchSize      int
	ExportInterval time.Duration
	WebhookURL     string
	WebhookAPIKey  string
	SignPayloads   bool

	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// ExporterStatus describes the exporter for the status endpoint
type ExporterStatus struct {
	Enabled        bool       `json:"enabled"`
	BatchSize      int        `json:"batchSize"`
	ExportInterval string     `json:"exportInterval"`
	CurrentBatch   int        `json:"currentBatch"`
	Exported       int        `json:"exported"`
	Failed         int        `json:"failed"`
	LastExport     *time.Time `json:"lastExport,omitempty"`
	LastError      string     `json:"lastError,omitempty"`
	Signer         string     `json:"signer,omitempty"`
}

// MetricsExporter batches alerts and snapshots and posts them to a webhook.
// A batch is sent when it reaches BatchSize, on every ExportInterval tick, when a critical alert arrives, and on Stop.
type MetricsExporter struct {
	config ExporterConfig
	client *retryablehttp.Client
	signer *security.Signer

	mutex      sync.Mutex
	batch      []Record
	lastExport time.Time
	exported   int
	failed     int
	lastError  string
	stopped    bool

	sending sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMetricsExporter creates an exporter and starts its periodic export. A disabled exporter drops everything.
func NewMetricsExporter(config ExporterConfig) (*MetricsExporter, error) {
	if !config.Enabled {
		return &MetricsExporter{config: config}, nil
	}
	if config.WebhookURL == "" {
		return nil, ErrNotConfigured
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.ExportInterval <= 0 {
		config.ExportInterval = time.Minute
	}
	if config.RetryMax <= 0 {
		config.RetryMax = 3
	}
	if config.RetryWaitMin <= 0 {
		config.RetryWaitMin = 500 * time.Millisecond
	}
	if config.RetryWaitMax <= 0 {
		config.RetryWaitMax = 5 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = config.RetryMax
	client.RetryWaitMin = config.RetryWaitMin
	client.RetryWaitMax = config.RetryWaitMax
	client.HTTPClient.Timeout = 10 * time.Second
	client.Logger = retryLogger{}

	e := &MetricsExporter{
		config: config,
		client: client,
		batch:  make([]Record, 0, config.BatchSize),
	}
	if config.SignPayloads {
		signer, err := security.NewSigner()
		if err != nil {
			return nil, fmt.Errorf("creating payload signer: %w", err)
		}
		e.signer = signer
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.wg.Add(1)
	go e.periodicExport(ctx)

	logrus.WithFields(logrus.Fields{
		"url":        config.WebhookURL,
		"batch_size": config.BatchSize,
		"interval":   config.ExportInterval.String(),
		"signed":     config.SignPayloads,
	}).Info("Webhook exporter initialized")
	return e, nil
}

// NotifyAlert implements monitor.Notifier. Critical alerts are sent without waiting for the batch to fill.
func (e *MetricsExporter) NotifyAlert(a monitor.Alert) {
	e.add(Record{Kind: KindAlert, Timestamp: a.TriggeredAt, Data: a}, a.Severity == monitor.SeverityCritical)
}

// NotifySnapshot implements monitor.Notifier
func (e *MetricsExporter) NotifySnapshot(s monitor.Snapshot) {
	e.add(Record{Kind: KindSnapshot, Timestamp: s.Timestamp, Data: s}, false)
}

func (e *MetricsExporter) add(r Record, urgent bool) {
	if !e.config.Enabled {
		return
	}
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.batch = append(e.batch, r)
	// after Stop the remaining records go out with the final flush
	if e.stopped || (len(e.batch) < e.config.BatchSize && !urgent) {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		_ = e.Flush(context.Background())
	}()
}

func (e *MetricsExporter) periodicExport(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.config.ExportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = e.Flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Flush sends the current batch now. An empty batch is not sent.
func (e *MetricsExporter) Flush(ctx context.Context) error {
	if !e.config.Enabled {
		return nil
	}
	e.sending.Lock()
	defer e.sending.Unlock()

	e.mutex.Lock()
	if len(e.batch) == 0 {
		e.mutex.Unlock()
		return nil
	}
	records := e.batch
	e.batch = make([]Record, 0, e.config.BatchSize)
	e.mutex.Unlock()

	err := e.exportToWebhook(ctx, records)

	e.mutex.Lock()
	if err != nil {
		e.failed += len(records)
		e.lastError = err.Error()
	} else {
		e.exported += len(records)
		e.lastExport = time.Now()
		e.lastError = ""
	}
	e.mutex.Unlock()

	if err != nil {
		logrus.WithField("records", len(records)).Errorf("Failed to export to webhook: %v", err)
		return err
	}
	logrus.Debugf("Exported %d records to webhook", len(records))
	return nil
}

type exportPayload struct {
	Source     string   `json:"source"`
	Records    []Record `json:"records"`
	ExportTime string   `json:"export_time"`
	Count      int      `json:"count"`
}

func (e *MetricsExporter) exportToWebhook(ctx context.Context, records []Record) error {
	payload := exportPayload{
		Source:     "tburn-genesis-engine",
		Records:    records,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(records),
	}

	var body interface{} = payload
	if e.signer != nil {
		signed, err := e.signer.SignPayload(payload)
		if err != nil {
			return fmt.Errorf("failed to sign payload: %w", err)
		}
		body = signed
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, e.config.WebhookURL, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.WebhookAPIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.WebhookAPIKey)
	}
	if e.signer != nil {
		req.Header.Set("X-Signer-Address", e.signer.Address())
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}

// Stop cancels the periodic export and sends whatever is left
func (e *MetricsExporter) Stop() {
	e.mutex.Lock()
	e.stopped = true
	e.mutex.Unlock()
	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = e.Flush(ctx)
}

// GetExporterStatus returns the current status of the exporter
func (e *MetricsExporter) GetExporterStatus() ExporterStatus {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	status := ExporterStatus{
		Enabled:        e.config.Enabled,
		BatchSize:      e.config.BatchSize,
		ExportInterval: e.config.ExportInterval.String(),
		CurrentBatch:   len(e.batch),
		Exported:       e.exported,
		Failed:         e.failed,
		LastError:      e.lastError,
	}
	if !e.lastExport.IsZero() {
		t := e.lastExport
		status.LastExport = &t
	}
	if e.signer != nil {
		status.Signer = e.signer.Address()
	}
	return status
}

// retryLogger routes retryablehttp's leveled logging through logrus
type retryLogger struct{}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := logrus.Fields{"component": "webhook"}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		f[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return f
}

func (retryLogger) Error(msg string, kv ...interface{}) { logrus.WithFields(fields(kv)).Error(msg) }
func (retryLogger) Info(msg string, kv ...interface{})  { logrus.WithFields(fields(kv)).Debug(msg) }
func (retryLogger) Debug(msg string, kv ...interface{}) { logrus.WithFields(fields(kv)).Debug(msg) }
func (retryLogger) Warn(msg string, kv ...interface{})  { logrus.WithFields(fields(kv)).Warn(msg) }
