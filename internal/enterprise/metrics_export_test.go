package enterprise

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/tburn-genesis-engine/internal/monitor"
)

type webhook struct {
	mu      sync.Mutex
	bodies  []map[string]interface{}
	headers []http.Header
	hits    atomic.Int32
	status  int
}

func newWebhook(status int) (*webhook, *httptest.Server) {
	w := &webhook{status: status}
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		w.hits.Add(1)
		raw, _ := io.ReadAll(r.Body)
		var body map[string]interface{}
		_ = json.Unmarshal(raw, &body)
		w.mu.Lock()
		w.bodies = append(w.bodies, body)
		w.headers = append(w.headers, r.Header.Clone())
		w.mu.Unlock()
		rw.WriteHeader(w.status)
	}))
	return w, srv
}

func (w *webhook) received() []map[string]interface{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]map[string]interface{}(nil), w.bodies...)
}

func testConfig(url string) ExporterConfig {
	return ExporterConfig{
		Enabled:        true,
		BatchSize:      3,
		ExportInterval: time.Hour,
		WebhookURL:     url,
		WebhookAPIKey:  "secret",
		RetryMax:       1,
		RetryWaitMin:   time.Millisecond,
		RetryWaitMax:   2 * time.Millisecond,
	}
}

func TestDisabledExporterDropsRecords(t *testing.T) {
	e, err := NewMetricsExporter(ExporterConfig{})
	require.NoError(t, err)
	e.NotifyAlert(monitor.Alert{ID: "a"})
	require.NoError(t, e.Flush(context.Background()))
	e.Stop()
	status := e.GetExporterStatus()
	assert.False(t, status.Enabled)
	assert.Equal(t, 0, status.CurrentBatch)
}

func TestEnabledExporterNeedsURL(t *testing.T) {
	_, err := NewMetricsExporter(ExporterConfig{Enabled: true})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestFullBatchIsSent(t *testing.T) {
	hook, srv := newWebhook(http.StatusOK)
	defer srv.Close()
	e, err := NewMetricsExporter(testConfig(srv.URL))
	require.NoError(t, err)
	defer e.Stop()

	e.NotifySnapshot(monitor.Snapshot{ID: "s1"})
	e.NotifySnapshot(monitor.Snapshot{ID: "s2"})
	assert.Equal(t, 2, e.GetExporterStatus().CurrentBatch)
	e.NotifySnapshot(monitor.Snapshot{ID: "s3"})

	require.Eventually(t, func() bool { return len(hook.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	body := hook.received()[0]
	assert.Equal(t, "tburn-genesis-engine", body["source"])
	assert.EqualValues(t, 3, body["count"])
	records := body["records"].([]interface{})
	require.Len(t, records, 3)
	assert.Equal(t, KindSnapshot, records[0].(map[string]interface{})["kind"])

	hook.mu.Lock()
	assert.Equal(t, "Bearer secret", hook.headers[0].Get("Authorization"))
	assert.Equal(t, "application/json", hook.headers[0].Get("Content-Type"))
	hook.mu.Unlock()

	require.Eventually(t, func() bool { return e.GetExporterStatus().Exported == 3 }, time.Second, 5*time.Millisecond)
	assert.NotNil(t, e.GetExporterStatus().LastExport)
}

func TestCriticalAlertIsSentImmediately(t *testing.T) {
	hook, srv := newWebhook(http.StatusAccepted)
	defer srv.Close()
	e, err := NewMetricsExporter(testConfig(srv.URL))
	require.NoError(t, err)
	defer e.Stop()

	e.NotifyAlert(monitor.Alert{ID: "warn", Severity: monitor.SeverityWarning})
	assert.Never(t, func() bool { return len(hook.received()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)

	e.NotifyAlert(monitor.Alert{ID: "crit", Severity: monitor.SeverityCritical})
	require.Eventually(t, func() bool { return len(hook.received()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 2, hook.received()[0]["count"])
}

func TestStopFlushesRemainder(t *testing.T) {
	hook, srv := newWebhook(http.StatusOK)
	defer srv.Close()
	e, err := NewMetricsExporter(testConfig(srv.URL))
	require.NoError(t, err)

	e.NotifySnapshot(monitor.Snapshot{ID: "last"})
	e.Stop()
	require.Len(t, hook.received(), 1)
	assert.EqualValues(t, 1, hook.received()[0]["count"])
}

func TestSignedPayload(t *testing.T) {
	hook, srv := newWebhook(http.StatusOK)
	defer srv.Close()
	cfg := testConfig(srv.URL)
	cfg.SignPayloads = true
	e, err := NewMetricsExporter(cfg)
	require.NoError(t, err)

	e.NotifySnapshot(monitor.Snapshot{ID: "signed"})
	require.NoError(t, e.Flush(context.Background()))
	e.Stop()

	signer := e.GetExporterStatus().Signer
	require.NotEmpty(t, signer)
	body := hook.received()[0]
	require.Contains(t, body, "payload")
	sig := body["_signature"].(map[string]interface{})
	assert.Equal(t, signer, sig["signer"])
	assert.Equal(t, "secp256k1-keccak256", sig["algorithm"])

	hook.mu.Lock()
	assert.Equal(t, signer, hook.headers[0].Get("X-Signer-Address"))
	hook.mu.Unlock()
}

func TestFailedExportIsCounted(t *testing.T) {
	hook, srv := newWebhook(http.StatusBadRequest)
	defer srv.Close()
	e, err := NewMetricsExporter(testConfig(srv.URL))
	require.NoError(t, err)
	defer e.Stop()

	e.NotifySnapshot(monitor.Snapshot{ID: "rejected"})
	err = e.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")

	status := e.GetExporterStatus()
	assert.Equal(t, 1, status.Failed)
	assert.Equal(t, 0, status.CurrentBatch)
	assert.NotEmpty(t, status.LastError)
	assert.EqualValues(t, 1, hook.hits.Load())
}

func TestServerErrorsAreRetried(t *testing.T) {
	hook, srv := newWebhook(http.StatusServiceUnavailable)
	defer srv.Close()
	e, err := NewMetricsExporter(testConfig(srv.URL))
	require.NoError(t, err)
	defer e.Stop()

	e.NotifySnapshot(monitor.Snapshot{ID: "retry"})
	require.Error(t, e.Flush(context.Background()))
	assert.EqualValues(t, 2, hook.hits.Load(), "one attempt plus one retry")
}
