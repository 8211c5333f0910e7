package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/tburn-genesis-engine/internal/engine"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
	"github.com/yourorg/tburn-genesis-engine/internal/monitor"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

func instant() engine.ExecutorFunc {
	return func(_ context.Context, task *model.DistributionTask) (engine.TransferResult, error) {
		return engine.TransferResult{TxHash: "0x" + task.ID, BlockNumber: 7}, nil
	}
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *engine.Engine, *monitor.Service) {
	t.Helper()
	cfg := engine.DefaultConfig()
	cfg.ProcessingInterval = 5 * time.Millisecond
	eng := engine.New(cfg).WithExecutor(instant())
	mon := monitor.New(eng, monitor.Options{GracePeriod: time.Hour})
	srv := httptest.NewServer(NewServer(eng, mon, opts).Handler())
	t.Cleanup(func() {
		srv.Close()
		eng.Stop()
	})
	return srv, eng, mon
}

func do(t *testing.T, method, url string, body interface{}) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decodeInto(t *testing.T, raw []byte, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(raw, v), string(raw))
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	status, raw := do(t, http.MethodGet, srv.URL+"/health", nil)
	require.Equal(t, http.StatusOK, status)

	var body map[string]interface{}
	decodeInto(t, raw, &body)
	assert.Equal(t, "OK", body["status"])
	assert.Equal(t, Version, body["version"])
	assert.Equal(t, false, body["running"])
}

func TestTaskAndBatchLifecycle(t *testing.T) {
	srv, eng, _ := newTestServer(t, Options{})

	ids := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		status, raw := do(t, http.MethodPost, srv.URL+"/api/tasks", map[string]interface{}{
			"category":         "community",
			"recipientAddress": "0x00000000000000000000000000000000000000aa",
			"recipientName":    "airdrop",
			"amountTBURN":      "1500",
			"priority":         "HIGH",
		})
		require.Equal(t, http.StatusCreated, status, string(raw))
		var task model.DistributionTask
		decodeInto(t, raw, &task)
		assert.Equal(t, model.TaskPending, task.Status)
		assert.Equal(t, types.PriorityHigh, task.Priority)
		ids = append(ids, task.ID)
	}

	status, raw := do(t, http.MethodGet, srv.URL+"/api/tasks/"+ids[0], nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), ids[0])

	status, raw = do(t, http.MethodPost, srv.URL+"/api/batches", map[string]interface{}{
		"name":     "community wave",
		"category": "community",
		"taskIds":  ids,
		"priority": "CRITICAL",
	})
	require.Equal(t, http.StatusCreated, status, string(raw))
	var batch model.DistributionBatch
	decodeInto(t, raw, &batch)
	assert.Len(t, batch.Tasks, 2)

	// a task can only be batched once
	status, _ = do(t, http.MethodPost, srv.URL+"/api/batches", map[string]interface{}{
		"category": "community",
		"taskIds":  ids[:1],
	})
	assert.Equal(t, http.StatusConflict, status)

	status, _ = do(t, http.MethodPost, srv.URL+"/api/engine/start", nil)
	require.Equal(t, http.StatusOK, status)
	require.Eventually(t, func() bool {
		b, ok := eng.GetBatchStatus(batch.ID)
		return ok && b.Status == model.BatchCompleted
	}, 5*time.Second, 10*time.Millisecond)

	status, raw = do(t, http.MethodGet, srv.URL+"/api/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	var metrics model.DistributionMetrics
	decodeInto(t, raw, &metrics)
	assert.Equal(t, 2, metrics.CompletedTasks)

	status, _ = do(t, http.MethodPost, srv.URL+"/api/batches/"+batch.ID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, status, "completed batches cannot be cancelled")
}

func TestErrorMapping(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"unknown task", http.MethodGet, "/api/tasks/missing", nil, http.StatusNotFound},
		{"unknown batch", http.MethodGet, "/api/batches/missing", nil, http.StatusNotFound},
		{"cancel unknown batch", http.MethodPost, "/api/batches/missing/cancel", nil, http.StatusNotFound},
		{"unknown vesting", http.MethodGet, "/api/vesting/missing", nil, http.StatusNotFound},
		{"unknown approval", http.MethodGet, "/api/approvals/missing", nil, http.StatusNotFound},
		{"sign unknown approval", http.MethodPost, "/api/approvals/missing/sign", map[string]interface{}{"signer": "0x1", "signature": "s", "approved": true}, http.StatusNotFound},
		{"unknown alert", http.MethodPost, "/api/alerts/missing/ack", nil, http.StatusNotFound},
		{"bad category", http.MethodGet, "/api/categories/moon", nil, http.StatusBadRequest},
		{"category without tasks", http.MethodGet, "/api/categories/team", nil, http.StatusNotFound},
		{"invalid task", http.MethodPost, "/api/tasks", map[string]interface{}{"category": "team", "amountTBURN": "0"}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/tasks", map[string]interface{}{"bogus": true}, http.StatusBadRequest},
		{"sub-wei amount", http.MethodPost, "/api/tasks", map[string]interface{}{"category": "team", "amountTBURN": "0.0000000000000000001"}, http.StatusBadRequest},
		{"batch for unknown category", http.MethodPost, "/api/batches", map[string]interface{}{"category": "moon", "fromQueue": true}, http.StatusBadRequest},
		{"empty queue", http.MethodPost, "/api/batches", map[string]interface{}{"category": "team", "fromQueue": true}, http.StatusConflict},
		{"approval for unknown batch", http.MethodPost, "/api/approvals", map[string]interface{}{"batchId": "missing", "requiredSignatures": 1}, http.StatusNotFound},
		{"invalid vesting", http.MethodPost, "/api/vesting", map[string]interface{}{"totalAmountTBURN": "10", "tgePercent": 150}, http.StatusBadRequest},
		{"wrong method", http.MethodDelete, "/api/metrics", nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, raw := do(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, status, string(raw))
			if status != http.StatusMethodNotAllowed {
				var body errorBody
				decodeInto(t, raw, &body)
				assert.Equal(t, "error", body.Status)
				assert.Equal(t, tt.want, body.StatusCode)
			}
		})
	}
}

func TestGenesisFlowWithApproval(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})

	status, raw := do(t, http.MethodPost, srv.URL+"/api/genesis", nil)
	require.Equal(t, http.StatusCreated, status, string(raw))
	var summary engine.GenesisSummary
	decodeInto(t, raw, &summary)
	assert.Equal(t, 15, summary.Tasks)
	assert.Equal(t, 8, summary.Batches)
	assert.Equal(t, 13, summary.VestingSchedules)
	assert.Equal(t, 1, summary.ApprovalRequests)

	status, _ = do(t, http.MethodPost, srv.URL+"/api/genesis", nil)
	assert.Equal(t, http.StatusConflict, status)

	status, raw = do(t, http.MethodGet, srv.URL+"/api/categories", nil)
	require.Equal(t, http.StatusOK, status)
	var allocations []model.CategoryAllocation
	decodeInto(t, raw, &allocations)
	assert.Len(t, allocations, len(types.AllCategories))

	status, raw = do(t, http.MethodGet, srv.URL+"/api/vesting", nil)
	require.Equal(t, http.StatusOK, status)
	var schedules []model.VestingSchedule
	decodeInto(t, raw, &schedules)
	assert.Len(t, schedules, 13)

	status, raw = do(t, http.MethodGet, srv.URL+"/api/approvals", nil)
	require.Equal(t, http.StatusOK, status)
	var requests []model.ApprovalRequest
	decodeInto(t, raw, &requests)
	require.Len(t, requests, 1)
	req := requests[0]

	status, raw = do(t, http.MethodGet, srv.URL+"/api/queue", nil)
	require.Equal(t, http.StatusOK, status)
	var queue model.QueueStatus
	decodeInto(t, raw, &queue)
	assert.Equal(t, 1, queue.HeldBatches)

	sign := func(signer string) (int, model.ApprovalRequest) {
		status, raw := do(t, http.MethodPost, srv.URL+"/api/approvals/"+req.ID+"/sign", map[string]interface{}{
			"signer":    signer,
			"signature": "0xsigned",
			"approved":  true,
		})
		var out model.ApprovalRequest
		if status == http.StatusOK {
			decodeInto(t, raw, &out)
		}
		return status, out
	}

	status, _ = sign("0x000000000000000000000000000000000000dead")
	assert.Equal(t, http.StatusConflict, status, "not an eligible signer")

	status, updated := sign(req.Signers[0].Address)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.ApprovalPending, updated.Status)

	status, updated = sign(req.Signers[1].Address)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, model.ApprovalApproved, updated.Status)

	status, raw = do(t, http.MethodGet, srv.URL+"/api/queue", nil)
	require.Equal(t, http.StatusOK, status)
	decodeInto(t, raw, &queue)
	assert.Equal(t, 0, queue.HeldBatches)
	assert.Equal(t, 8, queue.QueuedBatches)
}

func TestCircuitEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	status, raw := do(t, http.MethodGet, srv.URL+"/api/circuit", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), `"state":"closed"`)

	status, raw = do(t, http.MethodPost, srv.URL+"/api/circuit/reset", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "Circuit breaker reset")
}

func TestMonitorEndpoints(t *testing.T) {
	srv, _, mon := newTestServer(t, Options{})
	mon.TakeSnapshot()
	mon.TakeSnapshot()

	status, raw := do(t, http.MethodGet, srv.URL+"/api/snapshots?limit=1", nil)
	require.Equal(t, http.StatusOK, status)
	var snaps []monitor.Snapshot
	decodeInto(t, raw, &snaps)
	assert.Len(t, snaps, 1)

	status, raw = do(t, http.MethodGet, srv.URL+"/api/alerts", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "[]", strings.TrimSpace(string(raw)))

	status, _ = do(t, http.MethodGet, srv.URL+"/api/alerts?history=true&limit=5", nil)
	assert.Equal(t, http.StatusOK, status)

	status, raw = do(t, http.MethodGet, srv.URL+"/api/dashboard", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(raw), "queue")

	status, raw = do(t, http.MethodGet, srv.URL+"/api/exporter", nil)
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"enabled":false}`, string(raw))
}

func TestPrometheusEndpointIncludesHTTPMetrics(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	status, _ := do(t, http.MethodGet, srv.URL+"/api/queue", nil)
	require.Equal(t, http.StatusOK, status)

	status, raw := do(t, http.MethodGet, srv.URL+"/metrics", nil)
	require.Equal(t, http.StatusOK, status)
	text := string(raw)
	assert.Contains(t, text, "tburn_tasks_total")
	assert.Contains(t, text, `tburn_http_requests_total{method="GET",status="200"}`)
}

func TestRateLimitAppliesToAPIOnly(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{RequestsPerSecond: 0.001, Burst: 1})

	status, _ := do(t, http.MethodGet, srv.URL+"/api/queue", nil)
	assert.Equal(t, http.StatusOK, status)
	status, raw := do(t, http.MethodGet, srv.URL+"/api/queue", nil)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Contains(t, string(raw), "Rate limit exceeded")

	status, _ = do(t, http.MethodGet, srv.URL+"/health", nil)
	assert.Equal(t, http.StatusOK, status)
}
