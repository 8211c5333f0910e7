package engine

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/tburn-genesis-engine/internal/events"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
	tburnotel "github.com/yourorg/tburn-genesis-engine/internal/otel"
)

const batchTimeoutMessage = "batch timeout exceeded"

// ProcessTick runs one iteration of the processing loop: it expires overdue approvals,
// refreshes throughput, then admits queued batches while the circuit allows it and
// concurrency permits. Admitted batches run asynchronously.
func (e *Engine) ProcessTick() {
	e.expireApprovals()

	for e.breaker.CanExecute() {
		b, ok := e.admitNext()
		if !ok {
			break
		}
		e.inflight.Add(1)
		go e.processBatch(b)
	}

	e.mu.Lock()
	changed := e.refreshThroughputLocked(e.now())
	busy := len(e.activeBatches) > 0
	e.mu.Unlock()
	if changed || busy {
		e.bus.Publish(events.Event{Type: events.MetricsUpdated})
	}
}

// admitNext dequeues the next runnable batch and marks it PROCESSING.
// Batches whose approval is still pending are moved aside until the request resolves.
func (e *Engine) admitNext() (*model.DistributionBatch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for len(e.activeBatches) < e.cfg.MaxConcurrentBatches {
		b, ok := e.batchQueue.Dequeue()
		if !ok {
			return nil, false
		}
		if b.ApprovalRequestID != "" {
			if req, found := e.approvals.Get(b.ApprovalRequestID); found && req.Status != model.ApprovalApproved {
				e.heldBatches[b.ID] = b
				continue
			}
		}

		now := e.now()
		b.Status = model.BatchProcessing
		b.StartedAt = &now
		for _, t := range b.Tasks {
			t.Status = model.TaskQueued
			queued := now
			t.QueuedAt = &queued
		}
		e.activeBatches[b.ID] = b
		return b, true
	}
	return nil, false
}

func (e *Engine) processBatch(b *model.DistributionBatch) {
	defer e.inflight.Done()

	ctx := context.Background()
	var cancel context.CancelFunc = func() {}
	if e.cfg.BatchTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.cfg.BatchTimeout)
	}
	defer cancel()

	ctx, span := e.tracer.Start(ctx, "engine.processBatch", trace.WithAttributes(
		attribute.String("batch.id", b.ID),
		attribute.String("batch.category", string(b.Category)),
		attribute.Int("batch.tasks", len(b.Tasks)),
	))
	defer span.End()

	logrus.WithFields(logrus.Fields{
		"batch_id": b.ID,
		"name":     b.Name,
		"tasks":    len(b.Tasks),
	}).Info("Batch processing started")
	e.bus.Publish(events.Event{Type: events.BatchStarted, BatchID: b.ID, Category: b.Category, Count: len(b.Tasks)})

	// b.Tasks is fixed once the batch is admitted, so ranging without the lock is safe
	for _, t := range b.Tasks {
		if ctx.Err() != nil {
			e.failUnstarted(b, t, batchTimeoutMessage)
			continue
		}
		e.runTask(ctx, b, t)
	}

	e.finishBatch(ctx, b)
}

func (e *Engine) runTask(ctx context.Context, b *model.DistributionBatch, t *model.DistributionTask) {
	e.mu.Lock()
	started := e.now()
	t.Status = model.TaskProcessing
	t.StartedAt = &started
	b.ProcessingTasks++
	e.metrics.PendingTasks--
	e.metrics.ProcessingTasks++
	snapshot := t.Clone()
	e.mu.Unlock()

	e.bus.Publish(events.Event{Type: events.TaskStarted, TaskID: t.ID, BatchID: b.ID, Category: t.Category})

	result, err := e.executor.Execute(ctx, snapshot)

	e.mu.Lock()
	finished := e.now()
	latency := finished.Sub(started)
	b.ProcessingTasks--
	e.metrics.ProcessingTasks--
	t.CompletedAt = &finished
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = batchTimeoutMessage
		}
		t.Status = model.TaskFailed
		t.Error = msg
		b.FailedTasks++
		e.metrics.FailedTasks++
	} else {
		t.Status = model.TaskCompleted
		t.TxHash = result.TxHash
		t.BlockNumber = result.BlockNumber
		b.CompletedTasks++
		e.recordCompletionLocked(t, latency, finished)
	}
	e.updateBatchTPSLocked(b, finished)
	e.updateSuccessRateLocked()
	e.refreshThroughputLocked(finished)
	e.metrics.LastUpdatedAt = finished
	errMsg := t.Error
	e.mu.Unlock()

	if err != nil {
		tburnotel.RecordError(ctx, err)
		logrus.WithFields(logrus.Fields{
			"task_id":  t.ID,
			"batch_id": b.ID,
			"category": t.Category,
		}).Warnf("Distribution task failed: %s", errMsg)
		e.bus.Publish(events.Event{Type: events.TaskFailed, TaskID: t.ID, BatchID: b.ID, Category: t.Category, Error: errMsg})
		return
	}
	e.bus.Publish(events.Event{
		Type:      events.TaskCompleted,
		TaskID:    t.ID,
		BatchID:   b.ID,
		Category:  t.Category,
		LatencyMs: float64(latency) / float64(time.Millisecond),
	})
}

// failUnstarted fails a task the batch deadline prevented from starting
func (e *Engine) failUnstarted(b *model.DistributionBatch, t *model.DistributionTask, reason string) {
	e.mu.Lock()
	now := e.now()
	t.Status = model.TaskFailed
	t.Error = reason
	t.CompletedAt = &now
	b.FailedTasks++
	e.metrics.PendingTasks--
	e.metrics.FailedTasks++
	e.updateBatchTPSLocked(b, now)
	e.updateSuccessRateLocked()
	e.metrics.LastUpdatedAt = now
	e.mu.Unlock()

	e.bus.Publish(events.Event{Type: events.TaskFailed, TaskID: t.ID, BatchID: b.ID, Category: t.Category, Error: reason})
}

func (e *Engine) finishBatch(ctx context.Context, b *model.DistributionBatch) {
	e.mu.Lock()
	now := e.now()
	if b.FailedTasks == 0 {
		b.Status = model.BatchCompleted
	} else {
		b.Status = model.BatchFailed
	}
	b.CompletedAt = &now
	e.updateBatchTPSLocked(b, now)
	delete(e.activeBatches, b.ID)
	e.completedBatches[b.ID] = b
	status, completed, failed, tps := b.Status, b.CompletedTasks, b.FailedTasks, b.ActualTPS
	e.mu.Unlock()

	if failed > 0 {
		e.breaker.RecordFailure()
	} else {
		e.breaker.RecordSuccess()
	}

	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("batch.status", string(status)),
		attribute.Int("batch.completed", completed),
		attribute.Int("batch.failed", failed),
	)
	logrus.WithFields(logrus.Fields{
		"batch_id":  b.ID,
		"status":    status,
		"completed": completed,
		"failed":    failed,
		"tps":       tps,
	}).Info("Batch processing finished")
	e.bus.Publish(events.Event{Type: events.BatchCompleted, BatchID: b.ID, Category: b.Category, Count: completed})
	e.bus.Publish(events.Event{Type: events.MetricsUpdated})
}

func (e *Engine) recordCompletionLocked(t *model.DistributionTask, latency time.Duration, at time.Time) {
	e.metrics.CompletedTasks++
	e.metrics.TotalDistributedWei.Add(e.metrics.TotalDistributedWei, t.AmountWei)
	e.metrics.TotalDistributed = model.FromWei(e.metrics.TotalDistributedWei)

	p := e.progressLocked(t.Category)
	p.CompletedTasks++
	p.DistributedWei = new(big.Int).Add(p.DistributedWei, t.AmountWei)
	p.DistributedTBURN = model.FromWei(p.DistributedWei)
	p.Percentage = percentage(p.CompletedTasks, p.TotalTasks)
	e.metrics.CategoryProgress[t.Category] = p

	e.latencies.Add(float64(latency) / float64(time.Millisecond))
	e.metrics.AverageLatencyMs = e.latencies.Mean()
	e.throughput.Record(at)
}

func (e *Engine) updateBatchTPSLocked(b *model.DistributionBatch, now time.Time) {
	if b.StartedAt == nil {
		return
	}
	if elapsed := now.Sub(*b.StartedAt).Seconds(); elapsed > 0 {
		b.ActualTPS = float64(b.CompletedTasks+b.FailedTasks) / elapsed
	}
}

func (e *Engine) updateSuccessRateLocked() {
	attempted := e.metrics.CompletedTasks + e.metrics.FailedTasks
	if attempted == 0 {
		e.metrics.SuccessRate = 0
		return
	}
	e.metrics.SuccessRate = float64(e.metrics.CompletedTasks) / float64(attempted) * 100
}

// refreshThroughputLocked recomputes current and peak TPS and the completion estimate.
// It reports whether the current TPS changed.
func (e *Engine) refreshThroughputLocked(now time.Time) bool {
	prev := e.metrics.CurrentTPS
	tps := e.throughput.Rate(now)
	e.metrics.CurrentTPS = tps
	if tps > e.metrics.PeakTPS {
		e.metrics.PeakTPS = tps
	}
	remaining := e.metrics.PendingTasks + e.metrics.ProcessingTasks
	if tps > 0 && remaining > 0 {
		eta := now.Add(time.Duration(float64(remaining) / tps * float64(time.Second)))
		e.metrics.EstimatedCompletion = &eta
	} else {
		e.metrics.EstimatedCompletion = nil
	}
	return prev != tps
}
