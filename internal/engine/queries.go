package engine

import (
	"math/big"
	"sort"

	"github.com/yourorg/tburn-genesis-engine/internal/circuitbreaker"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
	"github.com/yourorg/tburn-genesis-engine/internal/vesting"
)

// GetMetrics returns a copy of the aggregate metrics with throughput refreshed to now
func (e *Engine) GetMetrics() model.DistributionMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.refreshThroughputLocked(e.now())
	return e.metrics.Clone()
}

// GetLatencies returns the rolling task latency history in milliseconds, oldest first
func (e *Engine) GetLatencies() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.latencies.Values()
}

// GetTask returns a copy of a task
func (e *Engine) GetTask(id string) (*model.DistributionTask, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// GetBatchStatus returns a copy of a batch in any state
func (e *Engine) GetBatchStatus(id string) (*model.DistributionBatch, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	b, ok := e.batches[id]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

// GetAllBatches returns copies of every batch ordered by creation time
func (e *Engine) GetAllBatches() []*model.DistributionBatch {
	e.mu.Lock()
	out := make([]*model.DistributionBatch, 0, len(e.batches))
	for _, b := range e.batches {
		out = append(out, b.Clone())
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// GetVestingSchedule returns a copy of a schedule with UnlockedWei computed as of now
func (e *Engine) GetVestingSchedule(id string) (*model.VestingSchedule, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.schedules[id]
	if !ok {
		return nil, false
	}
	return e.scheduleViewLocked(s), true
}

func (e *Engine) scheduleViewLocked(s *model.VestingSchedule) *model.VestingSchedule {
	out := s.Clone()
	out.UnlockedWei = vesting.UnlockedBy(out, e.now())
	return out
}

// GetAllVestingSchedules returns copies of every schedule ordered by start time
func (e *Engine) GetAllVestingSchedules() []*model.VestingSchedule {
	e.mu.Lock()
	out := make([]*model.VestingSchedule, 0, len(e.schedules))
	for _, s := range e.schedules {
		out = append(out, e.scheduleViewLocked(s))
	}
	e.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartAt.Before(out[j].StartAt)
	})
	return out
}

// GetApprovalRequest returns a copy of a request. An overdue request reads as expired before
// the next processing tick records the expiry.
func (e *Engine) GetApprovalRequest(id string) (*model.ApprovalRequest, bool) {
	return e.approvals.Get(id)
}

// GetAllApprovalRequests returns every request ordered by creation time
func (e *Engine) GetAllApprovalRequests() []*model.ApprovalRequest {
	return e.approvals.All()
}

// GetCircuitBreakerState returns the breaker snapshot
func (e *Engine) GetCircuitBreakerState() circuitbreaker.Snapshot {
	return e.breaker.Snapshot()
}

// ResetCircuitBreaker forces the breaker closed
func (e *Engine) ResetCircuitBreaker() {
	e.breaker.Reset()
}

// GetQueueStatus summarises the task and batch queues
func (e *Engine) GetQueueStatus() model.QueueStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return model.QueueStatus{
		PendingTasks:     e.taskQueue.Size(),
		QueuedBatches:    e.batchQueue.Size(),
		ActiveBatches:    len(e.activeBatches),
		HeldBatches:      len(e.heldBatches),
		CompletedBatches: len(e.completedBatches),
		MaxConcurrent:    e.cfg.MaxConcurrentBatches,
		Running:          e.running,
	}
}

// GetCategoryAllocation returns the allocation and progress of one category
func (e *Engine) GetCategoryAllocation(c types.Category) (model.CategoryAllocation, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.categories[c]; !ok {
		return model.CategoryAllocation{}, false
	}
	return e.categoryAllocationLocked(c), true
}

// GetAllCategoryAllocations returns every known category in canonical order
func (e *Engine) GetAllCategoryAllocations() []model.CategoryAllocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.CategoryAllocation, 0, len(e.categories))
	for _, c := range types.AllCategories {
		if _, ok := e.categories[c]; ok {
			out = append(out, e.categoryAllocationLocked(c))
		}
	}
	return out
}

func (e *Engine) categoryAllocationLocked(c types.Category) model.CategoryAllocation {
	st := e.categories[c]
	progress := e.progressLocked(c)
	progress.DistributedWei = new(big.Int).Set(progress.DistributedWei)
	return model.CategoryAllocation{
		Category:         c,
		Percentage:       st.percentage,
		TotalAmountWei:   new(big.Int).Set(st.totalWei),
		TotalAmountTBURN: model.FromWei(st.totalWei),
		Tasks:            st.tasks,
		VestingSchedules: st.vestingSchedules,
		Progress:         progress,
	}
}
