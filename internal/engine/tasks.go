package engine

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/tburn-genesis-engine/internal/events"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
	"github.com/yourorg/tburn-genesis-engine/internal/vesting"
)

// TaskRequest describes a transfer to plan. Address format is the caller's responsibility.
type TaskRequest struct {
	Category          types.Category
	Subcategory       string
	RecipientAddress  string
	RecipientName     string
	AmountTBURN       decimal.Decimal
	Percentage        float64
	Priority          types.Priority
	VestingScheduleID string
	Metadata          map[string]string
}

// VestingRequest describes a vesting schedule to generate
type VestingRequest struct {
	TaskID         string
	TotalAmountWei *big.Int
	CliffMonths    int
	DurationMonths int
	TGEPercent     float64
	UnlockType     types.UnlockType
}

// CreateDistributionTask plans a transfer and enqueues it as PENDING
func (e *Engine) CreateDistributionTask(req TaskRequest) (*model.DistributionTask, error) {
	if err := validateTaskRequest(req); err != nil {
		return nil, err
	}
	e.mu.Lock()
	out := e.createTaskLocked(req).Clone()
	e.mu.Unlock()

	e.announceTask(out)
	return out, nil
}

func validateTaskRequest(req TaskRequest) error {
	if _, ok := types.ParseCategory(string(req.Category)); !ok {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidTask, req.Category)
	}
	if req.AmountTBURN.Sign() <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidTask)
	}
	// amountWei must represent amountTBURN exactly
	if !req.AmountTBURN.Equal(req.AmountTBURN.Truncate(types.TokenDecimals)) {
		return fmt.Errorf("%w: amount %s has more than %d decimal places", ErrInvalidTask, req.AmountTBURN, types.TokenDecimals)
	}
	if !validPriority(req.Priority) {
		return fmt.Errorf("%w: invalid priority %d", ErrInvalidTask, req.Priority)
	}
	return nil
}

func validPriority(p types.Priority) bool {
	return p >= types.PriorityCritical && p <= types.PriorityLow
}

func (e *Engine) createTaskLocked(req TaskRequest) *model.DistributionTask {
	var metadata map[string]string
	if len(req.Metadata) > 0 {
		metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			metadata[k] = v
		}
	}

	t := &model.DistributionTask{
		ID:                uuid.NewString(),
		Category:          req.Category,
		Subcategory:       req.Subcategory,
		RecipientAddress:  req.RecipientAddress,
		RecipientName:     req.RecipientName,
		AmountWei:         model.ToWei(req.AmountTBURN),
		AmountTBURN:       req.AmountTBURN,
		Percentage:        req.Percentage,
		Priority:          req.Priority,
		Status:            model.TaskPending,
		VestingScheduleID: req.VestingScheduleID,
		CreatedAt:         e.now(),
		MaxRetries:        e.cfg.MaxRetries,
		Metadata:          metadata,
	}
	e.tasks[t.ID] = t
	e.taskQueue.Enqueue(t)
	e.metrics.TotalTasks++
	e.metrics.PendingTasks++
	progress := e.progressLocked(t.Category)
	progress.TotalTasks++
	progress.Percentage = percentage(progress.CompletedTasks, progress.TotalTasks)
	e.metrics.CategoryProgress[t.Category] = progress
	st := e.categoryLocked(t.Category)
	st.tasks++
	st.totalWei.Add(st.totalWei, t.AmountWei)
	e.metrics.LastUpdatedAt = e.now()
	return t
}

func (e *Engine) announceTask(t *model.DistributionTask) {
	logrus.WithFields(logrus.Fields{
		"task_id":  t.ID,
		"category": t.Category,
		"amount":   t.AmountTBURN.String(),
		"priority": t.Priority.String(),
	}).Debug("Distribution task created")
	e.bus.Publish(events.Event{Type: events.TaskCreated, TaskID: t.ID, Category: t.Category})
}

func validateBatchTarget(category types.Category, priority types.Priority) error {
	if _, ok := types.ParseCategory(string(category)); !ok {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidTask, category)
	}
	if !validPriority(priority) {
		return fmt.Errorf("%w: invalid batch priority %d", ErrInvalidTask, priority)
	}
	return nil
}

// CreateBatch groups pending tasks, identified by the ID of each given task, into a queued batch.
// The tasks leave the task queue; the caller's task values are not modified.
func (e *Engine) CreateBatch(name string, category types.Category, tasks []*model.DistributionTask, priority types.Priority) (*model.DistributionBatch, error) {
	if len(tasks) == 0 {
		return nil, fmt.Errorf("%w: batch %q has no tasks", ErrInvalidTask, name)
	}
	if err := validateBatchTarget(category, priority); err != nil {
		return nil, err
	}

	e.mu.Lock()
	b, err := e.createBatchLocked(name, category, tasks, priority, false)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	out := b.Clone()
	e.mu.Unlock()

	e.announceBatch(out)
	return out, nil
}

// createBatchLocked takes the given tasks out of the task queue. A held batch skips the batch
// queue and waits in the held set until its approval request resolves.
func (e *Engine) createBatchLocked(name string, category types.Category, tasks []*model.DistributionTask, priority types.Priority, held bool) (*model.DistributionBatch, error) {
	owned := make([]*model.DistributionTask, 0, len(tasks))
	seen := make(map[string]bool, len(tasks))
	waiting := make(map[string]bool, e.taskQueue.Size())
	for _, t := range e.taskQueue.Items() {
		waiting[t.ID] = true
	}
	for _, in := range tasks {
		if in == nil {
			return nil, fmt.Errorf("%w: nil task", ErrInvalidTask)
		}
		t, ok := e.tasks[in.ID]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, in.ID)
		}
		if t.Status != model.TaskPending || seen[t.ID] {
			return nil, fmt.Errorf("%w: %s is %s", ErrTaskNotPending, t.ID, t.Status)
		}
		if !waiting[t.ID] {
			return nil, fmt.Errorf("%w: %s already belongs to a batch", ErrTaskNotPending, t.ID)
		}
		if t.Category != category {
			return nil, fmt.Errorf("%w: task %s belongs to %s, not %s", ErrInvalidTask, t.ID, t.Category, category)
		}
		seen[t.ID] = true
		owned = append(owned, t)
	}
	e.taskQueue.RemoveAll(func(t *model.DistributionTask) bool { return seen[t.ID] }, 0)
	return e.newBatchLocked(name, category, owned, priority, held), nil
}

// CreateBatchFromQueue drains up to limit pending tasks of category, in queue order, into a new batch.
// A limit of zero or less takes every pending task of the category.
func (e *Engine) CreateBatchFromQueue(name string, category types.Category, priority types.Priority, limit int) (*model.DistributionBatch, error) {
	if err := validateBatchTarget(category, priority); err != nil {
		return nil, err
	}
	e.mu.Lock()
	drained := e.taskQueue.RemoveAll(func(t *model.DistributionTask) bool { return t.Category == category }, limit)
	if len(drained) == 0 {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: category %s", ErrNoPendingTasks, category)
	}
	b := e.newBatchLocked(name, category, drained, priority, false)
	out := b.Clone()
	e.mu.Unlock()

	e.announceBatch(out)
	return out, nil
}

func (e *Engine) newBatchLocked(name string, category types.Category, tasks []*model.DistributionTask, priority types.Priority, held bool) *model.DistributionBatch {
	totalWei := new(big.Int)
	totalTBURN := decimal.Zero
	for _, t := range tasks {
		totalWei.Add(totalWei, t.AmountWei)
		totalTBURN = totalTBURN.Add(t.AmountTBURN)
	}
	b := &model.DistributionBatch{
		ID:               uuid.NewString(),
		Name:             name,
		Category:         category,
		Tasks:            tasks,
		TotalAmountWei:   totalWei,
		TotalAmountTBURN: totalTBURN,
		Status:           model.BatchPending,
		Priority:         priority,
		CreatedAt:        e.now(),
	}
	if avg := e.latencies.Mean(); avg > 0 {
		b.EstimatedTPS = 1000 / avg
	}
	e.batches[b.ID] = b
	if held {
		e.heldBatches[b.ID] = b
	} else {
		e.batchQueue.Enqueue(b)
	}
	return b
}

func (e *Engine) announceBatch(b *model.DistributionBatch) {
	logrus.WithFields(logrus.Fields{
		"batch_id": b.ID,
		"name":     b.Name,
		"category": b.Category,
		"tasks":    len(b.Tasks),
		"priority": b.Priority.String(),
	}).Info("Distribution batch created")
	e.bus.Publish(events.Event{Type: events.BatchCreated, BatchID: b.ID, Category: b.Category, Count: len(b.Tasks)})
}

// CancelBatch removes a batch that is queued or held for approval and marks it CANCELLED.
// Its tasks return to the task queue as PENDING so they can be batched again.
func (e *Engine) CancelBatch(id string) (*model.DistributionBatch, error) {
	e.mu.Lock()
	b, err := e.cancelBatchLocked(id)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	out := b.Clone()
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{"batch_id": id, "tasks": len(out.Tasks)}).Info("Distribution batch cancelled")
	e.bus.Publish(events.Event{Type: events.BatchCancelled, BatchID: id, Category: out.Category})
	return out, nil
}

func (e *Engine) cancelBatchLocked(id string) (*model.DistributionBatch, error) {
	b, ok := e.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBatchNotFound, id)
	}
	if _, held := e.heldBatches[id]; held {
		delete(e.heldBatches, id)
	} else if _, queued := e.batchQueue.Remove(func(q *model.DistributionBatch) bool { return q.ID == id }); !queued {
		return nil, fmt.Errorf("%w: %s is %s", ErrBatchNotQueued, id, b.Status)
	}

	now := e.now()
	b.Status = model.BatchCancelled
	b.CompletedAt = &now
	// the live tasks go back to the queue; the cancelled batch keeps their state as of now
	snapshot := make([]*model.DistributionTask, 0, len(b.Tasks))
	for _, t := range b.Tasks {
		t.Status = model.TaskPending
		t.QueuedAt = nil
		e.taskQueue.Enqueue(t)
		snapshot = append(snapshot, t.Clone())
	}
	b.Tasks = snapshot
	e.completedBatches[id] = b
	return b, nil
}

// CreateVestingSchedule generates a schedule starting now and links it to its task when the task exists
func (e *Engine) CreateVestingSchedule(req VestingRequest) (*model.VestingSchedule, error) {
	e.mu.Lock()
	s, err := e.createVestingScheduleLocked(req)
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	out := s.Clone()
	var category types.Category
	if t, ok := e.tasks[req.TaskID]; ok {
		category = t.Category
	}
	e.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"schedule_id": out.ID,
		"task_id":     out.TaskID,
		"unlock_type": out.UnlockType,
		"unlocks":     len(out.Unlocks),
	}).Debug("Vesting schedule created")
	e.bus.Publish(events.Event{Type: events.VestingCreated, ScheduleID: out.ID, TaskID: out.TaskID, Category: category})
	return out, nil
}

func (e *Engine) createVestingScheduleLocked(req VestingRequest) (*model.VestingSchedule, error) {
	s, err := vesting.NewSchedule(uuid.NewString(), vesting.Params{
		TaskID:         req.TaskID,
		TotalAmountWei: req.TotalAmountWei,
		CliffMonths:    req.CliffMonths,
		DurationMonths: req.DurationMonths,
		TGEPercent:     req.TGEPercent,
		UnlockType:     req.UnlockType,
		StartAt:        e.now(),
	})
	if err != nil {
		return nil, err
	}
	e.schedules[s.ID] = s
	if t, ok := e.tasks[req.TaskID]; ok {
		t.VestingScheduleID = s.ID
		e.categoryLocked(t.Category).vestingSchedules++
	}
	return s, nil
}

func (e *Engine) categoryLocked(c types.Category) *categoryState {
	st, ok := e.categories[c]
	if !ok {
		st = &categoryState{totalWei: new(big.Int)}
		e.categories[c] = st
	}
	return st
}

func (e *Engine) progressLocked(c types.Category) model.CategoryProgress {
	p, ok := e.metrics.CategoryProgress[c]
	if !ok {
		p = model.CategoryProgress{DistributedWei: new(big.Int)}
	}
	return p
}

func percentage(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
