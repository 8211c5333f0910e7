// Package model defines the core data structures for the genesis distribution engine.
package model

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

// TaskStatus is the lifecycle state of a DistributionTask
type TaskStatus string

// Task lifecycle: PENDING -> QUEUED -> PROCESSING -> COMPLETED | FAILED.
// RETRYING is reserved; no loop in the engine drives it.
const (
	TaskPending    TaskStatus = "PENDING"
	TaskQueued     TaskStatus = "QUEUED"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
	TaskRetrying   TaskStatus = "RETRYING"
)

// BatchStatus is the lifecycle state of a DistributionBatch
type BatchStatus string

// Batch lifecycle: PENDING -> PROCESSING -> COMPLETED | FAILED, or PENDING -> CANCELLED
const (
	BatchPending    BatchStatus = "PENDING"
	BatchProcessing BatchStatus = "PROCESSING"
	BatchCompleted  BatchStatus = "COMPLETED"
	BatchFailed     BatchStatus = "FAILED"
	BatchCancelled  BatchStatus = "CANCELLED"
)

// DistributionTask is one planned transfer to a single recipient.
type DistributionTask struct {
	ID                string            `json:"id"`
	Category          types.Category    `json:"category"`
	Subcategory       string            `json:"subcategory,omitempty"`
	RecipientAddress  string            `json:"recipientAddress"`
	RecipientName     string            `json:"recipientName"`
	AmountWei         *big.Int          `json:"amountWei"`
	AmountTBURN       decimal.Decimal   `json:"amountTBURN"`
	Percentage        float64           `json:"percentage"`
	Priority          types.Priority    `json:"priority"`
	Status            TaskStatus        `json:"status"`
	VestingScheduleID string            `json:"vestingScheduleId,omitempty"`
	CreatedAt         time.Time         `json:"createdAt"`
	QueuedAt          *time.Time        `json:"queuedAt,omitempty"`
	StartedAt         *time.Time        `json:"startedAt,omitempty"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
	RetryCount        int               `json:"retryCount"`
	MaxRetries        int               `json:"maxRetries"`
	TxHash            string            `json:"txHash,omitempty"`
	BlockNumber       uint64            `json:"blockNumber,omitempty"`
	Error             string            `json:"error,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// QueuePriority implements queue.Item
func (t *DistributionTask) QueuePriority() int { return int(t.Priority) }

// QueueCreatedAt implements queue.Item
func (t *DistributionTask) QueueCreatedAt() time.Time { return t.CreatedAt }

// Clone returns a deep copy that shares no mutable state with the original
func (t *DistributionTask) Clone() *DistributionTask {
	if t == nil {
		return nil
	}
	c := *t
	c.AmountWei = cloneInt(t.AmountWei)
	c.QueuedAt = cloneTime(t.QueuedAt)
	c.StartedAt = cloneTime(t.StartedAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	if t.Metadata != nil {
		c.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// DistributionBatch is a named, ordered group of tasks sharing one category and priority.
type DistributionBatch struct {
	ID                string              `json:"id"`
	Name              string              `json:"name"`
	Category          types.Category      `json:"category"`
	Tasks             []*DistributionTask `json:"tasks"`
	TotalAmountWei    *big.Int            `json:"totalAmountWei"`
	TotalAmountTBURN  decimal.Decimal     `json:"totalAmountTBURN"`
	Status            BatchStatus         `json:"status"`
	Priority          types.Priority      `json:"priority"`
	CreatedAt         time.Time           `json:"createdAt"`
	StartedAt         *time.Time          `json:"startedAt,omitempty"`
	CompletedAt       *time.Time          `json:"completedAt,omitempty"`
	CompletedTasks    int                 `json:"completedTasks"`
	FailedTasks       int                 `json:"failedTasks"`
	ProcessingTasks   int                 `json:"processingTasks"`
	EstimatedTPS      float64             `json:"estimatedTps"`
	ActualTPS         float64             `json:"actualTps"`
	ApprovalRequestID string              `json:"approvalRequestId,omitempty"`
}

// QueuePriority implements queue.Item
func (b *DistributionBatch) QueuePriority() int { return int(b.Priority) }

// QueueCreatedAt implements queue.Item
func (b *DistributionBatch) QueueCreatedAt() time.Time { return b.CreatedAt }

// Clone returns a deep copy of the batch including its tasks
func (b *DistributionBatch) Clone() *DistributionBatch {
	if b == nil {
		return nil
	}
	c := *b
	c.TotalAmountWei = cloneInt(b.TotalAmountWei)
	c.StartedAt = cloneTime(b.StartedAt)
	c.CompletedAt = cloneTime(b.CompletedAt)
	c.Tasks = make([]*DistributionTask, len(b.Tasks))
	for i, t := range b.Tasks {
		c.Tasks[i] = t.Clone()
	}
	return &c
}

// VestingStatus is the state of a vesting schedule
type VestingStatus string

// Vesting schedule states
const (
	VestingActive    VestingStatus = "active"
	VestingCompleted VestingStatus = "completed"
	VestingPaused    VestingStatus = "paused"
)

// UnlockStatus is the state of one scheduled release
type UnlockStatus string

// Unlock states
const (
	UnlockPending  UnlockStatus = "pending"
	UnlockReleased UnlockStatus = "released"
	UnlockFailed   UnlockStatus = "failed"
)

// VestingUnlock is one scheduled release event
type VestingUnlock struct {
	ID         string       `json:"id"`
	ScheduleID string       `json:"scheduleId"`
	UnlockAt   time.Time    `json:"unlockAt"`
	AmountWei  *big.Int     `json:"amountWei"`
	Percentage float64      `json:"percentage"`
	Status     UnlockStatus `json:"status"`
	TxHash     string       `json:"txHash,omitempty"`
}

// VestingSchedule governs the deferred release of one task's amount.
// ReleasedWei + PendingWei always equals TotalAmountWei.
type VestingSchedule struct {
	ID             string           `json:"id"`
	TaskID         string           `json:"taskId"`
	TotalAmountWei *big.Int         `json:"totalAmountWei"`
	ReleasedWei    *big.Int         `json:"releasedWei"`
	PendingWei     *big.Int         `json:"pendingWei"`
	CliffMonths    int              `json:"cliffMonths"`
	DurationMonths int              `json:"durationMonths"`
	TGEPercent     float64          `json:"tgePercent"`
	UnlockType     types.UnlockType `json:"unlockType"`
	StartAt        time.Time        `json:"startAt"`
	CliffEndAt     time.Time        `json:"cliffEndAt"`
	VestingEndAt   time.Time        `json:"vestingEndAt"`
	Unlocks        []VestingUnlock  `json:"unlockSchedule"`
	Status         VestingStatus    `json:"status"`

	// UnlockedWei is the sum of unlocks due by the time the schedule was read. It is filled
	// in by queries and is independent of ReleasedWei, which only the release process moves.
	UnlockedWei *big.Int `json:"unlockedWei,omitempty"`
}

// Clone returns a deep copy of the schedule
func (v *VestingSchedule) Clone() *VestingSchedule {
	if v == nil {
		return nil
	}
	c := *v
	c.TotalAmountWei = cloneInt(v.TotalAmountWei)
	c.ReleasedWei = cloneInt(v.ReleasedWei)
	c.PendingWei = cloneInt(v.PendingWei)
	c.UnlockedWei = cloneInt(v.UnlockedWei)
	c.Unlocks = make([]VestingUnlock, len(v.Unlocks))
	for i, u := range v.Unlocks {
		u.AmountWei = cloneInt(u.AmountWei)
		c.Unlocks[i] = u
	}
	return &c
}

// ApprovalStatus is the state of an approval request
type ApprovalStatus string

// Approval states
const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// ApprovalSigner is a named signer and, once acted, their decision
type ApprovalSigner struct {
	Address   string     `json:"address"`
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	SignedAt  *time.Time `json:"signedAt,omitempty"`
	Signature string     `json:"signature,omitempty"`
	Approved  *bool      `json:"approved,omitempty"`
	Comments  string     `json:"comments,omitempty"`
}

// HasActed reports whether the signer already submitted a decision
func (s ApprovalSigner) HasActed() bool { return s.SignedAt != nil }

// ApprovalRequest is a pending multi-signature authorization for one batch
type ApprovalRequest struct {
	ID                 string           `json:"id"`
	BatchID            string           `json:"batchId"`
	RequiredSignatures int              `json:"requiredSignatures"`
	CurrentSignatures  int              `json:"currentSignatures"`
	Signers            []ApprovalSigner `json:"signers"`
	Status             ApprovalStatus   `json:"status"`
	CreatedAt          time.Time        `json:"createdAt"`
	ExpiresAt          time.Time        `json:"expiresAt"`
	ApprovedAt         *time.Time       `json:"approvedAt,omitempty"`
	RejectedAt         *time.Time       `json:"rejectedAt,omitempty"`
	ExecutionHash      string           `json:"executionHash,omitempty"`
}

// Clone returns a deep copy of the request
func (r *ApprovalRequest) Clone() *ApprovalRequest {
	if r == nil {
		return nil
	}
	c := *r
	c.ApprovedAt = cloneTime(r.ApprovedAt)
	c.RejectedAt = cloneTime(r.RejectedAt)
	c.Signers = make([]ApprovalSigner, len(r.Signers))
	for i, s := range r.Signers {
		s.SignedAt = cloneTime(s.SignedAt)
		if s.Approved != nil {
			v := *s.Approved
			s.Approved = &v
		}
		c.Signers[i] = s
	}
	return &c
}

// CategoryProgress tracks distribution progress for one allocation category
type CategoryProgress struct {
	TotalTasks       int             `json:"totalTasks"`
	CompletedTasks   int             `json:"completedTasks"`
	Percentage       float64         `json:"percentage"`
	DistributedWei   *big.Int        `json:"distributedWei"`
	DistributedTBURN decimal.Decimal `json:"distributedTBURN"`
}

// DistributionMetrics is the process-wide aggregate state of the engine.
// Completed + Failed + Pending + Processing always equals TotalTasks.
type DistributionMetrics struct {
	TotalTasks          int                                 `json:"totalTasks"`
	CompletedTasks      int                                 `json:"completedTasks"`
	FailedTasks         int                                 `json:"failedTasks"`
	PendingTasks        int                                 `json:"pendingTasks"`
	ProcessingTasks     int                                 `json:"processingTasks"`
	TotalDistributedWei *big.Int                            `json:"totalDistributedWei"`
	TotalDistributed    decimal.Decimal                     `json:"totalDistributedTBURN"`
	AverageLatencyMs    float64                             `json:"averageLatencyMs"`
	PeakTPS             float64                             `json:"peakTps"`
	CurrentTPS          float64                             `json:"currentTps"`
	SuccessRate         float64                             `json:"successRate"`
	CategoryProgress    map[types.Category]CategoryProgress `json:"categoryProgress"`
	StartedAt           *time.Time                          `json:"startedAt,omitempty"`
	LastUpdatedAt       time.Time                           `json:"lastUpdatedAt"`
	EstimatedCompletion *time.Time                          `json:"estimatedCompletion,omitempty"`
}

// Clone returns a deep copy of the metrics
func (m DistributionMetrics) Clone() DistributionMetrics {
	c := m
	c.TotalDistributedWei = cloneInt(m.TotalDistributedWei)
	c.StartedAt = cloneTime(m.StartedAt)
	c.EstimatedCompletion = cloneTime(m.EstimatedCompletion)
	c.CategoryProgress = make(map[types.Category]CategoryProgress, len(m.CategoryProgress))
	for k, p := range m.CategoryProgress {
		p.DistributedWei = cloneInt(p.DistributedWei)
		c.CategoryProgress[k] = p
	}
	return c
}

// FailureRate returns failed / attempted as a percentage
func (m DistributionMetrics) FailureRate() float64 {
	attempted := m.CompletedTasks + m.FailedTasks
	if attempted == 0 {
		return 0
	}
	return float64(m.FailedTasks) / float64(attempted) * 100
}

// QueueStatus summarises the engine's queues
type QueueStatus struct {
	PendingTasks     int  `json:"pendingTasks"`
	QueuedBatches    int  `json:"queuedBatches"`
	ActiveBatches    int  `json:"activeBatches"`
	HeldBatches      int  `json:"heldBatches"`
	CompletedBatches int  `json:"completedBatches"`
	MaxConcurrent    int  `json:"maxConcurrent"`
	Running          bool `json:"running"`
}

// CategoryAllocation is the read model of one category's allocation and progress
type CategoryAllocation struct {
	Category         types.Category   `json:"category"`
	Percentage       float64          `json:"percentage"`
	TotalAmountWei   *big.Int         `json:"totalAmountWei"`
	TotalAmountTBURN decimal.Decimal  `json:"totalAmountTBURN"`
	Tasks            int              `json:"tasks"`
	VestingSchedules int              `json:"vestingSchedules"`
	Progress         CategoryProgress `json:"progress"`
}

func cloneInt(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
