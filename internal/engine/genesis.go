package engine

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/tburn-genesis-engine/internal/approval"
	"github.com/yourorg/tburn-genesis-engine/internal/events"
	"github.com/yourorg/tburn-genesis-engine/internal/genesis"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
	"github.com/yourorg/tburn-genesis-engine/internal/validation"
	"github.com/yourorg/tburn-genesis-engine/internal/vesting"
)

// GenesisSummary counts what InitializeGenesisDistribution created
type GenesisSummary struct {
	Tasks            int `json:"tasks"`
	Batches          int `json:"batches"`
	VestingSchedules int `json:"vestingSchedules"`
	ApprovalRequests int `json:"approvalRequests"`
}

// InitializeGenesisDistribution seeds the engine from an allocation table, once per engine.
// Every subcategory becomes a task; tasks with less than 100% TGE get a vesting schedule;
// each category's tasks are batched per priority, and categories with an approval policy
// have their batches held behind a multi-signature request.
//
// The table is checked in full before anything is created. Seeding then happens under a
// single hold of the engine lock, so a running processor never sees a gated batch before
// its approval request exists, and a rejected table leaves the engine unseeded.
func (e *Engine) InitializeGenesisDistribution(table *genesis.Table) (GenesisSummary, error) {
	var summary GenesisSummary

	if err := validation.ValidateTable(table); err != nil {
		return summary, err
	}
	if err := checkGenesisRequests(table); err != nil {
		return summary, err
	}

	e.mu.Lock()
	if e.genesisDone {
		e.mu.Unlock()
		return summary, ErrAlreadyInitialized
	}
	// checkGenesisRequests rules out every error below; a partial seed still counts as done
	e.genesisDone = true
	seeded, err := e.seedGenesisLocked(table, &summary)
	e.mu.Unlock()
	if err != nil {
		return summary, err
	}

	for _, t := range seeded.tasks {
		e.announceTask(t)
	}
	for _, s := range seeded.schedules {
		e.bus.Publish(events.Event{Type: events.VestingCreated, ScheduleID: s.ID, TaskID: s.TaskID, Category: seeded.scheduleCategory[s.ID]})
	}
	for _, b := range seeded.batches {
		e.announceBatch(b)
	}
	for _, r := range seeded.approvals {
		e.bus.Publish(events.Event{Type: events.ApprovalCreated, RequestID: r.ID, BatchID: r.BatchID, Category: seeded.batchCategory[r.BatchID]})
	}

	logrus.WithFields(logrus.Fields{
		"tasks":     summary.Tasks,
		"batches":   summary.Batches,
		"schedules": summary.VestingSchedules,
		"approvals": summary.ApprovalRequests,
		"supply":    table.TotalSupply.String(),
	}).Info("Genesis distribution initialized")
	e.bus.Publish(events.Event{Type: events.GenesisInitialized, Count: summary.Tasks})
	return summary, nil
}

type genesisSeed struct {
	tasks            []*model.DistributionTask
	schedules        []*model.VestingSchedule
	batches          []*model.DistributionBatch
	approvals        []*model.ApprovalRequest
	scheduleCategory map[string]types.Category
	batchCategory    map[string]types.Category
}

func genesisTaskRequest(c genesis.CategoryAllocation, s genesis.Subcategory) TaskRequest {
	return TaskRequest{
		Category:         c.Category,
		Subcategory:      s.Key,
		RecipientAddress: s.RecipientAddress(c.Category),
		RecipientName:    s.Name,
		AmountTBURN:      s.Amount,
		Percentage:       s.SupplyPercentage(c),
		Priority:         s.EffectivePriority(c),
		Metadata: map[string]string{
			"source":      "genesis",
			"description": s.Description,
		},
	}
}

// checkGenesisRequests runs every per-task, per-schedule and per-policy check seeding would run
func checkGenesisRequests(table *genesis.Table) error {
	for _, c := range table.Categories {
		for _, s := range c.Subcategories {
			req := genesisTaskRequest(c, s)
			if err := validateTaskRequest(req); err != nil {
				return fmt.Errorf("seeding %s/%s: %w", c.Category, s.Key, err)
			}
			if !s.NeedsVesting() {
				continue
			}
			if err := (vesting.Params{
				TotalAmountWei: model.ToWei(s.Amount),
				CliffMonths:    s.CliffMonths,
				DurationMonths: s.DurationMonths,
				TGEPercent:     s.TGEPercent,
				UnlockType:     s.UnlockType,
			}).Validate(); err != nil {
				return fmt.Errorf("vesting %s/%s: %w", c.Category, s.Key, err)
			}
		}
		if c.Approval != nil {
			ttl := time.Duration(c.Approval.ExpirationHours) * time.Hour
			if err := approval.ValidatePolicy(c.Approval.RequiredSignatures, c.Approval.Signers, ttl); err != nil {
				return fmt.Errorf("approval for %s: %w", c.Category, err)
			}
		}
	}
	return nil
}

func (e *Engine) seedGenesisLocked(table *genesis.Table, summary *GenesisSummary) (*genesisSeed, error) {
	seed := &genesisSeed{
		scheduleCategory: make(map[string]types.Category),
		batchCategory:    make(map[string]types.Category),
	}
	for _, c := range table.Categories {
		e.categoryLocked(c.Category).percentage = c.Percentage

		byPriority := make(map[types.Priority][]*model.DistributionTask)
		var order []types.Priority
		for _, s := range c.Subcategories {
			task := e.createTaskLocked(genesisTaskRequest(c, s))
			summary.Tasks++

			if s.NeedsVesting() {
				schedule, err := e.createVestingScheduleLocked(VestingRequest{
					TaskID:         task.ID,
					TotalAmountWei: task.AmountWei,
					CliffMonths:    s.CliffMonths,
					DurationMonths: s.DurationMonths,
					TGEPercent:     s.TGEPercent,
					UnlockType:     s.UnlockType,
				})
				if err != nil {
					return nil, fmt.Errorf("vesting %s/%s: %w", c.Category, s.Key, err)
				}
				seed.schedules = append(seed.schedules, schedule.Clone())
				seed.scheduleCategory[schedule.ID] = c.Category
				summary.VestingSchedules++
			}
			seed.tasks = append(seed.tasks, task.Clone())

			if _, seen := byPriority[task.Priority]; !seen {
				order = append(order, task.Priority)
			}
			byPriority[task.Priority] = append(byPriority[task.Priority], task)
		}

		gated := c.Approval != nil
		for _, p := range order {
			name := fmt.Sprintf("Genesis %s %s", c.Category, p)
			batch, err := e.createBatchLocked(name, c.Category, byPriority[p], p, gated)
			if err != nil {
				return nil, fmt.Errorf("batching %s: %w", c.Category, err)
			}
			summary.Batches++

			if gated {
				req, err := e.attachApprovalLocked(batch, c.Approval.RequiredSignatures, c.Approval.Signers, c.Approval.ExpirationHours)
				if err != nil {
					return nil, fmt.Errorf("approval for %s: %w", name, err)
				}
				seed.approvals = append(seed.approvals, req)
				summary.ApprovalRequests++
			}
			seed.batches = append(seed.batches, batch.Clone())
			seed.batchCategory[batch.ID] = c.Category
		}
	}
	return seed, nil
}
