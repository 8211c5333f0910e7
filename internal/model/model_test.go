package model

import (
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

func TestToWeiUsesFixedScale(t *testing.T) {
	wei := ToWei(decimal.NewFromInt(100))
	expected, ok := new(big.Int).SetString("100000000000000000000", 10)
	require.True(t, ok)
	assert.Equal(t, 0, wei.Cmp(expected))

	assert.True(t, FromWei(wei).Equal(decimal.NewFromInt(100)))
	assert.Equal(t, "1500000000000000000", ToWei(decimal.RequireFromString("1.5")).String())
}

func TestFromWeiNil(t *testing.T) {
	assert.True(t, FromWei(nil).IsZero())
}

func TestTaskCloneIsDeep(t *testing.T) {
	now := time.Now()
	task := &DistributionTask{
		ID:        "t1",
		AmountWei: big.NewInt(5),
		StartedAt: &now,
		Metadata:  map[string]string{"k": "v"},
	}
	c := task.Clone()
	c.AmountWei.SetInt64(9)
	c.Metadata["k"] = "changed"
	*c.StartedAt = now.Add(time.Hour)

	assert.Equal(t, int64(5), task.AmountWei.Int64())
	assert.Equal(t, "v", task.Metadata["k"])
	assert.Equal(t, now, *task.StartedAt)
}

func TestBatchCloneCopiesTasks(t *testing.T) {
	b := &DistributionBatch{
		ID:             "b1",
		Tasks:          []*DistributionTask{{ID: "t1", Status: TaskPending}},
		TotalAmountWei: big.NewInt(1),
	}
	c := b.Clone()
	c.Tasks[0].Status = TaskCompleted
	assert.Equal(t, TaskPending, b.Tasks[0].Status)
}

func TestMetricsFailureRate(t *testing.T) {
	m := DistributionMetrics{CompletedTasks: 3, FailedTasks: 1}
	assert.InDelta(t, 25.0, m.FailureRate(), 0.0001)
	assert.Zero(t, DistributionMetrics{}.FailureRate())
}

func TestMetricsCloneCopiesProgress(t *testing.T) {
	m := DistributionMetrics{
		CategoryProgress: map[types.Category]CategoryProgress{
			types.CategoryTeam: {TotalTasks: 2, DistributedWei: big.NewInt(10)},
		},
	}
	c := m.Clone()
	p := c.CategoryProgress[types.CategoryTeam]
	p.DistributedWei.SetInt64(99)
	assert.Equal(t, int64(10), m.CategoryProgress[types.CategoryTeam].DistributedWei.Int64())
}

func TestApprovalCloneCopiesSigners(t *testing.T) {
	yes := true
	r := &ApprovalRequest{Signers: []ApprovalSigner{{Address: "0x1", Approved: &yes}}}
	c := r.Clone()
	*c.Signers[0].Approved = false
	assert.True(t, *r.Signers[0].Approved)
}
