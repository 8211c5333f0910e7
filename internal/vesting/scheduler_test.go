package vesting

import (
	"math/big"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

var start = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func sum(unlocks []model.VestingUnlock) *big.Int {
	total := new(big.Int)
	for _, u := range unlocks {
		total.Add(total, u.AmountWei)
	}
	return total
}

func TestLinearSchedule(t *testing.T) {
	s, err := NewSchedule("v1", Params{
		TaskID:         "task-1",
		TotalAmountWei: big.NewInt(1200),
		CliffMonths:    2,
		DurationMonths: 14,
		UnlockType:     types.UnlockLinear,
		StartAt:        start,
	})
	require.NoError(t, err)

	require.Len(t, s.Unlocks, 12)
	for _, u := range s.Unlocks {
		assert.Equal(t, int64(100), u.AmountWei.Int64())
		assert.Equal(t, "v1", u.ScheduleID)
		assert.Equal(t, model.UnlockPending, u.Status)
		assert.InDelta(t, 100.0/12, u.Percentage, 1e-9)
	}
	assert.Equal(t, s.CliffEndAt.Add(Month), s.Unlocks[0].UnlockAt)
	assert.Equal(t, start.Add(2*Month), s.CliffEndAt)
	assert.Equal(t, start.Add(14*Month), s.VestingEndAt)
	assert.Equal(t, s.VestingEndAt, s.Unlocks[11].UnlockAt)
}

func TestTGEUnlockComesFirst(t *testing.T) {
	s, err := NewSchedule("v2", Params{
		TotalAmountWei: big.NewInt(1000),
		CliffMonths:    0,
		DurationMonths: 4,
		TGEPercent:     20,
		UnlockType:     types.UnlockLinear,
		StartAt:        start,
	})
	require.NoError(t, err)
	require.Len(t, s.Unlocks, 5)
	assert.Equal(t, start, s.Unlocks[0].UnlockAt)
	assert.Equal(t, int64(200), s.Unlocks[0].AmountWei.Int64())
	assert.Equal(t, 20.0, s.Unlocks[0].Percentage)
	for _, u := range s.Unlocks[1:] {
		assert.Equal(t, int64(200), u.AmountWei.Int64())
	}
}

func TestFractionalTGEUsesBasisPoints(t *testing.T) {
	assert.Equal(t, int64(1250), TGEAmount(big.NewInt(10000), 12.5).Int64())
	assert.Equal(t, int64(0), TGEAmount(big.NewInt(10000), 0).Int64())
}

func TestRemainderAssignedToFinalUnlock(t *testing.T) {
	s, err := NewSchedule("v3", Params{
		TotalAmountWei: big.NewInt(100),
		CliffMonths:    0,
		DurationMonths: 3,
		UnlockType:     types.UnlockLinear,
		StartAt:        start,
	})
	require.NoError(t, err)
	require.Len(t, s.Unlocks, 3)
	assert.Equal(t, int64(33), s.Unlocks[0].AmountWei.Int64())
	assert.Equal(t, int64(33), s.Unlocks[1].AmountWei.Int64())
	assert.Equal(t, int64(34), s.Unlocks[2].AmountWei.Int64(), "leftover unit goes to the last unlock")
	assert.Equal(t, int64(100), sum(s.Unlocks).Int64(), "no remainder is lost")
}

func TestStepScheduleIsQuarterly(t *testing.T) {
	s, err := NewSchedule("v4", Params{
		TotalAmountWei: big.NewInt(1000),
		CliffMonths:    6,
		DurationMonths: 16,
		UnlockType:     types.UnlockStep,
		StartAt:        start,
	})
	require.NoError(t, err)

	// 10 vesting months -> ceil(10/3) = 4 unlocks at months 3, 6, 9, 10
	require.Len(t, s.Unlocks, 4)
	months := []int{3, 6, 9, 10}
	for i, m := range months {
		assert.Equal(t, s.CliffEndAt.Add(time.Duration(m)*Month), s.Unlocks[i].UnlockAt)
	}
	assert.Equal(t, int64(250), s.Unlocks[0].AmountWei.Int64())
	assert.Equal(t, int64(1000), sum(s.Unlocks).Int64())
}

func TestCliffScheduleSingleUnlock(t *testing.T) {
	s, err := NewSchedule("v5", Params{
		TotalAmountWei: big.NewInt(900),
		CliffMonths:    12,
		DurationMonths: 24,
		TGEPercent:     10,
		UnlockType:     types.UnlockCliff,
		StartAt:        start,
	})
	require.NoError(t, err)
	require.Len(t, s.Unlocks, 2)
	assert.Equal(t, int64(90), s.Unlocks[0].AmountWei.Int64())
	assert.Equal(t, int64(810), s.Unlocks[1].AmountWei.Int64())
	assert.Equal(t, s.VestingEndAt, s.Unlocks[1].UnlockAt)
}

func TestFullTGEHasNoLaterUnlocks(t *testing.T) {
	s, err := NewSchedule("v6", Params{
		TotalAmountWei: big.NewInt(50),
		DurationMonths: 12,
		TGEPercent:     100,
		UnlockType:     types.UnlockLinear,
		StartAt:        start,
	})
	require.NoError(t, err)
	require.Len(t, s.Unlocks, 1)
	assert.Equal(t, int64(50), s.Unlocks[0].AmountWei.Int64())
}

func TestZeroVestingMonthsReleasesAtCliffEnd(t *testing.T) {
	s, err := NewSchedule("v7", Params{
		TotalAmountWei: big.NewInt(10),
		CliffMonths:    6,
		DurationMonths: 6,
		UnlockType:     types.UnlockLinear,
		StartAt:        start,
	})
	require.NoError(t, err)
	require.Len(t, s.Unlocks, 1)
	assert.Equal(t, s.CliffEndAt, s.Unlocks[0].UnlockAt)
}

func TestScheduleBalancesStartPending(t *testing.T) {
	s, err := NewSchedule("v8", Params{
		TotalAmountWei: big.NewInt(777),
		DurationMonths: 7,
		UnlockType:     types.UnlockLinear,
		StartAt:        start,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.ReleasedWei.Int64())
	assert.Equal(t, int64(777), s.PendingWei.Int64())
	assert.Equal(t, model.VestingActive, s.Status)
	assert.Equal(t, 0, new(big.Int).Add(s.ReleasedWei, s.PendingWei).Cmp(s.TotalAmountWei))
}

func TestUnlockedBy(t *testing.T) {
	s, err := NewSchedule("v9", Params{
		TotalAmountWei: big.NewInt(1200),
		CliffMonths:    2,
		DurationMonths: 14,
		UnlockType:     types.UnlockLinear,
		StartAt:        start,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(0), UnlockedBy(s, start.Add(2*Month)).Int64())
	assert.Equal(t, int64(300), UnlockedBy(s, start.Add(5*Month)).Int64())
	assert.Equal(t, int64(1200), UnlockedBy(s, s.VestingEndAt).Int64())
}

func TestInvalidParams(t *testing.T) {
	cases := []Params{
		{TotalAmountWei: big.NewInt(0), DurationMonths: 1, UnlockType: types.UnlockLinear},
		{TotalAmountWei: big.NewInt(1), CliffMonths: 5, DurationMonths: 1, UnlockType: types.UnlockLinear},
		{TotalAmountWei: big.NewInt(1), DurationMonths: 1, TGEPercent: 120, UnlockType: types.UnlockLinear},
		{TotalAmountWei: big.NewInt(1), DurationMonths: 1, UnlockType: "weekly"},
	}
	for _, p := range cases {
		_, err := NewSchedule("bad", p)
		assert.ErrorIs(t, err, ErrInvalidSchedule)
	}
}

func TestConservationProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("unlocks always sum to the total amount", prop.ForAll(
		func(total int64, cliff, extra, tgeBps int, kind int) bool {
			unlockType := []types.UnlockType{types.UnlockLinear, types.UnlockStep, types.UnlockCliff}[kind]
			s, err := NewSchedule("p", Params{
				TotalAmountWei: big.NewInt(total),
				CliffMonths:    cliff,
				DurationMonths: cliff + extra,
				TGEPercent:     float64(tgeBps) / 100,
				UnlockType:     unlockType,
				StartAt:        start,
			})
			if err != nil {
				return false
			}
			return sum(s.Unlocks).Cmp(s.TotalAmountWei) == 0
		},
		gen.Int64Range(1, 1_000_000_000),
		gen.IntRange(0, 24),
		gen.IntRange(0, 48),
		gen.IntRange(0, 10000),
		gen.IntRange(0, 2),
	))

	properties.TestingRun(t)
}
