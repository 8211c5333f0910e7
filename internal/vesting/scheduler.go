// Package vesting generates unlock schedules for allocations that are not fully released at TGE.
package vesting

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/yourorg/tburn-genesis-engine/internal/model"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

// Month is the fixed month approximation used for every schedule
const Month = 30 * 24 * time.Hour

// stepInterval is the number of months between step unlocks
const stepInterval = 3

// ErrInvalidSchedule is returned for parameters that cannot produce a schedule
var ErrInvalidSchedule = errors.New("invalid vesting schedule")

// Params describes a schedule to build
type Params struct {
	TaskID         string
	TotalAmountWei *big.Int
	CliffMonths    int
	DurationMonths int
	TGEPercent     float64
	UnlockType     types.UnlockType
	StartAt        time.Time
}

// Validate checks the parameters for internal consistency
func (p Params) Validate() error {
	if p.TotalAmountWei == nil || p.TotalAmountWei.Sign() <= 0 {
		return fmt.Errorf("%w: total amount must be positive", ErrInvalidSchedule)
	}
	if p.CliffMonths < 0 || p.DurationMonths < 0 {
		return fmt.Errorf("%w: negative month count", ErrInvalidSchedule)
	}
	if p.DurationMonths < p.CliffMonths {
		return fmt.Errorf("%w: duration %d shorter than cliff %d", ErrInvalidSchedule, p.DurationMonths, p.CliffMonths)
	}
	if p.TGEPercent < 0 || p.TGEPercent > 100 || math.IsNaN(p.TGEPercent) {
		return fmt.Errorf("%w: tge percent %.2f out of range", ErrInvalidSchedule, p.TGEPercent)
	}
	switch p.UnlockType {
	case types.UnlockLinear, types.UnlockStep, types.UnlockCliff:
	default:
		return fmt.Errorf("%w: unknown unlock type %q", ErrInvalidSchedule, p.UnlockType)
	}
	return nil
}

// NewSchedule builds an active schedule with its unlock events
func NewSchedule(id string, p Params) (*model.VestingSchedule, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	total := new(big.Int).Set(p.TotalAmountWei)
	s := &model.VestingSchedule{
		ID:             id,
		TaskID:         p.TaskID,
		TotalAmountWei: total,
		ReleasedWei:    new(big.Int),
		PendingWei:     new(big.Int).Set(total),
		CliffMonths:    p.CliffMonths,
		DurationMonths: p.DurationMonths,
		TGEPercent:     p.TGEPercent,
		UnlockType:     p.UnlockType,
		StartAt:        p.StartAt,
		CliffEndAt:     p.StartAt.Add(time.Duration(p.CliffMonths) * Month),
		VestingEndAt:   p.StartAt.Add(time.Duration(p.DurationMonths) * Month),
		Status:         model.VestingActive,
	}
	s.Unlocks = GenerateUnlocks(s)
	return s, nil
}

// TGEAmount returns total x tgePercent / 100 using basis points, so integer math never drifts
func TGEAmount(total *big.Int, tgePercent float64) *big.Int {
	if tgePercent <= 0 {
		return new(big.Int)
	}
	bps := big.NewInt(int64(math.Round(tgePercent * 100)))
	amount := new(big.Int).Mul(total, bps)
	return amount.Quo(amount, big.NewInt(10000))
}

// GenerateUnlocks produces the ordered unlock events for s.
// Integer division leftovers are assigned to the final unlock so the events always sum to the total.
func GenerateUnlocks(s *model.VestingSchedule) []model.VestingUnlock {
	var unlocks []model.VestingUnlock
	add := func(at time.Time, amount *big.Int, pct float64) {
		unlocks = append(unlocks, model.VestingUnlock{
			ID:         uuid.NewString(),
			ScheduleID: s.ID,
			UnlockAt:   at,
			AmountWei:  amount,
			Percentage: pct,
			Status:     model.UnlockPending,
		})
	}

	tge := TGEAmount(s.TotalAmountWei, s.TGEPercent)
	if tge.Sign() > 0 {
		add(s.StartAt, tge, s.TGEPercent)
	}

	remaining := new(big.Int).Sub(s.TotalAmountWei, tge)
	if remaining.Sign() <= 0 {
		return unlocks
	}
	remainingPct := 100 - s.TGEPercent
	vestingMonths := s.DurationMonths - s.CliffMonths

	if s.UnlockType == types.UnlockCliff || vestingMonths <= 0 {
		at := s.VestingEndAt
		if vestingMonths <= 0 {
			at = s.CliffEndAt
		}
		add(at, remaining, remainingPct)
		return unlocks
	}

	var months []int
	switch s.UnlockType {
	case types.UnlockLinear:
		for i := 1; i <= vestingMonths; i++ {
			months = append(months, i)
		}
	case types.UnlockStep:
		for i := stepInterval; i < vestingMonths+stepInterval; i += stepInterval {
			months = append(months, min(i, vestingMonths))
		}
	}

	count := big.NewInt(int64(len(months)))
	share, leftover := new(big.Int).QuoRem(remaining, count, new(big.Int))
	pct := remainingPct / float64(len(months))
	for i, m := range months {
		amount := new(big.Int).Set(share)
		if i == len(months)-1 {
			amount.Add(amount, leftover)
		}
		add(s.CliffEndAt.Add(time.Duration(m)*Month), amount, pct)
	}
	return unlocks
}

// UnlockedBy sums the unlocks scheduled at or before t
func UnlockedBy(s *model.VestingSchedule, t time.Time) *big.Int {
	total := new(big.Int)
	for _, u := range s.Unlocks {
		if !u.UnlockAt.After(t) {
			total.Add(total, u.AmountWei)
		}
	}
	return total
}
