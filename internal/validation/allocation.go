// Package validation checks a genesis allocation table before it seeds the engine.
package validation

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/tburn-genesis-engine/internal/genesis"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

// ErrInvalidAllocation wraps every problem found in a table
var ErrInvalidAllocation = errors.New("invalid genesis allocation")

// Options holds configuration for table validation
type Options struct {
	// PercentTolerance is the allowed absolute drift when percentages are summed
	PercentTolerance float64

	// AmountTolerance is the allowed absolute drift, in whole tokens, between amounts and their percentage shares
	AmountTolerance decimal.Decimal

	// RequireAllCategories demands that every known category is present
	RequireAllCategories bool

	// MaxDurationMonths bounds vesting duration
	MaxDurationMonths int
}

// DefaultOptions returns the defaults used at startup
func DefaultOptions() Options {
	return Options{
		PercentTolerance:     0.0001,
		AmountTolerance:      decimal.NewFromInt(1),
		RequireAllCategories: true,
		MaxDurationMonths:    120,
	}
}

// ValidateTable checks t with DefaultOptions
func ValidateTable(t *genesis.Table) error {
	return ValidateTableWithOptions(t, DefaultOptions())
}

// ValidateTableWithOptions returns an error wrapping ErrInvalidAllocation that lists every problem found
func ValidateTableWithOptions(t *genesis.Table, opts Options) error {
	if t == nil || t.TaskCount() == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAllocation, genesis.ErrEmptyTable)
	}

	var problems []error
	report := func(fields logrus.Fields, format string, args ...interface{}) {
		err := fmt.Errorf(format, args...)
		logrus.WithFields(fields).Warn(err.Error())
		problems = append(problems, err)
	}

	if t.TotalSupply.Sign() <= 0 {
		report(logrus.Fields{"supply": t.TotalSupply.String()}, "total supply must be positive")
	}

	seen := make(map[types.Category]bool)
	var totalPct float64
	for _, c := range t.Categories {
		fields := logrus.Fields{"category": c.Category}
		if _, ok := types.ParseCategory(string(c.Category)); !ok {
			report(fields, "unknown category %q", c.Category)
		}
		if seen[c.Category] {
			report(fields, "category %s listed twice", c.Category)
		}
		seen[c.Category] = true
		totalPct += c.Percentage

		if c.Priority < types.PriorityCritical || c.Priority > types.PriorityLow {
			report(fields, "category %s has invalid priority %d", c.Category, c.Priority)
		}
		if c.Approval != nil {
			if c.Approval.RequiredSignatures < 1 || c.Approval.RequiredSignatures > len(c.Approval.Signers) {
				report(fields, "category %s requires %d of %d signers", c.Category, c.Approval.RequiredSignatures, len(c.Approval.Signers))
			}
			if c.Approval.ExpirationHours <= 0 {
				report(fields, "category %s approval expiration must be positive", c.Category)
			}
		}

		problems = append(problems, validateSubcategories(t, c, opts)...)
	}

	if math.Abs(totalPct-100) > opts.PercentTolerance {
		report(logrus.Fields{"percentage": totalPct}, "category percentages sum to %.4f, want 100", totalPct)
	}
	if opts.RequireAllCategories {
		for _, c := range types.AllCategories {
			if !seen[c] {
				report(logrus.Fields{"category": c}, "category %s missing", c)
			}
		}
	}

	if len(problems) > 0 {
		logrus.WithFields(logrus.Fields{"problems": len(problems)}).Error("Genesis table failed validation")
		return fmt.Errorf("%w: %w", ErrInvalidAllocation, errors.Join(problems...))
	}
	logrus.WithFields(logrus.Fields{
		"categories":  len(t.Categories),
		"allocations": t.TaskCount(),
	}).Debug("Genesis table validated")
	return nil
}

func validateSubcategories(t *genesis.Table, c genesis.CategoryAllocation, opts Options) []error {
	var problems []error
	report := func(fields logrus.Fields, format string, args ...interface{}) {
		err := fmt.Errorf(format, args...)
		logrus.WithFields(fields).Warn(err.Error())
		problems = append(problems, err)
	}

	if len(c.Subcategories) == 0 {
		report(logrus.Fields{"category": c.Category}, "category %s has no subcategories", c.Category)
		return problems
	}

	keys := make(map[string]bool)
	var parentPct float64
	sum := decimal.Zero
	for _, s := range c.Subcategories {
		fields := logrus.Fields{"category": c.Category, "subcategory": s.Key}
		if s.Key == "" || keys[s.Key] {
			report(fields, "subcategory key %q empty or duplicated in %s", s.Key, c.Category)
		}
		keys[s.Key] = true
		parentPct += s.ParentPercentage
		sum = sum.Add(s.Amount)

		if s.Amount.Sign() <= 0 {
			report(fields, "%s/%s amount must be positive", c.Category, s.Key)
		}
		if s.TGEPercent < 0 || s.TGEPercent > 100 {
			report(fields, "%s/%s tge percent %.2f out of range", c.Category, s.Key, s.TGEPercent)
		}
		if s.CliffMonths < 0 || s.DurationMonths < s.CliffMonths || s.DurationMonths > opts.MaxDurationMonths {
			report(fields, "%s/%s vesting %d/%d months out of range", c.Category, s.Key, s.CliffMonths, s.DurationMonths)
		}
		if s.NeedsVesting() {
			switch s.UnlockType {
			case types.UnlockLinear, types.UnlockStep, types.UnlockCliff:
			default:
				report(fields, "%s/%s unknown unlock type %q", c.Category, s.Key, s.UnlockType)
			}
		}
		if s.Priority != nil && (*s.Priority < types.PriorityCritical || *s.Priority > types.PriorityLow) {
			report(fields, "%s/%s invalid priority %d", c.Category, s.Key, *s.Priority)
		}
	}

	if math.Abs(parentPct-100) > opts.PercentTolerance {
		report(logrus.Fields{"category": c.Category, "percentage": parentPct},
			"%s subcategory percentages sum to %.4f, want 100", c.Category, parentPct)
	}
	if want := t.Amount(c); sum.Sub(want).Abs().GreaterThan(opts.AmountTolerance) {
		report(logrus.Fields{"category": c.Category, "amount": sum.String(), "expected": want.String()},
			"%s subcategory amounts sum to %s, want %s", c.Category, sum, want)
	}
	return problems
}
