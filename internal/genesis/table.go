// Package genesis holds the static allocation table that seeds the distribution engine.
package genesis

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/yourorg/tburn-genesis-engine/internal/approval"
	"github.com/yourorg/tburn-genesis-engine/internal/security"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

// ErrEmptyTable is returned when a table has no categories or subcategories
var ErrEmptyTable = errors.New("genesis table is empty")

// Table is the full genesis allocation: a fixed supply split across categories
type Table struct {
	TotalSupply decimal.Decimal      `json:"totalSupply"`
	Categories  []CategoryAllocation `json:"categories"`
}

// CategoryAllocation is one allocation bucket and its subcategories.
// Percentage is of the total supply.
type CategoryAllocation struct {
	Category      types.Category  `json:"category"`
	Percentage    float64         `json:"percentage"`
	Priority      types.Priority  `json:"priority"`
	Approval      *ApprovalPolicy `json:"approval,omitempty"`
	Subcategories []Subcategory   `json:"subcategories"`
}

// ApprovalPolicy requires a multi-signature approval before the category's batch runs
type ApprovalPolicy struct {
	RequiredSignatures int                   `json:"requiredSignatures"`
	ExpirationHours    int                   `json:"expirationHours"`
	Signers            []approval.SignerSpec `json:"signers"`
}

// Subcategory is one named slice of a category.
// ParentPercentage is the share of the parent category, so a category's subcategories sum to 100.
type Subcategory struct {
	Key              string           `json:"key"`
	Name             string           `json:"name"`
	Description      string           `json:"description,omitempty"`
	Amount           decimal.Decimal  `json:"amount"`
	ParentPercentage float64          `json:"parentPercentage"`
	Recipient        string           `json:"recipient,omitempty"`
	TGEPercent       float64          `json:"tgePercent"`
	CliffMonths      int              `json:"cliffMonths"`
	DurationMonths   int              `json:"durationMonths"`
	UnlockType       types.UnlockType `json:"unlockType,omitempty"`
	Priority         *types.Priority  `json:"priority,omitempty"`
}

// Amount returns the category's share of the total supply
func (t *Table) Amount(c CategoryAllocation) decimal.Decimal {
	return t.TotalSupply.Mul(decimal.NewFromFloat(c.Percentage)).Div(decimal.NewFromInt(100))
}

// Category finds a category allocation by name
func (t *Table) Category(c types.Category) (CategoryAllocation, bool) {
	for _, a := range t.Categories {
		if a.Category == c {
			return a, true
		}
	}
	return CategoryAllocation{}, false
}

// SupplyPercentage is the subcategory's share of the total supply
func (s Subcategory) SupplyPercentage(parent CategoryAllocation) float64 {
	return parent.Percentage * s.ParentPercentage / 100
}

// RecipientAddress returns the configured recipient or a deterministic address derived from the category and key
func (s Subcategory) RecipientAddress(c types.Category) string {
	if s.Recipient != "" {
		return s.Recipient
	}
	return security.DeriveAddress(fmt.Sprintf("tburn-genesis:%s:%s", c, s.Key))
}

// EffectivePriority is the subcategory override or the category default
func (s Subcategory) EffectivePriority(parent CategoryAllocation) types.Priority {
	if s.Priority != nil {
		return *s.Priority
	}
	return parent.Priority
}

// NeedsVesting reports whether part of the amount is released after TGE
func (s Subcategory) NeedsVesting() bool {
	return s.TGEPercent < 100
}

// TaskCount returns the number of subcategories across all categories
func (t *Table) TaskCount() int {
	n := 0
	for _, c := range t.Categories {
		n += len(c.Subcategories)
	}
	return n
}

// LoadFile reads a JSON table from path
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read genesis table: %w", err)
	}
	var t Table
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse genesis table %s: %w", path, err)
	}
	if t.TaskCount() == 0 {
		return nil, ErrEmptyTable
	}
	for i := range t.Categories {
		for j := range t.Categories[i].Subcategories {
			if t.Categories[i].Subcategories[j].UnlockType == "" {
				t.Categories[i].Subcategories[j].UnlockType = types.UnlockLinear
			}
		}
	}
	logrus.WithFields(logrus.Fields{
		"path":        path,
		"categories":  len(t.Categories),
		"allocations": t.TaskCount(),
	}).Info("Loaded genesis table")
	return &t, nil
}

// Load returns the table at path, or the built-in table when path is empty
func Load(path string) (*Table, error) {
	if path == "" {
		return DefaultTable(), nil
	}
	return LoadFile(path)
}
