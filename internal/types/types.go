// Package types contains shared type definitions used across multiple packages
package types

import (
	"fmt"
	"strconv"
	"strings"
)

// Category represents one of the genesis allocation buckets
type Category string

// Genesis allocation categories
const (
	CategoryCommunity  Category = "community"
	CategoryRewards    Category = "rewards"
	CategoryInvestors  Category = "investors"
	CategoryEcosystem  Category = "ecosystem"
	CategoryTeam       Category = "team"
	CategoryFoundation Category = "foundation"
)

// AllCategories lists every allocation category in table order
var AllCategories = []Category{
	CategoryCommunity,
	CategoryRewards,
	CategoryInvestors,
	CategoryEcosystem,
	CategoryTeam,
	CategoryFoundation,
}

// ParseCategory resolves a category name case-insensitively
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllCategories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// Priority orders distribution work. Lower values are more urgent.
type Priority int

// Priority levels
const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "CRITICAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityNormal:
		return "NORMAL"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// ParsePriority resolves a priority name such as "high" or "CRITICAL"
func ParsePriority(s string) (Priority, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL":
		return PriorityCritical, true
	case "HIGH":
		return PriorityHigh, true
	case "NORMAL":
		return PriorityNormal, true
	case "LOW":
		return PriorityLow, true
	}
	return PriorityNormal, false
}

// MarshalText renders the priority by name in JSON payloads
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText accepts a priority name or its numeric level
func (p *Priority) UnmarshalText(text []byte) error {
	if v, ok := ParsePriority(string(text)); ok {
		*p = v
		return nil
	}
	n, err := strconv.Atoi(string(text))
	if err != nil || n < int(PriorityCritical) || n > int(PriorityLow) {
		return fmt.Errorf("unknown priority %q", text)
	}
	*p = Priority(n)
	return nil
}

// UnlockType selects how a vesting schedule releases tokens after the cliff
type UnlockType string

// Unlock policies
const (
	UnlockLinear UnlockType = "linear"
	UnlockStep   UnlockType = "step"
	UnlockCliff  UnlockType = "cliff"
)

// TokenDecimals is the number of base-unit decimals per whole token
const TokenDecimals = 18
