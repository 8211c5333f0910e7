package genesis

import (
	"github.com/shopspring/decimal"
	"github.com/yourorg/tburn-genesis-engine/internal/approval"
	"github.com/yourorg/tburn-genesis-engine/internal/security"
	"github.com/yourorg/tburn-genesis-engine/internal/types"
)

// TotalSupply is the TBURN genesis supply in whole tokens
var TotalSupply = decimal.NewFromInt(10_000_000_000)

func tburn(millions int64) decimal.Decimal {
	return decimal.NewFromInt(millions * 1_000_000)
}

func priority(p types.Priority) *types.Priority { return &p }

func signers(prefix string, n int) []approval.SignerSpec {
	roles := []string{"chair", "treasurer", "auditor", "counsel", "operator"}
	out := make([]approval.SignerSpec, 0, n)
	for i := 0; i < n; i++ {
		label := prefix + "-" + roles[i%len(roles)]
		out = append(out, approval.SignerSpec{
			Address: security.DeriveAddress("tburn-signer:" + label),
			Name:    label,
			Role:    roles[i%len(roles)],
		})
	}
	return out
}

// DefaultTable returns the built-in 10B TBURN allocation
func DefaultTable() *Table {
	return &Table{
		TotalSupply: TotalSupply,
		Categories: []CategoryAllocation{
			{
				Category:   types.CategoryCommunity,
				Percentage: 30,
				Priority:   types.PriorityHigh,
				Subcategories: []Subcategory{
					{Key: "airdrop", Name: "Genesis Airdrop", Description: "Early adopter and testnet participant airdrop",
						Amount: tburn(1200), ParentPercentage: 40, TGEPercent: 100, UnlockType: types.UnlockLinear, Priority: priority(types.PriorityCritical)},
					{Key: "community_rewards", Name: "Community Rewards", Description: "Ambassador, bounty and contribution rewards",
						Amount: tburn(1050), ParentPercentage: 35, TGEPercent: 10, DurationMonths: 24, UnlockType: types.UnlockLinear},
					{Key: "events_marketing", Name: "Events and Marketing", Description: "Campaigns, hackathons and community events",
						Amount: tburn(750), ParentPercentage: 25, TGEPercent: 20, DurationMonths: 12, UnlockType: types.UnlockLinear},
				},
			},
			{
				Category:   types.CategoryRewards,
				Percentage: 22,
				Priority:   types.PriorityNormal,
				Subcategories: []Subcategory{
					{Key: "staking", Name: "Staking Rewards", Description: "Delegator staking emissions",
						Amount: tburn(1320), ParentPercentage: 60, TGEPercent: 5, DurationMonths: 48, UnlockType: types.UnlockLinear},
					{Key: "validator_incentives", Name: "Validator Incentives", Description: "Block production and uptime incentives",
						Amount: tburn(880), ParentPercentage: 40, TGEPercent: 5, DurationMonths: 36, UnlockType: types.UnlockLinear},
				},
			},
			{
				Category:   types.CategoryInvestors,
				Percentage: 15,
				Priority:   types.PriorityHigh,
				Subcategories: []Subcategory{
					{Key: "seed", Name: "Seed Round", Description: "Seed investors",
						Amount: tburn(450), ParentPercentage: 30, CliffMonths: 12, DurationMonths: 36, UnlockType: types.UnlockLinear},
					{Key: "private", Name: "Private Round", Description: "Private sale investors",
						Amount: tburn(675), ParentPercentage: 45, TGEPercent: 5, CliffMonths: 6, DurationMonths: 24, UnlockType: types.UnlockLinear},
					{Key: "public", Name: "Public Sale", Description: "Public launch sale",
						Amount: tburn(375), ParentPercentage: 25, TGEPercent: 25, DurationMonths: 6, UnlockType: types.UnlockStep},
				},
			},
			{
				Category:   types.CategoryEcosystem,
				Percentage: 13,
				Priority:   types.PriorityNormal,
				Subcategories: []Subcategory{
					{Key: "grants", Name: "Ecosystem Grants", Description: "Developer and dApp grants",
						Amount: tburn(650), ParentPercentage: 50, TGEPercent: 10, DurationMonths: 36, UnlockType: types.UnlockStep},
					{Key: "partnerships", Name: "Strategic Partnerships", Description: "Exchange and infrastructure partners",
						Amount: tburn(390), ParentPercentage: 30, CliffMonths: 6, DurationMonths: 30, UnlockType: types.UnlockLinear},
					{Key: "liquidity", Name: "Liquidity Provision", Description: "DEX and market-maker liquidity",
						Amount: tburn(260), ParentPercentage: 20, TGEPercent: 100, UnlockType: types.UnlockLinear, Priority: priority(types.PriorityCritical)},
				},
			},
			{
				Category:   types.CategoryTeam,
				Percentage: 12,
				Priority:   types.PriorityLow,
				Subcategories: []Subcategory{
					{Key: "core_team", Name: "Core Team", Description: "Founders and core contributors",
						Amount: tburn(840), ParentPercentage: 70, CliffMonths: 12, DurationMonths: 48, UnlockType: types.UnlockLinear},
					{Key: "advisors", Name: "Advisors", Description: "Technical and strategic advisors",
						Amount: tburn(360), ParentPercentage: 30, CliffMonths: 12, DurationMonths: 24, UnlockType: types.UnlockCliff},
				},
			},
			{
				Category:   types.CategoryFoundation,
				Percentage: 8,
				Priority:   types.PriorityLow,
				Approval: &ApprovalPolicy{
					RequiredSignatures: 2,
					ExpirationHours:    72,
					Signers:            signers("foundation", 3),
				},
				Subcategories: []Subcategory{
					{Key: "treasury", Name: "Foundation Treasury", Description: "Operating treasury",
						Amount: tburn(480), ParentPercentage: 60, TGEPercent: 10, DurationMonths: 60, UnlockType: types.UnlockLinear},
					{Key: "reserve", Name: "Strategic Reserve", Description: "Long-term reserve",
						Amount: tburn(320), ParentPercentage: 40, CliffMonths: 12, DurationMonths: 36, UnlockType: types.UnlockCliff},
				},
			},
		},
	}
}
