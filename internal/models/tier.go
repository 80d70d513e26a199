package models

import "github.com/shopspring/decimal"

// Tier is a coarse rank label derived from cumulative tournament PnL
type Tier string

const (
	TierBronze  Tier = "BRONZE"
	TierSilver  Tier = "SILVER"
	TierGold    Tier = "GOLD"
	TierDiamond Tier = "DIAMOND"
)

var (
	diamondFloor = decimal.NewFromInt(50)
	goldFloor    = decimal.NewFromInt(20)
	silverFloor  = decimal.NewFromInt(5)
)

// TierFor maps an aggregate PnL percentage to a tier. Lower bounds are
// inclusive and evaluated highest first. Both the sync write path and the
// leaderboard read path go through here.
func TierFor(pnl decimal.Decimal) Tier {
	switch {
	case pnl.GreaterThanOrEqual(diamondFloor):
		return TierDiamond
	case pnl.GreaterThanOrEqual(goldFloor):
		return TierGold
	case pnl.GreaterThanOrEqual(silverFloor):
		return TierSilver
	default:
		return TierBronze
	}
}
