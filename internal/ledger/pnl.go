package ledger

import (
	"github.com/shopspring/decimal"
	"github.com/xtrntr/apextraders/internal/models"
)

const (
	// StoragePlaces is the precision a settled trade's PnL is kept at
	StoragePlaces = 4
	// DisplayPlaces is the precision of aggregates shown to users
	DisplayPlaces = 2
)

var hundred = decimal.NewFromInt(100)

// CalculatePnL returns the signed percentage return of a non-leveraged trade,
// rounded to StoragePlaces. A zero entry price yields zero.
func CalculatePnL(entry, exit decimal.Decimal, side models.Side) decimal.Decimal {
	if entry.IsZero() {
		return decimal.Zero
	}

	diff := exit.Sub(entry)
	if side == models.SideSell {
		diff = entry.Sub(exit)
	}
	return diff.Div(entry).Mul(hundred).Round(StoragePlaces)
}

// DisplayPnL rounds an aggregate for presentation
func DisplayPnL(pnl decimal.Decimal) float64 {
	return pnl.Round(DisplayPlaces).InexactFloat64()
}
