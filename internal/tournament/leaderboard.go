package tournament

import (
	"context"
	"fmt"

	"github.com/xtrntr/apextraders/internal/ledger"
	"github.com/xtrntr/apextraders/internal/models"
	"github.com/xtrntr/apextraders/internal/store"
)

const (
	DefaultTopN = 10
	MaxTopN     = 100
)

// Leaderboard is the read side of tournament standings
type Leaderboard struct {
	store store.Queries
}

// NewLeaderboard creates a leaderboard reader
func NewLeaderboard(q store.Queries) *Leaderboard {
	return &Leaderboard{store: q}
}

// TopN returns the n best participants of a tournament, or of all
// tournaments when tournamentID is empty. The tier is derived from the PnL
// on read rather than taken from the stored row.
func (l *Leaderboard) TopN(ctx context.Context, tournamentID string, n int) ([]models.Standing, error) {
	if n <= 0 {
		n = DefaultTopN
	}
	if n > MaxTopN {
		n = MaxTopN
	}

	standings, err := l.store.TopParticipants(ctx, tournamentID, n)
	if err != nil {
		return nil, fmt.Errorf("leaderboard: %w", err)
	}
	for i := range standings {
		standings[i].RankTier = models.TierFor(standings[i].PnL)
		standings[i].TotalPnL = ledger.DisplayPnL(standings[i].PnL)
	}
	return standings, nil
}

// UserRankings ranks every user by the sum of all their closed trades
func (l *Leaderboard) UserRankings(ctx context.Context) ([]models.UserRanking, error) {
	rankings, err := l.store.UserRankings(ctx)
	if err != nil {
		return nil, fmt.Errorf("user rankings: %w", err)
	}
	for i := range rankings {
		rankings[i].TotalPnL = ledger.DisplayPnL(rankings[i].PnL)
	}
	return rankings, nil
}
