package tournament

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xtrntr/apextraders/internal/ledger"
	"github.com/xtrntr/apextraders/internal/models"
	"github.com/xtrntr/apextraders/internal/store"
)

// Synchronizer recomputes a participant's standing from their closed trades
type Synchronizer struct {
	logger *slog.Logger
}

// NewSynchronizer creates a synchronizer
func NewSynchronizer(logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{logger: logger}
}

// Sync aggregates the CLOSED trades of (userID, tournamentID) and writes the
// sum and its tier to every matching participant row. It returns nil when
// there is nothing closed yet or the user is not enrolled. q may be a
// transaction.
func (s *Synchronizer) Sync(ctx context.Context, q store.Queries, userID, tournamentID string) (*models.Standing, error) {
	if userID == "" || tournamentID == "" {
		return nil, fmt.Errorf("%w: userId and tournamentId are required", models.ErrValidation)
	}

	agg, err := q.AggregateClosedTrades(ctx, userID, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("sync %s/%s: %w", userID, tournamentID, err)
	}
	if agg.Count == 0 {
		return nil, nil
	}

	tier := models.TierFor(agg.SumPnL)
	rows, err := q.UpdateParticipantStanding(ctx, userID, tournamentID, agg.SumPnL, tier)
	if err != nil {
		return nil, fmt.Errorf("sync %s/%s: %w", userID, tournamentID, err)
	}
	if rows == 0 {
		s.logger.Warn("sync skipped, not a participant", "user_id", userID, "tournament_id", tournamentID)
		return nil, nil
	}

	s.logger.Info("sync success",
		"user_id", userID,
		"tournament_id", tournamentID,
		"pnl", agg.SumPnL.StringFixed(ledger.DisplayPlaces),
		"tier", tier,
		"rows", rows,
	)
	return &models.Standing{
		UserID:       userID,
		TournamentID: tournamentID,
		PnL:          agg.SumPnL,
		TotalPnL:     ledger.DisplayPnL(agg.SumPnL),
		TradeCount:   agg.Count,
		RankTier:     tier,
	}, nil
}
