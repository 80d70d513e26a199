// Package tournament enrolls users in tournaments and keeps their standings
// in step with their closed trades.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/apextraders/internal/models"
	"github.com/xtrntr/apextraders/internal/store"
)

// DefaultStartingBalance is the simulated capital every participant starts with
var DefaultStartingBalance = decimal.NewFromInt(10000)

// Registry enrolls users and lists tournaments
type Registry struct {
	store           store.Store
	startingBalance decimal.Decimal
	logger          *slog.Logger
	now             func() time.Time
	newID           func() string
}

// NewRegistry creates a registry. A non-positive startingBalance falls back
// to DefaultStartingBalance.
func NewRegistry(s store.Store, startingBalance decimal.Decimal, logger *slog.Logger) *Registry {
	if !startingBalance.IsPositive() {
		startingBalance = DefaultStartingBalance
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:           s,
		startingBalance: startingBalance,
		logger:          logger,
		now:             func() time.Time { return time.Now().UTC() },
		newID:           uuid.NewString,
	}
}

// Join enrolls a user. A second enrollment in the same tournament is rejected
// by the store's uniqueness constraint and surfaces as models.ErrConflict.
func (r *Registry) Join(ctx context.Context, userID, tournamentID string) (*models.Participant, error) {
	userID = strings.TrimSpace(userID)
	tournamentID = strings.TrimSpace(tournamentID)
	if userID == "" || tournamentID == "" {
		return nil, fmt.Errorf("%w: userId and tournamentId are required", models.ErrValidation)
	}

	t, err := r.store.GetTournament(ctx, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("join tournament %s: %w", tournamentID, err)
	}
	if t.Status == models.TournamentCompleted {
		return nil, fmt.Errorf("%w: arena is closed", models.ErrConflict)
	}

	p, err := r.store.CreateParticipant(ctx, &models.Participant{
		ID:              r.newID(),
		UserID:          userID,
		TournamentID:    tournamentID,
		StartingBalance: r.startingBalance,
		CurrentBalance:  r.startingBalance,
		PnLPercentage:   decimal.Zero,
		RankTier:        models.TierBronze,
		JoinedAt:        r.now(),
	})
	if errors.Is(err, models.ErrConflict) {
		return nil, fmt.Errorf("%w: already enrolled in this tournament", models.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("join tournament %s: %w", tournamentID, err)
	}

	r.logger.Info("participant joined", "user_id", userID, "tournament_id", tournamentID, "participant_id", p.ID)
	return p, nil
}

// List returns tournaments in the given status, ACTIVE when empty, soonest
// ending first.
func (r *Registry) List(ctx context.Context, status models.TournamentStatus) ([]models.Tournament, error) {
	if status == "" {
		status = models.TournamentActive
	}
	status = models.TournamentStatus(strings.ToUpper(string(status)))
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown tournament status %q", models.ErrValidation, status)
	}

	ts, err := r.store.ListTournaments(ctx, status)
	if err != nil {
		return nil, fmt.Errorf("list tournaments: %w", err)
	}
	return ts, nil
}
