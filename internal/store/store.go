// Package store declares the persistence boundary. The engine only talks to
// these interfaces; internal/db (PostgreSQL) and internal/sqlite implement them.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/apextraders/internal/models"
)

// Queries is the set of operations available both on the store itself and
// inside a transaction.
type Queries interface {
	CreateUser(ctx context.Context, user *models.User) (*models.User, error)
	UpdateUser(ctx context.Context, id string, username, bio *string) (*models.User, error)

	CreateTournament(ctx context.Context, t *models.Tournament) (*models.Tournament, error)
	GetTournament(ctx context.Context, id string) (*models.Tournament, error)
	ListTournaments(ctx context.Context, status models.TournamentStatus) ([]models.Tournament, error)

	CreateTrade(ctx context.Context, trade *models.Trade) (*models.Trade, error)
	// GetTradeForUpdate loads a trade and locks it until the surrounding
	// transaction ends.
	GetTradeForUpdate(ctx context.Context, id string) (*models.Trade, error)
	// CloseTrade moves an OPEN trade to CLOSED. It returns models.ErrNotFound
	// when no OPEN trade with that id exists.
	CloseTrade(ctx context.Context, id string, exitPrice, pnl decimal.Decimal, closedAt time.Time) (*models.Trade, error)
	GetClosedTrades(ctx context.Context, userID string, limit int) ([]models.Trade, error)
	AggregateClosedTrades(ctx context.Context, userID, tournamentID string) (models.TradeAggregate, error)

	CreateParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error)
	// UpdateParticipantStanding writes to every row matching (user, tournament)
	// and returns the number of rows touched.
	UpdateParticipantStanding(ctx context.Context, userID, tournamentID string, pnl decimal.Decimal, tier models.Tier) (int64, error)
	GetParticipant(ctx context.Context, userID, tournamentID string) (*models.Participant, error)
	// TopParticipants orders by PnL descending, then join time and id.
	// An empty tournamentID ranks across all tournaments.
	TopParticipants(ctx context.Context, tournamentID string, limit int) ([]models.Standing, error)
	UserRankings(ctx context.Context) ([]models.UserRanking, error)
}

// Store is a Queries that can also open a transaction. fn's writes commit
// together when it returns nil and roll back otherwise.
type Store interface {
	Queries
	WithTx(ctx context.Context, fn func(q Queries) error) error
}
