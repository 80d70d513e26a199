// Package ledger opens simulated positions and settles them against an exit
// price. It is the only writer of trade rows.
package ledger

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

// DefaultHistoryLimit caps the trade history endpoint
const DefaultHistoryLimit = 50

// OpenRequest describes a new position
type OpenRequest struct {
	UserID       string
	Symbol       string
	Side         models.Side
	EntryPrice   decimal.Decimal
	TournamentID *string
}

// Ledger creates OPEN trades and transitions them to CLOSED
type Ledger struct {
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

// New creates a ledger
func New(logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
}

// Open records a new OPEN trade. A zero entry price is accepted; it settles
// with zero PnL.
func (l *Ledger) Open(ctx context.Context, q store.Queries, req OpenRequest) (*models.Trade, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))

	if req.UserID == "" || req.Symbol == "" {
		return nil, fmt.Errorf("%w: userId and symbol are required", models.ErrValidation)
	}
	if !req.Side.Valid() {
		return nil, fmt.Errorf("%w: side must be BUY or SELL", models.ErrValidation)
	}
	if req.EntryPrice.IsNegative() {
		return nil, fmt.Errorf("%w: entryPrice must not be negative", models.ErrValidation)
	}
	if req.TournamentID != nil && *req.TournamentID == "" {
		req.TournamentID = nil
	}
	if req.TournamentID != nil {
		if err := checkEntry(ctx, q, req.UserID, *req.TournamentID); err != nil {
			return nil, err
		}
	}

	trade, err := q.CreateTrade(ctx, &models.Trade{
		ID:           l.newID(),
		UserID:       req.UserID,
		Symbol:       req.Symbol,
		Side:         req.Side,
		EntryPrice:   req.EntryPrice,
		Status:       models.TradeOpen,
		TournamentID: req.TournamentID,
		CreatedAt:    l.now(),
	})
	if err != nil {
		return nil, fmt.Errorf("open trade: %w", err)
	}

	l.logger.Info("trade opened",
		"trade_id", trade.ID,
		"user_id", trade.UserID,
		"symbol", trade.Symbol,
		"side", trade.Side,
		"entry_price", trade.EntryPrice.String(),
	)
	return trade, nil
}

// checkEntry refuses tournament trades in a closed tournament or by a user
// who has not joined it.
func checkEntry(ctx context.Context, q store.Queries, userID, tournamentID string) error {
	t, err := q.GetTournament(ctx, tournamentID)
	if err != nil {
		return fmt.Errorf("open trade: tournament %s: %w", tournamentID, err)
	}
	if t.Status == models.TournamentCompleted {
		return fmt.Errorf("%w: arena is closed", models.ErrConflict)
	}
	_, err = q.GetParticipant(ctx, userID, tournamentID)
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%w: join the tournament before trading in it", models.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("open trade: participant %s/%s: %w", userID, tournamentID, err)
	}
	return nil
}

// Close settles an OPEN trade at exitPrice. The trade row is locked first so
// concurrent settlements of the same trade serialize; the loser gets
// models.ErrNotFound.
func (l *Ledger) Close(ctx context.Context, q store.Queries, tradeID string, exitPrice decimal.Decimal) (*models.Trade, error) {
	if tradeID == "" {
		return nil, fmt.Errorf("%w: tradeId is required", models.ErrValidation)
	}
	if exitPrice.IsNegative() {
		return nil, fmt.Errorf("%w: exitPrice must not be negative", models.ErrValidation)
	}

	open, err := q.GetTradeForUpdate(ctx, tradeID)
	if err != nil {
		return nil, fmt.Errorf("close trade %s: %w", tradeID, err)
	}
	if open.Status != models.TradeOpen {
		return nil, fmt.Errorf("close trade %s: %w: trade is not open", tradeID, models.ErrNotFound)
	}

	pnl := CalculatePnL(open.EntryPrice, exitPrice, open.Side)
	closed, err := q.CloseTrade(ctx, tradeID, exitPrice, pnl, l.now())
	if err != nil {
		return nil, fmt.Errorf("close trade %s: %w", tradeID, err)
	}

	l.logger.Info("trade closed",
		"trade_id", closed.ID,
		"user_id", closed.UserID,
		"exit_price", exitPrice.String(),
		"pnl_pct", pnl.String(),
	)
	return closed, nil
}

// History returns the most recent CLOSED trades of a user, newest first
func (l *Ledger) History(ctx context.Context, q store.Queries, userID string, limit int) ([]models.Trade, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: userId is required", models.ErrValidation)
	}
	if limit <= 0 || limit > DefaultHistoryLimit {
		limit = DefaultHistoryLimit
	}

	trades, err := q.GetClosedTrades(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("trade history: %w", err)
	}
	return trades, nil
}
