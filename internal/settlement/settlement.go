// Package settlement coordinates opening and closing trades with the live
// price gate and the tournament leaderboard.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/apextraders/internal/ledger"
	"github.com/xtrntr/apextraders/internal/models"
	"github.com/xtrntr/apextraders/internal/store"
	"github.com/xtrntr/apextraders/internal/tournament"
)

// pnlTolerance is how far a client supplied PnL may drift from ours before
// it is reported
var pnlTolerance = decimal.RequireFromString("0.0001")

// PriceSource reports the current market price, if one has been seen
type PriceSource interface {
	Current() (decimal.Decimal, bool)
}

// Publisher receives standings after their settlement commits
type Publisher interface {
	PublishStanding(s models.Standing)
}

// SettleRequest closes one trade
type SettleRequest struct {
	TradeID       string
	ExitPrice     decimal.Decimal
	PnLPercentage *decimal.Decimal
	TournamentID  *string
}

// Settlement is the outcome of a close. Standing is nil when the trade had
// no tournament to sync.
type Settlement struct {
	Trade    *models.Trade
	Standing *models.Standing
}

// Coordinator runs the close and the leaderboard sync as one unit
type Coordinator struct {
	store     store.Store
	ledger    *ledger.Ledger
	sync      *tournament.Synchronizer
	prices    PriceSource
	publisher Publisher
	logger    *slog.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithPriceGate refuses opens and closes while prices has no price
func WithPriceGate(prices PriceSource) Option {
	return func(c *Coordinator) { c.prices = prices }
}

// WithPublisher sends committed standings to p
func WithPublisher(p Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// New creates a coordinator
func New(s store.Store, l *ledger.Ledger, sy *tournament.Synchronizer, opts ...Option) *Coordinator {
	c := &Coordinator{store: s, ledger: l, sync: sy, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) gate() error {
	if c.prices == nil {
		return nil
	}
	if _, ok := c.prices.Current(); !ok {
		return fmt.Errorf("%w: no live price yet", models.ErrPriceUnavailable)
	}
	return nil
}

// Open opens a position once a live price is available
func (c *Coordinator) Open(ctx context.Context, req ledger.OpenRequest) (*models.Trade, error) {
	if err := c.gate(); err != nil {
		return nil, err
	}
	return c.ledger.Open(ctx, c.store, req)
}

// Settle closes a trade and, when it belongs to a tournament, recomputes the
// owner's standing in the same transaction. If either step fails neither is
// persisted.
func (c *Coordinator) Settle(ctx context.Context, req SettleRequest) (*Settlement, error) {
	req.TradeID = strings.TrimSpace(req.TradeID)
	if req.TradeID == "" {
		return nil, fmt.Errorf("%w: tradeId is required", models.ErrValidation)
	}
	if err := c.gate(); err != nil {
		return nil, err
	}

	var out Settlement
	err := c.store.WithTx(ctx, func(q store.Queries) error {
		trade, err := c.ledger.Close(ctx, q, req.TradeID, req.ExitPrice)
		if err != nil {
			return err
		}
		out.Trade = trade
		c.checkClientPnL(trade, req.PnLPercentage)

		tournamentID := syncTarget(trade, req.TournamentID)
		if tournamentID == "" {
			return nil
		}
		standing, err := c.sync.Sync(ctx, q, trade.UserID, tournamentID)
		if err != nil {
			return fmt.Errorf("settle %s: %w", trade.ID, err)
		}
		out.Standing = standing
		return nil
	})
	if err != nil {
		return nil, err
	}

	if out.Standing != nil && c.publisher != nil {
		c.publisher.PublishStanding(*out.Standing)
	}
	return &out, nil
}

func (c *Coordinator) checkClientPnL(trade *models.Trade, claimed *decimal.Decimal) {
	if claimed == nil || trade.PnLPercentage == nil {
		return
	}
	if claimed.Sub(*trade.PnLPercentage).Abs().GreaterThan(pnlTolerance) {
		c.logger.Warn("client pnl ignored",
			"trade_id", trade.ID,
			"client_pnl", claimed.String(),
			"pnl", trade.PnLPercentage.String(),
		)
	}
}

// syncTarget prefers the tournament the trade was opened in over the one
// named by the close request
func syncTarget(trade *models.Trade, requested *string) string {
	if trade.TournamentID != nil && *trade.TournamentID != "" {
		return *trade.TournamentID
	}
	if requested != nil {
		return strings.TrimSpace(*requested)
	}
	return ""
}
