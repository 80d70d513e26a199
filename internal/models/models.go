package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a trade
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// TradeStatus is the lifecycle state of a trade. OPEN moves to CLOSED once.
type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

// TournamentStatus is owned by whoever runs the tournament calendar
type TournamentStatus string

const (
	TournamentActive    TournamentStatus = "ACTIVE"
	TournamentUpcoming  TournamentStatus = "UPCOMING"
	TournamentCompleted TournamentStatus = "COMPLETED"
)

// Valid reports whether s is a known tournament status
func (s TournamentStatus) Valid() bool {
	switch s {
	case TournamentActive, TournamentUpcoming, TournamentCompleted:
		return true
	}
	return false
}

// User represents a registered trader
type User struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Bio       string    `json:"bio"`
	CreatedAt time.Time `json:"createdAt"`
}

// Trade is a simulated position. ExitPrice, PnLPercentage and ClosedAt are
// nil while OPEN and all set once CLOSED.
type Trade struct {
	ID            string           `json:"id"`
	UserID        string           `json:"userId"`
	Symbol        string           `json:"symbol"`
	Side          Side             `json:"side"`
	EntryPrice    decimal.Decimal  `json:"entryPrice"`
	ExitPrice     *decimal.Decimal `json:"exitPrice"`
	PnLPercentage *decimal.Decimal `json:"pnlPercentage"`
	Status        TradeStatus      `json:"status"`
	TournamentID  *string          `json:"tournamentId"`
	CreatedAt     time.Time        `json:"createdAt"`
	ClosedAt      *time.Time       `json:"closedAt"`
}

// Participant is a user's enrollment and standing in one tournament
type Participant struct {
	ID              string          `json:"id"`
	UserID          string          `json:"userId"`
	TournamentID    string          `json:"tournamentId"`
	StartingBalance decimal.Decimal `json:"startingBalance"`
	CurrentBalance  decimal.Decimal `json:"currentBalance"`
	PnLPercentage   decimal.Decimal `json:"pnlPercentage"`
	RankTier        Tier            `json:"rankTier"`
	JoinedAt        time.Time       `json:"joinedAt"`
}

// Tournament is a time-boxed competition
type Tournament struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Status           TournamentStatus `json:"status"`
	EndDate          time.Time        `json:"endDate"`
	ParticipantCount int              `json:"participantCount"`
}

// TradeAggregate is the sum and count of CLOSED trades for one (user, tournament)
type TradeAggregate struct {
	SumPnL decimal.Decimal
	Count  int
}

// Standing is one leaderboard row
type Standing struct {
	ParticipantID string          `json:"id"`
	UserID        string          `json:"userId"`
	Username      string          `json:"username"`
	TournamentID  string          `json:"tournamentId"`
	PnL           decimal.Decimal `json:"-"`
	TotalPnL      float64         `json:"totalPnL"`
	TradeCount    int             `json:"tradeCount"`
	RankTier      Tier            `json:"rankTier"`
	JoinedAt      time.Time       `json:"-"`
}

// UserRanking is a row of the global ranking across all closed trades
type UserRanking struct {
	UserID     string          `json:"id"`
	Username   string          `json:"username"`
	PnL        decimal.Decimal `json:"-"`
	TotalPnL   float64         `json:"totalPnL"`
	TradeCount int             `json:"tradeCount"`
}
