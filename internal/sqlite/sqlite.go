// Package sqlite is a pure-Go implementation of store.Store backed by SQLite.
// It serves local development and the package tests, where a PostgreSQL
// server is not available. Decimals are stored as TEXT and summed in Go so
// aggregates keep exact precision.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/apextraders/internal/models"
	"github.com/xtrntr/apextraders/internal/store"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const schema = `
PRAGMA foreign_keys = ON;

CREATE TABLE IF NOT EXISTS users (
    id         TEXT PRIMARY KEY,
    username   TEXT NOT NULL UNIQUE,
    bio        TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tournaments (
    id       TEXT PRIMARY KEY,
    title    TEXT NOT NULL,
    status   TEXT NOT NULL CHECK (status IN ('ACTIVE', 'UPCOMING', 'COMPLETED')),
    end_date TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id             TEXT PRIMARY KEY,
    user_id        TEXT NOT NULL REFERENCES users (id),
    symbol         TEXT NOT NULL,
    side           TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
    entry_price    TEXT NOT NULL,
    exit_price     TEXT,
    pnl_percentage TEXT,
    status         TEXT NOT NULL DEFAULT 'OPEN' CHECK (status IN ('OPEN', 'CLOSED')),
    tournament_id  TEXT REFERENCES tournaments (id),
    created_at     TEXT NOT NULL,
    closed_at      TEXT
);

CREATE INDEX IF NOT EXISTS idx_trades_user_status ON trades (user_id, status, created_at DESC);

CREATE TABLE IF NOT EXISTS participants (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL REFERENCES users (id),
    tournament_id    TEXT NOT NULL REFERENCES tournaments (id),
    starting_balance TEXT NOT NULL,
    current_balance  TEXT NOT NULL,
    pnl_percentage   TEXT NOT NULL DEFAULT '0',
    rank_tier        TEXT NOT NULL DEFAULT 'BRONZE',
    joined_at        TEXT NOT NULL,
    UNIQUE (user_id, tournament_id)
);
`

// timestamps are stored as fixed-width UTC text so they sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// dbtx is satisfied by *sql.DB and *sql.Tx
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements store.Store on SQLite
type Store struct {
	queries
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens (or creates) the database at path and applies the schema.
// ":memory:" gives a private in-memory database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite.Open: open %q: %w", path, err)
	}
	// one connection: SQLite is single-writer, and ":memory:" is per connection
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite.Open: apply schema: %w", err)
	}

	return &Store{queries: queries{conn: db}, db: db}, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx runs fn inside a transaction and commits if fn returns nil
func (s *Store) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite.WithTx: begin: %w", err)
	}
	defer tx.Rollback()

	if err := fn(queries{conn: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite.WithTx: commit: %w", err)
	}
	return nil
}

type queries struct {
	conn dbtx
}

var (
	errDuplicate        = fmt.Errorf("%w: duplicate record", models.ErrConflict)
	errMissingReference = fmt.Errorf("%w: referenced user or tournament", models.ErrNotFound)
)

// translate maps driver errors onto the model sentinels. The driver text is
// dropped since it reaches API clients.
func translate(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return errDuplicate
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return errMissingReference
		}
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (q queries) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	_, err := q.conn.ExecContext(ctx,
		`INSERT INTO users (id, username, bio, created_at) VALUES (?, ?, ?, ?)`,
		user.ID, user.Username, user.Bio, formatTime(user.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("sqlite.CreateUser: %w", translate(err))
	}
	return q.getUser(ctx, user.ID)
}

func (q queries) getUser(ctx context.Context, id string) (*models.User, error) {
	var (
		u       models.User
		created string
	)
	err := q.conn.QueryRowContext(ctx,
		`SELECT id, username, bio, created_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Username, &u.Bio, &created)
	if err != nil {
		return nil, fmt.Errorf("sqlite.getUser: %w", translate(err))
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("sqlite.getUser: %w", err)
	}
	return &u, nil
}

func (q queries) UpdateUser(ctx context.Context, id string, username, bio *string) (*models.User, error) {
	res, err := q.conn.ExecContext(ctx,
		`UPDATE users SET username = COALESCE(?, username), bio = COALESCE(?, bio) WHERE id = ?`,
		nullString(username), nullString(bio), id)
	if err != nil {
		return nil, fmt.Errorf("sqlite.UpdateUser: %w", translate(err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("sqlite.UpdateUser: %w", models.ErrNotFound)
	}
	return q.getUser(ctx, id)
}

func (q queries) CreateTournament(ctx context.Context, t *models.Tournament) (*models.Tournament, error) {
	_, err := q.conn.ExecContext(ctx,
		`INSERT INTO tournaments (id, title, status, end_date) VALUES (?, ?, ?, ?)`,
		t.ID, t.Title, string(t.Status), formatTime(t.EndDate))
	if err != nil {
		return nil, fmt.Errorf("sqlite.CreateTournament: %w", translate(err))
	}
	return q.GetTournament(ctx, t.ID)
}

const tournamentSelect = `
	SELECT t.id, t.title, t.status, t.end_date,
	       (SELECT COUNT(*) FROM participants p WHERE p.tournament_id = t.id)
	FROM tournaments t`

func scanTournament(scan func(dest ...any) error) (models.Tournament, error) {
	var (
		t      models.Tournament
		status string
		end    string
	)
	if err := scan(&t.ID, &t.Title, &status, &end, &t.ParticipantCount); err != nil {
		return models.Tournament{}, err
	}
	t.Status = models.TournamentStatus(status)
	var err error
	if t.EndDate, err = parseTime(end); err != nil {
		return models.Tournament{}, err
	}
	return t, nil
}

func (q queries) GetTournament(ctx context.Context, id string) (*models.Tournament, error) {
	t, err := scanTournament(q.conn.QueryRowContext(ctx, tournamentSelect+` WHERE t.id = ?`, id).Scan)
	if err != nil {
		return nil, fmt.Errorf("sqlite.GetTournament: %w", translate(err))
	}
	return &t, nil
}

func (q queries) ListTournaments(ctx context.Context, status models.TournamentStatus) ([]models.Tournament, error) {
	rows, err := q.conn.QueryContext(ctx,
		tournamentSelect+` WHERE t.status = ? ORDER BY t.end_date ASC, t.id ASC`, string(status))
	if err != nil {
		return nil, fmt.Errorf("sqlite.ListTournaments: %w", err)
	}
	defer rows.Close()

	tournaments := []models.Tournament{}
	for rows.Next() {
		t, err := scanTournament(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite.ListTournaments: scan: %w", err)
		}
		tournaments = append(tournaments, t)
	}
	return tournaments, rows.Err()
}

const tradeColumns = `id, user_id, symbol, side, entry_price, exit_price, pnl_percentage, status, tournament_id, created_at, closed_at`

func scanTrade(scan func(dest ...any) error) (*models.Trade, error) {
	var (
		t            models.Trade
		side, status string
		exit, pnl    decimal.NullDecimal
		tournament   sql.NullString
		created      string
		closed       sql.NullString
	)
	err := scan(&t.ID, &t.UserID, &t.Symbol, &side, &t.EntryPrice, &exit, &pnl,
		&status, &tournament, &created, &closed)
	if err != nil {
		return nil, err
	}
	t.Side = models.Side(side)
	t.Status = models.TradeStatus(status)
	if exit.Valid {
		t.ExitPrice = &exit.Decimal
	}
	if pnl.Valid {
		t.PnLPercentage = &pnl.Decimal
	}
	if tournament.Valid {
		t.TournamentID = &tournament.String
	}
	if t.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if t.ClosedAt, err = parseNullTime(closed); err != nil {
		return nil, err
	}
	return &t, nil
}

func (q queries) getTrade(ctx context.Context, id string) (*models.Trade, error) {
	return scanTrade(q.conn.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = ?`, id).Scan)
}

func (q queries) CreateTrade(ctx context.Context, trade *models.Trade) (*models.Trade, error) {
	_, err := q.conn.ExecContext(ctx,
		`INSERT INTO trades (id, user_id, symbol, side, entry_price, status, tournament_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.ID, trade.UserID, trade.Symbol, string(trade.Side), trade.EntryPrice.String(),
		string(models.TradeOpen), nullString(trade.TournamentID), formatTime(trade.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("sqlite.CreateTrade: %w", translate(err))
	}
	t, err := q.getTrade(ctx, trade.ID)
	if err != nil {
		return nil, fmt.Errorf("sqlite.CreateTrade: %w", translate(err))
	}
	return t, nil
}

// GetTradeForUpdate is a plain read: SQLite already serializes writers and
// the store holds a single connection.
func (q queries) GetTradeForUpdate(ctx context.Context, id string) (*models.Trade, error) {
	t, err := q.getTrade(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite.GetTradeForUpdate: %w", translate(err))
	}
	return t, nil
}

func (q queries) CloseTrade(ctx context.Context, id string, exitPrice, pnl decimal.Decimal, closedAt time.Time) (*models.Trade, error) {
	res, err := q.conn.ExecContext(ctx,
		`UPDATE trades SET status = ?, exit_price = ?, pnl_percentage = ?, closed_at = ?
		 WHERE id = ? AND status = ?`,
		string(models.TradeClosed), exitPrice.String(), pnl.String(), formatTime(closedAt), id, string(models.TradeOpen))
	if err != nil {
		return nil, fmt.Errorf("sqlite.CloseTrade: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("sqlite.CloseTrade: %w", models.ErrNotFound)
	}
	t, err := q.getTrade(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite.CloseTrade: %w", translate(err))
	}
	return t, nil
}

func (q queries) GetClosedTrades(ctx context.Context, userID string, limit int) ([]models.Trade, error) {
	rows, err := q.conn.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE user_id = ? AND status = ?
		 ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, string(models.TradeClosed), limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite.GetClosedTrades: %w", err)
	}
	defer rows.Close()

	trades := []models.Trade{}
	for rows.Next() {
		t, err := scanTrade(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("sqlite.GetClosedTrades: scan: %w", err)
		}
		trades = append(trades, *t)
	}
	return trades, rows.Err()
}

func (q queries) AggregateClosedTrades(ctx context.Context, userID, tournamentID string) (models.TradeAggregate, error) {
	rows, err := q.conn.QueryContext(ctx,
		`SELECT pnl_percentage FROM trades WHERE user_id = ? AND tournament_id = ? AND status = ?`,
		userID, tournamentID, string(models.TradeClosed))
	if err != nil {
		return models.TradeAggregate{}, fmt.Errorf("sqlite.AggregateClosedTrades: %w", err)
	}
	defer rows.Close()

	agg := models.TradeAggregate{SumPnL: decimal.Zero}
	for rows.Next() {
		var pnl decimal.Decimal
		if err := rows.Scan(&pnl); err != nil {
			return models.TradeAggregate{}, fmt.Errorf("sqlite.AggregateClosedTrades: scan: %w", err)
		}
		agg.SumPnL = agg.SumPnL.Add(pnl)
		agg.Count++
	}
	return agg, rows.Err()
}

const participantColumns = `id, user_id, tournament_id, starting_balance, current_balance, pnl_percentage, rank_tier, joined_at`

func scanParticipant(scan func(dest ...any) error) (*models.Participant, error) {
	var (
		p      models.Participant
		tier   string
		joined string
	)
	err := scan(&p.ID, &p.UserID, &p.TournamentID, &p.StartingBalance, &p.CurrentBalance, &p.PnLPercentage, &tier, &joined)
	if err != nil {
		return nil, err
	}
	p.RankTier = models.Tier(tier)
	if p.JoinedAt, err = parseTime(joined); err != nil {
		return nil, err
	}
	return &p, nil
}

func (q queries) CreateParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error) {
	_, err := q.conn.ExecContext(ctx,
		`INSERT INTO participants (`+participantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.UserID, p.TournamentID, p.StartingBalance.String(), p.CurrentBalance.String(),
		p.PnLPercentage.String(), string(p.RankTier), formatTime(p.JoinedAt))
	if err != nil {
		return nil, fmt.Errorf("sqlite.CreateParticipant: %w", translate(err))
	}
	out, err := scanParticipant(q.conn.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE id = ?`, p.ID).Scan)
	if err != nil {
		return nil, fmt.Errorf("sqlite.CreateParticipant: %w", translate(err))
	}
	return out, nil
}

func (q queries) GetParticipant(ctx context.Context, userID, tournamentID string) (*models.Participant, error) {
	p, err := scanParticipant(q.conn.QueryRowContext(ctx,
		`SELECT `+participantColumns+` FROM participants WHERE user_id = ? AND tournament_id = ?
		 ORDER BY joined_at ASC, id ASC LIMIT 1`,
		userID, tournamentID).Scan)
	if err != nil {
		return nil, fmt.Errorf("sqlite.GetParticipant: %w", translate(err))
	}
	return p, nil
}

func (q queries) UpdateParticipantStanding(ctx context.Context, userID, tournamentID string, pnl decimal.Decimal, tier models.Tier) (int64, error) {
	res, err := q.conn.ExecContext(ctx,
		`UPDATE participants SET pnl_percentage = ?, rank_tier = ? WHERE user_id = ? AND tournament_id = ?`,
		pnl.String(), string(tier), userID, tournamentID)
	if err != nil {
		return 0, fmt.Errorf("sqlite.UpdateParticipantStanding: %w", err)
	}
	return res.RowsAffected()
}

// TopParticipants sorts in Go because pnl_percentage is TEXT; the database
// only filters and joins.
func (q queries) TopParticipants(ctx context.Context, tournamentID string, limit int) ([]models.Standing, error) {
	rows, err := q.conn.QueryContext(ctx, `
		SELECT p.id, p.user_id, u.username, p.tournament_id, p.pnl_percentage, p.rank_tier, p.joined_at,
		       (SELECT COUNT(*) FROM trades t
		        WHERE t.user_id = p.user_id AND t.tournament_id = p.tournament_id AND t.status = 'CLOSED')
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE ? = '' OR p.tournament_id = ?`,
		tournamentID, tournamentID)
	if err != nil {
		return nil, fmt.Errorf("sqlite.TopParticipants: %w", err)
	}
	defer rows.Close()

	standings := []models.Standing{}
	for rows.Next() {
		var (
			s      models.Standing
			tier   string
			joined string
		)
		if err := rows.Scan(&s.ParticipantID, &s.UserID, &s.Username, &s.TournamentID, &s.PnL, &tier, &joined, &s.TradeCount); err != nil {
			return nil, fmt.Errorf("sqlite.TopParticipants: scan: %w", err)
		}
		s.RankTier = models.Tier(tier)
		if s.JoinedAt, err = parseTime(joined); err != nil {
			return nil, fmt.Errorf("sqlite.TopParticipants: %w", err)
		}
		standings = append(standings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite.TopParticipants: %w", err)
	}

	sort.SliceStable(standings, func(i, j int) bool {
		a, b := standings[i], standings[j]
		if c := a.PnL.Cmp(b.PnL); c != 0 {
			return c > 0
		}
		if !a.JoinedAt.Equal(b.JoinedAt) {
			return a.JoinedAt.Before(b.JoinedAt)
		}
		return a.ParticipantID < b.ParticipantID
	})
	if len(standings) > limit {
		standings = standings[:limit]
	}
	return standings, nil
}

func (q queries) UserRankings(ctx context.Context) ([]models.UserRanking, error) {
	rows, err := q.conn.QueryContext(ctx, `
		SELECT u.id, u.username, t.pnl_percentage
		FROM users u
		LEFT JOIN trades t ON t.user_id = u.id AND t.status = 'CLOSED'`)
	if err != nil {
		return nil, fmt.Errorf("sqlite.UserRankings: %w", err)
	}
	defer rows.Close()

	byUser := map[string]*models.UserRanking{}
	var order []string
	for rows.Next() {
		var (
			id, username string
			pnl          decimal.NullDecimal
		)
		if err := rows.Scan(&id, &username, &pnl); err != nil {
			return nil, fmt.Errorf("sqlite.UserRankings: scan: %w", err)
		}
		r, ok := byUser[id]
		if !ok {
			r = &models.UserRanking{UserID: id, Username: username, PnL: decimal.Zero}
			byUser[id] = r
			order = append(order, id)
		}
		if pnl.Valid {
			r.PnL = r.PnL.Add(pnl.Decimal)
			r.TradeCount++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite.UserRankings: %w", err)
	}

	rankings := make([]models.UserRanking, 0, len(order))
	for _, id := range order {
		rankings = append(rankings, *byUser[id])
	}
	sort.SliceStable(rankings, func(i, j int) bool {
		if c := rankings[i].PnL.Cmp(rankings[j].PnL); c != 0 {
			return c > 0
		}
		return strings.Compare(rankings[i].Username, rankings[j].Username) < 0
	})
	return rankings, nil
}
