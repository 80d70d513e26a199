package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xtrntr/apextraders/internal/models"
	"github.com/xtrntr/apextraders/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a PostgreSQL connection pool
type DB struct {
	queries
	Pool *pgxpool.Pool
}

var _ store.Store = (*DB)(nil)

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	return &DB{queries: queries{conn: pool}, Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// Migrate applies a schema script. Scripts use IF NOT EXISTS so re-running is safe.
func (db *DB) Migrate(ctx context.Context, script string) error {
	if _, err := db.Pool.Exec(ctx, script); err != nil {
		return fmt.Errorf("failed to apply migration: %w", err)
	}
	return nil
}

// WithTx runs fn inside a transaction and commits if fn returns nil
func (db *DB) WithTx(ctx context.Context, fn func(q store.Queries) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(queries{conn: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type queries struct {
	conn querier
}

// translate maps driver errors onto the shared taxonomy
var (
	errDuplicate        = fmt.Errorf("%w: duplicate record", models.ErrConflict)
	errMissingReference = fmt.Errorf("%w: referenced user or tournament", models.ErrNotFound)
)

// translate maps driver errors onto the model sentinels. The driver text is
// dropped since it reaches API clients.
func translate(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return errDuplicate
		case pgForeignKeyViolation:
			return errMissingReference
		}
	}
	return err
}

// CreateUser inserts a new user
func (q queries) CreateUser(ctx context.Context, user *models.User) (*models.User, error) {
	u := &models.User{}
	err := q.conn.QueryRow(ctx,
		"INSERT INTO users (id, username, bio, created_at) VALUES ($1, $2, $3, $4) RETURNING id, username, bio, created_at",
		user.ID, user.Username, user.Bio, user.CreatedAt).Scan(&u.ID, &u.Username, &u.Bio, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", translate(err))
	}
	return u, nil
}

// UpdateUser changes the fields that are non-nil
func (q queries) UpdateUser(ctx context.Context, id string, username, bio *string) (*models.User, error) {
	u := &models.User{}
	err := q.conn.QueryRow(ctx,
		"UPDATE users SET username = COALESCE($2, username), bio = COALESCE($3, bio) WHERE id = $1 RETURNING id, username, bio, created_at",
		id, username, bio).Scan(&u.ID, &u.Username, &u.Bio, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to update user: %w", translate(err))
	}
	return u, nil
}

// CreateTournament inserts a tournament
func (q queries) CreateTournament(ctx context.Context, t *models.Tournament) (*models.Tournament, error) {
	out := &models.Tournament{}
	err := q.conn.QueryRow(ctx,
		"INSERT INTO tournaments (id, title, status, end_date) VALUES ($1, $2, $3, $4) RETURNING id, title, status, end_date",
		t.ID, t.Title, t.Status, t.EndDate).Scan(&out.ID, &out.Title, &out.Status, &out.EndDate)
	if err != nil {
		return nil, fmt.Errorf("failed to create tournament: %w", translate(err))
	}
	return out, nil
}

// GetTournament retrieves a tournament with its participant count
func (q queries) GetTournament(ctx context.Context, id string) (*models.Tournament, error) {
	t := &models.Tournament{}
	err := q.conn.QueryRow(ctx, `
		SELECT t.id, t.title, t.status, t.end_date,
		       (SELECT COUNT(*) FROM participants p WHERE p.tournament_id = t.id)
		FROM tournaments t
		WHERE t.id = $1`,
		id).Scan(&t.ID, &t.Title, &t.Status, &t.EndDate, &t.ParticipantCount)
	if err != nil {
		return nil, fmt.Errorf("failed to get tournament: %w", translate(err))
	}
	return t, nil
}

// ListTournaments retrieves tournaments with the given status
func (q queries) ListTournaments(ctx context.Context, status models.TournamentStatus) ([]models.Tournament, error) {
	rows, err := q.conn.Query(ctx, `
		SELECT t.id, t.title, t.status, t.end_date, COUNT(p.id)
		FROM tournaments t
		LEFT JOIN participants p ON p.tournament_id = t.id
		WHERE t.status = $1
		GROUP BY t.id
		ORDER BY t.end_date ASC, t.id ASC`,
		status)
	if err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	defer rows.Close()

	tournaments := []models.Tournament{}
	for rows.Next() {
		var t models.Tournament
		if err := rows.Scan(&t.ID, &t.Title, &t.Status, &t.EndDate, &t.ParticipantCount); err != nil {
			return nil, fmt.Errorf("failed to scan tournament: %w", err)
		}
		tournaments = append(tournaments, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list tournaments: %w", err)
	}
	return tournaments, nil
}

const tradeColumns = "id, user_id, symbol, side, entry_price, exit_price, pnl_percentage, status, tournament_id, created_at, closed_at"

func scanTrade(row pgx.Row) (*models.Trade, error) {
	var (
		t         models.Trade
		exit, pnl decimal.NullDecimal
	)
	err := row.Scan(&t.ID, &t.UserID, &t.Symbol, &t.Side, &t.EntryPrice, &exit, &pnl,
		&t.Status, &t.TournamentID, &t.CreatedAt, &t.ClosedAt)
	if err != nil {
		return nil, err
	}
	if exit.Valid {
		t.ExitPrice = &exit.Decimal
	}
	if pnl.Valid {
		t.PnLPercentage = &pnl.Decimal
	}
	return &t, nil
}

// CreateTrade inserts a new OPEN trade
func (q queries) CreateTrade(ctx context.Context, trade *models.Trade) (*models.Trade, error) {
	t, err := scanTrade(q.conn.QueryRow(ctx,
		"INSERT INTO trades (id, user_id, symbol, side, entry_price, status, tournament_id, created_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING "+tradeColumns,
		trade.ID, trade.UserID, trade.Symbol, trade.Side, trade.EntryPrice, models.TradeOpen, trade.TournamentID, trade.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create trade: %w", translate(err))
	}
	return t, nil
}

// GetTradeForUpdate locks the trade row for the rest of the transaction
func (q queries) GetTradeForUpdate(ctx context.Context, id string) (*models.Trade, error) {
	t, err := scanTrade(q.conn.QueryRow(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE id = $1 FOR UPDATE", id))
	if err != nil {
		return nil, fmt.Errorf("failed to get trade: %w", translate(err))
	}
	return t, nil
}

// CloseTrade settles an OPEN trade
func (q queries) CloseTrade(ctx context.Context, id string, exitPrice, pnl decimal.Decimal, closedAt time.Time) (*models.Trade, error) {
	t, err := scanTrade(q.conn.QueryRow(ctx,
		"UPDATE trades SET status = $2, exit_price = $3, pnl_percentage = $4, closed_at = $5 "+
			"WHERE id = $1 AND status = $6 RETURNING "+tradeColumns,
		id, models.TradeClosed, exitPrice, pnl, closedAt, models.TradeOpen))
	if err != nil {
		return nil, fmt.Errorf("failed to close trade: %w", translate(err))
	}
	return t, nil
}

// GetClosedTrades retrieves a user's most recent CLOSED trades
func (q queries) GetClosedTrades(ctx context.Context, userID string, limit int) ([]models.Trade, error) {
	rows, err := q.conn.Query(ctx,
		"SELECT "+tradeColumns+" FROM trades WHERE user_id = $1 AND status = $2 ORDER BY created_at DESC, id DESC LIMIT $3",
		userID, models.TradeClosed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get closed trades: %w", err)
	}
	defer rows.Close()

	trades := []models.Trade{}
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get closed trades: %w", err)
	}
	return trades, nil
}

// AggregateClosedTrades sums PnL over CLOSED trades of one (user, tournament)
func (q queries) AggregateClosedTrades(ctx context.Context, userID, tournamentID string) (models.TradeAggregate, error) {
	var agg models.TradeAggregate
	err := q.conn.QueryRow(ctx,
		"SELECT COALESCE(SUM(pnl_percentage), 0), COUNT(id) FROM trades WHERE user_id = $1 AND tournament_id = $2 AND status = $3",
		userID, tournamentID, models.TradeClosed).Scan(&agg.SumPnL, &agg.Count)
	if err != nil {
		return models.TradeAggregate{}, fmt.Errorf("failed to aggregate trades: %w", err)
	}
	return agg, nil
}

const participantColumns = "id, user_id, tournament_id, starting_balance, current_balance, pnl_percentage, rank_tier, joined_at"

// CreateParticipant enrolls a user. The (user_id, tournament_id) unique
// constraint turns a second enrollment into models.ErrConflict.
func (q queries) CreateParticipant(ctx context.Context, p *models.Participant) (*models.Participant, error) {
	out := &models.Participant{}
	err := q.conn.QueryRow(ctx,
		"INSERT INTO participants ("+participantColumns+") VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING "+participantColumns,
		p.ID, p.UserID, p.TournamentID, p.StartingBalance, p.CurrentBalance, p.PnLPercentage, p.RankTier, p.JoinedAt).Scan(
		&out.ID, &out.UserID, &out.TournamentID, &out.StartingBalance, &out.CurrentBalance, &out.PnLPercentage, &out.RankTier, &out.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create participant: %w", translate(err))
	}
	return out, nil
}

// GetParticipant retrieves the enrollment of a user in a tournament
func (q queries) GetParticipant(ctx context.Context, userID, tournamentID string) (*models.Participant, error) {
	p := &models.Participant{}
	err := q.conn.QueryRow(ctx,
		"SELECT "+participantColumns+" FROM participants WHERE user_id = $1 AND tournament_id = $2 ORDER BY joined_at ASC, id ASC LIMIT 1",
		userID, tournamentID).Scan(
		&p.ID, &p.UserID, &p.TournamentID, &p.StartingBalance, &p.CurrentBalance, &p.PnLPercentage, &p.RankTier, &p.JoinedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get participant: %w", translate(err))
	}
	return p, nil
}

// UpdateParticipantStanding writes the aggregate to every matching row
func (q queries) UpdateParticipantStanding(ctx context.Context, userID, tournamentID string, pnl decimal.Decimal, tier models.Tier) (int64, error) {
	tag, err := q.conn.Exec(ctx,
		"UPDATE participants SET pnl_percentage = $3, rank_tier = $4 WHERE user_id = $1 AND tournament_id = $2",
		userID, tournamentID, pnl, tier)
	if err != nil {
		return 0, fmt.Errorf("failed to update participant standing: %w", err)
	}
	return tag.RowsAffected(), nil
}

// TopParticipants ranks participants with their real closed trade counts
func (q queries) TopParticipants(ctx context.Context, tournamentID string, limit int) ([]models.Standing, error) {
	rows, err := q.conn.Query(ctx, `
		SELECT p.id, p.user_id, u.username, p.tournament_id, p.pnl_percentage, p.rank_tier, p.joined_at,
		       (SELECT COUNT(*) FROM trades t
		        WHERE t.user_id = p.user_id AND t.tournament_id = p.tournament_id AND t.status = 'CLOSED')
		FROM participants p
		JOIN users u ON u.id = p.user_id
		WHERE $1 = '' OR p.tournament_id = $1
		ORDER BY p.pnl_percentage DESC, p.joined_at ASC, p.id ASC
		LIMIT $2`,
		tournamentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get top participants: %w", err)
	}
	defer rows.Close()

	standings := []models.Standing{}
	for rows.Next() {
		var s models.Standing
		if err := rows.Scan(&s.ParticipantID, &s.UserID, &s.Username, &s.TournamentID, &s.PnL, &s.RankTier, &s.JoinedAt, &s.TradeCount); err != nil {
			return nil, fmt.Errorf("failed to scan standing: %w", err)
		}
		standings = append(standings, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get top participants: %w", err)
	}
	return standings, nil
}

// UserRankings aggregates every user's CLOSED trades
func (q queries) UserRankings(ctx context.Context) ([]models.UserRanking, error) {
	rows, err := q.conn.Query(ctx, `
		SELECT u.id, u.username, COALESCE(SUM(t.pnl_percentage), 0), COUNT(t.id)
		FROM users u
		LEFT JOIN trades t ON t.user_id = u.id AND t.status = 'CLOSED'
		GROUP BY u.id, u.username
		ORDER BY 3 DESC, u.username ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to get user rankings: %w", err)
	}
	defer rows.Close()

	rankings := []models.UserRanking{}
	for rows.Next() {
		var r models.UserRanking
		if err := rows.Scan(&r.UserID, &r.Username, &r.PnL, &r.TradeCount); err != nil {
			return nil, fmt.Errorf("failed to scan user ranking: %w", err)
		}
		rankings = append(rankings, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to get user rankings: %w", err)
	}
	return rankings, nil
}
