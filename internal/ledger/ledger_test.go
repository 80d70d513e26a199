package ledger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/apextraders/internal/models"
	"github.com/xtrntr/apextraders/internal/sqlite"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*Ledger, *sqlite.Store) {
	t.Helper()
	s, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	_, err = s.CreateUser(ctx, &models.User{ID: "alice", Username: "alice", CreatedAt: base})
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, &models.User{ID: "bob", Username: "bob", CreatedAt: base})
	require.NoError(t, err)
	for _, tr := range []models.Tournament{
		{ID: "weekly", Title: "Weekly", Status: models.TournamentActive, EndDate: base.Add(7 * 24 * time.Hour)},
		{ID: "winter", Title: "Winter Cup", Status: models.TournamentCompleted, EndDate: base.Add(-24 * time.Hour)},
	} {
		_, err = s.CreateTournament(ctx, &tr)
		require.NoError(t, err)
	}
	for _, id := range []string{"weekly", "winter"} {
		_, err = s.CreateParticipant(ctx, &models.Participant{
			ID: "alice-" + id, UserID: "alice", TournamentID: id,
			StartingBalance: decimal.NewFromInt(10000), CurrentBalance: decimal.NewFromInt(10000),
			RankTier: models.TierBronze, JoinedAt: base,
		})
		require.NoError(t, err)
	}

	l := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	clock := base
	l.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	seq := 0
	l.newID = func() string {
		seq++
		return fmt.Sprintf("trade-%d", seq)
	}
	return l, s
}

func ptr(s string) *string { return &s }

func TestLedger_Open(t *testing.T) {
	l, s := setup(t)
	ctx := context.Background()

	tr, err := l.Open(ctx, s, OpenRequest{
		UserID:       "alice",
		Symbol:       " btcusdt ",
		Side:         models.SideBuy,
		EntryPrice:   decimal.NewFromInt(60000),
		TournamentID: ptr("weekly"),
	})
	require.NoError(t, err)
	assert.Equal(t, "trade-1", tr.ID)
	assert.Equal(t, "BTCUSDT", tr.Symbol)
	assert.Equal(t, models.TradeOpen, tr.Status)
	assert.Nil(t, tr.ExitPrice)
	assert.Nil(t, tr.PnLPercentage)

	noTournament, err := l.Open(ctx, s, OpenRequest{UserID: "alice", Symbol: "ETHUSDT", Side: models.SideSell, TournamentID: ptr("")})
	require.NoError(t, err)
	assert.Nil(t, noTournament.TournamentID)
	assert.True(t, noTournament.EntryPrice.IsZero())

	tests := []struct {
		name string
		req  OpenRequest
		want error
	}{
		{"MissingUser", OpenRequest{Symbol: "BTCUSDT", Side: models.SideBuy}, models.ErrValidation},
		{"MissingSymbol", OpenRequest{UserID: "alice", Side: models.SideBuy}, models.ErrValidation},
		{"BadSide", OpenRequest{UserID: "alice", Symbol: "BTCUSDT", Side: "HOLD"}, models.ErrValidation},
		{"NegativeEntry", OpenRequest{UserID: "alice", Symbol: "BTCUSDT", Side: models.SideBuy, EntryPrice: decimal.NewFromInt(-1)}, models.ErrValidation},
		{"UnknownUser", OpenRequest{UserID: "nobody", Symbol: "BTCUSDT", Side: models.SideBuy}, models.ErrNotFound},
		{"UnknownTournament", OpenRequest{UserID: "alice", Symbol: "BTCUSDT", Side: models.SideBuy, TournamentID: ptr("nope")}, models.ErrNotFound},
		{"CompletedTournament", OpenRequest{UserID: "alice", Symbol: "BTCUSDT", Side: models.SideBuy, TournamentID: ptr("winter")}, models.ErrConflict},
		{"NotEnrolled", OpenRequest{UserID: "bob", Symbol: "BTCUSDT", Side: models.SideBuy, TournamentID: ptr("weekly")}, models.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Open(ctx, s, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLedger_Close(t *testing.T) {
	l, s := setup(t)
	ctx := context.Background()

	tr, err := l.Open(ctx, s, OpenRequest{UserID: "alice", Symbol: "BTCUSDT", Side: models.SideBuy, EntryPrice: decimal.NewFromInt(60000)})
	require.NoError(t, err)

	closed, err := l.Close(ctx, s, tr.ID, decimal.NewFromInt(63000))
	require.NoError(t, err)
	assert.Equal(t, models.TradeClosed, closed.Status)
	require.NotNil(t, closed.ExitPrice)
	require.NotNil(t, closed.PnLPercentage)
	require.NotNil(t, closed.ClosedAt)
	assert.True(t, closed.ExitPrice.Equal(decimal.NewFromInt(63000)))
	assert.True(t, closed.PnLPercentage.Equal(decimal.NewFromInt(5)))
	assert.True(t, closed.ClosedAt.After(closed.CreatedAt))

	t.Run("AlreadyClosed", func(t *testing.T) {
		_, err := l.Close(ctx, s, tr.ID, decimal.NewFromInt(64000))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("UnknownTrade", func(t *testing.T) {
		_, err := l.Close(ctx, s, "missing", decimal.NewFromInt(1))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("EmptyID", func(t *testing.T) {
		_, err := l.Close(ctx, s, "", decimal.NewFromInt(1))
		assert.ErrorIs(t, err, models.ErrValidation)
	})

	t.Run("NegativeExit", func(t *testing.T) {
		_, err := l.Close(ctx, s, tr.ID, decimal.NewFromInt(-1))
		assert.ErrorIs(t, err, models.ErrValidation)
	})
}

func TestLedger_History(t *testing.T) {
	l, s := setup(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		tr, err := l.Open(ctx, s, OpenRequest{UserID: "alice", Symbol: "BTCUSDT", Side: models.SideSell, EntryPrice: decimal.NewFromInt(100)})
		require.NoError(t, err)
		ids = append(ids, tr.ID)
	}
	for _, id := range ids[:2] {
		_, err := l.Close(ctx, s, id, decimal.NewFromInt(90))
		require.NoError(t, err)
	}

	history, err := l.History(ctx, s, "alice", 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, ids[1], history[0].ID)
	assert.Equal(t, ids[0], history[1].ID)
	for _, tr := range history {
		assert.Equal(t, models.TradeClosed, tr.Status)
		assert.True(t, tr.PnLPercentage.Equal(decimal.NewFromInt(10)))
	}

	limited, err := l.History(ctx, s, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	_, err = l.History(ctx, s, "", 10)
	assert.ErrorIs(t, err, models.ErrValidation)
}
