package hub

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/apextraders/internal/models"
	"github.com/xtrntr/apextraders/internal/pricefeed"
)

type received struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func startHub(t *testing.T, snapshot func() []Message) (*Hub, string) {
	t.Helper()
	h := New(slog.New(slog.NewTextHandler(io.Discard, nil)), snapshot)
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func next(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg received
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_Snapshot(t *testing.T) {
	h, url := startHub(t, func() []Message {
		return []Message{{Event: EventStatus, Data: StatusPayload{Symbol: "BTCUSDT", Status: pricefeed.StatusConnected}}}
	})
	conn := dial(t, url)

	msg := next(t, conn)
	assert.Equal(t, EventStatus, msg.Event)
	assert.JSONEq(t, `{"symbol":"BTCUSDT","status":"connected"}`, string(msg.Data))
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestHub_Broadcast(t *testing.T) {
	h, url := startHub(t, nil)
	first, second := dial(t, url), dial(t, url)
	require.Eventually(t, func() bool { return h.Clients() == 2 }, 2*time.Second, 5*time.Millisecond)

	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	h.PublishFeed(pricefeed.Update{Kind: pricefeed.UpdatePrice, Symbol: "BTCUSDT", Price: decimal.RequireFromString("63000.50"), At: at})
	h.PublishFeed(pricefeed.Update{Kind: pricefeed.UpdateStatus, Symbol: "BTCUSDT", Status: pricefeed.StatusDisconnected})
	h.PublishStanding(models.Standing{UserID: "u1", TournamentID: "weekly", TotalPnL: 5, TradeCount: 1, RankTier: models.TierSilver})

	for _, conn := range []*websocket.Conn{first, second} {
		price := next(t, conn)
		assert.Equal(t, EventPrice, price.Event)
		assert.JSONEq(t, `{"symbol":"BTCUSDT","price":"63000.5","at":"2026-03-01T12:00:00Z"}`, string(price.Data))

		status := next(t, conn)
		assert.Equal(t, EventStatus, status.Event)
		assert.JSONEq(t, `{"symbol":"BTCUSDT","status":"disconnected"}`, string(status.Data))

		standing := next(t, conn)
		assert.Equal(t, EventStanding, standing.Event)
		var s map[string]any
		require.NoError(t, json.Unmarshal(standing.Data, &s))
		assert.Equal(t, "u1", s["userId"])
		assert.Equal(t, 5.0, s["totalPnL"])
		assert.Equal(t, "SILVER", s["rankTier"])
	}
}

func TestHub_Unregister(t *testing.T) {
	h, url := startHub(t, nil)
	conn := dial(t, url)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return h.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)

	// broadcasting with nobody listening is fine
	h.Broadcast(EventStatus, nil)
}
