// Package pricefeed keeps one streaming connection to an upstream market data
// endpoint and exposes the latest trade price and connection status.
//
// All state changes happen on a single event loop. Dials and socket reads run
// on their own goroutines and report back as events tagged with the
// generation of the connection they belong to; events from an older
// generation are ignored.
package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Status is the state of the upstream connection
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

const (
	DefaultSymbol         = "BTCUSDT"
	DefaultReconnectDelay = 5 * time.Second
	HandshakeTimeout      = 10 * time.Second
	closeWriteTimeout     = time.Second
)

// StreamURL is the public aggregate trade stream for symbol
func StreamURL(symbol string) string {
	return fmt.Sprintf("wss://stream.binance.com:443/ws/%s@aggTrade", strings.ToLower(symbol))
}

// Config configures a Feed
type Config struct {
	URL            string
	Symbol         string
	ReconnectDelay time.Duration
}

// Update is published to subscribers for every accepted tick and every
// status change, in the order they happened
type Update struct {
	Kind   UpdateKind
	Symbol string
	Price  decimal.Decimal
	Status Status
	At     time.Time
}

type UpdateKind string

const (
	UpdatePrice  UpdateKind = "price"
	UpdateStatus UpdateKind = "status"
)

// Snapshot is a point in time view of the feed
type Snapshot struct {
	Symbol    string           `json:"symbol"`
	Price     *decimal.Decimal `json:"price"`
	Status    Status           `json:"status"`
	UpdatedAt *time.Time       `json:"updatedAt,omitempty"`
}

// Timer is a pending reconnect
type Timer interface {
	Stop() bool
}

type eventKind int

const (
	evConnect eventKind = iota
	evOpened
	evTick
	evErrored
	evClosed
	evStop
)

type event struct {
	kind      eventKind
	gen       uint64
	conn      Conn
	price     decimal.Decimal
	tradeTime int64
	code      int
	err       error
}

// Feed is the single upstream price connection
type Feed struct {
	url      string
	symbol   string
	delay    time.Duration
	dialer   Dialer
	schedule func(time.Duration, func()) Timer
	logger   *slog.Logger

	events   chan event
	done     chan struct{}
	started  atomic.Bool
	stopOnce sync.Once

	mu        sync.RWMutex
	price     decimal.Decimal
	hasPrice  bool
	updatedAt time.Time
	status    Status

	subMu   sync.Mutex
	subs    map[int]func(Update)
	nextSub int

	// owned by the event loop
	gen       uint64
	conn      Conn
	dialing   bool
	stopped   bool
	lastTrade int64
	pending   Timer
}

// New creates a feed. Nothing is dialed until Start.
func New(cfg Config, logger *slog.Logger) *Feed {
	if cfg.Symbol == "" {
		cfg.Symbol = DefaultSymbol
	}
	if cfg.URL == "" {
		cfg.URL = StreamURL(cfg.Symbol)
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		url:    cfg.URL,
		symbol: strings.ToUpper(cfg.Symbol),
		delay:  cfg.ReconnectDelay,
		dialer: NewWebsocketDialer(HandshakeTimeout),
		schedule: func(d time.Duration, fn func()) Timer {
			return time.AfterFunc(d, fn)
		},
		logger: logger.With("component", "pricefeed", "symbol", strings.ToUpper(cfg.Symbol)),
		events: make(chan event, 64),
		done:   make(chan struct{}),
		status: StatusDisconnected,
		subs:   make(map[int]func(Update)),
	}
}

// Symbol is the market this feed tracks
func (f *Feed) Symbol() string { return f.symbol }

// Current returns the last accepted price and whether one has been seen
func (f *Feed) Current() (decimal.Decimal, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.price, f.hasPrice
}

// Status returns the connection status
func (f *Feed) Status() Status {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.status
}

// Snapshot returns price and status together
func (f *Feed) Snapshot() Snapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s := Snapshot{Symbol: f.symbol, Status: f.status}
	if f.hasPrice {
		p, at := f.price, f.updatedAt
		s.Price, s.UpdatedAt = &p, &at
	}
	return s
}

// Subscribe registers fn for every update. fn runs on the event loop and
// must not block. The returned func removes the subscription.
func (f *Feed) Subscribe(fn func(Update)) (unsubscribe func()) {
	f.subMu.Lock()
	id := f.nextSub
	f.nextSub++
	f.subs[id] = fn
	f.subMu.Unlock()

	return func() {
		f.subMu.Lock()
		delete(f.subs, id)
		f.subMu.Unlock()
	}
}

// Start runs the event loop until ctx is done or Stop is called, and opens
// the first connection.
func (f *Feed) Start(ctx context.Context) {
	if !f.started.CompareAndSwap(false, true) {
		return
	}
	go f.run(ctx)
	f.send(event{kind: evConnect})
}

// Stop closes the connection with a normal closure, cancels any pending
// reconnect and waits for the event loop to exit.
func (f *Feed) Stop() {
	if !f.started.Load() {
		return
	}
	f.stopOnce.Do(func() { f.send(event{kind: evStop}) })
	<-f.done
}

func (f *Feed) send(ev event) {
	select {
	case f.events <- ev:
	case <-f.done:
	}
}

func (f *Feed) run(ctx context.Context) {
	defer close(f.done)
	for {
		select {
		case <-ctx.Done():
			f.shutdown()
			return
		case ev := <-f.events:
			if ev.kind == evStop {
				f.shutdown()
				return
			}
			f.handle(ctx, ev)
		}
	}
}

func (f *Feed) handle(ctx context.Context, ev event) {
	switch ev.kind {
	case evConnect:
		f.pending = nil
		if f.stopped || f.dialing || f.conn != nil {
			f.logger.Debug("connect ignored", "dialing", f.dialing, "connected", f.conn != nil)
			return
		}
		f.gen++
		f.dialing = true
		f.setStatus(StatusConnecting)
		go f.dial(ctx, f.gen)

	case evOpened:
		if ev.gen != f.gen || f.stopped {
			ev.conn.Close()
			return
		}
		f.dialing = false
		f.conn = ev.conn
		f.setStatus(StatusConnected)
		f.logger.Info("price feed connected", "url", f.url)

	case evTick:
		if ev.gen != f.gen {
			return
		}
		if !ev.price.IsPositive() {
			f.logger.Debug("tick dropped: non-positive price", "price", ev.price.String())
			return
		}
		// messages without a trade time are applied in arrival order
		if ev.tradeTime > 0 {
			if ev.tradeTime < f.lastTrade {
				f.logger.Debug("tick dropped: out of order", "trade_time", ev.tradeTime, "last", f.lastTrade)
				return
			}
			f.lastTrade = ev.tradeTime
		}
		now := time.Now().UTC()
		f.mu.Lock()
		f.price, f.hasPrice, f.updatedAt = ev.price, true, now
		f.mu.Unlock()
		f.publish(Update{Kind: UpdatePrice, Symbol: f.symbol, Price: ev.price, Status: StatusConnected, At: now})

	case evErrored:
		if ev.gen != f.gen {
			return
		}
		f.logger.Warn("price feed error", "error", ev.err)

	case evClosed:
		if ev.gen != f.gen {
			return
		}
		f.dialing = false
		if f.conn != nil {
			f.conn.Close()
			f.conn = nil
		}
		f.setStatus(StatusDisconnected)
		if ev.code == websocket.CloseNormalClosure || f.stopped {
			f.logger.Info("price feed closed", "code", ev.code)
			return
		}
		f.logger.Warn("price feed closed, reconnecting", "code", ev.code, "delay", f.delay)
		f.pending = f.schedule(f.delay, func() { f.send(event{kind: evConnect}) })
	}
}

func (f *Feed) shutdown() {
	f.stopped = true
	if f.pending != nil {
		f.pending.Stop()
		f.pending = nil
	}
	// bump the generation so the reader's final events are ignored
	f.gen++
	f.dialing = false
	if f.conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		if err := f.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout)); err != nil {
			f.logger.Debug("close frame not sent", "error", err)
		}
		f.conn.Close()
		f.conn = nil
	}
	f.setStatus(StatusDisconnected)
	f.logger.Info("price feed stopped")
}

func (f *Feed) setStatus(s Status) {
	f.mu.Lock()
	changed := f.status != s
	f.status = s
	f.mu.Unlock()
	if changed {
		f.publish(Update{Kind: UpdateStatus, Symbol: f.symbol, Status: s, At: time.Now().UTC()})
	}
}

func (f *Feed) publish(u Update) {
	f.subMu.Lock()
	fns := make([]func(Update), 0, len(f.subs))
	for _, fn := range f.subs {
		fns = append(fns, fn)
	}
	f.subMu.Unlock()

	for _, fn := range fns {
		fn(u)
	}
}

func (f *Feed) dial(ctx context.Context, gen uint64) {
	dctx, cancel := context.WithTimeout(ctx, HandshakeTimeout)
	conn, err := f.dialer.Dial(dctx, f.url)
	cancel()
	if err != nil {
		f.send(event{kind: evErrored, gen: gen, err: fmt.Errorf("dial %s: %w", f.url, err)})
		f.send(event{kind: evClosed, gen: gen, code: websocket.CloseAbnormalClosure})
		return
	}
	f.send(event{kind: evOpened, gen: gen, conn: conn})
	f.read(gen, conn)
}

func (f *Feed) read(gen uint64, conn Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			code := websocket.CloseAbnormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			} else {
				f.send(event{kind: evErrored, gen: gen, err: err})
			}
			f.send(event{kind: evClosed, gen: gen, code: code})
			return
		}

		t, err := parseTick(msg)
		if err != nil {
			f.logger.Debug("tick dropped", "error", err)
			continue
		}
		f.send(event{kind: evTick, gen: gen, price: t.Price, tradeTime: t.TradeTime})
	}
}
