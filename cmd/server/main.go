package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xtrntr/apextraders/internal/api"
	"github.com/xtrntr/apextraders/internal/bootstrap"
	"github.com/xtrntr/apextraders/internal/config"
	"github.com/xtrntr/apextraders/internal/hub"
	"github.com/xtrntr/apextraders/internal/ledger"
	"github.com/xtrntr/apextraders/internal/pricefeed"
	"github.com/xtrntr/apextraders/internal/settlement"
	"github.com/xtrntr/apextraders/internal/tournament"
)

// Main entry point: sets up the store, price feed, hub and HTTP server
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}
	logger := bootstrap.SetupLogger(cfg.Log, os.Stdout)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	s, closeStore, err := bootstrap.OpenStore(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open store", "err", err, "driver", cfg.Database.Driver)
		os.Exit(1)
	}
	defer closeStore()

	feed := pricefeed.New(pricefeed.Config{
		URL:            cfg.Feed.URL,
		Symbol:         cfg.Feed.Symbol,
		ReconnectDelay: cfg.ReconnectDelay(),
	}, logger)

	h := hub.New(logger, func() []hub.Message {
		snap := feed.Snapshot()
		msgs := []hub.Message{{Event: hub.EventStatus, Data: hub.StatusPayload{Symbol: snap.Symbol, Status: snap.Status}}}
		if snap.Price != nil {
			msgs = append(msgs, hub.Message{Event: hub.EventPrice, Data: hub.PricePayload{Symbol: snap.Symbol, Price: snap.Price.String(), At: *snap.UpdatedAt}})
		}
		return msgs
	})
	go h.Run(ctx)
	feed.Subscribe(h.PublishFeed)

	l := ledger.New(logger)
	opts := []settlement.Option{settlement.WithLogger(logger), settlement.WithPublisher(h)}
	if cfg.PriceRequired() {
		opts = append(opts, settlement.WithPriceGate(feed))
	}
	coordinator := settlement.New(s, l, tournament.NewSynchronizer(logger), opts...)

	handler := api.NewHandler(api.Services{
		Store:       s,
		Ledger:      l,
		Coordinator: coordinator,
		Registry:    tournament.NewRegistry(s, decimal.NewFromFloat(cfg.Tournament.StartingBalance), logger),
		Leaderboard: tournament.NewLeaderboard(s),
		Prices:      feed,
	}, logger, cfg.Leaderboard.DefaultLimit)

	limiter := api.NewIPRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst,
		api.WithMaxClients(cfg.RateLimit.MaxClients),
		api.WithIdleTimeout(cfg.RateLimitIdle()),
	)
	go limiter.Run(ctx, time.Minute)

	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		TrustProxy:     cfg.Server.TrustProxy,
		Limiter:        limiter,
		WebSocket:      h,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout(),
		WriteTimeout: cfg.WriteTimeout(),
	}

	feed.Start(ctx)
	defer feed.Stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
	}()

	logger.Info("starting server", "addr", cfg.Server.Addr, "driver", cfg.Database.Driver, "symbol", feed.Symbol())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
