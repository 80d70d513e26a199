package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/xtrntr/apextraders/internal/bootstrap"
	"github.com/xtrntr/apextraders/internal/config"
	"github.com/xtrntr/apextraders/internal/models"
	"github.com/xtrntr/apextraders/internal/store"
)

var seedUsers = []models.User{
	{Username: "trader1", Bio: "Momentum scalper"},
	{Username: "trader2", Bio: "Mean reversion"},
	{Username: "trader3", Bio: "Swing trader"},
}

var seedTournaments = []struct {
	ID       string
	Title    string
	Status   models.TournamentStatus
	Duration time.Duration
}{
	{"weekly-apex-challenge", "Weekly Apex Challenge", models.TournamentActive, 7 * 24 * time.Hour},
	{"monthly-grand-prix", "Monthly Grand Prix", models.TournamentUpcoming, 30 * 24 * time.Hour},
}

// Seed the database with users and tournaments
func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := bootstrap.SetupLogger(cfg.Log, os.Stderr)

	ctx := context.Background()
	s, closeStore, err := bootstrap.OpenStore(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to open store", "err", err)
		os.Exit(1)
	}
	defer closeStore()

	created, err := seed(ctx, s, time.Now().UTC())
	if err != nil {
		logger.Error("seed failed", "err", err)
		os.Exit(1)
	}
	fmt.Printf("Seeded %d rows\n", created)
}

// seed inserts the fixtures, skipping rows that already exist
func seed(ctx context.Context, s store.Store, now time.Time) (int, error) {
	created := 0
	for _, u := range seedUsers {
		u.ID = uuid.NewString()
		u.CreatedAt = now
		_, err := s.CreateUser(ctx, &u)
		if errors.Is(err, models.ErrConflict) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create user %s: %w", u.Username, err)
		}
		created++
	}

	for _, t := range seedTournaments {
		_, err := s.CreateTournament(ctx, &models.Tournament{
			ID:      t.ID,
			Title:   t.Title,
			Status:  t.Status,
			EndDate: now.Add(t.Duration),
		})
		if errors.Is(err, models.ErrConflict) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("create tournament %s: %w", t.ID, err)
		}
		created++
	}
	return created, nil
}
