package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/xtrntr/apextraders/internal/bootstrap"
	"github.com/xtrntr/apextraders/internal/config"
	"github.com/xtrntr/apextraders/internal/models"
	"github.com/xtrntr/apextraders/internal/tournament"
)

// Print a tournament leaderboard, or the global user ranking, as a table
func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		slog.Error("standings failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("standings", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "path to config file (optional)")
	tournamentID := fs.String("tournament", "weekly-apex-challenge", "tournament id; empty ranks across all tournaments")
	limit := fs.Int("limit", tournament.DefaultTopN, "number of rows")
	users := fs.Bool("users", false, "rank users across all closed trades instead")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	bootstrap.SetupLogger(cfg.Log, os.Stderr)

	s, closeStore, err := bootstrap.OpenStore(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer closeStore()

	board := tournament.NewLeaderboard(s)
	if *users {
		rankings, err := board.UserRankings(ctx)
		if err != nil {
			return fmt.Errorf("user rankings: %w", err)
		}
		return printRankings(out, rankings)
	}

	standings, err := board.TopN(ctx, *tournamentID, *limit)
	if err != nil {
		return fmt.Errorf("leaderboard %s: %w", *tournamentID, err)
	}
	return printStandings(out, standings)
}

func printStandings(w io.Writer, standings []models.Standing) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Trader", "Tournament", "PnL %", "Trades", "Tier")
	for i, s := range standings {
		err := table.Append(
			fmt.Sprintf("%d", i+1),
			s.Username,
			s.TournamentID,
			fmt.Sprintf("%.2f", s.TotalPnL),
			fmt.Sprintf("%d", s.TradeCount),
			string(s.RankTier),
		)
		if err != nil {
			return fmt.Errorf("append row %d: %w", i+1, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render standings: %w", err)
	}
	return nil
}

func printRankings(w io.Writer, rankings []models.UserRanking) error {
	table := tablewriter.NewWriter(w)
	table.Header("#", "Trader", "PnL %", "Trades")
	for i, r := range rankings {
		err := table.Append(
			fmt.Sprintf("%d", i+1),
			r.Username,
			fmt.Sprintf("%.2f", r.TotalPnL),
			fmt.Sprintf("%d", r.TradeCount),
		)
		if err != nil {
			return fmt.Errorf("append row %d: %w", i+1, err)
		}
	}
	if err := table.Render(); err != nil {
		return fmt.Errorf("render rankings: %w", err)
	}
	return nil
}
