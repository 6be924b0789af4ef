package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/yourusername/lapwatch/internal/events"
	"github.com/yourusername/lapwatch/internal/matcher"
	"github.com/yourusername/lapwatch/internal/models"
	"github.com/yourusername/lapwatch/internal/records"
	"github.com/yourusername/lapwatch/internal/registry"
	"github.com/yourusername/lapwatch/internal/service"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if db == nil {
			return fmt.Errorf("migrate requires the postgres storage driver")
		}
		applied, err := db.Migrate(cmd.Context())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Println("Schema is up to date")
			return nil
		}
		for _, name := range applied {
			fmt.Printf("Applied %s\n", name)
		}
		return nil
	},
}

var clearYes bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all laps of a race and reset it to not_started",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		raceID, err := resolveRace(ctx)
		if err != nil {
			return err
		}
		if !clearYes {
			return fmt.Errorf("refusing to clear race %s without --yes", raceID)
		}

		ingestion, _ := newServices()
		deleted, err := ingestion.ClearRace(ctx, raceID)
		if err != nil {
			return err
		}
		fmt.Printf("Cleared race %s: %d laps deleted\n", raceID, deleted)
		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state <not_started|live|finished>",
	Short: "Set the lifecycle state of a race",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		state, err := models.ParseRaceState(args[0])
		if err != nil {
			return err
		}
		raceID, err := resolveRace(ctx)
		if err != nil {
			return err
		}

		_, board := newServices()
		if err := board.SetRaceState(ctx, raceID, state); err != nil {
			return err
		}
		fmt.Printf("Race %s is now %s\n", raceID, state)
		return nil
	},
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Run one event detection pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		raceID, err := resolveRace(ctx)
		if err != nil {
			return err
		}

		_, board := newServices()
		detector := events.NewDetector(board, repos, nil, events.RulesFromConfig(cfg.Events), appLog)
		result, err := detector.Run(ctx, raceID)
		if err != nil {
			return err
		}

		fmt.Printf("Evaluated %d candidates in %s, %d new events\n", result.Candidates, result.Duration.Round(time.Millisecond), len(result.Emitted))
		for _, e := range result.Emitted {
			fmt.Printf("  #%d [%s] %s\n", e.Sequence, e.Priority, e.Description)
		}
		return nil
	},
}

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match unmatched competitors against the results registry",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		raceID, err := resolveRace(ctx)
		if err != nil {
			return err
		}

		client := registry.NewClient(&cfg.Registry, appLog)
		defer client.Close()
		m := matcher.NewMatcher(client, repos, matcher.OptionsFromConfig(cfg.Matcher, cfg.Registry), appLog)

		batch, err := m.MatchRace(ctx, raceID)
		if batch != nil {
			fmt.Printf("Attempted %d: %d auto-matched, %d need review, %d without results, %d failed\n",
				batch.Attempted, batch.AutoMatched, batch.NeedsReview, batch.NoResults, batch.Failed)
		}
		if err != nil {
			return err
		}

		stats, err := m.Stats(ctx, raceID)
		if err != nil {
			return err
		}
		fmt.Printf("Race totals: %d matched, %d unmatched, %d no-match (avg confidence %.3f)\n",
			stats.Matched, stats.Unmatched, stats.NoMatch, stats.AverageConfidence)
		return nil
	},
}

var recordsCmd = &cobra.Command{
	Use:   "records",
	Short: "Manage the reference record table",
}

var recordsImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Replace the records of a race with the contents of a YAML file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		raceID, err := resolveRace(ctx)
		if err != nil {
			return err
		}

		recs, err := records.LoadFile(args[0])
		if err != nil {
			return err
		}
		for _, r := range recs {
			r.RaceID = raceID
		}
		if err := repos.Record.ReplaceForRace(ctx, raceID, recs); err != nil {
			return fmt.Errorf("failed to store records: %w", err)
		}
		fmt.Printf("Imported %d records for race %s\n", len(recs), raceID)
		return nil
	},
}

var backfillCmd = &cobra.Command{
	Use:   "backfill <laps.json>",
	Short: "Ingest a JSON array of laps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		raceID, err := resolveRace(ctx)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read laps file: %w", err)
		}
		var payloads []*models.LapPayload
		if err := json.Unmarshal(data, &payloads); err != nil {
			return fmt.Errorf("failed to parse laps file: %w", err)
		}

		ingestion, _ := newServices()
		report, err := ingestion.Backfill(ctx, raceID, payloads)
		if report != nil {
			fmt.Println(report.String())
		}
		return err
	},
}

var (
	boardFilter string
	boardLimit  int
	boardWatch  time.Duration
)

var leaderboardCmd = &cobra.Command{
	Use:   "leaderboard",
	Short: "Print the leaderboard of a race",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		raceID, err := resolveRace(ctx)
		if err != nil {
			return err
		}
		filter, err := models.ParseLeaderboardFilter(boardFilter)
		if err != nil {
			return err
		}

		_, board := newServices()
		if boardWatch <= 0 {
			return printLeaderboard(ctx, board, raceID, filter)
		}

		ticker := time.NewTicker(boardWatch)
		defer ticker.Stop()
		for {
			fmt.Print("\033[H\033[2J")
			if err := printLeaderboard(ctx, board, raceID, filter); err != nil {
				return err
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	},
}

func printLeaderboard(ctx context.Context, board *service.LeaderboardService, raceID uuid.UUID, filter models.LeaderboardFilter) error {
	lb, err := board.Get(ctx, raceID, filter)
	if err != nil {
		return err
	}

	fmt.Printf("Race %s (%s), %s, computed %s\n\n", lb.RaceID, lb.State, lb.Filter, lb.ComputedAt.Format(time.RFC3339))
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Rank\tG\tBib\tName\tNat\tLaps\tKm\tGap km\tProjected\tAvg pace\tTrend\t")
	for i, e := range lb.Entries {
		if boardLimit > 0 && i >= boardLimit {
			break
		}
		fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%d\t%.3f\t%.3f\t%.3f\t%s\t%s\t\n",
			e.Rank, e.GenderRank, e.Bib, e.Name, e.Nationality, e.Lap, e.DistanceKm, e.GapKm, e.ProjectedKm, pace(e.AvgPaceSec), e.Trend)
	}
	return w.Flush()
}

// pace formats seconds per km as m:ss
func pace(secPerKm float64) string {
	if secPerKm <= 0 {
		return "-"
	}
	total := int(secPerKm + 0.5)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

func init() {
	clearCmd.Flags().BoolVarP(&clearYes, "yes", "y", false, "Confirm the clear")
	recordsCmd.AddCommand(recordsImportCmd)

	leaderboardCmd.Flags().StringVarP(&boardFilter, "filter", "f", "overall", "overall, men or women")
	leaderboardCmd.Flags().IntVarP(&boardLimit, "limit", "n", 20, "Number of rows to show (0 for all)")
	leaderboardCmd.Flags().DurationVarP(&boardWatch, "watch", "w", 0, "Refresh interval, e.g. 30s")
}
