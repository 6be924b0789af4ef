// Package main provides the race administration CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yourusername/lapwatch/internal/cache"
	"github.com/yourusername/lapwatch/internal/config"
	"github.com/yourusername/lapwatch/internal/database"
	"github.com/yourusername/lapwatch/internal/logger"
	"github.com/yourusername/lapwatch/internal/models"
	"github.com/yourusername/lapwatch/internal/repository"
	"github.com/yourusername/lapwatch/internal/service"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var (
	configFile string
	raceFlag   string

	appLog *logrus.Logger
	cfg    *config.Config
	db     *database.DB
	repos  *repository.Repositories
)

var rootCmd = &cobra.Command{
	Use:     "race-admin",
	Short:   "Administer lapwatch races",
	Long:    `Operational commands for lapwatch: schema migrations, race resets, event detection, registry matching and data import.`,
	Version: Version + " (" + GitCommit + ")",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := loadConfig(cmd.Context()); err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		if err := setupDependencies(cmd.Context()); err != nil {
			return fmt.Errorf("failed to setup dependencies: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			db.Close()
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "Path to configuration file (default $LAPWATCH_CONFIG_PATH or ./config/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&raceFlag, "race", "r", "", "Race ID (defaults to the active race)")

	rootCmd.AddCommand(
		migrateCmd,
		clearCmd,
		stateCmd,
		detectCmd,
		matchCmd,
		recordsCmd,
		backfillCmd,
		leaderboardCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func loadConfig(ctx context.Context) error {
	var err error
	cfg, err = config.LoadWithDefaults(configFile)
	if err != nil {
		return err
	}
	if err := config.ApplySecretsFromEnv(ctx, cfg); err != nil {
		return err
	}
	return config.Validate(cfg)
}

func setupDependencies(ctx context.Context) error {
	appLog = logger.NewLogger(cfg.App.LogLevel, cfg.App.Environment)

	var err error
	repos, db, err = repository.Open(ctx, cfg, appLog)
	return err
}

// resolveRace returns the --race flag or the active race
func resolveRace(ctx context.Context) (uuid.UUID, error) {
	if raceFlag != "" {
		id, err := uuid.Parse(raceFlag)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid race ID %q: %w", raceFlag, err)
		}
		return id, nil
	}
	race, err := repos.Race.GetActive(ctx)
	if err != nil {
		if errors.Is(err, models.ErrNoActiveRace) {
			return uuid.Nil, fmt.Errorf("no active race; pass --race")
		}
		return uuid.Nil, err
	}
	return race.ID, nil
}

func newServices() (*service.IngestionService, *service.LeaderboardService) {
	store := cache.New(cache.WithDefaultTTL(cfg.Cache.DefaultTTL()))
	ingestion := service.NewIngestionService(repos, store, appLog)
	board := service.NewLeaderboardService(repos, store, service.LeaderboardOptions{
		AgeBands: cfg.Race.AgeBands(),
		TeamSize: cfg.Race.TeamSize,
		LapsTTL:  cfg.Cache.LapsTTL(),
	}, appLog)
	return ingestion, board
}
