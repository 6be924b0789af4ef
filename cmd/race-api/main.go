// Package main provides the entry point for the live race API service.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourusername/lapwatch/internal/api"
	"github.com/yourusername/lapwatch/internal/cache"
	"github.com/yourusername/lapwatch/internal/config"
	"github.com/yourusername/lapwatch/internal/events"
	"github.com/yourusername/lapwatch/internal/health"
	"github.com/yourusername/lapwatch/internal/logger"
	"github.com/yourusername/lapwatch/internal/matcher"
	"github.com/yourusername/lapwatch/internal/metrics"
	"github.com/yourusername/lapwatch/internal/models"
	"github.com/yourusername/lapwatch/internal/registry"
	"github.com/yourusername/lapwatch/internal/repository"
	"github.com/yourusername/lapwatch/internal/scheduler"
	"github.com/yourusername/lapwatch/internal/service"
	"github.com/yourusername/lapwatch/internal/tracing"
)

// Build information - set via ldflags
var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.LoadWithDefaults("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := config.ApplySecretsFromEnv(ctx, cfg); err != nil {
		log.Fatalf("Failed to load secrets: %v", err)
	}
	if err := config.Validate(cfg); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	appLog := logger.NewLogger(cfg.App.LogLevel, cfg.App.Environment)
	appLog.WithFields(logrus.Fields{
		"environment": cfg.App.Environment,
		"version":     Version,
		"commit":      GitCommit,
		"storage":     cfg.Database.Driver,
	}).Info("lapwatch API starting")

	if err := run(ctx, cfg, appLog); err != nil {
		appLog.WithError(err).Fatal("lapwatch API stopped with error")
	}
	appLog.Info("lapwatch API stopped")
}

func run(ctx context.Context, cfg *config.Config, appLog *logrus.Logger) error {
	metrics.InitRegistry()
	if err := tracing.Initialize(tracing.Config{
		ServiceName:    cfg.App.Name,
		ServiceVersion: Version,
		Enabled:        cfg.Tracing.Enabled,
		DaemonAddr:     cfg.Tracing.DaemonAddr,
	}, appLog); err != nil {
		return err
	}

	repos, db, err := repository.Open(ctx, cfg, appLog)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	store := cache.New(cache.WithDefaultTTL(cfg.Cache.DefaultTTL()))
	metrics.GetRegistry().MustRegister(cache.Gauges(store)...)
	ingestion := service.NewIngestionService(repos, store, appLog)
	board := service.NewLeaderboardService(repos, store, service.LeaderboardOptions{
		AgeBands: cfg.Race.AgeBands(),
		TeamSize: cfg.Race.TeamSize,
		LapsTTL:  cfg.Cache.LapsTTL(),
	}, appLog)

	registryClient := registry.NewClient(&cfg.Registry, appLog)
	defer registryClient.Close()
	m := matcher.NewMatcher(registryClient, repos, matcher.OptionsFromConfig(cfg.Matcher, cfg.Registry), appLog)

	hub := api.NewHub(repos.Event, appLog)
	detector := events.NewDetector(board, repos, hub, events.RulesFromConfig(cfg.Events), appLog)

	sched := scheduler.NewScheduler(appLog)
	jobs := 0
	if cfg.Events.Enabled {
		if err := sched.ScheduleDetection(detector, cfg.Events.Interval(), cfg.Events.RunTimeout()); err != nil {
			return err
		}
		jobs++
	}
	if interval := cfg.Matcher.BatchInterval(); interval > 0 {
		spec := "@every " + interval.String()
		if err := sched.ScheduleJob("batch-match", spec, interval, batchMatch(repos.Race, m)); err != nil {
			return err
		}
		jobs++
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = metrics.Handler()
	}
	healthCfg := health.Config{
		ServiceName: cfg.App.Name,
		Version:     Version,
		Port:        cfg.Health.Port,
		Logger:      appLog,
		Metrics:     metricsHandler,
	}
	if db != nil {
		healthCfg.DB = db
	}
	healthServer := health.NewServer(healthCfg)
	healthServer.AddCheck("registry", registryClient.Check, false)

	handler := api.NewHandler(ingestion, board, m, repos.Event, hub, appLog)
	server := api.NewServer(cfg.HTTP, api.NewRouter(handler, cfg.HTTP.AdminToken), appLog)
	if cfg.HTTP.AdminToken == "" {
		appLog.Warn("No admin token configured; admin routes are disabled")
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return healthServer.Run(ctx) })
	g.Go(func() error { return server.Run(ctx) })
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if jobs > 0 {
			if err := sched.Start(); err != nil {
				return err
			}
		}
		healthServer.SetReady(true)
		<-ctx.Done()
		healthServer.SetReady(false)
		if jobs > 0 {
			return sched.Stop()
		}
		return nil
	})

	return g.Wait()
}

// batchMatch matches the unmatched competitors of the active race
func batchMatch(races repository.RaceRepository, m *matcher.Matcher) func(context.Context) error {
	return func(ctx context.Context) error {
		race, err := races.GetActive(ctx)
		if err != nil {
			if errors.Is(err, models.ErrNoActiveRace) {
				return nil
			}
			return models.NewStorageError("batch match", "failed to load active race", err)
		}
		_, err = m.MatchRace(ctx, race.ID)
		return err
	}
}
