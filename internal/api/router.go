package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/lapwatch/internal/config"
	"github.com/yourusername/lapwatch/internal/tracing"
)

const (
	requestTimeout = 30 * time.Second
	segmentName    = "lapwatch-api"
)

// NewRouter wires every route. Admin routes require the bearer token.
func NewRouter(h *Handler, adminToken string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(h.logger))
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		// The event stream is long lived and must not get a request timeout.
		r.Get("/races/{raceID}/events/stream", h.streamEvents)

		r.Group(func(r chi.Router) {
			r.Use(tracing.Middleware(segmentName))
			r.Use(middleware.Timeout(requestTimeout))

			r.Get("/races/active", h.activeRace)
			r.Route("/races/{raceID}", func(r chi.Router) {
				r.Get("/", h.raceInfo)
				r.Post("/laps", h.ingestLap)
				r.Get("/leaderboard", h.leaderboard)
				r.Get("/competitors/{bib}/laps", h.lapHistory)
				r.Get("/teams", h.teams)
				r.Get("/chart", h.chart)
				r.Get("/countdown", h.countdown)
				r.Get("/events", h.listEvents)
				r.Get("/matching/stats", h.matchingStats)
			})
			r.Post("/competitors/{competitorID}/match", h.matchCompetitor)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(AdminAuth(adminToken))
			r.Use(tracing.Middleware(segmentName))
			r.Use(middleware.Timeout(5 * time.Minute))

			r.Post("/races/{raceID}/clear", h.clearRace)
			r.Put("/races/{raceID}/state", h.setRaceState)
			r.Post("/races/{raceID}/match", h.matchRace)
			r.Post("/competitors/{competitorID}/match", h.manualMatch)
			r.Post("/competitors/{competitorID}/no-match", h.markNoMatch)
			r.Post("/competitors/{competitorID}/unmatch", h.unmatch)
		})
	})

	return r
}

// Server runs the public API
type Server struct {
	server *http.Server
	logger *logrus.Entry
}

// NewServer creates the API server from configuration
func NewServer(cfg config.HTTPConfig, handler http.Handler, log *logrus.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:              cfg.Address,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
			WriteTimeout:      time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
		logger: log.WithField("component", "api"),
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("address", s.server.Addr).Info("API server starting")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("API server shutting down")
		return s.server.Shutdown(shutdownCtx)
	}
}
