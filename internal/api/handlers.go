package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/lapwatch/internal/leaderboard"
	"github.com/yourusername/lapwatch/internal/matcher"
	"github.com/yourusername/lapwatch/internal/models"
)

const maxBodyBytes = 1 << 20

// LapService is the write path for laps
type LapService interface {
	IngestLap(ctx context.Context, raceID uuid.UUID, payload *models.LapPayload) (*models.Lap, error)
	ClearRace(ctx context.Context, raceID uuid.UUID) (int64, error)
}

// LeaderboardReader is the cached read path
type LeaderboardReader interface {
	Get(ctx context.Context, raceID uuid.UUID, filter models.LeaderboardFilter) (*models.Leaderboard, error)
	LapHistory(ctx context.Context, raceID uuid.UUID, bib int) ([]*models.Lap, error)
	Teams(ctx context.Context, raceID uuid.UUID, gender models.Gender) ([]models.TeamStanding, error)
	Chart(ctx context.Context, raceID uuid.UUID, bibs []int) ([]models.ChartSeries, error)
	Countdown(ctx context.Context, raceID uuid.UUID, bibs []int) ([]models.PassingPrediction, error)
	RaceInfo(ctx context.Context, raceID uuid.UUID) (*models.Race, error)
	ActiveRace(ctx context.Context) (*models.Race, error)
	SetRaceState(ctx context.Context, raceID uuid.UUID, state models.RaceState) error
}

// MatchService resolves competitors against the registry
type MatchService interface {
	MatchByID(ctx context.Context, competitorID uuid.UUID) (*models.MatchResult, error)
	ManualMatch(ctx context.Context, competitorID uuid.UUID, registryID int64) (*models.Competitor, error)
	MarkNoMatch(ctx context.Context, competitorID uuid.UUID) (*models.Competitor, error)
	Unmatch(ctx context.Context, competitorID uuid.UUID) (*models.Competitor, error)
	MatchRace(ctx context.Context, raceID uuid.UUID) (*matcher.BatchResult, error)
	Stats(ctx context.Context, raceID uuid.UUID) (*models.MatchingStats, error)
}

// Handler serves the race API
type Handler struct {
	laps    LapService
	board   LeaderboardReader
	matcher MatchService
	events  EventLister
	hub     *Hub
	logger  *logrus.Entry
}

// NewHandler creates a new API handler
func NewHandler(laps LapService, board LeaderboardReader, m MatchService, events EventLister, hub *Hub, log *logrus.Logger) *Handler {
	return &Handler{
		laps:    laps,
		board:   board,
		matcher: m,
		events:  events,
		hub:     hub,
		logger:  log.WithField("component", "api"),
	}
}

// ClearResponse reports the outcome of a race clear
type ClearResponse struct {
	RaceID      uuid.UUID `json:"race_id"`
	LapsDeleted int64     `json:"laps_deleted"`
}

// EventsResponse is one page of the event feed
type EventsResponse struct {
	Events  []*models.RaceEvent `json:"events"`
	LastSeq int64               `json:"last_seq"`
}

type stateRequest struct {
	State string `json:"state"`
}

type manualMatchRequest struct {
	RegistryID int64 `json:"registry_id"`
}

func (h *Handler) activeRace(w http.ResponseWriter, r *http.Request) {
	race, err := h.board.ActiveRace(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, race)
}

func (h *Handler) raceInfo(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}
	race, err := h.board.RaceInfo(r.Context(), raceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, race)
}

func (h *Handler) ingestLap(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}

	var payload models.LapPayload
	if !decodeBody(w, r, &payload) {
		return
	}

	lap, err := h.laps.IngestLap(r.Context(), raceID, &payload)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, lap)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}
	filter, err := models.ParseLeaderboardFilter(r.URL.Query().Get("filter"))
	if err != nil {
		badRequest(w, err.Error())
		return
	}
	bibs, ok := bibsParam(w, r, false)
	if !ok {
		return
	}

	board, err := h.board.Get(r.Context(), raceID, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(bibs) > 0 {
		watched := *board
		watched.Entries = leaderboard.Watchlist(board.Entries, bibs)
		board = &watched
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *Handler) lapHistory(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}
	bib, err := strconv.Atoi(chi.URLParam(r, "bib"))
	if err != nil || bib <= 0 {
		badRequest(w, "bib must be a positive integer")
		return
	}

	laps, err := h.board.LapHistory(r.Context(), raceID, bib)
	if err != nil {
		writeError(w, err)
		return
	}
	if laps == nil {
		laps = []*models.Lap{}
	}
	writeJSON(w, http.StatusOK, laps)
}

func (h *Handler) teams(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}
	gender := models.GenderMale
	if raw := r.URL.Query().Get("gender"); raw != "" {
		g, ok := models.ParseGender(raw)
		if !ok {
			badRequest(w, "gender must be M or W")
			return
		}
		gender = g
	}

	teams, err := h.board.Teams(r.Context(), raceID, gender)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (h *Handler) chart(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}
	bibs, ok := bibsParam(w, r, true)
	if !ok {
		return
	}

	series, err := h.board.Chart(r.Context(), raceID, bibs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (h *Handler) countdown(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}
	bibs, ok := bibsParam(w, r, true)
	if !ok {
		return
	}

	predictions, err := h.board.Countdown(r.Context(), raceID, bibs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, predictions)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}
	since, ok := int64Query(w, r, "since")
	if !ok {
		return
	}
	limit, ok := int64Query(w, r, "limit")
	if !ok {
		return
	}

	events, err := h.events.ListSince(r.Context(), raceID, since, int(limit))
	if err != nil {
		writeError(w, models.NewStorageError("list events", "failed to list events", err))
		return
	}
	resp := EventsResponse{Events: events, LastSeq: since}
	if resp.Events == nil {
		resp.Events = []*models.RaceEvent{}
	}
	if n := len(events); n > 0 {
		resp.LastSeq = events[n-1].Sequence
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}
	since, ok := int64Query(w, r, "since")
	if !ok {
		return
	}
	h.hub.Serve(w, r, raceID, since)
}

func (h *Handler) matchCompetitor(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "competitorID")
	if !ok {
		return
	}
	result, err := h.matcher.MatchByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) matchingStats(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}
	stats, err := h.matcher.Stats(r.Context(), raceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) clearRace(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}
	deleted, err := h.laps.ClearRace(r.Context(), raceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ClearResponse{RaceID: raceID, LapsDeleted: deleted})
}

func (h *Handler) setRaceState(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}
	var req stateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	state, err := models.ParseRaceState(req.State)
	if err != nil {
		badRequest(w, err.Error())
		return
	}

	if err := h.board.SetRaceState(r.Context(), raceID, state); err != nil {
		writeError(w, err)
		return
	}
	race, err := h.board.RaceInfo(r.Context(), raceID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, race)
}

func (h *Handler) matchRace(w http.ResponseWriter, r *http.Request) {
	raceID, ok := raceParam(w, r)
	if !ok {
		return
	}
	batch, err := h.matcher.MatchRace(r.Context(), raceID)
	if err != nil && batch == nil {
		writeError(w, err)
		return
	}
	if err != nil {
		h.logger.WithError(err).WithField("race_id", raceID).Warn("Batch match stopped early")
	}
	writeJSON(w, http.StatusOK, batch)
}

func (h *Handler) manualMatch(w http.ResponseWriter, r *http.Request) {
	id, ok := uuidParam(w, r, "competitorID")
	if !ok {
		return
	}
	var req manualMatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RegistryID <= 0 {
		badRequest(w, "registry_id is required")
		return
	}

	competitor, err := h.matcher.ManualMatch(r.Context(), id, req.RegistryID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, competitor)
}

func (h *Handler) markNoMatch(w http.ResponseWriter, r *http.Request) {
	h.competitorAction(w, r, h.matcher.MarkNoMatch)
}

func (h *Handler) unmatch(w http.ResponseWriter, r *http.Request) {
	h.competitorAction(w, r, h.matcher.Unmatch)
}

func (h *Handler) competitorAction(w http.ResponseWriter, r *http.Request, action func(context.Context, uuid.UUID) (*models.Competitor, error)) {
	id, ok := uuidParam(w, r, "competitorID")
	if !ok {
		return
	}
	competitor, err := action(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, competitor)
}

func raceParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	return uuidParam(w, r, "raceID")
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		badRequest(w, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func int64Query(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		badRequest(w, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

// bibsParam parses ?bibs=1,2,3
func bibsParam(w http.ResponseWriter, r *http.Request, required bool) ([]int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("bibs"))
	if raw == "" {
		if required {
			badRequest(w, "bibs is required")
			return nil, false
		}
		return nil, true
	}

	var bibs []int
	for _, part := range strings.Split(raw, ",") {
		bib, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || bib <= 0 {
			badRequest(w, "bibs must be a comma separated list of positive integers")
			return nil, false
		}
		bibs = append(bibs, bib)
	}
	return bibs, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid request body", err.Error())
		return false
	}
	return true
}
