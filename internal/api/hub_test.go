package api

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/lapwatch/internal/models"
	"github.com/yourusername/lapwatch/internal/repository"
)

func startHub(t *testing.T, events EventLister) (*Hub, string) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)
	hub := NewHub(events, log)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raceID := uuid.MustParse(r.URL.Query().Get("race"))
		since, _ := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64)
		hub.Serve(w, r, raceID, since)
	}))
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})

	return hub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, hub *Hub, url string, want int) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Count() == want }, 2*time.Second, 10*time.Millisecond)
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *models.RaceEvent {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "race_event", msg.Type)
	require.NotNil(t, msg.Event)
	return msg.Event
}

func insertEvent(t *testing.T, repos *repository.Repositories, raceID uuid.UUID, key string) *models.RaceEvent {
	t.Helper()
	e := &models.RaceEvent{
		RaceID:   raceID,
		Type:     models.EventMilestone,
		Priority: models.PriorityLow,
		Bibs:     []int{7},
		DedupKey: key,
	}
	inserted, err := repos.Event.InsertIfAbsent(context.Background(), e)
	require.NoError(t, err)
	require.True(t, inserted)
	return e
}

func TestHubReplaysMissedEventsThenStreamsLive(t *testing.T) {
	repos := repository.NewMemoryRepositories()
	raceID := uuid.New()
	insertEvent(t, repos, raceID, "one")
	insertEvent(t, repos, raceID, "two")

	hub, url := startHub(t, repos.Event)
	conn := dial(t, hub, url+"?race="+raceID.String()+"&since=1", 1)

	assert.Equal(t, int64(2), readEvent(t, conn).Sequence)

	live := insertEvent(t, repos, raceID, "three")
	hub.Publish(live)
	assert.Equal(t, int64(3), readEvent(t, conn).Sequence)
}

func TestHubSkipsEventsAlreadyDelivered(t *testing.T) {
	repos := repository.NewMemoryRepositories()
	raceID := uuid.New()
	first := insertEvent(t, repos, raceID, "one")

	hub, url := startHub(t, repos.Event)
	conn := dial(t, hub, url+"?race="+raceID.String(), 1)
	assert.Equal(t, first.Sequence, readEvent(t, conn).Sequence)

	// Re-publishing an event the client already has must not duplicate it.
	hub.Publish(first)
	second := insertEvent(t, repos, raceID, "two")
	hub.Publish(second)
	assert.Equal(t, second.Sequence, readEvent(t, conn).Sequence)
}

func TestHubOnlyDeliversSubscribedRace(t *testing.T) {
	repos := repository.NewMemoryRepositories()
	raceA, raceB := uuid.New(), uuid.New()

	hub, url := startHub(t, repos.Event)
	connA := dial(t, hub, url+"?race="+raceA.String(), 1)
	connB := dial(t, hub, url+"?race="+raceB.String(), 2)

	hub.Publish(insertEvent(t, repos, raceB, "b1"))
	hub.Publish(insertEvent(t, repos, raceA, "a1"))

	got := readEvent(t, connA)
	assert.Equal(t, raceA, got.RaceID)
	got = readEvent(t, connB)
	assert.Equal(t, raceB, got.RaceID)
}

func TestHubUnregistersOnDisconnect(t *testing.T) {
	repos := repository.NewMemoryRepositories()
	hub, url := startHub(t, repos.Event)

	conn := dial(t, hub, url+"?race="+uuid.New().String(), 1)
	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}
