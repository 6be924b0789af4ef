package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/yourusername/lapwatch/internal/metrics"
	"github.com/yourusername/lapwatch/internal/models"
)

const (
	// writeTimeout is the deadline for a single write to a client.
	writeTimeout = 10 * time.Second

	// pongWait is how long to wait for a pong before treating the
	// connection as dead.
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	sendBufSize = 64
	replayLimit = 500
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StreamMessage is the JSON envelope pushed to stream clients
type StreamMessage struct {
	Type  string            `json:"type"`
	Event *models.RaceEvent `json:"event"`
}

// EventLister reads the persisted event feed
type EventLister interface {
	ListSince(ctx context.Context, raceID uuid.UUID, afterSeq int64, limit int) ([]*models.RaceEvent, error)
}

// Hub fans committed race events out to websocket subscribers of that race
type Hub struct {
	events EventLister
	logger *logrus.Entry

	mu      sync.RWMutex
	clients map[*client]struct{}
}

type client struct {
	raceID uuid.UUID
	conn   *websocket.Conn
	send   chan *models.RaceEvent
}

// NewHub creates a hub that replays missed events from events
func NewHub(events EventLister, log *logrus.Logger) *Hub {
	return &Hub{
		events:  events,
		logger:  log.WithField("component", "event_stream"),
		clients: make(map[*client]struct{}),
	}
}

// Publish queues e for every subscriber of its race. A subscriber whose
// buffer is full is disconnected.
func (h *Hub) Publish(e *models.RaceEvent) {
	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		if c.raceID != e.RaceID {
			continue
		}
		select {
		case c.send <- e:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.WithField("race_id", c.raceID).Warn("Dropping slow event stream client")
		h.unregister(c)
	}
}

// Serve upgrades the request and streams events of raceID with a sequence
// above since. Missed events are replayed first. Blocks until the
// connection closes.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, raceID uuid.UUID, since int64) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{
		raceID: raceID,
		conn:   conn,
		send:   make(chan *models.RaceEvent, sendBufSize),
	}
	// Register before reading the backlog so nothing committed in between is lost.
	h.register(c)
	defer h.unregister(c)

	backlog, err := h.events.ListSince(r.Context(), raceID, since, replayLimit)
	if err != nil {
		h.logger.WithError(err).WithField("race_id", raceID).Warn("Event replay failed")
		backlog = nil
	}

	go c.writePump(backlog, since)
	c.readPump()
}

// Count returns the number of connected clients
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Run closes every connection once ctx is cancelled
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetEventStreamClients(n)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetEventStreamClients(n)
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.SetEventStreamClients(0)
}

// writePump writes the backlog, then live events. Events at or below the
// last written sequence are skipped, which removes overlap between the two.
func (c *client) writePump(backlog []*models.RaceEvent, lastSeq int64) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	write := func(e *models.RaceEvent) bool {
		if e.Sequence <= lastSeq {
			return true
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteJSON(StreamMessage{Type: "race_event", Event: e}); err != nil {
			return false
		}
		lastSeq = e.Sequence
		return true
	}

	for _, e := range backlog {
		if !write(e) {
			return
		}
	}

	for {
		select {
		case e, ok := <-c.send:
			if !ok {
				c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{}) //nolint:errcheck
				return
			}
			if !write(e) {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only handles control frames and detects disconnects
func (c *client) readPump() {
	defer c.conn.Close()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}
