// Package gateway streams live prediction events to websocket clients.
package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// Event types sent over the stream.
const (
	EventPrediction = "prediction"
	EventVerdict    = "verdict"
	EventAlert      = "alert"
)

// Envelope is the frame written to every client.
type Envelope struct {
	Type       string          `json:"type"`
	Seq        int64           `json:"seq"`
	Instrument string          `json:"instrument,omitempty"`
	TS         string          `json:"ts"`
	Data       json.RawMessage `json:"data"`
}

// Hub fans events out to connected clients. Slow clients drop frames rather
// than blocking the publisher.
type Hub struct {
	upgrader websocket.Upgrader
	replay   *ReplayBuffer
	gauge    prometheus.Gauge
	log      zerolog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	clients map[*Client]struct{}
	seq     int64
}

// NewHub creates a hub with a replay ring of replayCap frames. gauge may be
// nil; when set it tracks the number of connected clients.
func NewHub(replayCap int, gauge prometheus.Gauge, l zerolog.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		replay:  NewReplayBuffer(replayCap),
		gauge:   gauge,
		log:     l.With().Str("component", "gateway").Logger(),
		now:     time.Now,
		clients: make(map[*Client]struct{}),
	}
}

// Publish marshals payload into an envelope and sends it to every client.
// It returns the sequence number assigned to the frame.
func (h *Hub) Publish(eventType, instrument string, payload any) (int64, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}

	h.mu.Lock()
	h.seq++
	env := Envelope{
		Type:       eventType,
		Seq:        h.seq,
		Instrument: instrument,
		TS:         h.now().UTC().Format(time.RFC3339Nano),
		Data:       data,
	}
	frame, err := json.Marshal(env)
	if err != nil {
		h.mu.Unlock()
		return 0, err
	}
	h.replay.Push(env.Seq, frame)
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			h.log.Debug().Int64("seq", env.Seq).Msg("client buffer full, frame dropped")
		}
	}
	h.mu.Unlock()
	return env.Seq, nil
}

// ServeHTTP upgrades the request and registers the client. A since query
// parameter replays buffered frames newer than that sequence number.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}

	since := int64(-1)
	if v := r.URL.Query().Get("since"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = n
		}
	}

	c := newClient(h, conn)

	h.mu.Lock()
	if since >= 0 {
		for _, frame := range h.replay.Since(since) {
			select {
			case c.send <- frame:
			default:
			}
		}
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	h.setGauge(count)

	h.log.Info().Int("clients", count).Msg("ws client connected")

	go c.writePump()
	go c.readPump()
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()
	h.setGauge(count)
	h.log.Info().Int("clients", count).Msg("ws client disconnected")
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) setGauge(n int) {
	if h.gauge != nil {
		h.gauge.Set(float64(n))
	}
}
