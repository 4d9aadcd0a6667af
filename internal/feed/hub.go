package feed

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"candlescan/internal/model"
)

const sendBuffer = 256

// Hub fans pattern matches out to websocket clients. Each client sees only
// the matches its Filters accept; a client whose send buffer is full misses
// the message instead of stalling the broadcaster.
type Hub struct {
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  map[string]latestEntry // channel → newest closed match
	backlog *backlog
	seq     int64

	// OnDrop is called for every message dropped on a slow client.
	OnDrop func()
	// OnClients is called with the client count after every connect/disconnect.
	OnClients func(n int)
}

type latestEntry struct {
	match model.PatternMatch
	data  []byte
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*Client]bool),
		latest:  make(map[string]latestEntry),
		backlog: newBacklog(defaultBacklog),
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client.
// Query parameters set the initial filters (see FiltersFromQuery). A client
// reconnecting with ?since=SEQ receives the buffered messages after SEQ
// instead of the latest-match snapshot.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("feed upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := newClient(h, conn, FiltersFromQuery(r.URL.Query()))
	h.register(c)

	if since, err := strconv.ParseInt(r.URL.Query().Get("since"), 10, 64); err == nil {
		c.sendBacklog(since)
	} else {
		c.sendInitialState()
	}
	go c.writePump()
	go c.readPump()
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()

	slog.Info("feed client connected", slog.Int("clients", n))
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

// RemoveClient unregisters a client and closes its send channel.
func (h *Hub) RemoveClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	n := len(h.clients)
	h.mu.Unlock()

	slog.Info("feed client disconnected", slog.Int("clients", n))
	if h.OnClients != nil {
		h.OnClients(n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Latest returns the newest closed match of every pattern and channel,
// ordered by pattern then instrument.
func (h *Hub) Latest() []model.PatternMatch {
	h.mu.RLock()
	out := make([]model.PatternMatch, 0, len(h.latest))
	for _, e := range h.latest {
		out = append(out, e.match)
	}
	h.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Pattern != out[j].Pattern {
			return out[i].Pattern < out[j].Pattern
		}
		if out[i].Key() != out[j].Key() {
			return out[i].Key() < out[j].Key()
		}
		return out[i].TF < out[j].TF
	})
	return out
}

// Broadcast sends each match to every client whose filters accept it.
func (h *Hub) Broadcast(matches []model.PatternMatch) {
	if len(matches) == 0 {
		return
	}
	now := time.Now().UTC()

	h.mu.Lock()
	defer h.mu.Unlock()

	for i := range matches {
		m := &matches[i]
		h.seq++
		env := buildEnvelope(m.PubSubChannel(), m.JSON(), now, h.seq, m.Live)
		h.backlog.push(backlogEntry{seq: h.seq, match: *m, data: env})
		if !m.Live {
			h.latest[m.PubSubChannel()+":"+m.Pattern] = latestEntry{match: *m, data: env}
		}

		for c := range h.clients {
			if !c.accepts(m) {
				continue
			}
			if !c.enqueue(env) && h.OnDrop != nil {
				h.OnDrop()
			}
		}
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	conns := make([]*websocket.Conn, 0, len(h.clients))
	for c := range h.clients {
		conns = append(conns, c.conn)
	}
	h.mu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}
}

// buildEnvelope frames a match as
// {"channel":"…","data":{…},"ts":"…","seq":N,"live":bool}.
func buildEnvelope(channel string, data []byte, now time.Time, seq int64, live bool) []byte {
	buf := make([]byte, 0, len(channel)+len(data)+128)
	buf = append(buf, `{"channel":"`...)
	buf = append(buf, channel...)
	buf = append(buf, `","data":`...)
	buf = append(buf, data...)
	buf = append(buf, `,"ts":"`...)
	buf = now.AppendFormat(buf, time.RFC3339Nano)
	buf = append(buf, `","seq":`...)
	buf = strconv.AppendInt(buf, seq, 10)
	buf = append(buf, `,"live":`...)
	buf = strconv.AppendBool(buf, live)
	buf = append(buf, '}')
	return buf
}

// Envelope is the parsed form of a feed message.
type Envelope struct {
	Channel string             `json:"channel"`
	Data    model.PatternMatch `json:"data"`
	TS      string             `json:"ts"`
	Seq     int64              `json:"seq"`
	Live    bool               `json:"live"`
	Initial bool               `json:"initial,omitempty"`
}

func initialEnvelope(data []byte) []byte {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return data
	}
	env.Initial = true
	b, _ := json.Marshal(env)
	return b
}
