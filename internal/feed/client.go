package feed

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"candlescan/internal/model"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	maxInbound = 4096
)

// Client represents a single websocket peer.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	fmu     sync.RWMutex
	filters Filters
}

// filterMsg replaces a client's filters: {"type":"FILTER","patterns":[…]}.
type filterMsg struct {
	Type string `json:"type"`
	Ping int64  `json:"ping"`
	Filters
}

func newClient(h *Hub, conn *websocket.Conn, f Filters) *Client {
	return &Client{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		hub:     h,
		filters: f,
	}
}

func (c *Client) accepts(m *model.PatternMatch) bool {
	c.fmu.RLock()
	defer c.fmu.RUnlock()
	return c.filters.Accept(m)
}

func (c *Client) setFilters(f Filters) {
	c.fmu.Lock()
	c.filters = f
	c.fmu.Unlock()
}

// sendInitialState queues the newest closed match of every channel the
// client's filters accept.
func (c *Client) sendInitialState() {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for _, e := range c.hub.latest {
		if !c.accepts(&e.match) {
			continue
		}
		c.enqueue(initialEnvelope(e.data))
	}
}

// sendBacklog queues the buffered messages after seq that the client's
// filters accept, in sequence order.
func (c *Client) sendBacklog(seq int64) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()

	for _, e := range c.hub.backlog.since(seq) {
		if !c.accepts(&e.match) {
			continue
		}
		c.enqueue(e.data)
	}
}

// pongMsg answers a latency ping with the server clock.
type pongMsg struct {
	Type     string `json:"type"`
	Ping     int64  `json:"ping"`
	ServerTS int64  `json:"server_ts"`
}

// enqueue queues msg without blocking; a full buffer drops it.
func (c *Client) enqueue(msg []byte) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) write(kind int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(kind, data)
}

func (c *Client) writePump() {
	keepalive := time.NewTicker(pingPeriod)
	defer keepalive.Stop()
	defer c.conn.Close()

	for {
		var err error
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "feed closed"))
				return
			}
			err = c.write(websocket.TextMessage, msg)
		case <-keepalive.C:
			err = c.write(websocket.PingMessage, nil)
		}
		if err != nil {
			return
		}
	}
}

func (c *Client) readPump() {
	defer c.conn.Close()
	defer c.hub.RemoveClient(c)

	extend := func() { c.conn.SetReadDeadline(time.Now().Add(pongWait)) }
	c.conn.SetReadLimit(maxInbound)
	extend()
	c.conn.SetPongHandler(func(string) error { extend(); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg filterMsg
		if json.Unmarshal(raw, &msg) != nil {
			continue
		}
		if msg.Type == "FILTER" {
			c.setFilters(msg.Filters)
			slog.Debug("feed client filters updated",
				slog.Any("patterns", msg.Patterns), slog.Any("tokens", msg.Tokens))
			continue
		}
		if msg.Ping > 0 {
			pong, _ := json.Marshal(pongMsg{Type: "pong", Ping: msg.Ping, ServerTS: time.Now().UnixMilli()})
			c.enqueue(pong)
		}
	}
}
