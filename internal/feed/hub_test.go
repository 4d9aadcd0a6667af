package feed

import (
	"encoding/json"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"candlescan/internal/model"
)

func match(pattern, token string, tf int) model.PatternMatch {
	return model.PatternMatch{
		Pattern:   pattern,
		Direction: "neutral",
		Token:     token,
		Exchange:  "NSE",
		TF:        tf,
		TS:        time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC),
		Close:     101.5,
	}
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients: got %d, want %d", h.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("envelope is not valid JSON: %v\nraw: %s", err, raw)
	}
	return env
}

func TestHubDeliversFilteredMatches(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv, "patterns=doji&tokens=nse:2885")
	waitClients(t, h, 1)

	h.Broadcast([]model.PatternMatch{
		match("HAMMER", "2885", 60),
		match("DOJI", "1333", 60),
		match("DOJI", "2885", 300),
	})

	env := readEnvelope(t, conn)
	if env.Data.Pattern != "DOJI" || env.Data.Token != "2885" || env.Data.TF != 300 {
		t.Fatalf("unexpected match delivered: %+v", env.Data)
	}
	if env.Channel != "pub:pat:300s:NSE:2885" {
		t.Errorf("channel: got %q", env.Channel)
	}
	if env.Seq != 3 {
		t.Errorf("seq: got %d, want 3", env.Seq)
	}
}

func TestHubSendsLatestOnConnect(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	live := match("MARUBOZU", "2885", 60)
	live.Live = true
	h.Broadcast([]model.PatternMatch{match("DOJI", "2885", 60), live})

	conn := dial(t, srv, "")
	env := readEnvelope(t, conn)
	if !env.Initial {
		t.Error("expected initial flag on replayed match")
	}
	if env.Data.Pattern != "DOJI" {
		t.Errorf("pattern: got %q, want DOJI (live previews are not replayed)", env.Data.Pattern)
	}
}

func TestHubClientFilterUpdate(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	conn := dial(t, srv, "patterns=DOJI")
	waitClients(t, h, 1)

	if err := conn.WriteJSON(map[string]interface{}{"type": "FILTER", "patterns": []string{"HAMMER"}}); err != nil {
		t.Fatalf("write filter: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	hammer := match("HAMMER", "2885", 60)
	for {
		var c *Client
		h.mu.RLock()
		for cl := range h.clients {
			c = cl
		}
		h.mu.RUnlock()
		if c != nil && c.accepts(&hammer) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("filter update not applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Broadcast([]model.PatternMatch{match("DOJI", "2885", 60), hammer})
	if env := readEnvelope(t, conn); env.Data.Pattern != "HAMMER" {
		t.Errorf("pattern: got %q, want HAMMER", env.Data.Pattern)
	}
}

func TestHubDropsForSlowClient(t *testing.T) {
	h := NewHub()
	var drops int64
	h.OnDrop = func() { atomic.AddInt64(&drops, 1) }

	c := &Client{hub: h, send: make(chan []byte, 1)}
	h.register(c)

	h.Broadcast([]model.PatternMatch{
		match("DOJI", "2885", 60),
		match("DOJI", "2885", 300),
		match("DOJI", "2885", 900),
	})
	if got := atomic.LoadInt64(&drops); got != 2 {
		t.Errorf("drops: got %d, want 2", got)
	}

	h.RemoveClient(c)
	h.RemoveClient(c)
	if h.ClientCount() != 0 {
		t.Errorf("clients: got %d, want 0", h.ClientCount())
	}
}

func TestHubClientCountCallback(t *testing.T) {
	h := NewHub()
	var last int64 = -1
	h.OnClients = func(n int) { atomic.StoreInt64(&last, int64(n)) }

	srv := httptest.NewServer(h)
	defer srv.Close()

	conn := dial(t, srv, "")
	waitClients(t, h, 1)
	if got := atomic.LoadInt64(&last); got != 1 {
		t.Errorf("OnClients after connect: got %d, want 1", got)
	}

	conn.Close()
	waitClients(t, h, 0)
}

func TestFiltersFromQuery(t *testing.T) {
	q, _ := url.ParseQuery("patterns=doji, hammer&tokens=nse:2885,BSE:500325&tfs=60,x,300,-5")
	f := FiltersFromQuery(q)

	if len(f.Patterns) != 2 || f.Patterns[0] != "DOJI" || f.Patterns[1] != "HAMMER" {
		t.Errorf("patterns: got %v", f.Patterns)
	}
	if len(f.Tokens) != 2 || f.Tokens[0] != "NSE:2885" || f.Tokens[1] != "BSE:500325" {
		t.Errorf("tokens: got %v", f.Tokens)
	}
	if len(f.TFs) != 2 || f.TFs[0] != 60 || f.TFs[1] != 300 {
		t.Errorf("tfs: got %v", f.TFs)
	}

	m := match("DOJI", "2885", 300)
	if !f.Accept(&m) {
		t.Error("expected DOJI on NSE:2885 300s to pass")
	}
	m.TF = 900
	if f.Accept(&m) {
		t.Error("900s should be filtered out")
	}
	if !(Filters{}).Accept(&m) {
		t.Error("empty filters should accept everything")
	}
}

func TestHubBackfillsSinceSeq(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(h)
	defer srv.Close()
	defer h.Close()

	h.Broadcast([]model.PatternMatch{
		match("DOJI", "2885", 60),
		match("HAMMER", "2885", 60),
		match("DOJI", "2885", 300),
	})

	conn := dial(t, srv, "since=1&patterns=DOJI")
	env := readEnvelope(t, conn)
	if env.Seq != 3 || env.Data.Pattern != "DOJI" {
		t.Errorf("backfill: got seq %d %s, want seq 3 DOJI", env.Seq, env.Data.Pattern)
	}
	if env.Initial {
		t.Error("backfilled messages are not initial snapshots")
	}
}
