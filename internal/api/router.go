// Package api serves the pattern engine's HTTP surface: the websocket match
// feed plus small REST endpoints over the catalog and recent matches.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"candlescan/internal/feed"
	"candlescan/internal/model"
	"candlescan/internal/pattern"
)

// Journal answers queries over journaled matches.
type Journal interface {
	CountMatches(tf int, fromTS int64) (map[string]int, error)
	QueryMatches(q model.MatchQuery) ([]model.PatternMatch, error)
}

// Deps are the components the router reads from. Journal may be nil when
// the journal is disabled.
type Deps struct {
	Hub     *feed.Hub
	Catalog *pattern.Catalog
	Journal Journal
}

// PatternInfo describes one catalog entry.
type PatternInfo struct {
	Name      string `json:"name"`
	Direction string `json:"direction"`
	MinBars   int    `json:"minBars"`
}

// NewRouter sets up HTTP routes for the feed server.
func NewRouter(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.Handle("/ws", d.Hub)

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// GET /api/v1/patterns
	mux.HandleFunc("/api/v1/patterns", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		defs := d.Catalog.Definitions()
		out := make([]PatternInfo, len(defs))
		for i, def := range defs {
			out[i] = PatternInfo{Name: def.Name, Direction: string(def.Direction), MinBars: def.MinBars}
		}
		writeJSON(w, out)
	})

	// GET /api/v1/matches/latest?patterns=&tokens=&tfs=
	mux.HandleFunc("/api/v1/matches/latest", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		f := feed.FiltersFromQuery(r.URL.Query())
		out := []model.PatternMatch{}
		for _, m := range d.Hub.Latest() {
			if f.Accept(&m) {
				out = append(out, m)
			}
		}
		writeJSON(w, out)
	})

	// GET /api/v1/matches/counts?tf=60&from=UNIX
	mux.HandleFunc("/api/v1/matches/counts", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		if d.Journal == nil {
			http.Error(w, "match journal disabled", http.StatusServiceUnavailable)
			return
		}
		q := r.URL.Query()
		tf, err := strconv.Atoi(q.Get("tf"))
		if err != nil || tf <= 0 {
			http.Error(w, "tf must be a positive integer", http.StatusBadRequest)
			return
		}
		var from int64
		if s := q.Get("from"); s != "" {
			if from, err = strconv.ParseInt(s, 10, 64); err != nil {
				http.Error(w, "from must be unix seconds", http.StatusBadRequest)
				return
			}
		}
		counts, err := d.Journal.CountMatches(tf, from)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, counts)
	})

	// GET /api/v1/matches/history?pattern=&token=EXCH:tok&tf=&from=&to=&limit=
	mux.HandleFunc("/api/v1/matches/history", func(w http.ResponseWriter, r *http.Request) {
		if !allowGet(w, r) {
			return
		}
		if d.Journal == nil {
			http.Error(w, "match journal disabled", http.StatusServiceUnavailable)
			return
		}
		mq, err := historyQuery(r.URL.Query())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		matches, err := d.Journal.QueryMatches(mq)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if matches == nil {
			matches = []model.PatternMatch{}
		}
		writeJSON(w, matches)
	})

	return mux
}

// historyQuery parses history filters. Pattern names and exchanges are
// matched upper-case.
func historyQuery(v url.Values) (model.MatchQuery, error) {
	q := model.MatchQuery{Pattern: strings.ToUpper(strings.TrimSpace(v.Get("pattern")))}
	if tok := strings.TrimSpace(v.Get("token")); tok != "" {
		exch, token, ok := strings.Cut(tok, ":")
		if !ok || exch == "" || token == "" {
			return q, errors.New("token must be EXCHANGE:TOKEN")
		}
		q.Exchange, q.Token = strings.ToUpper(exch), token
	}
	ints := []struct {
		name string
		dst  *int64
	}{{"from", &q.FromTS}, {"to", &q.ToTS}}
	for _, p := range ints {
		if s := v.Get(p.name); s != "" {
			n, err := strconv.ParseInt(s, 10, 64)
			if err != nil || n < 0 {
				return q, fmt.Errorf("%s must be unix seconds", p.name)
			}
			*p.dst = n
		}
	}
	if s := v.Get("tf"); s != "" {
		tf, err := strconv.Atoi(s)
		if err != nil || tf <= 0 {
			return q, errors.New("tf must be a positive integer")
		}
		q.TF = tf
	}
	q.Limit = 100
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			return q, errors.New("limit must be a positive integer")
		}
		q.Limit = n
	}
	return q, nil
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	SetCORS(w)
	switch r.Method {
	case http.MethodGet:
		return true
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "GET only", http.StatusMethodNotAllowed)
	}
	return false
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
