package sqlite

import (
	"fmt"
	"strings"
	"time"

	"candlescan/internal/model"
)

const maxQueryLimit = 1000

func matchWhere(q model.MatchQuery) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, v interface{}) {
		conds = append(conds, cond)
		args = append(args, v)
	}
	if q.Pattern != "" {
		add("pattern = ?", q.Pattern)
	}
	if q.Exchange != "" {
		add("exchange = ?", q.Exchange)
	}
	if q.Token != "" {
		add("token = ?", q.Token)
	}
	if q.TF > 0 {
		add("tf = ?", q.TF)
	}
	if q.FromTS > 0 {
		add("ts >= ?", q.FromTS)
	}
	if q.ToTS > 0 {
		add("ts < ?", q.ToTS)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// QueryMatches returns journaled matches, newest first, at most 1000.
func (w *Writer) QueryMatches(q model.MatchQuery) ([]model.PatternMatch, error) {
	limit := q.Limit
	if limit <= 0 || limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	where, args := matchWhere(q)
	rows, err := w.db.Query(`SELECT pattern, direction, token, exchange, tf, ts, close FROM pattern_matches`+
		where+` ORDER BY ts DESC, pattern LIMIT ?`, append(args, limit)...)
	if err != nil {
		return nil, fmt.Errorf("sqlite query matches: %w", err)
	}
	defer rows.Close()

	var out []model.PatternMatch
	for rows.Next() {
		var m model.PatternMatch
		var ts int64
		if err := rows.Scan(&m.Pattern, &m.Direction, &m.Token, &m.Exchange, &m.TF, &ts, &m.Close); err != nil {
			return nil, fmt.Errorf("sqlite scan match: %w", err)
		}
		m.TS = time.Unix(ts, 0).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountMatches returns journaled match counts per pattern for a timeframe at
// or after fromTS.
func (w *Writer) CountMatches(tf int, fromTS int64) (map[string]int, error) {
	where, args := matchWhere(model.MatchQuery{TF: tf, FromTS: fromTS})
	rows, err := w.db.Query(`SELECT pattern, COUNT(*) FROM pattern_matches`+where+` GROUP BY pattern`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite count matches: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var name string
		var n int
		if err := rows.Scan(&name, &n); err != nil {
			return nil, fmt.Errorf("sqlite scan match count: %w", err)
		}
		counts[name] = n
	}
	return counts, rows.Err()
}
