package feed

import (
	"net/url"
	"strconv"
	"strings"

	"candlescan/internal/model"
)

// Filters restricts which matches a client receives. Empty fields accept
// everything.
type Filters struct {
	Patterns []string `json:"patterns"`
	Tokens   []string `json:"tokens"` // "exchange:token"
	TFs      []int    `json:"tfs"`
}

// FiltersFromQuery reads ?patterns=A,B&tokens=NSE:1&tfs=60,300.
func FiltersFromQuery(q url.Values) Filters {
	var f Filters
	for _, p := range splitList(q.Get("patterns")) {
		f.Patterns = append(f.Patterns, strings.ToUpper(p))
	}
	for _, t := range splitList(q.Get("tokens")) {
		if i := strings.IndexByte(t, ':'); i > 0 {
			t = strings.ToUpper(t[:i]) + t[i:]
		}
		f.Tokens = append(f.Tokens, t)
	}
	for _, s := range splitList(q.Get("tfs")) {
		if tf, err := strconv.Atoi(s); err == nil && tf > 0 {
			f.TFs = append(f.TFs, tf)
		}
	}
	return f
}

// Accept reports whether m passes every non-empty filter.
func (f Filters) Accept(m *model.PatternMatch) bool {
	if len(f.Patterns) > 0 && !containsString(f.Patterns, m.Pattern) {
		return false
	}
	if len(f.Tokens) > 0 && !containsString(f.Tokens, m.Key()) {
		return false
	}
	if len(f.TFs) > 0 {
		for _, tf := range f.TFs {
			if tf == m.TF {
				return true
			}
		}
		return false
	}
	return true
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
