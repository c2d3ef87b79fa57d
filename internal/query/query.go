package query

import (
	"strings"
	"time"

	"threathunt/internal/common"
	"threathunt/internal/threat"
)

// HitUnknown is recorded as the hit count of a query whose execution failed.
// It never collides with a real count, which is always >= 0.
const HitUnknown = -1

// Window is the closed time range searched by every query of one run.
type Window struct {
	From time.Time
	To   time.Time
}

// NewWindow returns [now-days, now].
func NewWindow(now time.Time, days int) Window {
	return Window{From: now.AddDate(0, 0, -days), To: now}
}

// SearchQuery is a backend search built from one indicator.
type SearchQuery struct {
	Window     Window
	Subject    string
	Expression string
	HitCount   int
}

// WithHits returns a copy of q carrying n as its hit count.
func (q SearchQuery) WithHits(n int) SearchQuery {
	q.HitCount = n
	return q
}

// Failed reports whether the query carries the failure sentinel.
func (q SearchQuery) Failed() bool { return q.HitCount == HitUnknown }

type template func(v string) string

func equals(field string) template {
	return func(v string) string { return field + `="` + v + `"` }
}

func anyOf(ts ...template) template {
	return func(v string) string {
		parts := make([]string, len(ts))
		for i, t := range ts {
			parts[i] = t(v)
		}
		return strings.Join(parts, " OR ")
	}
}

// templates maps an indicator kind to its search expression. Adding a kind
// is a single entry here.
var templates = map[common.Kind]template{
	common.KindDestIP:   equals("dest_ip"),
	common.KindHostname: anyOf(equals("hostname"), equals("dns_query")),
	common.KindSHA256:   equals("file_hash"),
}

var fallback = equals("value")

var escaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Build returns the search expression for ind. It is pure: equal indicators
// always produce identical expressions.
func Build(ind threat.Indicator) string {
	t, ok := templates[ind.Kind]
	if !ok {
		t = fallback
	}
	return t(escaper.Replace(ind.Value))
}

// BuildAll creates one query per indicator, in order, all sharing w.
func BuildAll(inds []threat.Indicator, w Window) []SearchQuery {
	out := make([]SearchQuery, len(inds))
	for i, ind := range inds {
		out[i] = SearchQuery{
			Window:     w,
			Subject:    ind.Value,
			Expression: Build(ind),
		}
	}
	return out
}
