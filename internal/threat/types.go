package threat

import (
	"context"
	"errors"
	"time"

	"threathunt/internal/common"
)

var (
	// ErrMalformedEvent marks an event record missing the structure the
	// pipeline needs. It is recovered locally and never aborts a run.
	ErrMalformedEvent = errors.New("malformed event")
	// ErrFetch wraps failures talking to the intelligence platform.
	ErrFetch = errors.New("event fetch failed")
)

// Attribute is a single typed observable attached to an event.
type Attribute struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Report is a long-form narrative section attached to an event.
type Report struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Event is a threat-intelligence event as returned by the platform.
// Attributes is nil when the platform sent no attribute list.
type Event struct {
	ID         string
	Date       string
	Info       string
	Attributes []Attribute
	Reports    []Report
}

// Indicator is an IoC extracted from an event. Values are never mutated
// after extraction.
type Indicator struct {
	Kind    common.Kind
	Value   string
	EventID string
}

// EventSource fetches events from an intelligence platform.
type EventSource interface {
	Name() string
	Events(ctx context.Context, since time.Time) ([]Event, error)
}
