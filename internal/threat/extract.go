package threat

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"threathunt/internal/common"
)

// Extract flattens events into indicators whose kind is in allowed.
// Event order and, within an event, attribute order are preserved.
// Repeated values are kept so every occurrence stays traceable to its event.
func Extract(events []Event, allowed []common.Kind) []Indicator {
	set := common.NewKindSet(allowed)
	var out []Indicator
	for _, ev := range events {
		for _, attr := range ev.Attributes {
			kind := common.Kind(attr.Type)
			if !set.Has(kind) {
				continue
			}
			out = append(out, Indicator{Kind: kind, Value: attr.Value, EventID: ev.ID})
		}
	}
	return out
}

// flexString accepts both JSON strings and numbers; the platform is not
// consistent about identifier types across versions.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type rawEvent struct {
	ID         flexString  `json:"id"`
	Date       string      `json:"date"`
	Info       string      `json:"info"`
	Attributes []Attribute `json:"Attribute"`
	Reports    []Report    `json:"EventReport"`
}

type eventWrapper struct {
	Event *rawEvent `json:"Event"`
}

// DecodeEvents parses a platform search response. Both a bare array of
// {"Event": {...}} wrappers and {"response": [...]} are accepted. Entries that
// cannot be decoded or lack the Event object are logged and skipped.
func DecodeEvents(data []byte, logger *slog.Logger) ([]Event, error) {
	data = bytes.TrimSpace(data)
	var items []json.RawMessage
	if len(data) > 0 && data[0] == '{' {
		var envelope struct {
			Response []json.RawMessage `json:"response"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return nil, fmt.Errorf("decode response envelope: %w", err)
		}
		items = envelope.Response
	} else if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode event list: %w", err)
	}

	events := make([]Event, 0, len(items))
	for i, item := range items {
		var w eventWrapper
		if err := json.Unmarshal(item, &w); err != nil {
			logger.Warn("skipping event", "index", i, "err", fmt.Errorf("%w: %v", ErrMalformedEvent, err))
			continue
		}
		if w.Event == nil {
			logger.Warn("skipping event", "index", i, "err", fmt.Errorf("%w: missing Event object", ErrMalformedEvent))
			continue
		}
		events = append(events, Event{
			ID:         string(w.Event.ID),
			Date:       w.Event.Date,
			Info:       w.Event.Info,
			Attributes: w.Event.Attributes,
			Reports:    w.Event.Reports,
		})
	}
	return events, nil
}

// CountByKind tallies indicators per kind.
func CountByKind(inds []Indicator) map[common.Kind]int {
	out := make(map[common.Kind]int)
	for _, ind := range inds {
		out[ind.Kind]++
	}
	return out
}
