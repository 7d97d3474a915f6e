// Package analytics carries usage events from the query service to the
// analytics table: a non-blocking Dispatcher on the producer side and a
// Consumer loop on the worker side, joined by a queue.Queue.
package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/celerix-dev/invasions/pkg/schema"
)

// ErrMalformedEvent is wrapped by every decoding failure.
var ErrMalformedEvent = errors.New("malformed analytics event")

// timestampLayouts are tried in order. Older producers wrote ISO-8601 without
// a zone; those timestamps are UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// wireEvent is the queue representation. Timestamp stays a string so that
// zone-less values can be parsed leniently.
type wireEvent struct {
	ID        string         `json:"id,omitempty"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
}

// NewEvent stamps a fresh id and the current UTC time.
func NewEvent(t schema.EventType, data map[string]any, now time.Time) schema.AnalyticsEvent {
	if data == nil {
		data = map[string]any{}
	}
	return schema.AnalyticsEvent{
		ID:        uuid.NewString(),
		Type:      t,
		Data:      data,
		Timestamp: now.UTC(),
	}
}

// Encode renders ev in its queue form.
func Encode(ev schema.AnalyticsEvent) ([]byte, error) {
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	w := wireEvent{
		ID:        ev.ID,
		Type:      string(ev.Type),
		Data:      ev.Data,
		Timestamp: ev.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if w.Data == nil {
		w.Data = map[string]any{}
	}
	return json.Marshal(w)
}

// Decode parses a queued event. Events without an id get a new one, and a
// missing timestamp is replaced by now.
func Decode(payload []byte, now time.Time) (schema.AnalyticsEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return schema.AnalyticsEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if w.Type == "" {
		return schema.AnalyticsEvent{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	ev := schema.AnalyticsEvent{Type: schema.EventType(w.Type), Data: w.Data}
	if ev.Data == nil {
		ev.Data = map[string]any{}
	}

	if w.ID == "" {
		ev.ID = uuid.NewString()
	} else {
		id, err := uuid.Parse(w.ID)
		if err != nil {
			return schema.AnalyticsEvent{}, fmt.Errorf("%w: id %q: %v", ErrMalformedEvent, w.ID, err)
		}
		ev.ID = id.String()
	}

	if w.Timestamp == "" {
		ev.Timestamp = now.UTC()
		return ev, nil
	}
	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return schema.AnalyticsEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	ev.Timestamp = ts
	return ev, nil
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
