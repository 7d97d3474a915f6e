package schema

import "time"

// EventType tags an analytics event.
type EventType string

const (
	// EventEntitiesListed is emitted when a full entity listing is read from the store.
	EventEntitiesListed EventType = "entities_listed"
	// EventEntityRelationsViewed is emitted when the invasions of one entity are read from the store.
	EventEntityRelationsViewed EventType = "entity_relations_viewed"
)

// AnalyticsEvent is an append-only usage fact travelling through the event queue.
// Timestamp is UTC and serialized as RFC 3339.
type AnalyticsEvent struct {
	ID        string         `json:"id,omitempty"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
}
