package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Payload is the typed body of an event. Every aggregate owns a closed set of
// payload types and switches over them when folding its stream.
type Payload interface {
	EventType() string
}

// Metadata travels with every event.
type Metadata struct {
	Timestamp     time.Time `json:"timestamp"`
	Version       int       `json:"version"`
	UserID        string    `json:"userId,omitempty"`
	CorrelationID string    `json:"correlationId,omitempty"`
	CausationID   string    `json:"causationId,omitempty"`
}

// Event is an immutable fact about one aggregate.
type Event struct {
	EventID       string
	EventType     string
	AggregateID   string
	AggregateType string
	Data          Payload
	Metadata      Metadata
}

// MetadataOption overrides a metadata default when an event is created.
type MetadataOption func(*Metadata)

// WithVersion sets the metadata version.
func WithVersion(version int) MetadataOption {
	return func(m *Metadata) { m.Version = version }
}

// WithTimestamp sets the event timestamp.
func WithTimestamp(ts time.Time) MetadataOption {
	return func(m *Metadata) { m.Timestamp = ts.UTC() }
}

// WithUserID records the user that caused the event.
func WithUserID(userID string) MetadataOption {
	return func(m *Metadata) { m.UserID = userID }
}

// WithCorrelationID records the correlation id of the originating request.
func WithCorrelationID(correlationID string) MetadataOption {
	return func(m *Metadata) { m.CorrelationID = correlationID }
}

// WithCausationID records the id of the message that caused the event.
func WithCausationID(causationID string) MetadataOption {
	return func(m *Metadata) { m.CausationID = causationID }
}

// NewEvent creates an event with a fresh id, the current time and version 1
// unless overridden. The event store assigns the authoritative version.
func NewEvent(data Payload, aggregateID, aggregateType string, opts ...MetadataOption) Event {
	meta := Metadata{
		Timestamp: time.Now().UTC(),
		Version:   1,
	}
	for _, opt := range opts {
		opt(&meta)
	}

	return Event{
		EventID:       uuid.New().String(),
		EventType:     data.EventType(),
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		Data:          data,
		Metadata:      meta,
	}
}

// wireEvent is the transport and storage shape of an event.
type wireEvent struct {
	EventID       string          `json:"eventId"`
	EventType     string          `json:"eventType"`
	AggregateID   string          `json:"aggregateId"`
	AggregateType string          `json:"aggregateType,omitempty"`
	Data          json.RawMessage `json:"data"`
	Metadata      Metadata        `json:"metadata"`
}

// MarshalJSON encodes the event in its wire shape.
func (e Event) MarshalJSON() ([]byte, error) {
	data := json.RawMessage("{}")
	if e.Data != nil {
		raw, err := json.Marshal(e.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", e.EventType, err)
		}
		data = raw
	}

	return json.Marshal(wireEvent{
		EventID:       e.EventID,
		EventType:     e.EventType,
		AggregateID:   e.AggregateID,
		AggregateType: e.AggregateType,
		Data:          data,
		Metadata:      e.Metadata,
	})
}

// UnmarshalJSON decodes the wire shape, resolving the payload by event type.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return fmt.Errorf("failed to unmarshal event: %w", err)
	}
	if w.EventType == "" {
		return fmt.Errorf("event %q has no event type", w.EventID)
	}

	payload, err := DecodePayload(w.EventType, w.Data)
	if err != nil {
		return err
	}

	*e = Event{
		EventID:       w.EventID,
		EventType:     w.EventType,
		AggregateID:   w.AggregateID,
		AggregateType: w.AggregateType,
		Data:          payload,
		Metadata:      w.Metadata,
	}
	return nil
}

// ToMap converts the event into a plain mapping.
func (e Event) ToMap() (map[string]any, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}

	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to convert event to map: %w", err)
	}
	return m, nil
}

// EventFromMap rebuilds an event from the mapping produced by ToMap.
func EventFromMap(m map[string]any) (Event, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return Event{}, fmt.Errorf("failed to convert map to event: %w", err)
	}

	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}
