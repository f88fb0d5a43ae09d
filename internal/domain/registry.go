package domain

import (
	"encoding/json"
	"fmt"
	"sync"
)

type payloadDecoder func(raw []byte) (Payload, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]payloadDecoder{}
)

// registerPayload makes a payload type decodable by its event type name.
// It panics on duplicate registration.
func registerPayload[T Payload]() {
	var zero T
	eventType := zero.EventType()

	registryMu.Lock()
	defer registryMu.Unlock()

	if _, ok := registry[eventType]; ok {
		panic(fmt.Sprintf("event type %q is already registered", eventType))
	}
	registry[eventType] = func(raw []byte) (Payload, error) {
		var v T
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &v); err != nil {
				return nil, fmt.Errorf("failed to unmarshal %s payload: %w", eventType, err)
			}
		}
		return v, nil
	}
}

// IsKnownEventType reports whether a payload type is registered for eventType.
func IsKnownEventType(eventType string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()

	_, ok := registry[eventType]
	return ok
}

// DecodePayload decodes raw JSON into the payload registered for eventType.
// Unregistered types decode into an UnknownPayload so nothing is lost.
func DecodePayload(eventType string, raw []byte) (Payload, error) {
	registryMu.RLock()
	decode, ok := registry[eventType]
	registryMu.RUnlock()

	if ok {
		return decode(raw)
	}

	fields := map[string]any{}
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s payload: %w", eventType, err)
		}
	}
	return UnknownPayload{Type: eventType, Fields: fields}, nil
}

// UnknownPayload holds the body of an event type this build does not know.
type UnknownPayload struct {
	Type   string
	Fields map[string]any
}

func (p UnknownPayload) EventType() string { return p.Type }

// MarshalJSON writes the original fields back out unchanged.
func (p UnknownPayload) MarshalJSON() ([]byte, error) {
	if p.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.Fields)
}
