package eventbus

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"example.com/commerce/internal/domain"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// EventHandler reacts to a delivered event. Handlers must be idempotent.
type EventHandler func(ctx context.Context, evt domain.Event) error

type subscription struct {
	id        string
	eventType string
	handler   EventHandler
}

// dispatcher is the in-process registry of event handlers.
type dispatcher struct {
	mu   sync.RWMutex
	subs []subscription
}

func (d *dispatcher) add(eventType string, handler EventHandler) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := uuid.NewString()
	d.subs = append(d.subs, subscription{id: id, eventType: eventType, handler: handler})
	return id
}

func (d *dispatcher) remove(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, s := range d.subs {
		if s.id == id {
			d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
			return true
		}
	}
	return false
}

// match returns the handlers for eventType in registration order.
func (d *dispatcher) match(eventType string) []subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []subscription
	for _, s := range d.subs {
		if s.eventType == eventType || s.eventType == Wildcard {
			out = append(out, s)
		}
	}
	return out
}

// safeCall runs fn and turns a panic into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn()
}
