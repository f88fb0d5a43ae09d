package eventbus

import (
	"context"
	"errors"
)

var (
	// ErrNotConnected is returned when the broker connection is unavailable.
	ErrNotConnected = errors.New("eventbus: not connected")
	// ErrClosed is returned by operations on a closed bus or transport.
	ErrClosed = errors.New("eventbus: closed")
	// ErrRetry is wrapped by handlers that want the event redelivered
	// instead of acknowledged.
	ErrRetry = errors.New("eventbus: retry delivery")
)

// OutgoingMessage is a single message handed to a Transport.
type OutgoingMessage struct {
	// ID doubles as the broker-side deduplication id.
	ID string
	// Subject is the event or command type.
	Subject string
	Body    []byte
}

// Delivery is a received message awaiting settlement. Exactly one of Ack,
// Nack or DeadLetter should be called; an unsettled delivery is redelivered
// once the broker lock expires or the consumer disconnects.
type Delivery interface {
	Body() []byte
	// DeliveryCount starts at 1 for the first delivery.
	DeliveryCount() int
	Ack(ctx context.Context) error
	// Nack returns the message to the queue for redelivery.
	Nack(ctx context.Context) error
	DeadLetter(ctx context.Context, reason string) error
}

// DeliveryFunc processes and settles one delivery.
type DeliveryFunc func(ctx context.Context, d Delivery)

// Transport is the durable broker underneath a Bus. Events fan out to one
// queue per consuming service; commands go to a single queue per target.
type Transport interface {
	// PublishEvent returns once the broker has durably accepted msg.
	PublishEvent(ctx context.Context, msg OutgoingMessage) error
	// ConsumeEvents blocks delivering the service's event queue to fn until
	// ctx is done or the connection fails.
	ConsumeEvents(ctx context.Context, service string, fn DeliveryFunc) error
	SendCommand(ctx context.Context, target string, msg OutgoingMessage) error
	ConsumeCommands(ctx context.Context, service string, fn DeliveryFunc) error
	Close(ctx context.Context) error
}
