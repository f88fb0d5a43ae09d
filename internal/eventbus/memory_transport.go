package eventbus

import (
	"context"
	"sync"
)

// DeadLetter is a message removed from a memory queue.
type DeadLetter struct {
	Message    OutgoingMessage
	Reason     string
	Deliveries int
}

// MemoryTransport is an in-process Transport. Each bound service gets its own
// event queue; commands queue per target service. Unsettled deliveries go
// back to the head of their queue, as a broker does when a lock expires.
type MemoryTransport struct {
	mu       sync.Mutex
	events   map[string]*memoryQueue
	commands map[string]*memoryQueue
	done     chan struct{}
	closed   bool
}

// NewMemoryTransport creates an empty in-process transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		events:   make(map[string]*memoryQueue),
		commands: make(map[string]*memoryQueue),
		done:     make(chan struct{}),
	}
}

// Bind creates the event queue of service. Events published before a service
// is bound are not delivered to it.
func (t *MemoryTransport) Bind(service string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.queue(t.events, service)
}

func (t *MemoryTransport) PublishEvent(_ context.Context, msg OutgoingMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	for _, q := range t.events {
		q.push(&memoryMessage{msg: msg})
	}
	return nil
}

func (t *MemoryTransport) ConsumeEvents(ctx context.Context, service string, fn DeliveryFunc) error {
	q, err := t.lookup(t.events, service)
	if err != nil {
		return err
	}
	return t.consume(ctx, q, fn)
}

func (t *MemoryTransport) SendCommand(_ context.Context, target string, msg OutgoingMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.queue(t.commands, target).push(&memoryMessage{msg: msg})
	return nil
}

func (t *MemoryTransport) ConsumeCommands(ctx context.Context, service string, fn DeliveryFunc) error {
	q, err := t.lookup(t.commands, service)
	if err != nil {
		return err
	}
	return t.consume(ctx, q, fn)
}

func (t *MemoryTransport) Close(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.done)
	}
	return nil
}

// Pending returns the number of messages waiting in the event queue of
// service.
func (t *MemoryTransport) Pending(service string) int {
	t.mu.Lock()
	q := t.events[service]
	t.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.len()
}

// PendingCommands returns the number of commands waiting for service.
func (t *MemoryTransport) PendingCommands(service string) int {
	t.mu.Lock()
	q := t.commands[service]
	t.mu.Unlock()
	if q == nil {
		return 0
	}
	return q.len()
}

// DeadLetters returns the messages dead-lettered from the event and command
// queues of service.
func (t *MemoryTransport) DeadLetters(service string) []DeadLetter {
	t.mu.Lock()
	queues := []*memoryQueue{t.events[service], t.commands[service]}
	t.mu.Unlock()

	var out []DeadLetter
	for _, q := range queues {
		if q != nil {
			out = append(out, q.deadLetters()...)
		}
	}
	return out
}

func (t *MemoryTransport) lookup(queues map[string]*memoryQueue, service string) (*memoryQueue, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, ErrClosed
	}
	return t.queue(queues, service), nil
}

// queue returns the named queue, creating it. Callers hold t.mu.
func (t *MemoryTransport) queue(queues map[string]*memoryQueue, name string) *memoryQueue {
	q, ok := queues[name]
	if !ok {
		q = newMemoryQueue()
		queues[name] = q
	}
	return q
}

func (t *MemoryTransport) consume(ctx context.Context, q *memoryQueue, fn DeliveryFunc) error {
	for {
		m := q.pop()
		if m == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-t.done:
				return ErrClosed
			case <-q.notify:
				continue
			}
		}

		if ctx.Err() != nil {
			q.requeue(m)
			return nil
		}

		m.deliveries++
		d := &memoryDelivery{queue: q, message: m}
		fn(ctx, d)
		d.release()
	}
}

type memoryMessage struct {
	msg        OutgoingMessage
	deliveries int
}

type memoryQueue struct {
	mu     sync.Mutex
	ready  []*memoryMessage
	dead   []DeadLetter
	notify chan struct{}
}

func newMemoryQueue() *memoryQueue {
	return &memoryQueue{notify: make(chan struct{}, 1)}
}

func (q *memoryQueue) push(m *memoryMessage) {
	q.mu.Lock()
	q.ready = append(q.ready, m)
	q.mu.Unlock()
	q.signal()
}

func (q *memoryQueue) requeue(m *memoryMessage) {
	q.mu.Lock()
	q.ready = append([]*memoryMessage{m}, q.ready...)
	q.mu.Unlock()
	q.signal()
}

func (q *memoryQueue) pop() *memoryMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ready) == 0 {
		return nil
	}
	m := q.ready[0]
	q.ready = q.ready[1:]
	if len(q.ready) > 0 {
		q.signal()
	}
	return m
}

func (q *memoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *memoryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready)
}

func (q *memoryQueue) deadLetter(m *memoryMessage, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dead = append(q.dead, DeadLetter{Message: m.msg, Reason: reason, Deliveries: m.deliveries})
}

func (q *memoryQueue) deadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.dead))
	copy(out, q.dead)
	return out
}

type memoryDelivery struct {
	mu      sync.Mutex
	queue   *memoryQueue
	message *memoryMessage
	settled bool
}

func (d *memoryDelivery) Body() []byte {
	return d.message.msg.Body
}

func (d *memoryDelivery) DeliveryCount() int {
	return d.message.deliveries
}

func (d *memoryDelivery) Ack(context.Context) error {
	d.settle(nil)
	return nil
}

func (d *memoryDelivery) Nack(context.Context) error {
	d.settle(d.queue.requeue)
	return nil
}

func (d *memoryDelivery) DeadLetter(_ context.Context, reason string) error {
	d.settle(func(m *memoryMessage) { d.queue.deadLetter(m, reason) })
	return nil
}

// release requeues the message if the consumer never settled it.
func (d *memoryDelivery) release() {
	d.settle(d.queue.requeue)
}

func (d *memoryDelivery) settle(then func(*memoryMessage)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.settled {
		return
	}
	d.settled = true
	if then != nil {
		then(d.message)
	}
}

var _ Transport = (*MemoryTransport)(nil)
