package eventbus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	natsEventsStream   = "EVENTS"
	natsCommandsStream = "COMMANDS"
)

// NATSOptions configures a NATSTransport.
type NATSOptions struct {
	URL           string
	Name          string
	MaxAge        time.Duration
	FetchWait     time.Duration
	AckWait       time.Duration
	ReconnectWait time.Duration
	Batch         int
}

// NATSTransport runs the bus on NATS JetStream. Events are stored on the
// EVENTS stream under "events.<type>" with a durable pull consumer per
// service; commands use the COMMANDS work queue under "commands.<service>".
type NATSTransport struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	opts NATSOptions
}

// NewNATSTransport connects to NATS and declares both streams.
func NewNATSTransport(opts NATSOptions) (*NATSTransport, error) {
	if opts.FetchWait <= 0 {
		opts.FetchWait = 5 * time.Second
	}
	if opts.AckWait <= 0 {
		opts.AckWait = 30 * time.Second
	}
	if opts.ReconnectWait <= 0 {
		opts.ReconnectWait = 2 * time.Second
	}
	if opts.Batch <= 0 {
		opts.Batch = 10
	}

	nc, err := nats.Connect(
		opts.URL,
		nats.Name(opts.Name),
		nats.Timeout(10*time.Second),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	t := &NATSTransport{conn: nc, js: js, opts: opts}
	streams := []*nats.StreamConfig{
		{
			Name:      natsEventsStream,
			Subjects:  []string{"events.>"},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			MaxAge:    opts.MaxAge,
		},
		{
			Name:      natsCommandsStream,
			Subjects:  []string{"commands.>"},
			Retention: nats.WorkQueuePolicy,
			Storage:   nats.FileStorage,
		},
	}
	for _, cfg := range streams {
		if err := t.ensureStream(cfg); err != nil {
			nc.Close()
			return nil, err
		}
	}
	return t, nil
}

func (t *NATSTransport) ensureStream(cfg *nats.StreamConfig) error {
	_, err := t.js.StreamInfo(cfg.Name)
	if err == nil {
		return nil
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info for %s: %w", cfg.Name, err)
	}

	log.Info().Str("stream", cfg.Name).Msg("Stream not found, creating it")
	if _, err := t.js.AddStream(cfg); err != nil {
		return fmt.Errorf("failed to create stream %s: %w", cfg.Name, err)
	}
	return nil
}

func (t *NATSTransport) PublishEvent(ctx context.Context, msg OutgoingMessage) error {
	return t.publish(ctx, "events."+msg.Subject, msg)
}

func (t *NATSTransport) SendCommand(ctx context.Context, target string, msg OutgoingMessage) error {
	return t.publish(ctx, "commands."+target, msg)
}

func (t *NATSTransport) publish(ctx context.Context, subject string, msg OutgoingMessage) error {
	if !t.conn.IsConnected() {
		return fmt.Errorf("publish to %s: %w", subject, ErrNotConnected)
	}

	out := nats.NewMsg(subject)
	out.Data = msg.Body
	out.Header.Set(nats.MsgIdHdr, msg.ID)
	out.Header.Set("Type", msg.Subject)

	if _, err := t.js.PublishMsg(out, nats.Context(ctx)); err != nil {
		return translateNATSError(err, "failed to publish to "+subject)
	}
	return nil
}

func (t *NATSTransport) ConsumeEvents(ctx context.Context, service string, fn DeliveryFunc) error {
	return t.consume(ctx, natsEventsStream, "events.>", service, fn)
}

func (t *NATSTransport) ConsumeCommands(ctx context.Context, service string, fn DeliveryFunc) error {
	return t.consume(ctx, natsCommandsStream, "commands."+service, service+"-commands", fn)
}

func (t *NATSTransport) consume(ctx context.Context, stream, subject, durable string, fn DeliveryFunc) error {
	sub, err := t.js.PullSubscribe(
		subject,
		durable,
		nats.BindStream(stream),
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.AckWait(t.opts.AckWait),
		nats.PullMaxWaiting(128),
	)
	if err != nil {
		return translateNATSError(err, "failed to create pull subscription "+durable)
	}

	log.Info().Str("stream", stream).Str("durable", durable).Msg("Subscriber started")
	for {
		if ctx.Err() != nil {
			log.Info().Str("durable", durable).Msg("Subscriber stopping")
			return nil
		}

		msgs, err := sub.Fetch(t.opts.Batch, nats.MaxWait(t.opts.FetchWait))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			return translateNATSError(err, "failed to fetch messages")
		}

		for _, msg := range msgs {
			fn(ctx, &natsDelivery{msg: msg})
		}
	}
}

func (t *NATSTransport) Close(context.Context) error {
	if t.conn == nil || t.conn.IsClosed() {
		return nil
	}
	if err := t.conn.Drain(); err != nil {
		t.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

func translateNATSError(err error, msg string) error {
	switch {
	case errors.Is(err, nats.ErrConnectionClosed), errors.Is(err, nats.ErrDisconnected), errors.Is(err, nats.ErrNoServers):
		return fmt.Errorf("%s: %w: %v", msg, ErrNotConnected, err)
	case errors.Is(err, nats.ErrConnectionDraining), errors.Is(err, nats.ErrBadSubscription):
		return fmt.Errorf("%s: %w: %v", msg, ErrClosed, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

type natsDelivery struct {
	msg *nats.Msg
}

func (d *natsDelivery) Body() []byte {
	return d.msg.Data
}

func (d *natsDelivery) DeliveryCount() int {
	meta, err := d.msg.Metadata()
	if err != nil {
		return 1
	}
	return int(meta.NumDelivered)
}

func (d *natsDelivery) Ack(context.Context) error {
	return d.msg.Ack()
}

func (d *natsDelivery) Nack(context.Context) error {
	return d.msg.Nak()
}

// DeadLetter terminates redelivery. JetStream publishes an advisory for the
// terminated message, which is where operators pick it up.
func (d *natsDelivery) DeadLetter(_ context.Context, reason string) error {
	log.Warn().Str("subject", d.msg.Subject).Str("reason", reason).Msg("Terminating message")
	return d.msg.Term()
}

var _ Transport = (*NATSTransport)(nil)
