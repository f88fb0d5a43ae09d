package eventbus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// AzureTransport runs the bus on Azure Service Bus. Events go to one topic
// with a subscription per consuming service; commands go to a
// "<service>-commands" queue.
type AzureTransport struct {
	client   *azservicebus.Client
	admin    *admin.Client
	topic    string
	prefetch int

	mu      sync.Mutex
	senders map[string]*azservicebus.Sender
}

// NewAzureTransport connects to Service Bus and makes sure the events topic
// exists.
func NewAzureTransport(ctx context.Context, connectionString, topic string, prefetch int) (*AzureTransport, error) {
	client, err := azservicebus.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create service bus client")
	}
	adminClient, err := admin.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create service bus admin client")
	}
	if prefetch <= 0 {
		prefetch = 10
	}

	t := &AzureTransport{
		client:   client,
		admin:    adminClient,
		topic:    topic,
		prefetch: prefetch,
		senders:  make(map[string]*azservicebus.Sender),
	}
	if err := t.ensureTopic(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

// CommandQueue returns the queue name commands for service are sent to.
func CommandQueue(service string) string {
	return service + "-commands"
}

func (t *AzureTransport) PublishEvent(ctx context.Context, msg OutgoingMessage) error {
	return t.send(ctx, t.topic, msg)
}

func (t *AzureTransport) SendCommand(ctx context.Context, target string, msg OutgoingMessage) error {
	queue := CommandQueue(target)
	if err := t.ensureQueue(ctx, queue); err != nil {
		return err
	}
	return t.send(ctx, queue, msg)
}

func (t *AzureTransport) ConsumeEvents(ctx context.Context, service string, fn DeliveryFunc) error {
	if err := t.ensureSubscription(ctx, service); err != nil {
		return err
	}
	receiver, err := t.client.NewReceiverForSubscription(t.topic, service, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create receiver for subscription %s", service)
	}
	return t.receive(ctx, receiver, fn)
}

func (t *AzureTransport) ConsumeCommands(ctx context.Context, service string, fn DeliveryFunc) error {
	queue := CommandQueue(service)
	if err := t.ensureQueue(ctx, queue); err != nil {
		return err
	}
	receiver, err := t.client.NewReceiverForQueue(queue, &azservicebus.ReceiverOptions{
		ReceiveMode: azservicebus.ReceiveModePeekLock,
	})
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to create receiver for queue %s", queue)
	}
	return t.receive(ctx, receiver, fn)
}

func (t *AzureTransport) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for name, sender := range t.senders {
		if err := sender.Close(ctx); err != nil {
			log.Warn().Err(err).Str("entity", name).Msg("Failed to close sender")
		}
	}
	t.senders = map[string]*azservicebus.Sender{}
	return t.client.Close(ctx)
}

func (t *AzureTransport) send(ctx context.Context, entity string, msg OutgoingMessage) error {
	sender, err := t.sender(entity)
	if err != nil {
		return err
	}

	sbMessage := &azservicebus.Message{
		MessageID:   to.Ptr(msg.ID),
		Subject:     to.Ptr(msg.Subject),
		ContentType: to.Ptr("application/json"),
		Body:        msg.Body,
		ApplicationProperties: map[string]any{
			"type": msg.Subject,
		},
	}
	if err := sender.SendMessage(ctx, sbMessage, nil); err != nil {
		return translateAzureError(err, "failed to send message to "+entity)
	}
	return nil
}

func (t *AzureTransport) sender(entity string) (*azservicebus.Sender, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if s, ok := t.senders[entity]; ok {
		return s, nil
	}
	s, err := t.client.NewSender(entity, nil)
	if err != nil {
		return nil, translateAzureError(err, "failed to create sender for "+entity)
	}
	t.senders[entity] = s
	return s, nil
}

func (t *AzureTransport) receive(ctx context.Context, receiver *azservicebus.Receiver, fn DeliveryFunc) error {
	defer func() {
		if err := receiver.Close(context.Background()); err != nil {
			log.Warn().Err(err).Msg("Failed to close receiver")
		}
	}()

	for {
		messages, err := receiver.ReceiveMessages(ctx, t.prefetch, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				continue
			}
			return translateAzureError(err, "failed to receive messages")
		}

		for _, m := range messages {
			fn(ctx, &azureDelivery{receiver: receiver, message: m})
		}
	}
}

func (t *AzureTransport) ensureTopic(ctx context.Context) error {
	resp, err := t.admin.GetTopic(ctx, t.topic, nil)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to look up topic %s", t.topic)
	}
	if resp != nil {
		return nil
	}
	if _, err := t.admin.CreateTopic(ctx, t.topic, nil); err != nil && !isAlreadyExists(err) {
		return pkgerrors.Wrapf(err, "failed to create topic %s", t.topic)
	}
	log.Info().Str("topic", t.topic).Msg("Created topic")
	return nil
}

func (t *AzureTransport) ensureSubscription(ctx context.Context, service string) error {
	resp, err := t.admin.GetSubscription(ctx, t.topic, service, nil)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to look up subscription %s", service)
	}
	if resp != nil {
		return nil
	}

	_, err = t.admin.CreateSubscription(ctx, t.topic, service, &admin.CreateSubscriptionOptions{
		Properties: &admin.SubscriptionProperties{
			DeadLetteringOnMessageExpiration: to.Ptr(true),
		},
	})
	if err != nil && !isAlreadyExists(err) {
		return pkgerrors.Wrapf(err, "failed to create subscription %s", service)
	}
	log.Info().Str("topic", t.topic).Str("subscription", service).Msg("Created subscription")
	return nil
}

func (t *AzureTransport) ensureQueue(ctx context.Context, queue string) error {
	resp, err := t.admin.GetQueue(ctx, queue, nil)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to look up queue %s", queue)
	}
	if resp != nil {
		return nil
	}

	_, err = t.admin.CreateQueue(ctx, queue, &admin.CreateQueueOptions{
		Properties: &admin.QueueProperties{
			DeadLetteringOnMessageExpiration: to.Ptr(true),
		},
	})
	if err != nil && !isAlreadyExists(err) {
		return pkgerrors.Wrapf(err, "failed to create queue %s", queue)
	}
	log.Info().Str("queue", queue).Msg("Created queue")
	return nil
}

// isAlreadyExists reports a 409 from the management API, raised when another
// instance created the entity first.
func isAlreadyExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode == http.StatusConflict
	}
	return false
}

// translateAzureError maps lost or refused connections to ErrNotConnected.
// Cancellation is returned as is so callers can tell a shutdown apart.
func translateAzureError(err error, msg string) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", msg, err)
	}
	var sbErr *azservicebus.Error
	if errors.As(err, &sbErr) {
		switch sbErr.Code {
		case azservicebus.CodeConnectionLost, azservicebus.CodeUnauthorizedAccess:
			return fmt.Errorf("%s: %w: %v", msg, ErrNotConnected, err)
		}
	}
	return pkgerrors.Wrap(err, msg)
}

type azureDelivery struct {
	receiver *azservicebus.Receiver
	message  *azservicebus.ReceivedMessage
}

func (d *azureDelivery) Body() []byte {
	return d.message.Body
}

func (d *azureDelivery) DeliveryCount() int {
	return int(d.message.DeliveryCount)
}

func (d *azureDelivery) Ack(ctx context.Context) error {
	if err := d.receiver.CompleteMessage(ctx, d.message, nil); err != nil {
		return translateAzureError(err, "failed to complete message")
	}
	return nil
}

func (d *azureDelivery) Nack(ctx context.Context) error {
	if err := d.receiver.AbandonMessage(ctx, d.message, nil); err != nil {
		return translateAzureError(err, "failed to abandon message")
	}
	return nil
}

func (d *azureDelivery) DeadLetter(ctx context.Context, reason string) error {
	err := d.receiver.DeadLetterMessage(ctx, d.message, &azservicebus.DeadLetterOptions{
		Reason:           to.Ptr("ProcessingFailed"),
		ErrorDescription: to.Ptr(reason),
	})
	if err != nil {
		return translateAzureError(err, "failed to dead-letter message")
	}
	return nil
}

var _ Transport = (*AzureTransport)(nil)
