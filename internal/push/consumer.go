package push

import (
	"context"
	"errors"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/relay"
)

// Dispatcher receives decoded mailbox changes.
type Dispatcher interface {
	MailboxChanged(ctx context.Context, address string, historyID uint64) error
}

// Handler acknowledges each delivery according to its outcome: malformed
// bodies are rejected for good, dispatch failures are retried once.
type Handler struct {
	dispatcher Dispatcher
	log        *log.Entry
}

// NewHandler creates a delivery handler.
func NewHandler(dispatcher Dispatcher, logger *log.Entry) *Handler {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Handler{dispatcher: dispatcher, log: logger.WithField("component", "push")}
}

// Handle processes one delivery.
func (h *Handler) Handle(ctx context.Context, d *amqp.Delivery) {
	entry := h.log.WithFields(log.Fields{
		"routing_key": d.RoutingKey,
		"message_id":  d.MessageId,
	})

	n, err := relay.DecodeGmailPush(d.Body)
	if err != nil {
		entry.WithError(err).Warn("rejecting malformed push")
		if err := d.Nack(false, false); err != nil {
			entry.WithError(err).Error("nack failed")
		}
		return
	}

	if err := h.dispatcher.MailboxChanged(ctx, n.EmailAddress, uint64(n.HistoryID)); err != nil {
		requeue := !d.Redelivered
		entry.WithError(err).WithField("requeue", requeue).Warn("dispatching push failed")
		if err := d.Nack(false, requeue); err != nil {
			entry.WithError(err).Error("nack failed")
		}
		return
	}

	if err := d.Ack(false); err != nil {
		entry.WithError(err).Error("ack failed")
	}
}

// Consumer feeds deliveries from one queue to a Handler.
type Consumer struct {
	client  *Client
	queue   string
	handler *Handler
}

// NewConsumer creates a consumer.
func NewConsumer(client *Client, queue string, handler *Handler) *Consumer {
	return &Consumer{client: client, queue: queue, handler: handler}
}

// Run consumes until ctx is done or the broker connection drops.
func (c *Consumer) Run(ctx context.Context) error {
	ch := c.client.Channel()

	// One unacknowledged delivery at a time.
	if err := ch.Qos(1, 0, false); err != nil {
		return fmt.Errorf("setting qos: %w", err)
	}

	msgs, err := ch.Consume(
		c.queue,
		"",    // consumer tag (auto-generated)
		false, // auto-ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("registering consumer: %w", err)
	}

	c.client.log.WithField("queue", c.queue).Info("consuming push events")
	return c.loop(ctx, msgs, c.client.NotifyClose())
}

func (c *Consumer) loop(ctx context.Context, msgs <-chan amqp.Delivery, closed <-chan *amqp.Error) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr, ok := <-closed:
			if ok && amqpErr != nil {
				return fmt.Errorf("amqp connection closed: %w", amqpErr)
			}
			return errors.New("amqp connection closed")
		case msg, ok := <-msgs:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("delivery channel closed")
			}
			c.handler.Handle(ctx, &msg)
		}
	}
}
