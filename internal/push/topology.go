package push

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"

	"github.com/nhle/mailsync/internal/model"
)

// Topology names the exchange, queue and binding push events travel on.
type Topology struct {
	Exchange   string
	Queue      string
	RoutingKey string
}

// TopologyFromConfig reads the topology from configuration.
func TopologyFromConfig(cfg model.AMQPConfig) Topology {
	return Topology{Exchange: cfg.Exchange, Queue: cfg.Queue, RoutingKey: cfg.RoutingKey}
}

// Setup declares the exchange and queue and binds them.
func (t Topology) Setup(c *Client) error {
	ch := c.Channel()

	err := ch.ExchangeDeclare(
		t.Exchange,
		"topic", // type
		true,    // durable
		false,   // auto-deleted
		false,   // internal
		false,   // no-wait
		nil,     // arguments
	)
	if err != nil {
		return fmt.Errorf("declaring exchange %q: %w", t.Exchange, err)
	}

	_, err = ch.QueueDeclare(
		t.Queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("declaring queue %q: %w", t.Queue, err)
	}

	if err := ch.QueueBind(t.Queue, t.RoutingKey, t.Exchange, false, nil); err != nil {
		return fmt.Errorf("binding queue %q to %q with %q: %w", t.Queue, t.Exchange, t.RoutingKey, err)
	}

	c.log.WithFields(log.Fields{
		"exchange":    t.Exchange,
		"queue":       t.Queue,
		"routing_key": t.RoutingKey,
	}).Debug("amqp topology ready")
	return nil
}

// declaredPublishing is the message shape used for forwarded push bodies.
func declaredPublishing(body []byte) amqp.Publishing {
	return amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}
}
