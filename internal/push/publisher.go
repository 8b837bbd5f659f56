package push

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// publishTimeout bounds a publish when the caller has no deadline.
const publishTimeout = 5 * time.Second

// Publisher forwards raw push bodies to the broker so the HTTP webhook
// can acknowledge Pub/Sub immediately.
type Publisher struct {
	client   *Client
	topology Topology
}

// NewPublisher creates a publisher for the given topology.
func NewPublisher(client *Client, topology Topology) *Publisher {
	return &Publisher{client: client, topology: topology}
}

// Publish queues one push body.
func (p *Publisher) Publish(ctx context.Context, body []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}

	msg := declaredPublishing(body)
	msg.Timestamp = time.Now()
	err := p.client.Channel().PublishWithContext(
		ctx,
		p.topology.Exchange,
		p.topology.RoutingKey,
		false, // mandatory
		false, // immediate
		msg,
	)
	if err != nil {
		return fmt.Errorf("publishing to %q with %q: %w", p.topology.Exchange, p.topology.RoutingKey, err)
	}

	p.client.log.WithFields(log.Fields{
		"exchange":    p.topology.Exchange,
		"routing_key": p.topology.RoutingKey,
	}).Debug("push forwarded")
	return nil
}
