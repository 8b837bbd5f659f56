// Package push receives mailbox-change notifications from a message
// broker and hands them to the relay dispatcher.
package push

import (
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	log "github.com/sirupsen/logrus"
)

// Client manages the RabbitMQ connection and channel.
type Client struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	mu      sync.RWMutex
	url     string
	closed  chan *amqp.Error
	log     *log.Entry
}

// NewClient dials the broker and opens a channel.
func NewClient(url string, logger *log.Entry) (*Client, error) {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	c := &Client{url: url, log: logger.WithField("component", "amqp")}
	if err := c.connect(); err != nil {
		return nil, fmt.Errorf("creating amqp client: %w", err)
	}
	return c, nil
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, err := amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("connecting to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("opening channel: %w", err)
	}

	c.conn = conn
	c.channel = ch
	c.closed = conn.NotifyClose(make(chan *amqp.Error, 1))

	c.log.Info("amqp client connected")
	return nil
}

// Channel returns the current channel.
func (c *Client) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// NotifyClose returns a channel that receives the error that closed the
// connection, or is closed on a clean shutdown.
func (c *Client) NotifyClose() <-chan *amqp.Error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Close closes the channel and connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.channel != nil {
		if err := c.channel.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("closing channel: %w", err))
		}
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, fmt.Errorf("closing connection: %w", err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	c.log.Info("amqp client closed")
	return nil
}
