// Package service holds outbound integrations used by the booking core.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/event-booking/internal/logger"
	"github.com/iliyamo/event-booking/internal/queue"
)

// Dial limits. An unreachable broker fails a publish within dialTimeout
// and later publishes fail fast until redialAfter has passed.
const (
	dialTimeout = 2 * time.Second
	redialAfter = 10 * time.Second
)

// Publisher sends booking activity to the booking.activity queue over one
// long-lived channel. A failed publish drops the connection and the next
// call dials again, so a broker restart costs at most one message.
type Publisher struct {
	url string

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	dialing  bool
	failedAt time.Time
	now      func() time.Time
}

func NewPublisher(url string) *Publisher {
	return &Publisher{url: url, now: time.Now}
}

// ErrBrokerUnavailable is returned while a recent dial failure is cooling
// down or another call is already dialing.
var ErrBrokerUnavailable = errors.New("rabbitmq: broker unavailable")

// PublishBookingActivity marshals a and publishes it as a persistent
// message. Errors are logged and returned; callers treat them as
// non-fatal.
func (p *Publisher) PublishBookingActivity(ctx context.Context, a queue.BookingActivity) error {
	msg, err := activityMessage(a)
	if err != nil {
		return err
	}

	ch, err := p.channel()
	if err != nil {
		logger.Warnf(ctx, "rabbitmq: %v", err)
		return err
	}
	if err := ch.PublishWithContext(ctx,
		"",                  // default exchange
		queue.ActivityQueue, // routing key = queue name
		false,               // mandatory
		false,               // immediate
		msg,
	); err != nil {
		logger.Warnf(ctx, "rabbitmq: publish failed: %v", err)
		p.drop(ch)
		return err
	}
	return nil
}

// channel returns the open channel, dialing when needed. The dial runs
// without p.mu held and only one caller dials at a time.
func (p *Publisher) channel() (*amqp.Channel, error) {
	p.mu.Lock()
	if p.ch != nil && !p.ch.IsClosed() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	if p.dialing || (!p.failedAt.IsZero() && p.now().Sub(p.failedAt) < redialAfter) {
		p.mu.Unlock()
		return nil, ErrBrokerUnavailable
	}
	p.reset()
	p.dialing = true
	p.mu.Unlock()

	conn, ch, err := dial(p.url)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialing = false
	if err != nil {
		p.failedAt = p.now()
		return nil, err
	}
	p.failedAt = time.Time{}
	p.conn, p.ch = conn, ch
	return ch, nil
}

func dial(url string) (*amqp.Connection, *amqp.Channel, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, nil, fmt.Errorf("dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open failed: %w", err)
	}
	// Durable so messages survive broker restarts.
	if _, err := ch.QueueDeclare(queue.ActivityQueue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("queue declare failed: %w", err)
	}
	return conn, ch, nil
}

// drop resets the connection if ch is still the current channel.
func (p *Publisher) drop(ch *amqp.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == ch {
		p.reset()
	}
}

// reset closes the connection. p.mu must be held.
func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

func activityMessage(a queue.BookingActivity) (amqp.Publishing, error) {
	body, err := json.Marshal(a)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal activity: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         a.Kind,
		Body:         body,
	}, nil
}
