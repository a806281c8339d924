package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/event-booking/internal/logger"
)

// ActivityLog appends one JSON line per booking activity to a file.
type ActivityLog struct {
	log *logrus.Logger
	f   *os.File
}

// OpenActivityLog creates dir if needed and opens dir/booking.log for append.
func OpenActivityLog(dir string) (*ActivityLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(filepath.Join(dir, "booking.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	l := logrus.New()
	l.SetOutput(f)
	l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
	return &ActivityLog{log: l, f: f}, nil
}

func (a *ActivityLog) Close() error { return a.f.Close() }

// Handle decodes one delivery body and writes it to the log.
func (a *ActivityLog) Handle(body []byte) error {
	var ev BookingActivity
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Kind != ActivityReserved && ev.Kind != ActivityCancelled {
		return fmt.Errorf("unknown activity kind %q", ev.Kind)
	}
	a.log.WithFields(logrus.Fields{
		"reservation_id":    ev.ReservationID,
		"event_id":          ev.EventID,
		"event_title":       ev.EventTitle,
		"user_id":           ev.UserID,
		"confirmation_code": ev.ConfirmationCode,
		"remaining_spots":   ev.RemainingSpots,
		"at":                ev.At.UTC().Format(time.RFC3339),
	}).Info("reservation " + ev.Kind)
	return nil
}

// StartActivityConsumer connects to the broker and consumes ActivityQueue
// until ctx is cancelled, reconnecting with exponential backoff.
func StartActivityConsumer(ctx context.Context, url string, sink *ActivityLog) {
	backoff := time.Second
	for ctx.Err() == nil {
		conn, err := amqp.Dial(url)
		if err != nil {
			logger.Warnf(ctx, "activity-consumer: dial failed: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, sink)
		_ = conn.Close()
		if err != nil && ctx.Err() == nil {
			logger.Warnf(ctx, "activity-consumer: consume loop ended: %v; reconnecting", err)
			if !sleep(ctx, 2*time.Second) {
				return
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, sink *ActivityLog) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		logger.Warnf(ctx, "activity-consumer: set QoS failed: %v", err)
	}
	if _, err := ch.QueueDeclare(ActivityQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(ActivityQueue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := sink.Handle(d.Body); err != nil {
				logger.Errorf(ctx, "activity-consumer: handle message failed: %v", err)
				_ = d.Nack(false, false) // reject without requeue to avoid tight loops
				continue
			}
			_ = d.Ack(false)
		}
	}
}
