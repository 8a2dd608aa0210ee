package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/studyroom-seat-board/internal/metrics"
)

// Notifier is told which day changed.  *live.Hub satisfies it.
type Notifier interface {
	Notify(date string)
}

// Consumer binds a private queue to the seat.usage exchange and turns every
// message into a hub notification plus one line in the usage log.
type Consumer struct {
	url     string
	hub     Notifier
	log     *UsageLog
	metrics *metrics.Metrics
}

// NewConsumer builds a consumer.  usageLog may be nil to skip file logging.
func NewConsumer(url string, hub Notifier, usageLog *UsageLog, m *metrics.Metrics) *Consumer {
	return &Consumer{url: url, hub: hub, log: usageLog, metrics: m}
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// exponential backoff capped at 30s.  It returns ctx.Err().
func (c *Consumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(c.url)
		if err != nil {
			log.Printf("usage-consumer: failed to dial broker: %v; retrying in %s", err, backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Printf("usage-consumer: consume loop ended: %v; reconnecting", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Consumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		log.Printf("usage-consumer: set QoS failed: %v", err)
	}
	if err := declareExchange(ch); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	// server-named, exclusive: one queue per instance, gone when it disconnects
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", SeatUsageExchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}

	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.HandleMessage(d.Body); err != nil {
				log.Printf("usage-consumer: handle message failed: %v", err)
				c.metrics.UsageMessage("rejected")
				_ = d.Nack(false, false) // reject, do not requeue to avoid tight loops
				continue
			}
			c.metrics.UsageMessage("ok")
			_ = d.Ack(false)
		}
	}
}

// HandleMessage decodes one seat.usage body, refreshes the day's streams and
// appends the usage log.  A log write failure does not undo the refresh.
func (c *Consumer) HandleMessage(body []byte) error {
	var ev SeatUsageRecorded
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Date == "" {
		return errors.New("message without date")
	}
	c.hub.Notify(ev.Date)
	if c.log != nil {
		if err := c.log.Append(ev); err != nil {
			log.Printf("usage-consumer: %v", err)
		}
	}
	return nil
}

// UsageLog appends one human readable line per seat event to
// <dir>/seat_usage.log.
type UsageLog struct {
	dir string
	mu  sync.Mutex
}

func NewUsageLog(dir string) *UsageLog { return &UsageLog{dir: dir} }

// Path is the log file location.
func (l *UsageLog) Path() string { return filepath.Join(l.dir, "seat_usage.log") }

func (l *UsageLog) Append(ev SeatUsageRecorded) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir logs: %w", err)
	}
	f, err := os.OpenFile(l.Path(), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer f.Close()

	action := "claimed"
	if ev.Released {
		action = "released"
	}
	line := fmt.Sprintf("[%s] Seat %s | seat=%d | student_id=%s | name=%q | email=%s | date=%s | time=%s | event_id=%s | origin=%s\n",
		ev.ClickedAt, action, ev.SeatNumber, ev.StudentID, ev.UserName, ev.Email, ev.Date, ev.Time, ev.EventID, ev.Origin)
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("write log: %w", err)
	}
	return nil
}
