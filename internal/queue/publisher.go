package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/studyroom-seat-board/internal/metrics"
	"github.com/iliyamo/studyroom-seat-board/internal/model"
)

// Publisher sends SeatUsageRecorded messages.  Publishing is best effort: the
// ledger is the source of truth and open streams also refresh locally, so a
// lost message only delays other instances until their next read.
type Publisher struct {
	url     string
	origin  string
	metrics *metrics.Metrics

	mu      sync.Mutex
	conn    *amqp.Connection
	ch      *amqp.Channel
	retryAt time.Time
}

const (
	dialTimeout = 3 * time.Second
	redialPause = 10 * time.Second
)

// NewPublisher prepares a publisher for url.  It connects lazily.
func NewPublisher(url, origin string, m *metrics.Metrics) *Publisher {
	return &Publisher{url: url, origin: origin, metrics: m}
}

var errBrokerBackoff = errors.New("broker redial paused after failure")

// channel returns an open channel, redialing after a broker restart.  After a
// failed dial no new dial is attempted for redialPause so a missing broker
// does not slow down every seat write.
func (p *Publisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	if p.conn == nil || p.conn.IsClosed() {
		if time.Now().Before(p.retryAt) {
			return nil, errBrokerBackoff
		}
		conn, err := amqp.DialConfig(p.url, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
		if err != nil {
			p.retryAt = time.Now().Add(redialPause)
			return nil, err
		}
		p.conn = conn
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, err
	}
	if err := declareExchange(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

// UsageRecorded publishes ev.  Failures are logged and counted; the error is
// returned for callers that care, and the seat service ignores it.
func (p *Publisher) UsageRecorded(ctx context.Context, ev model.UsageEvent) error {
	body, err := json.Marshal(NewSeatUsageRecorded(ev, p.origin))
	if err != nil {
		log.Printf("usage-publisher: marshal event failed: %v", err)
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel()
	if err != nil {
		log.Printf("usage-publisher: broker unavailable: %v", err)
		p.metrics.PublishFailed()
		return err
	}
	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Transient,
		Timestamp:    time.Now().UTC(),
		MessageId:    ev.ID,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, SeatUsageExchange, "", false, false, pub); err != nil {
		log.Printf("usage-publisher: publish failed: %v", err)
		p.metrics.PublishFailed()
		_ = ch.Close()
		p.ch = nil
		return err
	}
	return nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err := p.conn.Close()
		p.conn = nil
		return err
	}
	return nil
}

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(
		SeatUsageExchange, // name
		"fanout",          // kind
		true,              // durable
		false,             // autoDelete
		false,             // internal
		false,             // noWait
		nil,               // args
	)
}
