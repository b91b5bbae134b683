// README: Ride lifecycle event publishing over a RabbitMQ topic exchange.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ridehail/internal/logger"
)

const (
	RideCreated   = "ride.created"
	RideAccepted  = "ride.accepted"
	RideCompleted = "ride.completed"
	RideCancelled = "ride.cancelled"

	reconnInterval = 10 * time.Second
)

var ErrClosed = errors.New("publisher connection is closed")

// Publisher emits lifecycle events for downstream consumers. Delivery is best
// effort: callers log failures and carry on.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
	Close() error
}

type nop struct{}

// Nop returns a Publisher that drops every event.
func Nop() Publisher { return nop{} }

func (nop) Publish(context.Context, string, any) error { return nil }
func (nop) Close() error                               { return nil }

type RabbitMQ struct {
	url      string
	exchange string
	log      logger.Logger

	mu           sync.Mutex
	conn         *amqp.Connection
	ch           *amqp.Channel
	reconnecting bool
	closed       chan struct{}
}

// NewRabbitMQ dials url and declares a durable topic exchange.
func NewRabbitMQ(url, exchange string, log logger.Logger) (*RabbitMQ, error) {
	r := &RabbitMQ{
		url:      url,
		exchange: exchange,
		log:      log,
		closed:   make(chan struct{}),
	}
	if err := r.connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	return r, nil
}

func (r *RabbitMQ) Publish(ctx context.Context, routingKey string, payload any) error {
	msg, err := encode(routingKey, payload, time.Now())
	if err != nil {
		return err
	}

	r.mu.Lock()
	ch := r.ch
	alive := r.conn != nil && !r.conn.IsClosed() && ch != nil && !ch.IsClosed()
	r.mu.Unlock()
	if !alive {
		go r.reconnect()
		return ErrClosed
	}
	return ch.PublishWithContext(ctx, r.exchange, routingKey, false, false, msg)
}

func (r *RabbitMQ) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	select {
	case <-r.closed:
		return nil
	default:
		close(r.closed)
	}
	if r.ch != nil && !r.ch.IsClosed() {
		if err := r.ch.Close(); err != nil {
			return fmt.Errorf("close rabbitmq channel: %w", err)
		}
	}
	if r.conn != nil && !r.conn.IsClosed() {
		if err := r.conn.Close(); err != nil {
			return fmt.Errorf("close rabbitmq connection: %w", err)
		}
	}
	return nil
}

func (r *RabbitMQ) connect() error {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(r.exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return err
	}

	r.mu.Lock()
	r.conn = conn
	r.ch = ch
	r.mu.Unlock()
	return nil
}

func (r *RabbitMQ) reconnect() {
	r.mu.Lock()
	if r.reconnecting {
		r.mu.Unlock()
		return
	}
	r.reconnecting = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.reconnecting = false
		r.mu.Unlock()
	}()

	log := r.log.Action("mb_reconnecting")
	t := time.NewTicker(reconnInterval)
	defer t.Stop()
	for {
		select {
		case <-r.closed:
			return
		case <-t.C:
			if err := r.connect(); err != nil {
				log.Warn("reconnect failed", "error", err.Error())
				continue
			}
			log.Info("reconnected to rabbitmq")
			return
		}
	}
}

type envelope struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

func encode(routingKey string, payload any, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(envelope{Type: routingKey, OccurredAt: now.UTC(), Data: payload})
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("encode %s event: %w", routingKey, err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    now,
		Type:         routingKey,
		Body:         body,
	}, nil
}
