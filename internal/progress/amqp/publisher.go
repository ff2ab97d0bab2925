// Package amqp publishes campaign progress events to a RabbitMQ exchange.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/ianampudia11/mecom-sub003/internal/dispatch"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	amqplib "github.com/streadway/amqp"
)

const (
	defaultExchange   = "campaign.progress"
	defaultKeyPrefix  = "campaign."
	defaultBufferSize = 1024
)

var eventsDropped = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "campaigndispatcher",
		Subsystem: "dispatch",
		Name:      "events_dropped_total",
		Help:      "Progress events dropped before reaching the broker",
	},
	[]string{"reason"},
)

// Config holds publisher configuration.
type Config struct {
	URL              string
	Exchange         string
	RoutingKeyPrefix string
	BufferSize       int
}

// Channel is the part of *amqp.Channel the publisher uses.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqplib.Publishing) error
	Close() error
}

// Envelope is the JSON body of a published event.
type Envelope struct {
	ID string `json:"id"`
	dispatch.Event
}

// Publisher is a dispatch.Notifier that hands events to a background
// goroutine. Notify never blocks: events are dropped when the buffer is full.
type Publisher struct {
	config Config
	ch     Channel
	conn   io.Closer

	mu     sync.RWMutex
	closed bool
	events chan outgoing
	done   chan struct{}
}

type outgoing struct {
	key string
	msg amqplib.Publishing
}

var _ dispatch.Notifier = (*Publisher)(nil)

// Dial connects to the broker, declares the exchange and starts publishing.
func Dial(config Config) (*Publisher, error) {
	config = withDefaults(config)

	conn, err := amqplib.Dial(config.URL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(config.Exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", config.Exchange, err)
	}

	slog.Info("progress publisher connected", "exchange", config.Exchange)
	return newPublisher(config, ch, conn), nil
}

func withDefaults(config Config) Config {
	if config.Exchange == "" {
		config.Exchange = defaultExchange
	}
	if config.RoutingKeyPrefix == "" {
		config.RoutingKeyPrefix = defaultKeyPrefix
	}
	if config.BufferSize <= 0 {
		config.BufferSize = defaultBufferSize
	}
	return config
}

func newPublisher(config Config, ch Channel, conn io.Closer) *Publisher {
	config = withDefaults(config)
	p := &Publisher{
		config: config,
		ch:     ch,
		conn:   conn,
		events: make(chan outgoing, config.BufferSize),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

// Notify implements dispatch.Notifier.
func (p *Publisher) Notify(_ context.Context, e dispatch.Event) {
	body, err := json.Marshal(Envelope{ID: uuid.NewString(), Event: e})
	if err != nil {
		eventsDropped.WithLabelValues("encode").Inc()
		slog.Error("failed to encode progress event", "event", e.Kind, "error", err)
		return
	}

	msg := amqplib.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqplib.Persistent,
		Timestamp:    e.OccurredAt,
		Type:         string(e.Kind),
		Body:         body,
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		eventsDropped.WithLabelValues("closed").Inc()
		return
	}

	select {
	case p.events <- outgoing{key: p.config.RoutingKeyPrefix + string(e.Kind), msg: msg}:
	default:
		eventsDropped.WithLabelValues("buffer_full").Inc()
		slog.Warn("progress event dropped", "event", e.Kind, "campaign_id", e.CampaignID)
	}
}

func (p *Publisher) run() {
	defer close(p.done)

	for out := range p.events {
		if err := p.ch.Publish(p.config.Exchange, out.key, false, false, out.msg); err != nil {
			eventsDropped.WithLabelValues("publish").Inc()
			slog.Error("failed to publish progress event", "routing_key", out.key, "error", err)
		}
	}
}

// Close stops accepting events, drains the buffer and closes the broker
// connection. Draining gives up when ctx is done.
func (p *Publisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.events)
	p.mu.Unlock()

	var errs []error
	select {
	case <-p.done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("drain progress events: %w", ctx.Err()))
	}

	if err := p.ch.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close amqp channel: %w", err))
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close amqp connection: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Pending returns the number of buffered events.
func (p *Publisher) Pending() int {
	return len(p.events)
}
