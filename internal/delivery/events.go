package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// EventExchange is the topic exchange delivery events are published to
const EventExchange = "erechnung_events"

// Event describes one attempt state change
type Event struct {
	AttemptID     string         `json:"attemptId"`
	InvoiceID     string         `json:"invoiceId"`
	InvoiceNumber string         `json:"invoiceNumber"`
	ChannelID     string         `json:"channelId"`
	State         State          `json:"state"`
	AttemptCount  int            `json:"attemptCount"`
	TrackingID    string         `json:"trackingId,omitempty"`
	Error         *DeliveryError `json:"error,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// RoutingKey is delivery.<state>
func (e Event) RoutingKey() string {
	return "delivery." + string(e.State)
}

func newEvent(a *Attempt, at time.Time) Event {
	return Event{
		AttemptID:     a.ID,
		InvoiceID:     a.InvoiceID,
		InvoiceNumber: a.InvoiceNumber,
		ChannelID:     a.ChannelID,
		State:         a.State,
		AttemptCount:  a.AttemptCount,
		TrackingID:    a.TrackingID,
		Error:         a.Error,
		Timestamp:     at.UTC(),
	}
}

// EventPublisher is implemented by anything that can publish delivery events
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// NopPublisher drops events; used when no broker is configured
type NopPublisher struct {
	log zerolog.Logger
}

// NewNopPublisher creates the fallback publisher
func NewNopPublisher(log zerolog.Logger) *NopPublisher {
	return &NopPublisher{log: log}
}

func (p *NopPublisher) Publish(_ context.Context, event Event) error {
	p.log.Debug().Str("attempt_id", event.AttemptID).Str("routing_key", event.RoutingKey()).Msg("event publish skipped")
	return nil
}

func (p *NopPublisher) Close() {}

// session is one broker connection with its publishing channel
type session interface {
	publish(ctx context.Context, key string, msg amqp091.Publishing) error
	closed() bool
	close()
}

type brokerSession struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func (s *brokerSession) publish(ctx context.Context, key string, msg amqp091.Publishing) error {
	return s.channel.PublishWithContext(ctx, EventExchange, key, false, false, msg)
}

func (s *brokerSession) closed() bool {
	return s.conn.IsClosed() || s.channel.IsClosed()
}

func (s *brokerSession) close() {
	s.channel.Close()
	s.conn.Close()
}

// dialBroker connects and declares the exchange
func dialBroker(amqpURL string) (session, error) {
	conn, err := amqp091.DialConfig(amqpURL, amqp091.Config{Dial: amqp091.DefaultDial(10 * time.Second)})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(EventExchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &brokerSession{conn: conn, channel: ch}, nil
}

// AMQPPublisher publishes events to a durable RabbitMQ topic exchange. A
// dropped connection is redialed on the next publish.
type AMQPPublisher struct {
	mu      sync.Mutex
	url     string
	dial    func(string) (session, error)
	session session
	log     zerolog.Logger
}

func sanitizeAMQPURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	u, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if u.Scheme != "amqp" && u.Scheme != "amqps" {
		return "", errors.New("AMQP scheme must be either 'amqp://' or 'amqps://'")
	}
	return clean, nil
}

// NewAMQPPublisher dials the broker and declares the exchange
func NewAMQPPublisher(amqpURL string, log zerolog.Logger) (*AMQPPublisher, error) {
	return newAMQPPublisher(amqpURL, dialBroker, log)
}

func newAMQPPublisher(amqpURL string, dial func(string) (session, error), log zerolog.Logger) (*AMQPPublisher, error) {
	cleanURL, err := sanitizeAMQPURL(amqpURL)
	if err != nil {
		return nil, err
	}
	sess, err := dial(cleanURL)
	if err != nil {
		return nil, err
	}
	return &AMQPPublisher{url: cleanURL, dial: dial, session: sess, log: log}, nil
}

// reconnect replaces the session; the caller holds mu
func (p *AMQPPublisher) reconnect() error {
	if p.session != nil {
		p.session.close()
		p.session = nil
	}
	sess, err := p.dial(p.url)
	if err != nil {
		return err
	}
	p.session = sess
	return nil
}

// Publish sends the event. A closed connection is redialed first; a failed
// publish reconnects and retries once.
func (p *AMQPPublisher) Publish(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}
	msg := amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.AttemptID + ":" + string(event.State),
		Timestamp:    event.Timestamp,
		Body:         body,
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.session == nil || p.session.closed() {
		p.log.Warn().Msg("broker connection lost; redialing")
		if err := p.reconnect(); err != nil {
			return err
		}
	}

	err = p.session.publish(ctx, event.RoutingKey(), msg)
	if err == nil {
		return nil
	}
	p.log.Warn().Err(err).Str("routing_key", event.RoutingKey()).Msg("publish failed; reconnecting")
	if rerr := p.reconnect(); rerr != nil {
		return rerr
	}
	return p.session.publish(ctx, event.RoutingKey(), msg)
}

// Close closes the channel and the connection
func (p *AMQPPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session != nil {
		p.session.close()
		p.session = nil
	}
}

// NewEventPublisher connects to amqpURL, falling back to a no-op publisher when
// the URL is empty or the broker is unreachable
func NewEventPublisher(amqpURL string, log zerolog.Logger) EventPublisher {
	if amqpURL == "" {
		return NewNopPublisher(log)
	}
	p, err := NewAMQPPublisher(amqpURL, log)
	if err != nil {
		log.Warn().Err(err).Msg("event broker unavailable; events are not published")
		return NewNopPublisher(log)
	}
	return p
}
