// Package amqpx publishes advisory notifications to RabbitMQ.
package amqpx

import (
	"context"
	"encoding/json"
	"fmt"
	amqp "github.com/rabbitmq/amqp091-go"
	"log/slog"
	"sync"
	"time"
)

const ExchangeNotifications = "notifications_fanout"

type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher owns one connection and channel and redials when the broker
// drops them.
type Publisher struct {
	url string
	log *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   channel
	dial func() (*amqp.Connection, channel, error)
}

// Dial connects with a few retries and declares the notification exchange.
func Dial(url string, log *slog.Logger) (*Publisher, error) {
	if log == nil {
		log = slog.Default()
	}
	p := &Publisher{url: url, log: log.With("component", "amqp")}
	p.dial = p.connect

	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		if p.conn, p.ch, err = p.dial(); err == nil {
			return p, nil
		}
		wait := time.Duration(attempt) * 2 * time.Second
		p.log.Warn("rabbitmq connect failed", slog.Int("attempt", attempt), slog.Duration("retry_in", wait), slog.String("error", err.Error()))
		time.Sleep(wait)
	}
	return nil, fmt.Errorf("connect rabbitmq: %w", err)
}

func (p *Publisher) connect() (*amqp.Connection, channel, error) {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if err := ch.ExchangeDeclare(ExchangeNotifications, "fanout", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, nil, fmt.Errorf("declare %s: %w", ExchangeNotifications, err)
	}
	return conn, ch, nil
}

// PublishNotification sends v as a persistent JSON message to the fanout
// exchange.
func (p *Publisher) PublishNotification(ctx context.Context, messageID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	ch, err := p.channel()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	err = ch.PublishWithContext(ctx, ExchangeNotifications, "", false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		p.reset()
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (p *Publisher) channel() (channel, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil && (p.conn == nil || !p.conn.IsClosed()) {
		return p.ch, nil
	}
	conn, ch, err := p.dial()
	if err != nil {
		return nil, fmt.Errorf("reconnect rabbitmq: %w", err)
	}
	p.conn, p.ch = conn, ch
	return ch, nil
}

// reset forces the next publish to redial.
func (p *Publisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch = nil, nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
