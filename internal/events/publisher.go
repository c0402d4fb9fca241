// Package events publishes domain events (task, project and chat changes)
// to a RabbitMQ topic exchange for consumers such as a real-time gateway.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"
)

const ExchangeName = "taskmanager.events"

const (
	TaskCreated       = "task.created"
	TaskUpdated       = "task.updated"
	TaskArchived      = "task.archived"
	TaskDeleted       = "task.deleted"
	TaskFileUploaded  = "task.file.uploaded"
	TaskFileDeleted   = "task.file.deleted"
	ProjectCreated    = "project.created"
	ProjectUpdated    = "project.updated"
	ProjectDeleted    = "project.deleted"
	ChatCreated       = "chat.created"
	ChatMessagePosted = "chat.message.posted"
	UserProvisioned   = "user.provisioned"
)

// Envelope is the JSON body of every published message.
type Envelope struct {
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurredAt"`
	ActorID    string    `json:"actorId,omitempty"`
	Data       any       `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event Envelope) error
	Close()
}

// AMQPPublisher publishes persistent JSON messages to ExchangeName.
type AMQPPublisher struct {
	mu      sync.Mutex
	conn    *amqp091.Connection
	channel *amqp091.Channel
}

func NewAMQPPublisher(url string) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(ExchangeName, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AMQPPublisher{conn: conn, channel: ch}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, routingKey string, event Envelope) error {
	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	// amqp091 channels are not safe for concurrent publishing.
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn.IsClosed() {
		return fmt.Errorf("publish %s: connection closed", routingKey)
	}
	return p.channel.PublishWithContext(ctx,
		ExchangeName,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp091.Persistent,
			Timestamp:    event.OccurredAt,
			Type:         event.Type,
		},
	)
}

func (p *AMQPPublisher) Close() {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}

// Nop discards events. Used when no broker is configured.
type Nop struct{}

func (Nop) Publish(context.Context, string, Envelope) error { return nil }
func (Nop) Close()                                          {}
