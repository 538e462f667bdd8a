package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/streadway/amqp"
)

// Channel is the publishing side of *amqp.Channel.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPPublisher sends order events to a topic exchange, routed by event type.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  Channel
	exchange string
}

// message is the envelope consumers expect: the routing pattern, the payload
// and a message id.
type message struct {
	Pattern string      `json:"pattern"`
	Data    interface{} `json:"data"`
	ID      string      `json:"id,omitempty"`
}

// DialAMQP connects and declares a durable topic exchange.
func DialAMQP(amqpURL, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	log.Printf("publishing order events to exchange %q", exchange)
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// NewAMQPPublisher wraps an already opened channel.
func NewAMQPPublisher(channel Channel, exchange string) *AMQPPublisher {
	return &AMQPPublisher{channel: channel, exchange: exchange}
}

func (p *AMQPPublisher) Publish(ctx context.Context, e OrderEvent) error {
	body, err := json.Marshal(message{
		Pattern: e.Type,
		Data:    e,
		ID:      e.ID,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	err = p.channel.Publish(
		p.exchange,
		e.Type,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    e.ID,
			Timestamp:    e.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish message: %w", err)
	}
	return nil
}

func (p *AMQPPublisher) Close() {
	if ch, ok := p.channel.(*amqp.Channel); ok && ch != nil {
		ch.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
