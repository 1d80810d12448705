// Package messaging publishes order events to a message broker.
package messaging

import (
	"context"
	"fmt"
	"log"
	"strings"

	"event-ticketing-checkout/internal/models"
)

const (
	BackendNone     = "none"
	BackendRabbitMQ = "rabbitmq"
	BackendKafka    = "kafka"

	OrderCompletedQueue = "order.completed"
	DefaultKafkaTopic   = "order-events"
	orderCompletedType  = "order.completed"
)

// Publisher emits order events. Implementations are safe for concurrent use.
type Publisher interface {
	PublishOrderCompleted(ctx context.Context, event models.OrderCompletedEvent) error
	Close() error
}

// Config selects and configures a broker
type Config struct {
	Backend      string
	RabbitMQURL  string
	KafkaBrokers []string
	KafkaTopic   string
}

// NewPublisher builds the publisher for the configured backend.
func NewPublisher(cfg Config) (Publisher, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", BackendNone:
		log.Println("Messaging: order events disabled")
		return NoopPublisher{}, nil
	case BackendRabbitMQ:
		if cfg.RabbitMQURL == "" {
			return nil, fmt.Errorf("rabbitmq backend requires RABBITMQ_URL")
		}
		log.Printf("Messaging: publishing order events to RabbitMQ queue %s", OrderCompletedQueue)
		return NewRabbitMQPublisher(cfg.RabbitMQURL), nil
	case BackendKafka:
		if len(cfg.KafkaBrokers) == 0 {
			return nil, fmt.Errorf("kafka backend requires KAFKA_BROKERS")
		}
		topic := cfg.KafkaTopic
		if topic == "" {
			topic = DefaultKafkaTopic
		}
		log.Printf("Messaging: publishing order events to Kafka topic %s", topic)
		return NewKafkaPublisher(topic, cfg.KafkaBrokers...), nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderCompleted(context.Context, models.OrderCompletedEvent) error {
	return nil
}

func (NoopPublisher) Close() error { return nil }
