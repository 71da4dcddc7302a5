package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/mekongcart/api/internal/services"
)

// KafkaOrderEventPublisher publishes order lifecycle events to a Kafka topic.
type KafkaOrderEventPublisher struct {
	writer  *kafka.Writer
	marshal func(any) ([]byte, error)
}

// NewKafkaOrderEventPublisher constructs a Kafka backed order event publisher.
func NewKafkaOrderEventPublisher(writer *kafka.Writer) (*KafkaOrderEventPublisher, error) {
	if writer == nil {
		return nil, errors.New("kafka order event publisher: writer is required")
	}
	return &KafkaOrderEventPublisher{
		writer:  writer,
		marshal: json.Marshal,
	}, nil
}

// NewKafkaWriter builds a writer for the given brokers and topic with the
// settings the API uses everywhere.
func NewKafkaWriter(brokers []string, topic string) (*kafka.Writer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka order event publisher: at least one broker is required")
	}
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka order event publisher: topic is required")
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}, nil
}

// PublishOrderEvent enqueues an order event message on the configured topic.
// Messages are keyed by order id so consumers see events for one order in order.
func (p *KafkaOrderEventPublisher) PublishOrderEvent(ctx context.Context, message services.OrderEventMessage) (string, error) {
	if p == nil || p.writer == nil {
		return "", errors.New("kafka order event publisher: not initialised")
	}

	if strings.TrimSpace(message.EventID) == "" {
		message.EventID = uuid.NewString()
	}

	data, err := p.marshal(message)
	if err != nil {
		return "", fmt.Errorf("marshal order event: %w", err)
	}

	headers := make([]kafka.Header, 0, 2)
	if v := strings.TrimSpace(message.EventType); v != "" {
		headers = append(headers, kafka.Header{Key: "eventType", Value: []byte(v)})
	}
	if v := strings.TrimSpace(message.EventID); v != "" {
		headers = append(headers, kafka.Header{Key: "eventId", Value: []byte(v)})
	}

	msg := kafka.Message{
		Key:     []byte(fmt.Sprintf("order-%d", message.OrderID)),
		Value:   data,
		Headers: headers,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("publish order event: %w", err)
	}
	return message.EventID, nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaOrderEventPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
