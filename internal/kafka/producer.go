package kafka

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-tokenomy/internal/logger"
)

// Producer publishes domain events. MockMode swallows writes so local
// development works without a broker.
type Producer struct {
	Writer   *kafka.Writer
	Logger   *logger.Logger
	MockMode bool
}

func NewProducer(brokers []string, log *logger.Logger, mockMode bool) *Producer {
	if mockMode {
		if log != nil {
			log.Warn("KAFKA", "Producer running in mock mode, events will not be delivered")
		}
		return &Producer{Logger: log, MockMode: true}
	}

	writer := &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &Producer{Writer: writer, Logger: log}
}

// Publish writes one message to the given topic, keyed for per-order ordering.
func (p *Producer) Publish(topic string, key string, value []byte) error {
	if p.MockMode {
		if p.Logger != nil {
			p.Logger.LogKafka("MOCK", topic, fmt.Sprintf("key=%s %s", key, string(value)))
		}
		return nil
	}

	if p.Logger != nil {
		p.Logger.LogKafka("PUBLISH", topic, fmt.Sprintf("key=%s", key))
	}

	return p.Writer.WriteMessages(context.Background(),
		kafka.Message{
			Topic: topic,
			Key:   []byte(key),
			Value: value,
		},
	)
}

// Close flushes and shuts down the writer.
func (p *Producer) Close() error {
	if p.Writer == nil {
		return nil
	}
	return p.Writer.Close()
}
