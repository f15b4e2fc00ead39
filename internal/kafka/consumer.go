package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"

	"ms-tokenomy/internal/logger"
	"ms-tokenomy/internal/models"
)

type Consumer struct {
	reader *kafka.Reader
	logger *logger.Logger
}

// NewConsumer creates a Kafka consumer for the given topic and group.
func NewConsumer(brokers []string, topic, groupID string, log *logger.Logger) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	return &Consumer{reader: reader, logger: log}
}

// Start consumes settled-order events until the context is cancelled. The
// handler must be idempotent: the group delivers at least once.
func (c *Consumer) Start(ctx context.Context, handler func(ctx context.Context, event models.OrderSettledEvent)) {
	if c.logger != nil {
		c.logger.LogKafka("START", c.reader.Config().Topic, "consumer loop running")
	}

	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if c.logger != nil {
				c.logger.Error("KAFKA", fmt.Sprintf("Error reading message: %v", err))
			}
			continue
		}

		var event models.OrderSettledEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			if c.logger != nil {
				c.logger.Warn("KAFKA", fmt.Sprintf("Failed to unmarshal message: %v", err))
			}
			continue
		}

		if c.logger != nil {
			c.logger.LogKafka("RECEIVED", c.reader.Config().Topic, fmt.Sprintf("order=%s", event.OrderID))
		}
		handler(ctx, event)
	}
}

// Close gracefully shuts down the Kafka reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
