package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"verdict/internal/config"
	"verdict/internal/constants"
	"verdict/internal/logger"
	"verdict/pkg/metrics"
	"verdict/pkg/retry"
	"verdict/pkg/tracing"
)

type KafkaProducer struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaProducer(cfg config.KafkaConfig, log logger.Logger) *KafkaProducer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchTimeout: constants.KafkaBatchTimeout,
		WriteTimeout: constants.KafkaWriteTimeout,
		Async:        false,
	}
	return &KafkaProducer{writer: w, logger: log}
}

func (p *KafkaProducer) Publish(ctx context.Context, topic string, event RuleEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		// An unmarshalable event will never succeed on retry.
		return retry.NewFatalError(fmt.Errorf("failed to marshal rule event: %w", err))
	}

	headers := tracing.InjectTraceContext(ctx, []kafka.Header{})

	err = p.writer.WriteMessages(ctx,
		kafka.Message{
			Topic: topic,
			// Key by rule id so all events for one rule stay ordered
			// within a partition.
			Key:     []byte(event.RuleID),
			Value:   body,
			Headers: headers,
			Time:    time.Now(),
		},
	)

	if err != nil {
		return fmt.Errorf("failed to write kafka message: %w", err)
	}

	metrics.IncKafkaMessagesWritten(topic)
	return nil
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
