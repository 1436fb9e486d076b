// Package queue adapts the detection topic to the ingest Source interface.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"example.com/quakewatch/internal/config"
	"example.com/quakewatch/internal/ingest"
)

// KafkaSource reads with a consumer group and commits explicitly, so a
// message is redelivered if the process stops before handling it.
type KafkaSource struct {
	Reader *kafka.Reader
	logger *zap.Logger
}

func NewKafkaSource(cfg config.KafkaConfig, logger *zap.Logger) (*KafkaSource, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("kafka source needs brokers and a topic")
	}
	maxWait := cfg.MaxWait
	if maxWait <= 0 {
		maxWait = 5 * time.Second
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.BrokerList(),
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		StartOffset:    kafka.FirstOffset,
		MaxWait:        maxWait,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: 1 * time.Second,
	})

	logger.Info("Kafka consumer initialized",
		zap.Strings("brokers", cfg.BrokerList()),
		zap.String("topic", cfg.Topic),
		zap.String("group_id", cfg.GroupID),
	)
	return &KafkaSource{Reader: reader, logger: logger}, nil
}

func (s *KafkaSource) Fetch(ctx context.Context) (ingest.Message, error) {
	msg, err := s.Reader.FetchMessage(ctx)
	if err != nil {
		return ingest.Message{}, fmt.Errorf("failed to fetch kafka message: %w", err)
	}
	s.logger.Debug("Consumed kafka message",
		zap.String("topic", msg.Topic),
		zap.Int("partition", msg.Partition),
		zap.Int64("offset", msg.Offset),
		zap.Int("value_size", len(msg.Value)),
	)
	return ingest.Message{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
	}, nil
}

func (s *KafkaSource) Commit(ctx context.Context, m ingest.Message) error {
	err := s.Reader.CommitMessages(ctx, kafka.Message{
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
	})
	if err != nil {
		return fmt.Errorf("failed to commit kafka offset %d: %w", m.Offset, err)
	}
	return nil
}

func (s *KafkaSource) Close() error {
	if s.Reader == nil {
		return nil
	}
	if err := s.Reader.Close(); err != nil {
		s.logger.Error("failed to close Kafka consumer", zap.Error(err))
		return err
	}
	s.logger.Info("Kafka consumer closed")
	return nil
}
