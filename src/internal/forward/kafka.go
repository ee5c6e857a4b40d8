// FILE: chatwisp/src/internal/forward/kafka.go
package forward

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"chatwisp/src/internal/config"
	"chatwisp/src/internal/core"

	"github.com/lixenwraith/log"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the subset of kafka.Writer used for publishing
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaTarget publishes each entry to a topic, keyed by entry id
type KafkaTarget struct {
	writer messageWriter
	topic  string
	logger *log.Logger
}

func NewKafkaTarget(cfg config.ForwardConfig, logger *log.Logger) (*KafkaTarget, error) {
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.Topic == "" {
		return nil, errors.New("kafka forward requires brokers and topic")
	}

	var acks kafka.RequiredAcks
	switch cfg.Kafka.RequiredAcks {
	case "none":
		acks = kafka.RequireNone
	case "all":
		acks = kafka.RequireAll
	default:
		acks = kafka.RequireOne
	}

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Kafka.Brokers...),
		Topic:        cfg.Kafka.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: acks,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: timeout,
	}

	logger.Info("msg", "Kafka forward target configured",
		"component", "kafka_forward",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.Topic,
		"required_acks", cfg.Kafka.RequiredAcks)

	return &KafkaTarget{writer: w, topic: cfg.Kafka.Topic, logger: logger}, nil
}

func (k *KafkaTarget) Send(ctx context.Context, entry core.LogEntry) error {
	value, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("%w: failed to encode entry: %v", core.ErrForward, err)
	}

	msg := kafka.Message{
		Key:   []byte(entry.ID),
		Value: value,
		Time:  entry.ReceivedAt,
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("%w: kafka write to %s failed: %v", core.ErrForward, k.topic, err)
	}
	return nil
}

func (k *KafkaTarget) Name() string {
	return "kafka"
}

func (k *KafkaTarget) Close() error {
	return k.writer.Close()
}
