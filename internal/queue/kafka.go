package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/felixgeelhaar/pythonquest/internal/progress"
	kafkago "github.com/segmentio/kafka-go"
)

var _ progress.Publisher = (*KafkaPublisher)(nil)

// KafkaConfig configures the Kafka completion publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	Source  string
}

// KafkaPublisher writes completion events to a Kafka topic keyed by user,
// so one learner's events stay ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	source string
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewKafkaPublisher constructs a publisher using the supplied configuration.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one broker must be provided")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("topic must be provided")
	}

	writer := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
	}

	return newKafkaPublisher(writer, cfg.Source), nil
}

func newKafkaPublisher(writer messageWriter, source string) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, source: source}
}

// PublishCompletion serializes and writes c to Kafka.
func (p *KafkaPublisher) PublishCompletion(ctx context.Context, c domain.Completion) error {
	if p.writer == nil {
		return fmt.Errorf("publisher is not initialized")
	}

	payload, err := json.Marshal(NewCompletionEvent(c, p.source))
	if err != nil {
		return fmt.Errorf("marshal completion event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(c.UserID),
		Value: payload,
		Time:  time.Now(),
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close releases the underlying Kafka writer.
func (p *KafkaPublisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
