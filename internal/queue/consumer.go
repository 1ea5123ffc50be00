package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/felixgeelhaar/pythonquest/internal/progress"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Consumer drains completion events into a recorder
type Consumer struct {
	conn       *Connection
	recorder   progress.Recorder
	workers    int
	prefetch   int
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers  int // Number of concurrent workers
	Prefetch int // Unacknowledged deliveries per channel
	Logger   *slog.Logger
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:  2,
		Prefetch: 4,
	}
}

// NewConsumer creates a consumer recording into rec
func NewConsumer(conn *Connection, rec progress.Recorder, cfg ConsumerConfig) *Consumer {
	def := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = def.Prefetch
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Consumer{
		conn:     conn,
		recorder: rec,
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
		logger:   cfg.Logger,
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	ch := c.conn.Channel()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		CompletionQueueName,
		"",    // consumer tag (auto-generated)
		false, // manual ack
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("starting completion consumer", "workers", c.workers, "prefetch", c.prefetch)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, msgs)
	}

	return nil
}

func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("message channel closed", "worker_id", id)
				return
			}
			c.handle(ctx, msg)
		}
	}
}

// handle records one delivery. Malformed events are dropped, a failed
// record is requeued once and dropped on redelivery.
func (c *Consumer) handle(ctx context.Context, msg amqp.Delivery) {
	ev, err := DecodeCompletionEvent(msg.Body)
	if err != nil {
		c.logger.Error("dropping malformed completion event", "error", err)
		_ = msg.Reject(false)
		return
	}

	completion := ev.Completion
	if err := c.recorder.Record(ctx, completion); err != nil {
		requeue := !msg.Redelivered
		c.logger.Error("failed to record completion",
			"completion_id", completion.ID,
			"lesson_id", completion.LessonID,
			"requeue", requeue,
			"error", err,
		)
		_ = msg.Nack(false, requeue)
		return
	}

	if err := msg.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "completion_id", completion.ID, "error", err)
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	c.logger.Info("consumer stopped")
}
