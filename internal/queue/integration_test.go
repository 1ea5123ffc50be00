//go:build integration

package queue_test

import (
	"context"
	"testing"
	"time"

	"github.com/felixgeelhaar/pythonquest/internal/domain"
	"github.com/felixgeelhaar/pythonquest/internal/progress"
	"github.com/felixgeelhaar/pythonquest/internal/queue"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// setupRabbitMQ creates a RabbitMQ container for testing
func setupRabbitMQ(t *testing.T) (string, func()) {
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}

	amqpURL, err := container.AmqpURL(ctx)
	if err != nil {
		container.Terminate(ctx)
		t.Fatalf("failed to get AMQP URL: %v", err)
	}

	cleanup := func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}

	return amqpURL, cleanup
}

func TestIntegration_Connection_InvalidURL(t *testing.T) {
	if _, err := queue.NewConnection("amqp://invalid:5672"); err == nil {
		t.Error("expected error for invalid URL")
	}
}

func TestIntegration_PublishAndConsume(t *testing.T) {
	amqpURL, cleanup := setupRabbitMQ(t)
	defer cleanup()

	conn, err := queue.NewConnection(amqpURL)
	if err != nil {
		t.Fatalf("failed to create connection: %v", err)
	}
	defer conn.Close()

	if !conn.IsConnected() {
		t.Fatal("expected connection to be active")
	}

	producer := queue.NewProducer(conn, "integration")
	completion := domain.NewCompletion("u1", &domain.GradingReport{
		LessonID: "control-flow",
		Reward:   &domain.RewardSignal{XP: 100, Gems: 10},
	})
	if err := producer.PublishCompletion(context.Background(), completion); err != nil {
		t.Fatalf("PublishCompletion() error = %v", err)
	}

	rec := progress.NewMemoryRecorder()
	consumer := queue.NewConsumer(conn, rec, queue.DefaultConsumerConfig())
	if err := consumer.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer consumer.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		got, _ := rec.List(context.Background(), "u1")
		if len(got) == 1 {
			if got[0].ID != completion.ID || got[0].XPEarned != 100 {
				t.Errorf("consumed %+v", got[0])
			}
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatal("completion was not consumed within 10s")
}
