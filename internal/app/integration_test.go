//go:build integration

package app

import (
	"context"
	"testing"

	"github.com/felixgeelhaar/pythonquest/internal/config"
	"github.com/felixgeelhaar/pythonquest/internal/progress"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

func TestIntegration_SetupFanoutClosesQueueOnFailure(t *testing.T) {
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx, "rabbitmq:3.12-management")
	if err != nil {
		t.Fatalf("failed to start RabbitMQ container: %v", err)
	}
	defer func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	}()

	amqpURL, err := container.AmqpURL(ctx)
	if err != nil {
		t.Fatalf("failed to get AMQP URL: %v", err)
	}

	cfg := config.DefaultLocalConfig()
	cfg.Queue.RabbitMQURL = amqpURL
	// A broker without a topic makes the Kafka publisher fail after dialing
	cfg.Queue.Kafka = config.KafkaConfig{Brokers: []string{"localhost:9092"}}

	a := &App{Config: cfg, Store: progress.NewMemoryRecorder(), logger: quietLogger()}
	if _, err := a.setupFanout(cfg); err == nil {
		t.Fatal("setupFanout() error = nil, want kafka configuration error")
	}
	if a.conn == nil || !a.conn.IsConnected() {
		t.Fatal("expected RabbitMQ to be dialed before the failure")
	}

	if err := a.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if a.conn.IsConnected() {
		t.Error("RabbitMQ connection leaked after setupFanout failed")
	}
}
