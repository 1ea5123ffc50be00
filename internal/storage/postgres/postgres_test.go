package postgres

import (
	"context"
	"testing"
	"time"
)

func TestConnect_InvalidURL(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := Connect(ctx, "postgres://quest@127.0.0.1:99999/pythonquest"); err == nil {
		t.Error("Connect() error = nil for an unusable URL")
	}
}

func TestMigrate_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := Migrate(ctx, "postgres://quest@127.0.0.1:1/pythonquest?sslmode=disable&connect_timeout=1", nil); err == nil {
		t.Error("Migrate() error = nil for an unreachable server")
	}
}
