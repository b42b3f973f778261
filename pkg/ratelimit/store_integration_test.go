//go:build integration

package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestRedisStore_Integration_EmptyDeadline(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	store := NewRedisStore(client)
	deadline, err := store.Deadline(context.Background())
	if err != nil {
		t.Fatalf("Deadline() error = %v", err)
	}
	if !deadline.IsZero() {
		t.Errorf("empty store Deadline() = %v, want zero", deadline)
	}
}

func TestRedisStore_Integration_ExtendAndRead(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRedisStore(client)

	until := time.Now().Add(30 * time.Second)
	if err := store.Extend(ctx, until); err != nil {
		t.Fatalf("Extend() error = %v", err)
	}

	got, err := store.Deadline(ctx)
	if err != nil {
		t.Fatalf("Deadline() error = %v", err)
	}
	if !got.Equal(until) {
		t.Errorf("Deadline() = %v, want %v", got, until)
	}

	// An earlier deadline never rolls the window back.
	if err := store.Extend(ctx, until.Add(-10*time.Second)); err != nil {
		t.Fatalf("Extend(earlier) error = %v", err)
	}
	got, _ = store.Deadline(ctx)
	if !got.Equal(until) {
		t.Errorf("Deadline() after earlier Extend = %v, want %v", got, until)
	}
}

func TestRedisStore_Integration_SharedAcrossProcesses(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()

	// Two stores over one Redis model two extractor processes.
	writer := NewRedisStore(client)
	reader := NewRedisStore(client)

	until := time.Now().Add(15 * time.Second)
	if err := writer.Extend(ctx, until); err != nil {
		t.Fatalf("Extend() error = %v", err)
	}

	got, err := reader.Deadline(ctx)
	if err != nil {
		t.Fatalf("Deadline() error = %v", err)
	}
	if !got.Equal(until) {
		t.Errorf("sibling Deadline() = %v, want %v", got, until)
	}
}

func TestRedisStore_Integration_KeyExpires(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	ctx := context.Background()
	store := NewRedisStore(client)

	until := time.Now().Add(5 * time.Second)
	if err := store.Extend(ctx, until); err != nil {
		t.Fatalf("Extend() error = %v", err)
	}

	ttl, err := client.TTL(ctx, redisKeyCooldownUntil).Result()
	if err != nil {
		t.Fatalf("TTL() error = %v", err)
	}
	// Window plus the one-minute grace.
	if ttl <= 5*time.Second || ttl > 5*time.Second+time.Minute {
		t.Errorf("TTL = %v, want between window and window+1m", ttl)
	}
}
