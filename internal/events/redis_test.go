package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/thenexusengine/tne_adbridge/internal/channel"
	"github.com/thenexusengine/tne_adbridge/pkg/redis"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client, err := redis.New("redis://" + mr.Addr())
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisPublisher(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	sub := client.Subscribe(ctx, "test:events:native-1")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	p := NewRedisPublisher(client, "test:events:", 8, nil)
	p.Emit(channel.Event{Channel: "native-1", Method: "onAdChanged", Arguments: map[string]interface{}{"kind": "error"}})

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage failed: %v", err)
	}
	var e channel.Event
	if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
		t.Fatalf("invalid payload %q: %v", msg.Payload, err)
	}
	if e.Channel != "native-1" || e.Method != "onAdChanged" {
		t.Errorf("unexpected event %+v", e)
	}

	p.Close()
	p.Close()
	p.Emit(channel.Event{Channel: "native-1", Method: "late"})
}

type blockingPublisher struct {
	release chan struct{}
}

func (b *blockingPublisher) Publish(ctx context.Context, _ string, _ interface{}) error {
	select {
	case <-b.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestRedisPublisherDropsWhenFull(t *testing.T) {
	metrics := newCountingMetrics()
	pub := &blockingPublisher{release: make(chan struct{})}
	p := NewRedisPublisher(pub, "x:", 1, metrics)

	// the worker holds at most one event, the queue one more
	for i := 0; i < 5; i++ {
		p.Emit(channel.Event{Channel: "c", Method: "m"})
	}
	if metrics.droppedFor("redis") < 3 {
		t.Errorf("expected at least 3 drops, got %d", metrics.droppedFor("redis"))
	}

	close(pub.release)
	p.Close()
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, interface{}) error {
	return errors.New("connection refused")
}

func TestRedisPublisherCountsFailures(t *testing.T) {
	metrics := newCountingMetrics()
	p := NewRedisPublisher(failingPublisher{}, "x:", 4, metrics)
	p.Emit(channel.Event{Channel: "c", Method: "m"})
	p.Close()

	if metrics.droppedFor("redis") != 1 {
		t.Errorf("expected failed publish counted as drop, got %d", metrics.droppedFor("redis"))
	}
}
