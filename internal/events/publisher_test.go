package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestPublishDeliversEnvelope(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	sub := client.Subscribe(context.Background(), DefaultChannel)
	defer sub.Close()
	if _, err := sub.Receive(context.Background()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub := New(client, "")
	pub.now = func() time.Time { return time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC) }
	pub.Publish(context.Background(), "image_captured", map[string]any{"camera_id": float64(1)})

	select {
	case msg := <-sub.Channel():
		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			t.Fatalf("decode envelope: %v", err)
		}
		if env.Type != "image_captured" {
			t.Fatalf("expected image_captured, got %s", env.Type)
		}
		if env.Data["camera_id"] != float64(1) {
			t.Fatalf("payload lost: %v", env.Data)
		}
		if env.Timestamp.IsZero() {
			t.Fatalf("expected timestamp")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event never delivered")
	}
}

func TestPublishSwallowsBrokerFailure(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	mr.Close()

	// Broker is gone; a publish must not panic or block past its timeout.
	done := make(chan struct{})
	go func() {
		New(client, "").Publish(context.Background(), "image_captured", nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("publish blocked on dead broker")
	}
}
