// Package events publishes system events over Redis pub/sub. Delivery is
// fire-and-forget: a lost event never fails the workflow that emitted it.
// The SSE fan-out to browsers subscribes on the other side and is out of
// scope here.
package events

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel events land on.
const DefaultChannel = "timelapser:events"

// Publisher emits typed events.
type Publisher struct {
	client  *redis.Client
	channel string
	now     func() time.Time
}

// New builds a publisher on the given channel; channel "" selects
// DefaultChannel.
func New(client *redis.Client, channel string) *Publisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Publisher{client: client, channel: channel, now: time.Now}
}

type envelope struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Publish sends one event. Failures are logged and swallowed; the publish
// runs under its own short timeout so a slow broker cannot stall a capture.
func (p *Publisher) Publish(ctx context.Context, eventType string, payload map[string]any) {
	body, err := json.Marshal(envelope{Type: eventType, Timestamp: p.now().UTC(), Data: payload})
	if err != nil {
		log.Printf("events: marshal %s: %v", eventType, err)
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := p.client.Publish(pubCtx, p.channel, body).Err(); err != nil {
		log.Printf("events: publish %s: %v", eventType, err)
	}
}
