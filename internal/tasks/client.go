package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Client dispatches registered tasks onto a broker.
type Client struct {
	registry *Registry
	broker   Broker
	now      func() time.Time
}

func NewClient(registry *Registry, broker Broker) *Client {
	return &Client{registry: registry, broker: broker, now: time.Now}
}

// Delay schedules name to run as soon as a worker is free. args is marshalled to
// JSON and handed to the task handler as its payload.
func (c *Client) Delay(ctx context.Context, name string, args any) (Message, error) {
	return c.ApplyAsync(ctx, name, args, 0)
}

// ApplyAsync schedules name to run after countdown.
func (c *Client) ApplyAsync(ctx context.Context, name string, args any, countdown time.Duration) (Message, error) {
	t, ok := c.registry.Lookup(name)
	if !ok {
		return Message{}, fmt.Errorf("task %q not registered", name)
	}

	payload, err := json.Marshal(args)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s args: %w", name, err)
	}

	msg := Message{
		ID:      uuid.NewString(),
		Task:    t.Name,
		Queue:   t.Queue,
		Payload: payload,
		ETA:     c.now().Add(countdown),
	}
	if err := c.broker.Publish(ctx, msg); err != nil {
		return Message{}, fmt.Errorf("publish %s: %w", name, err)
	}
	return msg, nil
}
