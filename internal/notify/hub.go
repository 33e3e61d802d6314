// Package notify relays file status changes to users over Redis pub/sub,
// email and websockets.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

type Type string

const (
	TypeInfo  Type = "info"
	TypeError Type = "error"
)

type Category string

const CategoryFile Category = "file"

// Notification is the message pushed to a user's channel.
type Notification struct {
	Type     Type     `json:"type"`
	Category Category `json:"category"`
	Message  string   `json:"message"`
}

// ChannelName is the pub/sub channel for userID.
func ChannelName(userID int64) string {
	return fmt.Sprintf("noti:%d", userID)
}

// Hub publishes and subscribes to per-user channels.
type Hub struct {
	client redis.UniversalClient
}

func NewHub(client redis.UniversalClient) *Hub {
	return &Hub{client: client}
}

func (h *Hub) Publish(ctx context.Context, userID int64, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	if err := h.client.Publish(ctx, ChannelName(userID), payload).Err(); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

// Subscribe returns a confirmed subscription to userID's channel. The caller
// must Close it.
func (h *Hub) Subscribe(ctx context.Context, userID int64) (*redis.PubSub, error) {
	ps := h.client.Subscribe(ctx, ChannelName(userID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", ChannelName(userID), err)
	}
	return ps, nil
}
