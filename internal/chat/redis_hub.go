package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	channelPrefix  = "home:"
	channelSuffix  = ":frames"
	channelPattern = channelPrefix + "*" + channelSuffix
)

// envelope is what travels through redis between server instances.
type envelope struct {
	HomeID    string          `json:"homeId"`
	ExcludeID string          `json:"excludeId,omitempty"`
	Frame     json.RawMessage `json:"frame"`
}

// RedisHub fans broadcasts out through redis so every instance delivers to
// its own local connections. Connection ids are uuids, so exclusion works
// across instances.
type RedisHub struct {
	local *Hub
	redis *redis.Client
	log   *zap.Logger
}

func NewRedisHub(local *Hub, rdb *redis.Client, log *zap.Logger) *RedisHub {
	return &RedisHub{local: local, redis: rdb, log: log.Named("redis_hub")}
}

func homeChannel(homeID string) string {
	return channelPrefix + homeID + channelSuffix
}

func (h *RedisHub) Broadcast(ctx context.Context, homeID string, f Frame, excludeID string) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	env, err := json.Marshal(envelope{HomeID: homeID, ExcludeID: excludeID, Frame: data})
	if err != nil {
		return err
	}
	h.local.metrics.Frames.WithLabelValues(f.Type, "outbound").Inc()

	if err := h.redis.Publish(ctx, homeChannel(homeID), env).Err(); err != nil {
		// Local peers still get the frame.
		h.local.deliver(homeID, data, excludeID)
		return fmt.Errorf("publish to redis: %w", err)
	}
	return nil
}

// Run listens for frames from every instance (including this one) until ctx
// is cancelled.
func (h *RedisHub) Run(ctx context.Context) error {
	pubsub := h.redis.PSubscribe(ctx, channelPattern)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", channelPattern, err)
	}
	h.log.Info("listening for frames", zap.String("pattern", channelPattern))

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				h.log.Warn("bad envelope", zap.String("channel", msg.Channel), zap.Error(err))
				continue
			}
			if env.HomeID == "" {
				env.HomeID = strings.TrimSuffix(strings.TrimPrefix(msg.Channel, channelPrefix), channelSuffix)
			}
			h.local.deliver(env.HomeID, env.Frame, env.ExcludeID)
		}
	}
}
