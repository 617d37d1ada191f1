package event

import (
	"context"
	"encoding/json"
	"fmt"

	"anoa.com/refurnish/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// RedisBridge republishes every event as JSON on a Redis channel for out-of-process consumers.
func RedisBridge(client *redis.Client, channel string) Handler {
	return func(ctx context.Context, e Event) error {
		payload, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event: %w", err)
		}
		if err := client.Publish(ctx, channel, payload).Err(); err != nil {
			return fmt.Errorf("publish to %s: %w", channel, err)
		}
		return nil
	}
}

// CompletionMetrics counts COMPLETED events by achievement tier.
func CompletionMetrics() Handler {
	return func(_ context.Context, e Event) error {
		if e.Type != TypeCompleted || e.Achievement == nil {
			return nil
		}
		metrics.AchievementsCompleted.WithLabelValues(e.Achievement.Tier).Inc()
		return nil
	}
}
