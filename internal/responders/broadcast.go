package responders

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sentinelstack/guardian/internal/engine"
	"github.com/sentinelstack/guardian/internal/models"
)

var _ engine.FlagBroadcaster = (*RedisBroadcaster)(nil)

// RedisBroadcaster publishes alert-level changes over Redis. The current level
// and safe-mode flag are kept in plain keys for late subscribers, and every
// change is additionally pushed on a pub/sub channel so pipeline components
// react without polling.
type RedisBroadcaster struct {
	logger    *slog.Logger
	client    *redis.Client
	keyPrefix string
}

// NewRedisBroadcaster wraps an existing Redis client. The caller owns the
// client's lifecycle.
func NewRedisBroadcaster(logger *slog.Logger, client *redis.Client, keyPrefix string) *RedisBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if keyPrefix == "" {
		keyPrefix = "guardian"
	}
	return &RedisBroadcaster{logger: logger, client: client, keyPrefix: keyPrefix}
}

// PublishLevel implements engine.FlagBroadcaster.
func (b *RedisBroadcaster) PublishLevel(ctx context.Context, level models.AlertLevel, safeMode bool) error {
	levelKey := b.keyPrefix + ":alert_level"
	safeModeKey := b.keyPrefix + ":safe_mode"
	channel := b.keyPrefix + ":transitions"

	if err := b.client.Set(ctx, levelKey, int(level), 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", levelKey, err)
	}
	if err := b.client.Set(ctx, safeModeKey, strconv.FormatBool(safeMode), 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w", safeModeKey, err)
	}

	payload, err := json.Marshal(map[string]any{
		"level":     int(level),
		"safe_mode": safeMode,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal transition payload: %w", err)
	}
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}

	b.logger.Debug("alert level broadcast",
		slog.Int("level", int(level)),
		slog.Bool("safe_mode", safeMode),
	)
	return nil
}
