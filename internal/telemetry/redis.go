// Package telemetry pushes periodic status snapshots to Redis so a
// fleet dashboard can watch rovers without polling each one over HTTP.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/roverlink/rover/internal/util"
)

const connectTimeout = 5 * time.Second

// Publisher mirrors rover status into Redis: a pub/sub message per
// snapshot plus a per-device hash with a short TTL, so consumers can
// either subscribe live or read the latest state.
type Publisher struct {
	log      *slog.Logger
	client   *redis.Client
	channel  string
	deviceID string
}

// NewPublisher connects to Redis if a URL is configured. Telemetry is
// optional, a missing or unreachable broker disables it with a warning
// instead of failing rover startup.
func NewPublisher(url, channel, deviceID string) *Publisher {
	p := &Publisher{
		log:      util.Component("telemetry"),
		channel:  channel,
		deviceID: deviceID,
	}
	if url == "" {
		return p
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		p.log.Warn("invalid redis url, telemetry disabled", "error", err)
		return p
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		p.log.Warn("redis unreachable, telemetry disabled", "url", url, "error", err)
		client.Close()
		return p
	}

	p.client = client
	p.log.Info("telemetry publishing", "channel", channel)
	return p
}

// Enabled reports whether a Redis connection is live.
func (p *Publisher) Enabled() bool { return p != nil && p.client != nil }

// Publish sends one status snapshot. No-op when telemetry is disabled.
func (p *Publisher) Publish(ctx context.Context, status any) {
	if !p.Enabled() {
		return
	}
	payload, err := sonic.Marshal(status)
	if err != nil {
		p.log.Warn("telemetry marshal failed", "error", err)
		return
	}

	key := "rover:status:" + p.deviceID
	pipe := p.client.Pipeline()
	pipe.Publish(ctx, p.channel, payload)
	pipe.HSet(ctx, key,
		"status", payload,
		"updated_at", time.Now().UTC().Format(time.RFC3339))
	pipe.Expire(ctx, key, time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn("telemetry publish failed", "error", err)
	}
}

// Close releases the Redis connection.
func (p *Publisher) Close() {
	if p.Enabled() {
		p.client.Close()
	}
}
