// Package publish forwards signal events to downstream consumers over Redis.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"github.com/rzcastilho/trading-strategy-sub005/internal/logger"
	"github.com/rzcastilho/trading-strategy-sub005/internal/signal"
)

const (
	defaultChannel = "signals"
	// Stream trimming: recent signals only, consumers read live.
	streamMaxLen = 10000
)

// RedisConfig configures the Redis publisher.
type RedisConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
	// Channel is the PubSub channel; the stream key is "stream:" + Channel.
	Channel string
}

// Message is the wire form of one signal event.
type Message struct {
	RunID     string `json:"run_id,omitempty"`
	Strategy  string `json:"strategy"`
	Symbol    string `json:"symbol"`
	Kind      string `json:"kind"`
	Direction string `json:"direction"`
	Price     string `json:"price"`
	Timestamp int64  `json:"ts"`
	BarIndex  int    `json:"bar_index"`
}

// NewMessage converts an event; the price keeps its exact decimal text.
func NewMessage(runID string, ev signal.Event) Message {
	return Message{
		RunID:     runID,
		Strategy:  ev.Strategy,
		Symbol:    ev.Symbol,
		Kind:      string(ev.Kind),
		Direction: string(ev.Direction),
		Price:     ev.Price.String(),
		Timestamp: ev.Timestamp.UnixMilli(),
		BarIndex:  ev.BarIndex,
	}
}

// RedisPublisher publishes every event on a PubSub channel and appends it to
// a capped stream so late consumers can catch up.
type RedisPublisher struct {
	client  *goredis.Client
	channel string
}

// NewRedisPublisher connects and pings the server.
func NewRedisPublisher(cfg RedisConfig) (*RedisPublisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	logger.Infof("[publish] connected to redis %s", cfg.Addr)
	return NewRedisPublisherWithClient(client, cfg.Channel), nil
}

// NewRedisPublisherWithClient wraps an existing client without pinging it.
func NewRedisPublisherWithClient(client *goredis.Client, channel string) *RedisPublisher {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = defaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Channel returns the PubSub channel name.
func (p *RedisPublisher) Channel() string { return p.channel }

// StreamKey returns the stream the events are appended to.
func (p *RedisPublisher) StreamKey() string { return "stream:" + p.channel }

// Publish sends one event.
func (p *RedisPublisher) Publish(ctx context.Context, runID string, ev signal.Event) error {
	payload, err := json.Marshal(NewMessage(runID, ev))
	if err != nil {
		return err
	}
	_, err = p.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, payload)
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: p.StreamKey(),
			MaxLen: streamMaxLen,
			Approx: true,
			Values: map[string]interface{}{"data": string(payload)},
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis publish %s: %w", p.channel, err)
	}
	return nil
}

// Close releases the client.
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
