package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"learnplan/internal/activity"
	"learnplan/internal/logger"
)

// Message is the wire form of one activity event on the channel.
type Message struct {
	ActivityID string           `json:"activity_id"`
	UserID     string           `json:"user_id"`
	Action     activity.Action  `json:"action"`
	Timestamp  time.Time        `json:"timestamp"`
	Details    activity.Details `json:"details"`
}

func toMessage(ev activity.Event) Message {
	return Message{
		ActivityID: ev.ActivityID,
		UserID:     ev.UserID,
		Action:     ev.Action,
		Timestamp:  ev.Timestamp,
		Details:    ev.Details,
	}
}

// RedisPublisher fans recorded activity out over Redis pub/sub.
type RedisPublisher struct {
	log     *logger.Logger
	rdb     *goredis.Client
	channel string
}

func NewRedisPublisher(ctx context.Context, addr, channel string, log *logger.Logger) (*RedisPublisher, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis address")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = "learnplan.activity"
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &RedisPublisher{
		log:     log.With("service", "RedisPublisher"),
		rdb:     rdb,
		channel: channel,
	}, nil
}

func (p *RedisPublisher) Publish(ctx context.Context, ev activity.Event) error {
	if p == nil || p.rdb == nil {
		return fmt.Errorf("redis publisher not initialized")
	}
	raw, err := json.Marshal(toMessage(ev))
	if err != nil {
		return err
	}
	return p.rdb.Publish(ctx, p.channel, raw).Err()
}

// Subscribe delivers every message on the channel to onMsg until ctx ends.
func (p *RedisPublisher) Subscribe(ctx context.Context, onMsg func(Message)) error {
	if p == nil || p.rdb == nil {
		return fmt.Errorf("redis publisher not initialized")
	}
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}

	sub := p.rdb.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				var msg Message
				if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
					p.log.Warn("bad activity payload", "error", err)
					continue
				}
				onMsg(msg)
			}
		}
	}()
	return nil
}

func (p *RedisPublisher) Close() error {
	if p == nil || p.rdb == nil {
		return nil
	}
	return p.rdb.Close()
}
