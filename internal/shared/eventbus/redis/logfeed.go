// Package redis 基于 Redis Streams 的日志条目总线
//
// 每个 Run 一个 Stream（run_logs:<runID>），XADD 写入、XREAD 阻塞订阅。
// Stream 按 MaxLen 近似裁剪，完整时间线以持久化存储为准。
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"autopilot/internal/shared/eventbus"
	"autopilot/internal/shared/model"
)

const (
	// Key 前缀
	keyRunLogs = "run_logs:"

	// Stream 最大长度
	maxStreamLength = 1000
)

// Feed Redis Streams 日志总线
type Feed struct {
	client *redis.Client
}

// NewFeed 创建并连接 Redis 日志总线
func NewFeed(addr, password string, db int) (*Feed, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Printf("[Redis/LogFeed] Connected: %s db=%d", addr, db)
	return &Feed{client: client}, nil
}

// PublishEntry 发布日志条目
func (f *Feed) PublishEntry(ctx context.Context, entry *model.LogEntry) error {
	key := keyRunLogs + entry.RunID

	entryJSON, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal log entry: %w", err)
	}

	args := &redis.XAddArgs{
		Stream: key,
		MaxLen: maxStreamLength,
		Approx: true,
		Values: map[string]interface{}{
			"level":     string(entry.Level),
			"timestamp": entry.Timestamp.Format(time.RFC3339Nano),
			"entry":     string(entryJSON),
		},
	}

	if err := f.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish log entry: %w", err)
	}
	return nil
}

// SubscribeEntries 订阅某个 Run 的日志条目流
func (f *Feed) SubscribeEntries(ctx context.Context, runID string) (<-chan *model.LogEntry, error) {
	key := keyRunLogs + runID
	ch := make(chan *model.LogEntry, 100)

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			streams, err := f.client.XRead(ctx, &redis.XReadArgs{
				Streams: []string{key, lastID},
				Count:   10,
				Block:   5 * time.Second,
			}).Result()

			if err != nil {
				if err == redis.Nil {
					continue
				}
				if ctx.Err() != nil {
					return
				}
				log.Printf("[Redis/LogFeed] Subscription error: %v", err)
				return
			}

			for _, stream := range streams {
				for _, msg := range stream.Messages {
					entryStr, ok := msg.Values["entry"].(string)
					if !ok {
						lastID = msg.ID
						continue
					}

					var entry model.LogEntry
					if err := json.Unmarshal([]byte(entryStr), &entry); err != nil {
						log.Printf("[Redis/LogFeed] Bad entry payload: %v", err)
						lastID = msg.ID
						continue
					}

					select {
					case ch <- &entry:
						lastID = msg.ID
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return ch, nil
}

// Close 断开 Redis 连接
func (f *Feed) Close() error {
	return f.client.Close()
}

// 确保 Feed 实现了 LogFeed 接口
var _ eventbus.LogFeed = (*Feed)(nil)
