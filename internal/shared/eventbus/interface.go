// Package eventbus 日志条目的发布/订阅抽象
//
// Log Streamer 把每条日志条目镜像到这里，观察者（WebSocket 进度推送、
// 外部消费者）按 Run 订阅。当前由 Redis Streams 实现；测试和单机部署
// 使用进程内实现。
package eventbus

import (
	"context"

	"autopilot/internal/shared/model"
)

// LogFeed 日志条目总线接口
type LogFeed interface {
	// PublishEntry 发布一条日志条目（尽力而为：失败不影响持久化路径）
	PublishEntry(ctx context.Context, entry *model.LogEntry) error

	// SubscribeEntries 订阅某个 Run 的日志条目流
	// ctx 取消时通道关闭
	SubscribeEntries(ctx context.Context, runID string) (<-chan *model.LogEntry, error)

	Close() error
}
