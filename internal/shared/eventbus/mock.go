// Package eventbus 日志条目总线
//
// mock.go 提供进程内实现，用于测试和未配置 Redis 的单机部署
package eventbus

import (
	"context"
	"sync"

	"autopilot/internal/shared/model"
)

// InProcessFeed 进程内 LogFeed 实现
//
// 订阅者通道带缓冲；写满时丢弃最旧语义由 select default 实现，
// 镜像流本就是尽力而为，持久化以存储层为准。
type InProcessFeed struct {
	mu   sync.Mutex
	subs map[string][]chan *model.LogEntry // runID → subscriber channels
}

// NewInProcessFeed 创建进程内总线
func NewInProcessFeed() *InProcessFeed {
	return &InProcessFeed{subs: make(map[string][]chan *model.LogEntry)}
}

func (f *InProcessFeed) PublishEntry(ctx context.Context, entry *model.LogEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[entry.RunID] {
		cp := *entry
		select {
		case ch <- &cp:
		default: // 订阅者滞后，丢弃
		}
	}
	return nil
}

func (f *InProcessFeed) SubscribeEntries(ctx context.Context, runID string) (<-chan *model.LogEntry, error) {
	ch := make(chan *model.LogEntry, 100)

	f.mu.Lock()
	f.subs[runID] = append(f.subs[runID], ch)
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		chans := f.subs[runID]
		for i, c := range chans {
			if c == ch {
				f.subs[runID] = append(chans[:i], chans[i+1:]...)
				break
			}
		}
		f.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (f *InProcessFeed) Close() error { return nil }

// 确保 InProcessFeed 实现了 LogFeed 接口
var _ LogFeed = (*InProcessFeed)(nil)
