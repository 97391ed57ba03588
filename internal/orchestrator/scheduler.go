// Package orchestrator Run 调度与执行
//
// scheduler.go 实现单活跃槽位的轮询调度：每个周期原子认领最早的
// pending Run 并就地执行完毕。跨实例的并发安全完全由存储层的
// 条件认领保证，调度器自身不做任何锁。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"autopilot/internal/shared/model"
	"autopilot/internal/shared/storage"
	"autopilot/pkg/logging"
)

// defaultPollInterval 默认轮询间隔
const defaultPollInterval = 3 * time.Second

// Scheduler Run 调度器
type Scheduler struct {
	store   storage.PersistentStore
	adapter *Adapter
	metrics *Metrics
	logger  *logging.Logger

	pollInterval time.Duration
}

// NewScheduler 创建调度器
func NewScheduler(store storage.PersistentStore, adapter *Adapter, metrics *Metrics, logger *logging.Logger, pollInterval time.Duration) *Scheduler {
	if logger == nil {
		logger = logging.Default("scheduler")
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Scheduler{
		store:        store,
		adapter:      adapter,
		metrics:      metrics,
		logger:       logger,
		pollInterval: pollInterval,
	}
}

// ============================================================================
// 主循环
// ============================================================================

// Start 阻塞运行调度循环，ctx 取消后返回
//
// 轮询本身的错误只计数和记日志，下个周期重试；单个 Run 内部的错误
// 终结该 Run，不终结循环。
func (s *Scheduler) Start(ctx context.Context) error {
	s.recoverStaleRuns(ctx)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.logger.Info("Scheduler started", "poll_interval", s.pollInterval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.metrics.PollErrors.Inc()
				s.logger.WithError(err).Error("Poll tick failed")
			}
		}
	}
}

// Tick 执行一个调度周期：认领并执行至多一个 Run
func (s *Scheduler) Tick(ctx context.Context) error {
	run, err := s.store.ClaimOldestPendingRun(ctx)
	if err != nil {
		return fmt.Errorf("failed to claim pending run: %w", err)
	}
	if run == nil {
		return nil // 无可认领的 Run
	}

	s.executeRun(ctx, run)
	return nil
}

// executeRun 执行一个已认领的 Run 并写入终态
func (s *Scheduler) executeRun(ctx context.Context, run *model.Run) {
	logger := s.logger.WithRunID(run.ID).WithTaskID(run.TaskID)
	logger.Info("Run claimed")

	s.metrics.RunsStarted.Inc()
	s.metrics.ActiveRuns.Inc()
	started := time.Now()
	defer func() {
		s.metrics.ActiveRuns.Dec()
		s.metrics.RunDuration.Observe(time.Since(started).Seconds())
	}()

	err := s.adapter.Execute(ctx, run)

	switch {
	case err == nil:
		if ferr := s.store.FinishRun(ctx, run.ID, model.RunStatusCompleted, nil); ferr != nil {
			logger.WithError(ferr).Error("Failed to record run completion")
			return
		}
		s.metrics.RunsCompleted.Inc()
		logger.WithDuration(time.Since(started)).Info("Run completed")

	case errors.Is(err, ErrRunCancelled):
		msg := err.Error()
		if ferr := s.store.FinishRun(ctx, run.ID, model.RunStatusCancelled, &msg); ferr != nil {
			logger.WithError(ferr).Error("Failed to record run cancellation")
			return
		}
		s.metrics.RunsCancelled.Inc()
		logger.Info("Run cancelled")

	default:
		msg := err.Error()
		if ferr := s.store.FinishRun(ctx, run.ID, model.RunStatusFailed, &msg); ferr != nil {
			logger.WithError(ferr).Error("Failed to record run failure")
			return
		}
		s.metrics.RunsFailed.Inc()
		logger.WithError(err).Error("Run failed")
	}
}

// ============================================================================
// 启动恢复
// ============================================================================

// recoverStaleRuns 把上次进程残留的 running/paused Run 标记为失败
//
// 执行状态只存在于进程内存里，进程重启后无法续接，残留 Run 永远
// 不会再推进，必须显式终结避免占着时间线。
func (s *Scheduler) recoverStaleRuns(ctx context.Context) {
	runs, err := s.store.ListActiveRuns(ctx)
	if err != nil {
		s.logger.WithError(err).Error("Failed to list stale runs")
		return
	}

	for _, run := range runs {
		msg := "orchestrator restarted during execution"
		if err := s.store.FinishRun(ctx, run.ID, model.RunStatusFailed, &msg); err != nil {
			s.logger.WithRunID(run.ID).WithError(err).Error("Failed to mark stale run")
			continue
		}
		s.logger.WithRunID(run.ID).Warn("Stale run marked as failed")
	}
	if len(runs) > 0 {
		s.logger.Info("Stale run recovery finished", "count", len(runs))
	}
}
