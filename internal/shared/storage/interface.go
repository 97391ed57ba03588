// Package storage 定义持久化存储层抽象接口
//
// 设计原则：依赖倒置 (DIP)
//   - 调用方只依赖接口，不知道具体实现
//   - 具体实现在子包中：mongostore/, postgres/
//   - 初始化时通过依赖注入传入实现
package storage

import (
	"context"

	"autopilot/internal/shared/model"
)

// PersistentStore 持久化存储接口
//
// 认领语义：ClaimOldestPendingRun 必须是单次原子条件更新
// （条件状态转移，而非先读后写），这是防止多个轮询周期
// 重复执行同一个 Run 的唯一机制。
type PersistentStore interface {
	TaskStore
	RunStore
	LogEntryStore
	CheckpointStore
	CredentialStore

	Close() error
}

// TaskStore 任务读取接口（任务由上游流水线创建，本仓库只读）
type TaskStore interface {
	GetTask(ctx context.Context, id string) (*model.Task, error)
}

// RunStore Run 的存取接口
type RunStore interface {
	CreateRun(ctx context.Context, run *model.Run) error

	// GetRun 按 ID 查询，不存在时返回 (nil, nil)
	GetRun(ctx context.Context, id string) (*model.Run, error)

	// ClaimOldestPendingRun 原子认领最早创建的 pending Run：
	// 条件更新为 running 并盖上开始时间戳。无可认领的 Run 时返回 (nil, nil)。
	ClaimOldestPendingRun(ctx context.Context) (*model.Run, error)

	// UpdateRunStatus 写入状态（控制面的 pause/resume/cancel 也走这里）
	UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error

	// FinishRun 写入终止状态并盖上结束时间戳；errMsg 仅失败时填充
	FinishRun(ctx context.Context, id string, status model.RunStatus, errMsg *string) error

	// SetRunSessionID 记录执行引擎上报的会话标识
	SetRunSessionID(ctx context.Context, id string, sessionID string) error

	// ListActiveRuns 列出 running/paused 状态的 Run（启动时的残留恢复）
	ListActiveRuns(ctx context.Context) ([]*model.Run, error)
}

// LogEntryStore 日志条目的存取接口（只追加）
type LogEntryStore interface {
	AppendLogEntries(ctx context.Context, entries []*model.LogEntry) error

	// ListLogEntriesByRun 按 Timestamp 升序返回 Run 的全部日志条目
	ListLogEntriesByRun(ctx context.Context, runID string) ([]*model.LogEntry, error)
}

// CheckpointStore 检查点记录的存取接口
type CheckpointStore interface {
	CreateCheckpoint(ctx context.Context, cp *model.Checkpoint) error

	// GetCheckpoint 按 ID 查询，不存在时返回 (nil, nil)
	GetCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error)

	ListCheckpointsByRun(ctx context.Context, runID string) ([]*model.Checkpoint, error)
}

// CredentialStore 凭据读取接口（凭据由控制面录入，本仓库只读密文）
type CredentialStore interface {
	ListCredentialsByTask(ctx context.Context, taskID string) ([]*model.Credential, error)
}
