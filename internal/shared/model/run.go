// Package model 定义核心数据模型
//
// run.go 包含执行相关的数据模型定义：
//   - Run：自动化计划的单次执行实例
//   - RunStatus：执行状态枚举
package model

import (
	"time"
)

// ============================================================================
// RunStatus - 执行状态
// ============================================================================

// RunStatus 表示单次执行（Run）的状态
//
// 生命周期：
//
//	pending → running → {completed, failed, cancelled}
//	             ⇅
//	           paused → cancelled
//
// 状态说明：
//   - pending：已创建，等待调度器认领
//   - running：调度器已认领，执行引擎正在执行
//   - paused：用户暂停，适配器在消息边界处阻塞等待
//   - completed/failed/cancelled：终止状态，不再变更
//
// paused 和 cancelled 由外部控制面写入；调度器和适配器只读取这些状态，
// 在消息边界处协作式地响应（见 orchestrator 包）。
type RunStatus string

const (
	// RunStatusPending 待执行：等待调度器认领
	RunStatusPending RunStatus = "pending"

	// RunStatusRunning 执行中：已被调度器认领
	RunStatusRunning RunStatus = "running"

	// RunStatusPaused 已暂停：外部控制面写入，适配器协作式阻塞
	RunStatusPaused RunStatus = "paused"

	// RunStatusCompleted 已完成：执行引擎正常结束
	RunStatusCompleted RunStatus = "completed"

	// RunStatusFailed 已失败：执行过程出错
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled 已取消：用户取消，在消息边界处生效
	RunStatusCancelled RunStatus = "cancelled"
)

// ============================================================================
// Run - 执行实例
// ============================================================================

// Run 表示自动化计划的一次执行尝试
//
// 每个 Run 绑定到一个 Task（自动化计划的来源），由调度器认领执行。
// 一个调度器实例同一时刻最多持有一个 running/paused 的 Run。
//
// 字段说明：
//   - SessionID：执行引擎上报的会话标识（init 消息携带），用于后续按会话恢复
//   - StartedAt/CompletedAt：认领时间与结束时间
//   - Error：失败原因（failed 时填充）
type Run struct {
	ID          string     `json:"id" bson:"_id" db:"id"`
	TaskID      string     `json:"task_id" bson:"task_id" db:"task_id"`
	Status      RunStatus  `json:"status" bson:"status" db:"status"`
	SessionID   *string    `json:"session_id,omitempty" bson:"session_id,omitempty" db:"session_id"`
	StartedAt   *time.Time `json:"started_at,omitempty" bson:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty" db:"completed_at"`
	Error       *string    `json:"error,omitempty" bson:"error,omitempty" db:"error"`
	CreatedAt   time.Time  `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" bson:"updated_at" db:"updated_at"`
}

// ============================================================================
// 辅助方法
// ============================================================================

// IsTerminal 判断状态是否为终止状态
//
// 终止状态一经写入不再变更：存储层的状态写入都以此为条件，
// 迟到的暂停/取消或与完成戳竞争的收尾写按无操作处理。
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal 判断 Run 是否处于终止状态
func (r *Run) IsTerminal() bool {
	return r.Status.IsTerminal()
}

// IsActive 判断 Run 是否被调度器持有（执行中或暂停中）
func (r *Run) IsActive() bool {
	return r.Status == RunStatusRunning || r.Status == RunStatusPaused
}

// ShortID 返回用于控制台输出的短标识
func (r *Run) ShortID() string {
	if len(r.ID) <= 8 {
		return r.ID
	}
	return r.ID[:8]
}
