// Package model 定义核心数据模型
//
// task.go 包含任务相关的数据模型定义：
//   - Task：一个已录制并分析完成的自动化任务
//
// Task 由上游的录制/分析流水线创建（本仓库不实现），调度器只读取它。
package model

import (
	"time"
)

// Task 表示一个待重放的自动化任务
//
// 字段说明：
//   - AnalysisText：视频分析产出的自由文本，内嵌一个计划段落（见 plan.go）
//   - PlanJSON：结构化的自动化计划（可能缺失或损坏，解析方需降级处理）
//   - Notes：用户补充说明，拼入任务提示词
type Task struct {
	ID           string    `json:"id" bson:"_id" db:"id"`
	Title        string    `json:"title" bson:"title" db:"title"`
	Description  string    `json:"description,omitempty" bson:"description,omitempty" db:"description"`
	Notes        string    `json:"notes,omitempty" bson:"notes,omitempty" db:"notes"`
	AnalysisText string    `json:"analysis_text,omitempty" bson:"analysis_text,omitempty" db:"analysis_text"`
	PlanJSON     string    `json:"plan_json,omitempty" bson:"plan_json,omitempty" db:"plan_json"`
	CreatedAt    time.Time `json:"created_at" bson:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at" db:"updated_at"`
}
