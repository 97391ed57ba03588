// Package model 定义核心数据模型
//
// logentry.go 包含日志条目的数据模型定义：
//   - LogEntry：Run 的一条结构化进度事件
//   - LogLevel / ActionType：级别与动作类型枚举
//
// 日志条目只追加、不修改。前端按 Timestamp 升序重建时间线
// （事件源之间可能存在时钟偏移，入库顺序不可作为排序依据）。
package model

import (
	"sort"
	"time"
)

// ============================================================================
// LogLevel / ActionType - 枚举
// ============================================================================

// LogLevel 日志级别
type LogLevel string

const (
	LogLevelInfo  LogLevel = "info"
	LogLevelError LogLevel = "error"
	LogLevelDebug LogLevel = "debug"
)

// ActionType 动作类型标签，用于前端将执行过程重建为离散动作的时间线
type ActionType string

const (
	// ActionToolCall 执行引擎发起一次工具调用
	ActionToolCall ActionType = "tool_call"

	// ActionToolResult 工具返回结果
	ActionToolResult ActionType = "tool_result"

	// ActionText 引擎输出的叙述性文本
	ActionText ActionType = "text"

	// ActionSystem 系统事件（初始化、终止摘要等）
	ActionSystem ActionType = "system"

	// ActionStep 计划步骤推进
	ActionStep ActionType = "step"
)

// ============================================================================
// 截断上限
// ============================================================================

const (
	// MaxToolOutputLen 工具输出的存储上限，超出部分截断以控制存储增长
	MaxToolOutputLen = 5000

	// MaxSummaryLen 工具调用摘要的长度上限
	MaxSummaryLen = 100

	// TruncationMarker 截断标记，附加在被截断内容的末尾
	TruncationMarker = "... [truncated]"
)

// ============================================================================
// LogEntry - 结构化日志条目
// ============================================================================

// LogEntry 表示 Run 的一条结构化进度事件
//
// Message 是展示用的摘要；完整的工具参数和输出保存在
// ToolInput/ToolOutput 结构化字段中（ToolOutput 截断到 MaxToolOutputLen）。
type LogEntry struct {
	ID         string     `json:"id" bson:"_id" db:"id"`
	RunID      string     `json:"run_id" bson:"run_id" db:"run_id"`
	Level      LogLevel   `json:"level" bson:"level" db:"level"`
	Message    string     `json:"message" bson:"message" db:"message"`
	Timestamp  time.Time  `json:"timestamp" bson:"timestamp" db:"timestamp"`
	ActionType ActionType `json:"action_type,omitempty" bson:"action_type,omitempty" db:"action_type"`
	ToolName   string     `json:"tool_name,omitempty" bson:"tool_name,omitempty" db:"tool_name"`
	ToolInput  string     `json:"tool_input,omitempty" bson:"tool_input,omitempty" db:"tool_input"`
	ToolOutput string     `json:"tool_output,omitempty" bson:"tool_output,omitempty" db:"tool_output"`
	StepNumber *int       `json:"step_number,omitempty" bson:"step_number,omitempty" db:"step_number"`
}

// ============================================================================
// 辅助函数
// ============================================================================

// SortLogEntries 按 Timestamp 升序原地排序（相同时间戳保持原有相对顺序）
func SortLogEntries(entries []*LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
}

// TruncateToolOutput 将工具输出截断到存储上限并附加截断标记
func TruncateToolOutput(output string) string {
	if len(output) <= MaxToolOutputLen {
		return output
	}
	return output[:MaxToolOutputLen] + TruncationMarker
}

// SummarizeToolCall 由工具名和首个有效参数合成展示摘要
func SummarizeToolCall(tool, arg string) string {
	s := tool
	if arg != "" {
		s = tool + ": " + arg
	}
	if len(s) > MaxSummaryLen {
		return s[:MaxSummaryLen] + "..."
	}
	return s
}
