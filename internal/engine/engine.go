// Package engine 执行引擎边界
//
// 把外部 agent 执行引擎抽象为一次性配置加类型化消息流。每次调用携带
// 一个不可变的 InvocationConfig（凭据走这里的 Env，不写进程环境），
// 返回的消息是封闭的带标签变体：init、assistant、tool、result 四种。
package engine

import (
	"context"

	"autopilot/internal/shared/model"
)

// ============================================================================
// 调用配置
// ============================================================================

// InvocationConfig 一次引擎调用的完整配置，构造后不再修改
type InvocationConfig struct {
	Prompt       string
	SystemPrompt string
	WorkDir      string
	Env          map[string]string // 每次调用独立注入，不污染进程环境
	AllowedTools []string
	MCPServers   []model.MCPServerConfig
	Model        string
	SessionID    string // 非空时恢复既有会话
}

// ============================================================================
// 消息变体
// ============================================================================

// MessageType 消息类型
type MessageType string

const (
	MessageInit      MessageType = "init"      // 会话初始化，携带 session id
	MessageAssistant MessageType = "assistant" // 文本块和工具调用请求
	MessageTool      MessageType = "tool"      // 工具执行结果
	MessageResult    MessageType = "result"    // 终止摘要
)

// ToolCall 工具调用请求
type ToolCall struct {
	Name  string
	Input map[string]interface{}
}

// ToolResult 工具执行结果
type ToolResult struct {
	ToolName string
	Content  string
	IsError  bool
}

// Result 终止摘要
type Result struct {
	Summary string
	IsError bool
}

// Message 引擎消息
//
// Type 决定哪些字段有效：init → SessionID；assistant → TextBlocks 和
// ToolCalls；tool → ToolResult；result → Result。
type Message struct {
	Type       MessageType
	SessionID  string
	TextBlocks []string
	ToolCalls  []ToolCall
	ToolResult *ToolResult
	Result     *Result
}

// ============================================================================
// 流接口
// ============================================================================

// Stream 消息流
//
// Next 阻塞等待下一条消息，流结束时返回 io.EOF。Close 终止底层调用，
// 可在任意时刻调用且幂等。
type Stream interface {
	Next(ctx context.Context) (*Message, error)
	Close() error
}

// Engine 执行引擎
type Engine interface {
	Invoke(ctx context.Context, cfg *InvocationConfig) (Stream, error)
}
