// Package logstream 运行日志流
//
// 把引擎消息和编排器自身的日志翻译成结构化 Log Entry，持久化到存储层
// 并镜像到事件总线。每条写入同时打一行操作员控制台日志，便于排障。
package logstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"autopilot/internal/engine"
	"autopilot/internal/shared/eventbus"
	"autopilot/internal/shared/model"
	"autopilot/internal/shared/storage"
)

// Streamer 日志流写入器
type Streamer struct {
	store storage.LogEntryStore
	feed  eventbus.LogFeed

	mu       sync.Mutex
	lastTool map[string]string // runID → 最近一次工具调用名
}

// NewStreamer 创建日志流写入器，feed 可为 nil（仅持久化）
func NewStreamer(store storage.LogEntryStore, feed eventbus.LogFeed) *Streamer {
	return &Streamer{
		store:    store,
		feed:     feed,
		lastTool: make(map[string]string),
	}
}

// ============================================================================
// 编排器日志
// ============================================================================

// Info 写一条 info 级系统日志
func (s *Streamer) Info(ctx context.Context, runID, message string) error {
	return s.write(ctx, newEntry(runID, model.LogLevelInfo, model.ActionSystem, message))
}

// Error 写一条 error 级系统日志
func (s *Streamer) Error(ctx context.Context, runID, message string) error {
	return s.write(ctx, newEntry(runID, model.LogLevelError, model.ActionSystem, message))
}

// Debug 写一条 debug 级系统日志
func (s *Streamer) Debug(ctx context.Context, runID, message string) error {
	return s.write(ctx, newEntry(runID, model.LogLevelDebug, model.ActionSystem, message))
}

// ============================================================================
// 引擎消息翻译
// ============================================================================

// LogMessage 把一条引擎消息翻译为日志条目并写入
//
// 翻译规则：assistant 文本块逐块产出 text 条目；工具调用产出 tool_call
// 条目，摘要截断到固定长度、完整参数保留在 ToolInput；工具结果产出
// tool_result 条目，输出按上限截断；终止消息产出 system 条目。
func (s *Streamer) LogMessage(ctx context.Context, runID string, msg *engine.Message) error {
	var entries []*model.LogEntry

	switch msg.Type {
	case engine.MessageInit:
		entries = append(entries, newEntry(runID, model.LogLevelDebug, model.ActionSystem,
			fmt.Sprintf("Session initialized: %s", msg.SessionID)))

	case engine.MessageAssistant:
		for _, text := range msg.TextBlocks {
			entries = append(entries, newEntry(runID, model.LogLevelInfo, model.ActionText, text))
		}
		for _, call := range msg.ToolCalls {
			s.rememberTool(runID, call.Name)
			entry := newEntry(runID, model.LogLevelInfo, model.ActionToolCall,
				model.SummarizeToolCall(call.Name, firstSignificantArg(call.Input)))
			entry.ToolName = call.Name
			if len(call.Input) > 0 {
				if raw, err := json.Marshal(call.Input); err == nil {
					entry.ToolInput = string(raw)
				}
			}
			entries = append(entries, entry)
		}

	case engine.MessageTool:
		if msg.ToolResult == nil {
			return nil
		}
		level := model.LogLevelInfo
		if msg.ToolResult.IsError {
			level = model.LogLevelError
		}
		toolName := msg.ToolResult.ToolName
		if toolName == "" {
			toolName = s.recallTool(runID)
		}
		entry := newEntry(runID, level, model.ActionToolResult,
			fmt.Sprintf("Tool %s finished", toolName))
		entry.ToolName = toolName
		entry.ToolOutput = model.TruncateToolOutput(msg.ToolResult.Content)
		entries = append(entries, entry)

	case engine.MessageResult:
		if msg.Result == nil {
			return nil
		}
		level := model.LogLevelInfo
		if msg.Result.IsError {
			level = model.LogLevelError
		}
		entries = append(entries, newEntry(runID, level, model.ActionSystem,
			fmt.Sprintf("Execution finished: %s", msg.Result.Summary)))
	}

	for _, entry := range entries {
		if err := s.write(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// 内部
// ============================================================================

func (s *Streamer) write(ctx context.Context, entry *model.LogEntry) error {
	if err := s.store.AppendLogEntries(ctx, []*model.LogEntry{entry}); err != nil {
		return fmt.Errorf("failed to append log entry: %w", err)
	}

	// 事件总线镜像，尽力而为
	if s.feed != nil {
		if err := s.feed.PublishEntry(ctx, entry); err != nil {
			log.Printf("[logstream] Feed publish failed: %v", err)
		}
	}

	// 操作员控制台镜像
	shortRun := entry.RunID
	if len(shortRun) > 8 {
		shortRun = shortRun[:8]
	}
	if entry.ToolName != "" {
		log.Printf("[%s] run=%s tool=%s %s", entry.Level, shortRun, entry.ToolName, entry.Message)
	} else {
		log.Printf("[%s] run=%s %s", entry.Level, shortRun, entry.Message)
	}
	return nil
}

func (s *Streamer) rememberTool(runID, name string) {
	s.mu.Lock()
	s.lastTool[runID] = name
	s.mu.Unlock()
}

func (s *Streamer) recallTool(runID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastTool[runID]
}

// Forget 清理某个 Run 的流状态，Run 结束后调用
func (s *Streamer) Forget(runID string) {
	s.mu.Lock()
	delete(s.lastTool, runID)
	s.mu.Unlock()
}

func newEntry(runID string, level model.LogLevel, action model.ActionType, message string) *model.LogEntry {
	return &model.LogEntry{
		ID:         uuid.New().String(),
		RunID:      runID,
		Level:      level,
		Message:    message,
		Timestamp:  time.Now().UTC(),
		ActionType: action,
	}
}

// firstSignificantArg 取工具参数中第一个有信息量的值用作摘要
func firstSignificantArg(input map[string]interface{}) string {
	for _, key := range []string{"command", "file_path", "path", "url", "query", "pattern", "prompt"} {
		if v, ok := input[key].(string); ok && v != "" {
			return v
		}
	}
	keys := make([]string, 0, len(input))
	for k := range input {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := input[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
