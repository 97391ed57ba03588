// Package claude 实现 Claude Code CLI 执行引擎
//
// 以 stream-json 输出模式拉起 CLI 进程，把每行 JSON 事件翻译成
// engine.Message。凭据和工具服务器配置都来自 InvocationConfig，
// 进程环境只继承 PATH 等基础变量。
package claude

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"autopilot/internal/engine"
)

// Runner Claude Code CLI 引擎
type Runner struct {
	// Binary CLI 可执行文件路径，默认 "claude"
	Binary string
}

// New 创建 Claude 引擎
func New(binary string) *Runner {
	if binary == "" {
		binary = "claude"
	}
	return &Runner{Binary: binary}
}

// ============================================================================
// 调用
// ============================================================================

// Invoke 拉起一次 CLI 调用并返回消息流
func (r *Runner) Invoke(ctx context.Context, cfg *engine.InvocationConfig) (engine.Stream, error) {
	args := []string{
		"-p", cfg.Prompt,
		"--output-format", "stream-json",
		"--verbose",
	}

	if cfg.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", cfg.SystemPrompt)
	}
	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}
	if len(cfg.AllowedTools) > 0 {
		args = append(args, "--allowed-tools", strings.Join(cfg.AllowedTools, ","))
	}
	if cfg.SessionID != "" {
		args = append(args, "--resume", cfg.SessionID)
	}

	var mcpFile string
	if len(cfg.MCPServers) > 0 {
		path, err := writeMCPConfig(cfg)
		if err != nil {
			return nil, err
		}
		mcpFile = path
		args = append(args, "--mcp-config", path)
	}

	cmd := exec.CommandContext(ctx, r.Binary, args...)
	cmd.Dir = cfg.WorkDir

	// 最小继承环境，调用自带变量叠加在后
	env := []string{
		"PATH=" + os.Getenv("PATH"),
		"HOME=" + os.Getenv("HOME"),
	}
	for k, v := range cfg.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		removeIfSet(mcpFile)
		return nil, fmt.Errorf("failed to open stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		removeIfSet(mcpFile)
		return nil, fmt.Errorf("failed to start %s: %w", r.Binary, err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	return &stream{cmd: cmd, scanner: scanner, mcpFile: mcpFile}, nil
}

// writeMCPConfig 把工具服务器配置写成 CLI 认识的临时 JSON 文件
func writeMCPConfig(cfg *engine.InvocationConfig) (string, error) {
	type serverEntry struct {
		Command string            `json:"command"`
		Args    []string          `json:"args,omitempty"`
		Env     map[string]string `json:"env,omitempty"`
	}
	servers := make(map[string]serverEntry, len(cfg.MCPServers))
	for _, s := range cfg.MCPServers {
		servers[s.Name] = serverEntry{Command: s.Command, Args: s.Args, Env: s.Env}
	}

	data, err := json.Marshal(map[string]interface{}{"mcpServers": servers})
	if err != nil {
		return "", fmt.Errorf("failed to marshal mcp config: %w", err)
	}

	f, err := os.CreateTemp("", "mcp-config-*.json")
	if err != nil {
		return "", fmt.Errorf("failed to create mcp config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to write mcp config file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func removeIfSet(path string) {
	if path != "" {
		os.Remove(path)
	}
}

// ============================================================================
// 消息流
// ============================================================================

type stream struct {
	cmd     *exec.Cmd
	scanner *bufio.Scanner
	mcpFile string

	closeOnce sync.Once
	closed    bool
}

// Next 返回下一条消息，流结束时返回 io.EOF
func (s *stream) Next(ctx context.Context) (*engine.Message, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				s.Close()
				return nil, fmt.Errorf("failed to read engine output: %w", err)
			}
			s.Close()
			return nil, io.EOF
		}

		msg := ParseLine(s.scanner.Text())
		if msg == nil {
			continue // 非 JSON 行或无关事件
		}
		return msg, nil
	}
}

// Close 终止 CLI 进程，幂等
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		s.closed = true
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.cmd.Wait()
		removeIfSet(s.mcpFile)
	})
	return nil
}

// ============================================================================
// 行解析
// ============================================================================

// rawEvent stream-json 事件的通用外壳
type rawEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
	Message   struct {
		Content []rawBlock `json:"content"`
	} `json:"message"`
}

type rawBlock struct {
	Type    string                 `json:"type"`
	Text    string                 `json:"text"`
	Name    string                 `json:"name"`
	Input   map[string]interface{} `json:"input"`
	Content json.RawMessage        `json:"content"`
	IsError bool                   `json:"is_error"`
}

// ParseLine 把一行 stream-json 输出翻译为消息，无关行返回 nil
func ParseLine(line string) *engine.Message {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, "{") {
		return nil
	}

	var ev rawEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		return nil
	}

	switch ev.Type {
	case "system":
		if ev.Subtype != "init" {
			return nil
		}
		return &engine.Message{Type: engine.MessageInit, SessionID: ev.SessionID}

	case "assistant":
		msg := &engine.Message{Type: engine.MessageAssistant}
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				if block.Text != "" {
					msg.TextBlocks = append(msg.TextBlocks, block.Text)
				}
			case "tool_use":
				msg.ToolCalls = append(msg.ToolCalls, engine.ToolCall{
					Name:  block.Name,
					Input: block.Input,
				})
			}
		}
		if len(msg.TextBlocks) == 0 && len(msg.ToolCalls) == 0 {
			return nil
		}
		return msg

	case "user":
		for _, block := range ev.Message.Content {
			if block.Type != "tool_result" {
				continue
			}
			return &engine.Message{
				Type: engine.MessageTool,
				ToolResult: &engine.ToolResult{
					Content: decodeResultContent(block.Content),
					IsError: block.IsError,
				},
			}
		}
		return nil

	case "result":
		return &engine.Message{
			Type:   engine.MessageResult,
			Result: &engine.Result{Summary: ev.Result, IsError: ev.IsError},
		}

	default:
		return nil
	}
}

// decodeResultContent 工具结果内容可能是字符串或内容块数组
func decodeResultContent(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}

	var blocks []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &blocks); err == nil {
		var parts []string
		for _, b := range blocks {
			if b.Text != "" {
				parts = append(parts, b.Text)
			}
		}
		return strings.Join(parts, "\n")
	}
	return string(raw)
}

// 确保 Runner 实现了 Engine 接口
var _ engine.Engine = (*Runner)(nil)
