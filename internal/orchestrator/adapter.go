// Package orchestrator Run 调度与执行
//
// adapter.go 驱动单个 Run 的完整执行：解析计划、分类、准备工作区和
// 检查点、解密凭据、拼装提示词、监督引擎消息流。暂停和取消都是协作式
// 的，只在消息边界检查，绝不打断已派发的工具调用。
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"autopilot/internal/checkpoint"
	"autopilot/internal/classify"
	"autopilot/internal/engine"
	"autopilot/internal/logstream"
	"autopilot/internal/shared/model"
	"autopilot/internal/shared/storage"
	"autopilot/internal/vault"
	"autopilot/internal/workspace"
	"autopilot/pkg/logging"
)

// ErrRunCancelled Run 被控制面取消
var ErrRunCancelled = errors.New("run cancelled")

// defaultPausePollInterval 暂停状态下的轮询间隔
const defaultPausePollInterval = 2 * time.Second

// AdapterConfig 执行适配器配置
type AdapterConfig struct {
	// BrowserServer 浏览器工具服务器名，未知名称回退到默认值
	BrowserServer string

	// AllowedTools 引擎工具白名单
	AllowedTools []string

	// Model 引擎模型标识，可为空
	Model string

	// PausePollInterval 暂停轮询间隔，零值取默认 2 秒
	PausePollInterval time.Duration
}

// Adapter 执行适配器
type Adapter struct {
	store       storage.PersistentStore
	workspaces  *workspace.Manager
	checkpoints *checkpoint.Manager
	vault       *vault.Vault
	streamer    *logstream.Streamer
	engine      engine.Engine
	logger      *logging.Logger

	browserServer string
	allowedTools  []string
	model         string
	pausePoll     time.Duration
}

// NewAdapter 创建执行适配器
func NewAdapter(
	store storage.PersistentStore,
	workspaces *workspace.Manager,
	checkpoints *checkpoint.Manager,
	v *vault.Vault,
	streamer *logstream.Streamer,
	eng engine.Engine,
	logger *logging.Logger,
	cfg AdapterConfig,
) *Adapter {
	if logger == nil {
		logger = logging.Default("adapter")
	}
	pausePoll := cfg.PausePollInterval
	if pausePoll <= 0 {
		pausePoll = defaultPausePollInterval
	}
	browserServer := cfg.BrowserServer
	if browserServer == "" {
		browserServer = model.MCPServerPlaywright
	}
	return &Adapter{
		store:         store,
		workspaces:    workspaces,
		checkpoints:   checkpoints,
		vault:         v,
		streamer:      streamer,
		engine:        eng,
		logger:        logger,
		browserServer: browserServer,
		allowedTools:  cfg.AllowedTools,
		model:         cfg.Model,
		pausePoll:     pausePoll,
	}
}

// ============================================================================
// 执行
// ============================================================================

// Execute 执行一个已认领的 Run
//
// 正常完成返回 nil；取消返回 ErrRunCancelled；其余错误由调度器转成
// failed 终态。检查点失败一律只记日志，不影响执行结果。
func (a *Adapter) Execute(ctx context.Context, run *model.Run) error {
	defer a.streamer.Forget(run.ID)
	logger := a.logger.WithRunID(run.ID).WithTaskID(run.TaskID)

	task, err := a.store.GetTask(ctx, run.TaskID)
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", run.TaskID, err)
	}

	// 计划解析永不失败：不可解析时降级为合成的最小计划
	plan := model.ParsePlan(task)
	if plan.Synthesized {
		a.streamer.Info(ctx, run.ID, "Stored plan missing or unparseable, using a synthesized minimal plan")
	}

	records, err := a.store.ListCredentialsByTask(ctx, run.TaskID)
	if err != nil {
		return fmt.Errorf("failed to list credentials: %w", err)
	}

	classification := classify.Classify(plan, task.AnalysisText, vault.Keys(records), a.browserServer)
	a.streamer.Info(ctx, run.ID, fmt.Sprintf("Task classified as %s (browser=%t api=%t)",
		classification.PrimaryType, classification.RequiresBrowser, classification.RequiresAPI))

	mcpServers := resolveMCPServers(classification.SuggestedMCPServers)

	workDir, err := a.workspaces.Acquire(run.ID)
	if err != nil {
		return fmt.Errorf("failed to acquire workspace: %w", err)
	}

	// 执行前检查点：失败（含空工作区）只记日志
	a.tryCheckpoint(ctx, run.ID, workDir, "pre-execution")

	// 凭据解密 fail closed：任何一条解不开都终止 Run
	credentials, err := a.vault.Decrypt(records)
	if err != nil {
		a.streamer.Error(ctx, run.ID, "Credential decryption failed")
		return fmt.Errorf("failed to decrypt credentials: %w", err)
	}
	if len(credentials) > 0 {
		a.streamer.Info(ctx, run.ID,
			fmt.Sprintf("Credentials available: %s", strings.Join(sortedKeys(credentials), ", ")))
	}

	invocation := &engine.InvocationConfig{
		Prompt:       BuildTaskPrompt(task, plan, classification, credentials),
		SystemPrompt: BuildSystemPrompt(classification),
		WorkDir:      workDir,
		Env:          credentials,
		AllowedTools: a.allowedTools,
		MCPServers:   mcpServers,
		Model:        a.model,
	}

	if err := a.superviseStream(ctx, run, invocation); err != nil {
		// 失败现场检查点，尽力而为
		a.tryCheckpoint(ctx, run.ID, workDir, "state-at-failure")
		return err
	}

	a.tryCheckpoint(ctx, run.ID, workDir, "post-execution")
	logger.Info("Run execution finished")
	return nil
}

// superviseStream 打开引擎调用并逐条监督消息
func (a *Adapter) superviseStream(ctx context.Context, run *model.Run, invocation *engine.InvocationConfig) error {
	stream, err := a.engine.Invoke(ctx, invocation)
	if err != nil {
		return fmt.Errorf("failed to invoke engine: %w", err)
	}
	defer stream.Close()

	for {
		msg, err := stream.Next(ctx)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("engine stream failed: %w", err)
		}

		// 消息转发前先看控制信号
		if err := a.checkControl(ctx, run.ID); err != nil {
			return err
		}

		if msg.Type == engine.MessageInit && msg.SessionID != "" {
			if err := a.store.SetRunSessionID(ctx, run.ID, msg.SessionID); err != nil {
				a.logger.WithRunID(run.ID).WithError(err).Warn("Failed to persist session id")
			}
		}

		if err := a.streamer.LogMessage(ctx, run.ID, msg); err != nil {
			return fmt.Errorf("failed to log engine message: %w", err)
		}
	}
}

// checkControl 在消息边界检查暂停/取消
//
// cancelled 立即返回 ErrRunCancelled；paused 按固定间隔轮询直到恢复
// running 或被取消。这是暂停唯一生效的位置。
func (a *Adapter) checkControl(ctx context.Context, runID string) error {
	for {
		run, err := a.store.GetRun(ctx, runID)
		if err != nil {
			return fmt.Errorf("failed to check run status: %w", err)
		}
		if run == nil {
			return fmt.Errorf("run %s disappeared from the store", runID)
		}

		switch run.Status {
		case model.RunStatusCancelled:
			a.streamer.Info(ctx, runID, "Cancellation observed, stopping execution")
			return ErrRunCancelled
		case model.RunStatusPaused:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.pausePoll):
			}
		default:
			return nil
		}
	}
}

// tryCheckpoint 机会性检查点，空工作区降为 debug，其余失败记 error
func (a *Adapter) tryCheckpoint(ctx context.Context, runID, workDir, description string) {
	if _, err := a.checkpoints.Create(ctx, runID, workDir, description); err != nil {
		if errors.Is(err, checkpoint.ErrNothingToCheckpoint) {
			a.streamer.Debug(ctx, runID, fmt.Sprintf("Skipped %s checkpoint: workspace empty", description))
		} else {
			a.streamer.Error(ctx, runID, fmt.Sprintf("Checkpoint %s failed: %v", description, err))
		}
	}
}

// resolveMCPServers 把工具服务器名解析成启动配置，未知名称回退默认并告警
func resolveMCPServers(names []string) []model.MCPServerConfig {
	servers := make([]model.MCPServerConfig, 0, len(names))
	for _, name := range names {
		servers = append(servers, model.ResolveBrowserServer(name))
	}
	return servers
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
