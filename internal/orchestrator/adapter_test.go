package orchestrator

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/checkpoint"
	"autopilot/internal/engine"
	"autopilot/internal/logstream"
	"autopilot/internal/shared/model"
	"autopilot/internal/shared/objstore"
	"autopilot/internal/shared/storage"
	"autopilot/internal/vault"
	"autopilot/internal/workspace"
)

// ============================================================================
// 测试用引擎
// ============================================================================

// scriptedEngine 按脚本吐消息的引擎
type scriptedEngine struct {
	messages []*engine.Message
}

func (e *scriptedEngine) Invoke(ctx context.Context, cfg *engine.InvocationConfig) (engine.Stream, error) {
	msgs := make([]*engine.Message, len(e.messages))
	copy(msgs, e.messages)
	return &scriptedStream{messages: msgs}, nil
}

type scriptedStream struct {
	messages []*engine.Message
	pos      int
}

func (s *scriptedStream) Next(ctx context.Context) (*engine.Message, error) {
	if s.pos >= len(s.messages) {
		return nil, io.EOF
	}
	msg := s.messages[s.pos]
	s.pos++
	return msg, nil
}

func (s *scriptedStream) Close() error { return nil }

// chanEngine 由测试通过通道控制消息节奏的引擎
type chanEngine struct {
	ch chan *engine.Message
}

func (e *chanEngine) Invoke(ctx context.Context, cfg *engine.InvocationConfig) (engine.Stream, error) {
	return &chanStream{ch: e.ch}, nil
}

type chanStream struct {
	ch        chan *engine.Message
	closeOnce sync.Once
}

func (s *chanStream) Next(ctx context.Context) (*engine.Message, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-s.ch:
		if !ok {
			return nil, io.EOF
		}
		return msg, nil
	}
}

func (s *chanStream) Close() error { return nil }

// ============================================================================
// 构造辅助
// ============================================================================

type adapterFixture struct {
	store   *storage.MemoryStore
	vault   *vault.Vault
	adapter *Adapter
}

func newAdapterFixture(t *testing.T, eng engine.Engine) *adapterFixture {
	t.Helper()

	store := storage.NewMemoryStore()
	blobs := objstore.NewMemory()
	v, err := vault.New("test-master-secret")
	require.NoError(t, err)

	workspaces, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)

	checkpoints := checkpoint.NewManager(store, blobs, nil)
	streamer := logstream.NewStreamer(store, nil)

	adapter := NewAdapter(store, workspaces, checkpoints, v, streamer, eng, nil, AdapterConfig{
		PausePollInterval: 10 * time.Millisecond,
	})
	return &adapterFixture{store: store, vault: v, adapter: adapter}
}

func seedRun(t *testing.T, store *storage.MemoryStore, planJSON string) *model.Run {
	t.Helper()

	task := &model.Task{
		ID:       "task-1",
		Title:    "Update the tracking sheet",
		PlanJSON: planJSON,
	}
	store.PutTask(task)

	run := &model.Run{
		ID:        "run-1",
		TaskID:    task.ID,
		Status:    model.RunStatusRunning,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, store.CreateRun(context.Background(), run))
	return run
}

func entryMessages(t *testing.T, store *storage.MemoryStore, runID string) []string {
	t.Helper()
	entries, err := store.ListLogEntriesByRun(context.Background(), runID)
	require.NoError(t, err)
	msgs := make([]string, 0, len(entries))
	for _, e := range entries {
		msgs = append(msgs, e.Message)
	}
	return msgs
}

// ============================================================================
// 用例
// ============================================================================

func TestAdapterExecuteSuccess(t *testing.T) {
	ctx := context.Background()
	eng := &scriptedEngine{messages: []*engine.Message{
		{Type: engine.MessageInit, SessionID: "sess-42"},
		{Type: engine.MessageAssistant, TextBlocks: []string{"Opening the sheet."}},
		{Type: engine.MessageAssistant, ToolCalls: []engine.ToolCall{
			{Name: "Bash", Input: map[string]interface{}{"command": "cat data.csv"}},
		}},
		{Type: engine.MessageTool, ToolResult: &engine.ToolResult{Content: "a,b,c"}},
		{Type: engine.MessageResult, Result: &engine.Result{Summary: "Sheet updated."}},
	}}
	f := newAdapterFixture(t, eng)
	run := seedRun(t, f.store, `{"task":"update sheet","steps":[{"action":"click","target":"#cell"}]}`)

	require.NoError(t, f.adapter.Execute(ctx, run))

	// 会话标识被捕获
	stored, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.SessionID)
	assert.Equal(t, "sess-42", *stored.SessionID)

	msgs := entryMessages(t, f.store, run.ID)
	assert.Contains(t, msgs, "Opening the sheet.")
	assert.Contains(t, msgs, "Bash: cat data.csv")
	assert.Contains(t, msgs, "Execution finished: Sheet updated.")
}

func TestAdapterCancelObservedAtMessageBoundary(t *testing.T) {
	ctx := context.Background()
	ch := make(chan *engine.Message, 1)
	f := newAdapterFixture(t, &chanEngine{ch: ch})
	run := seedRun(t, f.store, "")

	done := make(chan error, 1)
	go func() { done <- f.adapter.Execute(ctx, run) }()

	// 第一条消息正常转发
	ch <- &engine.Message{Type: engine.MessageAssistant, TextBlocks: []string{"step one"}}

	require.Eventually(t, func() bool {
		for _, m := range entryMessages(t, f.store, run.ID) {
			if m == "step one" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	// 控制面取消后，下一条消息边界处中止
	require.NoError(t, f.store.UpdateRunStatus(ctx, run.ID, model.RunStatusCancelled))
	ch <- &engine.Message{Type: engine.MessageAssistant, TextBlocks: []string{"never forwarded"}}

	err := <-done
	require.ErrorIs(t, err, ErrRunCancelled)
	assert.NotContains(t, entryMessages(t, f.store, run.ID), "never forwarded")
}

func TestAdapterPauseBlocksUntilResume(t *testing.T) {
	ctx := context.Background()
	ch := make(chan *engine.Message, 1)
	f := newAdapterFixture(t, &chanEngine{ch: ch})
	run := seedRun(t, f.store, "")

	require.NoError(t, f.store.UpdateRunStatus(ctx, run.ID, model.RunStatusPaused))

	done := make(chan error, 1)
	go func() { done <- f.adapter.Execute(ctx, run) }()

	ch <- &engine.Message{Type: engine.MessageAssistant, TextBlocks: []string{"after pause"}}

	// 暂停期间消息不得转发
	time.Sleep(100 * time.Millisecond)
	assert.NotContains(t, entryMessages(t, f.store, run.ID), "after pause")

	// 恢复后继续
	require.NoError(t, f.store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning))
	require.Eventually(t, func() bool {
		for _, m := range entryMessages(t, f.store, run.ID) {
			if m == "after pause" {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)

	close(ch)
	require.NoError(t, <-done)
}

func TestAdapterPausedThenCancelled(t *testing.T) {
	ctx := context.Background()
	ch := make(chan *engine.Message, 1)
	f := newAdapterFixture(t, &chanEngine{ch: ch})
	run := seedRun(t, f.store, "")

	require.NoError(t, f.store.UpdateRunStatus(ctx, run.ID, model.RunStatusPaused))

	done := make(chan error, 1)
	go func() { done <- f.adapter.Execute(ctx, run) }()

	ch <- &engine.Message{Type: engine.MessageAssistant, TextBlocks: []string{"x"}}
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, f.store.UpdateRunStatus(ctx, run.ID, model.RunStatusCancelled))
	require.ErrorIs(t, <-done, ErrRunCancelled)
}

func TestAdapterCredentialFailureFatal(t *testing.T) {
	ctx := context.Background()
	f := newAdapterFixture(t, &scriptedEngine{})
	run := seedRun(t, f.store, "")

	f.store.PutCredential(&model.Credential{
		ID:         "cred-1",
		TaskID:     run.TaskID,
		Key:        "GITHUB_TOKEN",
		CipherText: "not:a:validbundle",
	})

	err := f.adapter.Execute(ctx, run)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decrypt")
}

func TestAdapterPlanFallbackLogged(t *testing.T) {
	ctx := context.Background()
	eng := &scriptedEngine{messages: []*engine.Message{
		{Type: engine.MessageResult, Result: &engine.Result{Summary: "done"}},
	}}
	f := newAdapterFixture(t, eng)
	run := seedRun(t, f.store, "{{{ not json")

	require.NoError(t, f.adapter.Execute(ctx, run))

	found := false
	for _, m := range entryMessages(t, f.store, run.ID) {
		if m == "Stored plan missing or unparseable, using a synthesized minimal plan" {
			found = true
		}
	}
	assert.True(t, found, "fallback plan should be surfaced in the log stream")
}

func TestAdapterCredentialsInInvocationEnv(t *testing.T) {
	ctx := context.Background()

	var captured *engine.InvocationConfig
	eng := &captureEngine{onInvoke: func(cfg *engine.InvocationConfig) { captured = cfg }}
	f := newAdapterFixture(t, eng)
	run := seedRun(t, f.store, "")

	bundle, err := f.vault.Encrypt("tok-123")
	require.NoError(t, err)
	f.store.PutCredential(&model.Credential{
		ID: "cred-1", TaskID: run.TaskID, Key: "GITHUB_TOKEN", CipherText: bundle,
	})

	require.NoError(t, f.adapter.Execute(ctx, run))

	require.NotNil(t, captured)
	assert.Equal(t, "tok-123", captured.Env["GITHUB_TOKEN"])
	// 提示词只出现脱敏提示，不出现明文
	assert.NotContains(t, captured.Prompt, "tok-123")
	assert.Contains(t, captured.Prompt, "GITHUB_TOKEN")
}

// captureEngine 记录调用配置并立即结束流
type captureEngine struct {
	onInvoke func(cfg *engine.InvocationConfig)
}

func (e *captureEngine) Invoke(ctx context.Context, cfg *engine.InvocationConfig) (engine.Stream, error) {
	if e.onInvoke != nil {
		e.onInvoke(cfg)
	}
	return &scriptedStream{}, nil
}
