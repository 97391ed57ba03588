package logstream

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/engine"
	"autopilot/internal/shared/eventbus"
	"autopilot/internal/shared/model"
	"autopilot/internal/shared/storage"
)

func newTestStreamer(t *testing.T) (*Streamer, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	return NewStreamer(store, eventbus.NewInProcessFeed()), store
}

func listEntries(t *testing.T, store *storage.MemoryStore, runID string) []*model.LogEntry {
	t.Helper()
	entries, err := store.ListLogEntriesByRun(context.Background(), runID)
	require.NoError(t, err)
	return entries
}

func TestStreamerAssistantMessage(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStreamer(t)

	msg := &engine.Message{
		Type:       engine.MessageAssistant,
		TextBlocks: []string{"First I will list the files.", "Then run the script."},
		ToolCalls: []engine.ToolCall{
			{Name: "Bash", Input: map[string]interface{}{"command": "ls -la /data"}},
		},
	}
	require.NoError(t, s.LogMessage(ctx, "run-1", msg))

	entries := listEntries(t, store, "run-1")
	require.Len(t, entries, 3)

	assert.Equal(t, model.ActionText, entries[0].ActionType)
	assert.Equal(t, "First I will list the files.", entries[0].Message)
	assert.Equal(t, model.ActionText, entries[1].ActionType)

	call := entries[2]
	assert.Equal(t, model.ActionToolCall, call.ActionType)
	assert.Equal(t, "Bash", call.ToolName)
	assert.Equal(t, "Bash: ls -la /data", call.Message)
	assert.Contains(t, call.ToolInput, `"command"`)
}

func TestStreamerToolCallSummaryTruncated(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStreamer(t)

	longCmd := strings.Repeat("x", 300)
	msg := &engine.Message{
		Type: engine.MessageAssistant,
		ToolCalls: []engine.ToolCall{
			{Name: "Bash", Input: map[string]interface{}{"command": longCmd}},
		},
	}
	require.NoError(t, s.LogMessage(ctx, "run-2", msg))

	entries := listEntries(t, store, "run-2")
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Message, model.MaxSummaryLen+3)
	assert.True(t, strings.HasSuffix(entries[0].Message, "..."))
	// 完整参数不受摘要截断影响
	assert.Contains(t, entries[0].ToolInput, longCmd)
}

func TestStreamerToolResult(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStreamer(t)

	// 先有调用，结果条目回填最近的工具名
	require.NoError(t, s.LogMessage(ctx, "run-3", &engine.Message{
		Type:      engine.MessageAssistant,
		ToolCalls: []engine.ToolCall{{Name: "Read", Input: map[string]interface{}{"file_path": "/tmp/a"}}},
	}))

	longOutput := strings.Repeat("y", model.MaxToolOutputLen+500)
	require.NoError(t, s.LogMessage(ctx, "run-3", &engine.Message{
		Type:       engine.MessageTool,
		ToolResult: &engine.ToolResult{Content: longOutput, IsError: true},
	}))

	entries := listEntries(t, store, "run-3")
	require.Len(t, entries, 2)

	result := entries[1]
	assert.Equal(t, model.ActionToolResult, result.ActionType)
	assert.Equal(t, model.LogLevelError, result.Level)
	assert.Equal(t, "Read", result.ToolName)
	assert.Len(t, result.ToolOutput, model.MaxToolOutputLen+len(model.TruncationMarker))
	assert.True(t, strings.HasSuffix(result.ToolOutput, model.TruncationMarker))
}

func TestStreamerToolOutputAtCap(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStreamer(t)

	exact := strings.Repeat("z", model.MaxToolOutputLen)
	require.NoError(t, s.LogMessage(ctx, "run-4", &engine.Message{
		Type:       engine.MessageTool,
		ToolResult: &engine.ToolResult{ToolName: "Bash", Content: exact},
	}))

	entries := listEntries(t, store, "run-4")
	require.Len(t, entries, 1)
	// 恰好达到上限时不截断
	assert.Equal(t, exact, entries[0].ToolOutput)
	assert.Equal(t, model.LogLevelInfo, entries[0].Level)
}

func TestStreamerResultMessage(t *testing.T) {
	ctx := context.Background()
	s, store := newTestStreamer(t)

	require.NoError(t, s.LogMessage(ctx, "run-5", &engine.Message{
		Type:   engine.MessageResult,
		Result: &engine.Result{Summary: "All rows updated."},
	}))

	entries := listEntries(t, store, "run-5")
	require.Len(t, entries, 1)
	assert.Equal(t, model.ActionSystem, entries[0].ActionType)
	assert.Equal(t, model.LogLevelInfo, entries[0].Level)
	assert.Contains(t, entries[0].Message, "All rows updated.")
}

func TestStreamerFeedMirror(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewMemoryStore()
	feed := eventbus.NewInProcessFeed()
	s := NewStreamer(store, feed)

	ch, err := feed.SubscribeEntries(ctx, "run-6")
	require.NoError(t, err)

	require.NoError(t, s.Info(ctx, "run-6", "starting up"))

	entry := <-ch
	assert.Equal(t, "starting up", entry.Message)
	assert.Equal(t, model.LogLevelInfo, entry.Level)
}
