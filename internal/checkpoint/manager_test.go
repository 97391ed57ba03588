package checkpoint

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopilot/internal/shared/objstore"
	"autopilot/internal/shared/storage"
)

func newTestManager(t *testing.T) (*Manager, *storage.MemoryStore, *objstore.Memory) {
	t.Helper()
	store := storage.NewMemoryStore()
	blobs := objstore.NewMemory()
	return NewManager(store, blobs, nil), store, blobs
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestCheckpointRoundTrip(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	base := t.TempDir()
	workDir := filepath.Join(base, "run-1")
	require.NoError(t, os.MkdirAll(workDir, 0755))
	writeFile(t, workDir, "result.txt", "hello")
	writeFile(t, workDir, "nested/data.json", `{"a":1}`)

	cpID, err := mgr.Create(ctx, "run-1", workDir, "pre-execution")
	require.NoError(t, err)
	require.NotEmpty(t, cpID)

	// 改动工作区后恢复，内容应与归档时逐字节一致
	writeFile(t, workDir, "result.txt", "mutated")
	writeFile(t, workDir, "extra.txt", "should disappear")

	require.NoError(t, mgr.Restore(ctx, "run-1", cpID, workDir))

	data, err := os.ReadFile(filepath.Join(workDir, "result.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	data, err = os.ReadFile(filepath.Join(workDir, "nested", "data.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	_, err = os.Stat(filepath.Join(workDir, "extra.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestCheckpointEmptyWorkspace(t *testing.T) {
	ctx := context.Background()
	mgr, store, _ := newTestManager(t)

	base := t.TempDir()
	workDir := filepath.Join(base, "run-2")
	require.NoError(t, os.MkdirAll(workDir, 0755))

	_, err := mgr.Create(ctx, "run-2", workDir, "pre-execution")
	require.ErrorIs(t, err, ErrNothingToCheckpoint)

	// 失败时不得留下记录
	cps, err := store.ListCheckpointsByRun(ctx, "run-2")
	require.NoError(t, err)
	assert.Empty(t, cps)
}

func TestCheckpointRestoreMissingRecord(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	workDir := filepath.Join(t.TempDir(), "run-3")
	require.NoError(t, os.MkdirAll(workDir, 0755))

	err := mgr.Restore(ctx, "run-3", "no-such-checkpoint", workDir)
	require.ErrorIs(t, err, ErrCheckpointMissing)
}

func TestCheckpointRestoreMissingArchive(t *testing.T) {
	ctx := context.Background()
	mgr, store, blobs := newTestManager(t)

	workDir := filepath.Join(t.TempDir(), "run-4")
	require.NoError(t, os.MkdirAll(workDir, 0755))
	writeFile(t, workDir, "a.txt", "keep me")

	cpID, err := mgr.Create(ctx, "run-4", workDir, "pre-execution")
	require.NoError(t, err)

	// 模拟对象丢失：恢复必须 fail closed 且不破坏现有工作区
	cps, err := store.ListCheckpointsByRun(ctx, "run-4")
	require.NoError(t, err)
	require.Len(t, cps, 1)
	blobs.Delete(cps[0].StorageKey)

	err = mgr.Restore(ctx, "run-4", cpID, workDir)
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(workDir, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestCheckpointRestoreWrongRun(t *testing.T) {
	ctx := context.Background()
	mgr, _, _ := newTestManager(t)

	workDir := filepath.Join(t.TempDir(), "run-5")
	require.NoError(t, os.MkdirAll(workDir, 0755))
	writeFile(t, workDir, "a.txt", "x")

	cpID, err := mgr.Create(ctx, "run-5", workDir, "pre-execution")
	require.NoError(t, err)

	// 检查点属于别的 Run 时按缺失处理
	err = mgr.Restore(ctx, "other-run", cpID, workDir)
	require.ErrorIs(t, err, ErrCheckpointMissing)
}
