// Package workspace Run 工作区管理
//
// 每个 Run 独占 baseDir 下以其 ID 命名的目录。目录在 Run 的整个生命
// 周期内保留（检查点恢复依赖它），显式 Remove 才会清理。
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// Manager 工作区管理器
type Manager struct {
	baseDir string
}

// NewManager 创建工作区管理器
func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("workspace base dir is required")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace base dir: %w", err)
	}
	return &Manager{baseDir: baseDir}, nil
}

// Acquire 返回某个 Run 的工作区目录，不存在则创建
func (m *Manager) Acquire(runID string) (string, error) {
	dir := filepath.Join(m.baseDir, runID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create workspace for run %s: %w", runID, err)
	}
	return dir, nil
}

// Path 返回某个 Run 的工作区目录路径，不保证存在
func (m *Manager) Path(runID string) string {
	return filepath.Join(m.baseDir, runID)
}

// Remove 删除某个 Run 的工作区
func (m *Manager) Remove(runID string) error {
	return os.RemoveAll(filepath.Join(m.baseDir, runID))
}
