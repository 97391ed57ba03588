// Package checkpoint 工作区检查点
//
// 把 Run 工作区打包为 tar.gz 上传到对象存储，并在持久层记录检查点元数据。
// 上传成功之后才写记录，保证每条记录都指向一个存在的归档。
// 恢复是全有或全无：先在临时目录完整解包，再原子替换工作区。
package checkpoint

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"autopilot/internal/shared/model"
	"autopilot/internal/shared/storage"
	"autopilot/pkg/logging"
)

// ============================================================================
// 错误与接口
// ============================================================================

var (
	// ErrNothingToCheckpoint 工作区为空，无可归档内容
	ErrNothingToCheckpoint = errors.New("workspace is empty, nothing to checkpoint")

	// ErrCheckpointMissing 检查点记录不存在
	ErrCheckpointMissing = errors.New("checkpoint not found")
)

// BlobStore 归档字节的存取接口
type BlobStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Manager 检查点管理器
type Manager struct {
	store  storage.CheckpointStore
	blobs  BlobStore
	logger *logging.Logger
}

// NewManager 创建检查点管理器
func NewManager(store storage.CheckpointStore, blobs BlobStore, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Default("checkpoint")
	}
	return &Manager{store: store, blobs: blobs, logger: logger}
}

// ============================================================================
// 创建
// ============================================================================

// Create 归档工作区并记录检查点，返回检查点 ID
//
// 工作区为空时返回 ErrNothingToCheckpoint；机会性调用方应视其为非致命。
func (m *Manager) Create(ctx context.Context, runID, workDir, description string) (string, error) {
	archive, fileCount, err := archiveDir(workDir)
	if err != nil {
		return "", err
	}
	if fileCount == 0 {
		return "", ErrNothingToCheckpoint
	}

	checkpointID := fmt.Sprintf("%d-%s", time.Now().UTC().Unix(), uuid.New().String()[:8])
	key := fmt.Sprintf("runs/%s/checkpoints/%s.tar.gz", runID, checkpointID)

	// 先上传，成功后才落记录
	if err := m.blobs.Put(ctx, key, archive); err != nil {
		return "", fmt.Errorf("failed to upload checkpoint archive: %w", err)
	}

	cp := &model.Checkpoint{
		ID:          checkpointID,
		RunID:       runID,
		StorageKey:  key,
		Description: description,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.store.CreateCheckpoint(ctx, cp); err != nil {
		return "", fmt.Errorf("failed to record checkpoint: %w", err)
	}

	m.logger.WithRunID(runID).Info("Checkpoint created",
		"checkpoint_id", checkpointID, "files", fileCount, "bytes", len(archive), "description", description)
	return checkpointID, nil
}

// ============================================================================
// 恢复
// ============================================================================

// Restore 用指定检查点的内容替换整个工作区
//
// 记录缺失、归档缺失、解包失败都会报错且不触碰现有工作区。
func (m *Manager) Restore(ctx context.Context, runID, checkpointID, workDir string) error {
	cp, err := m.store.GetCheckpoint(ctx, checkpointID)
	if err != nil {
		return fmt.Errorf("failed to look up checkpoint: %w", err)
	}
	if cp == nil || cp.RunID != runID {
		return ErrCheckpointMissing
	}

	archive, err := m.blobs.Get(ctx, cp.StorageKey)
	if err != nil {
		return fmt.Errorf("failed to download checkpoint archive: %w", err)
	}

	// 先在兄弟临时目录完整解包
	staging, err := os.MkdirTemp(filepath.Dir(workDir), ".restore-*")
	if err != nil {
		return fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := extractArchive(archive, staging); err != nil {
		return fmt.Errorf("failed to extract checkpoint archive: %w", err)
	}

	// 原子替换：旧工作区先挪开，替换成功后再清理
	backup := workDir + ".replaced"
	os.RemoveAll(backup)
	if err := os.Rename(workDir, backup); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to move old workspace aside: %w", err)
	}
	if err := os.Rename(staging, workDir); err != nil {
		// 回滚旧工作区
		os.Rename(backup, workDir)
		return fmt.Errorf("failed to install restored workspace: %w", err)
	}
	os.RemoveAll(backup)

	m.logger.WithRunID(runID).Info("Checkpoint restored", "checkpoint_id", checkpointID)
	return nil
}

// List 列出某个 Run 的检查点，按创建时间倒序
func (m *Manager) List(ctx context.Context, runID string) ([]*model.Checkpoint, error) {
	return m.store.ListCheckpointsByRun(ctx, runID)
}

// ============================================================================
// 归档
// ============================================================================

// archiveDir 把目录打包为 tar.gz，返回归档和常规文件数
func archiveDir(dir string) ([]byte, int, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to stat workspace: %w", err)
	}
	if !info.IsDir() {
		return nil, 0, fmt.Errorf("workspace %s is not a directory", dir)
	}

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	fileCount := 0
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)

		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !fi.Mode().IsRegular() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
		fileCount++
		return nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("failed to archive workspace: %w", err)
	}

	if err := tw.Close(); err != nil {
		return nil, 0, err
	}
	if err := gw.Close(); err != nil {
		return nil, 0, err
	}
	return buf.Bytes(), fileCount, nil
}

// extractArchive 解包 tar.gz 到目标目录，拒绝越界路径
func extractArchive(archive []byte, dest string) error {
	gr, err := gzip.NewReader(bytes.NewReader(archive))
	if err != nil {
		return fmt.Errorf("bad gzip stream: %w", err)
	}
	defer gr.Close()

	tr := tar.NewReader(gr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("bad tar stream: %w", err)
		}

		name := filepath.FromSlash(hdr.Name)
		if strings.Contains(name, "..") || filepath.IsAbs(name) {
			return fmt.Errorf("archive entry escapes destination: %s", hdr.Name)
		}
		target := filepath.Join(dest, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			// 跳过符号链接等特殊条目
		}
	}
}
