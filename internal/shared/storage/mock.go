// Package storage 提供存储层抽象
//
// mock.go 提供用于测试和本地开发的内存实现
package storage

import (
	"context"
	"sync"
	"time"

	"autopilot/internal/shared/model"
)

// ============================================================================
// MemoryStore - 内存 PersistentStore 实现（用于测试）
// ============================================================================

// MemoryStore 是 PersistentStore 的内存实现
//
// 所有操作在同一把互斥锁下执行，因此 ClaimOldestPendingRun 天然满足
// 原子条件更新的认领语义，可直接用于并发认领测试。
type MemoryStore struct {
	mu          sync.Mutex
	tasks       map[string]*model.Task
	runs        map[string]*model.Run
	entries     []*model.LogEntry
	checkpoints map[string]*model.Checkpoint
	credentials map[string][]*model.Credential // taskID → credentials
}

// NewMemoryStore 创建内存存储实例
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:       make(map[string]*model.Task),
		runs:        make(map[string]*model.Run),
		checkpoints: make(map[string]*model.Checkpoint),
		credentials: make(map[string][]*model.Credential),
	}
}

// Close 关闭存储
func (s *MemoryStore) Close() error { return nil }

// ============================================================================
// TaskStore
// ============================================================================

// PutTask 写入任务（测试种子数据）
func (s *MemoryStore) PutTask(task *model.Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

// ============================================================================
// RunStore
// ============================================================================

func (s *MemoryStore) CreateRun(ctx context.Context, run *model.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[run.ID]; ok {
		return ErrDuplicate
	}
	cp := *run
	s.runs[run.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ClaimOldestPendingRun(ctx context.Context) (*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *model.Run
	for _, r := range s.runs {
		if r.Status != model.RunStatusPending {
			continue
		}
		if oldest == nil || r.CreatedAt.Before(oldest.CreatedAt) {
			oldest = r
		}
	}
	if oldest == nil {
		return nil, nil
	}

	now := time.Now()
	oldest.Status = model.RunStatusRunning
	oldest.StartedAt = &now
	oldest.UpdatedAt = now
	cp := *oldest
	return &cp, nil
}

func (s *MemoryStore) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	// 终止状态不可变，迟到的控制面写入按无操作处理
	if r.Status.IsTerminal() {
		return nil
	}
	r.Status = status
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) FinishRun(ctx context.Context, id string, status model.RunStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	// 已进入终态的 Run 不再改写（取消先落库时保留 cancelled）
	if r.Status.IsTerminal() {
		return nil
	}
	now := time.Now()
	r.Status = status
	r.CompletedAt = &now
	r.UpdatedAt = now
	r.Error = errMsg
	return nil
}

func (s *MemoryStore) SetRunSessionID(ctx context.Context, id string, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.SessionID = &sessionID
	r.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) ListActiveRuns(ctx context.Context) ([]*model.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Run
	for _, r := range s.runs {
		if r.IsActive() {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ============================================================================
// LogEntryStore
// ============================================================================

func (s *MemoryStore) AppendLogEntries(ctx context.Context, entries []*model.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		cp := *e
		s.entries = append(s.entries, &cp)
	}
	return nil
}

func (s *MemoryStore) ListLogEntriesByRun(ctx context.Context, runID string) ([]*model.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.LogEntry
	for _, e := range s.entries {
		if e.RunID == runID {
			cp := *e
			out = append(out, &cp)
		}
	}
	model.SortLogEntries(out)
	return out, nil
}

// ============================================================================
// CheckpointStore
// ============================================================================

func (s *MemoryStore) CreateCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.checkpoints[cp.ID]; ok {
		return ErrDuplicate
	}
	c := *cp
	s.checkpoints[cp.ID] = &c
	return nil
}

func (s *MemoryStore) GetCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checkpoints[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListCheckpointsByRun(ctx context.Context, runID string) ([]*model.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Checkpoint
	for _, c := range s.checkpoints {
		if c.RunID == runID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// ============================================================================
// CredentialStore
// ============================================================================

// PutCredential 写入凭据（测试种子数据）
func (s *MemoryStore) PutCredential(cred *model.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cred
	s.credentials[cred.TaskID] = append(s.credentials[cred.TaskID], &cp)
}

func (s *MemoryStore) ListCredentialsByTask(ctx context.Context, taskID string) ([]*model.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Credential
	for _, c := range s.credentials[taskID] {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// 确保 MemoryStore 实现了 PersistentStore 接口
var _ PersistentStore = (*MemoryStore)(nil)
