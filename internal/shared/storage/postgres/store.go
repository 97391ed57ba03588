// Package postgres 实现基于 PostgreSQL 的 PersistentStore
//
// 通过 pgx 的 database/sql 驱动访问，$n 占位符。
// 表结构在 ensureSchema 中以 IF NOT EXISTS 方式创建。
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"autopilot/internal/shared/model"
	"autopilot/internal/shared/storage"
)

// Store 实现 storage.PersistentStore 接口的 PostgreSQL 驱动
type Store struct {
	db *sql.DB
}

// NewStore 创建 PostgreSQL 存储实例
func NewStore(databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("postgres: open failed: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("postgres: ping failed: %w", err)
	}

	s := &Store{db: db}
	if err := s.ensureSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("postgres: ensure schema failed: %w", err)
	}
	return s, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	return s.db.Close()
}

// ensureSchema 创建所有必要的表和索引
func (s *Store) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			analysis_text TEXT NOT NULL DEFAULT '',
			plan_json TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			status TEXT NOT NULL,
			session_id TEXT,
			started_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			error TEXT,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_status_created ON runs (status, created_at)`,
		`CREATE TABLE IF NOT EXISTS log_entries (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			action_type TEXT NOT NULL DEFAULT '',
			tool_name TEXT NOT NULL DEFAULT '',
			tool_input TEXT NOT NULL DEFAULT '',
			tool_output TEXT NOT NULL DEFAULT '',
			step_number INT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_log_entries_run_ts ON log_entries (run_id, timestamp)`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			storage_key TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_run ON checkpoints (run_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS credentials (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL,
			key TEXT NOT NULL,
			cipher_text TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			UNIQUE (task_id, key)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ============================================================================
// TaskStore
// ============================================================================

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, notes, analysis_text, plan_json, created_at, updated_at
		FROM tasks WHERE id = $1`, id)
	task := &model.Task{}
	err := row.Scan(&task.ID, &task.Title, &task.Description, &task.Notes,
		&task.AnalysisText, &task.PlanJSON, &task.CreatedAt, &task.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return task, nil
}

// ============================================================================
// RunStore
// ============================================================================

const runColumns = `id, task_id, status, session_id, started_at, completed_at, error, created_at, updated_at`

func scanRun(scanner interface{ Scan(dest ...interface{}) error }) (*model.Run, error) {
	run := &model.Run{}
	err := scanner.Scan(&run.ID, &run.TaskID, &run.Status, &run.SessionID,
		&run.StartedAt, &run.CompletedAt, &run.Error, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.TaskID, run.Status, run.SessionID, run.StartedAt,
		run.CompletedAt, run.Error, run.CreatedAt, run.UpdatedAt)
	return err
}

func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// ClaimOldestPendingRun 原子认领最早创建的 pending Run
//
// 内层子查询用 FOR UPDATE SKIP LOCKED 锁定候选行，外层 UPDATE 带状态
// 条件，整体是单条语句：并发调用最多一个成功，其余拿到零行。
func (s *Store) ClaimOldestPendingRun(ctx context.Context) (*model.Run, error) {
	now := time.Now()
	row := s.db.QueryRowContext(ctx, `
		UPDATE runs SET status = $1, started_at = $2, updated_at = $2
		WHERE id = (
			SELECT id FROM runs WHERE status = $3
			ORDER BY created_at ASC LIMIT 1
			FOR UPDATE SKIP LOCKED
		) AND status = $3
		RETURNING `+runColumns,
		model.RunStatusRunning, now, model.RunStatusPending)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return run, err
}

// 状态写入仅作用于未进入终态的 Run：终态一经写入不可变，迟到的
// 暂停/取消以及与完成戳竞争的收尾写匹配零行，按无操作处理。

func (s *Store) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, updated_at = $2
		WHERE id = $3 AND status IN ($4, $5, $6)`,
		status, time.Now(), id,
		model.RunStatusPending, model.RunStatusRunning, model.RunStatusPaused)
	return err
}

func (s *Store) FinishRun(ctx context.Context, id string, status model.RunStatus, errMsg *string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = $1, completed_at = $2, updated_at = $2, error = COALESCE($3, error)
		WHERE id = $4 AND status IN ($5, $6, $7)`,
		status, time.Now(), errMsg, id,
		model.RunStatusPending, model.RunStatusRunning, model.RunStatusPaused)
	return err
}

func (s *Store) SetRunSessionID(ctx context.Context, id string, sessionID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET session_id = $1, updated_at = $2 WHERE id = $3`,
		sessionID, time.Now(), id)
	return checkAffected(res, err)
}

func (s *Store) ListActiveRuns(ctx context.Context) ([]*model.Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE status IN ($1, $2) ORDER BY created_at ASC`,
		model.RunStatusRunning, model.RunStatusPaused)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// ============================================================================
// LogEntryStore
// ============================================================================

func (s *Store) AppendLogEntries(ctx context.Context, entries []*model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, e := range entries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO log_entries (id, run_id, level, message, timestamp, action_type, tool_name, tool_input, tool_output, step_number)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			e.ID, e.RunID, e.Level, e.Message, e.Timestamp,
			e.ActionType, e.ToolName, e.ToolInput, e.ToolOutput, e.StepNumber); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) ListLogEntriesByRun(ctx context.Context, runID string) ([]*model.LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, level, message, timestamp, action_type, tool_name, tool_input, tool_output, step_number
		FROM log_entries WHERE run_id = $1 ORDER BY timestamp ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []*model.LogEntry
	for rows.Next() {
		e := &model.LogEntry{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.Level, &e.Message, &e.Timestamp,
			&e.ActionType, &e.ToolName, &e.ToolInput, &e.ToolOutput, &e.StepNumber); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ============================================================================
// CheckpointStore / CredentialStore
// ============================================================================

func (s *Store) CreateCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (id, run_id, storage_key, description, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		cp.ID, cp.RunID, cp.StorageKey, cp.Description, cp.CreatedAt)
	return err
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, run_id, storage_key, description, created_at
		FROM checkpoints WHERE id = $1`, id)
	cp := &model.Checkpoint{}
	err := row.Scan(&cp.ID, &cp.RunID, &cp.StorageKey, &cp.Description, &cp.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *Store) ListCheckpointsByRun(ctx context.Context, runID string) ([]*model.Checkpoint, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, storage_key, description, created_at
		FROM checkpoints WHERE run_id = $1 ORDER BY created_at DESC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cps []*model.Checkpoint
	for rows.Next() {
		cp := &model.Checkpoint{}
		if err := rows.Scan(&cp.ID, &cp.RunID, &cp.StorageKey, &cp.Description, &cp.CreatedAt); err != nil {
			return nil, err
		}
		cps = append(cps, cp)
	}
	return cps, rows.Err()
}

func (s *Store) ListCredentialsByTask(ctx context.Context, taskID string) ([]*model.Credential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, key, cipher_text, created_at
		FROM credentials WHERE task_id = $1 ORDER BY key ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []*model.Credential
	for rows.Next() {
		c := &model.Credential{}
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Key, &c.CipherText, &c.CreatedAt); err != nil {
			return nil, err
		}
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// checkAffected 将零行更新归一为 ErrNotFound
func checkAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// 确保 Store 实现了 PersistentStore 接口
var _ storage.PersistentStore = (*Store)(nil)
