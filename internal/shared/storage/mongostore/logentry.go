package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"autopilot/internal/shared/model"
)

// ============================================================================
// LogEntryStore
// ============================================================================

func (s *Store) AppendLogEntries(ctx context.Context, entries []*model.LogEntry) error {
	if len(entries) == 0 {
		return nil
	}
	docs := make([]interface{}, len(entries))
	for i, e := range entries {
		docs[i] = e
	}
	_, err := s.col(ColLogEntries).InsertMany(ctx, docs)
	return wrapError(err)
}

// ListLogEntriesByRun 按 timestamp 升序返回时间线
// 排序在查询层完成，入库顺序不可靠（事件源之间存在时钟偏移）
func (s *Store) ListLogEntriesByRun(ctx context.Context, runID string) ([]*model.LogEntry, error) {
	filter := bson.D{{Key: "run_id", Value: runID}}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	return findMany[model.LogEntry](ctx, s.col(ColLogEntries), filter, opts)
}
