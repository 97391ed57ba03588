package mongostore

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"autopilot/internal/shared/model"
)

// ============================================================================
// RunStore
// ============================================================================

func (s *Store) CreateRun(ctx context.Context, run *model.Run) error {
	return insertOne(ctx, s.col(ColRuns), run)
}

func (s *Store) GetRun(ctx context.Context, id string) (*model.Run, error) {
	return findOne[model.Run](ctx, s.col(ColRuns), bson.D{{Key: "_id", Value: id}})
}

// ClaimOldestPendingRun 原子认领最早创建的 pending Run
//
// FindOneAndUpdate 是单次条件更新：筛选 status=pending、按 created_at
// 升序取第一条、原子改写为 running。并发调用最多一个成功，其余观察到
// 无可认领的 Run——这是防止重复执行的唯一机制，不可替换为先读后写。
func (s *Store) ClaimOldestPendingRun(ctx context.Context) (*model.Run, error) {
	now := time.Now()
	filter := bson.D{{Key: "status", Value: model.RunStatusPending}}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: model.RunStatusRunning},
		{Key: "started_at", Value: now},
		{Key: "updated_at", Value: now},
	}}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "created_at", Value: 1}}).
		SetReturnDocument(options.After)

	var run model.Run
	err := s.col(ColRuns).FindOneAndUpdate(ctx, filter, update, opts).Decode(&run)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, wrapError(err)
	}
	return &run, nil
}

// nonTerminalByID 按 id 选中尚未进入终态的 Run
//
// 终态（completed/failed/cancelled）一经写入不可变：迟到的暂停/取消
// 以及与完成戳竞争的收尾写会匹配零个文档，按无操作处理。
func nonTerminalByID(id string) bson.D {
	return bson.D{
		{Key: "_id", Value: id},
		{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{
			model.RunStatusPending, model.RunStatusRunning, model.RunStatusPaused,
		}}}},
	}
}

func (s *Store) UpdateRunStatus(ctx context.Context, id string, status model.RunStatus) error {
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "status", Value: status},
		{Key: "updated_at", Value: time.Now()},
	}}}
	_, err := s.col(ColRuns).UpdateOne(ctx, nonTerminalByID(id), update)
	return wrapError(err)
}

func (s *Store) FinishRun(ctx context.Context, id string, status model.RunStatus, errMsg *string) error {
	now := time.Now()
	set := bson.D{
		{Key: "status", Value: status},
		{Key: "completed_at", Value: now},
		{Key: "updated_at", Value: now},
	}
	if errMsg != nil {
		set = append(set, bson.E{Key: "error", Value: *errMsg})
	}
	_, err := s.col(ColRuns).UpdateOne(ctx, nonTerminalByID(id), bson.D{{Key: "$set", Value: set}})
	return wrapError(err)
}

func (s *Store) SetRunSessionID(ctx context.Context, id string, sessionID string) error {
	return updateFields(ctx, s.col(ColRuns), id, bson.D{
		{Key: "session_id", Value: sessionID},
		{Key: "updated_at", Value: time.Now()},
	})
}

func (s *Store) ListActiveRuns(ctx context.Context) ([]*model.Run, error) {
	filter := bson.D{{Key: "status", Value: bson.D{{Key: "$in", Value: bson.A{
		model.RunStatusRunning, model.RunStatusPaused,
	}}}}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	return findMany[model.Run](ctx, s.col(ColRuns), filter, opts)
}
