package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"autopilot/internal/shared/model"
)

// ============================================================================
// CheckpointStore
// ============================================================================

func (s *Store) CreateCheckpoint(ctx context.Context, cp *model.Checkpoint) error {
	return insertOne(ctx, s.col(ColCheckpoints), cp)
}

func (s *Store) GetCheckpoint(ctx context.Context, id string) (*model.Checkpoint, error) {
	return findOne[model.Checkpoint](ctx, s.col(ColCheckpoints), bson.D{{Key: "_id", Value: id}})
}

func (s *Store) ListCheckpointsByRun(ctx context.Context, runID string) ([]*model.Checkpoint, error) {
	filter := bson.D{{Key: "run_id", Value: runID}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	return findMany[model.Checkpoint](ctx, s.col(ColCheckpoints), filter, opts)
}
