package mongostore

import (
	"context"

	"go.mongodb.org/mongo-driver/v2/bson"

	"autopilot/internal/shared/model"
	"autopilot/internal/shared/storage"
)

// ============================================================================
// TaskStore / CredentialStore
// ============================================================================

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	task, err := findOne[model.Task](ctx, s.col(ColTasks), bson.D{{Key: "_id", Value: id}})
	if err != nil {
		return nil, err
	}
	if task == nil {
		return nil, storage.ErrNotFound
	}
	return task, nil
}

func (s *Store) ListCredentialsByTask(ctx context.Context, taskID string) ([]*model.Credential, error) {
	return findMany[model.Credential](ctx, s.col(ColCredentials), bson.D{{Key: "task_id", Value: taskID}})
}
