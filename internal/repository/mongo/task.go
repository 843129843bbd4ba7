package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"
	"github.com/sakif/todo-api/internal/apperror"
	"github.com/sakif/todo-api/internal/model"
	"github.com/sakif/todo-api/internal/repository"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var _ repository.TaskRepository = (*TaskDB)(nil)

// TaskDB is the MongoDB-backed task store.
type TaskDB struct {
	coll *mongo.Collection
}

func (r *TaskDB) Create(ctx context.Context, task *model.Task) error {
	now := time.Now().UTC()
	task.ID = xid.New().String()
	task.CreatedAt = now
	task.UpdatedAt = now

	if _, err := r.coll.InsertOne(ctx, task); err != nil {
		return fmt.Errorf("mongo: creating task: %w", err)
	}
	return nil
}

func (r *TaskDB) GetByID(ctx context.Context, id string) (*model.Task, error) {
	var t model.Task
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&t)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, apperror.NotFound("task", id)
		}
		return nil, fmt.Errorf("mongo: getting task %s: %w", id, err)
	}
	return &t, nil
}

func (r *TaskDB) ListByOwner(ctx context.Context, ownerID string) ([]model.Task, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := r.coll.Find(ctx, bson.M{"user_id": ownerID}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: listing tasks: %w", err)
	}

	tasks := make([]model.Task, 0)
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("mongo: decoding tasks: %w", err)
	}
	return tasks, nil
}

func (r *TaskDB) Update(ctx context.Context, task *model.Task) error {
	task.UpdatedAt = time.Now().UTC()

	filter := bson.M{"_id": task.ID, "user_id": task.UserID}
	update := bson.M{"$set": bson.M{
		"title":       task.Title,
		"description": task.Description,
		"completed":   task.Completed,
		"updated_at":  task.UpdatedAt,
	}}

	res, err := r.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("mongo: updating task %s: %w", task.ID, err)
	}
	if res.MatchedCount == 0 {
		return apperror.NotFound("task", task.ID)
	}
	return nil
}

func (r *TaskDB) Delete(ctx context.Context, id, ownerID string) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": id, "user_id": ownerID})
	if err != nil {
		return fmt.Errorf("mongo: deleting task %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return apperror.NotFound("task", id)
	}
	return nil
}
