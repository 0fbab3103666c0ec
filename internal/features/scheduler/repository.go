package scheduler

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go-automation/internal/database"
)

type RunRepository interface {
	CreateRun(ctx context.Context, run *JobRun) error
	UpdateRun(ctx context.Context, run *JobRun) error
	ListRuns(ctx context.Context, job string, limit int) ([]JobRun, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type RunRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewRunRepository(mongodb *database.MongodbDB) RunRepository {
	return &RunRepositoryImpl{
		Collection: mongodb.DB.Collection("scheduler_runs"),
	}
}

func (r *RunRepositoryImpl) CreateRun(ctx context.Context, run *JobRun) error {
	run.ID = primitive.NewObjectID()
	run.CreatedAt = time.Now()

	_, err := r.Collection.InsertOne(ctx, run)
	return err
}

func (r *RunRepositoryImpl) UpdateRun(ctx context.Context, run *JobRun) error {
	_, err := r.Collection.UpdateOne(ctx, bson.M{"_id": run.ID}, bson.M{"$set": run})
	return err
}

func (r *RunRepositoryImpl) ListRuns(ctx context.Context, job string, limit int) ([]JobRun, error) {
	filter := bson.M{}
	if job != "" {
		filter["job"] = job
	}
	opts := options.Find().
		SetSort(bson.D{{Key: "start_time", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var runs []JobRun
	if err = cursor.All(ctx, &runs); err != nil {
		return nil, err
	}
	if runs == nil {
		runs = []JobRun{}
	}
	return runs, nil
}

func (r *RunRepositoryImpl) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.Collection.DeleteMany(ctx, bson.M{"start_time": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
