package analytics

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go-automation/internal/database"
)

type MetricRepository interface {
	Upsert(ctx context.Context, snap *MetricSnapshot) error
	// History returns snapshots with day in [from, to], oldest first.
	History(ctx context.Context, from, to string) ([]MetricSnapshot, error)
	PruneBefore(ctx context.Context, day string) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

type MetricRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewMetricRepository(mongodb *database.MongodbDB) MetricRepository {
	return &MetricRepositoryImpl{
		Collection: mongodb.DB.Collection("automation_metrics"),
	}
}

func (r *MetricRepositoryImpl) Upsert(ctx context.Context, snap *MetricSnapshot) error {
	set := bson.M{
		"contacts_total":         snap.ContactsTotal,
		"contacts_active":        snap.ContactsActive,
		"automations_total":      snap.AutomationsTotal,
		"automations_active":     snap.AutomationsActive,
		"executions_today":       snap.ExecutionsToday,
		"executions_this_week":   snap.ExecutionsThisWeek,
		"executions_this_month":  snap.ExecutionsThisMonth,
		"success_rate":           snap.SuccessRate,
		"average_execution_time": snap.AverageExecutionTime,
		"per_rule":               snap.PerRule,
		"computed_at":            snap.ComputedAt,
	}
	_, err := r.Collection.UpdateOne(ctx,
		bson.M{"day": snap.Day},
		bson.M{"$set": set},
		options.Update().SetUpsert(true))
	return err
}

func (r *MetricRepositoryImpl) History(ctx context.Context, from, to string) ([]MetricSnapshot, error) {
	filter := bson.M{"day": bson.M{"$gte": from, "$lte": to}}
	opts := options.Find().SetSort(bson.D{{Key: "day", Value: 1}})

	cursor, err := r.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var snaps []MetricSnapshot
	if err := cursor.All(ctx, &snaps); err != nil {
		return nil, err
	}
	if snaps == nil {
		snaps = []MetricSnapshot{}
	}
	return snaps, nil
}

func (r *MetricRepositoryImpl) PruneBefore(ctx context.Context, day string) (int64, error) {
	res, err := r.Collection.DeleteMany(ctx, bson.M{"day": bson.M{"$lt": day}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (r *MetricRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := r.Collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "day", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("day_unique"),
	})
	return err
}
