package automation

import (
	"context"
	"time"

	"go-automation/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type DeferredRepository interface {
	Enqueue(ctx context.Context, item *DeferredDispatch) error
	// ClaimDue moves the oldest due pending item to running. It returns nil
	// when nothing is due.
	ClaimDue(ctx context.Context, now time.Time) (*DeferredDispatch, error)
	Complete(ctx context.Context, id primitive.ObjectID, status DeferredStatus, errMsg string) error
	// AbandonStale fails items left running since before cutoff.
	AbandonStale(ctx context.Context, cutoff time.Time) (int64, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type DeferredRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewDeferredRepository(mongodb *database.MongodbDB) DeferredRepository {
	return &DeferredRepositoryImpl{
		Collection: mongodb.DB.Collection("automation_deferred"),
	}
}

func (r *DeferredRepositoryImpl) Enqueue(ctx context.Context, item *DeferredDispatch) error {
	item.ID = primitive.NewObjectID()
	item.Status = DeferredPending
	item.CreatedAt = time.Now()
	item.UpdatedAt = item.CreatedAt
	_, err := r.Collection.InsertOne(ctx, item)
	return err
}

func (r *DeferredRepositoryImpl) ClaimDue(ctx context.Context, now time.Time) (*DeferredDispatch, error) {
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "due_at", Value: 1}}).
		SetReturnDocument(options.After)
	var item DeferredDispatch
	err := r.Collection.FindOneAndUpdate(ctx,
		bson.M{"status": DeferredPending, "due_at": bson.M{"$lte": now}},
		bson.M{"$set": bson.M{"status": DeferredRunning, "updated_at": now}},
		opts,
	).Decode(&item)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &item, nil
}

func (r *DeferredRepositoryImpl) Complete(ctx context.Context, id primitive.ObjectID, status DeferredStatus, errMsg string) error {
	set := bson.M{"status": status, "updated_at": time.Now()}
	if errMsg != "" {
		set["error"] = errMsg
	}
	_, err := r.Collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	return err
}

func (r *DeferredRepositoryImpl) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.Collection.UpdateMany(ctx,
		bson.M{"status": DeferredRunning, "updated_at": bson.M{"$lt": cutoff}},
		bson.M{"$set": bson.M{"status": DeferredFailed, "error": "abandoned while running", "updated_at": time.Now()}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *DeferredRepositoryImpl) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.Collection.DeleteMany(ctx, bson.M{
		"status":     bson.M{"$in": bson.A{DeferredDone, DeferredFailed, DeferredSkipped}},
		"updated_at": bson.M{"$lt": cutoff},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}
