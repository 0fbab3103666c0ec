package contact

import (
	"context"
	"errors"
	"time"

	"go-automation/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var ErrContactNotFound = errors.New("contact not found")

type ContactRepository interface {
	Get(ctx context.Context, id primitive.ObjectID) (*Contact, error)
	Update(ctx context.Context, id primitive.ObjectID, update Update) error
	ListByBirthday(ctx context.Context, day time.Time) ([]Contact, error)
	ListActive(ctx context.Context, tags []string) ([]Contact, error)
	CountActive(ctx context.Context) (total int64, active int64, err error)
}

type ContactRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewContactRepository(mongodb *database.MongodbDB) ContactRepository {
	return &ContactRepositoryImpl{
		Collection: mongodb.DB.Collection("contacts"),
	}
}

func (r *ContactRepositoryImpl) Get(ctx context.Context, id primitive.ObjectID) (*Contact, error) {
	var c Contact
	err := r.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&c)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrContactNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *ContactRepositoryImpl) Update(ctx context.Context, id primitive.ObjectID, update Update) error {
	doc := updateDocument(update, time.Now())
	res, err := r.Collection.UpdateOne(ctx, bson.M{"_id": id}, doc)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrContactNotFound
	}
	return nil
}

func updateDocument(update Update, now time.Time) bson.M {
	set := bson.M{"updated_at": now}
	for k, v := range update.Set {
		set[k] = v
	}
	doc := bson.M{"$set": set}
	if len(update.Inc) > 0 {
		inc := bson.M{}
		for k, v := range update.Inc {
			inc[k] = v
		}
		doc["$inc"] = inc
	}
	if len(update.AddTags) > 0 {
		doc["$addToSet"] = bson.M{"tags": bson.M{"$each": update.AddTags}}
	}
	return doc
}

func (r *ContactRepositoryImpl) ListByBirthday(ctx context.Context, day time.Time) ([]Contact, error) {
	return r.find(ctx, birthdayFilter(day))
}

func birthdayFilter(day time.Time) bson.M {
	var matches bson.A
	for _, md := range BirthdayKeys(day) {
		matches = append(matches, bson.M{"$and": bson.A{
			bson.M{"$eq": bson.A{bson.M{"$month": "$birthday"}, int(md.Month)}},
			bson.M{"$eq": bson.A{bson.M{"$dayOfMonth": "$birthday"}, md.Day}},
		}})
	}
	return bson.M{
		"is_active": true,
		"birthday":  bson.M{"$type": "date"},
		"$expr":     bson.M{"$or": matches},
	}
}

func (r *ContactRepositoryImpl) ListActive(ctx context.Context, tags []string) ([]Contact, error) {
	filter := bson.M{"is_active": true}
	if len(tags) > 0 {
		filter["tags"] = bson.M{"$all": tags}
	}
	return r.find(ctx, filter)
}

func (r *ContactRepositoryImpl) CountActive(ctx context.Context) (int64, int64, error) {
	total, err := r.Collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, 0, err
	}
	active, err := r.Collection.CountDocuments(ctx, bson.M{"is_active": true})
	if err != nil {
		return 0, 0, err
	}
	return total, active, nil
}

func (r *ContactRepositoryImpl) find(ctx context.Context, filter bson.M) ([]Contact, error) {
	cursor, err := r.Collection.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var contacts []Contact
	if err = cursor.All(ctx, &contacts); err != nil {
		return nil, err
	}
	return contacts, nil
}

type ActivityRepository interface {
	Record(ctx context.Context, activity *Activity) error
}

type ActivityRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewActivityRepository(mongodb *database.MongodbDB) ActivityRepository {
	return &ActivityRepositoryImpl{
		Collection: mongodb.DB.Collection("contact_activities"),
	}
}

func (r *ActivityRepositoryImpl) Record(ctx context.Context, activity *Activity) error {
	activity.ID = primitive.NewObjectID()
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = time.Now()
	}
	_, err := r.Collection.InsertOne(ctx, activity)
	return err
}
