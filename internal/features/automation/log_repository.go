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

const defaultLogLimit = 100

// LogRepository is the append-only Automation Log together with the claim
// set that deduplicates once-per-period attempts.
type LogRepository interface {
	Append(ctx context.Context, entry *LogEntry) error
	// GetClaim returns nil when (automation, contact, period) is unclaimed.
	GetClaim(ctx context.Context, automationID, contactID primitive.ObjectID, periodKey string) (*Claim, error)
	InsertClaimIfAbsent(ctx context.Context, claim Claim) (bool, error)
	CompleteClaim(ctx context.Context, automationID, contactID primitive.ObjectID, periodKey string, at time.Time) error
	List(ctx context.Context, filter LogFilter) ([]LogEntry, error)
	Stats(ctx context.Context, now time.Time) (*Stats, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

type LogRepositoryImpl struct {
	Logs   *mongo.Collection
	Claims *mongo.Collection
}

func NewLogRepository(mongodb *database.MongodbDB) LogRepository {
	return &LogRepositoryImpl{
		Logs:   mongodb.DB.Collection("automation_logs"),
		Claims: mongodb.DB.Collection("automation_claims"),
	}
}

func (r *LogRepositoryImpl) EnsureIndexes(ctx context.Context) error {
	_, err := r.Claims.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "automation_id", Value: 1},
			{Key: "contact_id", Value: 1},
			{Key: "period_key", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("claim_unique"),
	})
	if err != nil {
		return err
	}
	_, err = r.Logs.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "executed_at", Value: -1}}},
		{Keys: bson.D{{Key: "automation_id", Value: 1}, {Key: "executed_at", Value: -1}}},
	})
	return err
}

func (r *LogRepositoryImpl) Append(ctx context.Context, entry *LogEntry) error {
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	_, err := r.Logs.InsertOne(ctx, entry)
	return err
}

func claimFilter(automationID, contactID primitive.ObjectID, periodKey string) bson.M {
	return bson.M{
		"automation_id": automationID,
		"contact_id":    contactID,
		"period_key":    periodKey,
	}
}

func (r *LogRepositoryImpl) GetClaim(ctx context.Context, automationID, contactID primitive.ObjectID, periodKey string) (*Claim, error) {
	var claim Claim
	err := r.Claims.FindOne(ctx, claimFilter(automationID, contactID, periodKey)).Decode(&claim)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, err
	}
	return &claim, nil
}

// InsertClaimIfAbsent reports false when another pass already holds the claim.
func (r *LogRepositoryImpl) InsertClaimIfAbsent(ctx context.Context, claim Claim) (bool, error) {
	_, err := r.Claims.InsertOne(ctx, claim)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *LogRepositoryImpl) CompleteClaim(ctx context.Context, automationID, contactID primitive.ObjectID, periodKey string, at time.Time) error {
	_, err := r.Claims.UpdateOne(ctx,
		claimFilter(automationID, contactID, periodKey),
		bson.M{"$set": bson.M{"status": ClaimDone, "completed_at": at}})
	return err
}

func (r *LogRepositoryImpl) List(ctx context.Context, filter LogFilter) ([]LogEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultLogLimit
	}
	opts := options.Find().SetSort(bson.D{{Key: "executed_at", Value: -1}}).SetLimit(limit)
	cursor, err := r.Logs.Find(ctx, logFilterDocument(filter), opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []LogEntry
	if err = cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func logFilterDocument(f LogFilter) bson.M {
	filter := bson.M{}
	if f.AutomationID != nil {
		filter["automation_id"] = *f.AutomationID
	}
	if f.ContactID != nil {
		filter["contact_id"] = *f.ContactID
	}
	if f.Status != "" {
		filter["execution_status"] = f.Status
	}
	if !f.Since.IsZero() {
		filter["executed_at"] = bson.M{"$gte": f.Since}
	}
	return filter
}

func (r *LogRepositoryImpl) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	stats := &Stats{}
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	windows := []struct {
		since time.Time
		dst   *int64
	}{
		{dayStart, &stats.ExecutionsToday},
		{now.AddDate(0, 0, -7), &stats.ExecutionsThisWeek},
		{now.AddDate(0, -1, 0), &stats.ExecutionsThisMonth},
	}
	for _, w := range windows {
		n, err := r.Logs.CountDocuments(ctx, bson.M{"executed_at": bson.M{"$gte": w.since}})
		if err != nil {
			return nil, err
		}
		*w.dst = n
	}

	cursor, err := r.Logs.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":     "$automation_id",
			"success": statusCounter(StatusSuccess),
			"failed":  statusCounter(StatusFailed),
			"partial": statusCounter(StatusPartial),
			"skipped": statusCounter(StatusSkipped),
			"time":    bson.M{"$sum": "$execution_time"},
		}}},
		{{Key: "$sort", Value: bson.M{"_id": 1}}},
	})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var rows []struct {
		RuleStats `bson:",inline"`
		Time      float64 `bson:"time"`
	}
	if err = cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	var total, success int64
	var elapsed float64
	for _, row := range rows {
		stats.PerRule = append(stats.PerRule, row.RuleStats)
		success += row.Success
		total += row.Success + row.Failed + row.Partial + row.Skipped
		elapsed += row.Time
	}
	if total > 0 {
		stats.SuccessRate = float64(success) / float64(total) * 100
		stats.AverageExecutionTime = elapsed / float64(total)
	}
	return stats, nil
}

func statusCounter(status ExecutionStatus) bson.M {
	return bson.M{"$sum": bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$execution_status", status}}, 1, 0}}}
}

// PruneBefore removes log entries and claims older than cutoff and returns
// the number of log entries removed.
func (r *LogRepositoryImpl) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.Logs.DeleteMany(ctx, bson.M{"executed_at": bson.M{"$lt": cutoff}})
	if err != nil {
		return 0, err
	}
	if _, err := r.Claims.DeleteMany(ctx, bson.M{"claimed_at": bson.M{"$lt": cutoff}}); err != nil {
		return res.DeletedCount, err
	}
	return res.DeletedCount, nil
}
