package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go-automation/internal/database"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type RuleRepository interface {
	ListActive(ctx context.Context, triggerTypes ...TriggerType) ([]*Rule, error)
	GetByID(ctx context.Context, id primitive.ObjectID) (*Rule, error)
	Create(ctx context.Context, doc *RuleDocument) error
	Count(ctx context.Context) (total int64, active int64, err error)
}

// RuleDocument is the stored shape of a rule. The free-form documents are
// decoded as plain maps and slices and re-encoded to JSON for parsing.
type RuleDocument struct {
	ID                primitive.ObjectID `bson:"_id,omitempty"`
	Name              string             `bson:"name"`
	Description       string             `bson:"description,omitempty"`
	TriggerType       string             `bson:"trigger_type"`
	TriggerConditions interface{}        `bson:"trigger_conditions,omitempty"`
	ActionType        string             `bson:"action_type"`
	ActionPayload     interface{}        `bson:"action_payload,omitempty"`
	ScheduleConfig    interface{}        `bson:"schedule_config,omitempty"`
	IsActive          bool               `bson:"is_active"`
	Priority          int                `bson:"priority"`
	CreatedBy         primitive.ObjectID `bson:"created_by,omitempty"`
	CreatedAt         time.Time          `bson:"created_at"`
	UpdatedAt         time.Time          `bson:"updated_at"`
}

func (d *RuleDocument) Definition() (RuleDefinition, error) {
	def := RuleDefinition{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		TriggerType: d.TriggerType,
		ActionType:  d.ActionType,
		IsActive:    d.IsActive,
		Priority:    d.Priority,
		CreatedBy:   d.CreatedBy,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
	var err error
	if def.TriggerConditions, err = toRawJSON(d.TriggerConditions); err != nil {
		return def, fmt.Errorf("trigger_conditions: %w", err)
	}
	if def.ActionPayload, err = toRawJSON(d.ActionPayload); err != nil {
		return def, fmt.Errorf("action_payload: %w", err)
	}
	if def.ScheduleConfig, err = toRawJSON(d.ScheduleConfig); err != nil {
		return def, fmt.Errorf("schedule_config: %w", err)
	}
	return def, nil
}

func toRawJSON(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

// parseDocument never fails: an unencodable document becomes an invalid rule.
func parseDocument(doc *RuleDocument) *Rule {
	def, err := doc.Definition()
	if err != nil {
		rule := ParseRule(RuleDefinition{
			ID: doc.ID, Name: doc.Name, TriggerType: doc.TriggerType, ActionType: doc.ActionType,
			IsActive: doc.IsActive, Priority: doc.Priority, CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
		})
		rule.Invalid = invalidf("%v", err)
		return rule
	}
	return ParseRule(def)
}

type RuleRepositoryImpl struct {
	Collection *mongo.Collection
}

func NewRuleRepository(mongodb *database.MongodbDB) RuleRepository {
	return &RuleRepositoryImpl{
		Collection: mongodb.DB.Collection("automations"),
	}
}

func (r *RuleRepositoryImpl) ListActive(ctx context.Context, triggerTypes ...TriggerType) ([]*Rule, error) {
	filter := bson.M{"is_active": true}
	if len(triggerTypes) > 0 {
		filter["trigger_type"] = bson.M{"$in": triggerTypes}
	}
	opts := options.Find().SetSort(bson.D{{Key: "priority", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []RuleDocument
	if err = cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	rules := make([]*Rule, 0, len(docs))
	for i := range docs {
		rules = append(rules, parseDocument(&docs[i]))
	}
	return rules, nil
}

func (r *RuleRepositoryImpl) GetByID(ctx context.Context, id primitive.ObjectID) (*Rule, error) {
	var doc RuleDocument
	err := r.Collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrRuleNotFound
		}
		return nil, err
	}
	return parseDocument(&doc), nil
}

func (r *RuleRepositoryImpl) Create(ctx context.Context, doc *RuleDocument) error {
	doc.ID = primitive.NewObjectID()
	doc.CreatedAt = time.Now()
	doc.UpdatedAt = doc.CreatedAt
	_, err := r.Collection.InsertOne(ctx, doc)
	return err
}

func (r *RuleRepositoryImpl) Count(ctx context.Context) (int64, int64, error) {
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
