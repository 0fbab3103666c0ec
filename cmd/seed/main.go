package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"go-automation/internal/config"
	"go-automation/internal/database"
	"go-automation/internal/features/automation"
	"go-automation/internal/features/contact"
	"go-automation/internal/logger"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const (
	contactsPath    = "cmd/seed/data/contacts.json"
	automationsPath = "cmd/seed/data/automations.json"
)

type seedRule struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	TriggerType       string          `json:"trigger_type"`
	TriggerConditions json.RawMessage `json:"trigger_conditions"`
	ActionType        string          `json:"action_type"`
	ActionPayload     json.RawMessage `json:"action_payload"`
	ScheduleConfig    json.RawMessage `json:"schedule_config"`
	Priority          int             `json:"priority"`
	IsActive          bool            `json:"is_active"`
}

func readJSON(path string, v interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// decodeDocument turns raw JSON into the plain maps and slices rule
// documents are stored as.
func decodeDocument(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func toDocument(r seedRule, now time.Time) (*automation.RuleDocument, error) {
	doc := &automation.RuleDocument{
		Name:        r.Name,
		Description: r.Description,
		TriggerType: r.TriggerType,
		ActionType:  r.ActionType,
		IsActive:    r.IsActive,
		Priority:    r.Priority,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	var err error
	if doc.TriggerConditions, err = decodeDocument(r.TriggerConditions); err != nil {
		return nil, err
	}
	if doc.ActionPayload, err = decodeDocument(r.ActionPayload); err != nil {
		return nil, err
	}
	if doc.ScheduleConfig, err = decodeDocument(r.ScheduleConfig); err != nil {
		return nil, err
	}
	return doc, nil
}

func seedContacts(ctx context.Context, mongodb *database.MongodbDB, logger *zap.Logger) error {
	var contacts []contact.Contact
	if err := readJSON(contactsPath, &contacts); err != nil {
		return err
	}

	coll := mongodb.DB.Collection("contacts")
	now := time.Now()
	for _, c := range contacts {
		c.CreatedAt = now
		c.UpdatedAt = now
		if c.Tags == nil {
			c.Tags = []string{}
		}
		// Keyed by phone so reruns do not duplicate contacts.
		res, err := coll.UpdateOne(ctx,
			bson.M{"phone": c.Phone},
			bson.M{"$setOnInsert": c},
			options.Update().SetUpsert(true))
		if err != nil {
			return err
		}
		if res.UpsertedCount == 0 {
			logger.Info("Contact exists, skipping", zap.String("phone", c.Phone))
			continue
		}
		logger.Info("Contact created", zap.String("name", c.Name))
	}
	return nil
}

func seedAutomations(ctx context.Context, rules automation.RuleRepository, logger *zap.Logger) error {
	total, _, err := rules.Count(ctx)
	if err != nil {
		return err
	}
	if total > 0 {
		logger.Info("Automations already present, skipping", zap.Int64("count", total))
		return nil
	}

	var seeds []seedRule
	if err := readJSON(automationsPath, &seeds); err != nil {
		return err
	}

	now := time.Now()
	for _, s := range seeds {
		doc, err := toDocument(s, now)
		if err != nil {
			logger.Error("Bad seed automation", zap.String("name", s.Name), zap.Error(err))
			continue
		}
		def, err := doc.Definition()
		if err != nil {
			logger.Error("Bad seed automation", zap.String("name", s.Name), zap.Error(err))
			continue
		}
		if rule := automation.ParseRule(def); rule.Invalid != nil {
			logger.Warn("Seed automation is invalid and will only be logged as failed",
				zap.String("name", s.Name), zap.Error(rule.Invalid))
		}
		if err := rules.Create(ctx, doc); err != nil {
			return err
		}
		logger.Info("Automation created", zap.String("name", s.Name), zap.String("id", doc.ID.Hex()))
	}
	return nil
}

// Seed loads sample contacts and automations, then stops the app.
func Seed(
	lc fx.Lifecycle,
	mongodb *database.MongodbDB,
	rules automation.RuleRepository,
	logs automation.LogRepository,
	logger *zap.Logger,
	shutdowner fx.Shutdowner,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				code := 0
				defer func() {
					if err := shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
						logger.Error("Failed to shutdown", zap.Error(err))
					}
				}()

				ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
				defer cancel()

				logger.Info("Starting database seeding")
				if err := logs.EnsureIndexes(ctx); err != nil {
					logger.Error("Failed to ensure indexes", zap.Error(err))
					code = 1
					return
				}
				if err := seedContacts(ctx, mongodb, logger); err != nil {
					logger.Error("Failed to seed contacts", zap.Error(err))
					code = 1
					return
				}
				if err := seedAutomations(ctx, rules, logger); err != nil {
					logger.Error("Failed to seed automations", zap.Error(err))
					code = 1
					return
				}
				logger.Info("Seeding completed")
			}()
			return nil
		},
	})
}

func main() {
	fx.New(
		fx.Provide(
			config.LoadConfig,
			logger.NewLogger,
			database.NewDatabase,
			automation.NewRuleRepository,
			automation.NewLogRepository,
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(Seed),
	).Run()
}
