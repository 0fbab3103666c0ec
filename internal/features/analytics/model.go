package analytics

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"go-automation/internal/features/automation"
)

const dayLayout = "2006-01-02"

// MetricSnapshot is the aggregated state of contacts and automations for one
// calendar day. It is recomputed on every analytics run, so the last run of
// the day wins.
type MetricSnapshot struct {
	ID                   primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	Day                  string                 `json:"day" bson:"day"`
	ContactsTotal        int64                  `json:"contacts_total" bson:"contacts_total"`
	ContactsActive       int64                  `json:"contacts_active" bson:"contacts_active"`
	AutomationsTotal     int64                  `json:"automations_total" bson:"automations_total"`
	AutomationsActive    int64                  `json:"automations_active" bson:"automations_active"`
	ExecutionsToday      int64                  `json:"executions_today" bson:"executions_today"`
	ExecutionsThisWeek   int64                  `json:"executions_this_week" bson:"executions_this_week"`
	ExecutionsThisMonth  int64                  `json:"executions_this_month" bson:"executions_this_month"`
	SuccessRate          float64                `json:"success_rate" bson:"success_rate"`
	AverageExecutionTime float64                `json:"average_execution_time" bson:"average_execution_time"`
	PerRule              []automation.RuleStats `json:"per_rule,omitempty" bson:"per_rule,omitempty"`
	ComputedAt           time.Time              `json:"computed_at" bson:"computed_at"`
}

// PruneResult counts what one maintenance run removed.
type PruneResult struct {
	LogsDeleted     int64 `json:"logs_deleted"`
	DeferredDeleted int64 `json:"deferred_deleted"`
	DeferredStale   int64 `json:"deferred_stale"`
	SnapshotsPruned int64 `json:"snapshots_pruned"`
}

func (r PruneResult) Total() int64 {
	return r.LogsDeleted + r.DeferredDeleted + r.DeferredStale + r.SnapshotsPruned
}
