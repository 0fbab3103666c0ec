package scheduler

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	JobTick      = "automation_tick"
	JobDeferred  = "deferred_dispatch"
	JobAnalytics = "analytics"
	JobPrune     = "maintenance"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "failed"
)

// JobRun is a single execution of a scheduler job.
type JobRun struct {
	ID        primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	Job       string             `json:"job" bson:"job"`
	Trigger   string             `json:"trigger" bson:"trigger"`
	StartTime time.Time          `json:"start_time" bson:"start_time"`
	EndTime   *time.Time         `json:"end_time,omitempty" bson:"end_time,omitempty"`
	Status    string             `json:"status" bson:"status"`
	Processed int64              `json:"processed" bson:"processed"`
	Error     string             `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
}

// JobInfo describes a registered job and its next firing.
type JobInfo struct {
	Name     string     `json:"name"`
	Schedule string     `json:"schedule"`
	Enabled  bool       `json:"enabled"`
	Running  bool       `json:"running"`
	NextRun  *time.Time `json:"next_run,omitempty"`
	LastRun  *time.Time `json:"last_run,omitempty"`
}
