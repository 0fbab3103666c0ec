package automation

import (
	"encoding/json"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type TriggerType string

const (
	TriggerNewContact      TriggerType = "new_contact"
	TriggerBirthday        TriggerType = "birthday"
	TriggerMessageReceived TriggerType = "message_received"
	TriggerScheduled       TriggerType = "scheduled"
	TriggerKeyword         TriggerType = "keyword"
	TriggerTimeBased       TriggerType = "time_based"
	TriggerManual          TriggerType = "manual"
)

type ActionType string

const (
	ActionSendMessage       ActionType = "send_message"
	ActionUpdateContact     ActionType = "update_contact"
	ActionLogActivity       ActionType = "log_activity"
	ActionAddToGroup        ActionType = "add_to_group"
	ActionTriggerAutomation ActionType = "trigger_automation"
	ActionSendEmail         ActionType = "send_email"
)

type ExecutionStatus string

const (
	StatusSuccess ExecutionStatus = "success"
	StatusFailed  ExecutionStatus = "failed"
	StatusPartial ExecutionStatus = "partial"
	StatusSkipped ExecutionStatus = "skipped"
)

const (
	ExecutorSystem    = "system"
	ExecutorScheduler = "scheduler"
	executorManual    = "manual"
)

type MatchMode string

const (
	MatchContains MatchMode = "contains"
	MatchExact    MatchMode = "exact"
)

type SenderCriteria struct {
	MinMessages     int      `json:"min_messages,omitempty"`
	ExistingContact *bool    `json:"existing_contact,omitempty"`
	Tags            []string `json:"tags,omitempty"`
}

type TimeCriteria struct {
	DaysSinceLastContact int    `json:"days_since_last_contact,omitempty"`
	DaysSinceCreated     int    `json:"days_since_created,omitempty"`
	DaysOfWeek           []int  `json:"days_of_week,omitempty"`
	TimeRange            string `json:"time_range,omitempty"`

	window *clockRange
}

// Conditions is the parsed trigger_conditions document. The concrete type is
// selected by the rule's trigger_type.
type Conditions interface {
	Trigger() TriggerType
}

type NewContactConditions struct {
	Tags []string `json:"tags,omitempty"`
}

type BirthdayConditions struct {
	Tags []string `json:"tags,omitempty"`
}

type MessageConditions struct {
	Keywords       []string        `json:"keywords,omitempty"`
	Hours          float64         `json:"hours,omitempty"`
	SenderCriteria *SenderCriteria `json:"sender_criteria,omitempty"`
}

type KeywordConditions struct {
	Keywords       []string        `json:"keywords"`
	CaseSensitive  bool            `json:"case_sensitive"`
	MatchMode      MatchMode       `json:"match_mode,omitempty"`
	SenderCriteria *SenderCriteria `json:"sender_criteria,omitempty"`
}

type ScheduledConditions struct {
	Tags []string `json:"tags,omitempty"`
}

type TimeBasedConditions struct {
	Tags         []string     `json:"tags,omitempty"`
	TimeCriteria TimeCriteria `json:"time_criteria"`
}

type ManualConditions struct{}

func (NewContactConditions) Trigger() TriggerType { return TriggerNewContact }
func (BirthdayConditions) Trigger() TriggerType   { return TriggerBirthday }
func (MessageConditions) Trigger() TriggerType    { return TriggerMessageReceived }
func (KeywordConditions) Trigger() TriggerType    { return TriggerKeyword }
func (ScheduledConditions) Trigger() TriggerType  { return TriggerScheduled }
func (TimeBasedConditions) Trigger() TriggerType  { return TriggerTimeBased }
func (ManualConditions) Trigger() TriggerType     { return TriggerManual }

// Action is one parsed entry of action_payload.
type Action interface {
	Type() ActionType
}

type SendMessageAction struct {
	MessageTemplate string `json:"message_template,omitempty"`
	Message         string `json:"message,omitempty"`
	DelaySeconds    int    `json:"delay_seconds,omitempty"`
}

type UpdateContactAction struct {
	UpdateFields map[string]interface{} `json:"update_fields,omitempty"`
	AddTags      []string               `json:"add_tags,omitempty"`
}

type LogActivityAction struct {
	LogMessage   string `json:"log_message"`
	ActivityType string `json:"activity_type,omitempty"`
}

type AddToGroupAction struct {
	GroupID interface{} `json:"group_id"`
}

type TriggerAutomationAction struct {
	TargetAutomationID interface{} `json:"target_automation_id"`
}

type SendEmailAction struct {
	EmailTemplate string `json:"email_template,omitempty"`
	EmailContent  string `json:"email_content,omitempty"`
}

func (SendMessageAction) Type() ActionType       { return ActionSendMessage }
func (UpdateContactAction) Type() ActionType     { return ActionUpdateContact }
func (LogActivityAction) Type() ActionType       { return ActionLogActivity }
func (AddToGroupAction) Type() ActionType        { return ActionAddToGroup }
func (TriggerAutomationAction) Type() ActionType { return ActionTriggerAutomation }
func (SendEmailAction) Type() ActionType         { return ActionSendEmail }

// Template returns the text to render, preferring message_template.
func (a SendMessageAction) Template() string {
	if a.MessageTemplate != "" {
		return a.MessageTemplate
	}
	return a.Message
}

type ScheduleConfig struct {
	Type            string `json:"type"`
	RunAt           string `json:"run_at,omitempty"`
	Time            string `json:"time,omitempty"`
	Days            []int  `json:"days,omitempty"`
	Day             int    `json:"day,omitempty"`
	IntervalMinutes int    `json:"interval_minutes,omitempty"`
	Cron            string `json:"cron,omitempty"`
	Timezone        string `json:"timezone,omitempty"`
}

// RuleDefinition is a rule as stored, before parsing. The three documents
// are kept as raw JSON.
type RuleDefinition struct {
	ID                primitive.ObjectID
	Name              string
	Description       string
	TriggerType       string
	TriggerConditions json.RawMessage
	ActionType        string
	ActionPayload     json.RawMessage
	ScheduleConfig    json.RawMessage
	IsActive          bool
	Priority          int
	CreatedBy         primitive.ObjectID
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Rule is a parsed, validated automation rule. A rule that failed
// validation carries the reason in Invalid and is never dispatched.
type Rule struct {
	ID          primitive.ObjectID
	Name        string
	Description string
	TriggerType TriggerType
	ActionType  ActionType
	Conditions  Conditions
	Actions     []Action
	Schedule    *Schedule
	Expression  *Expression
	IsActive    bool
	Priority    int
	CreatedBy   primitive.ObjectID
	CreatedAt   time.Time
	UpdatedAt   time.Time

	Invalid error
}

type EventKind string

const (
	EventNewContact      EventKind = "new_contact"
	EventMessageReceived EventKind = "message_received"
	EventTick            EventKind = "tick"
)

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Event is a transient trigger event, consumed once by the Coordinator.
type Event struct {
	ID         string
	Kind       EventKind
	ContactID  primitive.ObjectID
	Text       string
	Direction  string
	MessageID  string
	OccurredAt time.Time
}

// Bindings are the variables a matched rule exposes to action templates.
type Bindings map[string]interface{}

type MatchResult struct {
	Matched   bool
	Bindings  Bindings
	PeriodKey string
	Err       error
}

type ActionResult struct {
	OK     bool
	Detail map[string]interface{}
	Err    error
}

// LogEntry is one append-only automation log row.
type LogEntry struct {
	ID               primitive.ObjectID     `json:"id" bson:"_id,omitempty"`
	AutomationID     primitive.ObjectID     `json:"automation_id" bson:"automation_id"`
	AutomationName   string                 `json:"automation_name" bson:"automation_name"`
	ContactID        *primitive.ObjectID    `json:"contact_id,omitempty" bson:"contact_id,omitempty"`
	EventID          string                 `json:"event_id,omitempty" bson:"event_id,omitempty"`
	TriggerType      TriggerType            `json:"trigger_type" bson:"trigger_type"`
	Status           ExecutionStatus        `json:"execution_status" bson:"execution_status"`
	ExecutionTime    float64                `json:"execution_time" bson:"execution_time"`
	ContactsAffected int                    `json:"contacts_affected" bson:"contacts_affected"`
	ErrorMessage     string                 `json:"error_message,omitempty" bson:"error_message,omitempty"`
	ExecutionDetails map[string]interface{} `json:"execution_details,omitempty" bson:"execution_details,omitempty"`
	ExecutedAt       time.Time              `json:"executed_at" bson:"executed_at"`
	ExecutedBy       string                 `json:"executed_by" bson:"executed_by"`
}

type ClaimStatus string

const (
	ClaimInFlight ClaimStatus = "claimed"
	ClaimDone     ClaimStatus = "done"
)

// Claim marks (automation, contact, period) as taken by one pass. It stays
// in flight until that pass has written its log entry. A claim without a
// status counts as done.
type Claim struct {
	AutomationID primitive.ObjectID `bson:"automation_id"`
	ContactID    primitive.ObjectID `bson:"contact_id"`
	PeriodKey    string             `bson:"period_key"`
	EventID      string             `bson:"event_id,omitempty"`
	Status       ClaimStatus        `bson:"status,omitempty"`
	ClaimedAt    time.Time          `bson:"claimed_at"`
	CompletedAt  *time.Time         `bson:"completed_at,omitempty"`
}

// InFlight reports whether the claiming pass may still be running at now.
// Claims older than staleAfter are treated as finished so a crashed pass
// does not turn every later tick into a skipped entry.
func (c *Claim) InFlight(now time.Time, staleAfter time.Duration) bool {
	return c.Status == ClaimInFlight && now.Sub(c.ClaimedAt) < staleAfter
}

type DeferredStatus string

const (
	DeferredPending DeferredStatus = "pending"
	DeferredRunning DeferredStatus = "running"
	DeferredDone    DeferredStatus = "done"
	DeferredFailed  DeferredStatus = "failed"
	DeferredSkipped DeferredStatus = "skipped"
)

// DeferredDispatch is a send_message whose delivery waits for DueAt.
type DeferredDispatch struct {
	ID           primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	AutomationID primitive.ObjectID `json:"automation_id" bson:"automation_id"`
	ContactID    primitive.ObjectID `json:"contact_id" bson:"contact_id"`
	EventID      string             `json:"event_id,omitempty" bson:"event_id,omitempty"`
	Text         string             `json:"text" bson:"text"`
	DueAt        time.Time          `json:"due_at" bson:"due_at"`
	Status       DeferredStatus     `json:"status" bson:"status"`
	Error        string             `json:"error,omitempty" bson:"error,omitempty"`
	CreatedAt    time.Time          `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at" bson:"updated_at"`
}

type PassResult struct {
	EventID       string
	RulesSelected int
	Entries       []LogEntry
}

type RuleStats struct {
	AutomationID primitive.ObjectID `json:"automation_id" bson:"_id"`
	Success      int64              `json:"success" bson:"success"`
	Failed       int64              `json:"failed" bson:"failed"`
	Partial      int64              `json:"partial" bson:"partial"`
	Skipped      int64              `json:"skipped" bson:"skipped"`
}

type Stats struct {
	TotalAutomations     int64       `json:"total_automations"`
	ActiveAutomations    int64       `json:"active_automations"`
	InactiveAutomations  int64       `json:"inactive_automations"`
	ExecutionsToday      int64       `json:"executions_today"`
	ExecutionsThisWeek   int64       `json:"executions_this_week"`
	ExecutionsThisMonth  int64       `json:"executions_this_month"`
	SuccessRate          float64     `json:"success_rate"`
	AverageExecutionTime float64     `json:"average_execution_time"`
	PerRule              []RuleStats `json:"per_rule"`
}

type LogFilter struct {
	AutomationID *primitive.ObjectID
	ContactID    *primitive.ObjectID
	Status       ExecutionStatus
	Since        time.Time
	Limit        int64
}
