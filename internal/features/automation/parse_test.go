package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRule_Valid(t *testing.T) {
	rule := ruleFixture{
		Name:       "Price reply",
		Trigger:    TriggerKeyword,
		Conditions: `{"keywords":["price"," ",""],"case_sensitive":true}`,
		Action:     ActionSendMessage,
		Payload:    `{"message_template":"Our price list: {name}","delay_seconds":30}`,
	}.parse(t)

	require.NoError(t, rule.Invalid)
	conds, ok := rule.Conditions.(KeywordConditions)
	require.True(t, ok)
	assert.Equal(t, []string{"price"}, conds.Keywords)
	assert.True(t, conds.CaseSensitive)
	assert.Equal(t, MatchContains, conds.MatchMode)

	require.Len(t, rule.Actions, 1)
	send, ok := rule.Actions[0].(SendMessageAction)
	require.True(t, ok)
	assert.Equal(t, "Our price list: {name}", send.Template())
	assert.Equal(t, 30, send.DelaySeconds)
}

func TestParseRule_ActionList(t *testing.T) {
	rule := ruleFixture{
		Trigger: TriggerNewContact,
		Action:  ActionSendMessage,
		Payload: `[
			{"message":"Welcome {first_name}!"},
			{"action_type":"update_contact","update_fields":{"last_contacted":"now","message_count":"increment"},"add_tags":["welcomed"]},
			{"action_type":"log_activity","log_message":"Welcomed {name}"}
		]`,
	}.parse(t)

	require.NoError(t, rule.Invalid)
	require.Len(t, rule.Actions, 3)
	assert.Equal(t, ActionSendMessage, rule.Actions[0].Type())
	assert.Equal(t, ActionUpdateContact, rule.Actions[1].Type())
	assert.Equal(t, ActionLogActivity, rule.Actions[2].Type())
}

func TestParseRule_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		fixture ruleFixture
		want    string
	}{
		{
			name:    "send_message without text",
			fixture: ruleFixture{Trigger: TriggerNewContact, Action: ActionSendMessage, Payload: `{"delay_seconds":5}`},
			want:    "send_message requires",
		},
		{
			name:    "negative delay",
			fixture: ruleFixture{Trigger: TriggerNewContact, Action: ActionSendMessage, Payload: `{"message":"hi","delay_seconds":-1}`},
			want:    "delay_seconds",
		},
		{
			name:    "missing payload",
			fixture: ruleFixture{Trigger: TriggerNewContact, Action: ActionLogActivity},
			want:    "log_message",
		},
		{
			name:    "update of unknown field",
			fixture: ruleFixture{Trigger: TriggerNewContact, Action: ActionUpdateContact, Payload: `{"update_fields":{"phone":"123"}}`},
			want:    `"phone" cannot be updated`,
		},
		{
			name:    "counter with bad value",
			fixture: ruleFixture{Trigger: TriggerNewContact, Action: ActionUpdateContact, Payload: `{"update_fields":{"message_count":"lots"}}`},
			want:    "message_count",
		},
		{
			name:    "keyword rule without keywords",
			fixture: ruleFixture{Trigger: TriggerKeyword, Conditions: `{"keywords":[]}`, Action: ActionSendMessage, Payload: `{"message":"x"}`},
			want:    "at least one keyword",
		},
		{
			name:    "unknown match mode",
			fixture: ruleFixture{Trigger: TriggerKeyword, Conditions: `{"keywords":["a"],"match_mode":"regex"}`, Action: ActionSendMessage, Payload: `{"message":"x"}`},
			want:    "match_mode",
		},
		{
			name:    "scheduled without schedule",
			fixture: ruleFixture{Trigger: TriggerScheduled, Action: ActionSendMessage, Payload: `{"message":"x"}`},
			want:    "schedule_config is required",
		},
		{
			name:    "time_based without criteria",
			fixture: ruleFixture{Trigger: TriggerTimeBased, Action: ActionSendMessage, Payload: `{"message":"x"}`, Schedule: `{"type":"daily","time":"09:00"}`},
			want:    "time_criteria",
		},
		{
			name:    "unknown trigger",
			fixture: ruleFixture{Trigger: "on_full_moon", Action: ActionSendMessage, Payload: `{"message":"x"}`},
			want:    "unknown trigger_type",
		},
		{
			name:    "unknown action",
			fixture: ruleFixture{Trigger: TriggerNewContact, Action: "launch_rocket", Payload: `{}`},
			want:    "unknown action_type",
		},
		{
			name:    "reserved action without target",
			fixture: ruleFixture{Trigger: TriggerNewContact, Action: ActionTriggerAutomation, Payload: `{}`},
			want:    "target_automation_id",
		},
		{
			name:    "bad step in list",
			fixture: ruleFixture{Trigger: TriggerNewContact, Action: ActionSendMessage, Payload: `[{"message":"ok"},{"action_type":"log_activity"}]`},
			want:    "action 1",
		},
		{
			name:    "expression does not compile",
			fixture: ruleFixture{Trigger: TriggerNewContact, Conditions: `{"expression":"contact.name =="}`, Action: ActionSendMessage, Payload: `{"message":"x"}`},
			want:    "expression",
		},
		{
			name:    "malformed conditions",
			fixture: ruleFixture{Trigger: TriggerKeyword, Conditions: `{"keywords":"price"}`, Action: ActionSendMessage, Payload: `{"message":"x"}`},
			want:    "trigger_conditions",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := tt.fixture.parse(t)
			require.Error(t, rule.Invalid)
			assert.ErrorIs(t, rule.Invalid, ErrInvalidDefinition)
			assert.Contains(t, rule.Invalid.Error(), tt.want)
		})
	}
}

func TestParseRule_NestedSchedule(t *testing.T) {
	rule := ruleFixture{
		Trigger:    TriggerScheduled,
		Conditions: `{"schedule":{"type":"daily","time":"09:00","timezone":"UTC"}}`,
		Action:     ActionSendMessage,
		Payload:    `{"message":"Good morning"}`,
	}.parse(t)

	require.NoError(t, rule.Invalid)
	require.NotNil(t, rule.Schedule)
	assert.Equal(t, ScheduleDaily, rule.Schedule.Config.Type)
}

func TestParseRule_TimeBasedWindow(t *testing.T) {
	rule := ruleFixture{
		Trigger:    TriggerTimeBased,
		Conditions: `{"time_criteria":{"days_of_week":[1,2,3,4,5],"time_range":"09:00-17:00"}}`,
		Schedule:   `{"type":"interval","interval_minutes":30}`,
		Action:     ActionSendMessage,
		Payload:    `{"message":"x"}`,
		CreatedAt:  date(2024, 1, 1, 0, 0),
	}.parse(t)

	require.NoError(t, rule.Invalid)
	tc := rule.Conditions.(TimeBasedConditions).TimeCriteria
	require.NotNil(t, tc.window)
	assert.True(t, tc.window.contains(date(2024, 1, 1, 12, 0)))
	assert.False(t, tc.window.contains(date(2024, 1, 1, 18, 0)))
}

func TestBuildContactUpdate(t *testing.T) {
	now := time.Date(2024, 5, 15, 9, 0, 0, 0, time.UTC)
	update, err := buildContactUpdate(UpdateContactAction{
		UpdateFields: map[string]interface{}{
			"last_contacted": "now",
			"message_count":  "increment",
			"is_active":      false,
			"notes":          "followed up",
		},
		AddTags: []string{"vip"},
	}, now)

	require.NoError(t, err)
	assert.Equal(t, now, update.Set["last_contacted"])
	assert.Equal(t, false, update.Set["is_active"])
	assert.Equal(t, "followed up", update.Set["notes"])
	assert.Equal(t, 1, update.Inc["message_count"])
	assert.Equal(t, []string{"vip"}, update.AddTags)
}
