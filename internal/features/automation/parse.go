package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go-automation/internal/features/contact"
)

// ParseRule turns a stored definition into a typed Rule. It never fails:
// a definition that does not validate yields a Rule with Invalid set.
func ParseRule(def RuleDefinition) *Rule {
	rule := &Rule{
		ID:          def.ID,
		Name:        def.Name,
		Description: def.Description,
		TriggerType: TriggerType(def.TriggerType),
		ActionType:  ActionType(def.ActionType),
		IsActive:    def.IsActive,
		Priority:    def.Priority,
		CreatedBy:   def.CreatedBy,
		CreatedAt:   def.CreatedAt,
		UpdatedAt:   def.UpdatedAt,
	}
	if err := rule.parse(def); err != nil {
		rule.Invalid = err
	}
	return rule
}

type conditionEnvelope struct {
	Expression string          `json:"expression"`
	Schedule   json.RawMessage `json:"schedule"`
}

func (r *Rule) parse(def RuleDefinition) error {
	raw := orEmptyObject(def.TriggerConditions)

	var env conditionEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return invalidf("trigger_conditions: %v", err)
	}

	conds, err := parseConditions(r.TriggerType, raw)
	if err != nil {
		return err
	}
	r.Conditions = conds

	if r.TriggerType == TriggerScheduled || r.TriggerType == TriggerTimeBased {
		schedRaw := def.ScheduleConfig
		if isEmptyJSON(schedRaw) {
			schedRaw = env.Schedule
		}
		sched, err := parseSchedule(schedRaw, r.CreatedAt)
		if err != nil {
			return err
		}
		r.Schedule = sched
	}

	if strings.TrimSpace(env.Expression) != "" {
		expr, err := CompileExpression(env.Expression)
		if err != nil {
			return invalidf("expression: %v", err)
		}
		r.Expression = expr
	}

	actions, err := parseActions(r.ActionType, def.ActionPayload)
	if err != nil {
		return err
	}
	r.Actions = actions
	return nil
}

func parseConditions(trigger TriggerType, raw json.RawMessage) (Conditions, error) {
	switch trigger {
	case TriggerNewContact:
		var c NewContactConditions
		return c, decodeConditions(raw, &c)
	case TriggerBirthday:
		var c BirthdayConditions
		return c, decodeConditions(raw, &c)
	case TriggerScheduled:
		var c ScheduledConditions
		return c, decodeConditions(raw, &c)
	case TriggerManual:
		return ManualConditions{}, nil
	case TriggerMessageReceived:
		var c MessageConditions
		if err := decodeConditions(raw, &c); err != nil {
			return nil, err
		}
		if c.Hours < 0 {
			return nil, invalidf("hours must not be negative")
		}
		c.Keywords = compactKeywords(c.Keywords)
		if err := validateSender(c.SenderCriteria); err != nil {
			return nil, err
		}
		return c, nil
	case TriggerKeyword:
		var c KeywordConditions
		if err := decodeConditions(raw, &c); err != nil {
			return nil, err
		}
		c.Keywords = compactKeywords(c.Keywords)
		if len(c.Keywords) == 0 {
			return nil, invalidf("keyword trigger requires at least one keyword")
		}
		switch c.MatchMode {
		case "":
			c.MatchMode = MatchContains
		case MatchContains, MatchExact:
		default:
			return nil, invalidf("unknown match_mode %q", c.MatchMode)
		}
		if err := validateSender(c.SenderCriteria); err != nil {
			return nil, err
		}
		return c, nil
	case TriggerTimeBased:
		var c TimeBasedConditions
		if err := decodeConditions(raw, &c); err != nil {
			return nil, err
		}
		tc := &c.TimeCriteria
		if tc.DaysSinceLastContact < 0 || tc.DaysSinceCreated < 0 {
			return nil, invalidf("time_criteria values must not be negative")
		}
		for _, d := range tc.DaysOfWeek {
			if d < 1 || d > 7 {
				return nil, invalidf("days_of_week value %d out of range 1-7", d)
			}
		}
		if tc.TimeRange != "" {
			w, err := parseClockRange(tc.TimeRange)
			if err != nil {
				return nil, err
			}
			tc.window = w
		}
		if tc.DaysSinceLastContact == 0 && tc.DaysSinceCreated == 0 && len(tc.DaysOfWeek) == 0 && tc.window == nil {
			return nil, invalidf("time_based trigger requires time_criteria")
		}
		return c, nil
	default:
		return nil, invalidf("unknown trigger_type %q", trigger)
	}
}

func decodeConditions(raw json.RawMessage, v interface{}) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidf("trigger_conditions: %v", err)
	}
	return nil
}

func validateSender(sc *SenderCriteria) error {
	if sc != nil && sc.MinMessages < 0 {
		return invalidf("sender_criteria.min_messages must not be negative")
	}
	return nil
}

func compactKeywords(in []string) []string {
	out := in[:0]
	for _, k := range in {
		if strings.TrimSpace(k) != "" {
			out = append(out, k)
		}
	}
	return out
}

type actionEnvelope struct {
	ActionType ActionType `json:"action_type"`
}

// parseActions accepts a single payload object or an array of steps. A step
// without its own action_type inherits the rule's.
func parseActions(ruleType ActionType, raw json.RawMessage) ([]Action, error) {
	raw = bytes.TrimSpace(raw)
	if isEmptyJSON(raw) {
		raw = json.RawMessage("{}")
	}

	var steps []json.RawMessage
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &steps); err != nil {
			return nil, invalidf("action_payload: %v", err)
		}
		if len(steps) == 0 {
			return nil, invalidf("action_payload has no actions")
		}
	} else {
		steps = []json.RawMessage{raw}
	}

	actions := make([]Action, 0, len(steps))
	for i, step := range steps {
		var env actionEnvelope
		if err := json.Unmarshal(step, &env); err != nil {
			return nil, invalidf("action %d: %v", i, err)
		}
		typ := env.ActionType
		if typ == "" {
			typ = ruleType
		}
		action, err := parseAction(typ, step)
		if err != nil {
			if len(steps) > 1 {
				return nil, fmt.Errorf("action %d: %w", i, err)
			}
			return nil, err
		}
		actions = append(actions, action)
	}
	return actions, nil
}

func parseAction(typ ActionType, raw json.RawMessage) (Action, error) {
	decode := func(v interface{}) error {
		if err := json.Unmarshal(raw, v); err != nil {
			return invalidf("%s payload: %v", typ, err)
		}
		return nil
	}

	switch typ {
	case ActionSendMessage:
		var a SendMessageAction
		if err := decode(&a); err != nil {
			return nil, err
		}
		if strings.TrimSpace(a.Template()) == "" {
			return nil, invalidf("send_message requires message_template or message")
		}
		if a.DelaySeconds < 0 {
			return nil, invalidf("delay_seconds must not be negative")
		}
		return a, nil
	case ActionUpdateContact:
		var a UpdateContactAction
		if err := decode(&a); err != nil {
			return nil, err
		}
		if len(a.UpdateFields) == 0 && len(a.AddTags) == 0 {
			return nil, invalidf("update_contact requires update_fields or add_tags")
		}
		if _, err := buildContactUpdate(a, time.Time{}); err != nil {
			return nil, err
		}
		return a, nil
	case ActionLogActivity:
		var a LogActivityAction
		if err := decode(&a); err != nil {
			return nil, err
		}
		if strings.TrimSpace(a.LogMessage) == "" {
			return nil, invalidf("log_activity requires log_message")
		}
		return a, nil
	case ActionAddToGroup:
		var a AddToGroupAction
		if err := decode(&a); err != nil {
			return nil, err
		}
		if a.GroupID == nil || a.GroupID == "" {
			return nil, invalidf("add_to_group requires group_id")
		}
		return a, nil
	case ActionTriggerAutomation:
		var a TriggerAutomationAction
		if err := decode(&a); err != nil {
			return nil, err
		}
		if a.TargetAutomationID == nil || a.TargetAutomationID == "" {
			return nil, invalidf("trigger_automation requires target_automation_id")
		}
		return a, nil
	case ActionSendEmail:
		var a SendEmailAction
		if err := decode(&a); err != nil {
			return nil, err
		}
		if a.EmailTemplate == "" && a.EmailContent == "" {
			return nil, invalidf("send_email requires email_template or email_content")
		}
		return a, nil
	default:
		return nil, invalidf("unknown action_type %q", typ)
	}
}

const (
	directiveNow       = "now"
	directiveIncrement = "increment"
)

// buildContactUpdate converts update_fields into a contact mutation. The
// value "now" stamps a time field; "increment" bumps a counter by one.
func buildContactUpdate(a UpdateContactAction, now time.Time) (contact.Update, error) {
	update := contact.Update{
		Set:     map[string]interface{}{},
		Inc:     map[string]int{},
		AddTags: a.AddTags,
	}
	for field, value := range a.UpdateFields {
		kind, ok := contact.UpdatableFields[field]
		if !ok {
			return update, invalidf("field %q cannot be updated", field)
		}
		switch kind {
		case contact.FieldTime:
			s, _ := value.(string)
			if s == directiveNow {
				update.Set[field] = now
				continue
			}
			t, err := time.Parse(time.RFC3339, s)
			if err != nil {
				return update, invalidf("field %q expects \"now\" or an RFC3339 time", field)
			}
			update.Set[field] = t
		case contact.FieldCounter:
			if s, ok := value.(string); ok && s == directiveIncrement {
				update.Inc[field]++
				continue
			}
			n, ok := value.(float64)
			if !ok || n < 0 || n != float64(int(n)) {
				return update, invalidf("field %q expects \"increment\" or a non-negative integer", field)
			}
			update.Set[field] = int(n)
		case contact.FieldBool:
			b, ok := value.(bool)
			if !ok {
				return update, invalidf("field %q expects a boolean", field)
			}
			update.Set[field] = b
		default:
			s, ok := value.(string)
			if !ok {
				return update, invalidf("field %q expects a string", field)
			}
			update.Set[field] = s
		}
	}
	return update, nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func orEmptyObject(raw json.RawMessage) json.RawMessage {
	if isEmptyJSON(raw) {
		return json.RawMessage("{}")
	}
	return raw
}
