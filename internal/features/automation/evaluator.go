package automation

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"go-automation/internal/config"
	"go-automation/internal/features/contact"
)

// Evaluator decides whether a rule matches an event for one contact. It
// performs no I/O.
type Evaluator struct {
	location *time.Location
	catchup  time.Duration
	now      func() time.Time
}

func NewEvaluator(cfg *config.Config, logger *zap.Logger) *Evaluator {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		logger.Warn("Unknown timezone, falling back to UTC", zap.String("timezone", cfg.Timezone), zap.Error(err))
		loc = time.UTC
	}
	return &Evaluator{
		location: loc,
		catchup:  time.Duration(cfg.ScheduleCatchupMinutes) * time.Minute,
		now:      time.Now,
	}
}

// TriggerTypesFor lists the trigger types an event kind can fire.
func TriggerTypesFor(kind EventKind) []TriggerType {
	switch kind {
	case EventNewContact:
		return []TriggerType{TriggerNewContact}
	case EventMessageReceived:
		return []TriggerType{TriggerMessageReceived, TriggerKeyword}
	case EventTick:
		return []TriggerType{TriggerBirthday, TriggerScheduled, TriggerTimeBased}
	default:
		return nil
	}
}

// Today is the calendar day of t in the engine timezone.
func (e *Evaluator) Today(t time.Time) time.Time {
	return t.In(e.location)
}

// DueSlot returns the schedule slot a scheduled or time_based rule should
// fire for at tick time t.
func (e *Evaluator) DueSlot(rule *Rule, t time.Time) (time.Time, bool) {
	if rule.Schedule == nil {
		return time.Time{}, false
	}
	return rule.Schedule.LastSlot(t, rule.CreatedAt, e.catchup)
}

func (e *Evaluator) Evaluate(ctx context.Context, rule *Rule, ev Event, c *contact.Contact) MatchResult {
	if rule.Invalid != nil {
		return MatchResult{Err: rule.Invalid}
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = e.now()
	}
	local := at.In(e.location)
	b := contactBindings(c, local)

	var res MatchResult
	switch conds := rule.Conditions.(type) {
	case NewContactConditions:
		if ev.Kind != EventNewContact || c == nil || !c.HasTags(conds.Tags) {
			return res
		}
	case BirthdayConditions:
		if ev.Kind != EventTick || c == nil || !c.IsActive || !c.BirthdayOn(local) || !c.HasTags(conds.Tags) {
			return res
		}
		if !c.HasUnknownBirthYear() {
			b["age"] = local.Year() - c.Birthday.Year()
		}
		res.PeriodKey = "birthday:" + local.Format("2006-01-02")
	case MessageConditions:
		if !isInboundMessage(ev) || c == nil {
			return res
		}
		if len(conds.Keywords) > 0 {
			kw, ok := matchKeyword(ev.Text, conds.Keywords, false, MatchContains)
			if !ok {
				return res
			}
			b["keyword"] = kw
		}
		if conds.Hours > 0 && e.now().Sub(at) > time.Duration(conds.Hours*float64(time.Hour)) {
			return res
		}
		if !senderMatches(conds.SenderCriteria, c, at) {
			return res
		}
		b["message"] = ev.Text
		res.PeriodKey = messagePeriod(ev)
	case KeywordConditions:
		if !isInboundMessage(ev) || c == nil {
			return res
		}
		kw, ok := matchKeyword(ev.Text, conds.Keywords, conds.CaseSensitive, conds.MatchMode)
		if !ok || !senderMatches(conds.SenderCriteria, c, at) {
			return res
		}
		b["keyword"] = kw
		b["message"] = ev.Text
		res.PeriodKey = messagePeriod(ev)
	case ScheduledConditions:
		if ev.Kind != EventTick || c == nil || !c.IsActive || !c.HasTags(conds.Tags) {
			return res
		}
		slot, ok := e.DueSlot(rule, at)
		if !ok {
			return res
		}
		res.PeriodKey = schedulePeriod(slot)
	case TimeBasedConditions:
		if ev.Kind != EventTick || c == nil || !c.IsActive || !c.HasTags(conds.Tags) {
			return res
		}
		slot, ok := e.DueSlot(rule, at)
		if !ok || !timeCriteriaMet(conds.TimeCriteria, c, slot.In(rule.Schedule.Location())) {
			return res
		}
		res.PeriodKey = schedulePeriod(slot)
	default:
		return res
	}

	if rule.Expression != nil {
		ok, err := rule.Expression.Eval(ctx, c, b, at)
		if err != nil {
			return MatchResult{Err: invalidf("expression: %v", err)}
		}
		if !ok {
			return MatchResult{}
		}
	}

	res.Matched = true
	res.Bindings = b
	return res
}

func isInboundMessage(ev Event) bool {
	return ev.Kind == EventMessageReceived && (ev.Direction == "" || ev.Direction == DirectionInbound)
}

// matchKeyword returns the first keyword, in rule order, found in text.
func matchKeyword(text string, keywords []string, caseSensitive bool, mode MatchMode) (string, bool) {
	subject := strings.TrimSpace(text)
	if !caseSensitive {
		subject = strings.ToLower(subject)
	}
	for _, kw := range keywords {
		needle := kw
		if !caseSensitive {
			needle = strings.ToLower(needle)
		}
		if mode == MatchExact {
			if subject == strings.TrimSpace(needle) {
				return kw, true
			}
			continue
		}
		if strings.Contains(subject, needle) {
			return kw, true
		}
	}
	return "", false
}

// senderMatches applies sender_criteria. existing_contact means the contact
// was known before the message arrived.
func senderMatches(sc *SenderCriteria, c *contact.Contact, at time.Time) bool {
	if sc == nil {
		return true
	}
	if c.MessageCount < sc.MinMessages {
		return false
	}
	if sc.ExistingContact != nil && *sc.ExistingContact != c.CreatedAt.Before(at) {
		return false
	}
	return c.HasTags(sc.Tags)
}

func timeCriteriaMet(tc TimeCriteria, c *contact.Contact, at time.Time) bool {
	day := 24 * time.Hour
	if tc.DaysSinceLastContact > 0 {
		last := c.CreatedAt
		if c.LastContacted != nil {
			last = *c.LastContacted
		}
		if at.Sub(last) < time.Duration(tc.DaysSinceLastContact)*day {
			return false
		}
	}
	if tc.DaysSinceCreated > 0 && at.Sub(c.CreatedAt) < time.Duration(tc.DaysSinceCreated)*day {
		return false
	}
	if len(tc.DaysOfWeek) > 0 {
		wd := isoWeekday(at)
		found := false
		for _, d := range tc.DaysOfWeek {
			if d == wd {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if tc.window != nil && !tc.window.contains(at) {
		return false
	}
	return true
}

func messagePeriod(ev Event) string {
	if ev.MessageID == "" {
		return ""
	}
	return "message:" + ev.MessageID
}

func schedulePeriod(slot time.Time) string {
	return "schedule:" + slot.UTC().Format(time.RFC3339)
}
