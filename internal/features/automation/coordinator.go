package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go-automation/internal/config"
	"go-automation/internal/features/contact"
)

// A claim older than this is no longer treated as held by a running pass.
const claimStaleAfter = 10 * time.Minute

// Engine is the automation entry point used by the event surface and the
// scheduler loop.
type Engine interface {
	HandleEvent(ctx context.Context, ev Event) (*PassResult, error)
	ExecuteForContact(ctx context.Context, ruleID, contactID primitive.ObjectID, actor string) (*LogEntry, error)
	RunDeferred(ctx context.Context) (int, error)
}

type Coordinator struct {
	rules       RuleRepository
	contacts    contact.ContactRepository
	logs        LogRepository
	deferred    DeferredRepository
	evaluator   *Evaluator
	dispatcher  ActionDispatcher
	logger      *zap.Logger
	concurrency int
	now         func() time.Time
}

func NewCoordinator(
	rules RuleRepository,
	contacts contact.ContactRepository,
	logs LogRepository,
	deferred DeferredRepository,
	evaluator *Evaluator,
	dispatcher ActionDispatcher,
	cfg *config.Config,
	logger *zap.Logger,
) Engine {
	concurrency := cfg.DispatchConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Coordinator{
		rules:       rules,
		contacts:    contacts,
		logs:        logs,
		deferred:    deferred,
		evaluator:   evaluator,
		dispatcher:  dispatcher,
		logger:      logger,
		concurrency: concurrency,
		now:         time.Now,
	}
}

type attempt struct {
	rule    *Rule
	contact *contact.Contact
	match   MatchResult
}

// HandleEvent runs one evaluation pass. Store failures while selecting
// rules or contacts abort the pass before anything is dispatched or logged.
func (c *Coordinator) HandleEvent(ctx context.Context, ev Event) (*PassResult, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = c.now()
	}
	types := TriggerTypesFor(ev.Kind)
	if types == nil {
		return nil, fmt.Errorf("unknown event kind %q", ev.Kind)
	}

	rules, err := c.rules.ListActive(ctx, types...)
	if err != nil {
		return nil, c.abort(ev, infraError("list active rules", err))
	}
	sortRules(rules)

	attempts, err := c.plan(ctx, ev, rules)
	if err != nil {
		return nil, c.abort(ev, err)
	}

	return &PassResult{
		EventID:       ev.ID,
		RulesSelected: len(rules),
		Entries:       c.run(ctx, ev, attempts),
	}, nil
}

func (c *Coordinator) abort(ev Event, err error) error {
	if IsInfrastructure(err) {
		c.logger.Error("Automation pass aborted",
			zap.String("event_id", ev.ID),
			zap.String("event_kind", string(ev.Kind)),
			zap.Error(err))
	}
	return err
}

// sortRules orders by ascending priority, ties broken by id.
func sortRules(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority < rules[j].Priority
		}
		return rules[i].ID.Hex() < rules[j].ID.Hex()
	})
}

func (c *Coordinator) plan(ctx context.Context, ev Event, rules []*Rule) ([]attempt, error) {
	if len(rules) == 0 {
		return nil, nil
	}
	if ev.Kind != EventTick {
		ct, err := c.contacts.Get(ctx, ev.ContactID)
		if err != nil {
			if errors.Is(err, contact.ErrContactNotFound) {
				return nil, fmt.Errorf("event %s: %w", ev.ID, err)
			}
			return nil, infraError("get contact", err)
		}
		var out []attempt
		for _, rule := range rules {
			m := c.evaluator.Evaluate(ctx, rule, ev, ct)
			if m.Matched || m.Err != nil {
				out = append(out, attempt{rule: rule, contact: ct, match: m})
			}
		}
		return out, nil
	}
	return c.planTick(ctx, ev, rules)
}

func (c *Coordinator) planTick(ctx context.Context, ev Event, rules []*Rule) ([]attempt, error) {
	today := c.evaluator.Today(ev.OccurredAt)
	var birthdays []contact.Contact
	birthdaysLoaded := false

	var out []attempt
	for _, rule := range rules {
		if rule.Invalid != nil {
			// Reported once per day rather than on every tick.
			out = append(out, attempt{rule: rule, match: MatchResult{
				Err:       rule.Invalid,
				PeriodKey: "invalid:" + today.Format("2006-01-02"),
			}})
			continue
		}

		var candidates []contact.Contact
		switch rule.TriggerType {
		case TriggerBirthday:
			if !birthdaysLoaded {
				list, err := c.contacts.ListByBirthday(ctx, today)
				if err != nil {
					return nil, infraError("list birthday contacts", err)
				}
				birthdays, birthdaysLoaded = list, true
			}
			candidates = birthdays
		case TriggerScheduled, TriggerTimeBased:
			if _, ok := c.evaluator.DueSlot(rule, ev.OccurredAt); !ok {
				continue
			}
			list, err := c.contacts.ListActive(ctx, ruleTags(rule))
			if err != nil {
				return nil, infraError("list active contacts", err)
			}
			candidates = list
		default:
			continue
		}

		for i := range candidates {
			ct := &candidates[i]
			m := c.evaluator.Evaluate(ctx, rule, ev, ct)
			if m.Matched || m.Err != nil {
				out = append(out, attempt{rule: rule, contact: ct, match: m})
			}
		}
	}
	return out, nil
}

func ruleTags(rule *Rule) []string {
	switch conds := rule.Conditions.(type) {
	case ScheduledConditions:
		return conds.Tags
	case TimeBasedConditions:
		return conds.Tags
	}
	return nil
}

// run dispatches attempts. One contact's attempts run in rule order; distinct
// contacts run concurrently, bounded by the dispatch concurrency.
func (c *Coordinator) run(ctx context.Context, ev Event, attempts []attempt) []LogEntry {
	var groups [][]int
	index := map[primitive.ObjectID]int{}
	for i, a := range attempts {
		if a.contact == nil {
			groups = append(groups, []int{i})
			continue
		}
		g, ok := index[a.contact.ID]
		if !ok {
			g = len(groups)
			index[a.contact.ID] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], i)
	}

	entries := make([]*LogEntry, len(attempts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for _, group := range groups {
		group := group // per-iteration copy (go1.21 loop semantics)
		g.Go(func() error {
			for _, i := range group {
				entry, err := c.attempt(gctx, ev, attempts[i])
				if err != nil {
					c.logger.Error("Automation attempt not recorded",
						zap.String("event_id", ev.ID),
						zap.String("automation_id", attempts[i].rule.ID.Hex()),
						zap.Error(err))
					continue
				}
				entries[i] = entry
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make([]LogEntry, 0, len(entries))
	for _, e := range entries {
		if e != nil {
			out = append(out, *e)
		}
	}
	return out
}

// attempt claims, dispatches and logs one (rule, contact) pair. It returns
// a nil entry when the period was already handled by an earlier pass. A
// claim still held by a running pass yields a skipped entry.
func (c *Coordinator) attempt(ctx context.Context, ev Event, a attempt) (*LogEntry, error) {
	start := c.now()
	entry := newEntry(a.rule, a.contact, ev.ID, ExecutorSystem, start)
	entry.ExecutionDetails["event_kind"] = string(ev.Kind)

	key := a.match.PeriodKey
	claimContact := primitive.NilObjectID
	if a.contact != nil {
		claimContact = a.contact.ID
	}
	if key != "" {
		entry.ExecutionDetails["period_key"] = key
		existing, err := c.logs.GetClaim(ctx, a.rule.ID, claimContact, key)
		if err != nil {
			return nil, fmt.Errorf("check claim: %w", err)
		}
		if existing != nil {
			if !existing.InFlight(start, claimStaleAfter) {
				return nil, nil
			}
			return c.skipClaimed(ctx, entry, start)
		}
		won, err := c.logs.InsertClaimIfAbsent(ctx, Claim{
			AutomationID: a.rule.ID,
			ContactID:    claimContact,
			PeriodKey:    key,
			EventID:      ev.ID,
			Status:       ClaimInFlight,
			ClaimedAt:    start,
		})
		if err != nil {
			return nil, fmt.Errorf("insert claim: %w", err)
		}
		if !won {
			return c.skipClaimed(ctx, entry, start)
		}
	}

	if a.match.Err != nil {
		entry.Status = StatusFailed
		entry.ErrorMessage = a.match.Err.Error()
	} else {
		c.dispatchAll(ctx, entry, DispatchRequest{
			Rule:     a.rule,
			Contact:  a.contact,
			Bindings: a.match.Bindings,
			EventID:  ev.ID,
			At:       ev.OccurredAt,
		})
	}

	err := c.finish(ctx, entry, start)
	if key != "" {
		c.completeClaim(ctx, entry, claimContact, key, err)
	}
	return entry, err
}

func (c *Coordinator) skipClaimed(ctx context.Context, entry *LogEntry, start time.Time) (*LogEntry, error) {
	entry.Status = StatusSkipped
	entry.ErrorMessage = "already claimed by a concurrent pass"
	return entry, c.finish(ctx, entry, start)
}

// completeClaim marks the claim done whatever the outcome. Failed attempts
// are not retried within their period.
func (c *Coordinator) completeClaim(ctx context.Context, entry *LogEntry, contactID primitive.ObjectID, key string, appendErr error) {
	if appendErr != nil {
		c.logger.Error("Claim held without a log entry",
			zap.String("automation_id", entry.AutomationID.Hex()),
			zap.String("contact_id", contactID.Hex()),
			zap.String("period_key", key),
			zap.String("status", string(entry.Status)),
			zap.Error(appendErr))
	}
	if err := c.logs.CompleteClaim(ctx, entry.AutomationID, contactID, key, c.now()); err != nil {
		c.logger.Error("Failed to complete claim",
			zap.String("automation_id", entry.AutomationID.Hex()),
			zap.String("period_key", key),
			zap.Error(err))
	}
}

// dispatchAll runs every action of the rule in order and rolls the results
// up into entry.
func (c *Coordinator) dispatchAll(ctx context.Context, entry *LogEntry, req DispatchRequest) {
	var errs error
	ok := 0
	steps := make([]map[string]interface{}, 0, len(req.Rule.Actions))
	for _, action := range req.Rule.Actions {
		req.Action = action
		res := c.dispatcher.Execute(ctx, req)
		step := map[string]interface{}{"type": string(action.Type()), "ok": res.OK}
		for k, v := range res.Detail {
			step[k] = v
		}
		if res.OK {
			ok++
		} else {
			if res.Err == nil {
				res.Err = fmt.Errorf("%s failed", action.Type())
			}
			step["error"] = res.Err.Error()
			errs = multierr.Append(errs, res.Err)
		}
		steps = append(steps, step)
	}
	entry.ExecutionDetails["actions"] = steps
	entry.Status = rollup(ok, len(req.Rule.Actions))
	if ok > 0 {
		entry.ContactsAffected = 1
	}
	if errs != nil {
		entry.ErrorMessage = errs.Error()
	}
}

func rollup(ok, total int) ExecutionStatus {
	switch {
	case total > 0 && ok == total:
		return StatusSuccess
	case ok == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

func newEntry(rule *Rule, ct *contact.Contact, eventID, executor string, at time.Time) *LogEntry {
	entry := &LogEntry{
		AutomationID:     rule.ID,
		AutomationName:   rule.Name,
		EventID:          eventID,
		TriggerType:      rule.TriggerType,
		ExecutedAt:       at,
		ExecutedBy:       executor,
		ExecutionDetails: map[string]interface{}{},
	}
	if ct != nil {
		id := ct.ID
		entry.ContactID = &id
	}
	return entry
}

func (c *Coordinator) finish(ctx context.Context, entry *LogEntry, start time.Time) error {
	entry.ExecutionTime = c.now().Sub(start).Seconds()
	if err := c.logs.Append(ctx, entry); err != nil {
		return fmt.Errorf("append automation log: %w", err)
	}
	return nil
}

// ExecuteForContact runs a rule's actions for one contact without
// evaluating its trigger conditions.
func (c *Coordinator) ExecuteForContact(ctx context.Context, ruleID, contactID primitive.ObjectID, actor string) (*LogEntry, error) {
	rule, err := c.rules.GetByID(ctx, ruleID)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return nil, err
		}
		return nil, infraError("get rule", err)
	}
	if !rule.IsActive {
		return nil, ErrRuleInactive
	}
	ct, err := c.contacts.Get(ctx, contactID)
	if err != nil {
		if errors.Is(err, contact.ErrContactNotFound) {
			return nil, err
		}
		return nil, infraError("get contact", err)
	}

	executor := executorManual
	if actor != "" {
		executor = executorManual + ":" + actor
	}
	start := c.now()
	entry := newEntry(rule, ct, uuid.NewString(), executor, start)

	if rule.Invalid != nil {
		entry.Status = StatusFailed
		entry.ErrorMessage = rule.Invalid.Error()
	} else {
		c.dispatchAll(ctx, entry, DispatchRequest{
			Rule:     rule,
			Contact:  ct,
			Bindings: contactBindings(ct, c.evaluator.Today(start)),
			EventID:  entry.EventID,
			At:       start,
		})
	}
	if err := c.finish(ctx, entry, start); err != nil {
		return entry, infraError("append automation log", err)
	}
	return entry, nil
}
