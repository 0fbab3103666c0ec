package automation

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"go-automation/internal/features/contact"
)

// MockRuleRepository
type MockRuleRepository struct {
	mu      sync.Mutex
	Rules   []*Rule
	ListErr error
}

func (m *MockRuleRepository) ListActive(ctx context.Context, triggerTypes ...TriggerType) ([]*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var out []*Rule
	for _, r := range m.Rules {
		if !r.IsActive {
			continue
		}
		for _, t := range triggerTypes {
			if r.TriggerType == t {
				out = append(out, r)
				break
			}
		}
	}
	return out, nil
}

func (m *MockRuleRepository) GetByID(ctx context.Context, id primitive.ObjectID) (*Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.Rules {
		if r.ID == id {
			return r, nil
		}
	}
	return nil, ErrRuleNotFound
}

func (m *MockRuleRepository) Create(ctx context.Context, doc *RuleDocument) error {
	doc.ID = primitive.NewObjectID()
	def, err := doc.Definition()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Rules = append(m.Rules, ParseRule(def))
	return nil
}

func (m *MockRuleRepository) Count(ctx context.Context) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active int64
	for _, r := range m.Rules {
		if r.IsActive {
			active++
		}
	}
	return int64(len(m.Rules)), active, nil
}

// MockContactRepository
type MockContactRepository struct {
	mu        sync.Mutex
	Contacts  map[primitive.ObjectID]*contact.Contact
	Updates   []contact.Update
	GetErr    error
	UpdateErr error
}

func NewMockContactRepository(contacts ...*contact.Contact) *MockContactRepository {
	m := &MockContactRepository{Contacts: map[primitive.ObjectID]*contact.Contact{}}
	for _, c := range contacts {
		m.Contacts[c.ID] = c
	}
	return m
}

func (m *MockContactRepository) Get(ctx context.Context, id primitive.ObjectID) (*contact.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	c, ok := m.Contacts[id]
	if !ok {
		return nil, contact.ErrContactNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MockContactRepository) Update(ctx context.Context, id primitive.ObjectID, update contact.Update) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	if _, ok := m.Contacts[id]; !ok {
		return contact.ErrContactNotFound
	}
	m.Updates = append(m.Updates, update)
	return nil
}

func (m *MockContactRepository) ListByBirthday(ctx context.Context, day time.Time) ([]contact.Contact, error) {
	return m.list(func(c *contact.Contact) bool { return c.IsActive && c.BirthdayOn(day) })
}

func (m *MockContactRepository) ListActive(ctx context.Context, tags []string) ([]contact.Contact, error) {
	return m.list(func(c *contact.Contact) bool { return c.IsActive && c.HasTags(tags) })
}

func (m *MockContactRepository) CountActive(ctx context.Context) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active int64
	for _, c := range m.Contacts {
		if c.IsActive {
			active++
		}
	}
	return int64(len(m.Contacts)), active, nil
}

func (m *MockContactRepository) list(keep func(*contact.Contact) bool) ([]contact.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var out []contact.Contact
	for _, c := range m.Contacts {
		if keep(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Hex() < out[j].ID.Hex() })
	return out, nil
}

// MockActivityRepository
type MockActivityRepository struct {
	mu         sync.Mutex
	Activities []contact.Activity
	Err        error
}

func (m *MockActivityRepository) Record(ctx context.Context, a *contact.Activity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Activities = append(m.Activities, *a)
	return nil
}

// MockLogRepository keeps entries and claims in memory.
type MockLogRepository struct {
	mu        sync.Mutex
	Entries   []LogEntry
	Claims    map[string]Claim
	AppendErr error
}

func NewMockLogRepository() *MockLogRepository {
	return &MockLogRepository{Claims: map[string]Claim{}}
}

func claimKey(a, c primitive.ObjectID, period string) string {
	return a.Hex() + "|" + c.Hex() + "|" + period
}

func (m *MockLogRepository) Append(ctx context.Context, e *LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AppendErr != nil {
		return m.AppendErr
	}
	e.ID = primitive.NewObjectID()
	m.Entries = append(m.Entries, *e)
	return nil
}

func (m *MockLogRepository) GetClaim(ctx context.Context, a, c primitive.ObjectID, period string) (*Claim, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.Claims[claimKey(a, c, period)]
	if !ok {
		return nil, nil
	}
	return &claim, nil
}

func (m *MockLogRepository) CompleteClaim(ctx context.Context, a, c primitive.ObjectID, period string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := claimKey(a, c, period)
	claim, ok := m.Claims[k]
	if !ok {
		return errors.New("claim not found")
	}
	claim.Status = ClaimDone
	claim.CompletedAt = &at
	m.Claims[k] = claim
	return nil
}

func (m *MockLogRepository) claim(a, c primitive.ObjectID, period string) (Claim, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	claim, ok := m.Claims[claimKey(a, c, period)]
	return claim, ok
}

func (m *MockLogRepository) InsertClaimIfAbsent(ctx context.Context, claim Claim) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := claimKey(claim.AutomationID, claim.ContactID, claim.PeriodKey)
	if _, ok := m.Claims[k]; ok {
		return false, nil
	}
	m.Claims[k] = claim
	return true, nil
}

func (m *MockLogRepository) List(ctx context.Context, f LogFilter) ([]LogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LogEntry
	for _, e := range m.Entries {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.AutomationID != nil && e.AutomationID != *f.AutomationID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *MockLogRepository) Stats(ctx context.Context, now time.Time) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Stats{ExecutionsToday: int64(len(m.Entries))}
	var ok int64
	for _, e := range m.Entries {
		if e.Status == StatusSuccess {
			ok++
		}
	}
	if len(m.Entries) > 0 {
		s.SuccessRate = float64(ok) / float64(len(m.Entries)) * 100
	}
	return s, nil
}

func (m *MockLogRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.Entries[:0]
	var n int64
	for _, e := range m.Entries {
		if e.ExecutedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	m.Entries = kept
	return n, nil
}

func (m *MockLogRepository) EnsureIndexes(ctx context.Context) error { return nil }

func (m *MockLogRepository) byStatus(status ExecutionStatus) []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LogEntry
	for _, e := range m.Entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

func (m *MockLogRepository) all() []LogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LogEntry(nil), m.Entries...)
}

// MockDeferredRepository
type MockDeferredRepository struct {
	mu    sync.Mutex
	Items []*DeferredDispatch
}

func (m *MockDeferredRepository) Enqueue(ctx context.Context, item *DeferredDispatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item.ID = primitive.NewObjectID()
	item.Status = DeferredPending
	cp := *item
	m.Items = append(m.Items, &cp)
	return nil
}

func (m *MockDeferredRepository) ClaimDue(ctx context.Context, now time.Time) (*DeferredDispatch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.Items {
		if it.Status == DeferredPending && !it.DueAt.After(now) {
			it.Status = DeferredRunning
			cp := *it
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockDeferredRepository) Complete(ctx context.Context, id primitive.ObjectID, status DeferredStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.Items {
		if it.ID == id {
			it.Status = status
			it.Error = errMsg
			return nil
		}
	}
	return errors.New("deferred item not found")
}

func (m *MockDeferredRepository) AbandonStale(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

func (m *MockDeferredRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type sentMessage struct {
	To   string
	Body string
}

// MockGateway records sends. Phones listed in Fail are rejected. When
// Entered is set, each send signals it and then waits for Release.
type MockGateway struct {
	mu      sync.Mutex
	Sent    []sentMessage
	Fail    map[string]error
	Entered chan struct{}
	Release chan struct{}
}

func (m *MockGateway) SendText(ctx context.Context, to, body string) (string, error) {
	if m.Entered != nil {
		m.Entered <- struct{}{}
		<-m.Release
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Fail[to]; err != nil {
		return "", err
	}
	m.Sent = append(m.Sent, sentMessage{To: to, Body: body})
	return "wamid." + primitive.NewObjectID().Hex(), nil
}

func (m *MockGateway) sent() []sentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMessage(nil), m.Sent...)
}

// testEnv wires a Coordinator over in-memory stores with a settable clock.
type testEnv struct {
	clock      time.Time
	rules      *MockRuleRepository
	contacts   *MockContactRepository
	activities *MockActivityRepository
	logs       *MockLogRepository
	deferred   *MockDeferredRepository
	gateway    *MockGateway
	evaluator  *Evaluator
	dispatcher *ActionDispatcherImpl
	engine     *Coordinator
}

func newTestEnv(t *testing.T, now time.Time, contacts ...*contact.Contact) *testEnv {
	t.Helper()
	env := &testEnv{
		clock:      now,
		rules:      &MockRuleRepository{},
		contacts:   NewMockContactRepository(contacts...),
		activities: &MockActivityRepository{},
		logs:       NewMockLogRepository(),
		deferred:   &MockDeferredRepository{},
		gateway:    &MockGateway{Fail: map[string]error{}},
	}
	clock := func() time.Time { return env.clock }
	env.evaluator = &Evaluator{location: time.UTC, catchup: time.Hour, now: clock}
	env.dispatcher = &ActionDispatcherImpl{
		gateway:    env.gateway,
		contacts:   env.contacts,
		activities: env.activities,
		deferred:   env.deferred,
		sem:        semaphore.NewWeighted(4),
		logger:     zap.NewNop(),
		now:        clock,
	}
	env.engine = &Coordinator{
		rules:       env.rules,
		contacts:    env.contacts,
		logs:        env.logs,
		deferred:    env.deferred,
		evaluator:   env.evaluator,
		dispatcher:  env.dispatcher,
		logger:      zap.NewNop(),
		concurrency: 4,
		now:         clock,
	}
	return env
}

func (env *testEnv) addRule(t *testing.T, def ruleFixture) *Rule {
	t.Helper()
	rule := def.parse(t)
	env.rules.mu.Lock()
	env.rules.Rules = append(env.rules.Rules, rule)
	env.rules.mu.Unlock()
	return rule
}

// ruleFixture is a compact way to write a RuleDefinition in tests.
type ruleFixture struct {
	Name       string
	Trigger    TriggerType
	Conditions string
	Action     ActionType
	Payload    string
	Schedule   string
	Priority   int
	Inactive   bool
	CreatedAt  time.Time
}

func (s ruleFixture) parse(t *testing.T) *Rule {
	t.Helper()
	raw := func(v string) json.RawMessage {
		if v == "" {
			return nil
		}
		require.True(t, json.Valid([]byte(v)), "invalid JSON in test rule: %s", v)
		return json.RawMessage(v)
	}
	priority := s.Priority
	if priority == 0 {
		priority = 5
	}
	return ParseRule(RuleDefinition{
		ID:                primitive.NewObjectID(),
		Name:              s.Name,
		TriggerType:       string(s.Trigger),
		TriggerConditions: raw(s.Conditions),
		ActionType:        string(s.Action),
		ActionPayload:     raw(s.Payload),
		ScheduleConfig:    raw(s.Schedule),
		IsActive:          !s.Inactive,
		Priority:          priority,
		CreatedAt:         s.CreatedAt,
	})
}

func newContact(name, phone string) *contact.Contact {
	return &contact.Contact{
		ID:        primitive.NewObjectID(),
		Name:      name,
		Phone:     phone,
		IsActive:  true,
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func date(y int, m time.Month, d, h, min int) time.Time {
	return time.Date(y, m, d, h, min, 0, 0, time.UTC)
}
