package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"go-automation/internal/config"
	"go-automation/internal/features/contact"
)

// MessagingGateway delivers a text message to a phone number and returns
// the provider's message id.
type MessagingGateway interface {
	SendText(ctx context.Context, to string, body string) (string, error)
}

type DispatchRequest struct {
	Rule     *Rule
	Action   Action
	Contact  *contact.Contact
	Bindings Bindings
	EventID  string
	// At is the event time delays are measured from.
	At time.Time
}

// ActionDispatcher performs one action step. It never panics on a bad
// step; every outcome is reported in the ActionResult.
type ActionDispatcher interface {
	Execute(ctx context.Context, req DispatchRequest) ActionResult
	SendDeferred(ctx context.Context, item *DeferredDispatch, c *contact.Contact) ActionResult
}

type ActionDispatcherImpl struct {
	gateway    MessagingGateway
	contacts   contact.ContactRepository
	activities contact.ActivityRepository
	deferred   DeferredRepository
	sem        *semaphore.Weighted
	logger     *zap.Logger
	now        func() time.Time
}

func NewActionDispatcher(
	gateway MessagingGateway,
	contacts contact.ContactRepository,
	activities contact.ActivityRepository,
	deferred DeferredRepository,
	cfg *config.Config,
	logger *zap.Logger,
) ActionDispatcher {
	limit := cfg.DispatchConcurrency
	if limit < 1 {
		limit = 1
	}
	return &ActionDispatcherImpl{
		gateway:    gateway,
		contacts:   contacts,
		activities: activities,
		deferred:   deferred,
		sem:        semaphore.NewWeighted(int64(limit)),
		logger:     logger,
		now:        time.Now,
	}
}

func (d *ActionDispatcherImpl) Execute(ctx context.Context, req DispatchRequest) ActionResult {
	if req.Contact == nil {
		return failed(fmt.Errorf("%s: no contact", req.Action.Type()))
	}
	switch a := req.Action.(type) {
	case SendMessageAction:
		return d.sendMessage(ctx, req, a)
	case UpdateContactAction:
		return d.updateContact(ctx, req, a)
	case LogActivityAction:
		return d.logActivity(ctx, req, a)
	case AddToGroupAction, TriggerAutomationAction, SendEmailAction:
		return failed(fmt.Errorf("%w: %s", ErrNotImplemented, a.Type()))
	default:
		return failed(fmt.Errorf("%w: %T", ErrNotImplemented, req.Action))
	}
}

func (d *ActionDispatcherImpl) sendMessage(ctx context.Context, req DispatchRequest, a SendMessageAction) ActionResult {
	text := Render(a.Template(), req.Bindings)
	if strings.TrimSpace(text) == "" {
		return failed(errors.New("rendered message is empty"))
	}

	if a.DelaySeconds > 0 {
		at := req.At
		if at.IsZero() {
			at = d.now()
		}
		item := &DeferredDispatch{
			AutomationID: req.Rule.ID,
			ContactID:    req.Contact.ID,
			EventID:      req.EventID,
			Text:         text,
			DueAt:        at.Add(time.Duration(a.DelaySeconds) * time.Second),
		}
		if err := d.deferred.Enqueue(ctx, item); err != nil {
			return failed(fmt.Errorf("enqueue deferred message: %w", err))
		}
		return ActionResult{OK: true, Detail: map[string]interface{}{
			"action":         string(ActionSendMessage),
			"deferred_id":    item.ID.Hex(),
			"deferred_until": item.DueAt,
		}}
	}

	messageID, err := d.send(ctx, req.Contact, text)
	if err != nil {
		return failed(err)
	}
	return ActionResult{OK: true, Detail: map[string]interface{}{
		"action":     string(ActionSendMessage),
		"message":    text,
		"message_id": messageID,
	}}
}

func (d *ActionDispatcherImpl) SendDeferred(ctx context.Context, item *DeferredDispatch, c *contact.Contact) ActionResult {
	messageID, err := d.send(ctx, c, item.Text)
	if err != nil {
		return failed(err)
	}
	return ActionResult{OK: true, Detail: map[string]interface{}{
		"action":      string(ActionSendMessage),
		"message":     item.Text,
		"message_id":  messageID,
		"deferred_id": item.ID.Hex(),
	}}
}

// send holds a gateway slot only for the duration of the call.
func (d *ActionDispatcherImpl) send(ctx context.Context, c *contact.Contact, text string) (string, error) {
	if strings.TrimSpace(c.Phone) == "" {
		return "", fmt.Errorf("contact %s has no phone number", c.ID.Hex())
	}
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer d.sem.Release(1)

	id, err := d.gateway.SendText(ctx, c.Phone, text)
	if err != nil {
		return "", fmt.Errorf("send message: %w", err)
	}
	return id, nil
}

func (d *ActionDispatcherImpl) updateContact(ctx context.Context, req DispatchRequest, a UpdateContactAction) ActionResult {
	update, err := buildContactUpdate(a, d.now())
	if err != nil {
		return failed(err)
	}
	for k, v := range update.Set {
		if s, ok := v.(string); ok {
			update.Set[k] = Render(s, req.Bindings)
		}
	}
	if update.IsEmpty() {
		return failed(errors.New("update_contact has nothing to change"))
	}
	// One store write covers every field, so all fields share its outcome.
	outcome := "set"
	writeErr := d.contacts.Update(ctx, req.Contact.ID, update)
	if writeErr != nil {
		outcome = "not_written"
	}
	perField := make(map[string]string, len(update.Set)+len(update.Inc))
	fields := make([]string, 0, len(update.Set)+len(update.Inc))
	for k := range update.Set {
		fields = append(fields, k)
		perField[k] = outcome
	}
	for k := range update.Inc {
		fields = append(fields, k)
		if writeErr == nil {
			perField[k] = "incremented"
		} else {
			perField[k] = outcome
		}
	}
	sort.Strings(fields)
	detail := map[string]interface{}{
		"action": string(ActionUpdateContact),
		"fields": perField,
	}
	if len(update.AddTags) > 0 {
		detail["added_tags"] = update.AddTags
	}
	if writeErr != nil {
		return ActionResult{Detail: detail, Err: fmt.Errorf("update contact: %w", writeErr)}
	}
	detail["updated_fields"] = fields
	return ActionResult{OK: true, Detail: detail}
}

func (d *ActionDispatcherImpl) logActivity(ctx context.Context, req DispatchRequest, a LogActivityAction) ActionResult {
	typ := a.ActivityType
	if typ == "" {
		typ = "automation"
	}
	activity := &contact.Activity{
		ContactID:    req.Contact.ID,
		AutomationID: req.Rule.ID,
		Type:         typ,
		Message:      Render(a.LogMessage, req.Bindings),
		Details: map[string]interface{}{
			"automation_name": req.Rule.Name,
			"event_id":        req.EventID,
		},
	}
	if err := d.activities.Record(ctx, activity); err != nil {
		return failed(fmt.Errorf("record activity: %w", err))
	}
	return ActionResult{OK: true, Detail: map[string]interface{}{
		"action":        string(ActionLogActivity),
		"activity_type": typ,
		"message":       activity.Message,
	}}
}

func failed(err error) ActionResult {
	return ActionResult{Err: err}
}
