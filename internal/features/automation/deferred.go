package automation

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"go-automation/internal/features/contact"
)

// RunDeferred delivers every deferred message that is due and returns how
// many were processed. Each item is claimed atomically, so concurrent
// drains never deliver the same item twice.
func (c *Coordinator) RunDeferred(ctx context.Context) (int, error) {
	processed := 0
	for ctx.Err() == nil {
		item, err := c.deferred.ClaimDue(ctx, c.now())
		if err != nil {
			return processed, c.abort(Event{Kind: EventTick}, infraError("claim deferred dispatch", err))
		}
		if item == nil {
			break
		}
		c.deliver(ctx, item)
		processed++
	}
	return processed, nil
}

func (c *Coordinator) deliver(ctx context.Context, item *DeferredDispatch) {
	start := c.now()
	logger := c.logger.With(zap.String("deferred_id", item.ID.Hex()), zap.String("automation_id", item.AutomationID.Hex()))

	entry := &LogEntry{
		AutomationID: item.AutomationID,
		EventID:      item.EventID,
		ExecutedAt:   start,
		ExecutedBy:   ExecutorScheduler,
		ExecutionDetails: map[string]interface{}{
			"deferred_id": item.ID.Hex(),
			"due_at":      item.DueAt,
		},
	}
	contactID := item.ContactID
	entry.ContactID = &contactID

	status, errMsg := c.deliverItem(ctx, item, entry)
	entry.Status = map[DeferredStatus]ExecutionStatus{
		DeferredDone:    StatusSuccess,
		DeferredSkipped: StatusSkipped,
		DeferredFailed:  StatusFailed,
	}[status]
	entry.ErrorMessage = errMsg

	if err := c.deferred.Complete(ctx, item.ID, status, errMsg); err != nil {
		logger.Error("Failed to complete deferred dispatch", zap.Error(err))
	}
	if err := c.finish(ctx, entry, start); err != nil {
		logger.Error("Deferred dispatch not recorded", zap.Error(err))
	}
}

func (c *Coordinator) deliverItem(ctx context.Context, item *DeferredDispatch, entry *LogEntry) (DeferredStatus, string) {
	rule, err := c.rules.GetByID(ctx, item.AutomationID)
	if err != nil {
		if errors.Is(err, ErrRuleNotFound) {
			return DeferredSkipped, "automation was deleted before delivery"
		}
		return DeferredFailed, err.Error()
	}
	entry.AutomationName = rule.Name
	entry.TriggerType = rule.TriggerType
	if !rule.IsActive {
		return DeferredSkipped, "automation was deactivated before delivery"
	}

	ct, err := c.contacts.Get(ctx, item.ContactID)
	if err != nil {
		if errors.Is(err, contact.ErrContactNotFound) {
			return DeferredSkipped, "contact was deleted before delivery"
		}
		return DeferredFailed, err.Error()
	}

	res := c.dispatcher.SendDeferred(ctx, item, ct)
	for k, v := range res.Detail {
		entry.ExecutionDetails[k] = v
	}
	if !res.OK {
		return DeferredFailed, res.Err.Error()
	}
	entry.ContactsAffected = 1
	return DeferredDone, ""
}
