package automation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"go-automation/internal/features/contact"
)

const eventTimeout = 2 * time.Minute

type AutomationController struct {
	Engine  Engine
	Reports ReportService
	logger  *zap.Logger
	// async runs event passes off the request goroutine.
	async func(func())
}

func NewAutomationController(engine Engine, reports ReportService, logger *zap.Logger) *AutomationController {
	return &AutomationController{
		Engine:  engine,
		Reports: reports,
		logger:  logger,
		async:   func(f func()) { go f() },
	}
}

type messageEventRequest struct {
	ContactID string    `json:"contact_id"`
	Text      string    `json:"text"`
	Direction string    `json:"direction"`
	MessageID string    `json:"message_id"`
	Timestamp time.Time `json:"timestamp"`
}

type contactEventRequest struct {
	ContactID string    `json:"contact_id"`
	Timestamp time.Time `json:"timestamp"`
}

type executeRequest struct {
	ContactID string `json:"contact_id"`
	Actor     string `json:"actor"`
}

// MessageReceived accepts an inbound message event and evaluates it in the
// background.
func (ctrl *AutomationController) MessageReceived(c *fiber.Ctx) error {
	var req messageEventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	contactID, err := primitive.ObjectIDFromHex(req.ContactID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contact_id"})
	}
	direction := req.Direction
	if direction == "" {
		direction = DirectionInbound
	}
	ev := NewMessageEvent(contactID, req.Text, direction, req.MessageID, eventTime(req.Timestamp))
	ctrl.submit(ev)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"event_id": ev.ID})
}

func (ctrl *AutomationController) ContactCreated(c *fiber.Ctx) error {
	var req contactEventRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	contactID, err := primitive.ObjectIDFromHex(req.ContactID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contact_id"})
	}
	ev := NewContactEvent(contactID, eventTime(req.Timestamp))
	ctrl.submit(ev)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"event_id": ev.ID})
}

func (ctrl *AutomationController) submit(ev Event) {
	ctrl.async(func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
		defer cancel()
		res, err := ctrl.Engine.HandleEvent(ctx, ev)
		if err != nil {
			ctrl.logger.Warn("Event not processed", zap.String("event_id", ev.ID), zap.Error(err))
			return
		}
		ctrl.logger.Debug("Event processed",
			zap.String("event_id", ev.ID),
			zap.Int("rules_selected", res.RulesSelected),
			zap.Int("log_entries", len(res.Entries)))
	})
}

func eventTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// Execute runs an automation for one contact immediately.
func (ctrl *AutomationController) Execute(c *fiber.Ctx) error {
	ruleID, err := primitive.ObjectIDFromHex(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid automation id"})
	}
	var req executeRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	contactID, err := primitive.ObjectIDFromHex(req.ContactID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid contact_id"})
	}

	entry, err := ctrl.Engine.ExecuteForContact(c.UserContext(), ruleID, contactID, req.Actor)
	if err != nil {
		switch {
		case errors.Is(err, ErrRuleNotFound), errors.Is(err, contact.ErrContactNotFound):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, ErrRuleInactive):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}
	return c.JSON(entry)
}

func (ctrl *AutomationController) ListLogs(c *fiber.Ctx) error {
	filter, err := parseLogFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	entries, err := ctrl.Reports.ListLogs(c.UserContext(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if entries == nil {
		entries = []LogEntry{}
	}
	return c.JSON(entries)
}

func (ctrl *AutomationController) ExportLogs(c *fiber.Ctx) error {
	filter, err := parseLogFilter(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	data, filename, err := ctrl.Reports.ExportLogs(c.UserContext(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set("Content-Disposition", "attachment; filename="+filename)
	return c.Send(data)
}

func (ctrl *AutomationController) Stats(c *fiber.Ctx) error {
	stats, err := ctrl.Reports.Stats(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(stats)
}

func parseLogFilter(c *fiber.Ctx) (LogFilter, error) {
	var filter LogFilter
	if v := c.Query("automation_id"); v != "" {
		id, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return filter, errors.New("invalid automation_id")
		}
		filter.AutomationID = &id
	}
	if v := c.Query("contact_id"); v != "" {
		id, err := primitive.ObjectIDFromHex(v)
		if err != nil {
			return filter, errors.New("invalid contact_id")
		}
		filter.ContactID = &id
	}
	filter.Status = ExecutionStatus(c.Query("status"))
	if v := c.Query("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("since must be RFC3339")
		}
		filter.Since = t
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = n
	}
	return filter, nil
}
