package automation

import (
	"go-automation/internal/common/api"

	"github.com/gofiber/fiber/v2"
)

type AutomationApi struct {
	controller *AutomationController
}

func NewAutomationApi(controller *AutomationController) api.Route {
	return &AutomationApi{
		controller: controller,
	}
}

func (h *AutomationApi) Setup(app *fiber.App) {
	events := app.Group("/api/events")
	events.Post("/messages", h.controller.MessageReceived)
	events.Post("/contacts", h.controller.ContactCreated)

	group := app.Group("/api/automations")
	group.Post("/:id/execute", h.controller.Execute)
	group.Get("/logs", h.controller.ListLogs)
	group.Get("/logs/export", h.controller.ExportLogs)
	group.Get("/stats", h.controller.Stats)
}
