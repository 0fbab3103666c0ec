package analytics

import (
	"go-automation/internal/common/api"

	"github.com/gofiber/fiber/v2"
)

type AnalyticsApi struct {
	Controller *AnalyticsController
}

func NewAnalyticsApi(controller *AnalyticsController) api.Route {
	return &AnalyticsApi{Controller: controller}
}

func (a *AnalyticsApi) Setup(app *fiber.App) {
	analytics := app.Group("/api/analytics")
	analytics.Get("/metrics", a.Controller.GetMetricHistory)
}
