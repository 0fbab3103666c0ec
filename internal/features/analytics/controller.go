package analytics

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

type AnalyticsController struct {
	Service AnalyticsService
}

func NewAnalyticsController(service AnalyticsService) *AnalyticsController {
	return &AnalyticsController{Service: service}
}

// GetMetricHistory returns daily snapshots for the last ?days= days.
func (c *AnalyticsController) GetMetricHistory(ctx *fiber.Ctx) error {
	days := 30
	if v := ctx.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return ctx.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "days must be a positive integer"})
		}
		days = n
	}

	snaps, err := c.Service.History(ctx.UserContext(), days)
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(snaps)
}
