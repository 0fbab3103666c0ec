package scheduler

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

type SchedulerController struct {
	Service SchedulerService
}

func NewSchedulerController(service SchedulerService) *SchedulerController {
	return &SchedulerController{Service: service}
}

func (c *SchedulerController) ListJobs(ctx *fiber.Ctx) error {
	return ctx.JSON(c.Service.Jobs())
}

// ExecuteJob runs a job now and returns its run record.
func (c *SchedulerController) ExecuteJob(ctx *fiber.Ctx) error {
	run, err := c.Service.RunJob(ctx.UserContext(), ctx.Params("name"))
	switch {
	case errors.Is(err, ErrJobNotFound):
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, ErrJobRunning):
		return ctx.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error(), "run": run})
	}
	return ctx.JSON(run)
}

func (c *SchedulerController) GetJobRuns(ctx *fiber.Ctx) error {
	limit, _ := strconv.Atoi(ctx.Query("limit", "50"))

	runs, err := c.Service.ListRuns(ctx.UserContext(), ctx.Params("name"), limit)
	if errors.Is(err, ErrJobNotFound) {
		return ctx.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		return ctx.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return ctx.JSON(runs)
}
