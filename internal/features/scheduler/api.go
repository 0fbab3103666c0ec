package scheduler

import (
	"go-automation/internal/common/api"

	"github.com/gofiber/fiber/v2"
)

type SchedulerApi struct {
	controller *SchedulerController
}

func NewSchedulerApi(controller *SchedulerController) api.Route {
	return &SchedulerApi{controller: controller}
}

func (h *SchedulerApi) Setup(app *fiber.App) {
	jobs := app.Group("/api/scheduler/jobs")
	jobs.Get("/", h.controller.ListJobs)
	jobs.Post("/:name/execute", h.controller.ExecuteJob)
	jobs.Get("/:name/runs", h.controller.GetJobRuns)
}
