package main

import (
	"context"
	"fmt"
	"time"

	common_api "go-automation/internal/common/api"
	"go-automation/internal/config"
	"go-automation/internal/database"
	"go-automation/internal/features/analytics"
	"go-automation/internal/features/automation"
	"go-automation/internal/features/contact"
	"go-automation/internal/features/scheduler"
	"go-automation/internal/gateway/whatsapp"
	"go-automation/internal/logger"
	"go-automation/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates the Fiber app that receives CRM events.
func NewFiberServer(cfg *config.Config, log *zap.Logger) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(middleware.CORSMiddleware(cfg.CORSAllowOrigins))
	app.Use(middleware.RequestLogger(log))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	return app
}

// AsRoute tags the constructor so Fx adds it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),
		fx.ResultTags(`group:"routes"`),
	)
}

// RegisterAllRoutes calls Setup on every route in the "routes" group.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route, log *zap.Logger) {
	for _, route := range routes {
		log.Debug("Setting up route", zap.String("route", fmt.Sprintf("%T", route)))
		route.Setup(app)
	}
	log.Info("Routes registered", zap.Int("count", len(routes)))
}

var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`),
)

// StartServer starts Fiber in a goroutine and shuts it down when the app
// exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config, log *zap.Logger, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				log.Info("HTTP server listening", zap.String("addr", port))
				if err := app.Listen(port); err != nil {
					log.Error("Server failed", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.Shutdown()
		},
	})
}

// InitializeIndexes ensures the unique claim and snapshot indexes exist
// before the scheduler starts firing.
func InitializeIndexes(lc fx.Lifecycle, logs automation.LogRepository, metrics analytics.MetricRepository, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
			defer cancel()

			if err := logs.EnsureIndexes(ctx); err != nil {
				return fmt.Errorf("automation log indexes: %w", err)
			}
			if err := metrics.EnsureIndexes(ctx); err != nil {
				log.Warn("Failed to ensure metric indexes", zap.Error(err))
			}
			return nil
		},
	})
}

// StartScheduler runs the scheduler loop for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, svc scheduler.SchedulerService) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return svc.Start(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return svc.Stop()
		},
	})
}

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,
			logger.NewLogger,
			NewFiberServer,
			database.NewDatabase,

			// Repositories
			contact.NewContactRepository,
			contact.NewActivityRepository,
			automation.NewRuleRepository,
			automation.NewLogRepository,
			automation.NewDeferredRepository,
			analytics.NewMetricRepository,
			scheduler.NewRunRepository,

			// Messaging gateway
			fx.Annotate(
				whatsapp.NewClient,
				fx.As(new(automation.MessagingGateway)),
			),

			// Services
			automation.NewEvaluator,
			automation.NewActionDispatcher,
			automation.NewCoordinator,
			automation.NewReportService,
			analytics.NewAnalyticsService,
			scheduler.NewSchedulerService,

			// Controllers
			automation.NewAutomationController,
			analytics.NewAnalyticsController,
			scheduler.NewSchedulerController,

			// Routes
			AsRoute(automation.NewAutomationApi),
			AsRoute(analytics.NewAnalyticsApi),
			AsRoute(scheduler.NewSchedulerApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			RegisterAllRoutesWithAnnotation,
			InitializeIndexes,
			StartScheduler,
			StartServer,
		),
	)

	app.Run()
}
