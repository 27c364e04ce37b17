package handlers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/dial-engine/internal/amd"
	"github.com/acme/dial-engine/internal/app"
	"github.com/acme/dial-engine/internal/executor"
	"github.com/acme/dial-engine/internal/lifecycle"
	"github.com/acme/dial-engine/internal/media"
	"github.com/acme/dial-engine/internal/reconciler"
	"github.com/acme/dial-engine/internal/routehealth"
	"github.com/acme/dial-engine/internal/scheduler"
)

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	container  *app.Container
	lifecycle  *lifecycle.Service
	scheduler  *scheduler.Scheduler
	executor   *executor.Executor
	routes     *routehealth.Monitor
	media      *media.Monitor
	amd        *amd.Service
	reconciler *reconciler.Reconciler
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(container *app.Container) *HandlerSet {
	services := container.Services()
	return &HandlerSet{
		container:  container,
		lifecycle:  services.Lifecycle,
		scheduler:  services.Scheduler,
		executor:   services.Executor,
		routes:     services.RouteHealth,
		media:      services.Media,
		amd:        services.AMD,
		reconciler: services.Reconciler,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.health)

	api := app.Group("/api")
	v1 := api.Group("/v1")

	campaigns := v1.Group("/campaigns")
	campaigns.Post("/", h.createCampaign)
	campaigns.Get("/", h.listCampaigns)
	campaigns.Get("/:id", h.getCampaign)
	campaigns.Post("/:id/start", h.startCampaign)
	campaigns.Post("/:id/stop", h.stopCampaign)
	campaigns.Post("/:id/leads", h.addLeads)

	scheduler := v1.Group("/scheduler")
	scheduler.Post("/tick", h.tick)

	jobs := v1.Group("/jobs")
	jobs.Post("/execute", h.executeJobs)

	calls := v1.Group("/calls")
	calls.Post("/events", h.submitEvent)
	calls.Get("/:id/transitions", h.listTransitions)

	events := v1.Group("/events")
	events.Post("/reconcile", h.reconcile)

	routes := v1.Group("/routes")
	routes.Get("/health", h.routeStatus)
	routes.Post("/health/update", h.updateRouteHealth)
	routes.Post("/:carrier_id/reset", h.resetRoute)

	mediaGroup := v1.Group("/media")
	mediaGroup.Post("/check", h.mediaCheck)
	mediaGroup.Post("/rtp-stats", h.reportRTPStats)

	amdGroup := v1.Group("/amd")
	amdGroup.Post("/detect", h.detectAMD)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	if fiberErr, ok := err.(*fiber.Error); ok {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code == fiber.StatusInternalServerError {
		h.container.Logger.Error("request failed", zap.Error(err))
	}

	return ctx.Status(code).JSON(fiber.Map{
		"success": false,
		"error":   message,
	})
}

func ok(ctx *fiber.Ctx, data any) error {
	return ctx.JSON(fiber.Map{"success": true, "data": data})
}

func created(ctx *fiber.Ctx, data any) error {
	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "data": data})
}

func (h *HandlerSet) health(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.Context(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)

	if err := h.container.Postgres.DB().PingContext(healthCtx); err != nil {
		errs["postgres"] = err.Error()
	}

	if err := h.container.Redis.Inner().Ping(healthCtx).Err(); err != nil {
		errs["redis"] = err.Error()
	}

	if err := h.container.Scylla.Session().Query("SELECT now() FROM system.local").WithContext(healthCtx).Exec(); err != nil {
		errs["scylla"] = err.Error()
	}

	if len(errs) > 0 {
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "errors": errs})
	}
	return ctx.JSON(fiber.Map{"status": "ok"})
}
