package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/acme/dial-engine/internal/reconciler"
)

type reconcileRequest struct {
	Events []reconciler.Notification `json:"events"`
}

func (h *HandlerSet) reconcile(ctx *fiber.Ctx) error {
	var req reconcileRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Events) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "events must not be empty")
	}

	results := h.reconciler.Reconcile(ctx.Context(), req.Events)
	return ok(ctx, fiber.Map{"results": results})
}
