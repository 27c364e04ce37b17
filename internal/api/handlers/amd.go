package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type detectAMDRequest struct {
	CallID string `json:"call_id"`
}

func (h *HandlerSet) detectAMD(ctx *fiber.Ctx) error {
	var req detectAMDRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	callID, err := uuid.Parse(req.CallID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid call_id")
	}

	decision, err := h.amd.Detect(ctx.Context(), callID)
	if err != nil {
		return translateError(err)
	}
	return ok(ctx, decision)
}
