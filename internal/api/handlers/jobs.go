package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type executeJobsRequest struct {
	AccountID string `json:"account_id"`
	MaxJobs   int    `json:"max_jobs"`
}

func (h *HandlerSet) executeJobs(ctx *fiber.Ctx) error {
	var req executeJobsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid account_id")
	}

	results, err := h.executor.ExecuteBatch(ctx.Context(), accountID, req.MaxJobs)
	if err != nil {
		return translateError(err)
	}

	return ok(ctx, fiber.Map{
		"jobs_processed": len(results),
		"results":        results,
	})
}
