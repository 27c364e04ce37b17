package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/media"
)

func (h *HandlerSet) mediaCheck(ctx *fiber.Ctx) error {
	statuses, err := h.media.CheckAll(ctx.Context())
	if err != nil {
		return translateError(err)
	}
	return ok(ctx, fiber.Map{"calls": statuses})
}

type rtpStatsRequest struct {
	CallID     string  `json:"call_id"`
	Packets    int64   `json:"packets"`
	Jitter     float64 `json:"jitter_ms"`
	PacketLoss float64 `json:"packet_loss_pct"`
}

func (h *HandlerSet) reportRTPStats(ctx *fiber.Ctx) error {
	var req rtpStatsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	callID, err := uuid.Parse(req.CallID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid call_id")
	}

	sample := media.Sample{
		CallID:     callID,
		Packets:    req.Packets,
		Jitter:     req.Jitter,
		PacketLoss: req.PacketLoss,
		ReportedAt: time.Now().UTC(),
	}
	if err := h.media.ReportStats(ctx.Context(), sample); err != nil {
		return translateError(err)
	}
	return ok(ctx, fiber.Map{"call_id": callID, "recorded": true})
}
