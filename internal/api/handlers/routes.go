package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/domain"
)

type routeHealthResponse struct {
	CarrierID     string     `json:"carrier_id"`
	HealthScore   float64    `json:"health_score"`
	ASR           float64    `json:"asr"`
	TotalCalls    int64      `json:"total_calls"`
	Connected     int64      `json:"connected"`
	Failed        int64      `json:"failed"`
	NoMedia       int64      `json:"no_media"`
	IsDegraded    bool       `json:"is_degraded"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func toRouteHealthResponses(records []domain.RouteHealth) []routeHealthResponse {
	responses := make([]routeHealthResponse, 0, len(records))
	for _, record := range records {
		responses = append(responses, routeHealthResponse{
			CarrierID:     record.CarrierID.String(),
			HealthScore:   record.HealthScore,
			ASR:           record.ASR,
			TotalCalls:    record.TotalCalls,
			Connected:     record.Connected,
			Failed:        record.Failed,
			NoMedia:       record.NoMedia,
			IsDegraded:    record.IsDegraded,
			CooldownUntil: record.CooldownUntil,
			UpdatedAt:     record.UpdatedAt,
		})
	}
	return responses
}

func (h *HandlerSet) routeStatus(ctx *fiber.Ctx) error {
	records, err := h.routes.Status(ctx.Context())
	if err != nil {
		return translateError(err)
	}
	return ok(ctx, fiber.Map{"routes": toRouteHealthResponses(records)})
}

func (h *HandlerSet) updateRouteHealth(ctx *fiber.Ctx) error {
	records, err := h.routes.UpdateAll(ctx.Context())
	if err != nil {
		return translateError(err)
	}
	return ok(ctx, fiber.Map{"routes": toRouteHealthResponses(records)})
}

func (h *HandlerSet) resetRoute(ctx *fiber.Ctx) error {
	carrierID, err := uuid.Parse(ctx.Params("carrier_id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid carrier id")
	}

	if err := h.routes.Reset(ctx.Context(), carrierID); err != nil {
		return translateError(err)
	}
	return ok(ctx, fiber.Map{"carrier_id": carrierID, "reset": true})
}
