package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/domain"
	"github.com/acme/dial-engine/internal/lifecycle"
)

type submitEventRequest struct {
	CallID    string         `json:"call_id,omitempty"`
	AttemptID string         `json:"attempt_id,omitempty"`
	Event     string         `json:"event"`
	SIPCode   int            `json:"sip_code,omitempty"`
	RTPStats  map[string]any `json:"rtp_stats,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func (h *HandlerSet) submitEvent(ctx *fiber.Ctx) error {
	var req submitEventRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if req.Event == "" {
		return fiber.NewError(fiber.StatusBadRequest, "event is required")
	}

	input := lifecycle.EventInput{
		Event:    domain.CallEvent(req.Event),
		SIPCode:  req.SIPCode,
		RTPStats: req.RTPStats,
		Metadata: req.Metadata,
	}
	switch {
	case req.CallID != "":
		id, err := uuid.Parse(req.CallID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid call_id")
		}
		input.CallID = &id
	case req.AttemptID != "":
		id, err := uuid.Parse(req.AttemptID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid attempt_id")
		}
		input.AttemptID = &id
	default:
		return fiber.NewError(fiber.StatusBadRequest, "call_id or attempt_id is required")
	}

	outcome, err := h.lifecycle.Submit(ctx.Context(), input)
	if err != nil {
		return translateError(err)
	}

	body := fiber.Map{
		"success":        outcome.Accepted,
		"previous_state": outcome.PreviousState,
		"current_state":  outcome.CurrentState,
	}
	if !outcome.Accepted {
		body["error"] = outcome.Reason
		return ctx.Status(fiber.StatusBadRequest).JSON(body)
	}
	return ctx.JSON(body)
}

func (h *HandlerSet) listTransitions(ctx *fiber.Ctx) error {
	callID, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid call id")
	}
	limit := ctx.QueryInt("limit", 100)

	records, err := h.lifecycle.History(ctx.Context(), callID, limit)
	if err != nil {
		return translateError(err)
	}

	items := make([]fiber.Map, 0, len(records))
	for _, record := range records {
		item := fiber.Map{
			"from_state":  record.FromState,
			"to_state":    record.ToState,
			"event":       record.Event,
			"occurred_at": record.OccurredAt,
		}
		if record.SIPCode != 0 {
			item["sip_code"] = record.SIPCode
		}
		if len(record.RTPStats) > 0 {
			item["rtp_stats"] = record.RTPStats
		}
		if len(record.Metadata) > 0 {
			item["metadata"] = record.Metadata
		}
		items = append(items, item)
	}
	return ok(ctx, fiber.Map{"call_id": callID, "transitions": items})
}
