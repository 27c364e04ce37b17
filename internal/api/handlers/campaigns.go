package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/dial-engine/internal/domain"
)

type workHourRequest struct {
	DayOfWeek int    `json:"day_of_week"`
	Start     string `json:"start"`
	End       string `json:"end"`
}

type createCampaignRequest struct {
	AccountID string            `json:"account_id"`
	Name      string            `json:"name"`
	TimeZone  string            `json:"timezone"`
	DialRatio float64           `json:"dial_ratio"`
	WorkHours []workHourRequest `json:"work_hours"`
}

type campaignResponse struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	Name      string            `json:"name"`
	TimeZone  string            `json:"timezone"`
	DialRatio float64           `json:"dial_ratio"`
	Status    string            `json:"status"`
	WorkHours []workHourRequest `json:"work_hours"`
	CreatedAt time.Time         `json:"created_at"`
}

func toCampaignResponse(campaign *domain.Campaign) campaignResponse {
	windows := make([]workHourRequest, 0, len(campaign.WorkHours))
	for _, window := range campaign.WorkHours {
		windows = append(windows, workHourRequest{
			DayOfWeek: int(window.DayOfWeek),
			Start:     window.Start.Format("15:04"),
			End:       window.End.Format("15:04"),
		})
	}
	return campaignResponse{
		ID:        campaign.ID.String(),
		AccountID: campaign.AccountID.String(),
		Name:      campaign.Name,
		TimeZone:  campaign.TimeZone,
		DialRatio: campaign.DialRatio,
		Status:    string(campaign.Status),
		WorkHours: windows,
		CreatedAt: campaign.CreatedAt,
	}
}

func (h *HandlerSet) createCampaign(ctx *fiber.Ctx) error {
	var req createCampaignRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid account_id")
	}
	if req.Name == "" {
		return fiber.NewError(fiber.StatusBadRequest, "name is required")
	}
	if req.DialRatio <= 0 {
		return fiber.NewError(fiber.StatusBadRequest, "dial_ratio must be positive")
	}
	if req.TimeZone != "" {
		if _, err := time.LoadLocation(req.TimeZone); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "unknown timezone")
		}
	}

	windows := make([]domain.WorkHourWindow, 0, len(req.WorkHours))
	for _, window := range req.WorkHours {
		if window.DayOfWeek < 0 || window.DayOfWeek > 6 {
			return fiber.NewError(fiber.StatusBadRequest, "day_of_week must be 0-6")
		}
		start, err := time.Parse("15:04", window.Start)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "work hour start must be HH:MM")
		}
		end, err := time.Parse("15:04", window.End)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "work hour end must be HH:MM")
		}
		windows = append(windows, domain.WorkHourWindow{
			DayOfWeek: time.Weekday(window.DayOfWeek),
			Start:     start,
			End:       end,
		})
	}

	now := time.Now().UTC()
	campaign := &domain.Campaign{
		ID:        uuid.New(),
		AccountID: accountID,
		Name:      req.Name,
		TimeZone:  req.TimeZone,
		WorkHours: windows,
		DialRatio: req.DialRatio,
		Status:    domain.CampaignStatusDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.container.Repositories().Campaigns.Create(ctx.Context(), campaign); err != nil {
		return translateError(err)
	}

	return created(ctx, toCampaignResponse(campaign))
}

func (h *HandlerSet) getCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid campaign id")
	}

	campaign, err := h.container.Repositories().Campaigns.Get(ctx.Context(), id)
	if err != nil {
		return translateError(err)
	}

	return ok(ctx, toCampaignResponse(campaign))
}

func (h *HandlerSet) listCampaigns(ctx *fiber.Ctx) error {
	accountID, err := uuid.Parse(ctx.Query("account_id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "account_id query parameter is required")
	}
	status := domain.CampaignStatus(ctx.Query("status", string(domain.CampaignStatusActive)))
	limit := ctx.QueryInt("limit", 50)

	campaigns, err := h.container.Repositories().Campaigns.ListByAccountAndStatus(ctx.Context(), accountID, status, limit)
	if err != nil {
		return translateError(err)
	}

	responses := make([]campaignResponse, 0, len(campaigns))
	for _, campaign := range campaigns {
		responses = append(responses, toCampaignResponse(campaign))
	}
	return ok(ctx, responses)
}

func (h *HandlerSet) startCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid campaign id")
	}

	if err := h.scheduler.StartCampaign(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ok(ctx, fiber.Map{"campaign_id": id, "status": domain.CampaignStatusActive})
}

func (h *HandlerSet) stopCampaign(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid campaign id")
	}

	if err := h.scheduler.StopCampaign(ctx.Context(), id); err != nil {
		return translateError(err)
	}
	return ok(ctx, fiber.Map{"campaign_id": id, "status": domain.CampaignStatusStopped})
}

type addLeadsRequest struct {
	Leads []struct {
		PhoneNumber string         `json:"phone_number"`
		Metadata    map[string]any `json:"metadata"`
	} `json:"leads"`
}

func (h *HandlerSet) addLeads(ctx *fiber.Ctx) error {
	campaignID, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid campaign id")
	}

	var req addLeadsRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.Leads) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "leads must not be empty")
	}

	repos := h.container.Repositories()
	if _, err := repos.Campaigns.Get(ctx.Context(), campaignID); err != nil {
		return translateError(err)
	}

	now := time.Now().UTC()
	leads := make([]domain.Lead, 0, len(req.Leads))
	for _, lead := range req.Leads {
		if lead.PhoneNumber == "" {
			return fiber.NewError(fiber.StatusBadRequest, "lead phone_number is required")
		}
		leads = append(leads, domain.Lead{
			ID:          uuid.New(),
			CampaignID:  campaignID,
			PhoneNumber: lead.PhoneNumber,
			State:       domain.LeadStateNew,
			Metadata:    lead.Metadata,
			CreatedAt:   now,
		})
	}

	if err := repos.Leads.BulkInsert(ctx.Context(), campaignID, leads); err != nil {
		return translateError(err)
	}

	return created(ctx, fiber.Map{"campaign_id": campaignID, "leads_added": len(leads)})
}

type tickRequest struct {
	AccountID string `json:"account_id"`
}

func (h *HandlerSet) tick(ctx *fiber.Ctx) error {
	var req tickRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	accountID, err := uuid.Parse(req.AccountID)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid account_id")
	}

	decisions, err := h.scheduler.Tick(ctx.Context(), accountID)
	if err != nil {
		return translateError(err)
	}
	return ok(ctx, fiber.Map{"decisions": decisions})
}
