package handler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"crm/entity"
	"crm/pkg/errutil"
	"crm/pkg/goutil"
	"crm/pkg/validator"
	"crm/repo"
)

var (
	ErrCampaignNotVisible = errutil.PermissionDeniedError(errors.New("campaign not accessible"))
	ErrCampaignNotDraft   = errutil.InvalidStateError(errors.New("campaign is not a draft"))
	ErrCampaignMoved      = errutil.InvalidStateError(errors.New("campaign status changed concurrently"))
)

type CampaignHandler interface {
	CreateCampaign(ctx context.Context, req *CreateCampaignRequest, res *CreateCampaignResponse) error
	UpdateCampaign(ctx context.Context, req *UpdateCampaignRequest, res *UpdateCampaignResponse) error
	GetCampaign(ctx context.Context, req *GetCampaignRequest, res *GetCampaignResponse) error
	GetCampaigns(ctx context.Context, req *GetCampaignsRequest, res *GetCampaignsResponse) error
	ScheduleCampaign(ctx context.Context, req *ScheduleCampaignRequest, res *ScheduleCampaignResponse) error
	PauseCampaign(ctx context.Context, req *PauseCampaignRequest, res *PauseCampaignResponse) error
	ResumeCampaign(ctx context.Context, req *ResumeCampaignRequest, res *ResumeCampaignResponse) error
}

type campaignHandler struct {
	campaignRepo    repo.CampaignRepo
	templateHandler TemplateHandler
}

func NewCampaignHandler(campaignRepo repo.CampaignRepo, templateHandler TemplateHandler) CampaignHandler {
	return &campaignHandler{
		campaignRepo,
		templateHandler,
	}
}

type AudienceFilterRequest struct {
	Statuses   []uint32 `json:"statuses,omitempty"`
	Priorities []uint32 `json:"priorities,omitempty"`
	LeadIDs    []uint64 `json:"lead_ids,omitempty"`
}

func (r *AudienceFilterRequest) ToAudienceFilter() *entity.AudienceFilter {
	if r == nil {
		return nil
	}
	return &entity.AudienceFilter{
		Statuses:   r.Statuses,
		Priorities: r.Priorities,
		LeadIDs:    r.LeadIDs,
	}
}

type CreateCampaignRequest struct {
	ContextInfo

	Name       *string                `json:"name,omitempty"`
	TemplateID *uint64                `json:"template_id,omitempty"`
	Audience   *AudienceFilterRequest `json:"audience,omitempty"`
}

type CreateCampaignResponse struct {
	Campaign *entity.Campaign `json:"campaign"`
}

var CreateCampaignValidator = validator.MustForm(map[string]validator.Validator{
	"name":        ResourceNameValidator(false),
	"template_id": &validator.UInt64{},
})

func (h *campaignHandler) CreateCampaign(ctx context.Context, req *CreateCampaignRequest, res *CreateCampaignResponse) error {
	if err := CreateCampaignValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	// the sender must be able to use the template at creation time
	if _, err := h.templateHandler.GetUsableTemplate(ctx, req.User, req.GetTenantID(), *req.TemplateID); err != nil {
		return err
	}

	campaign := entity.NewCampaign(
		req.GetTenantID(),
		req.User,
		req.GetName(),
		*req.TemplateID,
		req.Audience.ToAudienceFilter(),
	)

	id, err := h.campaignRepo.Create(ctx, campaign)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("create campaign err: %v", err)
		return err
	}
	campaign.ID = goutil.Uint64(id)

	res.Campaign = campaign
	return nil
}

func (r *CreateCampaignRequest) GetName() string {
	if r != nil && r.Name != nil {
		return *r.Name
	}
	return ""
}

type UpdateCampaignRequest struct {
	ContextInfo

	CampaignID *uint64                `json:"campaign_id,omitempty"`
	Name       *string                `json:"name,omitempty"`
	TemplateID *uint64                `json:"template_id,omitempty"`
	Audience   *AudienceFilterRequest `json:"audience,omitempty"`
}

type UpdateCampaignResponse struct {
	Campaign *entity.Campaign `json:"campaign"`
}

var UpdateCampaignValidator = validator.MustForm(map[string]validator.Validator{
	"campaign_id": &validator.UInt64{},
	"name":        ResourceNameValidator(true),
	"template_id": &validator.UInt64{Optional: true},
})

// UpdateCampaign edits are only allowed while the campaign is a draft.
func (h *campaignHandler) UpdateCampaign(ctx context.Context, req *UpdateCampaignRequest, res *UpdateCampaignResponse) error {
	if err := UpdateCampaignValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	campaign, err := h.getWritableCampaign(ctx, &req.ContextInfo, *req.CampaignID)
	if err != nil {
		return err
	}

	if !campaign.IsDraft() {
		return ErrCampaignNotDraft
	}

	if req.Name != nil {
		campaign.Name = req.Name
	}
	if req.TemplateID != nil {
		if _, err := h.templateHandler.GetUsableTemplate(ctx, req.User, req.GetTenantID(), *req.TemplateID); err != nil {
			return err
		}
		campaign.TemplateID = req.TemplateID
	}
	if req.Audience != nil {
		campaign.Audience = req.Audience.ToAudienceFilter()
	}
	campaign.UpdateTime = goutil.Uint64(uint64(time.Now().Unix()))

	if err := h.campaignRepo.Update(ctx, campaign); err != nil {
		log.Ctx(ctx).Error().Msgf("update campaign err: %v", err)
		return err
	}

	res.Campaign = campaign
	return nil
}

func (h *campaignHandler) getWritableCampaign(ctx context.Context, info *ContextInfo, campaignID uint64) (*entity.Campaign, error) {
	campaign, err := h.campaignRepo.GetByID(ctx, info.GetTenantID(), campaignID)
	if err != nil {
		return nil, err
	}

	scope := entity.ResolveScope(info.User, entity.ResourceCampaign)
	if !scope.CanWrite(campaign) {
		return nil, ErrCampaignNotVisible
	}

	return campaign, nil
}

type GetCampaignRequest struct {
	ContextInfo

	CampaignID *uint64 `json:"campaign_id,omitempty" schema:"campaign_id"`
}

type GetCampaignResponse struct {
	Campaign *entity.Campaign `json:"campaign"`
}

var GetCampaignValidator = validator.MustForm(map[string]validator.Validator{
	"campaign_id": &validator.UInt64{},
})

func (h *campaignHandler) GetCampaign(ctx context.Context, req *GetCampaignRequest, res *GetCampaignResponse) error {
	if err := GetCampaignValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	campaign, err := h.campaignRepo.GetByID(ctx, req.GetTenantID(), *req.CampaignID)
	if err != nil {
		return err
	}

	scope := entity.ResolveScope(req.User, entity.ResourceCampaign)
	if !scope.Match(campaign) {
		return ErrCampaignNotVisible
	}

	res.Campaign = campaign
	return nil
}

type GetCampaignsRequest struct {
	ContextInfo

	Pagination *entity.Pagination `json:"pagination,omitempty"`
}

type GetCampaignsResponse struct {
	Campaigns  []*entity.Campaign `json:"campaigns"`
	Pagination *entity.Pagination `json:"pagination,omitempty"`
}

func (h *campaignHandler) GetCampaigns(ctx context.Context, req *GetCampaignsRequest, res *GetCampaignsResponse) error {
	scope := entity.ResolveScope(req.User, entity.ResourceCampaign)

	campaigns, pagination, err := h.campaignRepo.GetMany(ctx, req.GetTenantID(), scope, req.Pagination)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get campaigns err: %v", err)
		return err
	}

	res.Campaigns = campaigns
	res.Pagination = pagination
	return nil
}

type ScheduleCampaignRequest struct {
	ContextInfo

	CampaignID   *uint64 `json:"campaign_id,omitempty"`
	ScheduleTime *uint64 `json:"schedule_time,omitempty"`
}

type ScheduleCampaignResponse struct {
	Campaign *entity.Campaign `json:"campaign"`
}

var ScheduleCampaignValidator = validator.MustForm(map[string]validator.Validator{
	"campaign_id":   &validator.UInt64{},
	"schedule_time": &validator.UInt64{Optional: true},
})

// ScheduleCampaign moves a draft to scheduled. A zero or absent schedule
// time means the next sweep picks it up.
func (h *campaignHandler) ScheduleCampaign(ctx context.Context, req *ScheduleCampaignRequest, res *ScheduleCampaignResponse) error {
	if err := ScheduleCampaignValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	campaign, err := h.getWritableCampaign(ctx, &req.ContextInfo, *req.CampaignID)
	if err != nil {
		return err
	}

	scheduleTime := uint64(time.Now().Unix())
	if req.ScheduleTime != nil && *req.ScheduleTime > scheduleTime {
		scheduleTime = *req.ScheduleTime
	}

	if err := campaign.Schedule(scheduleTime); err != nil {
		return err
	}

	if err := h.campaignRepo.Update(ctx, campaign); err != nil {
		log.Ctx(ctx).Error().Msgf("schedule campaign err: %v", err)
		return err
	}

	res.Campaign = campaign
	return nil
}

type PauseCampaignRequest struct {
	ContextInfo

	CampaignID *uint64 `json:"campaign_id,omitempty"`
}

type PauseCampaignResponse struct {
	Campaign *entity.Campaign `json:"campaign"`
}

var PauseCampaignValidator = validator.MustForm(map[string]validator.Validator{
	"campaign_id": &validator.UInt64{},
})

// PauseCampaign stops further dispatch. In-flight deliveries finish; the
// pause takes effect between emails.
func (h *campaignHandler) PauseCampaign(ctx context.Context, req *PauseCampaignRequest, res *PauseCampaignResponse) error {
	if err := PauseCampaignValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	return h.transit(ctx, &req.ContextInfo, *req.CampaignID, entity.CampaignStatusSending, entity.CampaignStatusPaused, &res.Campaign)
}

type ResumeCampaignRequest struct {
	ContextInfo

	CampaignID *uint64 `json:"campaign_id,omitempty"`
}

type ResumeCampaignResponse struct {
	Campaign *entity.Campaign `json:"campaign"`
}

var ResumeCampaignValidator = validator.MustForm(map[string]validator.Validator{
	"campaign_id": &validator.UInt64{},
})

func (h *campaignHandler) ResumeCampaign(ctx context.Context, req *ResumeCampaignRequest, res *ResumeCampaignResponse) error {
	if err := ResumeCampaignValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	return h.transit(ctx, &req.ContextInfo, *req.CampaignID, entity.CampaignStatusPaused, entity.CampaignStatusSending, &res.Campaign)
}

// transit applies a guarded status move with a compare-and-set so a racing
// sweeper or second operator cannot double-apply it.
func (h *campaignHandler) transit(ctx context.Context, info *ContextInfo, campaignID uint64, from, to entity.CampaignStatus, out **entity.Campaign) error {
	campaign, err := h.getWritableCampaign(ctx, info, campaignID)
	if err != nil {
		return err
	}

	if err := campaign.Transit(to); err != nil {
		return err
	}

	moved, err := h.campaignRepo.UpdateStatusFrom(ctx, info.GetTenantID(), campaignID, from, to)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("update campaign status err: %v", err)
		return err
	}
	if !moved {
		return ErrCampaignMoved
	}

	campaign.Status = to
	*out = campaign
	return nil
}
