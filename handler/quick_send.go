package handler

import (
	"context"

	"crm/entity"
	"crm/pkg/errutil"
	"crm/pkg/validator"
	"crm/repo"
)

type QuickSendHandler interface {
	QuickSend(ctx context.Context, req *QuickSendRequest, res *QuickSendResponse) error
}

type quickSendHandler struct {
	leadRepo        repo.LeadRepo
	templateHandler TemplateHandler
	sender          Sender
}

func NewQuickSendHandler(leadRepo repo.LeadRepo, templateHandler TemplateHandler, sender Sender) QuickSendHandler {
	return &quickSendHandler{
		leadRepo,
		templateHandler,
		sender,
	}
}

type QuickSendRequest struct {
	ContextInfo

	LeadID     *uint64 `json:"lead_id,omitempty"`
	TemplateID *uint64 `json:"template_id,omitempty"`
}

type QuickSendResponse struct {
	Email    *entity.Email            `json:"email"`
	Warnings []entity.TemplateWarning `json:"warnings,omitempty"`
}

var QuickSendValidator = validator.MustForm(map[string]validator.Validator{
	"lead_id":     &validator.UInt64{},
	"template_id": &validator.UInt64{},
})

// QuickSend delivers one templated email to one lead right now. The lead
// must be inside the caller's scope and the template usable by them.
func (h *quickSendHandler) QuickSend(ctx context.Context, req *QuickSendRequest, res *QuickSendResponse) error {
	if err := QuickSendValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	lead, err := h.leadRepo.GetByID(ctx, req.GetTenantID(), *req.LeadID)
	if err != nil {
		return err
	}

	scope := entity.ResolveScope(req.User, entity.ResourceLead)
	if !scope.Match(lead) {
		return ErrLeadOutsideSendScope
	}

	template, err := h.templateHandler.GetUsableTemplate(ctx, req.User, req.GetTenantID(), *req.TemplateID)
	if err != nil {
		return err
	}

	result, err := h.sender.SendToLead(ctx, req.User, lead, template, entity.EmailOriginAdHoc, nil, nil)
	if err != nil {
		return err
	}

	res.Email = result.Email
	res.Warnings = result.Warnings
	return nil
}
