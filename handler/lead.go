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
	ErrLeadNotVisible = errutil.PermissionDeniedError(errors.New("lead not accessible"))
	ErrLeadReadOnly   = errutil.PermissionDeniedError(errors.New("no write access to lead"))
)

type LeadHandler interface {
	CreateLead(ctx context.Context, req *CreateLeadRequest, res *CreateLeadResponse) error
	UpdateLead(ctx context.Context, req *UpdateLeadRequest, res *UpdateLeadResponse) error
	GetLead(ctx context.Context, req *GetLeadRequest, res *GetLeadResponse) error
	GetLeads(ctx context.Context, req *GetLeadsRequest, res *GetLeadsResponse) error
}

type leadHandler struct {
	leadRepo repo.LeadRepo
	userRepo repo.UserRepo
}

func NewLeadHandler(leadRepo repo.LeadRepo, userRepo repo.UserRepo) LeadHandler {
	return &leadHandler{
		leadRepo,
		userRepo,
	}
}

type CreateLeadRequest struct {
	ContextInfo

	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Company   *string `json:"company,omitempty"`
	OwnerID   *uint64 `json:"owner_id,omitempty"`
}

type CreateLeadResponse struct {
	Lead *entity.Lead `json:"lead"`
}

var CreateLeadValidator = validator.MustForm(map[string]validator.Validator{
	"first_name": &validator.String{Optional: true, MaxLen: 60},
	"last_name":  &validator.String{Optional: true, MaxLen: 60},
	"email":      EmailValidator(false),
	"phone":      &validator.String{Optional: true, MaxLen: 30},
	"company":    &validator.String{Optional: true, MaxLen: 120},
	"owner_id":   &validator.UInt64{Optional: true},
})

func (h *leadHandler) CreateLead(ctx context.Context, req *CreateLeadRequest, res *CreateLeadResponse) error {
	if err := CreateLeadValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	// marketing can see its own created leads but never write leads
	if req.User.GetRole() == entity.RoleMarketing {
		return ErrLeadReadOnly
	}

	owner := req.User
	if req.OwnerID != nil && *req.OwnerID != req.GetUserID() {
		var err error
		owner, err = h.resolveOwner(ctx, req.GetTenantID(), req.User, *req.OwnerID)
		if err != nil {
			return err
		}
	}

	lead := entity.NewLead(req.GetTenantID(), req.User, owner)
	lead.FirstName = req.FirstName
	lead.LastName = req.LastName
	lead.Email = req.Email
	lead.Phone = req.Phone
	lead.Company = req.Company

	id, err := h.leadRepo.Create(ctx, lead)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("create lead err: %v", err)
		return err
	}
	lead.ID = goutil.Uint64(id)

	res.Lead = lead
	return nil
}

// resolveOwner checks that assigning to another user is permitted: reps may
// only own their leads themselves, managers may assign within their
// department, admins anywhere in the tenant.
func (h *leadHandler) resolveOwner(ctx context.Context, tenantID uint64, actor *entity.User, ownerID uint64) (*entity.User, error) {
	owner, err := h.userRepo.GetByTenantAndID(ctx, tenantID, ownerID)
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return nil, errutil.BadRequestError(errors.New("owner not found"))
		}
		log.Ctx(ctx).Error().Msgf("get owner err: %v", err)
		return nil, err
	}

	switch actor.GetRole() {
	case entity.RoleSuperAdmin, entity.RoleAdmin:
		return owner, nil
	case entity.RoleSalesManager:
		if actor.GetDepartment() != "" && owner.GetDepartment() == actor.GetDepartment() {
			return owner, nil
		}
		return nil, errutil.PermissionDeniedError(errors.New("cannot assign outside department"))
	default:
		return nil, errutil.PermissionDeniedError(errors.New("cannot assign leads to others"))
	}
}

type UpdateLeadRequest struct {
	ContextInfo

	LeadID    *uint64 `json:"lead_id,omitempty"`
	FirstName *string `json:"first_name,omitempty"`
	LastName  *string `json:"last_name,omitempty"`
	Email     *string `json:"email,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Company   *string `json:"company,omitempty"`
	Status    *uint32 `json:"status,omitempty"`
	Priority  *uint32 `json:"priority,omitempty"`
	OwnerID   *uint64 `json:"owner_id,omitempty"`
}

type UpdateLeadResponse struct {
	Lead *entity.Lead `json:"lead"`
}

var UpdateLeadValidator = validator.MustForm(map[string]validator.Validator{
	"lead_id":    &validator.UInt64{},
	"first_name": &validator.String{Optional: true, MaxLen: 60},
	"last_name":  &validator.String{Optional: true, MaxLen: 60},
	"email":      EmailValidator(true),
	"phone":      &validator.String{Optional: true, MaxLen: 30},
	"company":    &validator.String{Optional: true, MaxLen: 120},
	"status":     &validator.UInt32{Optional: true},
	"priority":   &validator.UInt32{Optional: true},
	"owner_id":   &validator.UInt64{Optional: true},
})

func (h *leadHandler) UpdateLead(ctx context.Context, req *UpdateLeadRequest, res *UpdateLeadResponse) error {
	if err := UpdateLeadValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	lead, err := h.getWritableLead(ctx, &req.ContextInfo, *req.LeadID)
	if err != nil {
		return err
	}

	if req.FirstName != nil {
		lead.FirstName = req.FirstName
	}
	if req.LastName != nil {
		lead.LastName = req.LastName
	}
	if req.Email != nil {
		lead.Email = req.Email
	}
	if req.Phone != nil {
		lead.Phone = req.Phone
	}
	if req.Company != nil {
		lead.Company = req.Company
	}
	if req.Status != nil {
		status := entity.LeadStatus(*req.Status)
		if status == entity.LeadStatusUnknown || status > entity.LeadStatusOnHold {
			return errutil.ValidationError(errors.New("invalid lead status"))
		}
		lead.Status = status
	}
	if req.Priority != nil {
		priority := entity.LeadPriority(*req.Priority)
		if priority == entity.LeadPriorityUnknown || priority > entity.LeadPriorityCold {
			return errutil.ValidationError(errors.New("invalid lead priority"))
		}
		lead.Priority = priority
	}
	if req.OwnerID != nil && *req.OwnerID != lead.GetOwnerID() {
		owner, err := h.resolveOwner(ctx, req.GetTenantID(), req.User, *req.OwnerID)
		if err != nil {
			return err
		}
		lead.Reassign(owner)
	}
	lead.UpdateTime = goutil.Uint64(uint64(time.Now().Unix()))

	if err := h.leadRepo.Update(ctx, lead); err != nil {
		log.Ctx(ctx).Error().Msgf("update lead err: %v", err)
		return err
	}

	res.Lead = lead
	return nil
}

// getWritableLead loads a lead and enforces write scope. Records outside
// the scope surface as permission errors, not as not found.
func (h *leadHandler) getWritableLead(ctx context.Context, info *ContextInfo, leadID uint64) (*entity.Lead, error) {
	lead, err := h.leadRepo.GetByID(ctx, info.GetTenantID(), leadID)
	if err != nil {
		if errors.Is(err, repo.ErrLeadNotFound) {
			return nil, err
		}
		log.Ctx(ctx).Error().Msgf("get lead err: %v", err)
		return nil, err
	}

	scope := entity.ResolveScope(info.User, entity.ResourceLead)
	if !scope.Match(lead) {
		return nil, ErrLeadNotVisible
	}
	if !scope.CanWrite(lead) {
		return nil, ErrLeadReadOnly
	}

	return lead, nil
}

type GetLeadRequest struct {
	ContextInfo

	LeadID *uint64 `json:"lead_id,omitempty" schema:"lead_id"`
}

type GetLeadResponse struct {
	Lead *entity.Lead `json:"lead"`
}

var GetLeadValidator = validator.MustForm(map[string]validator.Validator{
	"lead_id": &validator.UInt64{},
})

func (h *leadHandler) GetLead(ctx context.Context, req *GetLeadRequest, res *GetLeadResponse) error {
	if err := GetLeadValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	lead, err := h.leadRepo.GetByID(ctx, req.GetTenantID(), *req.LeadID)
	if err != nil {
		return err
	}

	scope := entity.ResolveScope(req.User, entity.ResourceLead)
	if !scope.Match(lead) {
		return ErrLeadNotVisible
	}

	res.Lead = lead
	return nil
}

type GetLeadsRequest struct {
	ContextInfo

	Statuses   []uint32           `json:"statuses,omitempty" schema:"statuses"`
	Priorities []uint32           `json:"priorities,omitempty" schema:"priorities"`
	OwnerID    *uint64            `json:"owner_id,omitempty" schema:"owner_id"`
	Keyword    *string            `json:"keyword,omitempty" schema:"keyword"`
	Pagination *entity.Pagination `json:"pagination,omitempty"`
}

type GetLeadsResponse struct {
	Leads      []*entity.Lead     `json:"leads"`
	Pagination *entity.Pagination `json:"pagination,omitempty"`
}

var GetLeadsValidator = validator.MustForm(map[string]validator.Validator{
	"statuses":   &validator.Slice{Optional: true, Validator: &validator.UInt32{}},
	"priorities": &validator.Slice{Optional: true, Validator: &validator.UInt32{}},
	"owner_id":   &validator.UInt64{Optional: true},
	"keyword":    &validator.String{Optional: true, MaxLen: 120},
})

// GetLeads lists leads inside the caller's scope; the scope filter is part
// of the query itself so no out-of-scope row is ever fetched.
func (h *leadHandler) GetLeads(ctx context.Context, req *GetLeadsRequest, res *GetLeadsResponse) error {
	if err := GetLeadsValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	scope := entity.ResolveScope(req.User, entity.ResourceLead)

	leads, pagination, err := h.leadRepo.GetMany(ctx, req.GetTenantID(), scope, &repo.LeadFilter{
		Statuses:   req.Statuses,
		Priorities: req.Priorities,
		OwnerID:    req.OwnerID,
		Keyword:    req.Keyword,
		Pagination: req.Pagination,
	})
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get leads err: %v", err)
		return err
	}

	res.Leads = leads
	res.Pagination = pagination
	return nil
}
