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

var ErrTemplateNotVisible = errutil.PermissionDeniedError(errors.New("template not accessible"))

type TemplateHandler interface {
	CreateTemplate(ctx context.Context, req *CreateTemplateRequest, res *CreateTemplateResponse) error
	UpdateTemplate(ctx context.Context, req *UpdateTemplateRequest, res *UpdateTemplateResponse) error
	GetTemplates(ctx context.Context, req *GetTemplatesRequest, res *GetTemplatesResponse) error

	// GetUsableTemplate loads a template the user may send with. Used by
	// the send paths.
	GetUsableTemplate(ctx context.Context, user *entity.User, tenantID, templateID uint64) (*entity.Template, error)
}

type templateHandler struct {
	templateRepo repo.TemplateRepo
}

func NewTemplateHandler(templateRepo repo.TemplateRepo) TemplateHandler {
	return &templateHandler{
		templateRepo,
	}
}

type CreateTemplateRequest struct {
	ContextInfo

	Name    *string `json:"name,omitempty"`
	Subject *string `json:"subject,omitempty"`
	Body    *string `json:"body,omitempty"`
	Shared  *bool   `json:"shared,omitempty"`
}

type CreateTemplateResponse struct {
	Template *entity.Template `json:"template"`
}

var CreateTemplateValidator = validator.MustForm(map[string]validator.Validator{
	"name":    ResourceNameValidator(false),
	"subject": &validator.String{MinLen: 1, MaxLen: 300},
	"body":    &validator.String{MinLen: 1, MaxLen: 100_000},
	"shared":  &validator.Bool{Optional: true},
})

func (h *templateHandler) CreateTemplate(ctx context.Context, req *CreateTemplateRequest, res *CreateTemplateResponse) error {
	if err := CreateTemplateValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	template := entity.NewTemplate(
		req.GetTenantID(),
		req.User,
		req.GetName(),
		req.GetSubject(),
		req.GetBody(),
		req.GetShared(),
	)

	id, err := h.templateRepo.Create(ctx, template)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("create template err: %v", err)
		return err
	}
	template.ID = goutil.Uint64(id)

	res.Template = template
	return nil
}

func (r *CreateTemplateRequest) GetName() string {
	if r != nil && r.Name != nil {
		return *r.Name
	}
	return ""
}

func (r *CreateTemplateRequest) GetSubject() string {
	if r != nil && r.Subject != nil {
		return *r.Subject
	}
	return ""
}

func (r *CreateTemplateRequest) GetBody() string {
	if r != nil && r.Body != nil {
		return *r.Body
	}
	return ""
}

func (r *CreateTemplateRequest) GetShared() bool {
	if r != nil && r.Shared != nil {
		return *r.Shared
	}
	return false
}

type UpdateTemplateRequest struct {
	ContextInfo

	TemplateID *uint64 `json:"template_id,omitempty"`
	Name       *string `json:"name,omitempty"`
	Subject    *string `json:"subject,omitempty"`
	Body       *string `json:"body,omitempty"`
	Shared     *bool   `json:"shared,omitempty"`
}

type UpdateTemplateResponse struct {
	Template *entity.Template `json:"template"`
}

var UpdateTemplateValidator = validator.MustForm(map[string]validator.Validator{
	"template_id": &validator.UInt64{},
	"name":        ResourceNameValidator(true),
	"subject":     &validator.String{Optional: true, MaxLen: 300},
	"body":        &validator.String{Optional: true, MaxLen: 100_000},
	"shared":      &validator.Bool{Optional: true},
})

func (h *templateHandler) UpdateTemplate(ctx context.Context, req *UpdateTemplateRequest, res *UpdateTemplateResponse) error {
	if err := UpdateTemplateValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	template, err := h.templateRepo.GetByID(ctx, req.GetTenantID(), *req.TemplateID)
	if err != nil {
		return err
	}

	scope := entity.ResolveScope(req.User, entity.ResourceTemplate)
	if !scope.Match(template) {
		return ErrTemplateNotVisible
	}
	if !scope.CanWrite(template) {
		return ErrTemplateNotVisible
	}

	if req.Name != nil {
		template.Name = req.Name
	}
	if req.Subject != nil {
		template.Subject = req.Subject
	}
	if req.Body != nil {
		template.Body = req.Body
	}
	if req.Shared != nil {
		template.Shared = req.Shared
	}
	template.UpdateTime = goutil.Uint64(uint64(time.Now().Unix()))

	if err := h.templateRepo.Update(ctx, template); err != nil {
		log.Ctx(ctx).Error().Msgf("update template err: %v", err)
		return err
	}

	res.Template = template
	return nil
}

type GetTemplatesRequest struct {
	ContextInfo

	Pagination *entity.Pagination `json:"pagination,omitempty"`
}

type GetTemplatesResponse struct {
	Templates  []*entity.Template `json:"templates"`
	Pagination *entity.Pagination `json:"pagination,omitempty"`
}

func (h *templateHandler) GetTemplates(ctx context.Context, req *GetTemplatesRequest, res *GetTemplatesResponse) error {
	scope := entity.ResolveScope(req.User, entity.ResourceTemplate)

	templates, pagination, err := h.templateRepo.GetMany(ctx, req.GetTenantID(), scope, req.Pagination)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get templates err: %v", err)
		return err
	}

	res.Templates = templates
	res.Pagination = pagination
	return nil
}

func (h *templateHandler) GetUsableTemplate(ctx context.Context, user *entity.User, tenantID, templateID uint64) (*entity.Template, error) {
	template, err := h.templateRepo.GetByID(ctx, tenantID, templateID)
	if err != nil {
		return nil, err
	}

	scope := entity.ResolveScope(user, entity.ResourceTemplate)
	if !scope.Match(template) {
		return nil, ErrTemplateNotVisible
	}

	return template, nil
}
