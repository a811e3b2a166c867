package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"crm/entity"
	"crm/pkg/errutil"
)

var ErrTemplateNotFound = errutil.NotFoundError(errors.New("template not found"))

type Template struct {
	ID         *uint64
	TenantID   *uint64
	OwnerID    *uint64
	Department *string
	Name       *string
	Subject    *string
	Body       *string
	Shared     *bool
	Status     *uint32
	CreateTime *uint64
	UpdateTime *uint64
}

func (m *Template) TableName() string {
	return "template_tab"
}

func (m *Template) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

type TemplateRepo interface {
	Create(ctx context.Context, template *entity.Template) (uint64, error)
	Update(ctx context.Context, template *entity.Template) error
	GetByID(ctx context.Context, tenantID, id uint64) (*entity.Template, error)
	GetMany(ctx context.Context, tenantID uint64, scope entity.Scope, p *entity.Pagination) ([]*entity.Template, *entity.Pagination, error)
}

type templateRepo struct {
	baseRepo  BaseRepo
	baseCache BaseCache
}

func NewTemplateRepo(_ context.Context, baseRepo BaseRepo, baseCache BaseCache) TemplateRepo {
	return &templateRepo{baseRepo: baseRepo, baseCache: baseCache}
}

func (r *templateRepo) Create(ctx context.Context, template *entity.Template) (uint64, error) {
	templateModel := ToTemplateModel(template)

	if err := r.baseRepo.Create(ctx, templateModel); err != nil {
		return 0, err
	}

	return templateModel.GetID(), nil
}

func (r *templateRepo) Update(ctx context.Context, template *entity.Template) error {
	if err := r.baseRepo.Update(ctx, ToTemplateModel(template)); err != nil {
		return err
	}

	r.baseCache.Del(ctx, CachePrefixTemplate, template.GetTenantID(), template.GetID())
	return nil
}

func (r *templateRepo) GetByID(ctx context.Context, tenantID, id uint64) (*entity.Template, error) {
	if v, ok := r.baseCache.Get(ctx, CachePrefixTemplate, tenantID, id); ok {
		return v.(*entity.Template), nil
	}

	template := new(Template)

	if err := r.baseRepo.Get(ctx, template, &Filter{
		Conditions: []*Condition{
			{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
			{Field: "id", Value: id, Op: OpEq, NextLogicalOp: And},
			{Field: "status", Value: uint32(entity.TemplateStatusNormal), Op: OpEq},
		},
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}

	res := ToTemplate(template)
	r.baseCache.Set(ctx, CachePrefixTemplate, tenantID, id, res)

	return res, nil
}

func (r *templateRepo) GetMany(ctx context.Context, tenantID uint64, scope entity.Scope, p *entity.Pagination) ([]*entity.Template, *entity.Pagination, error) {
	conditions := []*Condition{
		{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
	}
	conditions = appendScoped(conditions, scope)
	conditions = append(conditions, &Condition{Field: "status", Value: uint32(entity.TemplateStatusNormal), Op: OpEq})

	res, p, err := r.baseRepo.GetMany(ctx, new(Template), &Filter{
		Conditions: conditions,
		Pagination: p,
	})
	if err != nil {
		return nil, nil, err
	}

	templates := make([]*entity.Template, 0, len(res))
	for _, m := range res {
		templates = append(templates, ToTemplate(m.(*Template)))
	}

	return templates, p, nil
}

func ToTemplate(m *Template) *entity.Template {
	return &entity.Template{
		ID:         m.ID,
		TenantID:   m.TenantID,
		OwnerID:    m.OwnerID,
		Department: m.Department,
		Name:       m.Name,
		Subject:    m.Subject,
		Body:       m.Body,
		Shared:     m.Shared,
		Status:     toTemplateStatus(m.Status),
		CreateTime: m.CreateTime,
		UpdateTime: m.UpdateTime,
	}
}

func ToTemplateModel(e *entity.Template) *Template {
	status := uint32(e.GetStatus())
	return &Template{
		ID:         e.ID,
		TenantID:   e.TenantID,
		OwnerID:    e.OwnerID,
		Department: e.Department,
		Name:       e.Name,
		Subject:    e.Subject,
		Body:       e.Body,
		Shared:     e.Shared,
		Status:     &status,
		CreateTime: e.CreateTime,
		UpdateTime: e.UpdateTime,
	}
}

func toTemplateStatus(status *uint32) entity.TemplateStatus {
	if status == nil {
		return entity.TemplateStatusUnknown
	}
	return entity.TemplateStatus(*status)
}
