package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"crm/entity"
	"crm/pkg/errutil"
)

var ErrTenantNotFound = errutil.NotFoundError(errors.New("tenant not found"))

type Tenant struct {
	ID         *uint64
	Name       *string
	Status     *uint32
	CreateTime *uint64
	UpdateTime *uint64
}

func (m *Tenant) TableName() string {
	return "tenant_tab"
}

func (m *Tenant) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

type TenantRepo interface {
	Create(ctx context.Context, tenant *entity.Tenant) (uint64, error)
	GetByID(ctx context.Context, id uint64) (*entity.Tenant, error)
	GetByName(ctx context.Context, name string) (*entity.Tenant, error)
}

type tenantRepo struct {
	baseRepo BaseRepo
}

func NewTenantRepo(_ context.Context, baseRepo BaseRepo) TenantRepo {
	return &tenantRepo{baseRepo: baseRepo}
}

func (r *tenantRepo) Create(ctx context.Context, tenant *entity.Tenant) (uint64, error) {
	tenantModel := ToTenantModel(tenant)

	if err := r.baseRepo.Create(ctx, tenantModel); err != nil {
		return 0, err
	}

	return tenantModel.GetID(), nil
}

func (r *tenantRepo) GetByID(ctx context.Context, id uint64) (*entity.Tenant, error) {
	return r.get(ctx, []*Condition{
		{Field: "id", Value: id, Op: OpEq, NextLogicalOp: And},
		{Field: "status", Value: uint32(entity.TenantStatusNormal), Op: OpEq},
	})
}

func (r *tenantRepo) GetByName(ctx context.Context, name string) (*entity.Tenant, error) {
	return r.get(ctx, []*Condition{
		{Field: "name", Value: name, Op: OpEq, NextLogicalOp: And},
		{Field: "status", Value: uint32(entity.TenantStatusNormal), Op: OpEq},
	})
}

func (r *tenantRepo) get(ctx context.Context, conditions []*Condition) (*entity.Tenant, error) {
	tenant := new(Tenant)

	if err := r.baseRepo.Get(ctx, tenant, &Filter{Conditions: conditions}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, err
	}

	return ToTenant(tenant), nil
}

func ToTenant(m *Tenant) *entity.Tenant {
	return &entity.Tenant{
		ID:         m.ID,
		Name:       m.Name,
		Status:     toTenantStatus(m.Status),
		CreateTime: m.CreateTime,
		UpdateTime: m.UpdateTime,
	}
}

func ToTenantModel(e *entity.Tenant) *Tenant {
	status := uint32(e.GetStatus())
	return &Tenant{
		ID:         e.ID,
		Name:       e.Name,
		Status:     &status,
		CreateTime: e.CreateTime,
		UpdateTime: e.UpdateTime,
	}
}

func toTenantStatus(status *uint32) entity.TenantStatus {
	if status == nil {
		return entity.TenantStatusUnknown
	}
	return entity.TenantStatus(*status)
}
