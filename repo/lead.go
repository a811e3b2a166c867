package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"crm/entity"
	"crm/pkg/errutil"
)

var ErrLeadNotFound = errutil.NotFoundError(errors.New("lead not found"))

type Lead struct {
	ID         *uint64
	TenantID   *uint64
	OwnerID    *uint64
	CreatorID  *uint64
	Department *string
	FirstName  *string
	LastName   *string
	Email      *string
	Phone      *string
	Company    *string
	Status     *uint32
	Priority   *uint32
	CreateTime *uint64
	UpdateTime *uint64
}

func (m *Lead) TableName() string {
	return "lead_tab"
}

func (m *Lead) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

type LeadFilter struct {
	Statuses   []uint32
	Priorities []uint32
	OwnerID    *uint64
	Keyword    *string
	Pagination *entity.Pagination
}

type LeadRepo interface {
	Create(ctx context.Context, lead *entity.Lead) (uint64, error)
	Update(ctx context.Context, lead *entity.Lead) error
	GetByID(ctx context.Context, tenantID, id uint64) (*entity.Lead, error)
	GetMany(ctx context.Context, tenantID uint64, scope entity.Scope, f *LeadFilter) ([]*entity.Lead, *entity.Pagination, error)
	GetByIDs(ctx context.Context, tenantID uint64, ids []uint64) ([]*entity.Lead, error)
	GetByAudience(ctx context.Context, tenantID uint64, scope entity.Scope, audience *entity.AudienceFilter) ([]*entity.Lead, error)
}

type leadRepo struct {
	baseRepo BaseRepo
}

func NewLeadRepo(_ context.Context, baseRepo BaseRepo) LeadRepo {
	return &leadRepo{baseRepo: baseRepo}
}

func (r *leadRepo) Create(ctx context.Context, lead *entity.Lead) (uint64, error) {
	leadModel := ToLeadModel(lead)

	if err := r.baseRepo.Create(ctx, leadModel); err != nil {
		return 0, err
	}

	return leadModel.GetID(), nil
}

func (r *leadRepo) Update(ctx context.Context, lead *entity.Lead) error {
	return r.baseRepo.Update(ctx, ToLeadModel(lead))
}

func (r *leadRepo) GetByID(ctx context.Context, tenantID, id uint64) (*entity.Lead, error) {
	lead := new(Lead)

	if err := r.baseRepo.Get(ctx, lead, &Filter{
		Conditions: []*Condition{
			{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
			{Field: "id", Value: id, Op: OpEq},
		},
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLeadNotFound
		}
		return nil, err
	}

	return ToLead(lead), nil
}

func (r *leadRepo) GetMany(ctx context.Context, tenantID uint64, scope entity.Scope, f *LeadFilter) ([]*entity.Lead, *entity.Pagination, error) {
	conditions := []*Condition{
		{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
	}
	conditions = appendScoped(conditions, scope)

	if f != nil {
		if len(f.Statuses) > 0 {
			conditions = append(conditions, &Condition{Field: "status", Value: f.Statuses, Op: OpIn, NextLogicalOp: And})
		}
		if len(f.Priorities) > 0 {
			conditions = append(conditions, &Condition{Field: "priority", Value: f.Priorities, Op: OpIn, NextLogicalOp: And})
		}
		if f.OwnerID != nil {
			conditions = append(conditions, &Condition{Field: "owner_id", Value: *f.OwnerID, Op: OpEq, NextLogicalOp: And})
		}
		if f.Keyword != nil && *f.Keyword != "" {
			keyword := "%" + *f.Keyword + "%"
			conditions = append(conditions, &Condition{
				Group: []*Condition{
					{Field: "first_name", Value: keyword, Op: OpLike, NextLogicalOp: Or},
					{Field: "last_name", Value: keyword, Op: OpLike, NextLogicalOp: Or},
					{Field: "company", Value: keyword, Op: OpLike, NextLogicalOp: Or},
					{Field: "email", Value: keyword, Op: OpLike},
				},
				NextLogicalOp: And,
			})
		}
	}
	trimTrailingLogicalOp(conditions)

	var pagination *entity.Pagination
	if f != nil {
		pagination = f.Pagination
	}

	res, pagination, err := r.baseRepo.GetMany(ctx, new(Lead), &Filter{
		Conditions: conditions,
		Pagination: pagination,
	})
	if err != nil {
		return nil, nil, err
	}

	leads := make([]*entity.Lead, 0, len(res))
	for _, m := range res {
		leads = append(leads, ToLead(m.(*Lead)))
	}

	return leads, pagination, nil
}

func (r *leadRepo) GetByIDs(ctx context.Context, tenantID uint64, ids []uint64) ([]*entity.Lead, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	res, _, err := r.baseRepo.GetMany(ctx, new(Lead), &Filter{
		Conditions: []*Condition{
			{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
			{Field: "id", Value: ids, Op: OpIn},
		},
	})
	if err != nil {
		return nil, err
	}

	leads := make([]*entity.Lead, 0, len(res))
	for _, m := range res {
		leads = append(leads, ToLead(m.(*Lead)))
	}

	return leads, nil
}

// GetByAudience expands a campaign audience under the sender's current
// scope. Leads outside the scope are excluded silently.
func (r *leadRepo) GetByAudience(ctx context.Context, tenantID uint64, scope entity.Scope, audience *entity.AudienceFilter) ([]*entity.Lead, error) {
	conditions := []*Condition{
		{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
	}
	conditions = appendScoped(conditions, scope)

	if audience != nil {
		if len(audience.Statuses) > 0 {
			conditions = append(conditions, &Condition{Field: "status", Value: audience.Statuses, Op: OpIn, NextLogicalOp: And})
		}
		if len(audience.Priorities) > 0 {
			conditions = append(conditions, &Condition{Field: "priority", Value: audience.Priorities, Op: OpIn, NextLogicalOp: And})
		}
		if len(audience.LeadIDs) > 0 {
			conditions = append(conditions, &Condition{Field: "id", Value: audience.LeadIDs, Op: OpIn, NextLogicalOp: And})
		}
	}
	trimTrailingLogicalOp(conditions)

	res, _, err := r.baseRepo.GetMany(ctx, new(Lead), &Filter{Conditions: conditions})
	if err != nil {
		return nil, err
	}

	leads := make([]*entity.Lead, 0, len(res))
	for _, m := range res {
		leads = append(leads, ToLead(m.(*Lead)))
	}

	return leads, nil
}

func appendScoped(conditions []*Condition, scope entity.Scope) []*Condition {
	scoped := ToScopeConditions(scope)
	for i := range scoped {
		if i == len(scoped)-1 {
			scoped[i].NextLogicalOp = And
		}
	}
	return append(conditions, scoped...)
}

func trimTrailingLogicalOp(conditions []*Condition) {
	if len(conditions) > 0 {
		conditions[len(conditions)-1].NextLogicalOp = ""
	}
}

func ToLead(m *Lead) *entity.Lead {
	return &entity.Lead{
		ID:         m.ID,
		TenantID:   m.TenantID,
		OwnerID:    m.OwnerID,
		CreatorID:  m.CreatorID,
		Department: m.Department,
		FirstName:  m.FirstName,
		LastName:   m.LastName,
		Email:      m.Email,
		Phone:      m.Phone,
		Company:    m.Company,
		Status:     toLeadStatus(m.Status),
		Priority:   toLeadPriority(m.Priority),
		CreateTime: m.CreateTime,
		UpdateTime: m.UpdateTime,
	}
}

func ToLeadModel(e *entity.Lead) *Lead {
	var (
		status   = uint32(e.GetStatus())
		priority = uint32(e.GetPriority())
	)
	return &Lead{
		ID:         e.ID,
		TenantID:   e.TenantID,
		OwnerID:    e.OwnerID,
		CreatorID:  e.CreatorID,
		Department: e.Department,
		FirstName:  e.FirstName,
		LastName:   e.LastName,
		Email:      e.Email,
		Phone:      e.Phone,
		Company:    e.Company,
		Status:     &status,
		Priority:   &priority,
		CreateTime: e.CreateTime,
		UpdateTime: e.UpdateTime,
	}
}

func toLeadStatus(status *uint32) entity.LeadStatus {
	if status == nil {
		return entity.LeadStatusUnknown
	}
	return entity.LeadStatus(*status)
}

func toLeadPriority(priority *uint32) entity.LeadPriority {
	if priority == nil {
		return entity.LeadPriorityUnknown
	}
	return entity.LeadPriority(*priority)
}
