package repo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"crm/entity"
	"crm/pkg/errutil"
	"crm/pkg/goutil"
)

var ErrCampaignNotFound = errutil.NotFoundError(errors.New("campaign not found"))

type Campaign struct {
	ID           *uint64
	TenantID     *uint64
	OwnerID      *uint64
	Department   *string
	Name         *string
	TemplateID   *uint64
	Audience     *string
	Status       *uint32
	ScheduleTime *uint64
	SentCount    *uint64
	FailedCount  *uint64
	OpenCount    *uint64
	ClickCount   *uint64
	UniqueClicks *uint64
	CreateTime   *uint64
	UpdateTime   *uint64
}

func (m *Campaign) TableName() string {
	return "campaign_tab"
}

func (m *Campaign) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

type CampaignRepo interface {
	Create(ctx context.Context, campaign *entity.Campaign) (uint64, error)
	Update(ctx context.Context, campaign *entity.Campaign) error
	GetByID(ctx context.Context, tenantID, id uint64) (*entity.Campaign, error)
	GetMany(ctx context.Context, tenantID uint64, scope entity.Scope, p *entity.Pagination) ([]*entity.Campaign, *entity.Pagination, error)
	// UpdateStatusFrom is the compare-and-set claim used by the sweeper and
	// by pause/resume. It reports false when the status already moved.
	UpdateStatusFrom(ctx context.Context, tenantID, id uint64, from, to entity.CampaignStatus) (bool, error)
	// GetDue returns campaigns ready for the activation sweep: scheduled
	// ones past their send time plus sending ones untouched since
	// resumedBefore, across all tenants.
	GetDue(ctx context.Context, now, resumedBefore time.Time, limit uint32) ([]*entity.Campaign, error)
	// GetStaleByStatuses returns campaigns in the given statuses whose
	// update_time is at or before updatedBefore.
	GetStaleByStatuses(ctx context.Context, statuses []entity.CampaignStatus, updatedBefore time.Time, limit uint32) ([]*entity.Campaign, error)
	// TakeOverSending re-claims a sending campaign untouched since
	// updatedBefore. Bumping update_time makes concurrent takeovers lose.
	TakeOverSending(ctx context.Context, tenantID, id uint64, updatedBefore, now time.Time) (bool, error)
	AddCounts(ctx context.Context, tenantID, id uint64, deltas map[string]uint64) error
}

type campaignRepo struct {
	baseRepo BaseRepo
}

func NewCampaignRepo(_ context.Context, baseRepo BaseRepo) CampaignRepo {
	return &campaignRepo{baseRepo: baseRepo}
}

func (r *campaignRepo) Create(ctx context.Context, campaign *entity.Campaign) (uint64, error) {
	campaignModel, err := ToCampaignModel(campaign)
	if err != nil {
		return 0, err
	}

	if err := r.baseRepo.Create(ctx, campaignModel); err != nil {
		return 0, err
	}

	return campaignModel.GetID(), nil
}

func (r *campaignRepo) Update(ctx context.Context, campaign *entity.Campaign) error {
	campaignModel, err := ToCampaignModel(campaign)
	if err != nil {
		return err
	}
	return r.baseRepo.Update(ctx, campaignModel)
}

func (r *campaignRepo) GetByID(ctx context.Context, tenantID, id uint64) (*entity.Campaign, error) {
	campaign := new(Campaign)

	if err := r.baseRepo.Get(ctx, campaign, &Filter{
		Conditions: []*Condition{
			{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
			{Field: "id", Value: id, Op: OpEq},
		},
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, err
	}

	return ToCampaign(campaign)
}

func (r *campaignRepo) GetMany(ctx context.Context, tenantID uint64, scope entity.Scope, p *entity.Pagination) ([]*entity.Campaign, *entity.Pagination, error) {
	conditions := []*Condition{
		{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
	}
	conditions = appendScoped(conditions, scope)
	trimTrailingLogicalOp(conditions)

	res, p, err := r.baseRepo.GetMany(ctx, new(Campaign), &Filter{
		Conditions: conditions,
		Pagination: p,
	})
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]*entity.Campaign, 0, len(res))
	for _, m := range res {
		campaign, err := ToCampaign(m.(*Campaign))
		if err != nil {
			return nil, nil, err
		}
		campaigns = append(campaigns, campaign)
	}

	return campaigns, p, nil
}

func (r *campaignRepo) UpdateStatusFrom(ctx context.Context, tenantID, id uint64, from, to entity.CampaignStatus) (bool, error) {
	rows, err := r.baseRepo.UpdateWhere(ctx, new(Campaign), map[string]interface{}{
		"status":      uint32(to),
		"update_time": time.Now().Unix(),
	}, &Filter{
		Conditions: []*Condition{
			{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
			{Field: "id", Value: id, Op: OpEq, NextLogicalOp: And},
			{Field: "status", Value: uint32(from), Op: OpEq},
		},
	})
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// GetDue returns campaigns the sweep should work on: scheduled campaigns
// whose send time has passed, plus sending campaigns that have not moved
// since resumedBefore. The latter are resumed or stranded mid-dispatch;
// active dispatch keeps bumping update_time, so it never matches here.
func (r *campaignRepo) GetDue(ctx context.Context, now, resumedBefore time.Time, limit uint32) ([]*entity.Campaign, error) {
	res, _, err := r.baseRepo.GetMany(ctx, new(Campaign), &Filter{
		Conditions: []*Condition{
			{
				Group: []*Condition{
					{Field: "status", Value: uint32(entity.CampaignStatusScheduled), Op: OpEq, NextLogicalOp: And},
					{Field: "schedule_time", Value: uint64(now.Unix()), Op: OpLte},
				},
				NextLogicalOp: Or,
			},
			{
				Group: []*Condition{
					{Field: "status", Value: uint32(entity.CampaignStatusSending), Op: OpEq, NextLogicalOp: And},
					{Field: "update_time", Value: uint64(resumedBefore.Unix()), Op: OpLte},
				},
			},
		},
		Pagination: &entity.Pagination{Limit: goutil.Uint32(limit)},
	})
	if err != nil {
		return nil, err
	}

	return toCampaigns(res)
}

func (r *campaignRepo) GetStaleByStatuses(ctx context.Context, statuses []entity.CampaignStatus, updatedBefore time.Time, limit uint32) ([]*entity.Campaign, error) {
	values := make([]uint32, 0, len(statuses))
	for _, s := range statuses {
		values = append(values, uint32(s))
	}

	res, _, err := r.baseRepo.GetMany(ctx, new(Campaign), &Filter{
		Conditions: []*Condition{
			{Field: "status", Value: values, Op: OpIn, NextLogicalOp: And},
			{Field: "update_time", Value: uint64(updatedBefore.Unix()), Op: OpLte},
		},
		Pagination: &entity.Pagination{Limit: goutil.Uint32(limit)},
	})
	if err != nil {
		return nil, err
	}

	return toCampaigns(res)
}

func (r *campaignRepo) TakeOverSending(ctx context.Context, tenantID, id uint64, updatedBefore, now time.Time) (bool, error) {
	rows, err := r.baseRepo.UpdateWhere(ctx, new(Campaign), map[string]interface{}{
		"update_time": now.Unix(),
	}, &Filter{
		Conditions: []*Condition{
			{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
			{Field: "id", Value: id, Op: OpEq, NextLogicalOp: And},
			{Field: "status", Value: uint32(entity.CampaignStatusSending), Op: OpEq, NextLogicalOp: And},
			{Field: "update_time", Value: uint64(updatedBefore.Unix()), Op: OpLte},
		},
	})
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// AddCounts increments stats columns atomically. Counters never decrease.
func (r *campaignRepo) AddCounts(ctx context.Context, tenantID, id uint64, deltas map[string]uint64) error {
	if len(deltas) == 0 {
		return nil
	}

	values := make(map[string]interface{}, len(deltas))
	for field, delta := range deltas {
		values[field] = gorm.Expr(field+" + ?", delta)
	}
	values["update_time"] = time.Now().Unix()

	_, err := r.baseRepo.UpdateWhere(ctx, new(Campaign), values, &Filter{
		Conditions: []*Condition{
			{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
			{Field: "id", Value: id, Op: OpEq},
		},
	})
	return err
}

func toCampaigns(res []interface{}) ([]*entity.Campaign, error) {
	campaigns := make([]*entity.Campaign, 0, len(res))
	for _, m := range res {
		campaign, err := ToCampaign(m.(*Campaign))
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, campaign)
	}
	return campaigns, nil
}

func ToCampaign(m *Campaign) (*entity.Campaign, error) {
	var audience *entity.AudienceFilter
	if m.Audience != nil && *m.Audience != "" {
		audience = new(entity.AudienceFilter)
		if err := json.Unmarshal([]byte(*m.Audience), audience); err != nil {
			return nil, err
		}
	}

	var status entity.CampaignStatus
	if m.Status != nil {
		status = entity.CampaignStatus(*m.Status)
	}

	return &entity.Campaign{
		ID:           m.ID,
		TenantID:     m.TenantID,
		OwnerID:      m.OwnerID,
		Department:   m.Department,
		Name:         m.Name,
		TemplateID:   m.TemplateID,
		Audience:     audience,
		Status:       status,
		ScheduleTime: m.ScheduleTime,
		SentCount:    m.SentCount,
		FailedCount:  m.FailedCount,
		OpenCount:    m.OpenCount,
		ClickCount:   m.ClickCount,
		UniqueClicks: m.UniqueClicks,
		CreateTime:   m.CreateTime,
		UpdateTime:   m.UpdateTime,
	}, nil
}

func ToCampaignModel(e *entity.Campaign) (*Campaign, error) {
	var audience *string
	if e.Audience != nil {
		b, err := json.Marshal(e.Audience)
		if err != nil {
			return nil, err
		}
		audience = goutil.String(string(b))
	}

	return &Campaign{
		ID:           e.ID,
		TenantID:     e.TenantID,
		OwnerID:      e.OwnerID,
		Department:   e.Department,
		Name:         e.Name,
		TemplateID:   e.TemplateID,
		Audience:     audience,
		Status:       goutil.Uint32(uint32(e.GetStatus())),
		ScheduleTime: e.ScheduleTime,
		SentCount:    e.SentCount,
		FailedCount:  e.FailedCount,
		OpenCount:    e.OpenCount,
		ClickCount:   e.ClickCount,
		UniqueClicks: e.UniqueClicks,
		CreateTime:   e.CreateTime,
		UpdateTime:   e.UpdateTime,
	}, nil
}
