package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"crm/entity"
	"crm/pkg/errutil"
	"crm/pkg/goutil"
)

var ErrEmailConfigNotFound = errutil.NotFoundError(errors.New("email config not found"))

type EmailConfig struct {
	ID          *uint64
	TenantID    *uint64
	OwnerID     *uint64
	Host        *string
	Port        *uint32
	Username    *string
	Password    *string
	FromEmail   *string
	FromName    *string
	MaxInFlight *uint32
	Status      *uint32
	CreateTime  *uint64
	UpdateTime  *uint64
}

func (m *EmailConfig) TableName() string {
	return "email_config_tab"
}

func (m *EmailConfig) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

type EmailConfigRepo interface {
	Create(ctx context.Context, emailConfig *entity.EmailConfig) (uint64, error)
	Update(ctx context.Context, emailConfig *entity.EmailConfig) error
	GetByID(ctx context.Context, tenantID, id uint64) (*entity.EmailConfig, error)
	// GetActiveByOwner returns the owner's usable config; a missing or
	// non-active config surfaces as not found.
	GetActiveByOwner(ctx context.Context, tenantID, ownerID uint64) (*entity.EmailConfig, error)
	// MarkInvalid flags the config after an authentication failure so
	// delivery for its owner halts until credentials are fixed.
	MarkInvalid(ctx context.Context, tenantID, id uint64) error
}

type emailConfigRepo struct {
	baseRepo  BaseRepo
	baseCache BaseCache
}

func NewEmailConfigRepo(_ context.Context, baseRepo BaseRepo, baseCache BaseCache) EmailConfigRepo {
	return &emailConfigRepo{baseRepo: baseRepo, baseCache: baseCache}
}

func (r *emailConfigRepo) Create(ctx context.Context, emailConfig *entity.EmailConfig) (uint64, error) {
	emailConfigModel := ToEmailConfigModel(emailConfig)

	if err := r.baseRepo.Create(ctx, emailConfigModel); err != nil {
		return 0, err
	}

	r.baseCache.Del(ctx, CachePrefixEmailConfig, emailConfig.GetTenantID(), emailConfig.GetOwnerID())

	return emailConfigModel.GetID(), nil
}

func (r *emailConfigRepo) Update(ctx context.Context, emailConfig *entity.EmailConfig) error {
	if err := r.baseRepo.Update(ctx, ToEmailConfigModel(emailConfig)); err != nil {
		return err
	}

	r.baseCache.Del(ctx, CachePrefixEmailConfig, emailConfig.GetTenantID(), emailConfig.GetOwnerID())
	return nil
}

func (r *emailConfigRepo) GetByID(ctx context.Context, tenantID, id uint64) (*entity.EmailConfig, error) {
	return r.get(ctx, []*Condition{
		{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
		{Field: "id", Value: id, Op: OpEq},
	})
}

func (r *emailConfigRepo) GetActiveByOwner(ctx context.Context, tenantID, ownerID uint64) (*entity.EmailConfig, error) {
	if v, ok := r.baseCache.Get(ctx, CachePrefixEmailConfig, tenantID, ownerID); ok {
		return v.(*entity.EmailConfig), nil
	}

	emailConfig, err := r.get(ctx, []*Condition{
		{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
		{Field: "owner_id", Value: ownerID, Op: OpEq, NextLogicalOp: And},
		{Field: "status", Value: uint32(entity.EmailConfigStatusActive), Op: OpEq},
	})
	if err != nil {
		return nil, err
	}

	r.baseCache.Set(ctx, CachePrefixEmailConfig, tenantID, ownerID, emailConfig)

	return emailConfig, nil
}

func (r *emailConfigRepo) MarkInvalid(ctx context.Context, tenantID, id uint64) error {
	emailConfig, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return err
	}

	_, err = r.baseRepo.UpdateWhere(ctx, new(EmailConfig), map[string]interface{}{
		"status":      uint32(entity.EmailConfigStatusInvalid),
		"update_time": time.Now().Unix(),
	}, &Filter{
		Conditions: []*Condition{
			{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
			{Field: "id", Value: id, Op: OpEq},
		},
	})
	if err != nil {
		return err
	}

	r.baseCache.Del(ctx, CachePrefixEmailConfig, tenantID, emailConfig.GetOwnerID())
	return nil
}

func (r *emailConfigRepo) get(ctx context.Context, conditions []*Condition) (*entity.EmailConfig, error) {
	emailConfig := new(EmailConfig)

	if err := r.baseRepo.Get(ctx, emailConfig, &Filter{Conditions: conditions}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailConfigNotFound
		}
		return nil, err
	}

	return ToEmailConfig(emailConfig), nil
}

func ToEmailConfig(m *EmailConfig) *entity.EmailConfig {
	var status entity.EmailConfigStatus
	if m.Status != nil {
		status = entity.EmailConfigStatus(*m.Status)
	}
	return &entity.EmailConfig{
		ID:          m.ID,
		TenantID:    m.TenantID,
		OwnerID:     m.OwnerID,
		Host:        m.Host,
		Port:        m.Port,
		Username:    m.Username,
		Password:    m.Password,
		FromEmail:   m.FromEmail,
		FromName:    m.FromName,
		MaxInFlight: m.MaxInFlight,
		Status:      status,
		CreateTime:  m.CreateTime,
		UpdateTime:  m.UpdateTime,
	}
}

func ToEmailConfigModel(e *entity.EmailConfig) *EmailConfig {
	return &EmailConfig{
		ID:          e.ID,
		TenantID:    e.TenantID,
		OwnerID:     e.OwnerID,
		Host:        e.Host,
		Port:        e.Port,
		Username:    e.Username,
		Password:    e.Password,
		FromEmail:   e.FromEmail,
		FromName:    e.FromName,
		MaxInFlight: e.MaxInFlight,
		Status:      goutil.Uint32(uint32(e.GetStatus())),
		CreateTime:  e.CreateTime,
		UpdateTime:  e.UpdateTime,
	}
}
