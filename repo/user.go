package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"crm/entity"
	"crm/pkg/errutil"
)

var ErrUserNotFound = errutil.NotFoundError(errors.New("user not found"))

type User struct {
	ID          *uint64
	TenantID    *uint64
	Email       *string
	Username    *string
	Password    *string
	DisplayName *string
	Role        *uint32
	Department  *string
	Status      *uint32
	CreateTime  *uint64
	UpdateTime  *uint64
}

func (m *User) TableName() string {
	return "user_tab"
}

func (m *User) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

type UserRepo interface {
	Create(ctx context.Context, user *entity.User) (uint64, error)
	GetByID(ctx context.Context, id uint64) (*entity.User, error)
	GetByTenantAndID(ctx context.Context, tenantID, id uint64) (*entity.User, error)
	GetByEmail(ctx context.Context, tenantID uint64, email string) (*entity.User, error)
}

type userRepo struct {
	baseRepo BaseRepo
}

func NewUserRepo(_ context.Context, baseRepo BaseRepo) UserRepo {
	return &userRepo{baseRepo: baseRepo}
}

func (r *userRepo) Create(ctx context.Context, user *entity.User) (uint64, error) {
	userModel := ToUserModel(user)

	if err := r.baseRepo.Create(ctx, userModel); err != nil {
		return 0, err
	}

	return userModel.GetID(), nil
}

func (r *userRepo) GetByID(ctx context.Context, id uint64) (*entity.User, error) {
	return r.get(ctx, []*Condition{
		{Field: "id", Value: id, Op: OpEq, NextLogicalOp: And},
		{Field: "status", Value: uint32(entity.UserStatusNormal), Op: OpEq},
	})
}

func (r *userRepo) GetByTenantAndID(ctx context.Context, tenantID, id uint64) (*entity.User, error) {
	return r.get(ctx, []*Condition{
		{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
		{Field: "id", Value: id, Op: OpEq, NextLogicalOp: And},
		{Field: "status", Value: uint32(entity.UserStatusNormal), Op: OpEq},
	})
}

func (r *userRepo) GetByEmail(ctx context.Context, tenantID uint64, email string) (*entity.User, error) {
	return r.get(ctx, []*Condition{
		{Field: "tenant_id", Value: tenantID, Op: OpEq, NextLogicalOp: And},
		{Field: "email", Value: email, Op: OpEq, NextLogicalOp: And},
		{Field: "status", Value: uint32(entity.UserStatusNormal), Op: OpEq},
	})
}

func (r *userRepo) get(ctx context.Context, conditions []*Condition) (*entity.User, error) {
	user := new(User)

	if err := r.baseRepo.Get(ctx, user, &Filter{Conditions: conditions}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	return ToUser(user), nil
}

func ToUser(m *User) *entity.User {
	return &entity.User{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Email:       m.Email,
		Username:    m.Username,
		Password:    m.Password,
		DisplayName: m.DisplayName,
		Role:        toRole(m.Role),
		Department:  m.Department,
		Status:      toUserStatus(m.Status),
		CreateTime:  m.CreateTime,
		UpdateTime:  m.UpdateTime,
	}
}

func ToUserModel(e *entity.User) *User {
	var (
		role   = uint32(e.GetRole())
		status = uint32(e.GetStatus())
	)
	return &User{
		ID:          e.ID,
		TenantID:    e.TenantID,
		Email:       e.Email,
		Username:    e.Username,
		Password:    e.Password,
		DisplayName: e.DisplayName,
		Role:        &role,
		Department:  e.Department,
		Status:      &status,
		CreateTime:  e.CreateTime,
		UpdateTime:  e.UpdateTime,
	}
}

func toRole(role *uint32) entity.Role {
	if role == nil {
		return entity.RoleUnknown
	}
	return entity.Role(*role)
}

func toUserStatus(status *uint32) entity.UserStatus {
	if status == nil {
		return entity.UserStatusUnknown
	}
	return entity.UserStatus(*status)
}
