package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"crm/entity"
	"crm/pkg/errutil"
)

var ErrSessionNotFound = errutil.NotFoundError(errors.New("session not found"))

type Session struct {
	ID         *uint64
	UserID     *uint64
	TokenHash  *string
	ExpireTime *uint64
	CreateTime *uint64
}

func (m *Session) TableName() string {
	return "session_tab"
}

func (m *Session) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

type SessionRepo interface {
	Create(ctx context.Context, session *entity.Session) (uint64, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*entity.Session, error)
	DeleteByUserID(ctx context.Context, userID uint64) error
}

type sessionRepo struct {
	baseRepo BaseRepo
}

func NewSessionRepo(_ context.Context, baseRepo BaseRepo) SessionRepo {
	return &sessionRepo{baseRepo: baseRepo}
}

func (r *sessionRepo) Create(ctx context.Context, session *entity.Session) (uint64, error) {
	sessionModel := ToSessionModel(session)

	if err := r.baseRepo.Create(ctx, sessionModel); err != nil {
		return 0, err
	}

	return sessionModel.GetID(), nil
}

func (r *sessionRepo) GetByTokenHash(ctx context.Context, tokenHash string) (*entity.Session, error) {
	session := new(Session)

	if err := r.baseRepo.Get(ctx, session, &Filter{
		Conditions: []*Condition{
			{Field: "token_hash", Value: tokenHash, Op: OpEq},
		},
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	return ToSession(session), nil
}

func (r *sessionRepo) DeleteByUserID(ctx context.Context, userID uint64) error {
	_, err := r.baseRepo.UpdateWhere(ctx, new(Session), map[string]interface{}{
		"expire_time": 0,
	}, &Filter{
		Conditions: []*Condition{
			{Field: "user_id", Value: userID, Op: OpEq},
		},
	})
	return err
}

func ToSession(m *Session) *entity.Session {
	return &entity.Session{
		ID:         m.ID,
		UserID:     m.UserID,
		TokenHash:  m.TokenHash,
		ExpireTime: m.ExpireTime,
		CreateTime: m.CreateTime,
	}
}

func ToSessionModel(e *entity.Session) *Session {
	return &Session{
		ID:         e.ID,
		UserID:     e.UserID,
		TokenHash:  e.TokenHash,
		ExpireTime: e.ExpireTime,
		CreateTime: e.CreateTime,
	}
}
