package entity

import (
	"time"

	"crm/pkg/goutil"
)

const (
	sessionByteLength = 32
)

type Session struct {
	ID         *uint64 `json:"id,omitempty"`
	UserID     *uint64 `json:"user_id,omitempty"`
	Token      *string `json:"token,omitempty"`
	TokenHash  *string `json:"-"`
	ExpireTime *uint64 `json:"expire_time,omitempty"`
	CreateTime *uint64 `json:"create_time,omitempty"`
}

func NewSession(userID uint64, expirySeconds uint64) (*Session, error) {
	b, err := goutil.SecureRandBytes(sessionByteLength)
	if err != nil {
		return nil, err
	}

	var (
		now   = uint64(time.Now().Unix())
		token = goutil.Base64Encode(b)
	)
	return &Session{
		UserID:     goutil.Uint64(userID),
		Token:      goutil.String(token),
		TokenHash:  goutil.String(goutil.Sha256(token)),
		ExpireTime: goutil.Uint64(now + expirySeconds),
		CreateTime: goutil.Uint64(now),
	}, nil
}

func (e *Session) IsExpired() bool {
	return e.GetExpireTime() <= uint64(time.Now().Unix())
}

func (e *Session) GetID() uint64 {
	if e != nil && e.ID != nil {
		return *e.ID
	}
	return 0
}

func (e *Session) GetUserID() uint64 {
	if e != nil && e.UserID != nil {
		return *e.UserID
	}
	return 0
}

func (e *Session) GetToken() string {
	if e != nil && e.Token != nil {
		return *e.Token
	}
	return ""
}

func (e *Session) GetTokenHash() string {
	if e != nil && e.TokenHash != nil {
		return *e.TokenHash
	}
	return ""
}

func (e *Session) GetExpireTime() uint64 {
	if e != nil && e.ExpireTime != nil {
		return *e.ExpireTime
	}
	return 0
}
