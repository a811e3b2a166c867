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

var ErrEmailNotFound = errutil.UnknownTrackingTokenError(errors.New("email not found"))

type Email struct {
	ID            *uint64
	TenantID      *uint64
	SenderID      *uint64
	LeadID        *uint64
	CampaignID    *uint64
	EnrollmentID  *uint64
	Origin        *uint32
	ToEmail       *string
	Subject       *string
	Body          *string
	TrackingToken *string
	Status        *uint32
	Attempts      *uint32
	ErrorMessage  *string
	OpenCount     *uint64
	ClickCount    *uint64
	FirstOpenedAt *uint64
	LastOpenedAt  *uint64
	SentAt        *uint64
	CreateTime    *uint64
	UpdateTime    *uint64
}

func (m *Email) TableName() string {
	return "email_tab"
}

func (m *Email) GetID() uint64 {
	if m != nil && m.ID != nil {
		return *m.ID
	}
	return 0
}

type TrackingEvent struct {
	ID         *uint64
	TenantID   *uint64
	EmailID    *uint64
	Kind       *uint32
	URL        *string
	DedupeKey  *string
	CreateTime *uint64
}

func (m *TrackingEvent) TableName() string {
	return "tracking_event_tab"
}

type EmailRepo interface {
	Create(ctx context.Context, email *entity.Email) (uint64, error)
	GetByTrackingToken(ctx context.Context, token string) (*entity.Email, error)
	GetByCampaignAndLead(ctx context.Context, campaignID, leadID uint64) (*entity.Email, error)
	MarkSent(ctx context.Context, id uint64, attempts uint32) error
	MarkFailed(ctx context.Context, id uint64, attempts uint32, errMsg string) error
	CountNonTerminalByCampaign(ctx context.Context, campaignID uint64) (uint64, error)
	CountByCampaignAndStatus(ctx context.Context, campaignID uint64, status entity.EmailStatus) (uint64, error)

	// RecordOpen registers an open and reports whether it was the first for
	// this email. Open counters only ever increase.
	RecordOpen(ctx context.Context, email *entity.Email, now time.Time) (bool, error)
	// RecordClick registers a click and reports whether it was the first
	// for this email and URL pair.
	RecordClick(ctx context.Context, email *entity.Email, url string, now time.Time) (bool, error)
}

type emailRepo struct {
	baseRepo BaseRepo
}

func NewEmailRepo(_ context.Context, baseRepo BaseRepo) EmailRepo {
	return &emailRepo{baseRepo: baseRepo}
}

func (r *emailRepo) Create(ctx context.Context, email *entity.Email) (uint64, error) {
	emailModel := ToEmailModel(email)

	if err := r.baseRepo.Create(ctx, emailModel); err != nil {
		return 0, err
	}

	email.ID = emailModel.ID

	return emailModel.GetID(), nil
}

func (r *emailRepo) GetByTrackingToken(ctx context.Context, token string) (*entity.Email, error) {
	email := new(Email)

	if err := r.baseRepo.Get(ctx, email, &Filter{
		Conditions: []*Condition{
			{Field: "tracking_token", Value: token, Op: OpEq},
		},
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}

	return ToEmail(email), nil
}

func (r *emailRepo) GetByCampaignAndLead(ctx context.Context, campaignID, leadID uint64) (*entity.Email, error) {
	email := new(Email)

	if err := r.baseRepo.Get(ctx, email, &Filter{
		Conditions: []*Condition{
			{Field: "campaign_id", Value: campaignID, Op: OpEq, NextLogicalOp: And},
			{Field: "lead_id", Value: leadID, Op: OpEq},
		},
	}); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrEmailNotFound
		}
		return nil, err
	}

	return ToEmail(email), nil
}

func (r *emailRepo) MarkSent(ctx context.Context, id uint64, attempts uint32) error {
	now := time.Now().Unix()

	_, err := r.baseRepo.UpdateWhere(ctx, new(Email), map[string]interface{}{
		"status":      uint32(entity.EmailStatusSent),
		"attempts":    attempts,
		"sent_at":     now,
		"update_time": now,
	}, &Filter{
		Conditions: []*Condition{
			{Field: "id", Value: id, Op: OpEq},
		},
	})
	return err
}

func (r *emailRepo) MarkFailed(ctx context.Context, id uint64, attempts uint32, errMsg string) error {
	_, err := r.baseRepo.UpdateWhere(ctx, new(Email), map[string]interface{}{
		"status":        uint32(entity.EmailStatusFailed),
		"attempts":      attempts,
		"error_message": errMsg,
		"update_time":   time.Now().Unix(),
	}, &Filter{
		Conditions: []*Condition{
			{Field: "id", Value: id, Op: OpEq},
		},
	})
	return err
}

func (r *emailRepo) CountNonTerminalByCampaign(ctx context.Context, campaignID uint64) (uint64, error) {
	return r.baseRepo.Count(ctx, new(Email), &Filter{
		Conditions: []*Condition{
			{Field: "campaign_id", Value: campaignID, Op: OpEq, NextLogicalOp: And},
			{Field: "status", Value: uint32(entity.EmailStatusQueued), Op: OpEq},
		},
	})
}

func (r *emailRepo) CountByCampaignAndStatus(ctx context.Context, campaignID uint64, status entity.EmailStatus) (uint64, error) {
	return r.baseRepo.Count(ctx, new(Email), &Filter{
		Conditions: []*Condition{
			{Field: "campaign_id", Value: campaignID, Op: OpEq, NextLogicalOp: And},
			{Field: "status", Value: uint32(status), Op: OpEq},
		},
	})
}

func (r *emailRepo) RecordOpen(ctx context.Context, email *entity.Email, now time.Time) (bool, error) {
	first, err := r.createEvent(ctx, entity.NewOpenEvent(email))
	if err != nil {
		return false, err
	}

	values := map[string]interface{}{
		"open_count":     gorm.Expr("open_count + ?", 1),
		"last_opened_at": now.Unix(),
		"update_time":    now.Unix(),
	}
	if first {
		values["first_opened_at"] = gorm.Expr("COALESCE(first_opened_at, ?)", now.Unix())
	}

	if _, err := r.baseRepo.UpdateWhere(ctx, new(Email), values, &Filter{
		Conditions: []*Condition{
			{Field: "id", Value: email.GetID(), Op: OpEq},
		},
	}); err != nil {
		return false, err
	}

	return first, nil
}

func (r *emailRepo) RecordClick(ctx context.Context, email *entity.Email, url string, now time.Time) (bool, error) {
	first, err := r.createEvent(ctx, entity.NewClickEvent(email, url))
	if err != nil {
		return false, err
	}

	if _, err := r.baseRepo.UpdateWhere(ctx, new(Email), map[string]interface{}{
		"click_count": gorm.Expr("click_count + ?", 1),
		"update_time": now.Unix(),
	}, &Filter{
		Conditions: []*Condition{
			{Field: "id", Value: email.GetID(), Op: OpEq},
		},
	}); err != nil {
		return false, err
	}

	return first, nil
}

// createEvent inserts against the unique dedupe key. A duplicate key means
// another request got there first, never an error.
func (r *emailRepo) createEvent(ctx context.Context, event *entity.TrackingEvent) (bool, error) {
	if err := r.baseRepo.Create(ctx, ToTrackingEventModel(event)); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func ToEmail(m *Email) *entity.Email {
	var origin entity.EmailOrigin
	if m.Origin != nil {
		origin = entity.EmailOrigin(*m.Origin)
	}

	var status entity.EmailStatus
	if m.Status != nil {
		status = entity.EmailStatus(*m.Status)
	}

	return &entity.Email{
		ID:            m.ID,
		TenantID:      m.TenantID,
		SenderID:      m.SenderID,
		LeadID:        m.LeadID,
		CampaignID:    m.CampaignID,
		EnrollmentID:  m.EnrollmentID,
		Origin:        origin,
		ToEmail:       m.ToEmail,
		Subject:       m.Subject,
		Body:          m.Body,
		TrackingToken: m.TrackingToken,
		Status:        status,
		Attempts:      m.Attempts,
		ErrorMessage:  m.ErrorMessage,
		OpenCount:     m.OpenCount,
		ClickCount:    m.ClickCount,
		FirstOpenedAt: m.FirstOpenedAt,
		LastOpenedAt:  m.LastOpenedAt,
		SentAt:        m.SentAt,
		CreateTime:    m.CreateTime,
		UpdateTime:    m.UpdateTime,
	}
}

func ToEmailModel(e *entity.Email) *Email {
	return &Email{
		ID:            e.ID,
		TenantID:      e.TenantID,
		SenderID:      e.SenderID,
		LeadID:        e.LeadID,
		CampaignID:    e.CampaignID,
		EnrollmentID:  e.EnrollmentID,
		Origin:        goutil.Uint32(uint32(e.GetOrigin())),
		ToEmail:       e.ToEmail,
		Subject:       e.Subject,
		Body:          e.Body,
		TrackingToken: e.TrackingToken,
		Status:        goutil.Uint32(uint32(e.GetStatus())),
		Attempts:      e.Attempts,
		ErrorMessage:  e.ErrorMessage,
		OpenCount:     e.OpenCount,
		ClickCount:    e.ClickCount,
		FirstOpenedAt: e.FirstOpenedAt,
		LastOpenedAt:  e.LastOpenedAt,
		SentAt:        e.SentAt,
		CreateTime:    e.CreateTime,
		UpdateTime:    e.UpdateTime,
	}
}

func ToTrackingEventModel(e *entity.TrackingEvent) *TrackingEvent {
	return &TrackingEvent{
		ID:         e.ID,
		TenantID:   e.TenantID,
		EmailID:    e.EmailID,
		Kind:       goutil.Uint32(uint32(e.GetKind())),
		URL:        e.URL,
		DedupeKey:  e.DedupeKey,
		CreateTime: e.CreateTime,
	}
}
