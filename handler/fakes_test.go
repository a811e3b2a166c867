package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"crm/config"
	"crm/dep"
	"crm/entity"
	"crm/pkg/goutil"
	"crm/repo"
)

type fakeEmailRepo struct {
	mu      sync.Mutex
	nextID  uint64
	emails  map[uint64]*entity.Email
	byToken map[string]*entity.Email

	opens  map[string]bool
	clicks map[string]bool

	markedSent   []uint64
	markedFailed []uint64
	lastAttempts uint32
	lastErrMsg   string
}

func newFakeEmailRepo() *fakeEmailRepo {
	return &fakeEmailRepo{
		emails:  make(map[uint64]*entity.Email),
		byToken: make(map[string]*entity.Email),
		opens:   make(map[string]bool),
		clicks:  make(map[string]bool),
	}
}

func (r *fakeEmailRepo) Create(_ context.Context, email *entity.Email) (uint64, error) {
	r.nextID++
	email.ID = goutil.Uint64(r.nextID)
	r.emails[r.nextID] = email
	r.byToken[email.GetTrackingToken()] = email
	return r.nextID, nil
}

func (r *fakeEmailRepo) GetByTrackingToken(_ context.Context, token string) (*entity.Email, error) {
	if email, ok := r.byToken[token]; ok {
		return email, nil
	}
	return nil, repo.ErrEmailNotFound
}

func (r *fakeEmailRepo) GetByCampaignAndLead(_ context.Context, campaignID, leadID uint64) (*entity.Email, error) {
	for _, email := range r.emails {
		if email.GetCampaignID() == campaignID && email.GetLeadID() == leadID {
			return email, nil
		}
	}
	return nil, repo.ErrEmailNotFound
}

func (r *fakeEmailRepo) MarkSent(_ context.Context, id uint64, attempts uint32) error {
	r.markedSent = append(r.markedSent, id)
	r.lastAttempts = attempts
	if email, ok := r.emails[id]; ok {
		email.Status = entity.EmailStatusSent
	}
	return nil
}

func (r *fakeEmailRepo) MarkFailed(_ context.Context, id uint64, attempts uint32, errMsg string) error {
	r.markedFailed = append(r.markedFailed, id)
	r.lastAttempts = attempts
	r.lastErrMsg = errMsg
	if email, ok := r.emails[id]; ok {
		email.Status = entity.EmailStatusFailed
	}
	return nil
}

func (r *fakeEmailRepo) CountNonTerminalByCampaign(_ context.Context, campaignID uint64) (uint64, error) {
	var n uint64
	for _, email := range r.emails {
		if email.GetCampaignID() == campaignID && !email.IsTerminal() {
			n++
		}
	}
	return n, nil
}

func (r *fakeEmailRepo) CountByCampaignAndStatus(_ context.Context, campaignID uint64, status entity.EmailStatus) (uint64, error) {
	var n uint64
	for _, email := range r.emails {
		if email.GetCampaignID() == campaignID && email.GetStatus() == status {
			n++
		}
	}
	return n, nil
}

func (r *fakeEmailRepo) RecordOpen(_ context.Context, email *entity.Email, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := entity.OpenDedupeKey(email.GetID())
	first := !r.opens[key]
	r.opens[key] = true
	email.OpenCount = goutil.Uint64(email.GetOpenCount() + 1)
	return first, nil
}

func (r *fakeEmailRepo) RecordClick(_ context.Context, email *entity.Email, url string, _ time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := entity.ClickDedupeKey(email.GetID(), url)
	first := !r.clicks[key]
	r.clicks[key] = true
	email.ClickCount = goutil.Uint64(email.GetClickCount() + 1)
	return first, nil
}

type fakeEmailConfigRepo struct {
	config        *entity.EmailConfig
	markedInvalid []uint64
}

func (r *fakeEmailConfigRepo) Create(_ context.Context, emailConfig *entity.EmailConfig) (uint64, error) {
	r.config = emailConfig
	return emailConfig.GetID(), nil
}

func (r *fakeEmailConfigRepo) Update(_ context.Context, emailConfig *entity.EmailConfig) error {
	r.config = emailConfig
	return nil
}

func (r *fakeEmailConfigRepo) GetByID(_ context.Context, _, _ uint64) (*entity.EmailConfig, error) {
	if r.config == nil {
		return nil, repo.ErrEmailConfigNotFound
	}
	return r.config, nil
}

func (r *fakeEmailConfigRepo) GetActiveByOwner(_ context.Context, _, _ uint64) (*entity.EmailConfig, error) {
	if r.config == nil || !r.config.IsActive() {
		return nil, repo.ErrEmailConfigNotFound
	}
	return r.config, nil
}

func (r *fakeEmailConfigRepo) MarkInvalid(_ context.Context, _, id uint64) error {
	r.markedInvalid = append(r.markedInvalid, id)
	if r.config != nil {
		r.config.Status = entity.EmailConfigStatusInvalid
	}
	return nil
}

// fakeEmailService fails the first failures sends, then succeeds.
type fakeEmailService struct {
	failures int
	err      error

	calls int
	sent  []*dep.SendSmtpEmail
}

func (s *fakeEmailService) SendEmail(_ context.Context, _ *entity.EmailConfig, sendSmtpEmail *dep.SendSmtpEmail) error {
	s.calls++
	if s.calls <= s.failures {
		return s.err
	}
	s.sent = append(s.sent, sendSmtpEmail)
	return nil
}

func (s *fakeEmailService) Close(_ context.Context) error {
	return nil
}

type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uint64]*entity.Campaign
	counts    map[uint64]map[string]uint64
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{
		campaigns: make(map[uint64]*entity.Campaign),
		counts:    make(map[uint64]map[string]uint64),
	}
}

func (r *fakeCampaignRepo) Create(_ context.Context, campaign *entity.Campaign) (uint64, error) {
	r.campaigns[campaign.GetID()] = campaign
	return campaign.GetID(), nil
}

func (r *fakeCampaignRepo) Update(_ context.Context, campaign *entity.Campaign) error {
	r.campaigns[campaign.GetID()] = campaign
	return nil
}

func (r *fakeCampaignRepo) GetByID(_ context.Context, _, id uint64) (*entity.Campaign, error) {
	if campaign, ok := r.campaigns[id]; ok {
		return campaign, nil
	}
	return nil, errors.New("campaign not found")
}

func (r *fakeCampaignRepo) GetMany(_ context.Context, _ uint64, _ entity.Scope, _ *entity.Pagination) ([]*entity.Campaign, *entity.Pagination, error) {
	return nil, nil, nil
}

func (r *fakeCampaignRepo) UpdateStatusFrom(_ context.Context, _, id uint64, from, to entity.CampaignStatus) (bool, error) {
	campaign, ok := r.campaigns[id]
	if !ok || campaign.GetStatus() != from {
		return false, nil
	}
	campaign.Status = to
	return true, nil
}

func (r *fakeCampaignRepo) TakeOverSending(_ context.Context, _, id uint64, _, now time.Time) (bool, error) {
	campaign, ok := r.campaigns[id]
	if !ok || campaign.GetStatus() != entity.CampaignStatusSending {
		return false, nil
	}
	campaign.UpdateTime = goutil.Uint64(uint64(now.Unix()))
	return true, nil
}

func (r *fakeCampaignRepo) GetDue(_ context.Context, now, _ time.Time, _ uint32) ([]*entity.Campaign, error) {
	var due []*entity.Campaign
	for _, campaign := range r.campaigns {
		if campaign.IsDue(now) {
			due = append(due, campaign)
		}
	}
	return due, nil
}

func (r *fakeCampaignRepo) GetStaleByStatuses(_ context.Context, statuses []entity.CampaignStatus, _ time.Time, _ uint32) ([]*entity.Campaign, error) {
	var out []*entity.Campaign
	for _, campaign := range r.campaigns {
		for _, s := range statuses {
			if campaign.GetStatus() == s {
				out = append(out, campaign)
			}
		}
	}
	return out, nil
}

func (r *fakeCampaignRepo) AddCounts(_ context.Context, _, id uint64, deltas map[string]uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.counts[id] == nil {
		r.counts[id] = make(map[string]uint64)
	}
	for field, delta := range deltas {
		r.counts[id][field] += delta
	}
	return nil
}

func testDeliveryConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Delivery.InitialBackoffSeconds = 0
	cfg.Tracking.BaseURL = "http://crm.test"
	cfg.Tracking.DefaultRedirect = "https://fallback.test/"
	return cfg
}
