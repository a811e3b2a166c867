package activate_campaigns

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm/config"
	"crm/entity"
	"crm/handler"
	"crm/pkg/errutil"
	"crm/pkg/goutil"
	"crm/repo"
)

type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uint64]*entity.Campaign
	counts    map[uint64]map[string]uint64
	nowUnix   uint64

	// when > 0, a pause lands after this many GetByID reads
	pauseAfterReads int
	reads           int
}

func newFakeCampaignRepo(nowUnix uint64) *fakeCampaignRepo {
	return &fakeCampaignRepo{
		campaigns: make(map[uint64]*entity.Campaign),
		counts:    make(map[uint64]map[string]uint64),
		nowUnix:   nowUnix,
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
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, ok := r.campaigns[id]
	if !ok {
		return nil, repo.ErrCampaignNotFound
	}
	r.reads++
	if r.pauseAfterReads > 0 && r.reads > r.pauseAfterReads && campaign.GetStatus() == entity.CampaignStatusSending {
		campaign.Status = entity.CampaignStatusPaused
	}
	copied := *campaign
	return &copied, nil
}

func (r *fakeCampaignRepo) GetMany(_ context.Context, _ uint64, _ entity.Scope, _ *entity.Pagination) ([]*entity.Campaign, *entity.Pagination, error) {
	return nil, nil, nil
}

func (r *fakeCampaignRepo) UpdateStatusFrom(_ context.Context, _, id uint64, from, to entity.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, ok := r.campaigns[id]
	if !ok || campaign.GetStatus() != from {
		return false, nil
	}
	campaign.Status = to
	campaign.UpdateTime = goutil.Uint64(r.nowUnix)
	return true, nil
}

func (r *fakeCampaignRepo) TakeOverSending(_ context.Context, _, id uint64, updatedBefore, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	campaign, ok := r.campaigns[id]
	if !ok || campaign.GetStatus() != entity.CampaignStatusSending {
		return false, nil
	}
	if campaign.GetUpdateTime() > uint64(updatedBefore.Unix()) {
		return false, nil
	}
	campaign.UpdateTime = goutil.Uint64(uint64(now.Unix()))
	return true, nil
}

func (r *fakeCampaignRepo) GetDue(_ context.Context, now, resumedBefore time.Time, _ uint32) ([]*entity.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var due []*entity.Campaign
	for _, campaign := range r.campaigns {
		if campaign.IsDue(now) {
			due = append(due, campaign)
			continue
		}
		if campaign.GetStatus() == entity.CampaignStatusSending && campaign.GetUpdateTime() <= uint64(resumedBefore.Unix()) {
			due = append(due, campaign)
		}
	}
	return due, nil
}

func (r *fakeCampaignRepo) GetStaleByStatuses(_ context.Context, statuses []entity.CampaignStatus, updatedBefore time.Time, _ uint32) ([]*entity.Campaign, error) {
	var out []*entity.Campaign
	for _, campaign := range r.campaigns {
		for _, s := range statuses {
			if campaign.GetStatus() == s && campaign.GetUpdateTime() <= uint64(updatedBefore.Unix()) {
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

type fakeLeadRepo struct {
	leads map[uint64]*entity.Lead
}

func (r *fakeLeadRepo) Create(_ context.Context, lead *entity.Lead) (uint64, error) {
	r.leads[lead.GetID()] = lead
	return lead.GetID(), nil
}

func (r *fakeLeadRepo) Update(_ context.Context, lead *entity.Lead) error {
	r.leads[lead.GetID()] = lead
	return nil
}

func (r *fakeLeadRepo) GetByID(_ context.Context, _, id uint64) (*entity.Lead, error) {
	if lead, ok := r.leads[id]; ok {
		return lead, nil
	}
	return nil, repo.ErrLeadNotFound
}

func (r *fakeLeadRepo) GetMany(_ context.Context, _ uint64, _ entity.Scope, _ *repo.LeadFilter) ([]*entity.Lead, *entity.Pagination, error) {
	return nil, nil, nil
}

func (r *fakeLeadRepo) GetByIDs(_ context.Context, _ uint64, _ []uint64) ([]*entity.Lead, error) {
	return nil, nil
}

func (r *fakeLeadRepo) GetByAudience(_ context.Context, _ uint64, scope entity.Scope, audience *entity.AudienceFilter) ([]*entity.Lead, error) {
	var out []*entity.Lead
	for _, lead := range r.leads {
		if scope.Match(lead) && audience.Match(lead) {
			out = append(out, lead)
		}
	}
	return out, nil
}

type fakeUserRepo struct {
	users map[uint64]*entity.User
}

func (r *fakeUserRepo) Create(_ context.Context, user *entity.User) (uint64, error) {
	r.users[user.GetID()] = user
	return user.GetID(), nil
}

func (r *fakeUserRepo) GetByID(_ context.Context, id uint64) (*entity.User, error) {
	if user, ok := r.users[id]; ok {
		return user, nil
	}
	return nil, repo.ErrUserNotFound
}

func (r *fakeUserRepo) GetByTenantAndID(_ context.Context, _, id uint64) (*entity.User, error) {
	return r.GetByID(context.Background(), id)
}

func (r *fakeUserRepo) GetByEmail(_ context.Context, _ uint64, _ string) (*entity.User, error) {
	return nil, repo.ErrUserNotFound
}

type fakeTemplateRepo struct {
	templates map[uint64]*entity.Template
}

func (r *fakeTemplateRepo) Create(_ context.Context, template *entity.Template) (uint64, error) {
	r.templates[template.GetID()] = template
	return template.GetID(), nil
}

func (r *fakeTemplateRepo) Update(_ context.Context, template *entity.Template) error {
	r.templates[template.GetID()] = template
	return nil
}

func (r *fakeTemplateRepo) GetByID(_ context.Context, _, id uint64) (*entity.Template, error) {
	if template, ok := r.templates[id]; ok {
		return template, nil
	}
	return nil, repo.ErrTemplateNotFound
}

func (r *fakeTemplateRepo) GetMany(_ context.Context, _ uint64, _ entity.Scope, _ *entity.Pagination) ([]*entity.Template, *entity.Pagination, error) {
	return nil, nil, nil
}

type fakeEmailConfigRepo struct {
	config *entity.EmailConfig
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

func (r *fakeEmailConfigRepo) MarkInvalid(_ context.Context, _, _ uint64) error {
	if r.config != nil {
		r.config.Status = entity.EmailConfigStatusInvalid
	}
	return nil
}

type fakeEmailRepo struct {
	mu      sync.Mutex
	emailed map[uint64]map[uint64]bool
}

func newFakeEmailRepo() *fakeEmailRepo {
	return &fakeEmailRepo{emailed: make(map[uint64]map[uint64]bool)}
}

func (r *fakeEmailRepo) record(campaignID, leadID uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.emailed[campaignID] == nil {
		r.emailed[campaignID] = make(map[uint64]bool)
	}
	r.emailed[campaignID][leadID] = true
}

func (r *fakeEmailRepo) Create(_ context.Context, email *entity.Email) (uint64, error) {
	return email.GetID(), nil
}

func (r *fakeEmailRepo) GetByTrackingToken(_ context.Context, _ string) (*entity.Email, error) {
	return nil, repo.ErrEmailNotFound
}

func (r *fakeEmailRepo) GetByCampaignAndLead(_ context.Context, campaignID, leadID uint64) (*entity.Email, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.emailed[campaignID][leadID] {
		return &entity.Email{CampaignID: goutil.Uint64(campaignID), LeadID: goutil.Uint64(leadID)}, nil
	}
	return nil, repo.ErrEmailNotFound
}

func (r *fakeEmailRepo) MarkSent(_ context.Context, _ uint64, _ uint32) error {
	return nil
}

func (r *fakeEmailRepo) MarkFailed(_ context.Context, _ uint64, _ uint32, _ string) error {
	return nil
}

func (r *fakeEmailRepo) CountNonTerminalByCampaign(_ context.Context, _ uint64) (uint64, error) {
	return 0, nil
}

func (r *fakeEmailRepo) CountByCampaignAndStatus(_ context.Context, _ uint64, _ entity.EmailStatus) (uint64, error) {
	return 0, nil
}

func (r *fakeEmailRepo) RecordOpen(_ context.Context, _ *entity.Email, _ time.Time) (bool, error) {
	return false, nil
}

func (r *fakeEmailRepo) RecordClick(_ context.Context, _ *entity.Email, _ string, _ time.Time) (bool, error) {
	return false, nil
}

type fakeSender struct {
	emailRepo *fakeEmailRepo

	mu           sync.Mutex
	err          error
	succeedFirst int
	calls        int
	sentLeadIDs  []uint64
}

func (s *fakeSender) SendToLead(_ context.Context, _ *entity.User, lead *entity.Lead, _ *entity.Template, _ entity.EmailOrigin, campaignID, _ *uint64) (*handler.SendResult, error) {
	s.mu.Lock()
	s.calls++
	if s.err != nil && s.calls > s.succeedFirst {
		s.mu.Unlock()
		return nil, s.err
	}
	s.sentLeadIDs = append(s.sentLeadIDs, lead.GetID())
	s.mu.Unlock()

	if campaignID != nil {
		s.emailRepo.record(*campaignID, lead.GetID())
	}
	return &handler.SendResult{}, nil
}

func (s *fakeSender) SendRaw(_ context.Context, _ *entity.User, _, _, _ string) error {
	return s.err
}

type fixture struct {
	job          *ActivateCampaigns
	campaignRepo *fakeCampaignRepo
	leadRepo     *fakeLeadRepo
	emailRepo    *fakeEmailRepo
	emailConfig  *entity.EmailConfig
	sender       *fakeSender
	campaign     *entity.Campaign
	now          time.Time
}

func newFixture(t *testing.T, leadOwnerIDs ...uint64) *fixture {
	t.Helper()

	now := time.Unix(2_000_000_000, 0)

	owner := &entity.User{
		ID:         goutil.Uint64(3),
		TenantID:   goutil.Uint64(1),
		Role:       entity.RoleSalesRep,
		Department: goutil.String("emea"),
	}

	campaign := entity.NewCampaign(1, owner, "launch", 100, nil)
	campaign.ID = goutil.Uint64(77)
	require.NoError(t, campaign.Schedule(uint64(now.Unix())-60))

	campaignRepo := newFakeCampaignRepo(uint64(now.Unix()))
	campaignRepo.campaigns[77] = campaign

	leadRepo := &fakeLeadRepo{leads: make(map[uint64]*entity.Lead)}
	for i, ownerID := range leadOwnerIDs {
		id := uint64(40 + i)
		leadRepo.leads[id] = &entity.Lead{
			ID:       goutil.Uint64(id),
			TenantID: goutil.Uint64(1),
			OwnerID:  goutil.Uint64(ownerID),
			Email:    goutil.String("lead@example.com"),
		}
	}

	userRepo := &fakeUserRepo{users: map[uint64]*entity.User{3: owner}}
	templateRepo := &fakeTemplateRepo{templates: map[uint64]*entity.Template{
		100: {ID: goutil.Uint64(100), Subject: goutil.String("s"), Body: goutil.String("<p>b</p>")},
	}}

	emailConfig := entity.NewEmailConfig(1, 3, "smtp.example.com", 587, "u", "p", "u@example.com", "U", 5)
	emailConfig.ID = goutil.Uint64(9)
	configRepo := &fakeEmailConfigRepo{config: emailConfig}

	emailRepo := newFakeEmailRepo()
	sender := &fakeSender{emailRepo: emailRepo}

	job := New(config.NewConfig(), campaignRepo, leadRepo, userRepo, templateRepo, configRepo, emailRepo, sender).(*ActivateCampaigns)
	job.now = func() time.Time { return now }

	return &fixture{
		job:          job,
		campaignRepo: campaignRepo,
		leadRepo:     leadRepo,
		emailRepo:    emailRepo,
		emailConfig:  emailConfig,
		sender:       sender,
		campaign:     campaign,
		now:          now,
	}
}

func TestRunSendsToAudienceAndCompletes(t *testing.T) {
	f := newFixture(t, 3, 3)

	require.NoError(t, f.job.Run(context.Background()))

	assert.Len(t, f.sender.sentLeadIDs, 2)
	assert.Equal(t, entity.CampaignStatusCompleted, f.campaign.GetStatus())
	assert.Equal(t, uint64(2), f.campaignRepo.counts[77]["sent_count"])
	assert.Zero(t, f.campaignRepo.counts[77]["failed_count"])
}

func TestRunExcludesLeadsOutsideOwnerScope(t *testing.T) {
	// the second lead belongs to another rep; the owner cannot reach it
	f := newFixture(t, 3, 99)

	require.NoError(t, f.job.Run(context.Background()))

	assert.Equal(t, []uint64{40}, f.sender.sentLeadIDs)
	assert.Equal(t, uint64(1), f.campaignRepo.counts[77]["sent_count"])
	assert.Equal(t, entity.CampaignStatusCompleted, f.campaign.GetStatus())
}

func TestRunLostClaimSendsNothing(t *testing.T) {
	f := newFixture(t, 3)

	// another sweeper claimed the campaign just now; its fresh update_time
	// keeps the take-over path out too
	f.campaign.Status = entity.CampaignStatusSending
	f.campaign.UpdateTime = goutil.Uint64(uint64(f.now.Unix()))
	f.job.runCampaign(context.Background(), f.campaign)

	assert.Empty(t, f.sender.sentLeadIDs)
}

func TestConcurrentSweepsActivateOnce(t *testing.T) {
	f := newFixture(t, 3, 3, 3)

	// each sweeper works off its own read of the campaign row
	snapshots := make([]*entity.Campaign, 4)
	for i := range snapshots {
		copied := *f.campaign
		snapshots[i] = &copied
	}

	var wg sync.WaitGroup
	for _, snapshot := range snapshots {
		snapshot := snapshot
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.job.runCampaign(context.Background(), snapshot)
		}()
	}
	wg.Wait()

	// the claim is a compare-and-set; only one sweeper expands the audience
	assert.Len(t, f.sender.sentLeadIDs, 3)
	assert.Equal(t, uint64(3), f.campaignRepo.counts[77]["sent_count"])
	assert.Equal(t, entity.CampaignStatusCompleted, f.campaign.GetStatus())
}

func TestRunResumeContinuesRemainingLeads(t *testing.T) {
	f := newFixture(t, 3, 3, 3)

	// a pause lands after the first email; the run stops with two leads
	// still unsent
	f.campaignRepo.pauseAfterReads = 1
	require.NoError(t, f.job.Run(context.Background()))
	require.Len(t, f.sender.sentLeadIDs, 1)
	require.Equal(t, entity.CampaignStatusPaused, f.campaign.GetStatus())

	// operator resumes; the next sweep takes the campaign over and sends
	// only the leads without an email on record
	f.campaignRepo.pauseAfterReads = 0
	f.campaign.Status = entity.CampaignStatusSending
	f.campaign.UpdateTime = goutil.Uint64(uint64(f.now.Unix()) - 3600)
	require.NoError(t, f.job.Run(context.Background()))

	assert.Len(t, f.sender.sentLeadIDs, 3)
	assert.ElementsMatch(t, []uint64{40, 41, 42}, f.sender.sentLeadIDs)
	assert.Equal(t, uint64(3), f.campaignRepo.counts[77]["sent_count"])
	assert.Equal(t, entity.CampaignStatusCompleted, f.campaign.GetStatus())
}

func TestRunFailedSendsCountAndComplete(t *testing.T) {
	f := newFixture(t, 3, 3)
	f.sender.err = errutil.TransportError(errors.New("connection reset"))

	require.NoError(t, f.job.Run(context.Background()))

	assert.Equal(t, uint64(2), f.campaignRepo.counts[77]["failed_count"])
	assert.Zero(t, f.campaignRepo.counts[77]["sent_count"])
	assert.Equal(t, entity.CampaignStatusCompleted, f.campaign.GetStatus())
}

func TestRunAuthErrorBeforeAnySendFailsCampaign(t *testing.T) {
	f := newFixture(t, 3, 3, 3, 3)
	f.sender.err = errutil.AuthError(errors.New("bad credentials"))

	require.NoError(t, f.job.Run(context.Background()))

	assert.Equal(t, entity.CampaignStatusFailed, f.campaign.GetStatus())
	assert.Zero(t, f.campaignRepo.counts[77]["sent_count"])
}

func TestRunAuthErrorAfterDeliveryCompletes(t *testing.T) {
	f := newFixture(t, 3, 3, 3)
	f.sender.err = errutil.AuthError(errors.New("bad credentials"))
	f.sender.succeedFirst = 1

	require.NoError(t, f.job.Run(context.Background()))

	// one email went out, so the campaign must not end failed; the halted
	// remainder shows up in the failure counter only
	assert.Equal(t, entity.CampaignStatusCompleted, f.campaign.GetStatus())
	assert.Equal(t, uint64(1), f.campaignRepo.counts[77]["sent_count"])
}

func TestRunNoEmailConfigFailsCampaign(t *testing.T) {
	f := newFixture(t, 3)
	f.job.emailConfigRepo = new(fakeEmailConfigRepo)

	require.NoError(t, f.job.Run(context.Background()))

	assert.Empty(t, f.sender.sentLeadIDs)
	assert.Equal(t, entity.CampaignStatusFailed, f.campaign.GetStatus())
}

func TestRunZeroMaxInFlightStillDispatches(t *testing.T) {
	f := newFixture(t, 3, 3)
	f.emailConfig.MaxInFlight = nil

	require.NoError(t, f.job.Run(context.Background()))

	assert.Len(t, f.sender.sentLeadIDs, 2)
	assert.Equal(t, entity.CampaignStatusCompleted, f.campaign.GetStatus())
}

func TestRunPauseStopsDispatch(t *testing.T) {
	f := newFixture(t, 3, 3, 3)

	// a pause lands after the first email goes out; dispatch must stop
	// between emails and leave the campaign paused
	f.campaignRepo.pauseAfterReads = 1

	require.NoError(t, f.job.Run(context.Background()))

	assert.Len(t, f.sender.sentLeadIDs, 1)
	assert.Equal(t, entity.CampaignStatusPaused, f.campaign.GetStatus())
}
