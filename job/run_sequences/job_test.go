package run_sequences

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm/config"
	"crm/entity"
	"crm/handler"
	"crm/pkg/goutil"
	"crm/repo"
)

type fakeSequenceRepo struct {
	sequences   map[uint64]*entity.Sequence
	enrollments map[uint64]*entity.SequenceEnrollment
}

func newFakeSequenceRepo() *fakeSequenceRepo {
	return &fakeSequenceRepo{
		sequences:   make(map[uint64]*entity.Sequence),
		enrollments: make(map[uint64]*entity.SequenceEnrollment),
	}
}

func (r *fakeSequenceRepo) Create(_ context.Context, sequence *entity.Sequence) (uint64, error) {
	r.sequences[sequence.GetID()] = sequence
	return sequence.GetID(), nil
}

func (r *fakeSequenceRepo) GetByID(_ context.Context, _, id uint64) (*entity.Sequence, error) {
	if sequence, ok := r.sequences[id]; ok {
		return sequence, nil
	}
	return nil, errors.New("sequence not found")
}

func (r *fakeSequenceRepo) GetMany(_ context.Context, _ uint64, _ entity.Scope, _ *entity.Pagination) ([]*entity.Sequence, *entity.Pagination, error) {
	return nil, nil, nil
}

func (r *fakeSequenceRepo) CreateEnrollment(_ context.Context, enrollment *entity.SequenceEnrollment) (uint64, error) {
	r.enrollments[enrollment.GetID()] = enrollment
	return enrollment.GetID(), nil
}

func (r *fakeSequenceRepo) GetEnrollmentByID(_ context.Context, _, id uint64) (*entity.SequenceEnrollment, error) {
	if enrollment, ok := r.enrollments[id]; ok {
		return enrollment, nil
	}
	return nil, errors.New("enrollment not found")
}

func (r *fakeSequenceRepo) GetEnrollments(_ context.Context, _, _ uint64, _ *entity.Pagination) ([]*entity.SequenceEnrollment, *entity.Pagination, error) {
	return nil, nil, nil
}

func (r *fakeSequenceRepo) GetDueEnrollments(_ context.Context, now time.Time, _ uint32) ([]*entity.SequenceEnrollment, error) {
	var due []*entity.SequenceEnrollment
	for _, enrollment := range r.enrollments {
		if enrollment.IsDue(now) {
			due = append(due, enrollment)
		}
	}
	return due, nil
}

func (r *fakeSequenceRepo) AdvanceEnrollment(_ context.Context, enrollment *entity.SequenceEnrollment, fromStepIndex uint32, toStatus entity.EnrollmentStatus, nextRunAt uint64) (bool, error) {
	stored, ok := r.enrollments[enrollment.GetID()]
	if !ok || !stored.IsActive() || stored.GetCurrentStepIndex() != fromStepIndex {
		return false, nil
	}
	stored.CurrentStepIndex = goutil.Uint32(fromStepIndex + 1)
	stored.Status = toStatus
	stored.NextRunAt = goutil.Uint64(nextRunAt)
	return true, nil
}

func (r *fakeSequenceRepo) CancelEnrollment(_ context.Context, _, id uint64) (bool, error) {
	stored, ok := r.enrollments[id]
	if !ok || !stored.IsActive() {
		return false, nil
	}
	stored.Status = entity.EnrollmentStatusCancelled
	return true, nil
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

type sentCall struct {
	leadID     uint64
	templateID uint64
	origin     entity.EmailOrigin
}

type fakeSender struct {
	err   error
	calls []sentCall
}

func (s *fakeSender) SendToLead(_ context.Context, _ *entity.User, lead *entity.Lead, template *entity.Template, origin entity.EmailOrigin, _, _ *uint64) (*handler.SendResult, error) {
	s.calls = append(s.calls, sentCall{leadID: lead.GetID(), templateID: template.GetID(), origin: origin})
	if s.err != nil {
		return nil, s.err
	}
	return &handler.SendResult{}, nil
}

func (s *fakeSender) SendRaw(_ context.Context, _ *entity.User, _, _, _ string) error {
	return s.err
}

type fixture struct {
	job          *RunSequences
	sequenceRepo *fakeSequenceRepo
	leadRepo     *fakeLeadRepo
	sender       *fakeSender
	now          time.Time
}

func newFixture(t *testing.T, delays ...uint64) (*fixture, *entity.SequenceEnrollment) {
	t.Helper()

	now := time.Unix(2_000_000_000, 0)

	enroller := &entity.User{
		ID:         goutil.Uint64(3),
		TenantID:   goutil.Uint64(1),
		Role:       entity.RoleSalesRep,
		Department: goutil.String("emea"),
	}

	steps := make([]*entity.SequenceStep, 0, len(delays))
	for i, delay := range delays {
		steps = append(steps, &entity.SequenceStep{
			TemplateID:   goutil.Uint64(uint64(100 + i)),
			DelaySeconds: goutil.Uint64(delay),
		})
	}
	sequence := entity.NewSequence(1, enroller, "followups", steps)
	sequence.ID = goutil.Uint64(50)

	lead := &entity.Lead{
		ID:       goutil.Uint64(42),
		TenantID: goutil.Uint64(1),
		OwnerID:  goutil.Uint64(3),
		Email:    goutil.String("ada@example.com"),
	}

	enrollment, err := entity.NewSequenceEnrollment(sequence, lead.GetID(), enroller.GetID(), now.Add(-time.Hour))
	require.NoError(t, err)
	enrollment.ID = goutil.Uint64(900)

	sequenceRepo := newFakeSequenceRepo()
	sequenceRepo.sequences[50] = sequence
	sequenceRepo.enrollments[900] = enrollment

	leadRepo := &fakeLeadRepo{leads: map[uint64]*entity.Lead{42: lead}}
	userRepo := &fakeUserRepo{users: map[uint64]*entity.User{3: enroller}}

	templateRepo := &fakeTemplateRepo{templates: make(map[uint64]*entity.Template)}
	for i := range delays {
		id := uint64(100 + i)
		templateRepo.templates[id] = &entity.Template{
			ID:      goutil.Uint64(id),
			Subject: goutil.String("step"),
			Body:    goutil.String("<p>step</p>"),
		}
	}

	sender := new(fakeSender)

	job := New(config.NewConfig(), sequenceRepo, leadRepo, userRepo, templateRepo, sender).(*RunSequences)
	job.now = func() time.Time { return now }

	return &fixture{
		job:          job,
		sequenceRepo: sequenceRepo,
		leadRepo:     leadRepo,
		sender:       sender,
		now:          now,
	}, enrollment
}

func TestRunExecutesOneStepPerTick(t *testing.T) {
	f, enrollment := newFixture(t, 0, 3600)

	require.NoError(t, f.job.Run(context.Background()))

	require.Len(t, f.sender.calls, 1)
	assert.Equal(t, uint64(100), f.sender.calls[0].templateID)
	assert.Equal(t, entity.EmailOriginSequence, f.sender.calls[0].origin)

	assert.Equal(t, uint32(1), enrollment.GetCurrentStepIndex())
	assert.True(t, enrollment.IsActive())
	assert.Equal(t, uint64(f.now.Unix())+3600, enrollment.GetNextRunAt())

	// the next step is not due yet; another tick sends nothing
	require.NoError(t, f.job.Run(context.Background()))
	assert.Len(t, f.sender.calls, 1)
}

func TestRunCompletesOnLastStep(t *testing.T) {
	f, enrollment := newFixture(t, 0)

	require.NoError(t, f.job.Run(context.Background()))

	assert.Len(t, f.sender.calls, 1)
	assert.Equal(t, entity.EnrollmentStatusCompleted, enrollment.GetStatus())

	// completed enrollments never fire again
	require.NoError(t, f.job.Run(context.Background()))
	assert.Len(t, f.sender.calls, 1)
}

func TestRunSkipsLeadOutsideEnrollerScope(t *testing.T) {
	f, enrollment := newFixture(t, 0, 3600)

	// lead reassigned away from the enroller
	f.leadRepo.leads[42].OwnerID = goutil.Uint64(99)

	require.NoError(t, f.job.Run(context.Background()))

	// skipped without advancing, so the step fires once the lead comes back
	assert.Empty(t, f.sender.calls)
	assert.Equal(t, uint32(0), enrollment.GetCurrentStepIndex())
	assert.True(t, enrollment.IsActive())

	f.leadRepo.leads[42].OwnerID = goutil.Uint64(3)
	require.NoError(t, f.job.Run(context.Background()))
	assert.Len(t, f.sender.calls, 1)
	assert.Equal(t, uint32(1), enrollment.GetCurrentStepIndex())
}

func TestRunSkipsCancelledEnrollment(t *testing.T) {
	f, enrollment := newFixture(t, 0, 3600)
	enrollment.Status = entity.EnrollmentStatusCancelled

	require.NoError(t, f.job.Run(context.Background()))
	assert.Empty(t, f.sender.calls)
}

func TestRunFailedSendStillAdvances(t *testing.T) {
	f, enrollment := newFixture(t, 0, 3600)
	f.sender.err = errors.New("smtp connection failed")

	require.NoError(t, f.job.Run(context.Background()))

	// the step is consumed even when delivery fails
	assert.Len(t, f.sender.calls, 1)
	assert.Equal(t, uint32(1), enrollment.GetCurrentStepIndex())
}

func TestRunLostClaimSendsNothing(t *testing.T) {
	f, enrollment := newFixture(t, 0, 3600)

	// a sweeper holds a stale snapshot; another runner advanced the
	// enrollment after the sweep
	stale := *enrollment
	stale.CurrentStepIndex = goutil.Uint32(0)
	enrollment.CurrentStepIndex = goutil.Uint32(1)

	f.job.runStep(context.Background(), &stale)
	assert.Empty(t, f.sender.calls)
	assert.Equal(t, uint32(1), enrollment.GetCurrentStepIndex())
}
