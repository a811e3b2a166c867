package run_sequences

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"crm/config"
	"crm/entity"
	"crm/handler"
	"crm/pkg/service"
	"crm/repo"
)

// RunSequences sweeps due sequence enrollments and executes exactly one
// step per enrollment per run. The step claim is a compare-and-set on
// (enrollment, current step, active status), so a tick that fires twice
// sends each step's email once.
type RunSequences struct {
	cfg          *config.Config
	sequenceRepo repo.SequenceRepo
	leadRepo     repo.LeadRepo
	userRepo     repo.UserRepo
	templateRepo repo.TemplateRepo
	sender       handler.Sender

	now func() time.Time
}

func New(
	cfg *config.Config,
	sequenceRepo repo.SequenceRepo,
	leadRepo repo.LeadRepo,
	userRepo repo.UserRepo,
	templateRepo repo.TemplateRepo,
	sender handler.Sender,
) service.Job {
	return &RunSequences{
		cfg:          cfg,
		sequenceRepo: sequenceRepo,
		leadRepo:     leadRepo,
		userRepo:     userRepo,
		templateRepo: templateRepo,
		sender:       sender,
		now:          time.Now,
	}
}

func (h *RunSequences) Init(_ context.Context) error {
	return nil
}

func (h *RunSequences) Run(ctx context.Context) error {
	enrollments, err := h.sequenceRepo.GetDueEnrollments(ctx, h.now(), uint32(h.cfg.Delivery.EnrollmentSweepBatchSize))
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get due enrollments failed: %v", err)
		return err
	}

	log.Ctx(ctx).Info().Msgf("number of due enrollments: %d", len(enrollments))

	var (
		g  = new(errgroup.Group)
		ch = make(chan struct{}, h.cfg.Delivery.EnrollmentConcurrency)
	)

	for _, enrollment := range enrollments {
		ch <- struct{}{}

		enrollment := enrollment
		g.Go(func() error {
			defer func() {
				<-ch
			}()

			h.runStep(ctx, enrollment)
			return nil
		})
	}

	return g.Wait()
}

func (h *RunSequences) CleanUp(_ context.Context) error {
	return nil
}

func (h *RunSequences) runStep(ctx context.Context, enrollment *entity.SequenceEnrollment) {
	var (
		tenantID     = enrollment.GetTenantID()
		enrollmentID = enrollment.GetID()
		stepIndex    = enrollment.GetCurrentStepIndex()
	)

	sequence, err := h.sequenceRepo.GetByID(ctx, tenantID, enrollment.GetSequenceID())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[enrollment %d] get sequence failed: %v", enrollmentID, err)
		return
	}

	step := sequence.GetStep(stepIndex)
	if step == nil {
		log.Ctx(ctx).Error().Msgf("[enrollment %d] step %d not found, completing", enrollmentID, stepIndex)
		if _, err := h.sequenceRepo.AdvanceEnrollment(ctx, enrollment, stepIndex, entity.EnrollmentStatusCompleted, 0); err != nil {
			log.Ctx(ctx).Error().Msgf("[enrollment %d] complete failed: %v", enrollmentID, err)
		}
		return
	}

	enroller, err := h.userRepo.GetByTenantAndID(ctx, tenantID, enrollment.GetEnrollerID())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[enrollment %d] get enroller failed: %v", enrollmentID, err)
		return
	}

	lead, err := h.leadRepo.GetByID(ctx, tenantID, enrollment.GetLeadID())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[enrollment %d] get lead failed: %v", enrollmentID, err)
		return
	}

	// the lead is re-checked against the enroller's scope on every step;
	// a lead that moved away is skipped without advancing, and the step
	// fires again if the lead comes back
	scope := entity.ResolveScope(enroller, entity.ResourceLead)
	if !scope.Match(lead) {
		log.Ctx(ctx).Info().Msgf("[enrollment %d] lead %d outside enroller scope, skipping step %d", enrollmentID, lead.GetID(), stepIndex)
		return
	}

	template, err := h.templateRepo.GetByID(ctx, tenantID, step.GetTemplateID())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[enrollment %d] get template failed: %v", enrollmentID, err)
		return
	}

	var (
		nextStep  = sequence.GetStep(stepIndex + 1)
		toStatus  = entity.EnrollmentStatusActive
		nextRunAt uint64
	)
	if nextStep == nil {
		toStatus = entity.EnrollmentStatusCompleted
	} else {
		nextRunAt = uint64(h.now().Unix()) + nextStep.GetDelaySeconds()
	}

	claimed, err := h.sequenceRepo.AdvanceEnrollment(ctx, enrollment, stepIndex, toStatus, nextRunAt)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[enrollment %d] advance failed: %v", enrollmentID, err)
		return
	}
	if !claimed {
		// another runner claimed this step, or the enrollment was cancelled
		return
	}

	if _, err := h.sender.SendToLead(ctx, enroller, lead, template, entity.EmailOriginSequence, nil, enrollment.ID); err != nil {
		// the step is already consumed; a failed send is recorded on the
		// email and does not stall the rest of the sequence
		log.Ctx(ctx).Error().Msgf("[enrollment %d] send step %d failed: %v", enrollmentID, stepIndex, err)
	}
}
