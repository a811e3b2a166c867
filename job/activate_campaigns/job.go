package activate_campaigns

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"crm/config"
	"crm/entity"
	"crm/handler"
	"crm/pkg/errutil"
	"crm/pkg/service"
	"crm/repo"
)

// ActivateCampaigns sweeps campaigns with work left, claims each with a
// compare-and-set, expands its audience under the owner's scope at send
// time, and dispatches the emails. Two sweepers can run side by side; the
// claim guarantees each campaign is expanded exactly once. Sending
// campaigns that sat untouched for a while come back through the same
// sweep, so a resumed or stranded campaign finishes its remaining leads.
type ActivateCampaigns struct {
	cfg             *config.Config
	campaignRepo    repo.CampaignRepo
	leadRepo        repo.LeadRepo
	userRepo        repo.UserRepo
	templateRepo    repo.TemplateRepo
	emailConfigRepo repo.EmailConfigRepo
	emailRepo       repo.EmailRepo
	sender          handler.Sender

	now func() time.Time
}

func New(
	cfg *config.Config,
	campaignRepo repo.CampaignRepo,
	leadRepo repo.LeadRepo,
	userRepo repo.UserRepo,
	templateRepo repo.TemplateRepo,
	emailConfigRepo repo.EmailConfigRepo,
	emailRepo repo.EmailRepo,
	sender handler.Sender,
) service.Job {
	return &ActivateCampaigns{
		cfg:             cfg,
		campaignRepo:    campaignRepo,
		leadRepo:        leadRepo,
		userRepo:        userRepo,
		templateRepo:    templateRepo,
		emailConfigRepo: emailConfigRepo,
		emailRepo:       emailRepo,
		sender:          sender,
		now:             time.Now,
	}
}

func (h *ActivateCampaigns) Init(_ context.Context) error {
	return nil
}

func (h *ActivateCampaigns) Run(ctx context.Context) error {
	now := h.now()
	resumedBefore := now.Add(-time.Duration(h.cfg.Delivery.SendingRescanSeconds) * time.Second)

	campaigns, err := h.campaignRepo.GetDue(ctx, now, resumedBefore, uint32(h.cfg.Delivery.CampaignSweepBatchSize))
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get due campaigns failed: %v", err)
		return err
	}

	log.Ctx(ctx).Info().Msgf("number of due campaigns: %d", len(campaigns))

	g := new(errgroup.Group)
	for _, campaign := range campaigns {
		campaign := campaign
		g.Go(func() error {
			h.runCampaign(ctx, campaign)
			return nil
		})
	}

	return g.Wait()
}

func (h *ActivateCampaigns) CleanUp(_ context.Context) error {
	return nil
}

func (h *ActivateCampaigns) runCampaign(ctx context.Context, campaign *entity.Campaign) {
	var (
		tenantID   = campaign.GetTenantID()
		campaignID = campaign.GetID()
	)

	resumed := false
	switch campaign.GetStatus() {
	case entity.CampaignStatusScheduled:
		claimed, err := h.campaignRepo.UpdateStatusFrom(ctx, tenantID, campaignID, entity.CampaignStatusScheduled, entity.CampaignStatusSending)
		if err != nil {
			log.Ctx(ctx).Error().Msgf("[campaign %d] claim failed: %v", campaignID, err)
			return
		}
		if !claimed {
			// another sweeper got here first
			return
		}
	case entity.CampaignStatusSending:
		// resumed after a pause, or a sweeper died mid-dispatch; take it
		// over. The take-over bumps update_time, so a concurrent sweeper
		// sees it fresh and backs off.
		now := h.now()
		resumedBefore := now.Add(-time.Duration(h.cfg.Delivery.SendingRescanSeconds) * time.Second)
		takenOver, err := h.campaignRepo.TakeOverSending(ctx, tenantID, campaignID, resumedBefore, now)
		if err != nil {
			log.Ctx(ctx).Error().Msgf("[campaign %d] take over failed: %v", campaignID, err)
			return
		}
		if !takenOver {
			return
		}
		resumed = true
	default:
		return
	}

	owner, err := h.userRepo.GetByTenantAndID(ctx, tenantID, campaign.GetOwnerID())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[campaign %d] get owner failed: %v", campaignID, err)
		h.finish(ctx, campaign, entity.CampaignStatusFailed)
		return
	}

	template, err := h.templateRepo.GetByID(ctx, tenantID, campaign.GetTemplateID())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[campaign %d] get template failed: %v", campaignID, err)
		h.finish(ctx, campaign, entity.CampaignStatusFailed)
		return
	}

	emailConfig, err := h.emailConfigRepo.GetActiveByOwner(ctx, tenantID, owner.GetID())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[campaign %d] no usable email config: %v", campaignID, err)
		h.finish(ctx, campaign, entity.CampaignStatusFailed)
		return
	}

	// audience is expanded now, under the owner's current scope; leads that
	// moved out of scope since the filter was saved drop out silently
	scope := entity.ResolveScope(owner, entity.ResourceLead)
	leads, err := h.leadRepo.GetByAudience(ctx, tenantID, scope, campaign.GetAudience())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[campaign %d] expand audience failed: %v", campaignID, err)
		h.finish(ctx, campaign, entity.CampaignStatusFailed)
		return
	}

	log.Ctx(ctx).Info().Msgf("[campaign %d] expanded audience size: %d", campaignID, len(leads))

	maxInFlight := int(emailConfig.GetMaxInFlight())
	if maxInFlight <= 0 {
		maxInFlight = h.cfg.Delivery.MaxInFlightPerConfig
	}
	if maxInFlight <= 0 {
		maxInFlight = 1
	}

	var (
		dispatchG = new(errgroup.Group)
		inFlight  = make(chan struct{}, maxInFlight)
		authHalt  atomic.Bool
		delivered atomic.Uint64
	)

	for _, lead := range leads {
		// honor a pause between emails, not mid-delivery
		current, err := h.campaignRepo.GetByID(ctx, tenantID, campaignID)
		if err != nil {
			log.Ctx(ctx).Error().Msgf("[campaign %d] re-read failed: %v", campaignID, err)
			break
		}
		if current.GetStatus() != entity.CampaignStatusSending {
			log.Ctx(ctx).Info().Msgf("[campaign %d] status is %s, stopping dispatch", campaignID, current.GetStatus())
			_ = dispatchG.Wait()
			return
		}
		if authHalt.Load() {
			break
		}

		if resumed {
			// a previous run already emailed part of the audience
			if _, err := h.emailRepo.GetByCampaignAndLead(ctx, campaignID, lead.GetID()); err == nil {
				continue
			} else if !errors.Is(err, repo.ErrEmailNotFound) {
				log.Ctx(ctx).Error().Msgf("[campaign %d] check emailed lead %d failed: %v", campaignID, lead.GetID(), err)
				continue
			}
		}

		inFlight <- struct{}{}

		lead := lead
		dispatchG.Go(func() error {
			defer func() {
				<-inFlight
			}()

			_, err := h.sender.SendToLead(ctx, owner, lead, template, entity.EmailOriginCampaign, campaign.ID, nil)
			if err != nil {
				if errutil.IsAuthError(err) {
					// broken credentials fail every send; stop wasting attempts
					authHalt.Store(true)
				}
				h.addCount(ctx, campaign, "failed_count")
				return nil
			}

			delivered.Add(1)
			h.addCount(ctx, campaign, "sent_count")
			return nil
		})
	}

	_ = dispatchG.Wait()

	// a campaign only fails when broken credentials stopped it before a
	// single delivery; with any send on record it completes with
	// per-email failures in the counters
	if authHalt.Load() && delivered.Load() == 0 && campaign.GetSentCount() == 0 {
		h.finish(ctx, campaign, entity.CampaignStatusFailed)
		return
	}

	h.finish(ctx, campaign, entity.CampaignStatusCompleted)
}

func (h *ActivateCampaigns) addCount(ctx context.Context, campaign *entity.Campaign, field string) {
	if err := h.campaignRepo.AddCounts(ctx, campaign.GetTenantID(), campaign.GetID(), map[string]uint64{field: 1}); err != nil {
		log.Ctx(ctx).Error().Msgf("[campaign %d] add %s failed: %v", campaign.GetID(), field, err)
	}
}

func (h *ActivateCampaigns) finish(ctx context.Context, campaign *entity.Campaign, to entity.CampaignStatus) {
	moved, err := h.campaignRepo.UpdateStatusFrom(ctx, campaign.GetTenantID(), campaign.GetID(), entity.CampaignStatusSending, to)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[campaign %d] finish as %s failed: %v", campaign.GetID(), to, err)
		return
	}
	if !moved {
		// paused mid-run; the sweep picks it back up after resume
		log.Ctx(ctx).Info().Msgf("[campaign %d] not finished as %s, status moved", campaign.GetID(), to)
	}
}
