package reconcile_campaigns

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"crm/config"
	"crm/entity"
	"crm/pkg/service"
	"crm/repo"
)

// ReconcileCampaigns closes out campaigns stranded in sending, usually
// after a sweeper crash mid-dispatch. A sending campaign with no queued
// emails left is moved to completed, or to failed when nothing was sent.
// Only campaigns untouched for the grace window are considered; a live
// dispatch keeps bumping update_time, and the activation sweep's rescan
// window is shorter, so it gets to finish a stranded campaign first.
type ReconcileCampaigns struct {
	cfg          *config.Config
	campaignRepo repo.CampaignRepo
	emailRepo    repo.EmailRepo

	now func() time.Time
}

func New(cfg *config.Config, campaignRepo repo.CampaignRepo, emailRepo repo.EmailRepo) service.Job {
	return &ReconcileCampaigns{
		cfg:          cfg,
		campaignRepo: campaignRepo,
		emailRepo:    emailRepo,
		now:          time.Now,
	}
}

func (h *ReconcileCampaigns) Init(_ context.Context) error {
	return nil
}

func (h *ReconcileCampaigns) Run(ctx context.Context) error {
	updatedBefore := h.now().Add(-time.Duration(h.cfg.Delivery.ReconcileGraceSeconds) * time.Second)

	campaigns, err := h.campaignRepo.GetStaleByStatuses(ctx, []entity.CampaignStatus{entity.CampaignStatusSending}, updatedBefore, uint32(h.cfg.Delivery.CampaignSweepBatchSize))
	if err != nil {
		log.Ctx(ctx).Error().Msgf("get sending campaigns failed: %v", err)
		return err
	}

	log.Ctx(ctx).Info().Msgf("number of sending campaigns: %d", len(campaigns))

	for _, campaign := range campaigns {
		h.reconcile(ctx, campaign)
	}

	return nil
}

func (h *ReconcileCampaigns) CleanUp(_ context.Context) error {
	return nil
}

func (h *ReconcileCampaigns) reconcile(ctx context.Context, campaign *entity.Campaign) {
	var (
		tenantID   = campaign.GetTenantID()
		campaignID = campaign.GetID()
	)

	queued, err := h.emailRepo.CountNonTerminalByCampaign(ctx, campaignID)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[campaign %d] count queued emails failed: %v", campaignID, err)
		return
	}
	if queued > 0 {
		// still being dispatched
		return
	}

	sent, err := h.emailRepo.CountByCampaignAndStatus(ctx, campaignID, entity.EmailStatusSent)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[campaign %d] count sent emails failed: %v", campaignID, err)
		return
	}

	to := entity.CampaignStatusCompleted
	if sent == 0 {
		to = entity.CampaignStatusFailed
	}

	moved, err := h.campaignRepo.UpdateStatusFrom(ctx, tenantID, campaignID, entity.CampaignStatusSending, to)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("[campaign %d] reconcile to %s failed: %v", campaignID, to, err)
		return
	}
	if moved {
		log.Ctx(ctx).Info().Msgf("[campaign %d] reconciled to %s, sent: %d", campaignID, to, sent)
	}
}
