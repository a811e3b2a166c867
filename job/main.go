package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"crm/config"
	"crm/dep"
	"crm/handler"
	"crm/job/activate_campaigns"
	"crm/job/reconcile_campaigns"
	"crm/job/run_sequences"
	"crm/pkg/logutil"
	"crm/pkg/service"
	"crm/repo"
)

func main() {
	var (
		opt = config.NewOptions()
		ctx = logutil.InitZeroLog(context.Background(), "DEBUG")
	)

	cfg := config.NewConfig()
	if err := cfg.Load(ctx, opt.ConfigPath); err != nil {
		log.Ctx(ctx).Error().Msgf("load config failed: %v", err)
		os.Exit(1)
	}

	// base repo
	baseRepo, err := repo.NewBaseRepo(ctx, cfg.MetadataDB)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("init base repo failed, err: %v", err)
		os.Exit(1)
	}
	defer func() {
		if baseRepo != nil {
			if err := baseRepo.Close(ctx); err != nil {
				log.Ctx(ctx).Error().Msgf("close base repo failed, err: %v", err)
				return
			}
		}
	}()

	// base cache
	baseCache := repo.NewBaseCache(ctx)

	// repos
	userRepo := repo.NewUserRepo(ctx, baseRepo)
	leadRepo := repo.NewLeadRepo(ctx, baseRepo)
	templateRepo := repo.NewTemplateRepo(ctx, baseRepo, baseCache)
	emailConfigRepo := repo.NewEmailConfigRepo(ctx, baseRepo, baseCache)
	campaignRepo := repo.NewCampaignRepo(ctx, baseRepo)
	sequenceRepo := repo.NewSequenceRepo(ctx, baseRepo)
	emailRepo := repo.NewEmailRepo(ctx, baseRepo)

	// email service
	emailService := dep.NewEmailService(ctx)
	defer func() {
		if err := emailService.Close(ctx); err != nil {
			log.Ctx(ctx).Error().Msgf("close email service failed, err: %v", err)
		}
	}()

	sender := handler.NewSender(cfg, emailRepo, emailConfigRepo, emailService)

	jobs := map[string]service.Job{
		"activate-campaigns":  activate_campaigns.New(cfg, campaignRepo, leadRepo, userRepo, templateRepo, emailConfigRepo, emailRepo, sender),
		"run-sequences":       run_sequences.New(cfg, sequenceRepo, leadRepo, userRepo, templateRepo, sender),
		"reconcile-campaigns": reconcile_campaigns.New(cfg, campaignRepo, emailRepo),
	}

	if len(os.Args) < 2 {
		fmt.Println("Usage: go run main.go <job_name>")
		os.Exit(1)
	}

	jobName := os.Args[1]
	job, exists := jobs[jobName]
	if !exists {
		log.Ctx(ctx).Error().Msgf("job %s not found", jobName)
		os.Exit(1)
	}

	if err := job.Init(ctx); err != nil {
		log.Ctx(ctx).Error().Msgf("init job err: %v", err)
		os.Exit(1)
	}

	if err := job.Run(ctx); err != nil {
		log.Ctx(ctx).Error().Msgf("run job err: %v", err)
		os.Exit(1)
	}

	if err := job.CleanUp(ctx); err != nil {
		log.Ctx(ctx).Error().Msgf("cleanup job err: %v", err)
		os.Exit(1)
	}

	log.Ctx(ctx).Info().Msg("job executed successfully")
}
