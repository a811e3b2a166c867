package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"crm/config"
	"crm/dep"
	"crm/handler"
	"crm/middleware"
	"crm/pkg/logutil"
	"crm/pkg/router"
	"crm/pkg/service"
	"crm/repo"
)

type server struct {
	ctx context.Context
	opt *config.Option
	cfg *config.Config

	baseRepo        repo.BaseRepo
	tenantRepo      repo.TenantRepo
	userRepo        repo.UserRepo
	sessionRepo     repo.SessionRepo
	leadRepo        repo.LeadRepo
	templateRepo    repo.TemplateRepo
	emailConfigRepo repo.EmailConfigRepo
	campaignRepo    repo.CampaignRepo
	sequenceRepo    repo.SequenceRepo
	emailRepo       repo.EmailRepo

	emailService dep.EmailService

	// api handlers
	accountHandler     handler.AccountHandler
	leadHandler        handler.LeadHandler
	templateHandler    handler.TemplateHandler
	emailConfigHandler handler.EmailConfigHandler
	campaignHandler    handler.CampaignHandler
	sequenceHandler    handler.SequenceHandler
	quickSendHandler   handler.QuickSendHandler
	trackingHandler    handler.TrackingHandler

	sessionMiddleware router.Middleware
}

func main() {
	s := new(server)
	if err := service.Run(s); err != nil {
		log.Fatal().Msg(err.Error())
	}
}

func (s *server) Init() error {
	opt := config.NewOptions()

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		opt.LogLevel = logLevel
	}

	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		opt.ConfigPath = configPath
	}

	if serverPort := os.Getenv("PORT"); serverPort != "" {
		if port, err := strconv.Atoi(serverPort); err == nil {
			opt.Port = port
		}
	}

	s.opt = opt

	return nil
}

func (s *server) Start() error {
	var err error

	// ====== init logger ===== //

	s.ctx = logutil.InitZeroLog(context.Background(), s.opt.LogLevel)

	// ===== init config ===== //

	s.cfg = config.NewConfig()
	if err = s.cfg.Load(s.ctx, s.opt.ConfigPath); err != nil {
		log.Ctx(s.ctx).Error().Msgf("load config failed, err: %v", err)
		return err
	}

	// ===== init repos =====

	s.baseRepo, err = repo.NewBaseRepo(s.ctx, s.cfg.MetadataDB)
	if err != nil {
		log.Ctx(s.ctx).Error().Msgf("init base repo failed, err: %v", err)
		return err
	}
	defer func() {
		if err != nil && s.baseRepo != nil {
			if err := s.baseRepo.Close(s.ctx); err != nil {
				log.Ctx(s.ctx).Error().Msgf("close base repo failed, err: %v", err)
				return
			}
		}
	}()

	baseCache := repo.NewBaseCache(s.ctx)

	s.tenantRepo = repo.NewTenantRepo(s.ctx, s.baseRepo)
	s.userRepo = repo.NewUserRepo(s.ctx, s.baseRepo)
	s.sessionRepo = repo.NewSessionRepo(s.ctx, s.baseRepo)
	s.leadRepo = repo.NewLeadRepo(s.ctx, s.baseRepo)
	s.templateRepo = repo.NewTemplateRepo(s.ctx, s.baseRepo, baseCache)
	s.emailConfigRepo = repo.NewEmailConfigRepo(s.ctx, s.baseRepo, baseCache)
	s.campaignRepo = repo.NewCampaignRepo(s.ctx, s.baseRepo)
	s.sequenceRepo = repo.NewSequenceRepo(s.ctx, s.baseRepo)
	s.emailRepo = repo.NewEmailRepo(s.ctx, s.baseRepo)

	// ===== init email service ===== //

	s.emailService = dep.NewEmailService(s.ctx)

	// ===== init handlers ===== //

	sender := handler.NewSender(s.cfg, s.emailRepo, s.emailConfigRepo, s.emailService)

	s.accountHandler = handler.NewAccountHandler(s.cfg, s.baseRepo, s.tenantRepo, s.userRepo, s.sessionRepo)
	s.leadHandler = handler.NewLeadHandler(s.leadRepo, s.userRepo)
	s.templateHandler = handler.NewTemplateHandler(s.templateRepo)
	s.emailConfigHandler = handler.NewEmailConfigHandler(s.cfg, s.emailConfigRepo, sender)
	s.campaignHandler = handler.NewCampaignHandler(s.campaignRepo, s.templateHandler)
	s.sequenceHandler = handler.NewSequenceHandler(s.sequenceRepo, s.leadRepo, s.templateHandler)
	s.quickSendHandler = handler.NewQuickSendHandler(s.leadRepo, s.templateHandler, sender)
	s.trackingHandler = handler.NewTrackingHandler(s.cfg, s.emailRepo, s.campaignRepo)

	s.sessionMiddleware = router.NewSessionMiddleware(s.userRepo, s.tenantRepo, s.sessionRepo)

	// ===== start server ===== //

	go func() {
		addr := fmt.Sprintf(":%d", s.opt.Port)

		log.Info().Msgf("starting HTTP server at %s", addr)

		httpServer := &http.Server{
			BaseContext: func(_ net.Listener) context.Context {
				return s.ctx
			},
			Addr:    addr,
			Handler: middleware.Log(cors.AllowAll().Handler(s.registerRoutes())),
		}
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Msgf("fail to start HTTP server, err: %v", err)
		}
	}()

	return nil
}

func (s *server) Stop() error {
	if s.baseRepo != nil {
		if err := s.baseRepo.Close(s.ctx); err != nil {
			log.Ctx(s.ctx).Error().Msgf("close base repo failed, err: %v", err)
			return err
		}
	}

	if s.emailService != nil {
		if err := s.emailService.Close(s.ctx); err != nil {
			log.Ctx(s.ctx).Error().Msgf("close email service failed, err: %v", err)
			return err
		}
	}

	return nil
}

type HealthCheckRequest struct{}

type HealthCheckResponse struct{}

func (s *server) registerRoutes() http.Handler {
	r := &router.HttpRouter{
		Router: mux.NewRouter(),
	}

	authed := []router.Middleware{s.sessionMiddleware}

	r.RegisterHttpRoute(&router.HttpRoute{
		Path:   config.PathHealthCheck,
		Method: http.MethodGet,
		Handler: router.Handler{
			Req: new(HealthCheckRequest),
			Res: new(HealthCheckResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return nil
			},
		},
	})

	// create_tenant
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:   config.PathCreateTenant,
		Method: http.MethodPost,
		Handler: router.Handler{
			Req: new(handler.CreateTenantRequest),
			Res: new(handler.CreateTenantResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.accountHandler.CreateTenant(ctx, req.(*handler.CreateTenantRequest), res.(*handler.CreateTenantResponse))
			},
		},
	})

	// log_in
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:   config.PathLogIn,
		Method: http.MethodPost,
		Handler: router.Handler{
			Req: new(handler.LogInRequest),
			Res: new(handler.LogInResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.accountHandler.LogIn(ctx, req.(*handler.LogInRequest), res.(*handler.LogInResponse))
			},
		},
	})

	// log_out
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathLogOut,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.LogOutRequest),
			Res: new(handler.LogOutResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.accountHandler.LogOut(ctx, req.(*handler.LogOutRequest), res.(*handler.LogOutResponse))
			},
		},
	})

	// create_user
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathCreateUser,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.CreateUserRequest),
			Res: new(handler.CreateUserResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.accountHandler.CreateUser(ctx, req.(*handler.CreateUserRequest), res.(*handler.CreateUserResponse))
			},
		},
	})

	// create_lead
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathCreateLead,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.CreateLeadRequest),
			Res: new(handler.CreateLeadResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.leadHandler.CreateLead(ctx, req.(*handler.CreateLeadRequest), res.(*handler.CreateLeadResponse))
			},
		},
	})

	// update_lead
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathUpdateLead,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.UpdateLeadRequest),
			Res: new(handler.UpdateLeadResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.leadHandler.UpdateLead(ctx, req.(*handler.UpdateLeadRequest), res.(*handler.UpdateLeadResponse))
			},
		},
	})

	// get_lead
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathGetLead,
		Method:      http.MethodGet,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.GetLeadRequest),
			Res: new(handler.GetLeadResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.leadHandler.GetLead(ctx, req.(*handler.GetLeadRequest), res.(*handler.GetLeadResponse))
			},
		},
	})

	// get_leads
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathGetLeads,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.GetLeadsRequest),
			Res: new(handler.GetLeadsResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.leadHandler.GetLeads(ctx, req.(*handler.GetLeadsRequest), res.(*handler.GetLeadsResponse))
			},
		},
	})

	// create_template
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathCreateTemplate,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.CreateTemplateRequest),
			Res: new(handler.CreateTemplateResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.templateHandler.CreateTemplate(ctx, req.(*handler.CreateTemplateRequest), res.(*handler.CreateTemplateResponse))
			},
		},
	})

	// update_template
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathUpdateTemplate,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.UpdateTemplateRequest),
			Res: new(handler.UpdateTemplateResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.templateHandler.UpdateTemplate(ctx, req.(*handler.UpdateTemplateRequest), res.(*handler.UpdateTemplateResponse))
			},
		},
	})

	// get_templates
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathGetTemplates,
		Method:      http.MethodGet,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.GetTemplatesRequest),
			Res: new(handler.GetTemplatesResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.templateHandler.GetTemplates(ctx, req.(*handler.GetTemplatesRequest), res.(*handler.GetTemplatesResponse))
			},
		},
	})

	// create_email_config
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathCreateEmailConfig,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.CreateEmailConfigRequest),
			Res: new(handler.CreateEmailConfigResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.emailConfigHandler.CreateEmailConfig(ctx, req.(*handler.CreateEmailConfigRequest), res.(*handler.CreateEmailConfigResponse))
			},
		},
	})

	// update_email_config
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathUpdateEmailConfig,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.UpdateEmailConfigRequest),
			Res: new(handler.UpdateEmailConfigResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.emailConfigHandler.UpdateEmailConfig(ctx, req.(*handler.UpdateEmailConfigRequest), res.(*handler.UpdateEmailConfigResponse))
			},
		},
	})

	// get_email_configs
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathGetEmailConfigs,
		Method:      http.MethodGet,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.GetEmailConfigsRequest),
			Res: new(handler.GetEmailConfigsResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.emailConfigHandler.GetEmailConfigs(ctx, req.(*handler.GetEmailConfigsRequest), res.(*handler.GetEmailConfigsResponse))
			},
		},
	})

	// send_test_email
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathSendTestEmail,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.SendTestEmailRequest),
			Res: new(handler.SendTestEmailResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.emailConfigHandler.SendTestEmail(ctx, req.(*handler.SendTestEmailRequest), res.(*handler.SendTestEmailResponse))
			},
		},
	})

	// create_campaign
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathCreateCampaign,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.CreateCampaignRequest),
			Res: new(handler.CreateCampaignResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.CreateCampaign(ctx, req.(*handler.CreateCampaignRequest), res.(*handler.CreateCampaignResponse))
			},
		},
	})

	// update_campaign
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathUpdateCampaign,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.UpdateCampaignRequest),
			Res: new(handler.UpdateCampaignResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.UpdateCampaign(ctx, req.(*handler.UpdateCampaignRequest), res.(*handler.UpdateCampaignResponse))
			},
		},
	})

	// get_campaign
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathGetCampaign,
		Method:      http.MethodGet,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.GetCampaignRequest),
			Res: new(handler.GetCampaignResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.GetCampaign(ctx, req.(*handler.GetCampaignRequest), res.(*handler.GetCampaignResponse))
			},
		},
	})

	// get_campaigns
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathGetCampaigns,
		Method:      http.MethodGet,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.GetCampaignsRequest),
			Res: new(handler.GetCampaignsResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.GetCampaigns(ctx, req.(*handler.GetCampaignsRequest), res.(*handler.GetCampaignsResponse))
			},
		},
	})

	// schedule_campaign
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathScheduleCampaign,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.ScheduleCampaignRequest),
			Res: new(handler.ScheduleCampaignResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.ScheduleCampaign(ctx, req.(*handler.ScheduleCampaignRequest), res.(*handler.ScheduleCampaignResponse))
			},
		},
	})

	// pause_campaign
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathPauseCampaign,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.PauseCampaignRequest),
			Res: new(handler.PauseCampaignResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.PauseCampaign(ctx, req.(*handler.PauseCampaignRequest), res.(*handler.PauseCampaignResponse))
			},
		},
	})

	// resume_campaign
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathResumeCampaign,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.ResumeCampaignRequest),
			Res: new(handler.ResumeCampaignResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.campaignHandler.ResumeCampaign(ctx, req.(*handler.ResumeCampaignRequest), res.(*handler.ResumeCampaignResponse))
			},
		},
	})

	// create_sequence
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathCreateSequence,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.CreateSequenceRequest),
			Res: new(handler.CreateSequenceResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.sequenceHandler.CreateSequence(ctx, req.(*handler.CreateSequenceRequest), res.(*handler.CreateSequenceResponse))
			},
		},
	})

	// get_sequences
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathGetSequences,
		Method:      http.MethodGet,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.GetSequencesRequest),
			Res: new(handler.GetSequencesResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.sequenceHandler.GetSequences(ctx, req.(*handler.GetSequencesRequest), res.(*handler.GetSequencesResponse))
			},
		},
	})

	// enroll_lead
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathEnrollLead,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.EnrollLeadRequest),
			Res: new(handler.EnrollLeadResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.sequenceHandler.EnrollLead(ctx, req.(*handler.EnrollLeadRequest), res.(*handler.EnrollLeadResponse))
			},
		},
	})

	// cancel_enrollment
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathCancelEnrollment,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.CancelEnrollmentRequest),
			Res: new(handler.CancelEnrollmentResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.sequenceHandler.CancelEnrollment(ctx, req.(*handler.CancelEnrollmentRequest), res.(*handler.CancelEnrollmentResponse))
			},
		},
	})

	// get_enrollments
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathGetEnrollments,
		Method:      http.MethodGet,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.GetEnrollmentsRequest),
			Res: new(handler.GetEnrollmentsResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.sequenceHandler.GetEnrollments(ctx, req.(*handler.GetEnrollmentsRequest), res.(*handler.GetEnrollmentsResponse))
			},
		},
	})

	// quick_send
	r.RegisterHttpRoute(&router.HttpRoute{
		Path:        config.PathQuickSend,
		Method:      http.MethodPost,
		Middlewares: authed,
		Handler: router.Handler{
			Req: new(handler.QuickSendRequest),
			Res: new(handler.QuickSendResponse),
			HandleFunc: func(ctx context.Context, req, res interface{}) error {
				return s.quickSendHandler.QuickSend(ctx, req.(*handler.QuickSendRequest), res.(*handler.QuickSendResponse))
			},
		},
	})

	// tracking endpoints serve pixels and redirects, not the JSON envelope
	r.RegisterRawRoute(http.MethodGet, config.PathTrackOpen, s.trackingHandler.HandleOpen)
	r.RegisterRawRoute(http.MethodGet, config.PathTrackClick, s.trackingHandler.HandleClick)

	return r
}
