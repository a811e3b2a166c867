package handler

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"crm/config"
	"crm/entity"
	"crm/pkg/errutil"
	"crm/pkg/goutil"
	"crm/pkg/validator"
	"crm/repo"
)

var ErrEmailConfigNotOwned = errutil.PermissionDeniedError(errors.New("email config belongs to another user"))

type EmailConfigHandler interface {
	CreateEmailConfig(ctx context.Context, req *CreateEmailConfigRequest, res *CreateEmailConfigResponse) error
	UpdateEmailConfig(ctx context.Context, req *UpdateEmailConfigRequest, res *UpdateEmailConfigResponse) error
	GetEmailConfigs(ctx context.Context, req *GetEmailConfigsRequest, res *GetEmailConfigsResponse) error
	SendTestEmail(ctx context.Context, req *SendTestEmailRequest, res *SendTestEmailResponse) error
}

type emailConfigHandler struct {
	cfg             *config.Config
	emailConfigRepo repo.EmailConfigRepo
	sender          Sender
}

func NewEmailConfigHandler(cfg *config.Config, emailConfigRepo repo.EmailConfigRepo, sender Sender) EmailConfigHandler {
	return &emailConfigHandler{
		cfg,
		emailConfigRepo,
		sender,
	}
}

type CreateEmailConfigRequest struct {
	ContextInfo

	Host        *string `json:"host,omitempty"`
	Port        *uint32 `json:"port,omitempty"`
	Username    *string `json:"username,omitempty"`
	Password    *string `json:"password,omitempty"`
	FromEmail   *string `json:"from_email,omitempty"`
	FromName    *string `json:"from_name,omitempty"`
	MaxInFlight *uint32 `json:"max_in_flight,omitempty"`
}

type CreateEmailConfigResponse struct {
	EmailConfig *entity.EmailConfig `json:"email_config"`
}

var CreateEmailConfigValidator = validator.MustForm(map[string]validator.Validator{
	"host":          &validator.String{MinLen: 1, MaxLen: 255},
	"port":          &validator.UInt32{Min: goutil.Uint32(1), Max: goutil.Uint32(65535)},
	"username":      &validator.String{MinLen: 1, MaxLen: 255},
	"password":      &validator.String{MinLen: 1, MaxLen: 255},
	"from_email":    EmailValidator(false),
	"from_name":     &validator.String{Optional: true, MaxLen: 120},
	"max_in_flight": &validator.UInt32{Optional: true, Max: goutil.Uint32(50)},
})

func (h *emailConfigHandler) CreateEmailConfig(ctx context.Context, req *CreateEmailConfigRequest, res *CreateEmailConfigResponse) error {
	if err := CreateEmailConfigValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	// an existing active config is superseded, not duplicated
	if existing, err := h.emailConfigRepo.GetActiveByOwner(ctx, req.GetTenantID(), req.GetUserID()); err == nil {
		existing.Status = entity.EmailConfigStatusDisabled
		existing.UpdateTime = goutil.Uint64(uint64(time.Now().Unix()))
		if err := h.emailConfigRepo.Update(ctx, existing); err != nil {
			log.Ctx(ctx).Error().Msgf("disable old email config err: %v", err)
			return err
		}
	} else if !errors.Is(err, repo.ErrEmailConfigNotFound) {
		log.Ctx(ctx).Error().Msgf("get email config err: %v", err)
		return err
	}

	maxInFlight := uint32(h.cfg.Delivery.MaxInFlightPerConfig)
	if req.MaxInFlight != nil && *req.MaxInFlight > 0 {
		maxInFlight = *req.MaxInFlight
	}

	emailConfig := entity.NewEmailConfig(
		req.GetTenantID(),
		req.GetUserID(),
		req.GetHost(),
		req.GetPort(),
		req.GetUsername(),
		req.GetPassword(),
		req.GetFromEmail(),
		req.GetFromName(),
		maxInFlight,
	)

	id, err := h.emailConfigRepo.Create(ctx, emailConfig)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("create email config err: %v", err)
		return err
	}
	emailConfig.ID = goutil.Uint64(id)

	res.EmailConfig = emailConfig
	return nil
}

func (r *CreateEmailConfigRequest) GetHost() string {
	if r != nil && r.Host != nil {
		return *r.Host
	}
	return ""
}

func (r *CreateEmailConfigRequest) GetPort() uint32 {
	if r != nil && r.Port != nil {
		return *r.Port
	}
	return 0
}

func (r *CreateEmailConfigRequest) GetUsername() string {
	if r != nil && r.Username != nil {
		return *r.Username
	}
	return ""
}

func (r *CreateEmailConfigRequest) GetPassword() string {
	if r != nil && r.Password != nil {
		return *r.Password
	}
	return ""
}

func (r *CreateEmailConfigRequest) GetFromEmail() string {
	if r != nil && r.FromEmail != nil {
		return *r.FromEmail
	}
	return ""
}

func (r *CreateEmailConfigRequest) GetFromName() string {
	if r != nil && r.FromName != nil {
		return *r.FromName
	}
	return ""
}

type UpdateEmailConfigRequest struct {
	ContextInfo

	EmailConfigID *uint64 `json:"email_config_id,omitempty"`
	Host          *string `json:"host,omitempty"`
	Port          *uint32 `json:"port,omitempty"`
	Username      *string `json:"username,omitempty"`
	Password      *string `json:"password,omitempty"`
	FromEmail     *string `json:"from_email,omitempty"`
	FromName      *string `json:"from_name,omitempty"`
	Disabled      *bool   `json:"disabled,omitempty"`
}

type UpdateEmailConfigResponse struct {
	EmailConfig *entity.EmailConfig `json:"email_config"`
}

var UpdateEmailConfigValidator = validator.MustForm(map[string]validator.Validator{
	"email_config_id": &validator.UInt64{},
	"host":            &validator.String{Optional: true, MaxLen: 255},
	"port":            &validator.UInt32{Optional: true, Max: goutil.Uint32(65535)},
	"username":        &validator.String{Optional: true, MaxLen: 255},
	"password":        &validator.String{Optional: true, MaxLen: 255},
	"from_email":      EmailValidator(true),
	"from_name":       &validator.String{Optional: true, MaxLen: 120},
	"disabled":        &validator.Bool{Optional: true},
})

// UpdateEmailConfig edits the caller's own config. Changing credentials on
// an invalid config re-activates it so delivery can resume.
func (h *emailConfigHandler) UpdateEmailConfig(ctx context.Context, req *UpdateEmailConfigRequest, res *UpdateEmailConfigResponse) error {
	if err := UpdateEmailConfigValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	emailConfig, err := h.emailConfigRepo.GetByID(ctx, req.GetTenantID(), *req.EmailConfigID)
	if err != nil {
		return err
	}

	if emailConfig.GetOwnerID() != req.GetUserID() {
		return ErrEmailConfigNotOwned
	}

	credentialsChanged := false
	if req.Host != nil {
		emailConfig.Host = req.Host
		credentialsChanged = true
	}
	if req.Port != nil {
		emailConfig.Port = req.Port
		credentialsChanged = true
	}
	if req.Username != nil {
		emailConfig.Username = req.Username
		credentialsChanged = true
	}
	if req.Password != nil {
		emailConfig.Password = req.Password
		credentialsChanged = true
	}
	if req.FromEmail != nil {
		emailConfig.FromEmail = req.FromEmail
	}
	if req.FromName != nil {
		emailConfig.FromName = req.FromName
	}

	if credentialsChanged && emailConfig.GetStatus() == entity.EmailConfigStatusInvalid {
		emailConfig.Status = entity.EmailConfigStatusActive
	}
	if req.Disabled != nil {
		if *req.Disabled {
			emailConfig.Status = entity.EmailConfigStatusDisabled
		} else if emailConfig.GetStatus() == entity.EmailConfigStatusDisabled {
			emailConfig.Status = entity.EmailConfigStatusActive
		}
	}
	emailConfig.UpdateTime = goutil.Uint64(uint64(time.Now().Unix()))

	if err := h.emailConfigRepo.Update(ctx, emailConfig); err != nil {
		log.Ctx(ctx).Error().Msgf("update email config err: %v", err)
		return err
	}

	res.EmailConfig = emailConfig
	return nil
}

type GetEmailConfigsRequest struct {
	ContextInfo
}

type GetEmailConfigsResponse struct {
	EmailConfigs []*entity.EmailConfig `json:"email_configs"`
}

func (h *emailConfigHandler) GetEmailConfigs(ctx context.Context, req *GetEmailConfigsRequest, res *GetEmailConfigsResponse) error {
	emailConfig, err := h.emailConfigRepo.GetActiveByOwner(ctx, req.GetTenantID(), req.GetUserID())
	if err != nil {
		if errors.Is(err, repo.ErrEmailConfigNotFound) {
			res.EmailConfigs = []*entity.EmailConfig{}
			return nil
		}
		log.Ctx(ctx).Error().Msgf("get email config err: %v", err)
		return err
	}

	res.EmailConfigs = []*entity.EmailConfig{emailConfig}
	return nil
}

type SendTestEmailRequest struct {
	ContextInfo

	ToEmail *string `json:"to_email,omitempty"`
}

type SendTestEmailResponse struct{}

var SendTestEmailValidator = validator.MustForm(map[string]validator.Validator{
	"to_email": EmailValidator(false),
})

// SendTestEmail verifies the caller's SMTP credentials with a real send.
// Delivery errors come back classified so the UI can explain what broke.
func (h *emailConfigHandler) SendTestEmail(ctx context.Context, req *SendTestEmailRequest, _ *SendTestEmailResponse) error {
	if err := SendTestEmailValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	return h.sender.SendRaw(ctx, req.User, req.GetToEmail(),
		"CRM test email",
		"<p>Your email configuration works.</p>",
	)
}

func (r *SendTestEmailRequest) GetToEmail() string {
	if r != nil && r.ToEmail != nil {
		return *r.ToEmail
	}
	return ""
}
