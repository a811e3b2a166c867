package handler

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"crm/config"
	"crm/entity"
	"crm/pkg/errutil"
	"crm/pkg/goutil"
	"crm/pkg/validator"
	"crm/repo"
)

var (
	ErrInvalidCredentials = errutil.UnauthorizedError(errors.New("invalid email or password"))
	ErrTenantExists       = errutil.BadRequestError(errors.New("tenant already exists"))
	ErrUserExists         = errutil.BadRequestError(errors.New("user already exists"))
)

type AccountHandler interface {
	CreateTenant(ctx context.Context, req *CreateTenantRequest, res *CreateTenantResponse) error
	CreateUser(ctx context.Context, req *CreateUserRequest, res *CreateUserResponse) error
	LogIn(ctx context.Context, req *LogInRequest, res *LogInResponse) error
	LogOut(ctx context.Context, req *LogOutRequest, res *LogOutResponse) error
}

type accountHandler struct {
	cfg         *config.Config
	txService   repo.TxService
	tenantRepo  repo.TenantRepo
	userRepo    repo.UserRepo
	sessionRepo repo.SessionRepo
}

func NewAccountHandler(
	cfg *config.Config,
	txService repo.TxService,
	tenantRepo repo.TenantRepo,
	userRepo repo.UserRepo,
	sessionRepo repo.SessionRepo,
) AccountHandler {
	return &accountHandler{
		cfg,
		txService,
		tenantRepo,
		userRepo,
		sessionRepo,
	}
}

type CreateTenantRequest struct {
	Name          *string `json:"name,omitempty"`
	AdminEmail    *string `json:"admin_email,omitempty"`
	AdminPassword *string `json:"admin_password,omitempty"`
}

type CreateTenantResponse struct {
	Tenant *entity.Tenant `json:"tenant"`
	Admin  *entity.User   `json:"admin"`
}

var CreateTenantValidator = validator.MustForm(map[string]validator.Validator{
	"name":           ResourceNameValidator(false),
	"admin_email":    EmailValidator(false),
	"admin_password": PasswordValidator(false),
})

// CreateTenant bootstraps a tenant with its first admin. It is the only
// unauthenticated write.
func (h *accountHandler) CreateTenant(ctx context.Context, req *CreateTenantRequest, res *CreateTenantResponse) error {
	if err := CreateTenantValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	if _, err := h.tenantRepo.GetByName(ctx, req.GetName()); err == nil {
		return ErrTenantExists
	} else if !errors.Is(err, repo.ErrTenantNotFound) {
		log.Ctx(ctx).Error().Msgf("get tenant err: %v", err)
		return err
	}

	tenant := entity.NewTenant(req.GetName())

	if err := h.txService.RunTx(ctx, func(ctx context.Context) error {
		tenantID, err := h.tenantRepo.Create(ctx, tenant)
		if err != nil {
			log.Ctx(ctx).Error().Msgf("create tenant err: %v", err)
			return err
		}
		tenant.ID = goutil.Uint64(tenantID)

		admin, err := entity.NewUser(tenantID, req.GetAdminEmail(), req.GetAdminPassword(), entity.RoleAdmin, "")
		if err != nil {
			return err
		}

		adminID, err := h.userRepo.Create(ctx, admin)
		if err != nil {
			log.Ctx(ctx).Error().Msgf("create admin err: %v", err)
			return err
		}
		admin.ID = goutil.Uint64(adminID)

		res.Tenant = tenant
		res.Admin = admin
		return nil
	}); err != nil {
		return err
	}

	return nil
}

func (r *CreateTenantRequest) GetName() string {
	if r != nil && r.Name != nil {
		return *r.Name
	}
	return ""
}

func (r *CreateTenantRequest) GetAdminEmail() string {
	if r != nil && r.AdminEmail != nil {
		return *r.AdminEmail
	}
	return ""
}

func (r *CreateTenantRequest) GetAdminPassword() string {
	if r != nil && r.AdminPassword != nil {
		return *r.AdminPassword
	}
	return ""
}

type CreateUserRequest struct {
	ContextInfo

	Email      *string `json:"email,omitempty"`
	Password   *string `json:"password,omitempty"`
	Role       *string `json:"role,omitempty"`
	Department *string `json:"department,omitempty"`
}

type CreateUserResponse struct {
	User *entity.User `json:"user"`
}

var CreateUserValidator = validator.MustForm(map[string]validator.Validator{
	"email":    EmailValidator(false),
	"password": PasswordValidator(false),
	"role": &validator.String{
		Validators: []validator.StringFunc{func(s string) error {
			if entity.ParseRole(s) == entity.RoleUnknown {
				return errors.New("invalid role")
			}
			return nil
		}},
	},
	"department": &validator.String{
		Optional: true,
		MaxLen:   60,
	},
})

// CreateUser is restricted to admins. Superadmins are provisioned out of
// band, never through the API.
func (h *accountHandler) CreateUser(ctx context.Context, req *CreateUserRequest, res *CreateUserResponse) error {
	if err := CreateUserValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	actorRole := req.User.GetRole()
	if actorRole != entity.RoleAdmin && actorRole != entity.RoleSuperAdmin {
		return errutil.PermissionDeniedError(errors.New("only admins can create users"))
	}

	role := entity.ParseRole(req.GetRole())
	if role == entity.RoleSuperAdmin {
		return errutil.PermissionDeniedError(errors.New("cannot create superadmin"))
	}

	if _, err := h.userRepo.GetByEmail(ctx, req.GetTenantID(), req.GetEmail()); err == nil {
		return ErrUserExists
	} else if !errors.Is(err, repo.ErrUserNotFound) {
		log.Ctx(ctx).Error().Msgf("get user err: %v", err)
		return err
	}

	user, err := entity.NewUser(req.GetTenantID(), req.GetEmail(), req.GetPassword(), role, req.GetDepartment())
	if err != nil {
		return err
	}

	userID, err := h.userRepo.Create(ctx, user)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("create user err: %v", err)
		return err
	}
	user.ID = goutil.Uint64(userID)

	res.User = user
	return nil
}

func (r *CreateUserRequest) GetEmail() string {
	if r != nil && r.Email != nil {
		return *r.Email
	}
	return ""
}

func (r *CreateUserRequest) GetPassword() string {
	if r != nil && r.Password != nil {
		return *r.Password
	}
	return ""
}

func (r *CreateUserRequest) GetRole() string {
	if r != nil && r.Role != nil {
		return *r.Role
	}
	return ""
}

func (r *CreateUserRequest) GetDepartment() string {
	if r != nil && r.Department != nil {
		return *r.Department
	}
	return ""
}

type LogInRequest struct {
	TenantName *string `json:"tenant_name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Password   *string `json:"password,omitempty"`
}

type LogInResponse struct {
	Token *string      `json:"token,omitempty"`
	User  *entity.User `json:"user,omitempty"`
}

var LogInValidator = validator.MustForm(map[string]validator.Validator{
	"tenant_name": ResourceNameValidator(false),
	"email":       EmailValidator(false),
	"password":    PasswordValidator(false),
})

func (h *accountHandler) LogIn(ctx context.Context, req *LogInRequest, res *LogInResponse) error {
	if err := LogInValidator.Validate(req); err != nil {
		return errutil.ValidationError(err)
	}

	tenant, err := h.tenantRepo.GetByName(ctx, req.GetTenantName())
	if err != nil {
		if errors.Is(err, repo.ErrTenantNotFound) {
			return ErrInvalidCredentials
		}
		log.Ctx(ctx).Error().Msgf("get tenant err: %v", err)
		return err
	}

	user, err := h.userRepo.GetByEmail(ctx, tenant.GetID(), req.GetEmail())
	if err != nil {
		if errors.Is(err, repo.ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		log.Ctx(ctx).Error().Msgf("get user err: %v", err)
		return err
	}

	if !user.ComparePassword(req.GetPassword()) {
		return ErrInvalidCredentials
	}

	session, err := entity.NewSession(user.GetID(), h.cfg.SessionExpirySeconds)
	if err != nil {
		log.Ctx(ctx).Error().Msgf("new session err: %v", err)
		return err
	}

	if _, err := h.sessionRepo.Create(ctx, session); err != nil {
		log.Ctx(ctx).Error().Msgf("create session err: %v", err)
		return err
	}

	res.Token = session.Token
	res.User = user
	return nil
}

func (r *LogInRequest) GetTenantName() string {
	if r != nil && r.TenantName != nil {
		return *r.TenantName
	}
	return ""
}

func (r *LogInRequest) GetEmail() string {
	if r != nil && r.Email != nil {
		return *r.Email
	}
	return ""
}

func (r *LogInRequest) GetPassword() string {
	if r != nil && r.Password != nil {
		return *r.Password
	}
	return ""
}

type LogOutRequest struct {
	ContextInfo
}

type LogOutResponse struct{}

func (h *accountHandler) LogOut(ctx context.Context, req *LogOutRequest, _ *LogOutResponse) error {
	if err := h.sessionRepo.DeleteByUserID(ctx, req.GetUserID()); err != nil {
		log.Ctx(ctx).Error().Msgf("delete sessions err: %v", err)
		return err
	}
	return nil
}
