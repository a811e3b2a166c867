package handler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"crm/config"
	"crm/dep"
	"crm/entity"
	"crm/pkg/errutil"
	"crm/repo"
)

var (
	ErrNoActiveEmailConfig = errutil.AuthError(errors.New("no active email config for sender"))

	hrefRegex = regexp.MustCompile(`href="(https?://[^"]+)"`)
)

// SendResult reports one completed send attempt chain: the persisted email
// and any non-fatal template warnings surfaced during rendering.
type SendResult struct {
	Email    *entity.Email            `json:"email"`
	Warnings []entity.TemplateWarning `json:"warnings,omitempty"`
}

// Sender renders, tracks and delivers email on behalf of a user. All sends
// in the system, whatever their origin, go through here.
type Sender interface {
	// SendToLead renders the template for the lead, persists the email with
	// a fresh tracking token and delivers it with bounded retries.
	SendToLead(ctx context.Context, sender *entity.User, lead *entity.Lead, template *entity.Template, origin entity.EmailOrigin, campaignID, enrollmentID *uint64) (*SendResult, error)
	// SendRaw delivers untracked content, used for test sends.
	SendRaw(ctx context.Context, sender *entity.User, toEmail, subject, htmlBody string) error
}

type sendCoordinator struct {
	cfg             *config.Config
	emailRepo       repo.EmailRepo
	emailConfigRepo repo.EmailConfigRepo
	emailService    dep.EmailService
}

func NewSender(
	cfg *config.Config,
	emailRepo repo.EmailRepo,
	emailConfigRepo repo.EmailConfigRepo,
	emailService dep.EmailService,
) Sender {
	return &sendCoordinator{
		cfg,
		emailRepo,
		emailConfigRepo,
		emailService,
	}
}

func (s *sendCoordinator) SendToLead(ctx context.Context, sender *entity.User, lead *entity.Lead, template *entity.Template, origin entity.EmailOrigin, campaignID, enrollmentID *uint64) (*SendResult, error) {
	if lead.GetEmail() == "" {
		return nil, errutil.RecipientRejectedError(errors.New("lead has no email address"))
	}

	emailConfig, err := s.getActiveConfig(ctx, sender)
	if err != nil {
		return nil, err
	}

	rendered := template.Render(lead, sender, time.Now())

	email := entity.NewEmail(sender.GetTenantID(), sender.GetID(), lead, origin, rendered.Subject, rendered.Body)
	email.CampaignID = campaignID
	email.EnrollmentID = enrollmentID

	tracked := s.injectTracking(rendered.Body, email.GetTrackingToken())
	email.Body = &tracked

	if _, err := s.emailRepo.Create(ctx, email); err != nil {
		log.Ctx(ctx).Error().Msgf("create email err: %v", err)
		return nil, err
	}

	if err := s.deliver(ctx, emailConfig, email); err != nil {
		return &SendResult{Email: email, Warnings: rendered.Warnings}, err
	}

	return &SendResult{Email: email, Warnings: rendered.Warnings}, nil
}

func (s *sendCoordinator) SendRaw(ctx context.Context, sender *entity.User, toEmail, subject, htmlBody string) error {
	emailConfig, err := s.getActiveConfig(ctx, sender)
	if err != nil {
		return err
	}

	err = s.emailService.SendEmail(ctx, emailConfig, &dep.SendSmtpEmail{
		To:          &dep.Receiver{Email: toEmail},
		Subject:     subject,
		HtmlContent: htmlBody,
		TextContent: entity.HtmlToText(htmlBody),
	})
	if err != nil && errutil.IsAuthError(err) {
		s.invalidateConfig(ctx, emailConfig)
	}
	return err
}

func (s *sendCoordinator) getActiveConfig(ctx context.Context, sender *entity.User) (*entity.EmailConfig, error) {
	emailConfig, err := s.emailConfigRepo.GetActiveByOwner(ctx, sender.GetTenantID(), sender.GetID())
	if err != nil {
		if errors.Is(err, repo.ErrEmailConfigNotFound) {
			return nil, ErrNoActiveEmailConfig
		}
		log.Ctx(ctx).Error().Msgf("get email config err: %v", err)
		return nil, err
	}
	return emailConfig, nil
}

// deliver pushes one email through SMTP, retrying transient transport
// failures with exponential backoff. Auth failures invalidate the config
// and never retry; recipient rejections fail the email immediately.
func (s *sendCoordinator) deliver(ctx context.Context, emailConfig *entity.EmailConfig, email *entity.Email) error {
	var attempts uint32

	op := func() error {
		attempts++
		return s.emailService.SendEmail(ctx, emailConfig, &dep.SendSmtpEmail{
			To:          &dep.Receiver{Email: email.GetToEmail()},
			Subject:     email.GetSubject(),
			HtmlContent: email.GetBody(),
			TextContent: entity.HtmlToText(email.GetBody()),
		})
	}

	retryable := func(err error) error {
		if errutil.IsTransportError(err) {
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Duration(s.cfg.Delivery.InitialBackoffSeconds) * time.Second

	err := backoff.Retry(func() error {
		if err := op(); err != nil {
			return retryable(err)
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, s.cfg.Delivery.MaxAttempts-1), ctx))

	if err != nil {
		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			err = permanent.Err
		}

		if errutil.IsAuthError(err) {
			s.invalidateConfig(ctx, emailConfig)
		}

		if markErr := s.emailRepo.MarkFailed(ctx, email.GetID(), attempts, err.Error()); markErr != nil {
			log.Ctx(ctx).Error().Msgf("mark email failed err: %v", markErr)
		}
		email.Status = entity.EmailStatusFailed
		return err
	}

	if err := s.emailRepo.MarkSent(ctx, email.GetID(), attempts); err != nil {
		log.Ctx(ctx).Error().Msgf("mark email sent err: %v", err)
	}
	email.Status = entity.EmailStatusSent
	return nil
}

func (s *sendCoordinator) invalidateConfig(ctx context.Context, emailConfig *entity.EmailConfig) {
	if err := s.emailConfigRepo.MarkInvalid(ctx, emailConfig.GetTenantID(), emailConfig.GetID()); err != nil {
		log.Ctx(ctx).Error().Msgf("mark email config invalid err: %v", err)
	}
}

// injectTracking rewrites absolute links through the click endpoint and
// appends the open pixel. The original destination rides along URL-encoded.
func (s *sendCoordinator) injectTracking(body, token string) string {
	base := s.cfg.Tracking.BaseURL

	body = hrefRegex.ReplaceAllStringFunc(body, func(m string) string {
		dest := hrefRegex.FindStringSubmatch(m)[1]
		return fmt.Sprintf(`href="%s/track/click/%s?url=%s"`, base, token, url.QueryEscape(dest))
	})

	pixel := fmt.Sprintf(`<img src="%s/track/open/%s" width="1" height="1" alt="" style="display:none;">`, base, token)
	return body + pixel
}
