package dep

import (
	"context"
	"errors"
	"fmt"
	"net/textproto"
	"strings"

	"gopkg.in/gomail.v2"

	"crm/entity"
	"crm/pkg/errutil"
)

type Receiver struct {
	Email string
	Name  string
}

type SendSmtpEmail struct {
	To          *Receiver
	Subject     string
	HtmlContent string
	TextContent string
}

// EmailService sends mail through a user's own SMTP account. Errors are
// classified so callers can tell a broken config from a bounced recipient
// from a transient outage.
type EmailService interface {
	SendEmail(ctx context.Context, emailConfig *entity.EmailConfig, sendSmtpEmail *SendSmtpEmail) error
	Close(ctx context.Context) error
}

type smtpDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

type emailService struct {
	newDialer func(emailConfig *entity.EmailConfig) smtpDialer
}

func NewEmailService(_ context.Context) EmailService {
	return &emailService{
		newDialer: func(emailConfig *entity.EmailConfig) smtpDialer {
			return gomail.NewDialer(
				emailConfig.GetHost(),
				int(emailConfig.GetPort()),
				emailConfig.GetUsername(),
				emailConfig.GetPassword(),
			)
		},
	}
}

func (s *emailService) SendEmail(_ context.Context, emailConfig *entity.EmailConfig, sendSmtpEmail *SendSmtpEmail) error {
	m := gomail.NewMessage()
	m.SetHeader("From", m.FormatAddress(emailConfig.GetFromEmail(), emailConfig.GetFromName()))
	m.SetHeader("To", sendSmtpEmail.To.Email)
	m.SetHeader("Subject", sendSmtpEmail.Subject)

	if sendSmtpEmail.TextContent != "" {
		m.SetBody("text/plain", sendSmtpEmail.TextContent)
		m.AddAlternative("text/html", sendSmtpEmail.HtmlContent)
	} else {
		m.SetBody("text/html", sendSmtpEmail.HtmlContent)
	}

	if err := s.newDialer(emailConfig).DialAndSend(m); err != nil {
		return classifySmtpError(err)
	}

	return nil
}

func (s *emailService) Close(_ context.Context) error {
	return nil
}

// classifySmtpError maps SMTP failures onto the delivery error taxonomy.
// 535 and its friends mean the stored credentials are bad; 550-class codes
// mean the recipient was refused; everything else is assumed transient.
func classifySmtpError(err error) error {
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch {
		case protoErr.Code == 535 || protoErr.Code == 534 || protoErr.Code == 530:
			return errutil.AuthError(fmt.Errorf("smtp authentication failed: %w", err))
		case protoErr.Code == 550 || protoErr.Code == 551 || protoErr.Code == 553:
			return errutil.RecipientRejectedError(fmt.Errorf("recipient rejected: %w", err))
		case protoErr.Code >= 500:
			return errutil.TransportError(fmt.Errorf("smtp permanent failure: %w", err))
		default:
			return errutil.TransportError(fmt.Errorf("smtp temporary failure: %w", err))
		}
	}

	// gomail wraps auth failures from some servers as plain errors
	if msg := err.Error(); strings.Contains(msg, "535") || strings.Contains(strings.ToLower(msg), "auth") {
		return errutil.AuthError(fmt.Errorf("smtp authentication failed: %w", err))
	}

	return errutil.TransportError(fmt.Errorf("smtp connection failed: %w", err))
}
