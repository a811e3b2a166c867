package dep

import (
	"context"
	"errors"
	"net/textproto"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"

	"crm/entity"
	"crm/pkg/errutil"
	"crm/pkg/goutil"
)

func TestClassifySmtpError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode errutil.Code
	}{
		{
			name:     "535 is auth",
			err:      &textproto.Error{Code: 535, Msg: "authentication credentials invalid"},
			wantCode: errutil.CodeAuth,
		},
		{
			name:     "530 is auth",
			err:      &textproto.Error{Code: 530, Msg: "authentication required"},
			wantCode: errutil.CodeAuth,
		},
		{
			name:     "550 is recipient rejected",
			err:      &textproto.Error{Code: 550, Msg: "no such user"},
			wantCode: errutil.CodeRecipientRejected,
		},
		{
			name:     "553 is recipient rejected",
			err:      &textproto.Error{Code: 553, Msg: "mailbox name invalid"},
			wantCode: errutil.CodeRecipientRejected,
		},
		{
			name:     "other 5xx is transport",
			err:      &textproto.Error{Code: 554, Msg: "transaction failed"},
			wantCode: errutil.CodeTransport,
		},
		{
			name:     "4xx is transport",
			err:      &textproto.Error{Code: 421, Msg: "service not available"},
			wantCode: errutil.CodeTransport,
		},
		{
			name:     "plain auth failure string is auth",
			err:      errors.New("535 5.7.8 Username and Password not accepted"),
			wantCode: errutil.CodeAuth,
		},
		{
			name:     "dial failure is transport",
			err:      errors.New("dial tcp 10.0.0.1:587: i/o timeout"),
			wantCode: errutil.CodeTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifySmtpError(tt.err)
			assert.True(t, errutil.HasCode(got, tt.wantCode))
			assert.ErrorContains(t, got, tt.err.Error())
		})
	}
}

type stubDialer struct {
	err  error
	sent []*gomail.Message
}

func (d *stubDialer) DialAndSend(m ...*gomail.Message) error {
	d.sent = append(d.sent, m...)
	return d.err
}

func testEmailConfig() *entity.EmailConfig {
	return &entity.EmailConfig{
		Host:      goutil.String("smtp.example.com"),
		Port:      goutil.Uint32(587),
		Username:  goutil.String("sender@example.com"),
		Password:  goutil.String("secret"),
		FromEmail: goutil.String("sender@example.com"),
		FromName:  goutil.String("Sender"),
	}
}

func TestSendEmail(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		dialer := new(stubDialer)
		s := &emailService{newDialer: func(_ *entity.EmailConfig) smtpDialer { return dialer }}

		err := s.SendEmail(context.Background(), testEmailConfig(), &SendSmtpEmail{
			To:          &Receiver{Email: "ada@example.com", Name: "Ada"},
			Subject:     "Hi",
			HtmlContent: "<p>Hello</p>",
			TextContent: "Hello",
		})
		require.NoError(t, err)
		require.Len(t, dialer.sent, 1)
		assert.Equal(t, []string{"ada@example.com"}, dialer.sent[0].GetHeader("To"))
		assert.Equal(t, []string{"Hi"}, dialer.sent[0].GetHeader("Subject"))
	})

	t.Run("auth failure is classified", func(t *testing.T) {
		dialer := &stubDialer{err: &textproto.Error{Code: 535, Msg: "bad credentials"}}
		s := &emailService{newDialer: func(_ *entity.EmailConfig) smtpDialer { return dialer }}

		err := s.SendEmail(context.Background(), testEmailConfig(), &SendSmtpEmail{
			To:          &Receiver{Email: "ada@example.com"},
			Subject:     "Hi",
			HtmlContent: "<p>Hello</p>",
		})
		assert.True(t, errutil.IsAuthError(err))
	})
}
