package entity

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"crm/pkg/goutil"
)

func TestNewTrackingToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token := NewTrackingToken()
		assert.Len(t, token, 32)
		assert.NotContains(t, token, "-")
		assert.False(t, seen[token])
		seen[token] = true
	}
}

func TestNewEmail(t *testing.T) {
	lead := &Lead{
		ID:    goutil.Uint64(42),
		Email: goutil.String("ada@example.com"),
	}

	email := NewEmail(1, 2, lead, EmailOriginAdHoc, "Hi", "<p>Hello</p>")
	assert.Equal(t, uint64(42), email.GetLeadID())
	assert.Equal(t, "ada@example.com", email.GetToEmail())
	assert.Equal(t, EmailStatusQueued, email.GetStatus())
	assert.NotEmpty(t, email.GetTrackingToken())
	assert.False(t, email.IsTerminal())
}

func TestDedupeKeys(t *testing.T) {
	assert.Equal(t, "7:open", OpenDedupeKey(7))

	// same email, same url collide; anything else does not
	a := ClickDedupeKey(7, "https://x.test/a")
	assert.Equal(t, a, ClickDedupeKey(7, "https://x.test/a"))
	assert.NotEqual(t, a, ClickDedupeKey(7, "https://x.test/b"))
	assert.NotEqual(t, a, ClickDedupeKey(8, "https://x.test/a"))
}

func TestTrackingEventConstructors(t *testing.T) {
	email := &Email{
		ID:       goutil.Uint64(7),
		TenantID: goutil.Uint64(1),
	}

	open := NewOpenEvent(email)
	assert.Equal(t, TrackingEventKindOpen, open.GetKind())
	assert.Equal(t, "7:open", open.GetDedupeKey())

	click := NewClickEvent(email, "https://x.test/a")
	assert.Equal(t, TrackingEventKindClick, click.GetKind())
	assert.Equal(t, "https://x.test/a", click.GetURL())
	assert.Equal(t, ClickDedupeKey(7, "https://x.test/a"), click.GetDedupeKey())
}
