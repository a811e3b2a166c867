package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crm/entity"
	"crm/pkg/goutil"
)

func trackedEmail(t *testing.T, emailRepo *fakeEmailRepo, campaignID uint64) *entity.Email {
	t.Helper()

	lead := &entity.Lead{ID: goutil.Uint64(42), Email: goutil.String("ada@example.com")}
	email := entity.NewEmail(1, 2, lead, entity.EmailOriginCampaign, "Hi", "<p>Hello</p>")
	if campaignID != 0 {
		email.CampaignID = goutil.Uint64(campaignID)
	}

	_, err := emailRepo.Create(context.Background(), email)
	require.NoError(t, err)
	return email
}

func openRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/track/open/"+token, nil)
	return mux.SetURLVars(r, map[string]string{"token": token})
}

func clickRequest(token, dest string) *http.Request {
	target := "/track/click/" + token
	if dest != "" {
		target += "?url=" + url.QueryEscape(dest)
	}
	r := httptest.NewRequest(http.MethodGet, target, nil)
	return mux.SetURLVars(r, map[string]string{"token": token})
}

func TestHandleOpen(t *testing.T) {
	t.Run("known token records open and increments campaign count once", func(t *testing.T) {
		var (
			emailRepo    = newFakeEmailRepo()
			campaignRepo = newFakeCampaignRepo()
			h            = NewTrackingHandler(testDeliveryConfig(), emailRepo, campaignRepo)
		)
		email := trackedEmail(t, emailRepo, 77)

		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			h.HandleOpen(w, openRequest(email.GetTrackingToken()))

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
			assert.Equal(t, trackingPixel, w.Body.Bytes())
		}

		// per-email count tracks every hit, campaign count only the first
		assert.Equal(t, uint64(3), email.GetOpenCount())
		assert.Equal(t, uint64(1), campaignRepo.counts[77]["open_count"])
	})

	t.Run("unknown token still serves the pixel", func(t *testing.T) {
		var (
			emailRepo    = newFakeEmailRepo()
			campaignRepo = newFakeCampaignRepo()
			h            = NewTrackingHandler(testDeliveryConfig(), emailRepo, campaignRepo)
		)

		w := httptest.NewRecorder()
		h.HandleOpen(w, openRequest("nosuchtoken"))

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, trackingPixel, w.Body.Bytes())
		assert.Empty(t, campaignRepo.counts)
	})
}

func TestHandleClick(t *testing.T) {
	t.Run("redirects to the destination and counts the click", func(t *testing.T) {
		var (
			emailRepo    = newFakeEmailRepo()
			campaignRepo = newFakeCampaignRepo()
			h            = NewTrackingHandler(testDeliveryConfig(), emailRepo, campaignRepo)
		)
		email := trackedEmail(t, emailRepo, 77)

		w := httptest.NewRecorder()
		h.HandleClick(w, clickRequest(email.GetTrackingToken(), "https://x.test/offer"))

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://x.test/offer", w.Header().Get("Location"))

		counts := campaignRepo.counts[77]
		assert.Equal(t, uint64(1), counts["click_count"])
		assert.Equal(t, uint64(1), counts["unique_clicks"])
		// a click implies an open
		assert.Equal(t, uint64(1), counts["open_count"])
	})

	t.Run("repeat clicks count totals but not uniques", func(t *testing.T) {
		var (
			emailRepo    = newFakeEmailRepo()
			campaignRepo = newFakeCampaignRepo()
			h            = NewTrackingHandler(testDeliveryConfig(), emailRepo, campaignRepo)
		)
		email := trackedEmail(t, emailRepo, 77)

		for i := 0; i < 3; i++ {
			w := httptest.NewRecorder()
			h.HandleClick(w, clickRequest(email.GetTrackingToken(), "https://x.test/offer"))
			assert.Equal(t, http.StatusFound, w.Code)
		}

		counts := campaignRepo.counts[77]
		assert.Equal(t, uint64(3), counts["click_count"])
		assert.Equal(t, uint64(1), counts["unique_clicks"])
		assert.Equal(t, uint64(1), counts["open_count"])
		assert.Equal(t, uint64(3), email.GetClickCount())
	})

	t.Run("distinct urls each count as unique", func(t *testing.T) {
		var (
			emailRepo    = newFakeEmailRepo()
			campaignRepo = newFakeCampaignRepo()
			h            = NewTrackingHandler(testDeliveryConfig(), emailRepo, campaignRepo)
		)
		email := trackedEmail(t, emailRepo, 77)

		h.HandleClick(httptest.NewRecorder(), clickRequest(email.GetTrackingToken(), "https://x.test/a"))
		h.HandleClick(httptest.NewRecorder(), clickRequest(email.GetTrackingToken(), "https://x.test/b"))

		assert.Equal(t, uint64(2), campaignRepo.counts[77]["unique_clicks"])
	})

	t.Run("invalid url falls back to the default redirect", func(t *testing.T) {
		var (
			emailRepo    = newFakeEmailRepo()
			campaignRepo = newFakeCampaignRepo()
			h            = NewTrackingHandler(testDeliveryConfig(), emailRepo, campaignRepo)
		)
		email := trackedEmail(t, emailRepo, 0)

		w := httptest.NewRecorder()
		h.HandleClick(w, clickRequest(email.GetTrackingToken(), "javascript:alert(1)"))

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://fallback.test/", w.Header().Get("Location"))
	})

	t.Run("unknown token still redirects safely", func(t *testing.T) {
		var (
			emailRepo    = newFakeEmailRepo()
			campaignRepo = newFakeCampaignRepo()
			h            = NewTrackingHandler(testDeliveryConfig(), emailRepo, campaignRepo)
		)

		w := httptest.NewRecorder()
		h.HandleClick(w, clickRequest("nosuchtoken", "https://x.test/offer"))

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Equal(t, "https://x.test/offer", w.Header().Get("Location"))
		assert.Empty(t, campaignRepo.counts)
	})

	t.Run("ad hoc email clicks do not touch campaign counters", func(t *testing.T) {
		var (
			emailRepo    = newFakeEmailRepo()
			campaignRepo = newFakeCampaignRepo()
			h            = NewTrackingHandler(testDeliveryConfig(), emailRepo, campaignRepo)
		)
		email := trackedEmail(t, emailRepo, 0)

		w := httptest.NewRecorder()
		h.HandleClick(w, clickRequest(email.GetTrackingToken(), "https://x.test/offer"))

		assert.Equal(t, http.StatusFound, w.Code)
		assert.Empty(t, campaignRepo.counts)
		assert.Equal(t, uint64(1), email.GetClickCount())
	})
}

func TestConcurrentOpensCountUniqueOnce(t *testing.T) {
	var (
		emailRepo    = newFakeEmailRepo()
		campaignRepo = newFakeCampaignRepo()
		h            = NewTrackingHandler(testDeliveryConfig(), emailRepo, campaignRepo)
	)
	email := trackedEmail(t, emailRepo, 77)

	const opens = 20

	var wg sync.WaitGroup
	for i := 0; i < opens; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			h.HandleOpen(w, openRequest(email.GetTrackingToken()))
			assert.Equal(t, http.StatusOK, w.Code)
		}()
	}
	wg.Wait()

	// every hit counts an open on the email, but the campaign's unique
	// open moves by exactly one
	assert.Equal(t, uint64(opens), email.GetOpenCount())
	assert.Equal(t, uint64(1), campaignRepo.counts[77]["open_count"])
}

func TestConcurrentClicksCountUniqueOnce(t *testing.T) {
	var (
		emailRepo    = newFakeEmailRepo()
		campaignRepo = newFakeCampaignRepo()
		h            = NewTrackingHandler(testDeliveryConfig(), emailRepo, campaignRepo)
	)
	email := trackedEmail(t, emailRepo, 77)

	const clicks = 20

	var wg sync.WaitGroup
	for i := 0; i < clicks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			h.HandleClick(w, clickRequest(email.GetTrackingToken(), "https://x.test/offer"))
			assert.Equal(t, http.StatusFound, w.Code)
		}()
	}
	wg.Wait()

	assert.Equal(t, uint64(clicks), campaignRepo.counts[77]["click_count"])
	assert.Equal(t, uint64(1), campaignRepo.counts[77]["unique_clicks"])
	assert.Equal(t, uint64(1), campaignRepo.counts[77]["open_count"])
}
