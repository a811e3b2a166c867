package handler

import (
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"crm/config"
	"crm/entity"
	"crm/repo"
)

// 1x1 transparent GIF
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00,
	0x80, 0x00, 0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x2c,
	0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00, 0x00, 0x02,
	0x02, 0x44, 0x01, 0x00, 0x3b,
}

// TrackingHandler serves the unauthenticated pixel and redirect endpoints.
// Both always succeed from the caller's point of view: a broken or unknown
// token still gets the pixel or a safe redirect.
type TrackingHandler interface {
	HandleOpen(w http.ResponseWriter, r *http.Request)
	HandleClick(w http.ResponseWriter, r *http.Request)
}

type trackingHandler struct {
	cfg          *config.Config
	emailRepo    repo.EmailRepo
	campaignRepo repo.CampaignRepo
}

func NewTrackingHandler(cfg *config.Config, emailRepo repo.EmailRepo, campaignRepo repo.CampaignRepo) TrackingHandler {
	return &trackingHandler{
		cfg,
		emailRepo,
		campaignRepo,
	}
}

func (h *trackingHandler) HandleOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	token := mux.Vars(r)["token"]

	if email, err := h.emailRepo.GetByTrackingToken(ctx, token); err == nil {
		h.recordOpen(r, email)
	} else {
		log.Ctx(ctx).Debug().Msgf("open with unknown token: %s", token)
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	_, _ = w.Write(trackingPixel)
}

func (h *trackingHandler) HandleClick(w http.ResponseWriter, r *http.Request) {
	var (
		ctx   = r.Context()
		token = mux.Vars(r)["token"]
		dest  = h.cfg.Tracking.DefaultRedirect
	)

	if raw := r.URL.Query().Get("url"); raw != "" {
		if u, err := url.Parse(raw); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
			dest = raw
		}
	}

	if email, err := h.emailRepo.GetByTrackingToken(ctx, token); err == nil {
		h.recordClick(r, email, dest)
	} else {
		log.Ctx(ctx).Debug().Msgf("click with unknown token: %s", token)
	}

	http.Redirect(w, r, dest, http.StatusFound)
}

func (h *trackingHandler) recordOpen(r *http.Request, email *entity.Email) {
	ctx := r.Context()

	first, err := h.emailRepo.RecordOpen(ctx, email, time.Now())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("record open err: %v", err)
		return
	}

	if first && email.GetCampaignID() != 0 {
		if err := h.campaignRepo.AddCounts(ctx, email.GetTenantID(), email.GetCampaignID(), map[string]uint64{
			"open_count": 1,
		}); err != nil {
			log.Ctx(ctx).Error().Msgf("add campaign open count err: %v", err)
		}
	}
}

// recordClick counts every hit in the totals and first hits per URL in the
// uniques. A click also implies the email was opened.
func (h *trackingHandler) recordClick(r *http.Request, email *entity.Email, dest string) {
	ctx := r.Context()

	firstForURL, err := h.emailRepo.RecordClick(ctx, email, dest, time.Now())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("record click err: %v", err)
		return
	}

	firstOpen, err := h.emailRepo.RecordOpen(ctx, email, time.Now())
	if err != nil {
		log.Ctx(ctx).Error().Msgf("record implied open err: %v", err)
	}

	if email.GetCampaignID() != 0 {
		deltas := map[string]uint64{
			"click_count": 1,
		}
		if firstForURL {
			deltas["unique_clicks"] = 1
		}
		if firstOpen {
			deltas["open_count"] = 1
		}
		if err := h.campaignRepo.AddCounts(ctx, email.GetTenantID(), email.GetCampaignID(), deltas); err != nil {
			log.Ctx(ctx).Error().Msgf("add campaign click counts err: %v", err)
		}
	}
}
