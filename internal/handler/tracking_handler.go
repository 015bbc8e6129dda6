package handler

import (
	"fmt"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mailflare/mailflare-backend/internal/apperrors"
	"github.com/mailflare/mailflare-backend/internal/model"
	"github.com/mailflare/mailflare-backend/internal/service"
	"github.com/mailflare/mailflare-backend/internal/token"
)

// trackingPixel is a valid transparent 1x1 GIF. It is served on every
// open-tracking hit, recorded or not, so mail clients never see an
// error.
var trackingPixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0xff, 0xff, 0xff, 0x00, 0x00, 0x00, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

type TrackingHandler struct {
	Engagement *service.EngagementService
	Tokens     *token.Codec
	Log        zerolog.Logger
}

// TrackOpen records an open event and returns the pixel. Recording
// failures are logged, never surfaced to the recipient's client.
func (h *TrackingHandler) TrackOpen(w http.ResponseWriter, r *http.Request) {
	campaignID, subscriberID, ok := h.trackingIDs(r)
	if ok {
		meta := requestMeta(r)
		if err := h.Engagement.Record(campaignID, subscriberID, model.EventOpened, meta); err != nil {
			h.Log.Debug().Err(err).Msg("open event not recorded")
		}
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(trackingPixel)
}

// TrackClick records a click event and redirects to the original
// target. The redirect happens regardless of recording outcome.
func (h *TrackingHandler) TrackClick(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		http.Error(w, "missing url", http.StatusBadRequest)
		return
	}

	campaignID, subscriberID, ok := h.trackingIDs(r)
	if ok {
		meta := requestMeta(r)
		meta.ClickedURL = target
		if err := h.Engagement.Record(campaignID, subscriberID, model.EventClicked, meta); err != nil {
			h.Log.Debug().Err(err).Msg("click event not recorded")
		}
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// Unsubscribe decodes the signed token and deactivates the subscriber.
func (h *TrackingHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	tok := chi.URLParam(r, "token")

	email, err := h.Tokens.Decode(tok)
	if err != nil {
		http.Error(w, "Unsubscribe link is invalid or has expired.", http.StatusBadRequest)
		return
	}

	sub, err := h.Engagement.Unsubscribe(email)
	if err != nil {
		if apperrors.IsNotFound(err) {
			http.Error(w, "Unsubscribe link is invalid or has expired.", http.StatusBadRequest)
			return
		}
		h.Log.Error().Err(err).Msg("unsubscribe failed")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "%s has been unsubscribed.\n", sub.Email)
}

func (h *TrackingHandler) trackingIDs(r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "campaignID"))
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	subscriberID, err := uuid.Parse(chi.URLParam(r, "subscriberID"))
	if err != nil {
		return uuid.Nil, uuid.Nil, false
	}
	return campaignID, subscriberID, true
}

func requestMeta(r *http.Request) service.EventMeta {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return service.EventMeta{
		IPAddress: ip,
		UserAgent: r.UserAgent(),
	}
}
