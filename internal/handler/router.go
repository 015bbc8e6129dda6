package handler

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the campaign API and the recipient-facing tracking
// endpoints.
func NewRouter(campaigns *CampaignHandler, tracking *TrackingHandler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route("/campaigns", func(r chi.Router) {
		r.Post("/", campaigns.Create)
		r.Get("/", campaigns.List)
		r.Get("/{id}", campaigns.Get)
		r.Post("/{id}/send", campaigns.Send)
		r.Post("/{id}/send-live", campaigns.SendLive)
		r.Post("/{id}/send-test", campaigns.SendTest)
		r.Post("/{id}/cancel", campaigns.Cancel)
		r.Get("/{id}/progress", campaigns.Progress)
	})

	r.Get("/track/open/{campaignID}/{subscriberID}", tracking.TrackOpen)
	r.Get("/track/click/{campaignID}/{subscriberID}", tracking.TrackClick)
	r.Get("/unsubscribe/{token}", tracking.Unsubscribe)

	return r
}
