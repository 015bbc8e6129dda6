// Package scheduler starts campaigns whose scheduled_at has passed.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/mailflare/mailflare-backend/internal/apperrors"
	"github.com/mailflare/mailflare-backend/internal/model"
	"github.com/mailflare/mailflare-backend/internal/repository"
)

// Starter begins a queued dispatch for one campaign.
type Starter interface {
	Start(ctx context.Context, campaignID uuid.UUID) (string, error)
}

type Scheduler struct {
	Campaigns repository.CampaignRepositoryInterface
	Starter   Starter
	Log       zerolog.Logger

	cron *cron.Cron
	now  func() time.Time
}

func New(campaigns repository.CampaignRepositoryInterface, starter Starter, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		Campaigns: campaigns,
		Starter:   starter,
		Log:       log,
		now:       time.Now,
	}
}

// Run checks for due campaigns once a minute until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc("* * * * *", func() { s.Tick(ctx) })
	if err != nil {
		return err
	}
	s.cron.Start()

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()
	return ctx.Err()
}

// Tick starts every due campaign. One campaign's failure does not stop
// the rest.
func (s *Scheduler) Tick(ctx context.Context) {
	due, err := s.Campaigns.ListDue(s.now())
	if err != nil {
		s.Log.Error().Err(err).Msg("scheduled campaign lookup failed")
		return
	}

	for _, c := range due {
		taskRef, err := s.Starter.Start(ctx, c.ID)
		switch {
		case err == nil:
			s.Log.Info().
				Str("campaign_id", c.ID.String()).
				Str("task_ref", taskRef).
				Time("scheduled_at", *c.ScheduledAt).
				Msg("scheduled campaign started")
		case errors.Is(err, apperrors.ErrNoRecipients):
			// Park it so the next tick does not pick it up again.
			if serr := s.Campaigns.SetStatus(c.ID, model.StatusFailed); serr != nil {
				s.Log.Error().Err(serr).Str("campaign_id", c.ID.String()).Msg("failed to park scheduled campaign")
			}
			s.Log.Warn().Err(err).Str("campaign_id", c.ID.String()).Msg("scheduled campaign has no recipients")
		case errors.Is(err, apperrors.ErrAlreadySent):
			s.Log.Warn().Str("campaign_id", c.ID.String()).Msg("scheduled campaign already sent")
		default:
			s.Log.Error().Err(err).Str("campaign_id", c.ID.String()).Msg("scheduled campaign failed to start")
		}
	}
}
