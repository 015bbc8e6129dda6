package service

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mailflare/mailflare-backend/internal/model"
	"github.com/mailflare/mailflare-backend/internal/repository"
)

// EventMeta carries the optional request details of a tracking hit.
type EventMeta struct {
	IPAddress  string
	UserAgent  string
	ClickedURL string
}

// EngagementService appends engagement events. It runs independently of
// dispatch and only shares the campaign identity space. Duplicate
// events are recorded as-is; no idempotency is enforced.
type EngagementService struct {
	Campaigns   repository.CampaignRepositoryInterface
	Subscribers repository.SubscriberRepositoryInterface
	Events      repository.EngagementRepositoryInterface
	Log         zerolog.Logger
}

// Record appends one event and bumps the matching campaign counter.
// Fails only when the campaign or subscriber identity is invalid.
func (s *EngagementService) Record(campaignID, subscriberID uuid.UUID, kind model.EventKind, meta EventMeta) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown event kind %q", kind)
	}
	if _, err := s.Campaigns.GetByID(campaignID); err != nil {
		return err
	}
	if _, err := s.Subscribers.GetByID(subscriberID); err != nil {
		return err
	}

	event := &model.EngagementEvent{
		CampaignID:   campaignID,
		SubscriberID: subscriberID,
		Kind:         kind,
		IPAddress:    meta.IPAddress,
		UserAgent:    meta.UserAgent,
		ClickedURL:   meta.ClickedURL,
	}
	if err := s.Events.Insert(event); err != nil {
		return err
	}

	if err := s.Campaigns.IncrementEngagement(campaignID, kind); err != nil {
		// The event row is already in; a counter lag is tolerable.
		s.Log.Error().Err(err).
			Str("campaign_id", campaignID.String()).
			Str("kind", string(kind)).
			Msg("failed to bump engagement counter")
	}
	return nil
}

// Unsubscribe deactivates the subscriber behind a decoded token and
// records the event against the campaign when one is known.
func (s *EngagementService) Unsubscribe(email string) (*model.Subscriber, error) {
	sub, err := s.Subscribers.Unsubscribe(email)
	if err != nil {
		return nil, err
	}
	s.Log.Info().Str("email", email).Msg("subscriber unsubscribed")
	return sub, nil
}
