package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mailflare/mailflare-backend/internal/apperrors"
	"github.com/mailflare/mailflare-backend/internal/dispatch"
	"github.com/mailflare/mailflare-backend/internal/mail"
	"github.com/mailflare/mailflare-backend/internal/model"
	"github.com/mailflare/mailflare-backend/internal/queue"
	"github.com/mailflare/mailflare-backend/internal/repository"
)

// DispatchMode selects how a claimed dispatch executes. Both modes run
// through the same orchestration path; the tag only decides pacing and
// where the work happens.
type DispatchMode int

const (
	// ModeLive runs batches inline on the caller, with pacing delays
	// between batches.
	ModeLive DispatchMode = iota
	// ModeQueued delegates execution to the job runtime, which paces
	// deliveries itself.
	ModeQueued
)

// CampaignService owns the campaign lifecycle state machine:
// pending → sending → {sent | failed}, with failed allowed back into
// sending while sent_at is still null.
type CampaignService struct {
	Campaigns   repository.CampaignRepositoryInterface
	Subscribers repository.SubscriberRepositoryInterface
	Publisher   queue.Publisher
	Transports  mail.TransportFactory
	Builder     *mail.Builder
	Cancels     dispatch.CancelStore
	BatchSize   int
	Pacing      time.Duration
	Log         zerolog.Logger

	now func() time.Time
}

func (s *CampaignService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// CreateCampaign persists a new pending campaign. When the campaign
// references a template and carries no content of its own, the
// template's content is copied in.
func (s *CampaignService) CreateCampaign(c *model.Campaign) error {
	if c.TemplateID != nil && c.Content == "" {
		tmpl, err := s.Campaigns.GetTemplate(*c.TemplateID)
		if err != nil {
			return err
		}
		c.Content = tmpl.Content
		if c.Subject == "" {
			c.Subject = tmpl.Subject
		}
	}
	return s.Campaigns.Create(c)
}

// Start begins a queued dispatch. The sending claim is a single
// conditional update, so two racing starts cannot both win.
func (s *CampaignService) Start(ctx context.Context, campaignID uuid.UUID) (string, error) {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return "", err
	}
	if !c.Sendable() {
		return "", apperrors.ErrAlreadySent
	}

	ids, err := s.Subscribers.ActiveIDsForList(c.ListID)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", apperrors.ErrNoRecipients
	}

	taskRef := uuid.New().String()
	claimed, err := s.Campaigns.ClaimSending(campaignID, taskRef, len(ids))
	if err != nil {
		return "", err
	}
	if !claimed {
		// Lost the race to a concurrent start, or completed meanwhile.
		return "", apperrors.ErrAlreadySent
	}
	_ = s.Cancels.Clear(ctx, campaignID)

	job := queue.DispatchJob{CampaignID: campaignID, SubscriberIDs: ids, TaskRef: taskRef}
	if err := s.Publisher.PublishDispatch(job); err != nil {
		if serr := s.Campaigns.SetStatus(campaignID, model.StatusFailed); serr != nil {
			s.Log.Error().Err(serr).Str("campaign_id", campaignID.String()).Msg("failed to mark campaign failed")
		}
		return "", fmt.Errorf("enqueue dispatch: %w", err)
	}

	s.Log.Info().
		Str("campaign_id", campaignID.String()).
		Str("task_ref", taskRef).
		Int("recipients", len(ids)).
		Msg("campaign dispatch queued")
	return taskRef, nil
}

// StartLive begins a dispatch and runs it synchronously on the calling
// goroutine, blocking until every batch has been attempted.
func (s *CampaignService) StartLive(ctx context.Context, campaignID uuid.UUID) error {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if !c.Sendable() {
		return apperrors.ErrAlreadySent
	}

	ids, err := s.Subscribers.ActiveIDsForList(c.ListID)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return apperrors.ErrNoRecipients
	}

	taskRef := uuid.New().String()
	claimed, err := s.Campaigns.ClaimSending(campaignID, taskRef, len(ids))
	if err != nil {
		return err
	}
	if !claimed {
		return apperrors.ErrAlreadySent
	}
	_ = s.Cancels.Clear(ctx, campaignID)

	return s.RunDispatch(ctx, campaignID, ids, taskRef, ModeLive)
}

// RunDispatch executes one claimed dispatch to completion. It is the
// single code path shared by live mode and the queued worker. An error
// return is an orchestration-level failure: the campaign is marked
// failed and the caller (the job runtime) may retry while sent_at is
// still null. Isolated batch failures are not errors here; they land
// in error_count.
func (s *CampaignService) RunDispatch(ctx context.Context, campaignID uuid.UUID, ids []uuid.UUID, taskRef string, mode DispatchMode) error {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if !c.Sendable() {
		// A redelivered job for a finished campaign is a no-op.
		s.Log.Warn().Str("campaign_id", campaignID.String()).Msg("dispatch skipped, campaign already sent")
		return nil
	}

	// Counters restart from zero for this run; the value written at
	// claim time was only an estimate for progress pollers.
	if err := s.Campaigns.BeginRun(campaignID, taskRef); err != nil {
		return s.failDispatch(campaignID, fmt.Errorf("begin run: %w", err))
	}

	pacing := time.Duration(0)
	if mode == ModeLive {
		pacing = s.Pacing
	}
	d := &dispatch.Dispatcher{
		Subscribers: s.Subscribers,
		Transports:  s.Transports,
		Builder:     s.Builder,
		Cancels:     s.Cancels,
		BatchSize:   s.BatchSize,
		Pacing:      pacing,
		Log:         s.Log,
	}

	sent, failed, err := d.Run(ctx, c, ids, func(o dispatch.BatchOutcome) error {
		return s.Campaigns.AddCounts(campaignID, o.Sent, o.Failed)
	})
	if err != nil {
		return s.failDispatch(campaignID, err)
	}

	if s.Cancels.IsCancelled(ctx, campaignID) {
		// sent_at stays null so a fresh attempt remains possible.
		_ = s.Cancels.Clear(ctx, campaignID)
		if err := s.Campaigns.SetStatus(campaignID, model.StatusFailed); err != nil {
			return err
		}
		s.Log.Warn().Str("campaign_id", campaignID.String()).Int("sent", sent).Msg("dispatch cancelled")
		return nil
	}

	if err := s.Campaigns.MarkSent(campaignID, sent, failed); err != nil {
		return fmt.Errorf("finalize campaign: %w", err)
	}
	s.Log.Info().
		Str("campaign_id", campaignID.String()).
		Int("sent", sent).
		Int("errors", failed).
		Msg("campaign dispatch completed")
	return nil
}

func (s *CampaignService) failDispatch(campaignID uuid.UUID, cause error) error {
	if err := s.Campaigns.SetStatus(campaignID, model.StatusFailed); err != nil {
		s.Log.Error().Err(err).Str("campaign_id", campaignID.String()).Msg("failed to mark campaign failed")
	}
	return fmt.Errorf("dispatch campaign %s: %w", campaignID, cause)
}

// SendTest sends exactly one message tagged as a test. Counters and
// status are untouched; build and transport errors propagate.
func (s *CampaignService) SendTest(campaignID uuid.UUID, address string) error {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}

	sub := &model.Subscriber{ID: uuid.Nil, Email: address, IsActive: true}
	if existing, err := s.Subscribers.GetByEmail(address); err == nil {
		sub = existing
	}

	msg := s.Builder.Build(c, sub, true)

	t := s.Transports.NewTransport()
	if err := t.Open(); err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	defer t.Close()

	if err := t.Send(msg); err != nil {
		return fmt.Errorf("send test to %s: %w", address, err)
	}
	s.Log.Info().Str("campaign_id", campaignID.String()).Str("to", address).Msg("test email sent")
	return nil
}

// Cancel flags a campaign so no new batch starts. Best effort: a batch
// already handed to the transport finishes.
func (s *CampaignService) Cancel(ctx context.Context, campaignID uuid.UUID) error {
	if _, err := s.Campaigns.GetByID(campaignID); err != nil {
		return err
	}
	s.Log.Warn().Str("campaign_id", campaignID.String()).Msg("campaign cancel requested")
	return s.Cancels.Cancel(ctx, campaignID)
}
