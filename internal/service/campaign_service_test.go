package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailflare/mailflare-backend/internal/apperrors"
	"github.com/mailflare/mailflare-backend/internal/dispatch"
	"github.com/mailflare/mailflare-backend/internal/mail"
	"github.com/mailflare/mailflare-backend/internal/model"
	"github.com/mailflare/mailflare-backend/internal/queue"
	"github.com/mailflare/mailflare-backend/internal/token"
)

type serviceFixture struct {
	svc       *CampaignService
	campaigns *fakeCampaignRepo
	subs      *fakeSubscriberRepo
	publisher *queue.MemoryPublisher
	transport *fakeTransportFactory
	campaign  *model.Campaign
}

func newFixture(t *testing.T, recipients int) *serviceFixture {
	t.Helper()

	listID := uuid.New()
	campaigns := newFakeCampaignRepo()
	subs := newFakeSubscriberRepo(listID, recipients)
	publisher := &queue.MemoryPublisher{}
	transport := &fakeTransportFactory{}

	campaign := &model.Campaign{
		ID:      uuid.New(),
		Name:    "October newsletter",
		Subject: "News for October",
		Content: "<p>Hello {first_name}</p>",
		ListID:  listID,
		Status:  model.StatusPending,
	}
	campaigns.add(campaign)

	svc := &CampaignService{
		Campaigns:   campaigns,
		Subscribers: subs,
		Publisher:   publisher,
		Transports:  transport,
		Builder:     mail.NewBuilder("news@example.com", "https://mail.example.com", token.NewCodec("s", 0)),
		Cancels:     dispatch.NewMemoryCancels(),
		BatchSize:   50,
		Log:         zerolog.Nop(),
	}
	return &serviceFixture{
		svc: svc, campaigns: campaigns, subs: subs,
		publisher: publisher, transport: transport, campaign: campaign,
	}
}

func TestStartQueuesDispatch(t *testing.T) {
	f := newFixture(t, 120)

	taskRef, err := f.svc.Start(context.Background(), f.campaign.ID)
	require.NoError(t, err)
	require.NotEmpty(t, taskRef)

	c, err := f.campaigns.GetByID(f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusSending, c.Status)
	require.NotNil(t, c.TaskRef)
	assert.Equal(t, taskRef, *c.TaskRef)
	assert.Equal(t, 120, c.SentCount, "claim records the resolved count as an estimate")

	require.Len(t, f.publisher.Jobs, 1)
	job := f.publisher.Jobs[0]
	assert.Equal(t, f.campaign.ID, job.CampaignID)
	assert.Equal(t, taskRef, job.TaskRef)
	assert.Len(t, job.SubscriberIDs, 120)
}

func TestStartAfterSentAtFails(t *testing.T) {
	f := newFixture(t, 120)
	now := time.Now()
	f.campaign.SentAt = &now
	f.campaign.Status = model.StatusSent
	f.campaign.SentCount = 120
	f.campaigns.add(f.campaign)

	_, err := f.svc.Start(context.Background(), f.campaign.ID)
	assert.ErrorIs(t, err, apperrors.ErrAlreadySent)

	// Counters and state untouched.
	c, _ := f.campaigns.GetByID(f.campaign.ID)
	assert.Equal(t, model.StatusSent, c.Status)
	assert.Equal(t, 120, c.SentCount)
	assert.Empty(t, f.publisher.Jobs)
}

func TestStartWithNoRecipients(t *testing.T) {
	f := newFixture(t, 0)

	_, err := f.svc.Start(context.Background(), f.campaign.ID)
	assert.ErrorIs(t, err, apperrors.ErrNoRecipients)

	c, _ := f.campaigns.GetByID(f.campaign.ID)
	assert.Equal(t, model.StatusPending, c.Status)
	assert.Nil(t, c.SentAt)
}

func TestStartLosingClaimRace(t *testing.T) {
	f := newFixture(t, 120)

	// Another start already holds the sending claim.
	claimed, err := f.campaigns.ClaimSending(f.campaign.ID, "other-task", 120)
	require.NoError(t, err)
	require.True(t, claimed)

	_, err = f.svc.Start(context.Background(), f.campaign.ID)
	assert.ErrorIs(t, err, apperrors.ErrAlreadySent)
	assert.Empty(t, f.publisher.Jobs)
}

func TestStartPublishFailureMarksFailed(t *testing.T) {
	f := newFixture(t, 120)
	f.svc.Publisher = failingPublisher{}

	_, err := f.svc.Start(context.Background(), f.campaign.ID)
	require.Error(t, err)

	c, _ := f.campaigns.GetByID(f.campaign.ID)
	assert.Equal(t, model.StatusFailed, c.Status)
	assert.Nil(t, c.SentAt, "a failed start can be retried later")
}

func TestStartLiveFullRun(t *testing.T) {
	f := newFixture(t, 120)

	err := f.svc.StartLive(context.Background(), f.campaign.ID)
	require.NoError(t, err)

	c, _ := f.campaigns.GetByID(f.campaign.ID)
	assert.Equal(t, model.StatusSent, c.Status)
	assert.Equal(t, 120, c.SentCount)
	assert.Equal(t, 0, c.ErrorCount)
	require.NotNil(t, c.SentAt)

	snap, err := f.svc.Progress(f.campaign.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, snap.Percentage)

	// 3 batches of 50, 50, 20 over 3 connections.
	assert.Equal(t, 3, f.transport.opened)
	assert.Len(t, f.transport.sentTo(), 120)
}

func TestStartLiveBatchFailureIsolated(t *testing.T) {
	f := newFixture(t, 120)
	f.transport.failSendOn = map[int]bool{2: true}

	err := f.svc.StartLive(context.Background(), f.campaign.ID)
	require.NoError(t, err, "isolated batch failures do not fail the run")

	c, _ := f.campaigns.GetByID(f.campaign.ID)
	assert.Equal(t, model.StatusSent, c.Status, "the run completed")
	assert.Equal(t, 70, c.SentCount)
	assert.Equal(t, 50, c.ErrorCount)
	require.NotNil(t, c.SentAt)
}

func TestStartLiveTransportUnavailable(t *testing.T) {
	f := newFixture(t, 120)
	f.transport.failOpen = true

	err := f.svc.StartLive(context.Background(), f.campaign.ID)
	require.NoError(t, err, "open failures are isolated per batch")

	c, _ := f.campaigns.GetByID(f.campaign.ID)
	assert.Equal(t, model.StatusSent, c.Status)
	assert.Equal(t, 0, c.SentCount)
	assert.Equal(t, 120, c.ErrorCount)
}

func TestStartLiveIdempotent(t *testing.T) {
	f := newFixture(t, 120)

	require.NoError(t, f.svc.StartLive(context.Background(), f.campaign.ID))

	err := f.svc.StartLive(context.Background(), f.campaign.ID)
	assert.ErrorIs(t, err, apperrors.ErrAlreadySent)

	c, _ := f.campaigns.GetByID(f.campaign.ID)
	assert.Equal(t, 120, c.SentCount, "second start left counters unchanged")
	assert.Len(t, f.transport.sentTo(), 120, "nothing was sent twice")
}

func TestRunDispatchSkipsFinishedCampaign(t *testing.T) {
	f := newFixture(t, 120)
	ids, _ := f.subs.ActiveIDsForList(f.campaign.ListID)

	require.NoError(t, f.svc.StartLive(context.Background(), f.campaign.ID))

	// A redelivered queued job for the same campaign is a no-op.
	err := f.svc.RunDispatch(context.Background(), f.campaign.ID, ids, "redelivered", ModeQueued)
	require.NoError(t, err)
	assert.Len(t, f.transport.sentTo(), 120)
}

func TestCancelStopsNewBatches(t *testing.T) {
	f := newFixture(t, 120)
	ctx := context.Background()

	// Flag the campaign before the dispatch begins: no batch starts.
	require.NoError(t, f.svc.Cancel(ctx, f.campaign.ID))
	ids, _ := f.subs.ActiveIDsForList(f.campaign.ListID)

	claimed, err := f.campaigns.ClaimSending(f.campaign.ID, "task", len(ids))
	require.NoError(t, err)
	require.True(t, claimed)

	require.NoError(t, f.svc.RunDispatch(ctx, f.campaign.ID, ids, "task", ModeQueued))

	c, _ := f.campaigns.GetByID(f.campaign.ID)
	assert.Equal(t, model.StatusFailed, c.Status)
	assert.Nil(t, c.SentAt, "a cancelled campaign can be restarted")
	assert.Empty(t, f.transport.sentTo())
}

func TestSendTest(t *testing.T) {
	f := newFixture(t, 120)

	err := f.svc.SendTest(f.campaign.ID, "qa@example.com")
	require.NoError(t, err)

	sent := f.transport.sentTo()
	require.Len(t, sent, 1)
	assert.Equal(t, "qa@example.com", sent[0])
	assert.Equal(t, "[TEST] News for October", f.transport.sent[0].Subject)

	// No counter or status changes.
	c, _ := f.campaigns.GetByID(f.campaign.ID)
	assert.Equal(t, model.StatusPending, c.Status)
	assert.Equal(t, 0, c.SentCount)
}

func TestSendTestPropagatesTransportError(t *testing.T) {
	f := newFixture(t, 120)
	f.transport.failSendOn = map[int]bool{1: true}

	err := f.svc.SendTest(f.campaign.ID, "qa@example.com")
	require.Error(t, err)

	c, _ := f.campaigns.GetByID(f.campaign.ID)
	assert.Equal(t, model.StatusPending, c.Status)
}

func TestCreateCampaignCopiesTemplateContent(t *testing.T) {
	f := newFixture(t, 0)
	tmplID := uuid.New()
	f.campaigns.templates[tmplID] = &model.EmailTemplate{
		ID: tmplID, Subject: "Template subject", Content: "<p>Template body</p>",
	}

	c := &model.Campaign{Name: "From template", ListID: uuid.New(), TemplateID: &tmplID}
	require.NoError(t, f.svc.CreateCampaign(c))

	assert.Equal(t, "<p>Template body</p>", c.Content)
	assert.Equal(t, "Template subject", c.Subject)
	assert.Equal(t, model.StatusPending, c.Status)
}
