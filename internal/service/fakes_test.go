package service

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mailflare/mailflare-backend/internal/apperrors"
	"github.com/mailflare/mailflare-backend/internal/mail"
	"github.com/mailflare/mailflare-backend/internal/model"
	"github.com/mailflare/mailflare-backend/internal/queue"
	"github.com/mailflare/mailflare-backend/internal/repository"
)

// fakeCampaignRepo keeps campaigns in memory with the same conditional
// update semantics as the SQL repository.
type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[uuid.UUID]*model.Campaign
	templates map[uuid.UUID]*model.EmailTemplate
}

var _ repository.CampaignRepositoryInterface = (*fakeCampaignRepo)(nil)

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{
		campaigns: make(map[uuid.UUID]*model.Campaign),
		templates: make(map[uuid.UUID]*model.EmailTemplate),
	}
}

func (r *fakeCampaignRepo) add(c *model.Campaign) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
}

func (r *fakeCampaignRepo) Create(c *model.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = model.StatusPending
	}
	c.CreatedAt = time.Now()
	r.add(c)
	return nil
}

func (r *fakeCampaignRepo) GetByID(id uuid.UUID) (*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return nil, apperrors.NewNotFound("campaign", id.String())
	}
	copied := *c
	return &copied, nil
}

func (r *fakeCampaignRepo) List(offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.campaigns {
		if status == "" || c.Status == status {
			copied := *c
			out = append(out, &copied)
		}
	}
	return out, len(out), nil
}

func (r *fakeCampaignRepo) ListDue(now time.Time) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	due := []*model.Campaign{}
	for _, c := range r.campaigns {
		if c.Status == model.StatusPending && c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			copied := *c
			due = append(due, &copied)
		}
	}
	return due, nil
}

func (r *fakeCampaignRepo) ClaimSending(id uuid.UUID, taskRef string, initialSent int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return false, apperrors.NewNotFound("campaign", id.String())
	}
	if c.SentAt != nil || c.Status == model.StatusSending {
		return false, nil
	}
	now := time.Now()
	c.Status = model.StatusSending
	c.TaskRef = &taskRef
	c.SentCount = initialSent
	c.ErrorCount = 0
	c.UpdatedAt = &now
	return true, nil
}

func (r *fakeCampaignRepo) BeginRun(id uuid.UUID, taskRef string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return apperrors.NewNotFound("campaign", id.String())
	}
	now := time.Now()
	c.Status = model.StatusSending
	c.TaskRef = &taskRef
	c.SentCount = 0
	c.ErrorCount = 0
	c.UpdatedAt = &now
	return nil
}

func (r *fakeCampaignRepo) SetStatus(id uuid.UUID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return apperrors.NewNotFound("campaign", id.String())
	}
	c.Status = status
	return nil
}

func (r *fakeCampaignRepo) AddCounts(id uuid.UUID, sentDelta, errorDelta int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return apperrors.NewNotFound("campaign", id.String())
	}
	now := time.Now()
	c.SentCount += sentDelta
	c.ErrorCount += errorDelta
	c.UpdatedAt = &now
	return nil
}

func (r *fakeCampaignRepo) MarkSent(id uuid.UUID, sentCount, errorCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return apperrors.NewNotFound("campaign", id.String())
	}
	if c.SentAt == nil {
		now := time.Now()
		c.Status = model.StatusSent
		c.SentAt = &now
		c.SentCount = sentCount
		c.ErrorCount = errorCount
		c.UpdatedAt = &now
	}
	return nil
}

func (r *fakeCampaignRepo) IncrementEngagement(id uuid.UUID, kind model.EventKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return apperrors.NewNotFound("campaign", id.String())
	}
	switch kind {
	case model.EventOpened:
		c.OpenCount++
	case model.EventClicked:
		c.ClickCount++
	case model.EventBounced:
		c.BounceCount++
	case model.EventUnsubscribed:
		c.UnsubscribeCount++
	}
	return nil
}

func (r *fakeCampaignRepo) GetTemplate(id uuid.UUID) (*model.EmailTemplate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.templates[id]
	if !ok {
		return nil, apperrors.NewNotFound("template", id.String())
	}
	return t, nil
}

// fakeSubscriberRepo serves one list of subscribers.
type fakeSubscriberRepo struct {
	mu      sync.Mutex
	listID  uuid.UUID
	order   []uuid.UUID
	members map[uuid.UUID]*model.Subscriber
}

var _ repository.SubscriberRepositoryInterface = (*fakeSubscriberRepo)(nil)

func newFakeSubscriberRepo(listID uuid.UUID, n int) *fakeSubscriberRepo {
	r := &fakeSubscriberRepo{listID: listID, members: make(map[uuid.UUID]*model.Subscriber)}
	for i := 0; i < n; i++ {
		id := uuid.New()
		r.order = append(r.order, id)
		r.members[id] = &model.Subscriber{ID: id, Email: id.String() + "@example.com", IsActive: true}
	}
	return r
}

func (r *fakeSubscriberRepo) GetByID(id uuid.UUID) (*model.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.members[id]
	if !ok {
		return nil, apperrors.NewNotFound("subscriber", id.String())
	}
	copied := *s
	return &copied, nil
}

func (r *fakeSubscriberRepo) GetByEmail(email string) (*model.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.members {
		if s.Email == email {
			copied := *s
			return &copied, nil
		}
	}
	return nil, apperrors.NewNotFound("subscriber", email)
}

func (r *fakeSubscriberRepo) ActiveIDsForList(listID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if listID != r.listID {
		return []uuid.UUID{}, nil
	}
	ids := []uuid.UUID{}
	for _, id := range r.order {
		if r.members[id].IsActive {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *fakeSubscriberRepo) ActiveByIDs(ids []uuid.UUID) ([]model.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	subs := []model.Subscriber{}
	for _, id := range ids {
		if s, ok := r.members[id]; ok && s.IsActive {
			subs = append(subs, *s)
		}
	}
	return subs, nil
}

func (r *fakeSubscriberRepo) Unsubscribe(email string) (*model.Subscriber, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.members {
		if s.Email == email {
			s.IsActive = false
			if s.UnsubscribedAt == nil {
				now := time.Now()
				s.UnsubscribedAt = &now
			}
			copied := *s
			return &copied, nil
		}
	}
	return nil, apperrors.NewNotFound("subscriber", email)
}

// fakeEngagementRepo appends events in memory.
type fakeEngagementRepo struct {
	mu     sync.Mutex
	events []model.EngagementEvent
}

var _ repository.EngagementRepositoryInterface = (*fakeEngagementRepo)(nil)

func (r *fakeEngagementRepo) Insert(e *model.EngagementEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = int64(len(r.events) + 1)
	e.EventTime = time.Now()
	r.events = append(r.events, *e)
	return nil
}

func (r *fakeEngagementRepo) CountsByKind(campaignID uuid.UUID) (map[model.EventKind]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[model.EventKind]int{}
	for _, e := range r.events {
		if e.CampaignID == campaignID {
			counts[e.Kind]++
		}
	}
	return counts, nil
}

// fakeTransportFactory mirrors the batch-per-transport contract; the
// nth opened transport can be told to fail.
type fakeTransportFactory struct {
	mu         sync.Mutex
	opened     int
	failSendOn map[int]bool
	failOpen   bool
	sent       []*mail.Message
}

func (f *fakeTransportFactory) NewTransport() mail.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
	return &fakeTransport{factory: f, failSend: f.failSendOn[f.opened], failOpen: f.failOpen}
}

func (f *fakeTransportFactory) sentTo() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sent))
	for i, m := range f.sent {
		out[i] = m.To
	}
	return out
}

type fakeTransport struct {
	factory  *fakeTransportFactory
	failSend bool
	failOpen bool
}

func (t *fakeTransport) Open() error {
	if t.failOpen {
		return errors.New("no route to smtp host")
	}
	return nil
}

func (t *fakeTransport) Send(msg *mail.Message) error {
	if t.failSend {
		return errors.New("transport write failed")
	}
	t.factory.mu.Lock()
	defer t.factory.mu.Unlock()
	t.factory.sent = append(t.factory.sent, msg)
	return nil
}

func (t *fakeTransport) Close() error { return nil }

// failingPublisher rejects every job.
type failingPublisher struct{}

func (failingPublisher) PublishDispatch(_ queue.DispatchJob) error {
	return errors.New("broker unreachable")
}
