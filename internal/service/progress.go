package service

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mailflare/mailflare-backend/internal/model"
)

// ProgressSnapshot is computed on demand from the persisted counters;
// nothing here is stored.
type ProgressSnapshot struct {
	Status        string    `json:"status"`
	Percentage    int       `json:"progress_percentage"`
	SentCount     int       `json:"sent_count"`
	ErrorCount    int       `json:"error_count"`
	Total         int       `json:"total_emails"`
	TimeRemaining string    `json:"time_remaining"`
	Rates         Rates     `json:"rates"`
	Timestamp     time.Time `json:"timestamp"`
}

// Rates are engagement counts relative to sent_count, in percent
// rounded to one decimal. Raw counts are used: repeated opens from the
// same recipient inflate the open rate by design.
type Rates struct {
	Open        float64 `json:"open_rate"`
	Click       float64 `json:"click_rate"`
	Bounce      float64 `json:"bounce_rate"`
	Unsubscribe float64 `json:"unsubscribe_rate"`
}

// Progress returns the current dispatch progress for pollers. It reads
// the latest persisted counters and never blocks on the dispatch.
func (s *CampaignService) Progress(campaignID uuid.UUID) (*ProgressSnapshot, error) {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	ids, err := s.Subscribers.ActiveIDsForList(c.ListID)
	if err != nil {
		return nil, err
	}
	total := len(ids)

	return &ProgressSnapshot{
		Status:        c.Status,
		Percentage:    progressPercentage(c.Status, c.SentCount, total),
		SentCount:     c.SentCount,
		ErrorCount:    c.ErrorCount,
		Total:         total,
		TimeRemaining: timeRemaining(c, total, s.clock()),
		Rates:         campaignRates(c),
		Timestamp:     s.clock(),
	}, nil
}

// Rates returns the engagement rates for a campaign.
func (s *CampaignService) Rates(campaignID uuid.UUID) (Rates, error) {
	c, err := s.Campaigns.GetByID(campaignID)
	if err != nil {
		return Rates{}, err
	}
	return campaignRates(c), nil
}

func progressPercentage(status string, sent, total int) int {
	if status == model.StatusSent {
		return 100
	}
	if total == 0 {
		return 0
	}
	pct := int(float64(sent) / float64(total) * 100)
	return min(99, pct)
}

// timeRemaining estimates the ETA from observed throughput. With fewer
// than 5 seconds of data, or a rate below 0.01 messages per second, a
// qualitative state is reported instead of a number.
func timeRemaining(c *model.Campaign, total int, now time.Time) string {
	if c.Status != model.StatusSending {
		if c.Status == model.StatusSent {
			return "Completed"
		}
		return "Not currently sending"
	}
	if total == 0 {
		return "No recipients"
	}
	if c.SentCount == 0 {
		return "Starting..."
	}

	lastUpdate := c.CreatedAt
	if c.UpdatedAt != nil {
		lastUpdate = *c.UpdatedAt
	}
	elapsed := now.Sub(lastUpdate).Seconds()
	if elapsed < 5 {
		return "Calculating..."
	}

	rate := float64(c.SentCount) / elapsed
	if rate < 0.01 {
		return "Processing..."
	}

	secondsLeft := float64(total-c.SentCount) / rate
	switch {
	case secondsLeft < 60:
		return "Less than a minute"
	case secondsLeft < 3600:
		minutes := int(secondsLeft / 60)
		return fmt.Sprintf("About %d minute%s", minutes, plural(minutes > 1))
	default:
		hours := math.Round(secondsLeft/3600*10) / 10
		return fmt.Sprintf("About %g hour%s", hours, plural(hours > 1))
	}
}

func plural(many bool) string {
	if many {
		return "s"
	}
	return ""
}

func campaignRates(c *model.Campaign) Rates {
	if c.SentCount == 0 {
		return Rates{}
	}
	sent := float64(c.SentCount)
	return Rates{
		Open:        round1(float64(c.OpenCount) / sent * 100),
		Click:       round1(float64(c.ClickCount) / sent * 100),
		Bounce:      round1(float64(c.BounceCount) / sent * 100),
		Unsubscribe: round1(float64(c.UnsubscribeCount) / sent * 100),
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
