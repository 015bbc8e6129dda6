package model

import (
	"time"

	"github.com/google/uuid"
)

// Campaign lifecycle statuses.
const (
	StatusPending = "pending"
	StatusSending = "sending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

type Campaign struct {
	ID          uuid.UUID  `db:"id" json:"id"`
	Name        string     `db:"name" json:"name"`
	Subject     string     `db:"subject" json:"subject"`
	PreviewText string     `db:"preview_text" json:"preview_text"`
	Content     string     `db:"content" json:"content"`
	TemplateID  *uuid.UUID `db:"template_id" json:"template_id,omitempty"`
	ListID      uuid.UUID  `db:"list_id" json:"list_id"`
	Status      string     `db:"status" json:"status"`
	SentAt      *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	ScheduledAt *time.Time `db:"scheduled_at" json:"scheduled_at,omitempty"`
	TaskRef     *string    `db:"task_ref" json:"task_ref,omitempty"`

	SentCount        int `db:"sent_count" json:"sent_count"`
	ErrorCount       int `db:"error_count" json:"error_count"`
	OpenCount        int `db:"open_count" json:"open_count"`
	ClickCount       int `db:"click_count" json:"click_count"`
	BounceCount      int `db:"bounce_count" json:"bounce_count"`
	UnsubscribeCount int `db:"unsubscribe_count" json:"unsubscribe_count"`

	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Sendable reports whether a dispatch may still be started for the
// campaign. A campaign that has fully completed is never resent.
func (c *Campaign) Sendable() bool {
	return c.SentAt == nil
}

type EmailTemplate struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Subject   string    `db:"subject" json:"subject"`
	Content   string    `db:"content" json:"content"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
