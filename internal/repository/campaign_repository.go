package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mailflare/mailflare-backend/internal/apperrors"
	"github.com/mailflare/mailflare-backend/internal/model"
)

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id uuid.UUID) (*model.Campaign, error)
	List(offset, limit int, status string) ([]*model.Campaign, int, error)
	ListDue(now time.Time) ([]*model.Campaign, error)

	// ClaimSending atomically moves a campaign into the sending state.
	// The condition (sent_at IS NULL AND status <> 'sending') and the
	// write happen in one statement, so two racing starts cannot both
	// claim the same campaign.
	ClaimSending(id uuid.UUID, taskRef string, initialSent int) (bool, error)

	// BeginRun resets the run counters when a dispatch actually starts
	// executing. The sent_count written at claim time is only an
	// estimate; batch deltas fold onto a zero base.
	BeginRun(id uuid.UUID, taskRef string) error
	SetStatus(id uuid.UUID, status string) error
	AddCounts(id uuid.UUID, sentDelta, errorDelta int) error
	MarkSent(id uuid.UUID, sentCount, errorCount int) error
	IncrementEngagement(id uuid.UUID, kind model.EventKind) error

	GetTemplate(id uuid.UUID) (*model.EmailTemplate, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)

const campaignColumns = `id, name, subject, preview_text, content, template_id, list_id,
	status, sent_at, scheduled_at, task_ref,
	sent_count, error_count, open_count, click_count, bounce_count, unsubscribe_count,
	created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.Name, &c.Subject, &c.PreviewText, &c.Content, &c.TemplateID, &c.ListID,
		&c.Status, &c.SentAt, &c.ScheduledAt, &c.TaskRef,
		&c.SentCount, &c.ErrorCount, &c.OpenCount, &c.ClickCount, &c.BounceCount, &c.UnsubscribeCount,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = model.StatusPending
	}
	c.CreatedAt = time.Now()

	query := `
		INSERT INTO campaigns (id, name, subject, preview_text, content, template_id, list_id, status, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.DB.Exec(query,
		c.ID, c.Name, c.Subject, c.PreviewText, c.Content, c.TemplateID, c.ListID, c.Status, c.ScheduledAt, c.CreatedAt,
	)
	return err
}

func (r *CampaignRepository) GetByID(id uuid.UUID) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("campaign", id.String())
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) List(offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	countArgs := []any{}
	if status != "" {
		countQuery += " AND status=$1"
		countArgs = append(countArgs, status)
	}
	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}

	return campaigns, total, nil
}

// ListDue returns pending campaigns whose scheduled_at has passed.
func (r *CampaignRepository) ListDue(now time.Time) ([]*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns
		WHERE status=$1 AND scheduled_at IS NOT NULL AND scheduled_at <= $2
		ORDER BY scheduled_at`
	rows, err := r.DB.Query(query, model.StatusPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	due := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		due = append(due, c)
	}
	return due, rows.Err()
}

func (r *CampaignRepository) ClaimSending(id uuid.UUID, taskRef string, initialSent int) (bool, error) {
	query := `
		UPDATE campaigns
		SET status=$2, task_ref=$3, sent_count=$4, error_count=0, updated_at=NOW()
		WHERE id=$1 AND sent_at IS NULL AND status <> $2
	`
	res, err := r.DB.Exec(query, id, model.StatusSending, taskRef, initialSent)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *CampaignRepository) BeginRun(id uuid.UUID, taskRef string) error {
	query := `
		UPDATE campaigns
		SET status=$2, task_ref=$3, sent_count=0, error_count=0, updated_at=NOW()
		WHERE id=$1
	`
	_, err := r.DB.Exec(query, id, model.StatusSending, taskRef)
	return err
}

func (r *CampaignRepository) SetStatus(id uuid.UUID, status string) error {
	query := `UPDATE campaigns SET status=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, status, id)
	return err
}

// AddCounts folds one batch delta into the persisted counters so that
// progress queries made mid-send reflect partial completion.
func (r *CampaignRepository) AddCounts(id uuid.UUID, sentDelta, errorDelta int) error {
	query := `
		UPDATE campaigns
		SET sent_count=sent_count+$1, error_count=error_count+$2, updated_at=NOW()
		WHERE id=$3
	`
	_, err := r.DB.Exec(query, sentDelta, errorDelta, id)
	return err
}

// MarkSent finalizes a completed dispatch. sent_at is only ever written
// here and only when still null.
func (r *CampaignRepository) MarkSent(id uuid.UUID, sentCount, errorCount int) error {
	query := `
		UPDATE campaigns
		SET status=$1, sent_at=NOW(), sent_count=$2, error_count=$3, updated_at=NOW()
		WHERE id=$4 AND sent_at IS NULL
	`
	_, err := r.DB.Exec(query, model.StatusSent, sentCount, errorCount, id)
	return err
}

func (r *CampaignRepository) IncrementEngagement(id uuid.UUID, kind model.EventKind) error {
	var column string
	switch kind {
	case model.EventOpened:
		column = "open_count"
	case model.EventClicked:
		column = "click_count"
	case model.EventBounced:
		column = "bounce_count"
	case model.EventUnsubscribed:
		column = "unsubscribe_count"
	default:
		return nil
	}
	query := fmt.Sprintf(`UPDATE campaigns SET %s=%s+1, updated_at=NOW() WHERE id=$1`, column, column)
	_, err := r.DB.Exec(query, id)
	return err
}

func (r *CampaignRepository) GetTemplate(id uuid.UUID) (*model.EmailTemplate, error) {
	query := `SELECT id, name, subject, content, is_active, created_at FROM email_templates WHERE id=$1`
	var t model.EmailTemplate
	err := r.DB.QueryRow(query, id).Scan(&t.ID, &t.Name, &t.Subject, &t.Content, &t.IsActive, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("template", id.String())
		}
		return nil, err
	}
	return &t, nil
}
