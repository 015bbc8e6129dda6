package repository

import (
	"database/sql"

	"github.com/google/uuid"

	"github.com/mailflare/mailflare-backend/internal/model"
)

type EngagementRepositoryInterface interface {
	// Insert appends one event. Events are immutable; there is no
	// update or delete.
	Insert(e *model.EngagementEvent) error
	CountsByKind(campaignID uuid.UUID) (map[model.EventKind]int, error)
}

type EngagementRepository struct {
	DB *sql.DB
}

var _ EngagementRepositoryInterface = (*EngagementRepository)(nil)

func (r *EngagementRepository) Insert(e *model.EngagementEvent) error {
	query := `
		INSERT INTO engagement_events (campaign_id, subscriber_id, kind, event_time, ip_address, user_agent, clicked_url)
		VALUES ($1, $2, $3, NOW(), $4, $5, $6)
		RETURNING id, event_time
	`
	return r.DB.QueryRow(query,
		e.CampaignID, e.SubscriberID, e.Kind, e.IPAddress, e.UserAgent, e.ClickedURL,
	).Scan(&e.ID, &e.EventTime)
}

func (r *EngagementRepository) CountsByKind(campaignID uuid.UUID) (map[model.EventKind]int, error) {
	query := `SELECT kind, COUNT(*) FROM engagement_events WHERE campaign_id=$1 GROUP BY kind`
	rows, err := r.DB.Query(query, campaignID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := map[model.EventKind]int{}
	for rows.Next() {
		var kind model.EventKind
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
