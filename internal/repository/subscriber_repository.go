package repository

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/mailflare/mailflare-backend/internal/apperrors"
	"github.com/mailflare/mailflare-backend/internal/model"
)

type SubscriberRepositoryInterface interface {
	GetByID(id uuid.UUID) (*model.Subscriber, error)
	GetByEmail(email string) (*model.Subscriber, error)

	// ActiveIDsForList resolves the eligible recipients of a list in a
	// stable order. Returns an empty slice when nobody is eligible.
	ActiveIDsForList(listID uuid.UUID) ([]uuid.UUID, error)

	// ActiveByIDs re-fetches the still-active subscribers among ids.
	// Subscribers who went inactive since resolution are dropped.
	ActiveByIDs(ids []uuid.UUID) ([]model.Subscriber, error)

	Unsubscribe(email string) (*model.Subscriber, error)
}

type SubscriberRepository struct {
	DB *sql.DB
}

var _ SubscriberRepositoryInterface = (*SubscriberRepository)(nil)

const subscriberColumns = `id, email, first_name, last_name, is_active, subscribed_at, unsubscribed_at`

func (r *SubscriberRepository) GetByID(id uuid.UUID) (*model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE id=$1`
	var s model.Subscriber
	err := r.DB.QueryRow(query, id).Scan(
		&s.ID, &s.Email, &s.FirstName, &s.LastName, &s.IsActive, &s.SubscribedAt, &s.UnsubscribedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("subscriber", id.String())
		}
		return nil, err
	}
	return &s, nil
}

func (r *SubscriberRepository) GetByEmail(email string) (*model.Subscriber, error) {
	query := `SELECT ` + subscriberColumns + ` FROM subscribers WHERE email=$1`
	var s model.Subscriber
	err := r.DB.QueryRow(query, email).Scan(
		&s.ID, &s.Email, &s.FirstName, &s.LastName, &s.IsActive, &s.SubscribedAt, &s.UnsubscribedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NewNotFound("subscriber", email)
		}
		return nil, err
	}
	return &s, nil
}

func (r *SubscriberRepository) ActiveIDsForList(listID uuid.UUID) ([]uuid.UUID, error) {
	query := `
		SELECT s.id
		FROM subscribers s
		JOIN list_memberships m ON m.subscriber_id = s.id
		WHERE m.list_id=$1 AND s.is_active=TRUE
		ORDER BY s.subscribed_at, s.id
	`
	rows, err := r.DB.Query(query, listID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SubscriberRepository) ActiveByIDs(ids []uuid.UUID) ([]model.Subscriber, error) {
	if len(ids) == 0 {
		return []model.Subscriber{}, nil
	}

	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}

	query := `SELECT ` + subscriberColumns + ` FROM subscribers
		WHERE id = ANY($1) AND is_active=TRUE
		ORDER BY subscribed_at, id`
	rows, err := r.DB.Query(query, pq.Array(raw))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	subs := []model.Subscriber{}
	for rows.Next() {
		var s model.Subscriber
		if err := rows.Scan(&s.ID, &s.Email, &s.FirstName, &s.LastName, &s.IsActive, &s.SubscribedAt, &s.UnsubscribedAt); err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, rows.Err()
}

// Unsubscribe deactivates the subscriber with the given email.
// unsubscribed_at is written only the first time.
func (r *SubscriberRepository) Unsubscribe(email string) (*model.Subscriber, error) {
	sub, err := r.GetByEmail(email)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE subscribers
		SET is_active=FALSE,
		    unsubscribed_at=COALESCE(unsubscribed_at, NOW())
		WHERE id=$1
		RETURNING is_active, unsubscribed_at
	`
	if err := r.DB.QueryRow(query, sub.ID).Scan(&sub.IsActive, &sub.UnsubscribedAt); err != nil {
		return nil, err
	}
	return sub, nil
}
