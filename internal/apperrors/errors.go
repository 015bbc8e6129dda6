package apperrors

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadySent is returned when a send is started on a campaign
	// whose sent_at is already set.
	ErrAlreadySent = errors.New("campaign already sent")

	// ErrNoRecipients is returned when a send is started on a campaign
	// whose list has no active subscribers.
	ErrNoRecipients = errors.New("campaign has no active recipients")

	// ErrInvalidToken is returned when an unsubscribe token fails
	// signature verification or has expired.
	ErrInvalidToken = errors.New("invalid or expired token")
)

// NotFoundError identifies a missing record by kind ("campaign",
// "subscriber", "list") and ID.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// IsNotFound reports whether err wraps a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
