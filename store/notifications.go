package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// CreateNotification persists the NOTIFY stage's terminal record of a
// Build's outcome.
func (s *Store) CreateNotification(ctx context.Context, n *Notification) (string, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	const q = `
		INSERT INTO notifications (id, build_id, outcome, message)
		VALUES (:id, :build_id, :outcome, :message)`
	if _, err := s.db.NamedExecContext(ctx, q, n); err != nil {
		return "", fmt.Errorf("insert notification: %w", err)
	}
	return n.ID, nil
}
