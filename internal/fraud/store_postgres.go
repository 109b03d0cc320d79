package fraud

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	id "perimeter/pkg/domain"
)

// PostgresStore appends fraud events to the fraud_events table. Inserts are
// idempotent on id so a retried append cannot double-count.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	query := `
		INSERT INTO fraud_events (id, user_id, fence_id, old_fingerprint, new_fingerprint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		uuid.UUID(event.UserID),
		uuid.UUID(event.FenceID),
		event.OldFingerprint,
		event.NewFingerprint,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fraud event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID id.UserID) ([]Event, error) {
	query := `
		SELECT id, user_id, fence_id, old_fingerprint, new_fingerprint, created_at
		FROM fraud_events
		WHERE user_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, uuid.UUID(userID))
	if err != nil {
		return nil, fmt.Errorf("query fraud events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event   Event
			user    uuid.UUID
			fenceID uuid.UUID
		)
		err := rows.Scan(&event.ID, &user, &fenceID, &event.OldFingerprint, &event.NewFingerprint, &event.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan fraud event: %w", err)
		}
		event.UserID = id.UserID(user)
		event.FenceID = id.FenceID(fenceID)
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate fraud events: %w", err)
	}
	return events, nil
}
