package fraud

import (
	"time"

	"github.com/google/uuid"

	id "perimeter/pkg/domain"
)

// Event records one device-fingerprint mismatch. Append-only, never mutated;
// the audit trail must survive regardless of whether an alert was sent.
type Event struct {
	ID             uuid.UUID  `json:"id"`
	UserID         id.UserID  `json:"userId"`
	FenceID        id.FenceID `json:"fenceId"`
	OldFingerprint string     `json:"oldFingerprint"`
	NewFingerprint string     `json:"newFingerprint"`
	CreatedAt      time.Time  `json:"createdAt"`
}
