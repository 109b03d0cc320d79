package fraud

import (
	"context"

	id "perimeter/pkg/domain"
)

// Store is the append-only fraud event ledger.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByUser(ctx context.Context, userID id.UserID) ([]Event, error)
}
