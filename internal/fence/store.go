package fence

import (
	"context"

	id "perimeter/pkg/domain"
)

// Store is the durable fence store. The pipeline treats fences as read-mostly:
// Create exists for seeding and admin tooling, the hot path only reads.
type Store interface {
	FindByID(ctx context.Context, fenceID id.FenceID) (*Area, error)
	ListAll(ctx context.Context) ([]*Area, error)
	ListByOwner(ctx context.Context, ownerID id.UserID) ([]*Area, error)
	Create(ctx context.Context, area *Area) error
}
