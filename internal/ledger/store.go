package ledger

import (
	"context"
	"time"

	"perimeter/internal/geo"
	id "perimeter/pkg/domain"
)

// Store is the durable ledger + membership index. Implementations must make
// OpenRecord and CloseRecord conditional writes: OpenRecord fails with
// sentinel.ErrConflict when the user already has an open record, CloseRecord
// fails with sentinel.ErrConflict when the record is no longer open. Those
// two checks close the read-modify-write race between concurrent samples for
// the same user without a distributed lock.
type Store interface {
	// FindOpenRecord returns the user's current open record, or
	// sentinel.ErrNotFound when the user is outside every fence.
	FindOpenRecord(ctx context.Context, userID id.UserID) (*LocationRecord, error)

	// OpenRecord inserts a new open record. Conditional on no open record
	// existing for the user.
	OpenRecord(ctx context.Context, record *LocationRecord) error

	// CloseRecord stamps the out coordinate/time and flips the record to
	// disconnected. Conditional on the record still being open.
	CloseRecord(ctx context.Context, recordID id.RecordID, out geo.Coordinate, outTime time.Time, switched bool) error

	// CreateEdge adds the membership index entry. Idempotent: re-creating an
	// existing edge is a no-op, which the worker relies on for reconciliation.
	CreateEdge(ctx context.Context, userID id.UserID, areaID id.FenceID) error

	// DeleteEdge removes the membership index entry. Removing a missing edge
	// is a no-op.
	DeleteEdge(ctx context.Context, userID id.UserID, areaID id.FenceID) error

	// HasEdge reports whether the membership index entry exists.
	HasEdge(ctx context.Context, userID id.UserID, areaID id.FenceID) (bool, error)

	// ListEdgesByUser returns every membership entry for the user. Under the
	// ledger invariant there is at most one, but reconciliation reads the
	// actual state rather than assuming it.
	ListEdgesByUser(ctx context.Context, userID id.UserID) ([]MembershipEdge, error)

	// ListOccupants returns the users currently inside the area.
	ListOccupants(ctx context.Context, areaID id.FenceID) ([]id.UserID, error)

	// ListByUser returns the user's residency history, newest first. A limit
	// of 0 means no limit.
	ListByUser(ctx context.Context, userID id.UserID, limit int) ([]*LocationRecord, error)
}
