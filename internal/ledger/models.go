package ledger

import (
	"time"

	"perimeter/internal/geo"
	id "perimeter/pkg/domain"
)

// LocationRecord is one contiguous residency interval inside a fence. Rows
// are created on ENTER and on the new leg of SWITCH, closed (never deleted)
// on EXIT and the old leg of SWITCH. The ledger is append-mostly and backs
// historical queries.
//
// Invariant: per user, at most one record has Disconnected=false.
type LocationRecord struct {
	ID            id.RecordID     `json:"id"`
	UserID        id.UserID       `json:"userId"`
	AreaID        id.FenceID      `json:"areaId"`
	AreaName      string          `json:"areaName"`
	InCoordinate  geo.Coordinate  `json:"inCoordinate"`
	InTime        time.Time       `json:"inTime"`
	OutCoordinate *geo.Coordinate `json:"outCoordinate,omitempty"`
	OutTime       *time.Time      `json:"outTime,omitempty"`
	Disconnected  bool            `json:"disconnected"`
	Switched      bool            `json:"switched"`
}

// Open reports whether the record represents a current residency.
func (r *LocationRecord) Open() bool {
	return !r.Disconnected
}

// MembershipEdge is the fast "who is inside now" index entry. It exists iff
// the user has an open LocationRecord with the same area id; both sides of
// that equivalence mutate inside one transaction.
type MembershipEdge struct {
	UserID    id.UserID  `json:"userId"`
	AreaID    id.FenceID `json:"areaId"`
	CreatedAt time.Time  `json:"createdAt"`
}
