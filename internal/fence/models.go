package fence

import (
	"time"

	"perimeter/internal/geo"
	id "perimeter/pkg/domain"
)

// Area is a circular geographic region. Areas are immutable on the hot path;
// edits happen out-of-band and become visible to enrichment after the cache
// TTL expires. Containment checks always read live geometry from the store.
type Area struct {
	ID           id.FenceID     `json:"id"`
	Name         string         `json:"name"`
	Center       geo.Coordinate `json:"center"`
	RadiusMeters float64        `json:"radiusMeters"`
	OwnerID      id.UserID      `json:"ownerId"`
	OwnerEmail   string         `json:"ownerEmail,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// Contains reports whether the point lies inside the area (boundary inclusive).
func (a *Area) Contains(point geo.Coordinate) bool {
	return geo.Within(point, a.Center, a.RadiusMeters)
}
