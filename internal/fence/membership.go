package fence

import (
	"strings"

	"perimeter/internal/geo"
)

// Membership is the result of resolving a coordinate against a fence set.
type Membership struct {
	// Contained holds every fence whose circle includes the point.
	Contained []*Area
	// Current is the single fence the user is considered inside, or nil.
	Current *Area
}

// Resolve returns the full contained set and the single current fence for a
// point. The current fence is the contained fence at minimum distance from
// the point; exact ties break deterministically on the smallest fence id.
// Pure function of its inputs.
func Resolve(point geo.Coordinate, areas []*Area) Membership {
	var m Membership
	var currentDist float64

	for _, a := range areas {
		d := geo.Distance(point, a.Center)
		if d > a.RadiusMeters {
			continue
		}
		m.Contained = append(m.Contained, a)

		switch {
		case m.Current == nil:
			m.Current, currentDist = a, d
		case d < currentDist:
			m.Current, currentDist = a, d
		case d == currentDist && strings.Compare(a.ID.String(), m.Current.ID.String()) < 0:
			m.Current = a
		}
	}
	return m
}
