package geo

import (
	"math"

	dErrors "perimeter/pkg/domain-errors"
)

// EarthRadiusMeters is the mean Earth radius used for great-circle distances.
const EarthRadiusMeters = 6371000.0

// Coordinate is a WGS 84 latitude/longitude pair in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks the coordinate against valid WGS 84 ranges.
func (c Coordinate) Validate() error {
	if math.IsNaN(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return dErrors.Newf(dErrors.CodeBadRequest, "latitude %v out of range [-90,90]", c.Latitude)
	}
	if math.IsNaN(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return dErrors.Newf(dErrors.CodeBadRequest, "longitude %v out of range [-180,180]", c.Longitude)
	}
	return nil
}

// Distance returns the great-circle distance between two coordinates in
// meters, using the haversine formula.
func Distance(a, b Coordinate) float64 {
	lat1 := radians(a.Latitude)
	lat2 := radians(b.Latitude)
	dLat := radians(b.Latitude - a.Latitude)
	dLon := radians(b.Longitude - a.Longitude)

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Within reports whether point lies inside the circle around center.
// The boundary is inclusive: a point exactly at radius distance is inside.
func Within(point, center Coordinate, radiusMeters float64) bool {
	return Distance(point, center) <= radiusMeters
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
