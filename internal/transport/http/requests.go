package httpapi

import "time"

// locationUpdateRequest is the submit-sample body. The authenticated user
// comes from the bearer token, never the body.
type locationUpdateRequest struct {
	Latitude          float64    `json:"latitude"`
	Longitude         float64    `json:"longitude"`
	DeviceFingerprint string     `json:"deviceFingerprint,omitempty"`
	Timestamp         *time.Time `json:"timestamp,omitempty"`
}
