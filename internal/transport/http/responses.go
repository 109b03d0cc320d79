package httpapi

import (
	"time"

	"perimeter/internal/engine"
	"perimeter/internal/fence"
	"perimeter/internal/ledger"
)

type transitionResponse struct {
	EventType    string                 `json:"eventType"`
	Record       *ledger.LocationRecord `json:"record,omitempty"`
	CurrentFence *fenceResponse         `json:"currentFence,omitempty"`
}

type fenceResponse struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	RadiusMeters float64   `json:"radiusMeters"`
	CreatedAt    time.Time `json:"createdAt"`
}

type occupantsResponse struct {
	FenceID   string   `json:"fenceId"`
	Occupants []string `json:"occupants"`
}

func newTransitionResponse(result *engine.Result) transitionResponse {
	resp := transitionResponse{
		EventType: string(result.EventType),
		Record:    result.Record,
	}
	if result.CurrentFence != nil {
		resp.CurrentFence = newFenceResponse(result.CurrentFence)
	}
	return resp
}

func newFenceResponse(area *fence.Area) *fenceResponse {
	return &fenceResponse{
		ID:           area.ID.String(),
		Name:         area.Name,
		Latitude:     area.Center.Latitude,
		Longitude:    area.Center.Longitude,
		RadiusMeters: area.RadiusMeters,
		CreatedAt:    area.CreatedAt,
	}
}
