package event

import (
	"time"

	"perimeter/internal/ledger"
)

// Type classifies a detected transition.
type Type string

const (
	TypeNone   Type = "NONE"
	TypeEnter  Type = "ENTER"
	TypeExit   Type = "EXIT"
	TypeSwitch Type = "SWITCH"
)

// Payload is the queue wire format for a transition's ledger record. For
// ENTER and the new leg of SWITCH only the in-fields are set; for EXIT the
// out-fields carry the closing sample.
type Payload struct {
	RecordID     string     `json:"recordId"`
	UserID       string     `json:"userId"`
	AreaID       string     `json:"areaId"`
	AreaName     string     `json:"areaName"`
	InLatitude   float64    `json:"inLatitude"`
	InLongitude  float64    `json:"inLongitude"`
	InTime       time.Time  `json:"inTime"`
	OutLatitude  *float64   `json:"outLatitude,omitempty"`
	OutLongitude *float64   `json:"outLongitude,omitempty"`
	OutTime      *time.Time `json:"outTime,omitempty"`
}

// Envelope is what travels on the queue: {"type": ..., "data": ...}.
// It is a notification of a ledger change that already committed, not
// durable state itself; delivery is at-least-once.
type Envelope struct {
	Type Type    `json:"type"`
	Data Payload `json:"data"`
}

// PayloadFromRecord flattens a ledger record into the wire payload.
func PayloadFromRecord(record *ledger.LocationRecord) Payload {
	p := Payload{
		RecordID:    record.ID.String(),
		UserID:      record.UserID.String(),
		AreaID:      record.AreaID.String(),
		AreaName:    record.AreaName,
		InLatitude:  record.InCoordinate.Latitude,
		InLongitude: record.InCoordinate.Longitude,
		InTime:      record.InTime,
	}
	if record.OutCoordinate != nil {
		lat := record.OutCoordinate.Latitude
		lon := record.OutCoordinate.Longitude
		p.OutLatitude = &lat
		p.OutLongitude = &lon
	}
	if record.OutTime != nil {
		t := *record.OutTime
		p.OutTime = &t
	}
	return p
}

// OwnerNotice is the asynchronous payload pushed to interested third parties
// (the fence owner's dashboard channel).
type OwnerNotice struct {
	UserID    string    `json:"userId"`
	FenceID   string    `json:"fenceId"`
	FenceName string    `json:"fenceName"`
	EventType Type      `json:"eventType"`
	Timestamp time.Time `json:"timestamp"`
}
