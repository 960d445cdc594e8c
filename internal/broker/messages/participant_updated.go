package messages

import "time"

// ParticipantUpdated is the snapshot published by the ingestion path for
// every progress report. Keyed by race_id on the wire, so one race's
// snapshots arrive in order on one partition.
type ParticipantUpdated struct {
	RaceID uint64 `json:"race_id"`
	UserID string `json:"user_id"`

	DistanceM  float64 `json:"distance_m"`
	RemainingM float64 `json:"remaining_m"`
	// Rank is assigned server-side; consumers must not recompute it.
	Rank        int  `json:"rank"`
	IsCompleted bool `json:"is_completed"`

	Steps    int64   `json:"steps,omitempty"`
	SpeedMPS float64 `json:"speed_mps,omitempty"`

	ReportedAt time.Time `json:"reported_at"`
}
