package messages

import "time"

// RaceEventMessage is published on the race events topic for every detected
// transition and consumed by race-api to persist the UI event feed.
type RaceEventMessage struct {
	RaceID uint64 `json:"race_id"`
	Kind   string `json:"kind"`

	UserID      string  `json:"user_id,omitempty"`
	OtherUserID *string `json:"other_user_id,omitempty"`

	Rank      int `json:"rank,omitempty"`
	OldRank   int `json:"old_rank,omitempty"`
	Milestone int `json:"milestone,omitempty"`
	Ordinal   int `json:"ordinal,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}
