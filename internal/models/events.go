package models

import "time"

// Event kinds detected from participant snapshots, plus lifecycle
// notifications that flow through the same throttle table.
const (
	EventKindOvertake      = "OVERTAKE"
	EventKindLeaderChange  = "LEADER_CHANGE"
	EventKindMilestone     = "MILESTONE"
	EventKindFirstFinisher = "FIRST_FINISHER"
	EventKindCompletion    = "COMPLETION"

	EventKindRaceBegin     = "RACE_BEGIN"
	EventKindRaceCompleted = "RACE_COMPLETED"
	EventKindRaceCancelled = "RACE_CANCELLED"
)

type RaceEvent struct {
	ID     uint64
	RaceID uint64
	Kind   string

	// UserID is the subject of the event (overtaker, finisher, new leader).
	UserID string
	// OtherUserID is the counterpart where one exists (the overtaken
	// participant, the previous leader). Nil when it cannot be resolved.
	OtherUserID *string

	Rank      int
	OldRank   int
	Milestone int
	// Ordinal is the finish position carried on completion events.
	Ordinal int

	OccurredAt time.Time
	CreatedAt  time.Time
}
