package models

import "time"

// Race status codes are shared with the stored status_id column.
// Cancelled is the single terminal "abandoned" code.
type RaceStatus int32

const (
	RaceStatusCreated   RaceStatus = 0
	RaceStatusScheduled RaceStatus = 1
	RaceStatusStarting  RaceStatus = 2
	RaceStatusActive    RaceStatus = 3
	RaceStatusCompleted RaceStatus = 4
	RaceStatusEnding    RaceStatus = 6
	RaceStatusCancelled RaceStatus = 7
)

func (s RaceStatus) String() string {
	switch s {
	case RaceStatusCreated:
		return "CREATED"
	case RaceStatusScheduled:
		return "SCHEDULED"
	case RaceStatusStarting:
		return "STARTING"
	case RaceStatusActive:
		return "ACTIVE"
	case RaceStatusCompleted:
		return "COMPLETED"
	case RaceStatusEnding:
		return "ENDING"
	case RaceStatusCancelled:
		return "CANCELLED"
	}
	return "UNKNOWN"
}

// Terminal reports whether no further transitions are possible.
func (s RaceStatus) Terminal() bool {
	return s == RaceStatusCompleted || s == RaceStatusCancelled
}

// Race categories control which competitive events are emitted (see detector policy).
const (
	RaceCategoryPublic  = "PUBLIC"
	RaceCategoryPrivate = "PRIVATE"
)

type Race struct {
	ID          uint64
	Title       string
	Status      RaceStatus
	Category    string
	OrganizerID string

	// DistanceM is the nominal (logical) race distance in meters. The
	// physical route polyline rarely matches it exactly.
	DistanceM float64

	OriginLat float64
	OriginLon float64
	DestLat   float64
	DestLon   float64

	ScheduledAt     *time.Time
	CountdownEndsAt *time.Time
	DeadlineAt      *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

type RaceCreateInput struct {
	Title       string
	Category    string
	OrganizerID string
	DistanceM   float64
	OriginLat   float64
	OriginLon   float64
	DestLat     float64
	DestLon     float64
	ScheduledAt *time.Time
}

// Participant is a snapshot of one runner's progress as reported by the
// external ingestion path. Rank is server-assigned and trusted verbatim;
// recomputing it locally from partially ordered snapshots produces
// duplicate-rank races.
type Participant struct {
	RaceID      uint64
	UserID      string
	DistanceM   float64
	RemainingM  float64
	Rank        int
	IsCompleted bool
	Steps       int64
	SpeedMPS    float64
	UpdatedAt   time.Time
}
