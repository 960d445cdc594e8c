package notify

import "time"

// Notification kinds. The cooldown table is the single source of truth for
// throttling: a zero cooldown means the kind is one-shot or high-value and
// is never throttled.
const (
	KindOvertake      = "overtake"
	KindLeaderChange  = "leader_change"
	KindProximity     = "proximity_alert"
	KindMilestone     = "milestone"
	KindCountdown     = "countdown"
	KindDeadline      = "deadline_alert"

	KindFirstFinisher   = "first_finisher"
	KindRaceWon         = "race_won"
	KindRaceCompleted   = "race_completed"
	KindRaceBegin       = "race_begin"
	KindRaceCancelled   = "race_cancelled"
	KindInvitation      = "invitation"
	KindParticipantJoin = "participant_joined"
	KindAnnouncement    = "public_race_announcement"
)

var cooldowns = map[string]time.Duration{
	KindOvertake:     30 * time.Second,
	KindLeaderChange: 120 * time.Second,
	KindProximity:    60 * time.Second,
	KindMilestone:    60 * time.Second,
	KindCountdown:    300 * time.Second,
	KindDeadline:     60 * time.Second,

	KindFirstFinisher:   0,
	KindRaceWon:         0,
	KindRaceCompleted:   0,
	KindRaceBegin:       0,
	KindRaceCancelled:   0,
	KindInvitation:      0,
	KindParticipantJoin: 0,
	KindAnnouncement:    0,
}

// Cooldown returns the configured minimum interval between two sends of the
// same kind to the same recipient. Unknown kinds are unthrottled.
func Cooldown(kind string) time.Duration {
	return cooldowns[kind]
}
