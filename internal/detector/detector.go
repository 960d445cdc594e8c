package detector

import (
	"log/slog"
	"time"

	"github.com/FleetFoot/RacePulse/internal/models"
)

// MilestoneThresholds are the fixed progress percentages that fire a
// milestone event, each at most once per participant.
var MilestoneThresholds = []int{25, 50, 75}

// participantState is the per-participant memory used to detect transitions
// exactly once. All fields move monotonically: rank history only advances,
// milestones are never unrecorded, completed never flips back.
type participantState struct {
	rank      int
	distanceM float64
	milestones map[int]struct{}
	completed  bool

	// Once-per-race emission guards. Upstream resends and later repeats of
	// the same transition kind must not fire again.
	overtakeEmitted     bool
	leaderChangeEmitted bool
}

// Detector diffs participant snapshots for a single race. It is not
// goroutine-safe; the race runner owns it and serializes all calls.
type Detector struct {
	totalLogicalM float64
	policy        Policy

	participants map[string]*participantState
	leaderID     string
	finished     int

	now func() time.Time
}

func New(totalLogicalM float64, category string) *Detector {
	return &Detector{
		totalLogicalM: totalLogicalM,
		policy:        PolicyFor(category),
		participants:  make(map[string]*participantState),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the event timestamp source.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Observe diffs one snapshot set against the tracked state and returns the
// events it produced, updating the state as it goes. Participants are
// processed in the snapshot's order, so one input yields one deterministic
// output. A snapshot whose distance moved backwards is stale upstream data:
// it is dropped whole for that participant, with no state change.
func (d *Detector) Observe(snapshot []models.Participant) []models.RaceEvent {
	var events []models.RaceEvent
	for i := range snapshot {
		events = append(events, d.observeOne(&snapshot[i], snapshot)...)
	}
	return events
}

func (d *Detector) observeOne(p *models.Participant, snapshot []models.Participant) []models.RaceEvent {
	now := d.now()
	st, known := d.participants[p.UserID]
	if !known {
		st = &participantState{
			rank:       p.Rank,
			distanceM:  p.DistanceM,
			milestones: make(map[int]struct{}),
		}
		d.participants[p.UserID] = st
	}

	if known && p.DistanceM < st.distanceM {
		slog.Warn("stale participant update dropped",
			"race_id", p.RaceID, "user_id", p.UserID,
			"distance_m", p.DistanceM, "tracked_m", st.distanceM)
		return nil
	}

	var events []models.RaceEvent

	// Rank improvement. Whoever now holds the old rank is the one passed;
	// the event still fires when they cannot be resolved. One overtake per
	// participant per race; category suppression does not consume it.
	if known && p.Rank > 0 && st.rank > 0 && p.Rank < st.rank && !st.overtakeEmitted {
		if d.policy.Overtake {
			st.overtakeEmitted = true
			ev := models.RaceEvent{
				RaceID:     p.RaceID,
				Kind:       models.EventKindOvertake,
				UserID:     p.UserID,
				Rank:       p.Rank,
				OldRank:    st.rank,
				OccurredAt: now,
			}
			if overtaken := findByRank(snapshot, st.rank, p.UserID); overtaken != "" {
				ev.OtherUserID = &overtaken
			}
			events = append(events, ev)
		}
	}

	// Leader bookkeeping always runs; the very first leader is recorded
	// silently, there is no change to report.
	if p.Rank == 1 && d.leaderID != p.UserID {
		prev := d.leaderID
		d.leaderID = p.UserID
		if prev != "" && d.policy.LeaderChange && !st.leaderChangeEmitted {
			st.leaderChangeEmitted = true
			ev := models.RaceEvent{
				RaceID:     p.RaceID,
				Kind:       models.EventKindLeaderChange,
				UserID:     p.UserID,
				Rank:       1,
				OccurredAt: now,
			}
			ev.OtherUserID = &prev
			events = append(events, ev)
		}
	}

	if d.totalLogicalM > 0 {
		pct := p.DistanceM / d.totalLogicalM * 100
		for _, th := range MilestoneThresholds {
			if pct < float64(th) {
				break
			}
			if _, done := st.milestones[th]; done {
				continue
			}
			st.milestones[th] = struct{}{}
			events = append(events, models.RaceEvent{
				RaceID:     p.RaceID,
				Kind:       models.EventKindMilestone,
				UserID:     p.UserID,
				Milestone:  th,
				OccurredAt: now,
			})
		}
	}

	if !st.completed && (p.IsCompleted || p.RemainingM <= 0) {
		st.completed = true
		d.finished++
		kind := models.EventKindCompletion
		if d.finished == 1 {
			kind = models.EventKindFirstFinisher
		}
		events = append(events, models.RaceEvent{
			RaceID:     p.RaceID,
			Kind:       kind,
			UserID:     p.UserID,
			Rank:       p.Rank,
			Ordinal:    d.finished,
			OccurredAt: now,
		})
	}

	if p.Rank > 0 {
		st.rank = p.Rank
	}
	st.distanceM = p.DistanceM
	return events
}

// Finished reports how many tracked participants have completed.
func (d *Detector) Finished() int { return d.finished }

func findByRank(snapshot []models.Participant, rank int, excludeUserID string) string {
	for i := range snapshot {
		if snapshot[i].UserID != excludeUserID && snapshot[i].Rank == rank {
			return snapshot[i].UserID
		}
	}
	return ""
}
