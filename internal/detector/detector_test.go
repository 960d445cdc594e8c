package detector

import (
	"testing"
	"time"

	"github.com/FleetFoot/RacePulse/internal/models"
	"github.com/stretchr/testify/require"
)

func snap(userID string, rank int, distanceM, remainingM float64) models.Participant {
	return models.Participant{
		RaceID:     1,
		UserID:     userID,
		Rank:       rank,
		DistanceM:  distanceM,
		RemainingM: remainingM,
	}
}

func fixedClock() func() time.Time {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time { return t0 }
}

func kinds(evs []models.RaceEvent) []string {
	out := make([]string, 0, len(evs))
	for _, e := range evs {
		out = append(out, e.Kind)
	}
	return out
}

func TestDetector_FirstObservationIsSilentOnRank(t *testing.T) {
	d := New(5000, models.RaceCategoryPrivate).WithClock(fixedClock())
	evs := d.Observe([]models.Participant{
		snap("a", 1, 100, 4900),
		snap("b", 2, 90, 4910),
	})
	// No previous rank, no previous leader: nothing competitive to report.
	require.Empty(t, kinds(evs))
}

func TestDetector_OvertakeOncePerTransition(t *testing.T) {
	d := New(5000, models.RaceCategoryPrivate).WithClock(fixedClock())

	d.Observe([]models.Participant{
		snap("a", 3, 100, 4900),
		snap("b", 2, 200, 4800),
		snap("c", 1, 300, 4700),
	})

	// a moves 3 -> 2, b is pushed to 3.
	evs := d.Observe([]models.Participant{
		snap("a", 2, 250, 4750),
		snap("b", 3, 210, 4790),
		snap("c", 1, 310, 4690),
	})
	require.Equal(t, []string{models.EventKindOvertake}, kinds(evs))
	require.Equal(t, "a", evs[0].UserID)
	require.Equal(t, 2, evs[0].Rank)
	require.Equal(t, 3, evs[0].OldRank)
	require.NotNil(t, evs[0].OtherUserID)
	require.Equal(t, "b", *evs[0].OtherUserID)

	// Upstream resend of the same snapshot: no second event.
	evs = d.Observe([]models.Participant{
		snap("a", 2, 250, 4750),
		snap("b", 3, 210, 4790),
		snap("c", 1, 310, 4690),
	})
	require.Empty(t, evs)

	// A later improvement does not fire either: one overtake per
	// participant for the life of the race.
	evs = d.Observe([]models.Participant{
		snap("a", 1, 400, 4600),
		snap("b", 3, 220, 4780),
		snap("c", 2, 320, 4680),
	})
	require.Empty(t, kinds(evs))
}

func TestDetector_OvertakeUnresolvedOvertaken(t *testing.T) {
	d := New(5000, models.RaceCategoryPrivate).WithClock(fixedClock())
	d.Observe([]models.Participant{snap("a", 3, 100, 4900)})

	// Nobody in the snapshot holds the vacated rank.
	evs := d.Observe([]models.Participant{snap("a", 2, 200, 4800)})
	require.Equal(t, []string{models.EventKindOvertake}, kinds(evs))
	require.Nil(t, evs[0].OtherUserID)
}

func TestDetector_OvertakeSuppressedForPublicCategory(t *testing.T) {
	d := New(5000, models.RaceCategoryPublic).WithClock(fixedClock())
	d.Observe([]models.Participant{
		snap("a", 3, 100, 4900),
		snap("b", 2, 200, 4800),
	})

	evs := d.Observe([]models.Participant{
		snap("a", 2, 250, 4750),
		snap("b", 3, 210, 4790),
	})
	require.Empty(t, evs)

	// Suppression must not corrupt bookkeeping: a later rank-1 move still
	// compares against the updated rank.
	evs = d.Observe([]models.Participant{
		snap("a", 1, 400, 4600),
		snap("b", 2, 300, 4700),
	})
	require.Empty(t, kinds(evs)) // first observed leader is silent too
}

func TestDetector_RankClimbEmitsOvertakeAndLeaderChangeOnce(t *testing.T) {
	// P climbs 3 -> 2 -> 1 with the rank-2 snapshot
	// delivered twice. Category policies split the two kinds across
	// categories, so verify each side separately.
	run := func(category string) []models.RaceEvent {
		d := New(5000, category).WithClock(fixedClock())
		var all []models.RaceEvent
		all = append(all, d.Observe([]models.Participant{
			snap("p", 3, 100, 4900), snap("x", 2, 200, 4800), snap("y", 1, 300, 4700),
		})...)
		all = append(all, d.Observe([]models.Participant{
			snap("p", 2, 250, 4750), snap("x", 3, 210, 4790), snap("y", 1, 310, 4690),
		})...)
		// Duplicate delivery of the rank-2 snapshot.
		all = append(all, d.Observe([]models.Participant{
			snap("p", 2, 250, 4750), snap("x", 3, 210, 4790), snap("y", 1, 310, 4690),
		})...)
		all = append(all, d.Observe([]models.Participant{
			snap("p", 1, 400, 4600), snap("x", 3, 220, 4780), snap("y", 2, 320, 4680),
		})...)
		return all
	}

	private := run(models.RaceCategoryPrivate)
	overtakes := 0
	for _, e := range private {
		if e.Kind == models.EventKindOvertake && e.UserID == "p" {
			overtakes++
		}
	}
	require.Equal(t, 1, overtakes)

	public := run(models.RaceCategoryPublic)
	leaderChanges := 0
	for _, e := range public {
		if e.Kind == models.EventKindLeaderChange {
			leaderChanges++
			require.Equal(t, "p", e.UserID)
			require.Equal(t, "y", *e.OtherUserID)
		}
	}
	require.Equal(t, 1, leaderChanges)
}

func TestDetector_FirstLeaderSilent(t *testing.T) {
	d := New(5000, models.RaceCategoryPublic).WithClock(fixedClock())
	evs := d.Observe([]models.Participant{snap("a", 1, 100, 4900)})
	require.Empty(t, evs)

	// A real change later does fire.
	evs = d.Observe([]models.Participant{
		snap("a", 2, 150, 4850),
		snap("b", 1, 200, 4800),
	})
	require.Equal(t, []string{models.EventKindLeaderChange}, kinds(evs))
	require.Equal(t, "b", evs[0].UserID)
}

func TestDetector_MilestoneFiresOnceAndIsMonotonic(t *testing.T) {
	d := New(1000, models.RaceCategoryPrivate).WithClock(fixedClock())

	evs := d.Observe([]models.Participant{snap("a", 1, 260, 740)})
	require.Equal(t, []string{models.EventKindMilestone}, kinds(evs))
	require.Equal(t, 25, evs[0].Milestone)

	// Distance correction below 25% is stale and dropped; rising again
	// must not re-fire the milestone.
	evs = d.Observe([]models.Participant{snap("a", 1, 200, 800)})
	require.Empty(t, evs)
	evs = d.Observe([]models.Participant{snap("a", 1, 300, 700)})
	require.Empty(t, evs)

	// Jumping over several thresholds emits each missing one, in order.
	evs = d.Observe([]models.Participant{snap("a", 1, 800, 200)})
	require.Equal(t, []string{models.EventKindMilestone, models.EventKindMilestone}, kinds(evs))
	require.Equal(t, 50, evs[0].Milestone)
	require.Equal(t, 75, evs[1].Milestone)
}

func TestDetector_StaleUpdateRejected(t *testing.T) {
	d := New(1000, models.RaceCategoryPrivate).WithClock(fixedClock())
	d.Observe([]models.Participant{snap("a", 2, 100, 900)})

	// 100m then 90m: dropped wholesale, even though the rank improved.
	evs := d.Observe([]models.Participant{snap("a", 1, 90, 910)})
	require.Empty(t, evs)

	// State is untouched: the next valid improvement still diffs against
	// rank 2 / 100m.
	evs = d.Observe([]models.Participant{snap("a", 1, 120, 880)})
	require.Equal(t, []string{models.EventKindOvertake}, kinds(evs))
	require.Equal(t, 2, evs[0].OldRank)
}

func TestDetector_FirstFinisherThenCompletions(t *testing.T) {
	d := New(1000, models.RaceCategoryPrivate).WithClock(fixedClock())
	d.Observe([]models.Participant{
		snap("a", 1, 900, 100),
		snap("b", 2, 800, 200),
	})

	evs := d.Observe([]models.Participant{
		{RaceID: 1, UserID: "a", Rank: 1, DistanceM: 1000, RemainingM: 0, IsCompleted: true},
		snap("b", 2, 850, 150),
	})
	var finisher []models.RaceEvent
	for _, e := range evs {
		if e.Kind == models.EventKindFirstFinisher {
			finisher = append(finisher, e)
		}
	}
	require.Len(t, finisher, 1)
	require.Equal(t, "a", finisher[0].UserID)
	require.Equal(t, 1, finisher[0].Ordinal)

	// Resend of the finished snapshot: no duplicate.
	evs = d.Observe([]models.Participant{
		{RaceID: 1, UserID: "a", Rank: 1, DistanceM: 1000, RemainingM: 0, IsCompleted: true},
	})
	require.Empty(t, kinds(evs))

	// Second finisher is an ordinary completion with its ordinal and rank.
	evs = d.Observe([]models.Participant{
		{RaceID: 1, UserID: "b", Rank: 2, DistanceM: 1000, RemainingM: 0, IsCompleted: true},
	})
	var completion *models.RaceEvent
	for i := range evs {
		if evs[i].Kind == models.EventKindCompletion {
			completion = &evs[i]
		}
	}
	require.NotNil(t, completion)
	require.Equal(t, "b", completion.UserID)
	require.Equal(t, 2, completion.Ordinal)
	require.Equal(t, 2, completion.Rank)
	require.Equal(t, 2, d.Finished())
}
