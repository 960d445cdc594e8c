package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/FleetFoot/RacePulse/internal/broker/messages"
	"github.com/FleetFoot/RacePulse/internal/detector"
	"github.com/FleetFoot/RacePulse/internal/integrations/push"
	"github.com/FleetFoot/RacePulse/internal/lifecycle"
	"github.com/FleetFoot/RacePulse/internal/models"
	"github.com/FleetFoot/RacePulse/internal/notify"
)

// runner owns everything for one race: the detector, the lifecycle machine
// and the latest participant snapshots. All of it is touched from a single
// goroutine fed by the snapshot channel, so none of it is locked.
type runner struct {
	raceID   uint64
	category string

	sup     *Supervisor
	det     *detector.Detector
	machine *lifecycle.Machine

	// latest snapshot per participant, replayed wholesale into the
	// detector on every update. Guarded because the machine's timer
	// callbacks read the roster from their own goroutines.
	mu     sync.Mutex
	latest map[string]models.Participant

	snapshots chan messages.ParticipantUpdated
	done      chan struct{}
	stopOnce  sync.Once
}

func (s *Supervisor) newRunner(ctx context.Context, race *models.Race) *runner {
	r := &runner{
		raceID:    race.ID,
		category:  race.Category,
		sup:       s,
		det:       detector.New(race.DistanceM, race.Category),
		latest:    map[string]models.Participant{},
		snapshots: make(chan messages.ParticipantUpdated, s.snapshotBuffer),
		done:      make(chan struct{}),
	}

	r.machine = lifecycle.NewMachine(race.ID, race.Status, s.repo, s.settings).
		OnTransition(r.onTransition)
	r.machine.Resume(race.CountdownEndsAt, race.DeadlineAt)

	r.seed(ctx)

	go r.loop(ctx)
	return r
}

// seed replays the stored snapshots so a restarted worker picks the race up
// where it left off. The detector records the baseline; whatever it emits
// here was already published before the restart and is discarded.
func (r *runner) seed(ctx context.Context) {
	stored, err := r.sup.repo.ListParticipants(ctx, r.raceID)
	if err != nil {
		slog.Error("seed participants", "raceID", r.raceID, "error", err)
		return
	}
	r.mu.Lock()
	for _, p := range stored {
		r.latest[p.UserID] = *p
	}
	n := len(r.latest)
	r.mu.Unlock()
	if n > 0 {
		_ = r.det.Observe(r.snapshotSlice())
	}
}

func (r *runner) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			r.machine.Stop()
			return
		case <-r.done:
			r.machine.Stop()
			return
		case msg := <-r.snapshots:
			r.handle(ctx, msg)
		}
	}
}

func (r *runner) stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func (r *runner) handle(ctx context.Context, msg messages.ParticipantUpdated) {
	if r.machine.Status().Terminal() {
		r.sup.dropped.Add(1)
		return
	}

	p := models.Participant{
		RaceID:      msg.RaceID,
		UserID:      msg.UserID,
		DistanceM:   msg.DistanceM,
		RemainingM:  msg.RemainingM,
		Rank:        msg.Rank,
		IsCompleted: msg.IsCompleted,
		Steps:       msg.Steps,
		SpeedMPS:    msg.SpeedMPS,
		UpdatedAt:   msg.ReportedAt,
	}

	if err := r.sup.repo.UpsertParticipant(ctx, p); err != nil {
		slog.Error("upsert participant", "raceID", r.raceID, "userID", p.UserID, "error", err)
	}

	r.mu.Lock()
	if prev, ok := r.latest[p.UserID]; !ok || p.DistanceM >= prev.DistanceM {
		r.latest[p.UserID] = p
	}
	r.mu.Unlock()

	for _, ev := range r.det.Observe(r.snapshotSlice()) {
		r.publishEvent(ctx, ev)
		r.notifyEvent(ctx, ev)

		if ev.Kind == models.EventKindFirstFinisher {
			if err := r.machine.FirstFinisher(ctx); err != nil {
				slog.Error("first finisher transition", "raceID", r.raceID, "error", err)
			}
		}
	}
}

func (r *runner) snapshotSlice() []models.Participant {
	r.mu.Lock()
	out := make([]models.Participant, 0, len(r.latest))
	for _, p := range r.latest {
		out = append(out, p)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Rank < out[j].Rank })
	return out
}

func (r *runner) participantIDs(except string) []string {
	r.mu.Lock()
	var out []string
	for id := range r.latest {
		if id != except {
			out = append(out, id)
		}
	}
	r.mu.Unlock()
	sort.Strings(out)
	return out
}

func (r *runner) publishEvent(ctx context.Context, ev models.RaceEvent) {
	msg := messages.RaceEventMessage{
		RaceID:      ev.RaceID,
		Kind:        ev.Kind,
		UserID:      ev.UserID,
		OtherUserID: ev.OtherUserID,
		Rank:        ev.Rank,
		OldRank:     ev.OldRank,
		Milestone:   ev.Milestone,
		Ordinal:     ev.Ordinal,
		OccurredAt:  ev.OccurredAt,
	}
	b, _ := json.Marshal(msg)
	key := []byte(fmt.Sprintf("%d", ev.RaceID))
	if err := r.sup.producer.Publish(ctx, r.sup.eventsTopic, key, b); err != nil {
		r.sup.publishFailures.Add(1)
		slog.Error("publish race event", "raceID", ev.RaceID, "kind", ev.Kind, "error", err)
		return
	}
	r.sup.eventsPublished.Add(1)
}

func (r *runner) notifyEvent(ctx context.Context, ev models.RaceEvent) {
	if r.sup.notifier == nil {
		return
	}
	n := r.sup.notifier

	switch ev.Kind {
	case models.EventKindOvertake:
		n.Notify(ctx, ev.UserID, notify.KindOvertake, push.Notification{
			Title: "You moved up!",
			Body:  fmt.Sprintf("You are now rank %d", ev.Rank),
			Data:  eventData(ev),
		})
		if ev.OtherUserID != nil {
			n.Notify(ctx, *ev.OtherUserID, notify.KindOvertake, push.Notification{
				Title: "You were overtaken",
				Body:  fmt.Sprintf("You dropped to rank %d", ev.OldRank),
				Data:  eventData(ev),
			})
		}
	case models.EventKindLeaderChange:
		n.Broadcast(ctx, r.participantIDs(""), notify.KindLeaderChange, push.Notification{
			Title: "New race leader",
			Body:  fmt.Sprintf("%s took the lead", ev.UserID),
			Data:  eventData(ev),
		})
	case models.EventKindMilestone:
		n.Notify(ctx, ev.UserID, notify.KindMilestone, push.Notification{
			Title: fmt.Sprintf("%d%% done", ev.Milestone),
			Body:  "Keep it up!",
			Data:  eventData(ev),
		})
	case models.EventKindFirstFinisher:
		n.Notify(ctx, ev.UserID, notify.KindRaceWon, push.Notification{
			Title: "You won!",
			Body:  "You crossed the finish line first",
			Data:  eventData(ev),
		})
		n.Broadcast(ctx, r.participantIDs(ev.UserID), notify.KindFirstFinisher, push.Notification{
			Title: "First finisher",
			Body:  fmt.Sprintf("%s finished, the deadline clock is running", ev.UserID),
			Data:  eventData(ev),
		})
	case models.EventKindCompletion:
		n.Notify(ctx, ev.UserID, notify.KindRaceCompleted, push.Notification{
			Title: "You finished!",
			Body:  fmt.Sprintf("You placed #%d", ev.Ordinal),
			Data:  eventData(ev),
		})
	}
}

// onTransition runs on the machine's timer goroutines; everything it
// touches is safe for concurrent use. Entering the countdown or grace
// window fans out a push only; the terminal and start transitions also
// publish a race event.
func (r *runner) onTransition(from, to models.RaceStatus) {
	ctx := context.Background()

	switch to {
	case models.RaceStatusStarting:
		r.broadcast(ctx, notify.KindCountdown, "On your marks", "The race starts shortly")
		return
	case models.RaceStatusEnding:
		r.broadcast(ctx, notify.KindDeadline, "Final stretch", "The finish deadline clock is running")
		return
	}

	var kind, notifKind, title, body string
	switch to {
	case models.RaceStatusActive:
		kind, notifKind = models.EventKindRaceBegin, notify.KindRaceBegin
		title, body = "Go!", "The race has started"
	case models.RaceStatusCompleted:
		kind, notifKind = models.EventKindRaceCompleted, notify.KindRaceCompleted
		title, body = "Race over", "The race has completed"
	case models.RaceStatusCancelled:
		kind, notifKind = models.EventKindRaceCancelled, notify.KindRaceCancelled
		title, body = "Race cancelled", "The organizer cancelled the race"
	default:
		return
	}

	r.publishEvent(ctx, models.RaceEvent{
		RaceID:     r.raceID,
		Kind:       kind,
		OccurredAt: time.Now().UTC(),
	})
	r.broadcast(ctx, notifKind, title, body)
}

func (r *runner) broadcast(ctx context.Context, kind, title, body string) {
	if r.sup.notifier == nil {
		return
	}
	r.sup.notifier.Broadcast(ctx, r.participantIDs(""), kind, push.Notification{
		Title: title,
		Body:  body,
		Data:  map[string]string{"race_id": fmt.Sprintf("%d", r.raceID)},
	})
}

func eventData(ev models.RaceEvent) map[string]string {
	d := map[string]string{
		"race_id": fmt.Sprintf("%d", ev.RaceID),
		"kind":    ev.Kind,
	}
	if ev.UserID != "" {
		d["user_id"] = ev.UserID
	}
	return d
}
