package supervisor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/FleetFoot/RacePulse/internal/broker/messages"
	"github.com/FleetFoot/RacePulse/internal/lifecycle"
	"github.com/FleetFoot/RacePulse/internal/models"
	"github.com/FleetFoot/RacePulse/internal/notify"
)

const (
	defaultRefreshInterval = 15 * time.Second
	defaultSnapshotBuffer  = 64
)

type Repository interface {
	lifecycle.Repository
	GetRaceByID(ctx context.Context, id uint64) (*models.Race, error)
	ListRunningRaces(ctx context.Context) ([]*models.Race, error)
	UpsertParticipant(ctx context.Context, p models.Participant) error
	ListParticipants(ctx context.Context, raceID uint64) ([]*models.Participant, error)
}

type Publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Supervisor keeps one runner per running race. Snapshots arrive through
// HandleSnapshot on the consumer goroutine and are handed to the race's
// runner, so per-race ordering from the keyed topic carries through.
type Supervisor struct {
	repo        Repository
	producer    Publisher
	notifier    *notify.Notifier
	eventsTopic string
	settings    lifecycle.Settings

	refresh        time.Duration
	snapshotBuffer int

	mu      sync.Mutex
	ctx     context.Context
	runners map[uint64]*runner

	received        atomic.Int64
	dropped         atomic.Int64
	eventsPublished atomic.Int64
	publishFailures atomic.Int64
}

func New(repo Repository, producer Publisher, notifier *notify.Notifier, eventsTopic string, settings lifecycle.Settings) *Supervisor {
	return &Supervisor{
		repo:           repo,
		producer:       producer,
		notifier:       notifier,
		eventsTopic:    eventsTopic,
		settings:       settings,
		refresh:        defaultRefreshInterval,
		snapshotBuffer: defaultSnapshotBuffer,
		runners:        map[uint64]*runner{},
	}
}

func (s *Supervisor) WithRefreshInterval(d time.Duration) *Supervisor {
	if d > 0 {
		s.refresh = d
	}
	return s
}

func (s *Supervisor) WithSnapshotBuffer(n int) *Supervisor {
	if n > 0 {
		s.snapshotBuffer = n
	}
	return s
}

// Run refreshes the runner set from storage until the context is cancelled.
// The refresh picks up races started through the API and reconciles local
// machines with status changes made by other instances.
func (s *Supervisor) Run(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.syncRaces(ctx)

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.stopAll()
			return
		case <-ticker.C:
			s.syncRaces(ctx)
		}
	}
}

func (s *Supervisor) syncRaces(ctx context.Context) {
	races, err := s.repo.ListRunningRaces(ctx)
	if err != nil {
		slog.Error("list running races", "error", err)
		return
	}

	running := make(map[uint64]struct{}, len(races))
	for _, race := range races {
		running[race.ID] = struct{}{}

		s.mu.Lock()
		r, ok := s.runners[race.ID]
		s.mu.Unlock()

		if ok {
			r.machine.Apply(race.Status, race.CountdownEndsAt, race.DeadlineAt)
			continue
		}
		s.ensureRunner(ctx, race)
	}

	// Races that stopped appearing reached a terminal status elsewhere. The
	// stored status is driven through the machine first so the terminal
	// transition still publishes its event and fan-out, then the runner and
	// its tracking state are discarded.
	s.mu.Lock()
	var stale []*runner
	for id, r := range s.runners {
		if _, ok := running[id]; !ok {
			stale = append(stale, r)
			delete(s.runners, id)
		}
	}
	s.mu.Unlock()

	for _, r := range stale {
		race, err := s.repo.GetRaceByID(ctx, r.raceID)
		if err != nil {
			slog.Error("read status of vanished race", "raceID", r.raceID, "error", err)
		} else {
			r.machine.Apply(race.Status, race.CountdownEndsAt, race.DeadlineAt)
		}
		r.stop()
	}
}

// HandleSnapshot is the participant topic handler. A nil return commits the
// offset, so malformed and unroutable messages are logged and skipped
// rather than redelivered forever.
func (s *Supervisor) HandleSnapshot(_, value []byte) error {
	s.received.Add(1)

	var msg messages.ParticipantUpdated
	if err := json.Unmarshal(value, &msg); err != nil {
		s.dropped.Add(1)
		slog.Warn("malformed participant snapshot", "error", err)
		return nil
	}
	if msg.RaceID == 0 || msg.UserID == "" {
		s.dropped.Add(1)
		slog.Warn("incomplete participant snapshot", "raceID", msg.RaceID, "userID", msg.UserID)
		return nil
	}

	r, err := s.runnerFor(msg.RaceID)
	if err != nil {
		s.dropped.Add(1)
		slog.Warn("snapshot for unknown race", "raceID", msg.RaceID, "error", err)
		return nil
	}
	if r == nil {
		s.dropped.Add(1)
		return nil
	}

	select {
	case r.snapshots <- msg:
		return nil
	case <-r.done:
		s.dropped.Add(1)
		return nil
	}
}

// runnerFor returns the race's runner, creating one on first contact. A nil
// runner with nil error means the race is terminal and its snapshots are
// late arrivals to drop.
func (s *Supervisor) runnerFor(raceID uint64) (*runner, error) {
	s.mu.Lock()
	if r, ok := s.runners[raceID]; ok {
		s.mu.Unlock()
		return r, nil
	}
	ctx := s.runnerCtxLocked()
	s.mu.Unlock()

	race, err := s.repo.GetRaceByID(ctx, raceID)
	if err != nil {
		return nil, err
	}
	if race.Status.Terminal() {
		return nil, nil
	}
	return s.ensureRunner(ctx, race), nil
}

// ensureRunner builds the runner outside the supervisor lock; the refresh
// loop and the consumer can race here, and the loser's runner is stopped.
func (s *Supervisor) ensureRunner(ctx context.Context, race *models.Race) *runner {
	fresh := s.newRunner(ctx, race)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.runners[race.ID]; ok {
		fresh.stop()
		return existing
	}
	s.runners[race.ID] = fresh
	return fresh
}

func (s *Supervisor) runnerCtxLocked() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

func (s *Supervisor) stopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.runners {
		r.stop()
		delete(s.runners, id)
	}
}

func (s *Supervisor) RunnerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.runners)
}

type Stats struct {
	Runners         int   `json:"runners"`
	Received        int64 `json:"received"`
	Dropped         int64 `json:"dropped"`
	EventsPublished int64 `json:"eventsPublished"`
	PublishFailures int64 `json:"publishFailures"`
}

func (s *Supervisor) Stats() Stats {
	return Stats{
		Runners:         s.RunnerCount(),
		Received:        s.received.Load(),
		Dropped:         s.dropped.Load(),
		EventsPublished: s.eventsPublished.Load(),
		PublishFailures: s.publishFailures.Load(),
	}
}
