package lifecycle

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/FleetFoot/RacePulse/internal/models"
	"github.com/pkg/errors"
)

var (
	// ErrInsufficientParticipants rejects a start command below the
	// configured minimum. User-visible, non-fatal.
	ErrInsufficientParticipants = errors.New("insufficient participants to start race")

	// ErrConcurrentTransitionConflict means the stored status moved under
	// us; the local optimistic transition has been rolled back.
	ErrConcurrentTransitionConflict = errors.New("concurrent race status transition")
)

// Repository is the slice of storage the machine needs. UpdateStatusCAS must
// only succeed while the stored status still equals from.
type Repository interface {
	UpdateStatus(ctx context.Context, raceID uint64, status models.RaceStatus) error
	UpdateStatusCAS(ctx context.Context, raceID uint64, from, to models.RaceStatus) (bool, error)
	SetDeadline(ctx context.Context, raceID uint64, deadline time.Time) error
	GetStatus(ctx context.Context, raceID uint64) (models.RaceStatus, error)
}

type Settings struct {
	Countdown       time.Duration
	GraceWindow     time.Duration
	MinParticipants int
}

func DefaultSettings() Settings {
	return Settings{
		Countdown:       10 * time.Second,
		GraceWindow:     5 * time.Minute,
		MinParticipants: 3,
	}
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.Countdown <= 0 {
		s.Countdown = def.Countdown
	}
	if s.GraceWindow <= 0 {
		s.GraceWindow = def.GraceWindow
	}
	if s.MinParticipants <= 0 {
		s.MinParticipants = def.MinParticipants
	}
	return s
}

// ValidateStart guards the organizer's start command. Shared by the API
// service, which applies the command against storage before any worker
// machine exists for the race.
func ValidateStart(status models.RaceStatus, participants, minParticipants int) error {
	if status != models.RaceStatusCreated && status != models.RaceStatusScheduled {
		return errors.Errorf("race cannot start from status %s", status)
	}
	if minParticipants <= 0 {
		minParticipants = DefaultSettings().MinParticipants
	}
	if participants < minParticipants {
		return errors.Wrapf(ErrInsufficientParticipants, "%d of %d joined", participants, minParticipants)
	}
	return nil
}

// progression orders the forward path. Cancelled sits outside it and is
// reachable from anything before Completed.
func progression(s models.RaceStatus) int {
	switch s {
	case models.RaceStatusCreated:
		return 0
	case models.RaceStatusScheduled:
		return 1
	case models.RaceStatusStarting:
		return 2
	case models.RaceStatusActive:
		return 3
	case models.RaceStatusEnding:
		return 4
	case models.RaceStatusCompleted:
		return 5
	}
	return -1
}

// Machine owns one race's lifecycle. Transitions arrive from the race
// runner, from external status syncs, and from its own timers, so internal
// state is mutex-guarded. Both timers are cancellable; cancelling the race
// or superseding a transition invalidates them instead of letting a stale
// flip fire.
type Machine struct {
	raceID uint64
	repo   Repository
	cfg    Settings

	mu       sync.Mutex
	status   models.RaceStatus
	deadline *time.Time

	countdownTimer *time.Timer
	deadlineTimer  *time.Timer

	// onTransition is invoked outside the lock after every applied
	// transition, in order.
	onTransition func(from, to models.RaceStatus)

	now func() time.Time
}

func NewMachine(raceID uint64, status models.RaceStatus, repo Repository, cfg Settings) *Machine {
	return &Machine{
		raceID: raceID,
		repo:   repo,
		cfg:    cfg.withDefaults(),
		status: status,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

func (m *Machine) OnTransition(fn func(from, to models.RaceStatus)) *Machine {
	m.onTransition = fn
	return m
}

func (m *Machine) Status() models.RaceStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Machine) Deadline() *time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deadline
}

// Apply syncs an externally observed status (storage poll, API command).
// Repeats of the current status are no-ops; backward or illegal moves are
// logged and ignored, never fatal. countdownEndsAt / deadlineAt re-arm the
// corresponding timer when entering Starting / Ending.
func (m *Machine) Apply(status models.RaceStatus, countdownEndsAt, deadlineAt *time.Time) {
	m.mu.Lock()
	if status == m.status {
		m.mu.Unlock()
		return
	}
	if status == models.RaceStatusCancelled {
		m.mu.Unlock()
		m.Cancel()
		return
	}
	if progression(status) < 0 || progression(status) <= progression(m.status) || m.status.Terminal() {
		slog.Warn("ignoring illegal race transition",
			"race_id", m.raceID, "from", m.status.String(), "to", status.String())
		m.mu.Unlock()
		return
	}

	from := m.status
	m.status = status
	m.stopTimersLocked()

	switch status {
	case models.RaceStatusStarting:
		ends := m.now().Add(m.cfg.Countdown)
		if countdownEndsAt != nil {
			ends = *countdownEndsAt
		}
		m.armCountdownLocked(ends)
	case models.RaceStatusEnding:
		dl := m.now().Add(m.cfg.GraceWindow)
		if deadlineAt != nil {
			dl = *deadlineAt
		}
		m.deadline = &dl
		m.armDeadlineLocked(dl)
	}
	m.mu.Unlock()

	m.notify(from, status)
}

// FirstFinisher arms the completion deadline: Active -> Ending, with the
// grace window persisted so other observers see the same deadline.
func (m *Machine) FirstFinisher(ctx context.Context) error {
	m.mu.Lock()
	if m.status != models.RaceStatusActive {
		slog.Warn("first finisher outside active race",
			"race_id", m.raceID, "status", m.status.String())
		m.mu.Unlock()
		return nil
	}
	from := m.status
	m.status = models.RaceStatusEnding
	dl := m.now().Add(m.cfg.GraceWindow)
	m.deadline = &dl
	m.armDeadlineLocked(dl)
	m.mu.Unlock()

	if err := m.repo.SetDeadline(ctx, m.raceID, dl); err != nil {
		return errors.Wrap(err, "persist race deadline")
	}
	if err := m.repo.UpdateStatus(ctx, m.raceID, models.RaceStatusEnding); err != nil {
		return errors.Wrap(err, "persist ending status")
	}
	m.notify(from, models.RaceStatusEnding)
	return nil
}

// Cancel terminates the race from any pre-completed state, halting both
// timers. Safe to call repeatedly.
func (m *Machine) Cancel() {
	m.mu.Lock()
	if m.status.Terminal() {
		m.mu.Unlock()
		return
	}
	from := m.status
	m.status = models.RaceStatusCancelled
	m.stopTimersLocked()
	m.mu.Unlock()

	m.notify(from, models.RaceStatusCancelled)
}

// Resume arms the timer matching the current status without emitting a
// transition. Used when a machine is rebuilt for a race already in flight,
// where the countdown end or deadline was persisted before the rebuild.
func (m *Machine) Resume(countdownEndsAt, deadlineAt *time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.status {
	case models.RaceStatusStarting:
		ends := m.now().Add(m.cfg.Countdown)
		if countdownEndsAt != nil {
			ends = *countdownEndsAt
		}
		m.armCountdownLocked(ends)
	case models.RaceStatusEnding:
		dl := m.now().Add(m.cfg.GraceWindow)
		if deadlineAt != nil {
			dl = *deadlineAt
		}
		m.deadline = &dl
		m.armDeadlineLocked(dl)
	}
}

// Stop halts the timers without a transition (worker shutdown).
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopTimersLocked()
}

func (m *Machine) armCountdownLocked(endsAt time.Time) {
	d := endsAt.Sub(m.now())
	if d < 0 {
		d = 0
	}
	m.countdownTimer = time.AfterFunc(d, m.countdownExpired)
}

func (m *Machine) armDeadlineLocked(deadline time.Time) {
	d := deadline.Sub(m.now())
	if d < 0 {
		d = 0
	}
	m.deadlineTimer = time.AfterFunc(d, m.deadlineExpired)
}

func (m *Machine) stopTimersLocked() {
	if m.countdownTimer != nil {
		m.countdownTimer.Stop()
		m.countdownTimer = nil
	}
	if m.deadlineTimer != nil {
		m.deadlineTimer.Stop()
		m.deadlineTimer = nil
	}
}

// countdownExpired flips Starting -> Active. The flip is local-first: the
// race goes live immediately, the persisting write follows.
func (m *Machine) countdownExpired() {
	m.mu.Lock()
	if m.status != models.RaceStatusStarting {
		m.mu.Unlock()
		return
	}
	from := m.status
	m.status = models.RaceStatusActive
	m.countdownTimer = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.repo.UpdateStatus(ctx, m.raceID, models.RaceStatusActive); err != nil {
		slog.Error("persist active status", "race_id", m.raceID, "error", err.Error())
	}
	m.notify(from, models.RaceStatusActive)
}

// deadlineExpired drives Ending -> Completed under the optimistic-then-
// confirmed protocol: flip locally for responsiveness, then CAS against
// storage. A CAS miss means another observer completed (or cancelled) the
// race first; the local flip is rolled back and a corrective re-read is
// scheduled.
func (m *Machine) deadlineExpired() {
	m.mu.Lock()
	if m.status != models.RaceStatusEnding {
		m.mu.Unlock()
		return
	}
	from := m.status
	m.status = models.RaceStatusCompleted
	m.deadlineTimer = nil
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ok, err := m.repo.UpdateStatusCAS(ctx, m.raceID, models.RaceStatusEnding, models.RaceStatusCompleted)
	if err != nil {
		slog.Error("complete race", "race_id", m.raceID, "error", err.Error())
	}
	if err != nil || !ok {
		m.mu.Lock()
		if m.status == models.RaceStatusCompleted {
			m.status = from
		}
		m.mu.Unlock()
		slog.Warn("race completion rolled back",
			"race_id", m.raceID, "error", ErrConcurrentTransitionConflict.Error())
		m.scheduleCorrectiveRead()
		return
	}
	m.notify(from, models.RaceStatusCompleted)
}

// scheduleCorrectiveRead re-reads the stored status shortly after a CAS
// conflict and syncs to whatever the winner wrote.
func (m *Machine) scheduleCorrectiveRead() {
	time.AfterFunc(time.Second, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		status, err := m.repo.GetStatus(ctx, m.raceID)
		if err != nil {
			slog.Error("corrective status read", "race_id", m.raceID, "error", err.Error())
			return
		}
		m.Apply(status, nil, nil)
	})
}

func (m *Machine) notify(from, to models.RaceStatus) {
	if m.onTransition != nil {
		m.onTransition(from, to)
	}
}
