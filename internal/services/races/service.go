package races

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/FleetFoot/RacePulse/internal/broker/messages"
	"github.com/FleetFoot/RacePulse/internal/cache"
	"github.com/FleetFoot/RacePulse/internal/geo"
	"github.com/FleetFoot/RacePulse/internal/lifecycle"
	"github.com/FleetFoot/RacePulse/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateRace(ctx context.Context, in models.RaceCreateInput) (*models.Race, error)
	GetRaceByID(ctx context.Context, id uint64) (*models.Race, error)
	UpdateStatus(ctx context.Context, raceID uint64, status models.RaceStatus) error
	SetCountdownEndsAt(ctx context.Context, raceID uint64, endsAt time.Time) error
	CountParticipants(ctx context.Context, raceID uint64) (int, error)
	GetParticipant(ctx context.Context, raceID uint64, userID string) (*models.Participant, error)
	ListParticipants(ctx context.Context, raceID uint64) ([]*models.Participant, error)
	InsertRaceEvent(ctx context.Context, e *models.RaceEvent) error
	ListRaceEvents(ctx context.Context, raceID uint64, limit, offset int) ([]*models.RaceEvent, error)
	DeleteTrackingRows(ctx context.Context, raceID uint64) error
}

// RouteSource is the cached route supplier (services/routes).
type RouteSource interface {
	Route(ctx context.Context, origin, destination geo.Point) (*geo.Route, error)
}

type Service struct {
	repo   Repository
	cache  cache.BytesCache
	routes RouteSource

	raceTTL         time.Duration
	countdown       time.Duration
	minParticipants int

	now func() time.Time
}

func New(repo Repository, c cache.BytesCache, routes RouteSource, raceTTL, countdown time.Duration, minParticipants int) *Service {
	if countdown <= 0 {
		countdown = lifecycle.DefaultSettings().Countdown
	}
	if minParticipants <= 0 {
		minParticipants = lifecycle.DefaultSettings().MinParticipants
	}
	return &Service{
		repo:            repo,
		cache:           c,
		routes:          routes,
		raceTTL:         raceTTL,
		countdown:       countdown,
		minParticipants: minParticipants,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) CreateRace(ctx context.Context, in models.RaceCreateInput) (*models.Race, error) {
	if in.Title == "" {
		return nil, errors.New("title is required")
	}
	if in.OrganizerID == "" {
		return nil, errors.New("organizerId is required")
	}
	if in.DistanceM <= 0 {
		return nil, errors.New("distanceM must be positive")
	}
	switch in.Category {
	case models.RaceCategoryPublic, models.RaceCategoryPrivate:
	default:
		return nil, errors.Errorf("unknown race category %q", in.Category)
	}
	return s.repo.CreateRace(ctx, in)
}

// GetRace reads through the current-state cache; storage is the fallback.
func (s *Service) GetRace(ctx context.Context, raceID uint64) (*models.Race, error) {
	if s.cache != nil && s.raceTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, raceKey(raceID)); err == nil && ok {
			var r models.Race
			if json.Unmarshal(b, &r) == nil {
				return &r, nil
			}
		}
	}

	r, err := s.repo.GetRaceByID(ctx, raceID)
	if err != nil {
		return nil, err
	}
	s.cacheRace(ctx, r)
	return r, nil
}

// StartRace is the organizer's command: guard the participant minimum, then
// move to Starting with a persisted countdown end so every observer runs
// the same countdown.
func (s *Service) StartRace(ctx context.Context, raceID uint64, organizerID string) (*models.Race, error) {
	r, err := s.repo.GetRaceByID(ctx, raceID)
	if err != nil {
		return nil, err
	}
	if r.OrganizerID != organizerID {
		return nil, errors.New("only the race organizer can start the race")
	}

	joined, err := s.repo.CountParticipants(ctx, raceID)
	if err != nil {
		return nil, err
	}
	if err := lifecycle.ValidateStart(r.Status, joined, s.minParticipants); err != nil {
		return nil, err
	}

	endsAt := s.now().Add(s.countdown)
	if err := s.repo.SetCountdownEndsAt(ctx, raceID, endsAt); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateStatus(ctx, raceID, models.RaceStatusStarting); err != nil {
		return nil, err
	}

	s.invalidateRace(ctx, raceID)
	return s.repo.GetRaceByID(ctx, raceID)
}

// CancelRace terminates the race and discards its tracking rows. Repeating
// the command on a cancelled race is a no-op; a completed race cannot be
// cancelled.
func (s *Service) CancelRace(ctx context.Context, raceID uint64, organizerID string) error {
	r, err := s.repo.GetRaceByID(ctx, raceID)
	if err != nil {
		return err
	}
	if r.OrganizerID != organizerID {
		return errors.New("only the race organizer can cancel the race")
	}
	if r.Status == models.RaceStatusCancelled {
		return nil
	}
	if r.Status == models.RaceStatusCompleted {
		return errors.New("completed race cannot be cancelled")
	}

	if err := s.repo.UpdateStatus(ctx, raceID, models.RaceStatusCancelled); err != nil {
		return err
	}
	if err := s.repo.DeleteTrackingRows(ctx, raceID); err != nil {
		return err
	}
	s.invalidateRace(ctx, raceID)
	return nil
}

// StatusDisplay is what the UI shows in the race header.
type StatusDisplay struct {
	RaceID    uint64 `json:"raceId"`
	Status    string `json:"status"`
	StatusID  int32  `json:"statusId"`
	Countdown string `json:"countdown,omitempty"`
}

// Status returns the current status with the countdown string relevant to
// it: time to the gun while Starting, time to the deadline while Ending,
// time to the scheduled start otherwise.
func (s *Service) Status(ctx context.Context, raceID uint64) (StatusDisplay, error) {
	r, err := s.GetRace(ctx, raceID)
	if err != nil {
		return StatusDisplay{}, err
	}

	out := StatusDisplay{
		RaceID:   r.ID,
		Status:   r.Status.String(),
		StatusID: int32(r.Status),
	}

	now := s.now()
	switch {
	case r.Status == models.RaceStatusStarting && r.CountdownEndsAt != nil:
		out.Countdown = lifecycle.FormatCountdown(*r.CountdownEndsAt, now)
	case r.Status == models.RaceStatusEnding && r.DeadlineAt != nil:
		out.Countdown = lifecycle.FormatCountdown(*r.DeadlineAt, now)
	case r.ScheduledAt != nil && (r.Status == models.RaceStatusCreated || r.Status == models.RaceStatusScheduled):
		out.Countdown = lifecycle.FormatCountdown(*r.ScheduledAt, now)
	}
	return out, nil
}

// MarkerPosition places a participant's map marker: logical progress is
// normalized onto the physical polyline, then interpolated to a coordinate.
func (s *Service) MarkerPosition(ctx context.Context, raceID uint64, userID string) (geo.Point, error) {
	r, err := s.GetRace(ctx, raceID)
	if err != nil {
		return geo.Point{}, err
	}
	p, err := s.repo.GetParticipant(ctx, raceID, userID)
	if err != nil {
		return geo.Point{}, err
	}

	route, err := s.routes.Route(ctx,
		geo.Point{Lat: r.OriginLat, Lon: r.OriginLon},
		geo.Point{Lat: r.DestLat, Lon: r.DestLon})
	if err != nil {
		return geo.Point{}, err
	}

	d := geo.NormalizeProgress(p.DistanceM, r.DistanceM, route.LengthM())
	return route.PointAtDistance(d), nil
}

func (s *Service) ListRaceEvents(ctx context.Context, raceID uint64, limit, offset int) ([]*models.RaceEvent, error) {
	return s.repo.ListRaceEvents(ctx, raceID, limit, offset)
}

// ListParticipants returns the leaderboard in rank order.
func (s *Service) ListParticipants(ctx context.Context, raceID uint64) ([]*models.Participant, error) {
	return s.repo.ListParticipants(ctx, raceID)
}

// ApplyEventMessage is the Kafka consumer path: persist the event for the
// UI feed and drop the cached race state, which the next read refreshes.
func (s *Service) ApplyEventMessage(ctx context.Context, msg messages.RaceEventMessage) error {
	if msg.RaceID == 0 {
		return errors.New("race_id is required")
	}
	if msg.Kind == "" {
		return errors.New("kind is required")
	}
	if msg.OccurredAt.IsZero() {
		msg.OccurredAt = s.now()
	}

	err := s.repo.InsertRaceEvent(ctx, &models.RaceEvent{
		RaceID:      msg.RaceID,
		Kind:        msg.Kind,
		UserID:      msg.UserID,
		OtherUserID: msg.OtherUserID,
		Rank:        msg.Rank,
		OldRank:     msg.OldRank,
		Milestone:   msg.Milestone,
		Ordinal:     msg.Ordinal,
		OccurredAt:  msg.OccurredAt,
	})
	if err != nil {
		return err
	}

	s.invalidateRace(ctx, msg.RaceID)
	return nil
}

func (s *Service) cacheRace(ctx context.Context, r *models.Race) {
	if s.cache == nil || s.raceTTL <= 0 {
		return
	}
	b, _ := json.Marshal(r)
	_ = s.cache.Set(ctx, raceKey(r.ID), b, s.raceTTL)
}

func (s *Service) invalidateRace(ctx context.Context, raceID uint64) {
	if s.cache == nil || s.raceTTL <= 0 {
		return
	}
	_ = s.cache.Delete(ctx, raceKey(raceID))
}

func raceKey(id uint64) string {
	return fmt.Sprintf("race:%d:current", id)
}
