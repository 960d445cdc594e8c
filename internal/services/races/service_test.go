package races

import (
	"context"
	"testing"
	"time"

	"github.com/FleetFoot/RacePulse/internal/broker/messages"
	"github.com/FleetFoot/RacePulse/internal/cache/rediscache"
	"github.com/FleetFoot/RacePulse/internal/geo"
	"github.com/FleetFoot/RacePulse/internal/models"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type fakeRepo struct {
	races        map[uint64]*models.Race
	participants map[string]*models.Participant
	events       []*models.RaceEvent

	participantCount int
	getRaceCalls     int
	deletedTracking  []uint64
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		races:        map[uint64]*models.Race{},
		participants: map[string]*models.Participant{},
	}
}

func (f *fakeRepo) CreateRace(_ context.Context, in models.RaceCreateInput) (*models.Race, error) {
	r := &models.Race{
		ID:          uint64(len(f.races) + 1),
		Title:       in.Title,
		Status:      models.RaceStatusCreated,
		Category:    in.Category,
		OrganizerID: in.OrganizerID,
		DistanceM:   in.DistanceM,
		OriginLat:   in.OriginLat,
		OriginLon:   in.OriginLon,
		DestLat:     in.DestLat,
		DestLon:     in.DestLon,
		ScheduledAt: in.ScheduledAt,
	}
	f.races[r.ID] = r
	return r, nil
}

func (f *fakeRepo) GetRaceByID(_ context.Context, id uint64) (*models.Race, error) {
	f.getRaceCalls++
	r, ok := f.races[id]
	if !ok {
		return nil, errors.New("race not found")
	}
	cp := *r
	return &cp, nil
}

func (f *fakeRepo) UpdateStatus(_ context.Context, raceID uint64, status models.RaceStatus) error {
	f.races[raceID].Status = status
	return nil
}

func (f *fakeRepo) SetCountdownEndsAt(_ context.Context, raceID uint64, endsAt time.Time) error {
	f.races[raceID].CountdownEndsAt = &endsAt
	return nil
}

func (f *fakeRepo) CountParticipants(_ context.Context, _ uint64) (int, error) {
	return f.participantCount, nil
}

func (f *fakeRepo) GetParticipant(_ context.Context, _ uint64, userID string) (*models.Participant, error) {
	p, ok := f.participants[userID]
	if !ok {
		return nil, errors.New("participant not found")
	}
	return p, nil
}

func (f *fakeRepo) ListParticipants(_ context.Context, _ uint64) ([]*models.Participant, error) {
	var out []*models.Participant
	for _, p := range f.participants {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeRepo) InsertRaceEvent(_ context.Context, e *models.RaceEvent) error {
	f.events = append(f.events, e)
	return nil
}

func (f *fakeRepo) ListRaceEvents(_ context.Context, _ uint64, _, _ int) ([]*models.RaceEvent, error) {
	return f.events, nil
}

func (f *fakeRepo) DeleteTrackingRows(_ context.Context, raceID uint64) error {
	f.deletedTracking = append(f.deletedTracking, raceID)
	return nil
}

type fakeRoutes struct {
	route *geo.Route
}

func (f *fakeRoutes) Route(_ context.Context, _, _ geo.Point) (*geo.Route, error) {
	return f.route, nil
}

func newTestCache(t *testing.T) *rediscache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	return rediscache.New(mr.Addr())
}

func createInput() models.RaceCreateInput {
	return models.RaceCreateInput{
		Title:       "Sunday 5K",
		Category:    models.RaceCategoryPrivate,
		OrganizerID: "org-1",
		DistanceM:   5000,
		OriginLat:   52.52, OriginLon: 13.405,
		DestLat: 52.53, DestLon: 13.42,
	}
}

func TestCreateRaceValidation(t *testing.T) {
	svc := New(newFakeRepo(), nil, nil, 0, 10*time.Second, 3)

	for _, tc := range []struct {
		name   string
		mutate func(*models.RaceCreateInput)
	}{
		{"empty title", func(in *models.RaceCreateInput) { in.Title = "" }},
		{"empty organizer", func(in *models.RaceCreateInput) { in.OrganizerID = "" }},
		{"zero distance", func(in *models.RaceCreateInput) { in.DistanceM = 0 }},
		{"bad category", func(in *models.RaceCreateInput) { in.Category = "FRIENDS_ONLY" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			in := createInput()
			tc.mutate(&in)
			_, err := svc.CreateRace(context.Background(), in)
			require.Error(t, err)
		})
	}

	r, err := svc.CreateRace(context.Background(), createInput())
	require.NoError(t, err)
	require.Equal(t, models.RaceStatusCreated, r.Status)
}

func TestGetRaceUsesCache(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, newTestCache(t), nil, time.Minute, 10*time.Second, 3)

	r, err := svc.CreateRace(context.Background(), createInput())
	require.NoError(t, err)

	_, err = svc.GetRace(context.Background(), r.ID)
	require.NoError(t, err)
	_, err = svc.GetRace(context.Background(), r.ID)
	require.NoError(t, err)

	require.Equal(t, 1, repo.getRaceCalls)
}

func TestStartRace(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	svc := New(repo, newTestCache(t), nil, time.Minute, 10*time.Second, 3).
		WithClock(func() time.Time { return now })

	r, err := svc.CreateRace(context.Background(), createInput())
	require.NoError(t, err)

	_, err = svc.StartRace(context.Background(), r.ID, "somebody-else")
	require.Error(t, err)

	repo.participantCount = 2
	_, err = svc.StartRace(context.Background(), r.ID, "org-1")
	require.Error(t, err, "below the participant minimum")

	repo.participantCount = 3
	started, err := svc.StartRace(context.Background(), r.ID, "org-1")
	require.NoError(t, err)
	require.Equal(t, models.RaceStatusStarting, started.Status)
	require.NotNil(t, started.CountdownEndsAt)
	require.Equal(t, now.Add(10*time.Second), *started.CountdownEndsAt)

	// Starting again is rejected by the shared start guard.
	_, err = svc.StartRace(context.Background(), r.ID, "org-1")
	require.Error(t, err)
}

func TestCancelRace(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, newTestCache(t), nil, time.Minute, 10*time.Second, 3)

	r, err := svc.CreateRace(context.Background(), createInput())
	require.NoError(t, err)

	require.NoError(t, svc.CancelRace(context.Background(), r.ID, "org-1"))
	require.Equal(t, models.RaceStatusCancelled, repo.races[r.ID].Status)
	require.Equal(t, []uint64{r.ID}, repo.deletedTracking)

	// Idempotent; tracking rows are not deleted twice.
	require.NoError(t, svc.CancelRace(context.Background(), r.ID, "org-1"))
	require.Len(t, repo.deletedTracking, 1)

	repo.races[r.ID].Status = models.RaceStatusCompleted
	require.Error(t, svc.CancelRace(context.Background(), r.ID, "org-1"))
}

func TestStatusCountdown(t *testing.T) {
	repo := newFakeRepo()
	now := time.Date(2026, 5, 10, 9, 0, 0, 0, time.UTC)
	svc := New(repo, nil, nil, 0, 10*time.Second, 3).
		WithClock(func() time.Time { return now })

	r, err := svc.CreateRace(context.Background(), createInput())
	require.NoError(t, err)

	endsAt := now.Add(7 * time.Second)
	repo.races[r.ID].Status = models.RaceStatusStarting
	repo.races[r.ID].CountdownEndsAt = &endsAt

	st, err := svc.Status(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, "STARTING", st.Status)
	require.Equal(t, "00:07", st.Countdown)

	deadline := now.Add(5 * time.Minute)
	repo.races[r.ID].Status = models.RaceStatusEnding
	repo.races[r.ID].DeadlineAt = &deadline

	st, err = svc.Status(context.Background(), r.ID)
	require.NoError(t, err)
	require.Equal(t, "05:00", st.Countdown)

	repo.races[r.ID].Status = models.RaceStatusActive
	st, err = svc.Status(context.Background(), r.ID)
	require.NoError(t, err)
	require.Empty(t, st.Countdown)
}

func TestMarkerPosition(t *testing.T) {
	repo := newFakeRepo()
	route, err := geo.NewRoute([]geo.Point{
		{Lat: 52.520, Lon: 13.405},
		{Lat: 52.530, Lon: 13.405},
	})
	require.NoError(t, err)
	svc := New(repo, nil, &fakeRoutes{route: route}, 0, 10*time.Second, 3)

	r, err := svc.CreateRace(context.Background(), createInput())
	require.NoError(t, err)

	// Logical distance is 5000m but the polyline is ~1112m long; half the
	// logical distance lands at the polyline midpoint.
	repo.participants["runner-1"] = &models.Participant{
		RaceID: r.ID, UserID: "runner-1", DistanceM: 2500,
	}

	pos, err := svc.MarkerPosition(context.Background(), r.ID, "runner-1")
	require.NoError(t, err)
	require.InDelta(t, 52.525, pos.Lat, 1e-4)
	require.InDelta(t, 13.405, pos.Lon, 1e-9)
}

func TestApplyEventMessage(t *testing.T) {
	repo := newFakeRepo()
	svc := New(repo, newTestCache(t), nil, time.Minute, 10*time.Second, 3)

	r, err := svc.CreateRace(context.Background(), createInput())
	require.NoError(t, err)

	require.Error(t, svc.ApplyEventMessage(context.Background(), messages.RaceEventMessage{Kind: models.EventKindOvertake}))
	require.Error(t, svc.ApplyEventMessage(context.Background(), messages.RaceEventMessage{RaceID: r.ID}))

	other := "runner-2"
	err = svc.ApplyEventMessage(context.Background(), messages.RaceEventMessage{
		RaceID:      r.ID,
		Kind:        models.EventKindOvertake,
		UserID:      "runner-1",
		OtherUserID: &other,
		Rank:        2,
		OldRank:     3,
		OccurredAt:  time.Now(),
	})
	require.NoError(t, err)

	got, err := svc.ListRaceEvents(context.Background(), r.ID, 50, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, models.EventKindOvertake, got[0].Kind)
	require.Equal(t, &other, got[0].OtherUserID)
}
