package routes

import (
	"context"
	"testing"
	"time"

	"github.com/FleetFoot/RacePulse/internal/cache/rediscache"
	"github.com/FleetFoot/RacePulse/internal/geo"
	"github.com/FleetFoot/RacePulse/internal/integrations/routing"
	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

type countingClient struct {
	calls int
	pts   []geo.Point
	err   error
}

func (c *countingClient) FetchRoute(ctx context.Context, origin, destination geo.Point) ([]geo.Point, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return c.pts, nil
}

func TestService_Route_CachesPolyline(t *testing.T) {
	mr := miniredis.RunT(t)
	cl := &countingClient{pts: []geo.Point{{Lat: 55.75, Lon: 37.61}, {Lat: 55.76, Lon: 37.62}}}
	s := New(cl, rediscache.New(mr.Addr()), time.Hour)

	o, d := geo.Point{Lat: 55.75, Lon: 37.61}, geo.Point{Lat: 55.76, Lon: 37.62}

	r1, err := s.Route(context.Background(), o, d)
	require.NoError(t, err)
	r2, err := s.Route(context.Background(), o, d)
	require.NoError(t, err)

	require.Equal(t, 1, cl.calls)
	require.Equal(t, r1.LengthM(), r2.LengthM())
	require.Equal(t, r1.Points(), r2.Points())
}

func TestService_Route_ProviderFailure(t *testing.T) {
	cl := &countingClient{err: errors.Wrap(routing.ErrRouteUnavailable, "timeout")}
	s := New(cl, nil, 0)

	_, err := s.Route(context.Background(), geo.Point{}, geo.Point{Lat: 1})
	require.ErrorIs(t, err, routing.ErrRouteUnavailable)
}

func TestService_Route_RateLimited(t *testing.T) {
	mr := miniredis.RunT(t)
	cl := &countingClient{pts: []geo.Point{{Lat: 1}, {Lat: 2}}}
	s := New(cl, nil, 0).WithRateLimiter(rediscache.NewRateLimiter(mr.Addr()), 1)

	_, err := s.Route(context.Background(), geo.Point{}, geo.Point{Lat: 1})
	require.NoError(t, err)

	// Second uncached call in the same minute exceeds the budget.
	_, err = s.Route(context.Background(), geo.Point{}, geo.Point{Lat: 2})
	require.ErrorIs(t, err, routing.ErrRouteUnavailable)
	require.Equal(t, 1, cl.calls)
}
