package fake

import (
	"context"

	"github.com/FleetFoot/RacePulse/internal/geo"
)

// FakeClient returns a straight three-point polyline between the endpoints.
// Used when no routing provider is configured and by tests.
type FakeClient struct{}

func New() *FakeClient { return &FakeClient{} }

func (f *FakeClient) FetchRoute(ctx context.Context, origin, destination geo.Point) ([]geo.Point, error) {
	mid := geo.Point{
		Lat: (origin.Lat + destination.Lat) / 2,
		Lon: (origin.Lon + destination.Lon) / 2,
	}
	return []geo.Point{origin, mid, destination}, nil
}
