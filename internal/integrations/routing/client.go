package routing

import (
	"context"

	"github.com/FleetFoot/RacePulse/internal/geo"
	"github.com/pkg/errors"
)

// ErrRouteUnavailable wraps provider failures and timeouts. Callers retry
// later; there is no local fallback geometry.
var ErrRouteUnavailable = errors.New("route unavailable")

// Client fetches a walkable polyline between two coordinates from the
// external routing provider.
type Client interface {
	FetchRoute(ctx context.Context, origin, destination geo.Point) ([]geo.Point, error)
}
