package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/FleetFoot/RacePulse/internal/cache"
	"github.com/FleetFoot/RacePulse/internal/geo"
	"github.com/FleetFoot/RacePulse/internal/integrations/routing"
	"github.com/pkg/errors"
)

const defaultTTL = 24 * time.Hour

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Service supplies route polylines, caching them per (origin, destination)
// so repeated marker queries for one course do not hit the provider again.
type Service struct {
	client routing.Client
	cache  cache.BytesCache
	rl     RateLimiter

	ttl         time.Duration
	rlPerMinute int64
}

func New(client routing.Client, c cache.BytesCache, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Service{client: client, cache: c, ttl: ttl}
}

// WithRateLimiter bounds provider calls per minute across the process.
func (s *Service) WithRateLimiter(rl RateLimiter, perMinute int64) *Service {
	s.rl = rl
	s.rlPerMinute = perMinute
	return s
}

func (s *Service) Route(ctx context.Context, origin, destination geo.Point) (*geo.Route, error) {
	key := routeKey(origin, destination)

	if s.cache != nil {
		if b, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var pts []geo.Point
			if json.Unmarshal(b, &pts) == nil {
				if r, err := geo.NewRoute(pts); err == nil {
					return r, nil
				}
			}
			// Unreadable cache entries fall through to a refetch.
		}
	}

	if s.rl != nil && s.rlPerMinute > 0 {
		minuteKey := fmt.Sprintf("rl:routing:%s", time.Now().UTC().Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, minuteKey, s.rlPerMinute, 70*time.Second)
		if err != nil {
			slog.Warn("routing rate limiter unavailable", "error", err.Error())
		} else if !allowed {
			slog.Warn("routing provider rate limit exceeded", "count", n)
			return nil, errors.Wrap(routing.ErrRouteUnavailable, "provider call budget exhausted")
		}
	}

	pts, err := s.client.FetchRoute(ctx, origin, destination)
	if err != nil {
		return nil, errors.Wrap(err, "fetch route")
	}

	r, err := geo.NewRoute(pts)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		b, _ := json.Marshal(pts)
		if err := s.cache.Set(ctx, key, b, s.ttl); err != nil {
			slog.Warn("route cache set failed", "error", err.Error())
		}
	}
	return r, nil
}

// routeKey rounds to ~1m precision so jittery endpoint coordinates share a
// cache entry.
func routeKey(origin, destination geo.Point) string {
	return fmt.Sprintf("route:%.5f,%.5f:%.5f,%.5f",
		origin.Lat, origin.Lon, destination.Lat, destination.Lon)
}
