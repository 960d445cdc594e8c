package cache

import (
	"context"
	"time"
)

// BytesCache is the minimal cache surface the services need. Implemented by
// rediscache; tests substitute an in-memory fake.
type BytesCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
