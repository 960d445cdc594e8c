package pgrace

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS races (
  id BIGSERIAL PRIMARY KEY,
  title TEXT NOT NULL,
  status_id INT NOT NULL DEFAULT 0,
  category TEXT NOT NULL,
  organizer_id TEXT NOT NULL,
  distance_m DOUBLE PRECISION NOT NULL,
  origin_lat DOUBLE PRECISION NOT NULL,
  origin_lon DOUBLE PRECISION NOT NULL,
  dest_lat DOUBLE PRECISION NOT NULL,
  dest_lon DOUBLE PRECISION NOT NULL,
  scheduled_at TIMESTAMPTZ NULL,
  countdown_ends_at TIMESTAMPTZ NULL,
  deadline_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_races_status_id ON races(status_id)`,
		`
CREATE TABLE IF NOT EXISTS participants (
  race_id BIGINT NOT NULL REFERENCES races(id) ON DELETE CASCADE,
  user_id TEXT NOT NULL,
  distance_m DOUBLE PRECISION NOT NULL DEFAULT 0,
  remaining_m DOUBLE PRECISION NOT NULL DEFAULT 0,
  rank INT NOT NULL DEFAULT 0,
  is_completed BOOLEAN NOT NULL DEFAULT FALSE,
  steps BIGINT NOT NULL DEFAULT 0,
  speed_mps DOUBLE PRECISION NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (race_id, user_id)
)`,
		`
CREATE TABLE IF NOT EXISTS race_events (
  id BIGSERIAL PRIMARY KEY,
  race_id BIGINT NOT NULL REFERENCES races(id) ON DELETE CASCADE,
  kind TEXT NOT NULL,
  user_id TEXT NOT NULL DEFAULT '',
  other_user_id TEXT NULL,
  rank INT NOT NULL DEFAULT 0,
  old_rank INT NOT NULL DEFAULT 0,
  milestone INT NOT NULL DEFAULT 0,
  ordinal INT NOT NULL DEFAULT 0,
  occurred_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_race_events_race_id_occurred_at ON race_events(race_id, occurred_at DESC)`,
		// Feed-level guard: redelivered event messages collapse into one
		// row. Every kind is once-per-participant except milestones, which
		// are once per threshold.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_race_events_dedup ON race_events(race_id, kind, user_id, milestone)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
