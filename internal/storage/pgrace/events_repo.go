package pgrace

import (
	"context"

	"github.com/FleetFoot/RacePulse/internal/models"
	"github.com/pkg/errors"
)

// InsertRaceEvent appends one event to the feed. The dedup index absorbs
// redelivered messages, so inserting the same transition twice is a no-op.
func (s *Storage) InsertRaceEvent(ctx context.Context, e *models.RaceEvent) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO race_events (
  race_id, kind, user_id, other_user_id, rank, old_rank, milestone, ordinal, occurred_at, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
ON CONFLICT (race_id, kind, user_id, milestone) DO NOTHING
`, e.RaceID, e.Kind, e.UserID, e.OtherUserID, e.Rank, e.OldRank, e.Milestone, e.Ordinal, e.OccurredAt.UTC())
	return errors.Wrap(err, "insert race event")
}

func (s *Storage) ListRaceEvents(ctx context.Context, raceID uint64, limit, offset int) ([]*models.RaceEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(ctx, `
SELECT id, race_id, kind, user_id, other_user_id, rank, old_rank, milestone, ordinal, occurred_at, created_at
FROM race_events
WHERE race_id = $1
ORDER BY occurred_at DESC, id DESC
LIMIT $2 OFFSET $3
`, raceID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "select events")
	}
	defer rows.Close()

	var out []*models.RaceEvent
	for rows.Next() {
		var e models.RaceEvent
		if err := rows.Scan(
			&e.ID, &e.RaceID, &e.Kind, &e.UserID, &e.OtherUserID,
			&e.Rank, &e.OldRank, &e.Milestone, &e.Ordinal,
			&e.OccurredAt, &e.CreatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		out = append(out, &e)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// DeleteTrackingRows clears participant and event rows for a terminated
// race. Called when a race is cancelled and its tracking state is discarded.
func (s *Storage) DeleteTrackingRows(ctx context.Context, raceID uint64) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM race_events WHERE race_id = $1`, raceID); err != nil {
		return errors.Wrap(err, "delete race events")
	}
	if _, err := s.db.Exec(ctx, `DELETE FROM participants WHERE race_id = $1`, raceID); err != nil {
		return errors.Wrap(err, "delete participants")
	}
	return nil
}
