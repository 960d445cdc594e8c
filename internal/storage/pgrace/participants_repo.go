package pgrace

import (
	"context"

	"github.com/FleetFoot/RacePulse/internal/models"
	"github.com/pkg/errors"
)

// UpsertParticipant applies one snapshot. The guard in the UPDATE arm keeps
// stale (backwards-distance) snapshots out of storage; the detector applies
// the same rule to its in-memory state.
func (s *Storage) UpsertParticipant(ctx context.Context, p models.Participant) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO participants (
  race_id, user_id, distance_m, remaining_m, rank, is_completed, steps, speed_mps, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
ON CONFLICT (race_id, user_id)
DO UPDATE SET
  distance_m = EXCLUDED.distance_m,
  remaining_m = EXCLUDED.remaining_m,
  rank = EXCLUDED.rank,
  is_completed = EXCLUDED.is_completed,
  steps = EXCLUDED.steps,
  speed_mps = EXCLUDED.speed_mps,
  updated_at = EXCLUDED.updated_at
WHERE participants.distance_m <= EXCLUDED.distance_m
`, p.RaceID, p.UserID, p.DistanceM, p.RemainingM, p.Rank, p.IsCompleted,
		p.Steps, p.SpeedMPS, p.UpdatedAt.UTC())
	return errors.Wrap(err, "upsert participant")
}

func (s *Storage) ListParticipants(ctx context.Context, raceID uint64) ([]*models.Participant, error) {
	rows, err := s.db.Query(ctx, `
SELECT race_id, user_id, distance_m, remaining_m, rank, is_completed, steps, speed_mps, updated_at
FROM participants
WHERE race_id = $1
ORDER BY rank, user_id
`, raceID)
	if err != nil {
		return nil, errors.Wrap(err, "select participants")
	}
	defer rows.Close()

	var out []*models.Participant
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(
			&p.RaceID, &p.UserID, &p.DistanceM, &p.RemainingM,
			&p.Rank, &p.IsCompleted, &p.Steps, &p.SpeedMPS, &p.UpdatedAt,
		); err != nil {
			return nil, errors.Wrap(err, "scan participant")
		}
		out = append(out, &p)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) GetParticipant(ctx context.Context, raceID uint64, userID string) (*models.Participant, error) {
	var p models.Participant
	err := s.db.QueryRow(ctx, `
SELECT race_id, user_id, distance_m, remaining_m, rank, is_completed, steps, speed_mps, updated_at
FROM participants
WHERE race_id = $1 AND user_id = $2
`, raceID, userID).Scan(
		&p.RaceID, &p.UserID, &p.DistanceM, &p.RemainingM,
		&p.Rank, &p.IsCompleted, &p.Steps, &p.SpeedMPS, &p.UpdatedAt,
	)
	if err != nil {
		return nil, errors.Wrap(err, "select participant")
	}
	return &p, nil
}

func (s *Storage) CountParticipants(ctx context.Context, raceID uint64) (int, error) {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM participants WHERE race_id = $1`, raceID).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "count participants")
	}
	return n, nil
}
