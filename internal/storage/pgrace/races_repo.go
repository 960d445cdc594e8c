package pgrace

import (
	"context"
	"time"

	"github.com/FleetFoot/RacePulse/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

var ErrRaceNotFound = errors.New("race not found")

const raceColumns = `
  id, title, status_id, category, organizer_id, distance_m,
  origin_lat, origin_lon, dest_lat, dest_lon,
  scheduled_at, countdown_ends_at, deadline_at,
  created_at, updated_at`

func (s *Storage) CreateRace(ctx context.Context, in models.RaceCreateInput) (*models.Race, error) {
	now := time.Now().UTC()

	var id uint64
	err := s.db.QueryRow(ctx, `
INSERT INTO races (
  title, status_id, category, organizer_id, distance_m,
  origin_lat, origin_lon, dest_lat, dest_lon,
  scheduled_at, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
RETURNING id
`, in.Title, int32(models.RaceStatusCreated), in.Category, in.OrganizerID, in.DistanceM,
		in.OriginLat, in.OriginLon, in.DestLat, in.DestLon,
		in.ScheduledAt, now).Scan(&id)
	if err != nil {
		return nil, errors.Wrap(err, "insert race")
	}

	return s.GetRaceByID(ctx, id)
}

func (s *Storage) GetRaceByID(ctx context.Context, id uint64) (*models.Race, error) {
	row := s.db.QueryRow(ctx, `SELECT`+raceColumns+` FROM races WHERE id = $1`, id)
	r, err := scanRace(row)
	if err == pgx.ErrNoRows {
		return nil, ErrRaceNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "select race")
	}
	return r, nil
}

// ListRunningRaces returns races the worker must supervise: anything past
// Created and not yet terminal.
func (s *Storage) ListRunningRaces(ctx context.Context) ([]*models.Race, error) {
	rows, err := s.db.Query(ctx, `
SELECT`+raceColumns+`
FROM races
WHERE status_id IN ($1, $2, $3, $4)
ORDER BY id
`, int32(models.RaceStatusScheduled), int32(models.RaceStatusStarting),
		int32(models.RaceStatusActive), int32(models.RaceStatusEnding))
	if err != nil {
		return nil, errors.Wrap(err, "select running races")
	}
	defer rows.Close()

	var out []*models.Race
	for rows.Next() {
		r, err := scanRace(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan race")
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) UpdateStatus(ctx context.Context, raceID uint64, status models.RaceStatus) error {
	_, err := s.db.Exec(ctx,
		`UPDATE races SET status_id = $2, updated_at = now() WHERE id = $1`,
		raceID, int32(status))
	return errors.Wrap(err, "update race status")
}

// UpdateStatusCAS flips the status only while the stored value still equals
// from. The affected-row count is the whole protocol: zero means another
// observer moved first.
func (s *Storage) UpdateStatusCAS(ctx context.Context, raceID uint64, from, to models.RaceStatus) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE races SET status_id = $3, updated_at = now() WHERE id = $1 AND status_id = $2`,
		raceID, int32(from), int32(to))
	if err != nil {
		return false, errors.Wrap(err, "cas race status")
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Storage) GetStatus(ctx context.Context, raceID uint64) (models.RaceStatus, error) {
	var st int32
	err := s.db.QueryRow(ctx, `SELECT status_id FROM races WHERE id = $1`, raceID).Scan(&st)
	if err == pgx.ErrNoRows {
		return 0, ErrRaceNotFound
	}
	if err != nil {
		return 0, errors.Wrap(err, "select race status")
	}
	return models.RaceStatus(st), nil
}

func (s *Storage) SetCountdownEndsAt(ctx context.Context, raceID uint64, endsAt time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE races SET countdown_ends_at = $2, updated_at = now() WHERE id = $1`,
		raceID, endsAt.UTC())
	return errors.Wrap(err, "set countdown")
}

func (s *Storage) SetDeadline(ctx context.Context, raceID uint64, deadline time.Time) error {
	_, err := s.db.Exec(ctx,
		`UPDATE races SET deadline_at = $2, updated_at = now() WHERE id = $1`,
		raceID, deadline.UTC())
	return errors.Wrap(err, "set deadline")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRace(row rowScanner) (*models.Race, error) {
	var r models.Race
	var status int32
	if err := row.Scan(
		&r.ID, &r.Title, &status, &r.Category, &r.OrganizerID, &r.DistanceM,
		&r.OriginLat, &r.OriginLon, &r.DestLat, &r.DestLon,
		&r.ScheduledAt, &r.CountdownEndsAt, &r.DeadlineAt,
		&r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.Status = models.RaceStatus(status)
	return &r, nil
}
