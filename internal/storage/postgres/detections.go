package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"example.com/quakewatch/internal/domain"
)

// UpsertDetection refreshes time and position on replay; created_at and
// first_trigger_time are left alone. The correlation seed row is written in
// the same transaction.
func (db *DB) UpsertDetection(ctx context.Context, d domain.Detection) error {
	err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO detections (detection_id, detected_at, latitude, longitude)
VALUES ($1, $2, $3, $4)
ON CONFLICT (detection_id) DO UPDATE
SET detected_at = EXCLUDED.detected_at,
    latitude = EXCLUDED.latitude,
    longitude = EXCLUDED.longitude`,
			d.DetectionID, d.Time, d.Latitude, d.Longitude); err != nil {
			return fmt.Errorf("upsert detection: %w", err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO detection_correlations (detection_id) VALUES ($1)
ON CONFLICT (detection_id) DO NOTHING`, d.DetectionID); err != nil {
			return fmt.Errorf("seed correlation: %w", err)
		}
		return nil
	})
	return storageErr("upsert detection", err)
}

func (db *DB) GetDetection(ctx context.Context, detectionID int64) (domain.Detection, bool, error) {
	var d domain.Detection
	err := db.Pool.QueryRow(ctx, `
SELECT detection_id, detected_at, latitude, longitude, created_at, first_trigger_time
FROM detections WHERE detection_id = $1`, detectionID).
		Scan(&d.DetectionID, &d.Time, &d.Latitude, &d.Longitude, &d.CreatedAt, &d.FirstTriggerTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Detection{}, false, nil
	}
	if err != nil {
		return domain.Detection{}, false, storageErr("get detection", err)
	}
	d.Time = d.Time.UTC()
	d.CreatedAt = d.CreatedAt.UTC()
	if d.FirstTriggerTime != nil {
		t := d.FirstTriggerTime.UTC()
		d.FirstTriggerTime = &t
	}
	return d, true, nil
}

func (db *DB) AddTriggerCandidate(ctx context.Context, c domain.CorrelationCandidate) error {
	err := pgx.BeginFunc(ctx, db.Pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
INSERT INTO messages (message_id, message_time) VALUES ($1, $2)
ON CONFLICT (message_id) DO UPDATE SET message_time = EXCLUDED.message_time`,
			c.MessageID, c.MessageTimestamp.UTC()); err != nil {
			return fmt.Errorf("upsert message: %w", err)
		}
		if _, err := tx.Exec(ctx, `
INSERT INTO trigger_candidates (detection_id, message_id) VALUES ($1, $2)
ON CONFLICT DO NOTHING`, c.DetectionID, c.MessageID); err != nil {
			return fmt.Errorf("insert candidate: %w", err)
		}
		return nil
	})
	return storageErr("add trigger candidate", err)
}

func (db *DB) FindTriggerCandidateIDs(ctx context.Context, detectionID int64) ([]int64, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT message_id FROM trigger_candidates WHERE detection_id = $1 ORDER BY message_id", detectionID)
	if err != nil {
		return nil, storageErr("find trigger candidates", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, storageErr("scan trigger candidates", err)
	}
	return ids, nil
}

func (db *DB) EarliestMessageTime(ctx context.Context, messageIDs []int64) (time.Time, bool, error) {
	if len(messageIDs) == 0 {
		return time.Time{}, false, nil
	}
	var t *time.Time
	err := db.Pool.QueryRow(ctx,
		"SELECT MIN(message_time) FROM messages WHERE message_id = ANY($1)", messageIDs).Scan(&t)
	if err != nil {
		return time.Time{}, false, storageErr("earliest message time", err)
	}
	if t == nil {
		return time.Time{}, false, nil
	}
	return t.UTC(), true, nil
}

// SetFirstTriggerTime only ever moves the stored value backwards.
func (db *DB) SetFirstTriggerTime(ctx context.Context, detectionID int64, t time.Time) (time.Time, bool, error) {
	var effective time.Time
	err := db.Pool.QueryRow(ctx, `
UPDATE detections
SET first_trigger_time = LEAST(COALESCE(first_trigger_time, $2::timestamptz), $2::timestamptz)
WHERE detection_id = $1
RETURNING first_trigger_time`, detectionID, t.UTC()).Scan(&effective)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, storageErr("set first trigger time", err)
	}
	return effective.UTC(), true, nil
}

func (db *DB) PendingDetections(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := db.Pool.Query(ctx, `
SELECT detection_id FROM detections
WHERE first_trigger_time IS NULL AND created_at >= $1
ORDER BY detection_id
LIMIT $2`, since, limit)
	if err != nil {
		return nil, storageErr("pending detections", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, storageErr("scan pending detections", err)
	}
	return ids, nil
}
