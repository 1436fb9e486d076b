package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"example.com/quakewatch/internal/domain"
)

func (db *DB) HasNotified(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := db.Pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM notifications WHERE event_id = $1)", eventID).Scan(&exists)
	if err != nil {
		return false, storageErr("has notified", err)
	}
	return exists, nil
}

// FindConflicting returns the earliest-published notification inside the
// query envelope. Bounds are inclusive.
func (db *DB) FindConflicting(ctx context.Context, q domain.ProximityQuery) (string, bool, error) {
	from, to := q.TimeBounds()
	latMin, latMax, lonMin, lonMax := q.DegreeBounds()

	var id string
	err := db.Pool.QueryRow(ctx, `
SELECT event_id FROM notifications
WHERE event_time BETWEEN $1 AND $2
  AND latitude BETWEEN $3 AND $4
  AND longitude BETWEEN $5 AND $6
ORDER BY published_at ASC
LIMIT 1`,
		from, to,
		latMin, latMax,
		lonMin, lonMax,
	).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, storageErr("find conflicting", err)
	}
	return id, true, nil
}

// AppendNotification inserts with ON CONFLICT DO NOTHING so a concurrent
// writer for the same event loses instead of failing. inserted reports
// whether this call wrote the row.
func (db *DB) AppendNotification(ctx context.Context, rec domain.NotificationAuditRecord) (bool, error) {
	ct, err := db.Pool.Exec(ctx, `
INSERT INTO notifications (event_id, event_time, latitude, longitude, magnitude, published_text, published_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (event_id) DO NOTHING`,
		rec.EventID, rec.EventTime, rec.Latitude, rec.Longitude, rec.Magnitude, rec.PublishedText, rec.PublishedAt)
	if err != nil {
		return false, storageErr("append notification", err)
	}
	return ct.RowsAffected() == 1, nil
}
