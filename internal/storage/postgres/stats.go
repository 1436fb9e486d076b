package postgres

import (
	"context"
	"fmt"

	"example.com/quakewatch/internal/domain"
)

// statsFilter builds the WHERE clause shared by the stats queries.
// minMagnitude is optional (nil means "no filter").
func statsFilter(minMagnitude *float64, from, to int64) (string, []any) {
	cond := "WHERE event_time >= to_timestamp($1::bigint) AND event_time <= to_timestamp($2::bigint)"
	args := []any{from, to}
	if minMagnitude != nil {
		cond += " AND magnitude >= $3"
		args = append(args, *minMagnitude)
	}
	return cond, args
}

func (db *DB) QueryTotals(ctx context.Context, minMagnitude *float64, from, to int64) (domain.NotificationTotals, error) {
	var res domain.NotificationTotals
	cond, args := statsFilter(minMagnitude, from, to)

	sql := "SELECT COUNT(*)::bigint, COALESCE(MAX(magnitude), 0) FROM notifications " + cond
	if err := db.Pool.QueryRow(ctx, sql, args...).Scan(&res.Count, &res.MaxMagnitude); err != nil {
		return res, storageErr("scan totals", err)
	}
	return res, nil
}

func (db *DB) QueryBucketsDaily(ctx context.Context, minMagnitude *float64, from, to int64) ([]domain.NotificationBucket, error) {
	cond, args := statsFilter(minMagnitude, from, to)

	sql := fmt.Sprintf(`
SELECT
  EXTRACT(EPOCH FROM date_trunc('day', event_time AT TIME ZONE 'UTC'))::bigint AS bucket_start,
  COUNT(*)::bigint AS cnt,
  MAX(magnitude) AS max_mag
FROM notifications
%s
GROUP BY 1
ORDER BY 1 ASC`, cond)

	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, storageErr("query buckets", err)
	}
	defer rows.Close()

	out := []domain.NotificationBucket{}
	for rows.Next() {
		var b domain.NotificationBucket
		if err := rows.Scan(&b.BucketStart, &b.Count, &b.MaxMagnitude); err != nil {
			return nil, storageErr("scan bucket", err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate buckets", err)
	}
	return out, nil
}
