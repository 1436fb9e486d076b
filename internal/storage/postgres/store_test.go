package postgres

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/quakewatch/internal/domain"
)

// openTestDB connects to QUAKE_TEST_DSN and applies the migration.
// Tests are skipped when the variable is unset.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv("QUAKE_TEST_DSN")
	if dsn == "" {
		t.Skip("QUAKE_TEST_DSN not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, dsn, 4, 10*time.Second)
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.RunMigration(ctx, filepath.Join("..", "..", "..", "migrations", "0001_init.sql")))
	return db
}

func testRecord(id string, at time.Time) domain.NotificationAuditRecord {
	return domain.NotificationAuditRecord{
		EventID:       id,
		EventTime:     at,
		Latitude:      35.5,
		Longitude:     -117.25,
		Magnitude:     4.6,
		PublishedText: "M4.6 earthquake, somewhere",
		PublishedAt:   at.Add(time.Minute),
	}
}

func TestAppendNotification_Unique(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := "test" + uuid.NewString()
	at := time.Now().UTC().Truncate(time.Millisecond)

	var wg sync.WaitGroup
	results := make(chan bool, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := db.AppendNotification(ctx, testRecord(id, at))
			assert.NoError(t, err)
			results <- ok
		}()
	}
	wg.Wait()
	close(results)

	inserted := 0
	for ok := range results {
		if ok {
			inserted++
		}
	}
	assert.Equal(t, 1, inserted)

	seen, err := db.HasNotified(ctx, id)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestFindConflicting_InclusiveBounds(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	// far from any other test data
	at := time.Date(1971, 3, 4, 5, 6, 7, 0, time.UTC)
	rec := testRecord("test"+uuid.NewString(), at)
	rec.Latitude, rec.Longitude = -60, 120
	_, err := db.AppendNotification(ctx, rec)
	require.NoError(t, err)

	q := domain.ProximityQuery{CenterTime: at.Add(16 * time.Minute), Latitude: -59, Longitude: 121, Window: 16 * time.Minute, DistanceKm: 111}
	id, found, err := db.FindConflicting(ctx, q)
	require.NoError(t, err)
	assert.True(t, found)
	assert.NotEmpty(t, id)

	q.CenterTime = at.Add(17 * time.Minute)
	_, found, err = db.FindConflicting(ctx, q)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestWithEventLock_Serializes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	id := "lock" + uuid.NewString()

	var mu sync.Mutex
	inside, maxInside := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.WithEventLock(ctx, id, func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxInside {
					maxInside = inside
				}
				mu.Unlock()
				time.Sleep(20 * time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxInside)
}

func TestDetections_Correlation(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	detID := time.Now().UnixNano()
	at := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, db.UpsertDetection(ctx, domain.Detection{DetectionID: detID, Time: at, Latitude: 1, Longitude: 2}))

	d, ok, err := db.GetDetection(ctx, detID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Nil(t, d.FirstTriggerTime)

	t1, t2 := at.Add(10*time.Second), at.Add(30*time.Second)
	require.NoError(t, db.AddTriggerCandidate(ctx, domain.CorrelationCandidate{DetectionID: detID, MessageID: detID, MessageTimestamp: t2}))
	require.NoError(t, db.AddTriggerCandidate(ctx, domain.CorrelationCandidate{DetectionID: detID, MessageID: detID + 1, MessageTimestamp: t1}))

	ids, err := db.FindTriggerCandidateIDs(ctx, detID)
	require.NoError(t, err)
	assert.Equal(t, []int64{detID, detID + 1}, ids)

	earliest, ok, err := db.EarliestMessageTime(ctx, ids)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, t1.Equal(earliest))

	eff, found, err := db.SetFirstTriggerTime(ctx, detID, t2)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, t2.Equal(eff))

	eff, _, err = db.SetFirstTriggerTime(ctx, detID, t1)
	require.NoError(t, err)
	assert.True(t, t1.Equal(eff))

	eff, _, err = db.SetFirstTriggerTime(ctx, detID, t2)
	require.NoError(t, err)
	assert.True(t, t1.Equal(eff), "first trigger time never moves forward")

	_, found, err = db.SetFirstTriggerTime(ctx, -detID, t1)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestStats(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	day := time.Date(1972, 1, 2, 0, 0, 0, 0, time.UTC)

	for i, mag := range []float64{3.1, 5.2} {
		rec := testRecord("stats"+uuid.NewString(), day.Add(time.Duration(i)*time.Hour))
		rec.Magnitude = mag
		_, err := db.AppendNotification(ctx, rec)
		require.NoError(t, err)
	}

	from, to := day.Unix(), day.Add(24*time.Hour-time.Second).Unix()
	tot, err := db.QueryTotals(ctx, nil, from, to)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, tot.Count, int64(2))

	min := 5.0
	buckets, err := db.QueryBucketsDaily(ctx, &min, from, to)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, day.Unix(), buckets[0].BucketStart)
	assert.GreaterOrEqual(t, buckets[0].MaxMagnitude, 5.2)
}
