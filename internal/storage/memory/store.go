// Package memory is an in-process audit store with the same semantics as the
// PostgreSQL store. It backs tests and dry runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"example.com/quakewatch/internal/domain"
)

type Store struct {
	mu sync.Mutex

	notifications map[string]domain.NotificationAuditRecord
	order         []string
	detections    map[int64]*domain.Detection
	seeds         map[int64]time.Time
	messages      map[int64]time.Time
	candidates    map[int64]map[int64]struct{}
	fail          error

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex

	now func() time.Time
}

func New() *Store {
	return &Store{
		notifications: make(map[string]domain.NotificationAuditRecord),
		detections:    make(map[int64]*domain.Detection),
		seeds:         make(map[int64]time.Time),
		messages:      make(map[int64]time.Time),
		candidates:    make(map[int64]map[int64]struct{}),
		locks:         make(map[string]*sync.Mutex),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SetClock replaces the clock used for creation timestamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

// FailWith makes every subsequent operation fail as ErrStorageUnavailable
// wrapping err. A nil err restores normal operation.
func (s *Store) FailWith(err error) {
	s.mu.Lock()
	s.fail = err
	s.mu.Unlock()
}

func (s *Store) check(op string) error {
	if s.fail != nil {
		return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, s.fail)
	}
	return nil
}

func (s *Store) Ready(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.check("ready")
}

// WithEventLock serializes fn with every other holder of the same event id.
func (s *Store) WithEventLock(ctx context.Context, eventID string, fn func(ctx context.Context) error) error {
	s.lockMu.Lock()
	l, ok := s.locks[eventID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[eventID] = l
	}
	s.lockMu.Unlock()

	l.Lock()
	defer l.Unlock()
	return fn(ctx)
}

// --- notifications ---

func (s *Store) HasNotified(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("has notified"); err != nil {
		return false, err
	}
	_, ok := s.notifications[eventID]
	return ok, nil
}

func (s *Store) FindConflicting(ctx context.Context, q domain.ProximityQuery) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("find conflicting"); err != nil {
		return "", false, err
	}
	for _, id := range s.order {
		n := s.notifications[id]
		if q.Contains(n.EventTime, n.Latitude, n.Longitude) {
			return id, true, nil
		}
	}
	return "", false, nil
}

func (s *Store) AppendNotification(ctx context.Context, rec domain.NotificationAuditRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("append notification"); err != nil {
		return false, err
	}
	if _, ok := s.notifications[rec.EventID]; ok {
		return false, nil
	}
	s.notifications[rec.EventID] = rec
	s.order = append(s.order, rec.EventID)
	return true, nil
}

// Notifications returns every audit record in append order.
func (s *Store) Notifications() []domain.NotificationAuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.NotificationAuditRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.notifications[id])
	}
	return out
}

// --- detections ---

func (s *Store) UpsertDetection(ctx context.Context, d domain.Detection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("upsert detection"); err != nil {
		return err
	}
	now := s.now()
	if cur, ok := s.detections[d.DetectionID]; ok {
		cur.Time, cur.Latitude, cur.Longitude = d.Time, d.Latitude, d.Longitude
	} else {
		d.CreatedAt = now
		d.FirstTriggerTime = nil
		s.detections[d.DetectionID] = &d
	}
	if _, ok := s.seeds[d.DetectionID]; !ok {
		s.seeds[d.DetectionID] = now
	}
	return nil
}

func (s *Store) GetDetection(ctx context.Context, detectionID int64) (domain.Detection, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("get detection"); err != nil {
		return domain.Detection{}, false, err
	}
	d, ok := s.detections[detectionID]
	if !ok {
		return domain.Detection{}, false, nil
	}
	out := *d
	if d.FirstTriggerTime != nil {
		t := *d.FirstTriggerTime
		out.FirstTriggerTime = &t
	}
	return out, true, nil
}

// CorrelationSeeded reports whether the correlation seed row exists.
func (s *Store) CorrelationSeeded(detectionID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seeds[detectionID]
	return ok
}

func (s *Store) AddTriggerCandidate(ctx context.Context, c domain.CorrelationCandidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("add trigger candidate"); err != nil {
		return err
	}
	s.messages[c.MessageID] = c.MessageTimestamp.UTC()
	set, ok := s.candidates[c.DetectionID]
	if !ok {
		set = make(map[int64]struct{})
		s.candidates[c.DetectionID] = set
	}
	set[c.MessageID] = struct{}{}
	return nil
}

func (s *Store) FindTriggerCandidateIDs(ctx context.Context, detectionID int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("find trigger candidates"); err != nil {
		return nil, err
	}
	var ids []int64
	for id := range s.candidates[detectionID] {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *Store) EarliestMessageTime(ctx context.Context, messageIDs []int64) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("earliest message time"); err != nil {
		return time.Time{}, false, err
	}
	var min time.Time
	found := false
	for _, id := range messageIDs {
		t, ok := s.messages[id]
		if !ok {
			continue
		}
		if !found || t.Before(min) {
			min, found = t, true
		}
	}
	return min, found, nil
}

func (s *Store) SetFirstTriggerTime(ctx context.Context, detectionID int64, t time.Time) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("set first trigger time"); err != nil {
		return time.Time{}, false, err
	}
	d, ok := s.detections[detectionID]
	if !ok {
		return time.Time{}, false, nil
	}
	t = t.UTC()
	if d.FirstTriggerTime == nil || t.Before(*d.FirstTriggerTime) {
		d.FirstTriggerTime = &t
	}
	return *d.FirstTriggerTime, true, nil
}

func (s *Store) PendingDetections(ctx context.Context, since time.Time, limit int) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("pending detections"); err != nil {
		return nil, err
	}
	var ids []int64
	for id, d := range s.detections {
		if d.FirstTriggerTime == nil && !d.CreatedAt.Before(since) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

// --- stats ---

func (s *Store) QueryTotals(ctx context.Context, minMagnitude *float64, from, to int64) (domain.NotificationTotals, error) {
	var res domain.NotificationTotals
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("query totals"); err != nil {
		return res, err
	}
	for _, n := range s.inRange(minMagnitude, from, to) {
		res.Count++
		if n.Magnitude > res.MaxMagnitude {
			res.MaxMagnitude = n.Magnitude
		}
	}
	return res, nil
}

func (s *Store) QueryBucketsDaily(ctx context.Context, minMagnitude *float64, from, to int64) ([]domain.NotificationBucket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check("query buckets"); err != nil {
		return nil, err
	}
	byDay := map[int64]*domain.NotificationBucket{}
	for _, n := range s.inRange(minMagnitude, from, to) {
		day := n.EventTime.UTC().Truncate(24 * time.Hour).Unix()
		b, ok := byDay[day]
		if !ok {
			b = &domain.NotificationBucket{BucketStart: day}
			byDay[day] = b
		}
		b.Count++
		if n.Magnitude > b.MaxMagnitude {
			b.MaxMagnitude = n.Magnitude
		}
	}
	out := make([]domain.NotificationBucket, 0, len(byDay))
	for _, b := range byDay {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart < out[j].BucketStart })
	return out, nil
}

func (s *Store) inRange(minMagnitude *float64, from, to int64) []domain.NotificationAuditRecord {
	var out []domain.NotificationAuditRecord
	for _, id := range s.order {
		n := s.notifications[id]
		ts := n.EventTime.Unix()
		if ts < from || ts > to {
			continue
		}
		if minMagnitude != nil && n.Magnitude < *minMagnitude {
			continue
		}
		out = append(out, n)
	}
	return out
}
