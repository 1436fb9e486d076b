// Package correlator records seismic detections from the queue feed and links
// each one to the earliest social-media message marked as a candidate trigger.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"example.com/quakewatch/internal/domain"
	"example.com/quakewatch/internal/metrics"
)

// Store is the slice of the audit store used for detections.
type Store interface {
	// UpsertDetection inserts or refreshes the detection and seeds its
	// correlation row in one transaction.
	UpsertDetection(ctx context.Context, d domain.Detection) error
	AddTriggerCandidate(ctx context.Context, c domain.CorrelationCandidate) error
	FindTriggerCandidateIDs(ctx context.Context, detectionID int64) ([]int64, error)
	EarliestMessageTime(ctx context.Context, messageIDs []int64) (time.Time, bool, error)
	// SetFirstTriggerTime keeps the minimum of the stored and given time and
	// returns the stored value. found is false when the detection is unknown.
	SetFirstTriggerTime(ctx context.Context, detectionID int64, t time.Time) (effective time.Time, found bool, err error)
	PendingDetections(ctx context.Context, since time.Time, limit int) ([]int64, error)
}

// Result describes the correlation state of one detection after a run.
type Result struct {
	DetectionID      int64      `json:"detection_id"`
	Candidates       int        `json:"candidates"`
	FirstTriggerTime *time.Time `json:"first_trigger_time,omitempty"`
}

type Correlator struct {
	store   Store
	metrics *metrics.Recorder
	log     *zap.Logger
	now     func() time.Time
}

func New(store Store, rec *metrics.Recorder, log *zap.Logger) *Correlator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Correlator{
		store:   store,
		metrics: rec,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes one delivered detection payload. Malformed payloads are
// logged and returned as ErrMalformedInput for the caller to drop.
func (c *Correlator) Handle(ctx context.Context, payload []byte) (Result, error) {
	d, err := domain.ParseDetection(payload)
	if err != nil {
		c.metrics.Detection("malformed")
		c.log.Warn("dropping malformed detection payload", zap.Error(err), zap.Int("bytes", len(payload)))
		return Result{}, err
	}

	if err := c.store.UpsertDetection(ctx, d); err != nil {
		c.metrics.Detection("error")
		return Result{}, fmt.Errorf("upsert detection %d: %w", d.DetectionID, err)
	}
	c.metrics.Detection("stored")
	c.log.Info("detection stored",
		zap.Int64("detection_id", d.DetectionID),
		zap.Time("time", d.Time),
		zap.Float64("latitude", d.Latitude),
		zap.Float64("longitude", d.Longitude))

	return c.Correlate(ctx, d.DetectionID)
}

// AddCandidate stores a message marked as a trigger candidate and re-runs
// correlation for its detection.
func (c *Correlator) AddCandidate(ctx context.Context, cand domain.CorrelationCandidate) (Result, error) {
	if cand.DetectionID <= 0 || cand.MessageID <= 0 || cand.MessageTimestamp.IsZero() {
		return Result{}, &domain.ValidationError{Errs: []domain.FieldError{{Field: "candidate", Msg: "detection_id, message_id and message_time are required"}}}
	}
	if err := c.store.AddTriggerCandidate(ctx, cand); err != nil {
		return Result{}, fmt.Errorf("add candidate %d for detection %d: %w", cand.MessageID, cand.DetectionID, err)
	}
	return c.Correlate(ctx, cand.DetectionID)
}

// Correlate recomputes the earliest candidate message time for a detection.
// Without candidates the first trigger time stays absent; nothing is retried here.
func (c *Correlator) Correlate(ctx context.Context, detectionID int64) (Result, error) {
	res := Result{DetectionID: detectionID}

	ids, err := c.store.FindTriggerCandidateIDs(ctx, detectionID)
	if err != nil {
		return res, fmt.Errorf("find candidates for %d: %w", detectionID, err)
	}
	res.Candidates = len(ids)
	if len(ids) == 0 {
		c.log.Debug("no trigger candidates yet", zap.Int64("detection_id", detectionID))
		return res, nil
	}

	earliest, ok, err := c.store.EarliestMessageTime(ctx, ids)
	if err != nil {
		return res, fmt.Errorf("earliest message time for %d: %w", detectionID, err)
	}
	if !ok {
		return res, nil
	}

	effective, found, err := c.store.SetFirstTriggerTime(ctx, detectionID, earliest)
	if err != nil {
		return res, fmt.Errorf("set first trigger time for %d: %w", detectionID, err)
	}
	if !found {
		c.log.Info("candidates reference an unknown detection", zap.Int64("detection_id", detectionID))
		return res, nil
	}
	c.metrics.Correlated()
	res.FirstTriggerTime = &effective
	c.log.Info("detection correlated",
		zap.Int64("detection_id", detectionID),
		zap.Int("candidates", len(ids)),
		zap.Time("first_trigger_time", effective))
	return res, nil
}

// Sweep re-runs correlation for detections created within lookback that still
// lack a first trigger time. It stops at the first storage failure.
func (c *Correlator) Sweep(ctx context.Context, lookback time.Duration, limit int) (int, error) {
	ids, err := c.store.PendingDetections(ctx, c.now().Add(-lookback), limit)
	if err != nil {
		return 0, fmt.Errorf("pending detections: %w", err)
	}
	correlated := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return correlated, err
		}
		res, err := c.Correlate(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrStorageUnavailable) {
				return correlated, err
			}
			c.log.Warn("sweep correlate failed", zap.Int64("detection_id", id), zap.Error(err))
			continue
		}
		if res.FirstTriggerTime != nil {
			correlated++
		}
	}
	c.log.Info("correlation sweep done", zap.Int("pending", len(ids)), zap.Int("correlated", correlated))
	return correlated, nil
}
