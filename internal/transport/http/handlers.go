package transporthttp

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"example.com/quakewatch/internal/config"
	"example.com/quakewatch/internal/correlator"
	"example.com/quakewatch/internal/domain"
	"example.com/quakewatch/internal/gatekeeper"
)

type EventHandler interface {
	Handle(ctx context.Context, p domain.Params) (gatekeeper.Decision, error)
}

type Correlator interface {
	Handle(ctx context.Context, payload []byte) (correlator.Result, error)
	AddCandidate(ctx context.Context, c domain.CorrelationCandidate) (correlator.Result, error)
	Correlate(ctx context.Context, detectionID int64) (correlator.Result, error)
}

type Store interface {
	Ready(ctx context.Context) error
	GetDetection(ctx context.Context, detectionID int64) (domain.Detection, bool, error)
	QueryTotals(ctx context.Context, minMagnitude *float64, from, to int64) (domain.NotificationTotals, error)
	QueryBucketsDaily(ctx context.Context, minMagnitude *float64, from, to int64) ([]domain.NotificationBucket, error)
}

// Enqueuer accepts detection payloads for asynchronous handling.
type Enqueuer interface {
	Enqueue(payload []byte) bool
}

type ServerDeps struct {
	Cfg        config.ServerConfig
	Events     EventHandler
	Correlator Correlator
	Store      Store
	// Queue, when set, makes POST /detections asynchronous (202).
	Queue   Enqueuer
	Metrics http.Handler
	Log     *zap.Logger
	Now     func() time.Time
}

func decodeJSONStrict(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// --- Health ---

func (d *ServerDeps) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (d *ServerDeps) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	if err := d.Store.Ready(r.Context()); err != nil {
		WriteProblem(w, http.StatusServiceUnavailable, "not ready", "database not reachable", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ready"}`))
}

// --- Events ---

// HandlePostEvent runs one seismic update through the notification pipeline
// and returns the decision. Rejections are 200 responses.
func (d *ServerDeps) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	var p domain.Params
	if err := decodeJSONStrict(r, &p); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	dec, err := d.Events.Handle(r.Context(), p)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dec)
}

// --- Detections ---

func (d *ServerDeps) HandlePostDetection(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid body", err.Error(), nil)
		return
	}

	if d.Queue != nil {
		// validate up front so the caller sees a 400 instead of a silent drop
		if _, err := domain.ParseDetection(payload); err != nil {
			WriteError(w, err)
			return
		}
		if ok := d.Queue.Enqueue(payload); !ok {
			WriteProblem(w, http.StatusServiceUnavailable, "overloaded", "detection queue is full, please retry", nil)
			return
		}
		d.logger().Info("[api] queued 1 detection", zap.Int("bytes", len(payload)))
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
		return
	}

	res, err := d.Correlator.Handle(r.Context(), payload)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type candidateReq struct {
	MessageID   int64     `json:"message_id"`
	MessageTime time.Time `json:"message_time"`
}

func (d *ServerDeps) HandlePostCandidate(w http.ResponseWriter, r *http.Request) {
	defer DrainBody(r)
	id, ok := detectionIDParam(w, r)
	if !ok {
		return
	}
	var req candidateReq
	if err := decodeJSONStrict(r, &req); err != nil {
		WriteProblem(w, http.StatusBadRequest, "invalid json", err.Error(), nil)
		return
	}
	res, err := d.Correlator.AddCandidate(r.Context(), domain.CorrelationCandidate{
		DetectionID:      id,
		MessageID:        req.MessageID,
		MessageTimestamp: req.MessageTime,
	})
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d *ServerDeps) HandleCorrelate(w http.ResponseWriter, r *http.Request) {
	id, ok := detectionIDParam(w, r)
	if !ok {
		return
	}
	res, err := d.Correlator.Correlate(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (d *ServerDeps) HandleGetDetection(w http.ResponseWriter, r *http.Request) {
	id, ok := detectionIDParam(w, r)
	if !ok {
		return
	}
	det, found, err := d.Store.GetDetection(r.Context(), id)
	if err != nil {
		WriteError(w, err)
		return
	}
	if !found {
		WriteProblem(w, http.StatusNotFound, "not found", "no detection "+strconv.FormatInt(id, 10), nil)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

func detectionIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := domain.ParseDetectionID(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, err)
		return 0, false
	}
	return id, true
}

// --- Stats ---

type statsResp struct {
	Totals  domain.NotificationTotals   `json:"totals"`
	Buckets []domain.NotificationBucket `json:"buckets,omitempty"`
}

const defaultWindowSeconds = int64(24 * 60 * 60)  // last 24h default
const maxWindowSeconds = int64(90 * 24 * 60 * 60) // cap at 90 days (guardrail)

// HandleGetStats summarizes published notifications by event time.
func (d *ServerDeps) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fromStr := q.Get("from")
	toStr := q.Get("to")
	groupBy := q.Get("group_by")
	minMagStr := strings.TrimSpace(q.Get("min_magnitude"))

	now := d.Now().Unix()
	from, to := now-defaultWindowSeconds, now
	var err error
	if toStr != "" {
		if to, err = strconv.ParseInt(toStr, 10, 64); err != nil {
			WriteProblem(w, http.StatusBadRequest, "invalid parameters", "to must be epoch seconds", nil)
			return
		}
		from = to - defaultWindowSeconds
	}
	if fromStr != "" {
		if from, err = strconv.ParseInt(fromStr, 10, 64); err != nil {
			WriteProblem(w, http.StatusBadRequest, "invalid parameters", "from must be epoch seconds", nil)
			return
		}
	}
	if from > to {
		WriteProblem(w, http.StatusBadRequest, "invalid parameters", "from must not be after to", nil)
		return
	}
	// guardrail: cap excessively large ranges
	if to-from > maxWindowSeconds {
		from = to - maxWindowSeconds
	}

	var minMag *float64
	if minMagStr != "" {
		v, err := strconv.ParseFloat(minMagStr, 64)
		if err != nil {
			WriteProblem(w, http.StatusBadRequest, "invalid parameters", "min_magnitude must be a number", nil)
			return
		}
		minMag = &v
	}

	ctx := r.Context()
	var resp statsResp
	if resp.Totals, err = d.Store.QueryTotals(ctx, minMag, from, to); err != nil {
		WriteError(w, err)
		return
	}
	if groupBy == "day" {
		if resp.Buckets, err = d.Store.QueryBucketsDaily(ctx, minMag, from, to); err != nil {
			WriteError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *ServerDeps) logger() *zap.Logger {
	if d.Log == nil {
		return zap.NewNop()
	}
	return d.Log
}

// --- Router ---

func (d *ServerDeps) Router() http.Handler {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(d.logger()))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", d.HandleHealthz)
	r.Get("/readyz", d.HandleReadyz)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(APIKeyAuth(d.Cfg.APIKeySet()))

		r.Group(func(r chi.Router) {
			r.Use(BodyLimit(d.Cfg.MaxBodyBytes))
			r.Use(RequireJSON)
			r.Post("/events", d.HandlePostEvent)
			r.Post("/detections", d.HandlePostDetection)
			r.Post("/detections/{id}/candidates", d.HandlePostCandidate)
		})
		r.Post("/detections/{id}/correlate", d.HandleCorrelate)
		r.Get("/detections/{id}", d.HandleGetDetection)

		r.With(RateLimitPerMinute(d.Cfg.RateLimitStatsPerMin, d.Now)).Get("/stats", d.HandleGetStats)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, http.StatusNotFound, "not found", "endpoint not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, http.StatusMethodNotAllowed, "method not allowed", r.Method+" is not supported here", nil)
	})
	return r
}
