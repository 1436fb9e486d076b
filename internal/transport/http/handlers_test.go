package transporthttp

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"example.com/quakewatch/internal/config"
	"example.com/quakewatch/internal/correlator"
	"example.com/quakewatch/internal/domain"
	"example.com/quakewatch/internal/gatekeeper"
	"example.com/quakewatch/internal/storage/memory"
)

var now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeEvents struct {
	dec gatekeeper.Decision
	err error
	got domain.Params
}

func (f *fakeEvents) Handle(ctx context.Context, p domain.Params) (gatekeeper.Decision, error) {
	f.got = p
	return f.dec, f.err
}

type fakeQueue struct {
	full     bool
	payloads [][]byte
}

func (f *fakeQueue) Enqueue(payload []byte) bool {
	if f.full {
		return false
	}
	f.payloads = append(f.payloads, payload)
	return true
}

func newDeps(events EventHandler, store *memory.Store) *ServerDeps {
	return &ServerDeps{
		Cfg:        config.ServerConfig{MaxBodyBytes: 1 << 20, RateLimitStatsPerMin: 2},
		Events:     events,
		Correlator: correlator.New(store, nil, zap.NewNop()),
		Store:      store,
		Log:        zap.NewNop(),
		Now:        func() time.Time { return now },
	}
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthAndReady(t *testing.T) {
	store := memory.New()
	h := newDeps(&fakeEvents{}, store).Router()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/readyz", "", nil).Code)

	store.FailWith(errors.New("down"))
	assert.Equal(t, http.StatusServiceUnavailable, do(t, h, http.MethodGet, "/readyz", "", nil).Code)
}

func TestPostEvent(t *testing.T) {
	ev := &fakeEvents{dec: gatekeeper.Decision{Outcome: gatekeeper.RejectedLowMagnitude, Reason: "too small"}}
	h := newDeps(ev, memory.New()).Router()

	rr := do(t, h, http.MethodPost, "/events", `{"action":"EVENT_ADDED","source":"us","code":"us1","preferredID":"us1"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var dec gatekeeper.Decision
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &dec))
	assert.Equal(t, gatekeeper.RejectedLowMagnitude, dec.Outcome)
	assert.Equal(t, "us1", ev.got.Code)
}

func TestPostEvent_ErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"malformed", &domain.ValidationError{Errs: []domain.FieldError{{Field: "preferredLatitude", Msg: "required"}}}, http.StatusBadRequest},
		{"storage", errors.Join(domain.ErrStorageUnavailable, errors.New("refused")), http.StatusServiceUnavailable},
		{"transport", errors.Join(domain.ErrTransportFailure, errors.New("502")), http.StatusBadGateway},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newDeps(&fakeEvents{err: tc.err}, memory.New()).Router()
			rr := do(t, h, http.MethodPost, "/events", `{"action":"EVENT_ADDED"}`, nil)
			assert.Equal(t, tc.want, rr.Code)
			assert.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
		})
	}
}

func TestPostEvent_ValidationFieldsInProblem(t *testing.T) {
	ve := &domain.ValidationError{Errs: []domain.FieldError{{Field: "preferredLatitude", Msg: "required"}}}
	h := newDeps(&fakeEvents{err: ve}, memory.New()).Router()
	rr := do(t, h, http.MethodPost, "/events", `{}`, nil)

	var p Problem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Equal(t, []string{"required"}, p.Errors["preferredLatitude"])
}

func TestPostEvent_RequiresJSONAndKnownFields(t *testing.T) {
	h := newDeps(&fakeEvents{}, memory.New()).Router()

	req := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnsupportedMediaType, rr.Code)

	rr = do(t, h, http.MethodPost, "/events", `{"nope":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	d := newDeps(&fakeEvents{}, memory.New())
	d.Cfg.APIKeys = "k1,k2"
	h := d.Router()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodPost, "/events", `{}`, nil).Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/events", `{}`, map[string]string{"X-API-Key": "k2"}).Code)
	// health stays open
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/healthz", "", nil).Code)
}

const detectionBody = `{"id":"queue:00012345","hypocenter":{"latitude":35.5,"longitude":-117.25,"time":"2024-06-01T11:59:00Z"}}`

func TestDetectionFlow_Sync(t *testing.T) {
	store := memory.New()
	h := newDeps(&fakeEvents{}, store).Router()

	rr := do(t, h, http.MethodPost, "/detections", detectionBody, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var res correlator.Result
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	assert.Equal(t, int64(12345), res.DetectionID)
	assert.Nil(t, res.FirstTriggerTime)

	rr = do(t, h, http.MethodPost, "/detections/12345/candidates", `{"message_id":77,"message_time":"2024-06-01T11:59:20Z"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res))
	require.NotNil(t, res.FirstTriggerTime)
	assert.Equal(t, time.Date(2024, 6, 1, 11, 59, 20, 0, time.UTC), res.FirstTriggerTime.UTC())

	rr = do(t, h, http.MethodPost, "/detections/queue:00012345/correlate", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, h, http.MethodGet, "/detections/12345", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var det domain.Detection
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &det))
	require.NotNil(t, det.FirstTriggerTime)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/detections/999", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/detections/abc", "", nil).Code)
}

func TestPostDetection_Malformed(t *testing.T) {
	h := newDeps(&fakeEvents{}, memory.New()).Router()
	rr := do(t, h, http.MethodPost, "/detections", `{"id":"queue:1","hypocenter":{"latitude":1}}`, nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	var p Problem
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &p))
	assert.Contains(t, p.Errors, "hypocenter.longitude")
}

func TestPostDetection_Queued(t *testing.T) {
	store := memory.New()
	d := newDeps(&fakeEvents{}, store)
	q := &fakeQueue{}
	d.Queue = q
	h := d.Router()

	rr := do(t, h, http.MethodPost, "/detections", detectionBody, nil)
	assert.Equal(t, http.StatusAccepted, rr.Code)
	require.Len(t, q.payloads, 1)

	q.full = true
	rr = do(t, h, http.MethodPost, "/detections", detectionBody, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestGetStats(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	for i, mag := range []float64{4.6, 6.0} {
		_, err := store.AppendNotification(ctx, domain.NotificationAuditRecord{
			EventID:   []string{"us1", "us2"}[i],
			EventTime: now.Add(-time.Duration(i+1) * time.Hour),
			Magnitude: mag,
		})
		require.NoError(t, err)
	}
	h := newDeps(&fakeEvents{}, store).Router()

	rr := do(t, h, http.MethodGet, "/stats?group_by=day&min_magnitude=5", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	var resp statsResp
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.Totals.Count)
	assert.Equal(t, 6.0, resp.Totals.MaxMagnitude)
	require.Len(t, resp.Buckets, 1)

	// limit is 2 per minute and the clock is frozen
	rr = do(t, h, http.MethodGet, "/stats", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	rr = do(t, h, http.MethodGet, "/stats", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("Retry-After"))
}

func TestGetStats_BadParams(t *testing.T) {
	d := newDeps(&fakeEvents{}, memory.New())
	d.Cfg.RateLimitStatsPerMin = 0
	h := d.Router()

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/stats?from=abc", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/stats?min_magnitude=big", "", nil).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodGet, "/stats?from=10&to=5", "", nil).Code)
}
