package geocode

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegionName_LookupAndCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "35.1235", r.URL.Query().Get("lat"))
		assert.Equal(t, "-117.6789", r.URL.Query().Get("lon"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"region":"10 km N of Ridgecrest, CA"}`))
	}))
	defer srv.Close()

	cache := NewMemoryCache()
	r := &Resolver{HTTP: srv.Client(), URLTemplate: srv.URL + "/?lat={lat}&lon={lon}", Cache: cache, TTL: time.Hour}

	ctx := context.Background()
	assert.Equal(t, "10 km N of Ridgecrest, CA", r.RegionName(ctx, 35.12345, -117.6789))
	assert.Equal(t, "10 km N of Ridgecrest, CA", r.RegionName(ctx, 35.12345, -117.6789))
	assert.Equal(t, int32(1), calls.Load(), "second call served from cache")

	b, ok, err := cache.Get(ctx, "region:35.1235:-117.6789")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "10 km N of Ridgecrest, CA", string(b))
}

func TestRegionName_DegradesToUnknown(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"server error", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) }},
		{"bad json", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`nope`)) }},
		{"empty name", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`{"region":"  "}`)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()
			r := &Resolver{HTTP: srv.Client(), URLTemplate: srv.URL + "/?lat={lat}&lon={lon}"}
			assert.Equal(t, UnknownRegion, r.RegionName(context.Background(), 1, 2))
		})
	}
}

func TestRegionName_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		_, _ = w.Write([]byte(`{"name":"late"}`))
	}))
	defer srv.Close()

	r := &Resolver{HTTP: &http.Client{Timeout: 20 * time.Millisecond}, URLTemplate: srv.URL + "/{lat}/{lon}"}
	assert.Equal(t, UnknownRegion, r.RegionName(context.Background(), 1, 2))
}

func TestRegionName_NoTemplate(t *testing.T) {
	var r *Resolver
	assert.Equal(t, UnknownRegion, r.RegionName(context.Background(), 1, 2))
	assert.Equal(t, UnknownRegion, (&Resolver{}).RegionName(context.Background(), 1, 2))
}
