package publish

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/quakewatch/internal/domain"
)

func testEvent() domain.Event {
	return domain.Event{
		ID:         "us2024abcd",
		Source:     "us",
		Time:       time.Date(2024, 6, 1, 12, 30, 45, 670_000_000, time.UTC),
		Latitude:   35.1234,
		Longitude:  -117.5,
		Depth:      10,
		Magnitude:  6.2,
		RegionName: "Southern California & Nevada",
	}
}

func TestPublish_RendersTemplateAndBody(t *testing.T) {
	var gotQuery, gotReqID string
	var body Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("region")
		gotReqID = r.Header.Get("X-Request-Id")
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p, err := NewPublisher(srv.URL+"/send?type={{.Type}}&id={{.EventID}}&region={{.Region | urlquery}}", "", time.Second)
	require.NoError(t, err)

	m := MessageFor("earthquake", testEvent(), "https://x.test/e/us2024abcd", "hello")
	_, err = p.Publish(context.Background(), m)
	require.NoError(t, err)

	assert.Equal(t, "Southern California & Nevada", gotQuery)
	assert.NotEmpty(t, gotReqID)
	assert.Equal(t, "20240601123045.67", body.Time)
	assert.Equal(t, "35.1234", body.Latitude)
	assert.Equal(t, "-117.5000", body.Longitude)
	assert.Equal(t, "10.0", body.Depth)
	assert.Equal(t, "6.2", body.Magnitude)
	assert.Equal(t, "hello", body.Text)
}

func TestPublish_FailureIsTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p, err := NewPublisher(srv.URL, "POST", time.Second)
	require.NoError(t, err)
	_, err = p.Publish(context.Background(), MessageFor("earthquake", testEvent(), "", ""))
	assert.ErrorIs(t, err, domain.ErrTransportFailure)
}

func TestNewPublisher_EmptyTemplate(t *testing.T) {
	_, err := NewPublisher("  ", "", 0)
	assert.Error(t, err)
}

func TestShorten(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://x.test/e/us1?a=b", r.URL.Query().Get("long"))
		_, _ = w.Write([]byte("https://sh.rt/abc\n"))
	}))
	defer srv.Close()

	s := NewShortener(srv.URL+"/?long={url}", time.Second)
	short, err := s.Shorten(context.Background(), "https://x.test/e/us1?a=b")
	require.NoError(t, err)
	assert.Equal(t, "https://sh.rt/abc", short)
}

func TestShorten_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := NewShortener(srv.URL+"/?u={url}", time.Second).Shorten(context.Background(), "https://x.test")
	assert.ErrorIs(t, err, domain.ErrTransportFailure)

	var unset *Shortener
	_, err = unset.Shorten(context.Background(), "https://x.test")
	assert.ErrorIs(t, err, domain.ErrTransportFailure)
}
