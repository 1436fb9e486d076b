package publish

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example.com/quakewatch/internal/domain"
)

// Shortener calls a link shortening service. The template carries a {url}
// placeholder; the response body is the short link as plain text.
type Shortener struct {
	HTTP        *http.Client
	URLTemplate string
}

func NewShortener(urlTemplate string, timeout time.Duration) *Shortener {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Shortener{HTTP: &http.Client{Timeout: timeout}, URLTemplate: urlTemplate}
}

func (s *Shortener) Shorten(ctx context.Context, long string) (string, error) {
	if s == nil || s.URLTemplate == "" {
		return "", fmt.Errorf("%w: shortener not configured", domain.ErrTransportFailure)
	}
	target := strings.ReplaceAll(s.URLTemplate, "{url}", url.QueryEscape(long))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", domain.ErrTransportFailure, err)
	}
	resp, err := s.HTTP.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTransportFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: shortener http status %d", domain.ErrTransportFailure, resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %w", domain.ErrTransportFailure, err)
	}
	short := strings.TrimSpace(string(b))
	if short == "" {
		return "", fmt.Errorf("%w: empty short link", domain.ErrTransportFailure)
	}
	return short, nil
}
