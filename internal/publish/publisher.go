// Package publish sends notifications to the outbound announcement service
// and shortens deep links.
package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"

	"example.com/quakewatch/internal/domain"
)

// Message is what the outbound service receives, both as URL template data
// and as the JSON body.
type Message struct {
	Type      string `json:"type"`
	EventID   string `json:"event_id"`
	Source    string `json:"source"`
	Time      string `json:"time"`
	Longitude string `json:"longitude"`
	Latitude  string `json:"latitude"`
	Depth     string `json:"depth"`
	Magnitude string `json:"magnitude"`
	Region    string `json:"region"`
	URI       string `json:"uri"`
	Text      string `json:"text"`
}

func MessageFor(msgType string, ev domain.Event, link, text string) Message {
	return Message{
		Type:      msgType,
		EventID:   ev.ID,
		Source:    ev.Source,
		Time:      ev.TimeString(),
		Longitude: ev.LongitudeString(),
		Latitude:  ev.LatitudeString(),
		Depth:     ev.DepthString(),
		Magnitude: ev.MagnitudeString(),
		Region:    ev.RegionName,
		URI:       link,
		Text:      text,
	}
}

// Publisher renders the request URL from a text/template. Use
// {{.Region | urlquery}} for values that need escaping.
type Publisher struct {
	HTTP   *http.Client
	url    *template.Template
	method string
}

func NewPublisher(urlTemplate, method string, timeout time.Duration) (*Publisher, error) {
	if strings.TrimSpace(urlTemplate) == "" {
		return nil, fmt.Errorf("publish url template is empty")
	}
	t, err := template.New("publish_url").Option("missingkey=error").Parse(urlTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse publish url template: %w", err)
	}
	if method == "" {
		method = http.MethodPost
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{
		HTTP:   &http.Client{Timeout: timeout},
		url:    t,
		method: strings.ToUpper(method),
	}, nil
}

// Publish sends one message and reports how long the call took. Any failure
// wraps ErrTransportFailure.
func (p *Publisher) Publish(ctx context.Context, m Message) (time.Duration, error) {
	start := time.Now()

	var u bytes.Buffer
	if err := p.url.Execute(&u, m); err != nil {
		return 0, fmt.Errorf("%w: render url: %w", domain.ErrTransportFailure, err)
	}
	var body io.Reader
	if p.method != http.MethodGet {
		b, err := json.Marshal(m)
		if err != nil {
			return 0, fmt.Errorf("%w: encode body: %w", domain.ErrTransportFailure, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, p.method, u.String(), body)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %w", domain.ErrTransportFailure, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := p.HTTP.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return elapsed, fmt.Errorf("%w: %w", domain.ErrTransportFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return elapsed, fmt.Errorf("%w: publish http status %d", domain.ErrTransportFailure, resp.StatusCode)
	}
	return elapsed, nil
}
