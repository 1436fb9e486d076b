package geocode

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"example.com/quakewatch/internal/domain"
)

// UnknownRegion is returned whenever no descriptive name can be obtained.
const UnknownRegion = "unknown region"

// Resolver turns coordinates into a descriptive region name. RegionName is
// total: lookup failures and timeouts degrade to UnknownRegion.
type Resolver struct {
	HTTP        *http.Client
	URLTemplate string // placeholders {lat} and {lon}
	Cache       Cache  // optional
	TTL         time.Duration
	Log         *zap.Logger
}

type lookupResponse struct {
	Region string `json:"region"`
	Name   string `json:"name"`
}

func (r *Resolver) RegionName(ctx context.Context, lat, lon float64) string {
	if r == nil || r.URLTemplate == "" {
		return UnknownRegion
	}
	key := "region:" + domain.FormatCoord(lat) + ":" + domain.FormatCoord(lon)

	if r.Cache != nil {
		if b, ok, err := r.Cache.Get(ctx, key); err != nil {
			r.logger().Warn("region cache get failed", zap.String("key", key), zap.Error(err))
		} else if ok && len(b) > 0 {
			return string(b)
		}
	}

	name, err := r.lookup(ctx, lat, lon)
	if err != nil {
		r.logger().Warn("region lookup failed",
			zap.Float64("latitude", lat),
			zap.Float64("longitude", lon),
			zap.Error(err))
		return UnknownRegion
	}

	if r.Cache != nil {
		if err := r.Cache.Set(ctx, key, []byte(name), r.TTL); err != nil {
			r.logger().Warn("region cache set failed", zap.String("key", key), zap.Error(err))
		}
	}
	return name
}

func (r *Resolver) lookup(ctx context.Context, lat, lon float64) (string, error) {
	url := strings.NewReplacer("{lat}", domain.FormatCoord(lat), "{lon}", domain.FormatCoord(lon)).Replace(r.URLTemplate)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build request: %w", domain.ErrTransportFailure, err)
	}
	client := r.HTTP
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrTransportFailure, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: geocoder http status %d", domain.ErrTransportFailure, resp.StatusCode)
	}

	var lr lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&lr); err != nil {
		return "", fmt.Errorf("%w: decode: %w", domain.ErrTransportFailure, err)
	}
	name := strings.TrimSpace(lr.Region)
	if name == "" {
		name = strings.TrimSpace(lr.Name)
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty region name", domain.ErrTransportFailure)
	}
	return name, nil
}

func (r *Resolver) logger() *zap.Logger {
	if r.Log == nil {
		return zap.NewNop()
	}
	return r.Log
}
