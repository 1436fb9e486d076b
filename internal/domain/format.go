package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Precision at which event fields are compared and persisted.
const (
	CoordPlaces  = 4
	TenthsPlaces = 1
)

// RoundTo rounds half away from zero to the given number of decimal places.
func RoundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}

func FormatCoord(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(CoordPlaces)
}

func FormatTenths(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(TenthsPlaces)
}

// TruncateCentis drops sub-centisecond precision and normalizes to UTC.
func TruncateCentis(t time.Time) time.Time {
	return t.UTC().Truncate(10 * time.Millisecond)
}

// FormatTime renders the fixed-width timestamp used in notifications: YYYYMMDDhhmmss.cc (UTC).
func FormatTime(t time.Time) string {
	t = TruncateCentis(t)
	return fmt.Sprintf("%s.%02d", t.Format("20060102150405"), t.Nanosecond()/int(10*time.Millisecond))
}
