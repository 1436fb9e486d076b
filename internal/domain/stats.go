package domain

// NotificationTotals summarizes published notifications in a time range.
type NotificationTotals struct {
	Count        int64   `json:"count"`
	MaxMagnitude float64 `json:"max_magnitude"`
}

// NotificationBucket is one UTC day of published notifications, keyed by event time.
type NotificationBucket struct {
	BucketStart  int64   `json:"bucket_start"`
	Count        int64   `json:"count"`
	MaxMagnitude float64 `json:"max_magnitude"`
}
