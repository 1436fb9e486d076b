package domain

import "errors"

// Failure classes. Business-rule rejections are not errors and never wrap these.
var (
	// ErrMalformedInput marks unparseable or missing required fields. Drop, log, no retry.
	ErrMalformedInput = errors.New("malformed input")
	// ErrStorageUnavailable marks connection or query failures against the audit store.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrTransportFailure marks a failed publish, geocoding or shortening call.
	ErrTransportFailure = errors.New("transport failure")
)
