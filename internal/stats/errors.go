package stats

import "errors"

// Errors returned by the stats package.
var (
	// ErrDataUnavailable means the play store or metadata cache could not be
	// read. Callers should show a degraded state and may retry.
	ErrDataUnavailable = errors.New("listening data unavailable")

	// ErrMalformedRecord marks a play that cannot be used, such as one with
	// an unparseable timestamp. Such records are dropped and counted.
	ErrMalformedRecord = errors.New("malformed play record")

	// ErrInvalidWindow is returned for window parameters that cannot be parsed.
	ErrInvalidWindow = errors.New("invalid time window")
)
