package stereo

import "errors"

var (
	// ErrInvalidInput marks a malformed detection. Only that record is skipped.
	ErrInvalidInput = errors.New("invalid detection")

	// ErrRejected is returned by the estimator when the disparity is too small to triangulate.
	ErrRejected = errors.New("disparity too small")

	// ErrNoMatches means the matcher paired nothing. Callers treat it as an empty result, not a failure.
	ErrNoMatches = errors.New("no measurable objects")
)
