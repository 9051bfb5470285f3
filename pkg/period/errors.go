package period

import "errors"

var (
	// ErrInvalidInput is returned when a sample stream violates the extractor's preconditions
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicatePeriods signals that an upload contained periods already stored.
	// It is a warning: the duplicates are dropped and the upload continues.
	ErrDuplicatePeriods = errors.New("duplicate periods detected")
)
