package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Not found errors
	ErrNotFound    = errors.New("resource not found")
	ErrRunNotFound = fmt.Errorf("%w: run", ErrNotFound)

	// Data errors
	ErrDataInvalid      = errors.New("invalid input data")
	ErrInsufficientData = errors.New("insufficient data for analysis")
	ErrDuplicateTeam    = errors.New("duplicate team id")

	// Model-fitting errors
	ErrNotConverged  = errors.New("model fit did not converge")
	ErrRankDeficient = errors.New("design matrix is rank deficient")

	// Bootstrap errors
	ErrDegenerateReplicate = errors.New("degenerate bootstrap replicate")
)

// Error constructors with context
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

func NewValidationError(field string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrDataInvalid, field, reason)
}

func NewConvergenceError(model string, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrNotConverged, model, reason)
}

func NewDegenerateError(covariate string, level string) error {
	return fmt.Errorf("%w: level %q of %s absent from resample", ErrDegenerateReplicate, level, covariate)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsDataError(err error) bool {
	return errors.Is(err, ErrDataInvalid) ||
		errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrDuplicateTeam)
}

func IsFitError(err error) bool {
	return errors.Is(err, ErrNotConverged) ||
		errors.Is(err, ErrRankDeficient)
}
