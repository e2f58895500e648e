package domain

import (
	"errors"
	"strings"
)

var (
	ErrInvalidRequest         = errors.New("invalid transformation request")
	ErrJobNotFound            = errors.New("transform job not found")
	ErrProviderUnavailable    = errors.New("provider unavailable")
	ErrProviderTimeout        = errors.New("provider timed out")
	ErrRateLimited            = errors.New("provider rate limited")
	ErrQualityBelowThreshold  = errors.New("quality below threshold")
	ErrEmptyProviderResponse  = errors.New("provider returned empty image")
	ErrStorageFailed          = errors.New("storage operation failed")
	ErrQueueFailed            = errors.New("queue operation failed")
	ErrJobAlreadyProcessing   = errors.New("transform job is already being processed")
	ErrUnsupportedProvider    = errors.New("unsupported provider type")
	ErrUnsupportedStorageType = errors.New("unsupported storage type")
	ErrJobsDisabled           = errors.New("asynchronous jobs are disabled")
	ErrOutputNotFound         = errors.New("output not found")
)

// ValidationError is the only error Transform returns to callers.
type ValidationError struct {
	Problems []string
}

func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}

func (e *ValidationError) Error() string {
	return ErrInvalidRequest.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// IsValidation reports whether err is a caller contract violation.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
