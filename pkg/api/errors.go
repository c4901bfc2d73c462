package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNoMatch means no active config matched an email. It is a normal outcome.
	ErrNoMatch = errors.New("no matching config")
	// ErrFieldNotFound means a config matched but a required field could not be extracted.
	ErrFieldNotFound = errors.New("field not found")
	// ErrUnparseableAmount means a numeric token could not be interpreted as an amount.
	ErrUnparseableAmount = errors.New("unparseable amount")
	// ErrSourceUnavailable means the email batch could not be obtained.
	ErrSourceUnavailable = errors.New("email source unavailable")
	// ErrPersistenceConflict means the store rejected a write as a duplicate.
	ErrPersistenceConflict = errors.New("persistence conflict")

	ErrInvalidConfig   = errors.New("invalid config")
	ErrConfigNotFound  = errors.New("config not found")
	ErrConfigNameTaken = errors.New("config name already in use")
)

// ValidationError describes why a config was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config: %s %s", e.Field, e.Reason)
}

// Is makes errors.Is(err, ErrInvalidConfig) hold for every ValidationError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// FieldError reports which field could not be extracted.
type FieldError struct {
	Field string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s not found", e.Field)
}

// Is makes errors.Is(err, ErrFieldNotFound) hold for every FieldError.
func (e *FieldError) Is(target error) bool {
	return target == ErrFieldNotFound
}
