package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrChecksumMismatch   = errors.New("checksum mismatch: file may be corrupted")
	ErrOffsetOverlap      = errors.New("sub-model offsets overlap")
	ErrOutOfBounds        = errors.New("sub-model extends beyond data section")
	ErrNegativeOffset     = errors.New("negative offset or size")
	ErrTooManyModels      = errors.New("too many sub-models in file")
	ErrHeaderTooLarge     = errors.New("header exceeds maximum size")
	ErrDataTooLarge       = errors.New("data section exceeds maximum size")
	ErrInvalidMagic       = errors.New("invalid magic bytes")
	ErrUnsupportedVersion = errors.New("unsupported format version")
)

// ValidationError provides detailed information about validation failures.
type ValidationError struct {
	Type    string // Type of error (e.g., "offset_overlap", "out_of_bounds")
	Model   string // Primary sub-model key involved
	Model2  string // Secondary sub-model key (for overlap errors)
	Details string // Additional details
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Model2 != "" {
		return fmt.Sprintf("%s: sub-models %s and %s: %s", e.Type, e.Model, e.Model2, e.Details)
	}
	if e.Model != "" {
		return fmt.Sprintf("%s: sub-model %s: %s", e.Type, e.Model, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Details)
}

// Is matches the sentinel for the error type.
func (e *ValidationError) Is(target error) bool {
	switch e.Type {
	case "offset_overlap":
		return target == ErrOffsetOverlap
	case "out_of_bounds":
		return target == ErrOutOfBounds
	case "negative_offset":
		return target == ErrNegativeOffset
	case "too_many_models":
		return target == ErrTooManyModels
	}
	return false
}
