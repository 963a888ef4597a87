// Package blockerr defines the error taxonomy shared by the fitting and prediction packages.
//
// Every failure is one of four kinds:
//   - ConfigurationError: malformed declarations, raised at construction time
//   - DataError: missing or inconsistent reference data, reported with file and block
//   - FittingError: a solver failure for one sub-model key
//   - IllegalStateError: prediction against an unfit or missing sub-model
//
// Each typed error matches its sentinel via errors.Is, so callers can branch on the kind
// without type assertions:
//
//	if errors.Is(err, blockerr.ErrFitting) {
//	    var fe *blockerr.FittingError
//	    errors.As(err, &fe)
//	    log.Printf("key %s failed", fe.Key)
//	}
package blockerr

import (
	"errors"
	"fmt"
)

// Sentinel errors, one per kind.
var (
	ErrConfiguration = errors.New("configuration error")
	ErrData          = errors.New("data error")
	ErrFitting       = errors.New("fitting error")
	ErrIllegalState  = errors.New("illegal state")
)

// ConfigurationError reports an invalid declaration (shells, hyperparameters, identifiers).
type ConfigurationError struct {
	Key     string // Offending key or entry, if any
	Details string // What is wrong
	Err     error  // Underlying cause (optional)
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	msg := "configuration error"
	if e.Key != "" {
		msg += fmt.Sprintf(": %s", e.Key)
	}
	msg += ": " + e.Details
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Is reports whether target is ErrConfiguration.
func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// Unwrap returns the underlying cause.
func (e *ConfigurationError) Unwrap() error { return e.Err }

// DataError reports a problem with reference data or the data selection.
type DataError struct {
	File    string // Reference file, if known
	Block   string // Atom block, if known
	Details string
	Err     error
}

// Error implements the error interface.
func (e *DataError) Error() string {
	msg := "data error"
	if e.File != "" {
		msg += fmt.Sprintf(": file %q", e.File)
	}
	if e.Block != "" {
		msg += fmt.Sprintf(": block %s", e.Block)
	}
	msg += ": " + e.Details
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Is reports whether target is ErrData.
func (e *DataError) Is(target error) bool { return target == ErrData }

// Unwrap returns the underlying cause.
func (e *DataError) Unwrap() error { return e.Err }

// FittingError reports that the sub-model for Key could not be fit.
type FittingError struct {
	Key string
	Err error
}

// Error implements the error interface.
func (e *FittingError) Error() string {
	return fmt.Sprintf("fitting error: key %s: %v", e.Key, e.Err)
}

// Is reports whether target is ErrFitting.
func (e *FittingError) Is(target error) bool { return target == ErrFitting }

// Unwrap returns the solver or data error that caused the failure.
func (e *FittingError) Unwrap() error { return e.Err }

// IllegalStateError reports use of a sub-model that is absent or not yet fit.
type IllegalStateError struct {
	Key     string
	Details string
}

// Error implements the error interface.
func (e *IllegalStateError) Error() string {
	if e.Key == "" {
		return "illegal state: " + e.Details
	}
	return fmt.Sprintf("illegal state: key %s: %s", e.Key, e.Details)
}

// Is reports whether target is ErrIllegalState.
func (e *IllegalStateError) Is(target error) bool { return target == ErrIllegalState }
