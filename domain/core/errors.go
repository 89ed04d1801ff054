package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	ErrNotFound = errors.New("resource not found")

	// ErrConfig aborts a run before any model is fitted.
	ErrConfig = errors.New("invalid configuration")

	// ErrModelFit is recovered per (element, term) pair.
	ErrModelFit         = errors.New("model fit failed")
	ErrSingularDesign   = fmt.Errorf("%w: singular design matrix", ErrModelFit)
	ErrInsufficientRows = fmt.Errorf("%w: insufficient complete rows", ErrModelFit)
	ErrNoConvergence    = fmt.Errorf("%w: optimizer did not converge", ErrModelFit)
	ErrFitTimeout       = fmt.Errorf("%w: fit timed out", ErrModelFit)

	// ErrInputShape marks an element or predictor missing from the input frame.
	ErrInputShape = errors.New("input shape mismatch")

	// Stage-level errors
	ErrEmptyTable  = errors.New("empty table")
	ErrCellWritten = errors.New("cell already written in this stage")
)

// NewConfigError wraps a configuration problem
func NewConfigError(field, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrConfig, field, reason)
}

// NewModelFitError annotates a solver failure with the formula that caused it.
// Input shape errors keep their kind.
func NewModelFitError(formula string, err error) error {
	if errors.Is(err, ErrModelFit) || errors.Is(err, ErrInputShape) {
		return fmt.Errorf("%s: %w", formula, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrModelFit, formula, err)
}

// NewInputShapeError reports a column the formula needs but the frame lacks
func NewInputShapeError(kind, name string) error {
	return fmt.Errorf("%w: %s %q not found in input matrix", ErrInputShape, kind, name)
}

// NewNotFoundError reports a missing resource
func NewNotFoundError(resource string, id string) error {
	return fmt.Errorf("%w: %s with id %s", ErrNotFound, resource, id)
}

// Error checking helpers
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConfigError(err error) bool {
	return errors.Is(err, ErrConfig)
}

func IsModelFitError(err error) bool {
	return errors.Is(err, ErrModelFit)
}

func IsInputShapeError(err error) bool {
	return errors.Is(err, ErrInputShape)
}

// IsRecoverable reports whether a per-pair error should leave cells NA and let the run continue.
func IsRecoverable(err error) bool {
	return IsModelFitError(err) || IsInputShapeError(err)
}
