package trajectory

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation      = errors.New("trajectory: validation failed")
	ErrUndefinedMetric = errors.New("trajectory: undefined metric")
)

// ValidationError reports a broken construction invariant.
type ValidationError struct {
	Object string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Object, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func validationf(object, format string, args ...any) error {
	return &ValidationError{Object: object, Reason: fmt.Sprintf(format, args...)}
}

// UndefinedMetricError is returned when a segment metric cannot be derived,
// e.g. speed over a zero or negative elapsed time.
type UndefinedMetricError struct {
	Segment int
	Metric  string
	Elapsed time.Duration
}

func (e *UndefinedMetricError) Error() string {
	return fmt.Sprintf("segment %d: %s undefined for elapsed time %s", e.Segment, e.Metric, e.Elapsed)
}

func (e *UndefinedMetricError) Is(target error) bool { return target == ErrUndefinedMetric }
