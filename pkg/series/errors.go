package series

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Typed errors below match them with errors.Is.
var (
	ErrConfig              = errors.New("invalid configuration")
	ErrAlignment           = errors.New("misaligned series")
	ErrTooFewObservations  = errors.New("too few observations")
	ErrUnsupportedGeometry = errors.New("unsupported geometry")
)

// ConfigError reports an invalid configured value and the accepted choices.
type ConfigError struct {
	Field string
	Value string
	Valid []string
}

func (e *ConfigError) Error() string {
	if len(e.Valid) == 0 {
		return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
	}
	return fmt.Sprintf("invalid %s %q: must be one of %s", e.Field, e.Value, strings.Join(e.Valid, ", "))
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

// AlignmentError reports frames for the same feature whose date indices differ.
type AlignmentError struct {
	FID    string
	Reason string
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("feature %s: %s", e.FID, e.Reason)
}

func (e *AlignmentError) Is(target error) bool { return target == ErrAlignment }
