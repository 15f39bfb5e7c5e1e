package ensemble

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidShape reports a plane, field or member count that disagrees
	// with the declared grid or member set.
	ErrInvalidShape = errors.New("invalid shape")

	// ErrInvalidParameter reports a nonsensical window length, radius, step
	// index or interval.
	ErrInvalidParameter = errors.New("invalid parameter")
)

func shapeErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidShape, fmt.Sprintf(format, args...))
}

func paramErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParameter, fmt.Sprintf(format, args...))
}
