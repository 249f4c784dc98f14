package draw

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is a caller error: too few participants, duplicate ids
	// or a restriction that references someone outside the draw.
	ErrInvalidInput = errors.New("invalid draw input")

	// ErrUnsolvable means no assignment satisfies the restrictions. It is a
	// legitimate outcome, not a fault. Concrete errors are *UnsolvableError.
	ErrUnsolvable = errors.New("no valid assignment under current restrictions")

	// ErrInvalidAssignment is returned by Validate.
	ErrInvalidAssignment = errors.New("invalid assignment")
)

// UnsolvableError explains why a draw has no solution.
type UnsolvableError struct {
	Participants int
	// NoReceivers lists participants that are not allowed to give to anyone.
	NoReceivers []int64
	// NoGivers lists participants nobody is allowed to give to.
	NoGivers []int64
	// Matched is the size of the maximum giver/receiver matching. It stays
	// zero when the degree pre-check already failed.
	Matched int
}

func (e *UnsolvableError) Error() string {
	switch {
	case len(e.NoReceivers) > 0:
		return fmt.Sprintf("%s: %d participant(s) have no eligible receiver %v",
			ErrUnsolvable, len(e.NoReceivers), e.NoReceivers)
	case len(e.NoGivers) > 0:
		return fmt.Sprintf("%s: %d participant(s) cannot be drawn by anyone %v",
			ErrUnsolvable, len(e.NoGivers), e.NoGivers)
	default:
		return fmt.Sprintf("%s: at most %d of %d participants can be matched",
			ErrUnsolvable, e.Matched, e.Participants)
	}
}

func (e *UnsolvableError) Is(target error) bool {
	return target == ErrUnsolvable
}

func invalidInput(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func invalidAssignment(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAssignment, fmt.Sprintf(format, args...))
}
