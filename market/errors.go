package market

import "github.com/pkg/errors"

var (
	// ErrInvalidParameter is returned before any computation when a window,
	// span or period is not a positive integer, or a multiplier is unusable.
	ErrInvalidParameter = errors.New("invalid indicator parameter")
	// ErrUnknownField is returned when a row has no column with the requested name.
	ErrUnknownField = errors.New("unknown field")
)

func requirePositive(name string, n int) error {
	if n <= 0 {
		return errors.Wrapf(ErrInvalidParameter, "%s must be positive, got %d", name, n)
	}
	return nil
}
