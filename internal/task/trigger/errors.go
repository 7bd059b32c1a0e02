package trigger

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every configuration error raised while
// building or validating a trigger.
var ErrInvalidConfig = errors.New("invalid trigger configuration")

func configError(field, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidConfig, field, fmt.Sprintf(format, args...))
}

// IsConfigError reports whether err was raised by trigger configuration checks.
func IsConfigError(err error) bool {
	return errors.Is(err, ErrInvalidConfig)
}
