package streams

import "errors"

// ErrInvalidConfig is wrapped by every endpoint or registry validation error.
var ErrInvalidConfig = errors.New("invalid stream configuration")
