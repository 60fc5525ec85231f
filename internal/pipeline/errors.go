package pipeline

import "errors"

// ErrInterrupted is returned when the caller's context ends mid-cycle.
// No terminal state is recorded for an interrupted cycle.
var ErrInterrupted = errors.New("cycle interrupted")
