package sandbox

import "errors"

// Sentinel errors for the sandbox package. Both are fatal to a cycle.
var (
	// ErrSandboxRemove is returned when a stale sandbox cannot be removed.
	ErrSandboxRemove = errors.New("remove sandbox")

	// ErrSandboxCopy is returned when the project tree cannot be copied.
	ErrSandboxCopy = errors.New("copy project into sandbox")
)
