package rewrite

import "errors"

var (
	// ErrUnavailable wraps every failure of a rewrite call: transport errors,
	// non-2xx responses, empty completions and context overflows.
	ErrUnavailable = errors.New("rewrite collaborator unavailable")

	// ErrContextOverflow is returned when prompt plus output budget exceeds
	// the server context window. It is never retried.
	ErrContextOverflow = errors.New("prompt exceeds context limit")
)
