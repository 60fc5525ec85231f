package main

import (
	"fmt"
	"io"
)

// truncateID shortens long identifiers for table columns.
func truncateID(id string, n int) string {
	if len(id) <= n {
		return id
	}
	return id[:n]
}

func fprintf(w io.Writer, format string, args ...any) {
	//nolint:errcheck // CLI output, errors unlikely and non-recoverable
	fmt.Fprintf(w, format, args...)
}
