package storage

import "errors"

// Sentinel errors for the storage package. Using sentinels instead of ad-hoc
// fmt.Errorf allows callers to match with errors.Is for reliable error handling.
var (
	// ErrNotExist is returned when a document has never been written.
	ErrNotExist = errors.New("document does not exist")

	// ErrCorrupt is returned when a document exists but cannot be decoded.
	ErrCorrupt = errors.New("document is corrupt")
)
