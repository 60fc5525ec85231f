// Package processed keeps the append-only record of attempted files.
package processed

import (
	"fmt"
	"time"

	"github.com/ai4ohs/ace/internal/storage"
)

// Entry statuses.
const (
	StatusNoFiles          = "no_files"
	StatusNoChanges        = "no_changes"
	StatusTestsFailed      = "tests_failed"
	StatusDryRunPassed     = "dry_run_passed"
	StatusAwaitingApproval = "awaiting_approval"
	StatusApplied          = "applied"
)

// Entry is one line of the log.
type Entry struct {
	TS      float64  `json:"ts"`
	Status  string   `json:"status"`
	Files   []string `json:"files"`
	Details string   `json:"details,omitempty"`
}

// Time returns TS as a time.
func (e Entry) Time() time.Time {
	sec := int64(e.TS)
	return time.Unix(sec, int64((e.TS-float64(sec))*1e9))
}

// Log is a JSONL file of entries.
type Log struct {
	path string
	now  func() time.Time
}

// New returns the log stored at path.
func New(path string) *Log {
	return &Log{path: path, now: time.Now}
}

// Append writes one entry, stamping TS when unset.
func (l *Log) Append(e Entry) error {
	if e.TS == 0 {
		e.TS = float64(l.now().UnixNano()) / 1e9
	}
	if e.Files == nil {
		e.Files = []string{}
	}
	if err := storage.AppendJSONL(l.path, e); err != nil {
		return fmt.Errorf("append processed log: %w", err)
	}
	return nil
}

// Entries reads every well-formed entry in order.
func (l *Log) Entries() ([]Entry, error) {
	entries, err := storage.ReadJSONL[Entry](l.path)
	if err != nil {
		return nil, fmt.Errorf("read processed log: %w", err)
	}
	return entries, nil
}

// Attempted returns the set of every file named by any entry.
func (l *Log) Attempted() (map[string]bool, error) {
	entries, err := l.Entries()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	for _, e := range entries {
		for _, f := range e.Files {
			seen[f] = true
		}
	}
	return seen, nil
}
