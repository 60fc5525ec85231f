// Package memory persists per-file and per-function outcomes of the planner
// across cycles.
package memory

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ai4ohs/ace/internal/storage"
	"github.com/sirupsen/logrus"
)

// FileStats is the outcome history of one file.
type FileStats struct {
	Success      int    `json:"success"`
	Fail         int    `json:"fail"`
	LastStrategy string `json:"last_strategy,omitempty"`
	LastError    string `json:"last_error,omitempty"`
}

// FunctionStats counts skipped rewrites of one function.
type FunctionStats struct {
	Skips      int    `json:"skips"`
	LastReason string `json:"last_reason,omitempty"`
}

// Document is the on-disk layout.
type Document struct {
	Files     map[string]FileStats     `json:"files"`
	Functions map[string]FunctionStats `json:"functions"`
}

// Totals summarizes a document.
type Totals struct {
	Files         int `json:"files"`
	Successes     int `json:"successes"`
	Failures      int `json:"failures"`
	Functions     int `json:"functions"`
	FunctionSkips int `json:"function_skips"`
}

// Recorder is the write side used by the planner.
type Recorder interface {
	RecordSuccess(path, strategy string)
	RecordFailure(path, strategy, reason string)
	RecordFunctionSkip(path, name, reason string)
}

// Store is an EvolutionMemory document bound to a path.
type Store struct {
	mu     sync.Mutex
	path   string
	doc    Document
	logger logrus.FieldLogger
}

// New returns an empty store for path. Call Load to merge the saved document.
func New(path string, logger logrus.FieldLogger) *Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Store{path: path, doc: emptyDocument(), logger: logger}
}

// Open creates a store and loads the saved document.
func Open(path string, logger logrus.FieldLogger) *Store {
	s := New(path, logger)
	s.Load()
	return s
}

func emptyDocument() Document {
	return Document{
		Files:     map[string]FileStats{},
		Functions: map[string]FunctionStats{},
	}
}

// FunctionKey returns the "path::name" key of a function.
func FunctionKey(path, name string) string {
	return path + "::" + name
}

// Load merges the saved document into memory; saved entries replace
// in-memory entries with the same key. A missing or corrupt document is
// treated as empty.
func (s *Store) Load() {
	var saved Document
	err := storage.ReadJSON(s.path, &saved)
	switch {
	case errors.Is(err, storage.ErrNotExist):
		return
	case err != nil:
		s.logger.WithError(err).WithField("path", s.path).Warn("evolution memory unreadable, starting empty")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range saved.Files {
		s.doc.Files[k] = v
	}
	for k, v := range saved.Functions {
		s.doc.Functions[k] = v
	}
}

// Save rewrites the whole document atomically.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := storage.WriteJSON(s.path, s.doc); err != nil {
		return fmt.Errorf("save evolution memory: %w", err)
	}
	return nil
}

// RecordSuccess counts a patch produced by strategy.
func (s *Store) RecordSuccess(path, strategy string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.doc.Files[path]
	st.Success++
	st.LastStrategy = strategy
	st.LastError = ""
	s.doc.Files[path] = st
}

// RecordFailure counts a failed attempt on path.
func (s *Store) RecordFailure(path, strategy, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.doc.Files[path]
	st.Fail++
	if strategy != "" {
		st.LastStrategy = strategy
	}
	st.LastError = reason
	s.doc.Files[path] = st
}

// RecordFunctionSkip counts a function the planner could not rewrite.
func (s *Store) RecordFunctionSkip(path, name, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := FunctionKey(path, name)
	st := s.doc.Functions[key]
	st.Skips++
	st.LastReason = reason
	s.doc.Functions[key] = st
}

// File returns the stats recorded for path.
func (s *Store) File(path string) (FileStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.doc.Files[path]
	return st, ok
}

// Function returns the stats recorded for a function.
func (s *Store) Function(path, name string) (FunctionStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.doc.Functions[FunctionKey(path, name)]
	return st, ok
}

// Files returns the recorded file paths, sorted.
func (s *Store) Files() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	paths := make([]string, 0, len(s.doc.Files))
	for p := range s.doc.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Totals summarizes the in-memory document.
func (s *Store) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := Totals{Files: len(s.doc.Files), Functions: len(s.doc.Functions)}
	for _, f := range s.doc.Files {
		t.Successes += f.Success
		t.Failures += f.Fail
	}
	for _, f := range s.doc.Functions {
		t.FunctionSkips += f.Skips
	}
	return t
}
