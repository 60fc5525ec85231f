// Package mergestate tracks consecutive successful cycles and derives
// auto-merge readiness.
package mergestate

import (
	"errors"
	"fmt"
	"time"

	"github.com/ai4ohs/ace/internal/storage"
	"github.com/sirupsen/logrus"
)

// State is the persisted record.
type State struct {
	MergeSuccessCount int     `json:"merge_success_count" yaml:"merge_success_count"`
	AutoMergeReady    bool    `json:"auto_merge_ready" yaml:"auto_merge_ready"`
	LastUpdateTS      float64 `json:"last_update_ts" yaml:"last_update_ts"`
}

// LastUpdate returns LastUpdateTS as a time.
func (s State) LastUpdate() time.Time {
	if s.LastUpdateTS == 0 {
		return time.Time{}
	}
	sec := int64(s.LastUpdateTS)
	nsec := int64((s.LastUpdateTS - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Tracker owns the state file. It is the only writer of MergeState.
type Tracker struct {
	path      string
	threshold int
	now       func() time.Time
	logger    logrus.FieldLogger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// New returns a tracker for the state file at path.
func New(path string, threshold int, opts ...Option) *Tracker {
	t := &Tracker{
		path:      path,
		threshold: threshold,
		now:       time.Now,
		logger:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Load returns the saved state; missing or corrupt state counts from zero.
func (t *Tracker) Load() State {
	var s State
	err := storage.ReadJSON(t.path, &s)
	switch {
	case errors.Is(err, storage.ErrNotExist):
		return State{}
	case err != nil:
		t.logger.WithError(err).WithField("path", t.path).Warn("merge state unreadable, counting from zero")
		return State{}
	}
	if s.MergeSuccessCount < 0 {
		s.MergeSuccessCount = 0
	}
	return s
}

// Update increments the counter on success, resets it on failure, and writes
// the state back atomically. The returned state is valid even when the write
// fails.
func (t *Tracker) Update(success bool) (State, error) {
	s := t.Load()
	if success {
		s.MergeSuccessCount++
	} else {
		s.MergeSuccessCount = 0
	}
	s.AutoMergeReady = success && s.MergeSuccessCount >= t.threshold
	s.LastUpdateTS = float64(t.now().UnixNano()) / 1e9

	if err := storage.WriteJSON(t.path, s); err != nil {
		return s, fmt.Errorf("write merge state: %w", err)
	}
	t.logger.WithFields(logrus.Fields{
		"success":          success,
		"count":            s.MergeSuccessCount,
		"auto_merge_ready": s.AutoMergeReady,
	}).Debug("merge state updated")
	return s, nil
}
