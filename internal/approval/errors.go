package approval

import (
	"errors"
	"fmt"
)

// MaxNoteLength bounds reviewer notes and rejection reasons.
const MaxNoteLength = 1000

var (
	// ErrProposalNotFound is returned when no proposal has the given id.
	ErrProposalNotFound = errors.New("proposal not found")

	// ErrNotPending is returned when approving or rejecting a reviewed proposal.
	ErrNotPending = errors.New("proposal is not pending")

	// ErrEmptyKind is returned when registering a proposal without a kind.
	ErrEmptyKind = errors.New("proposal kind cannot be empty")

	// ErrNoteTooLong is returned when a note exceeds MaxNoteLength.
	ErrNoteTooLong = fmt.Errorf("note exceeds maximum length of %d characters", MaxNoteLength)
)
