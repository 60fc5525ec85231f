package pipeline

import (
	"github.com/ai4ohs/ace/internal/mergestate"
	"github.com/ai4ohs/ace/internal/planner"
)

// Status is the terminal state of a cycle.
type Status string

const (
	StatusNoFiles               Status = "NO_FILES"
	StatusNoChanges             Status = "NO_CHANGES"
	StatusFailTests             Status = "FAIL_TESTS"
	StatusDryRunOK              Status = "DRY_RUN_OK"
	StatusAwaitingApproval      Status = "AWAITING_APPROVAL"
	StatusApplied               Status = "APPLIED"
	StatusAppliedAutoMergeReady Status = "APPLIED_AUTO_MERGE_READY"
)

// Result is returned by every cycle that reaches a terminal state.
type Result struct {
	Status            Status                `json:"status" yaml:"status"`
	AppliedPatchCount int                   `json:"applied_patch_count" yaml:"applied_patch_count"`
	Errors            string                `json:"errors,omitempty" yaml:"errors,omitempty"`
	ProposalID        string                `json:"proposal_id,omitempty" yaml:"proposal_id,omitempty"`
	MergeState        *mergestate.State     `json:"merge_state,omitempty" yaml:"merge_state,omitempty"`
	Failures          []planner.FileFailure `json:"failures,omitempty" yaml:"failures,omitempty"`
	Profile           string                `json:"profile,omitempty" yaml:"profile,omitempty"`
	Files             []string              `json:"files,omitempty" yaml:"files,omitempty"`
}

// proposalContent is stored with each ACE_PATCHES proposal.
type proposalContent struct {
	Patches       []proposalPatch `json:"patches"`
	SandboxResult sandboxResult   `json:"sandbox_result"`
}

type proposalPatch struct {
	File     string `json:"file"`
	NewCode  string `json:"new_code"`
	Strategy string `json:"strategy"`
}

type sandboxResult struct {
	Applied int    `json:"applied"`
	Tests   string `json:"tests"`
}
