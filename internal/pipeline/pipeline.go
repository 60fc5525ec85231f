// Package pipeline runs one selection, planning, validation and promotion
// cycle and reports its terminal state.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ai4ohs/ace/internal/approval"
	"github.com/ai4ohs/ace/internal/candidate"
	"github.com/ai4ohs/ace/internal/config"
	"github.com/ai4ohs/ace/internal/memory"
	"github.com/ai4ohs/ace/internal/mergestate"
	"github.com/ai4ohs/ace/internal/planner"
	"github.com/ai4ohs/ace/internal/processed"
	"github.com/ai4ohs/ace/internal/rewrite"
	"github.com/ai4ohs/ace/internal/sandbox"
	"github.com/ai4ohs/ace/internal/testgate"
	"github.com/ai4ohs/ace/internal/types"
	"github.com/sirupsen/logrus"
)

// SettingsSource supplies the working configuration for each cycle.
type SettingsSource interface {
	AutoSync() (bool, error)
	Settings() config.Settings
}

// MemoryStore records planner outcomes and persists them once per cycle.
type MemoryStore interface {
	memory.Recorder
	Save() error
}

// Pipeline runs cycles against one project root.
type Pipeline struct {
	root     string
	cfg      SettingsSource
	rewriter rewrite.Rewriter
	gateway  approval.Gateway
	tests    testgate.Runner
	memory   MemoryStore
	splitter planner.Splitter
	logger   logrus.FieldLogger
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithRewriter sets the rewrite collaborator.
func WithRewriter(r rewrite.Rewriter) Option {
	return func(p *Pipeline) { p.rewriter = r }
}

// WithGateway sets where proposals are registered.
func WithGateway(g approval.Gateway) Option {
	return func(p *Pipeline) { p.gateway = g }
}

// WithTestRunner replaces the subprocess test runner.
func WithTestRunner(r testgate.Runner) Option {
	return func(p *Pipeline) { p.tests = r }
}

// WithMemory replaces the evolution memory opened from settings.
func WithMemory(m MemoryStore) Option {
	return func(p *Pipeline) { p.memory = m }
}

// WithSplitter replaces the planner's function splitter.
func WithSplitter(s planner.Splitter) Option {
	return func(p *Pipeline) { p.splitter = s }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock replaces time.Now for state and log timestamps.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New returns a pipeline for the project at root.
func New(root string, cfg SettingsSource, opts ...Option) *Pipeline {
	p := &Pipeline{
		root:   root,
		cfg:    cfg,
		tests:  testgate.CommandRunner{},
		logger: logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// cycle carries per-run state.
type cycle struct {
	settings config.Settings
	log      *processed.Log
	files    []string
	logger   logrus.FieldLogger
}

// Run executes one cycle. The returned error is non-nil only for failures
// that stop the cycle before a terminal state (sandbox remove or copy,
// candidate discovery, ctx ending during PLAN or TEST); bookkeeping
// failures are logged. An interrupted cycle leaves the merge state,
// processed log and evolution memory untouched.
func (p *Pipeline) Run(ctx context.Context, dryRun bool) (Result, error) {
	if _, err := p.cfg.AutoSync(); err != nil {
		p.logger.WithError(err).Warn("configuration reload failed, using previous settings")
	}
	s := p.cfg.Settings()
	c := &cycle{
		settings: s,
		log:      processed.New(p.path(s.ACE.ProcessedLog)),
		logger:   p.logger.WithFields(logrus.Fields{"profile": s.Profile, "dry_run": dryRun}),
	}

	// DISCOVER
	attempted, err := c.log.Attempted()
	if err != nil {
		c.logger.WithError(err).Warn("processed log unreadable, treating every file as new")
	}
	exclude := append(append([]string{}, s.ACE.ExcludeDirs...), filepath.Base(s.ACE.SandboxDir))
	files, err := candidate.Discover(p.root, s.ACE.MaxFilesPerRun, candidate.Options{
		SourceDir:   s.ACE.SourceDir,
		IncludeExt:  s.ACE.IncludeExt,
		ExcludeDirs: exclude,
		Attempted:   attempted,
	})
	if err != nil {
		return Result{}, err
	}
	if len(files) == 0 {
		return p.finish(c, Result{Status: StatusNoFiles, Errors: "no candidate files"}, processed.StatusNoFiles, ""), nil
	}
	weights, err := candidate.LoadWeights(p.path(s.ACE.RefReport))
	if err != nil {
		c.logger.WithError(err).Warn("reference report unreadable, using default weights")
	}
	files = candidate.ApplyWeights(files, weights)
	for _, f := range files {
		c.files = append(c.files, f.Path)
	}
	c.logger.WithField("files", len(files)).Info("candidates selected")

	// PLAN
	patches, failures := p.plan(ctx, s, files)
	if err := interrupted(ctx, "plan"); err != nil {
		return Result{}, err
	}
	if len(patches) == 0 {
		res := Result{Status: StatusNoChanges, Errors: "no patches produced", Failures: failures}
		return p.finish(c, res, processed.StatusNoChanges, failureDetails(failures)), nil
	}

	// SANDBOX_PREPARE, SANDBOX_APPLY
	sb, err := sandbox.New(p.root, s.ACE.SandboxDir, c.logger)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", sandbox.ErrSandboxCopy, err)
	}
	if err := sb.Prepare(); err != nil {
		return Result{}, err
	}
	applied := sb.Apply(patches)
	if applied == 0 {
		res := Result{Status: StatusNoChanges, Errors: "no patches applied in sandbox", Failures: failures}
		return p.finish(c, res, processed.StatusNoChanges, "sandbox apply wrote no patches"), nil
	}

	// TEST
	timeout := time.Duration(s.ACE.MaxTestRuntimeSec) * time.Second
	tr := p.tests.Run(ctx, sb.Dir(), s.ACE.TestCommand, timeout)
	c.logger.WithFields(logrus.Fields{
		"passed":    tr.Passed,
		"exit_code": tr.ExitCode,
		"duration":  tr.Duration.String(),
	}).Info("sandbox tests finished")
	if err := interrupted(ctx, "test"); err != nil {
		return Result{}, err
	}

	tracker := mergestate.New(p.path(s.ACE.StateFile), s.ACE.AutoMergeThreshold,
		mergestate.WithClock(p.now), mergestate.WithLogger(c.logger))

	if !tr.Passed {
		state := p.updateMergeState(c, tracker, false)
		res := Result{Status: StatusFailTests, Errors: tr.Summary(), MergeState: state, Failures: failures}
		return p.finish(c, res, processed.StatusTestsFailed, tr.Output), nil
	}

	if dryRun {
		state := p.updateMergeState(c, tracker, true)
		res := Result{Status: StatusDryRunOK, AppliedPatchCount: applied, MergeState: state, Failures: failures}
		return p.finish(c, res, processed.StatusDryRunPassed, fmt.Sprintf("%d patches validated in sandbox", applied)), nil
	}

	if !s.ACE.AllowAutoApply {
		id, err := p.register(ctx, patches, applied)
		res := Result{Status: StatusAwaitingApproval, ProposalID: id, Failures: failures}
		if err != nil {
			c.logger.WithError(err).Warn("proposal registration failed")
			res.Errors = fmt.Sprintf("proposal registration failed: %v", err)
		}
		res.MergeState = p.updateMergeState(c, tracker, true)
		details := "proposal " + id
		if id == "" {
			details = res.Errors
		}
		return p.finish(c, res, processed.StatusAwaitingApproval, details), nil
	}

	written := sandbox.WritePatches(p.root, patches, c.logger)
	state := p.updateMergeState(c, tracker, true)
	res := Result{Status: StatusApplied, AppliedPatchCount: written, MergeState: state, Failures: failures}
	if state != nil && state.AutoMergeReady {
		res.Status = StatusAppliedAutoMergeReady
	}
	if written < len(patches) {
		res.Errors = fmt.Sprintf("%d of %d patches could not be written to the main tree", len(patches)-written, len(patches))
	}
	return p.finish(c, res, processed.StatusApplied, fmt.Sprintf("%d patches applied", written)), nil
}

func (p *Pipeline) plan(ctx context.Context, s config.Settings, files []types.CandidateFile) ([]types.Patch, []planner.FileFailure) {
	mem := p.memory
	if mem == nil {
		mem = memory.Open(p.path(s.FERS.MemoryPath), p.logger)
	}
	opts := []planner.Option{
		planner.WithRewriter(p.rewriter),
		planner.WithRecorder(mem),
		planner.WithCallTimeout(time.Duration(s.ACE.LlamaTimeoutSec) * time.Second),
		planner.WithLogger(p.logger),
	}
	if p.splitter != nil {
		opts = append(opts, planner.WithSplitter(p.splitter))
	}
	patches, failures := planner.New(p.root, BudgetsFromSettings(s.FERS), opts...).Plan(ctx, files)
	if ctx.Err() != nil {
		return patches, failures
	}
	if err := mem.Save(); err != nil {
		p.logger.WithError(err).Warn("evolution memory not saved")
	}
	return patches, failures
}

func (p *Pipeline) register(ctx context.Context, patches []types.Patch, applied int) (string, error) {
	if p.gateway == nil {
		return "", fmt.Errorf("no approval gateway configured")
	}
	content := proposalContent{SandboxResult: sandboxResult{Applied: applied, Tests: "passed"}}
	for _, pt := range patches {
		content.Patches = append(content.Patches, proposalPatch{File: pt.Path, NewCode: pt.Content, Strategy: string(pt.Strategy)})
	}
	return p.gateway.RegisterProposal(ctx, approval.KindPatches, content)
}

func (p *Pipeline) updateMergeState(c *cycle, tracker *mergestate.Tracker, success bool) *mergestate.State {
	state, err := tracker.Update(success)
	if err != nil {
		c.logger.WithError(err).Warn("merge state not saved")
	}
	return &state
}

// finish writes the single processed-log entry of a cycle.
func (p *Pipeline) finish(c *cycle, res Result, logStatus, details string) Result {
	res.Profile = c.settings.Profile
	res.Files = c.files
	entry := processed.Entry{
		TS:      float64(p.now().UnixNano()) / 1e9,
		Status:  logStatus,
		Files:   c.files,
		Details: truncate(details, 2000),
	}
	if err := c.log.Append(entry); err != nil {
		c.logger.WithError(err).Warn("processed log not written")
	}
	c.logger.WithFields(logrus.Fields{
		"status":  res.Status,
		"applied": res.AppliedPatchCount,
	}).Info("cycle finished")
	return res
}

// interrupted reports a cancelled or expired ctx as ErrInterrupted.
func interrupted(ctx context.Context, stage string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w during %s: %w", ErrInterrupted, stage, err)
	}
	return nil
}

func (p *Pipeline) path(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(p.root, filepath.FromSlash(rel))
}

// BudgetsFromSettings maps planner settings onto planner budgets.
func BudgetsFromSettings(f config.FERSSettings) planner.Budgets {
	return planner.Budgets{
		WholeFileLimit:   f.WholeFileTokenLimit,
		FileLimit:        f.SafeFileTokenLimit,
		FunctionLimit:    f.SafeFnTokenLimit,
		MaxFunctions:     f.MaxFunctions,
		ChunkSize:        f.ChunkSize,
		ChunkOverlap:     f.ChunkOverlap,
		WholeFileOutput:  f.MaxRewriteTokens,
		SmallPatchOutput: f.SmallPatchTokens,
		FunctionOutput:   f.FunctionTokens,
	}
}

func failureDetails(failures []planner.FileFailure) string {
	parts := make([]string, 0, len(failures))
	for _, f := range failures {
		parts = append(parts, f.Path+": "+f.Reason)
	}
	return strings.Join(parts, "; ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
