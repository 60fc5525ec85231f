// Package planner turns candidate files into patches. Each file gets one
// strategy chosen from its estimated size; remote rewrites cascade toward a
// local deterministic fallback so every readable file yields a patch.
package planner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ai4ohs/ace/internal/memory"
	"github.com/ai4ohs/ace/internal/rewrite"
	"github.com/ai4ohs/ace/internal/types"
	"github.com/ai4ohs/ace/internal/worker"
	"github.com/sirupsen/logrus"
)

// Budgets are the size limits and output budgets, in estimated tokens.
type Budgets struct {
	WholeFileLimit   int // T1
	FileLimit        int // T2
	FunctionLimit    int
	MaxFunctions     int // K
	ChunkSize        int // bytes
	ChunkOverlap     int // bytes
	WholeFileOutput  int
	SmallPatchOutput int
	FunctionOutput   int
}

// DefaultBudgets returns the stock limits.
func DefaultBudgets() Budgets {
	return Budgets{
		WholeFileLimit:   600,
		FileLimit:        3000,
		FunctionLimit:    1200,
		MaxFunctions:     3,
		ChunkSize:        1000,
		ChunkOverlap:     100,
		WholeFileOutput:  800,
		SmallPatchOutput: 600,
		FunctionOutput:   400,
	}
}

// FileFailure records a candidate that produced no patch.
type FileFailure struct {
	Path   string `json:"path" yaml:"path"`
	Reason string `json:"reason" yaml:"reason"`
}

// Planner produces patches for candidate files under a project root.
type Planner struct {
	root        string
	budgets     Budgets
	rewriter    rewrite.Rewriter
	splitter    Splitter
	recorder    memory.Recorder
	callTimeout time.Duration
	readers     int
	logger      logrus.FieldLogger
}

// Option configures a Planner.
type Option func(*Planner)

// WithRewriter sets the rewrite collaborator. Without one every remote
// strategy is treated as unavailable.
func WithRewriter(r rewrite.Rewriter) Option {
	return func(p *Planner) {
		p.rewriter = r
	}
}

// WithSplitter replaces the function splitter.
func WithSplitter(s Splitter) Option {
	return func(p *Planner) {
		if s != nil {
			p.splitter = s
		}
	}
}

// WithRecorder sets where per-file outcomes are recorded.
func WithRecorder(r memory.Recorder) Option {
	return func(p *Planner) {
		p.recorder = r
	}
}

// WithCallTimeout bounds each rewrite call.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Planner) {
		p.callTimeout = d
	}
}

// WithReaders bounds how many files are read at once (<= 0 = NumCPU).
func WithReaders(n int) Option {
	return func(p *Planner) {
		p.readers = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger logrus.FieldLogger) Option {
	return func(p *Planner) {
		p.logger = logger
	}
}

// New returns a planner reading files under root.
func New(root string, budgets Budgets, opts ...Option) *Planner {
	p := &Planner{
		root:     root,
		budgets:  budgets,
		splitter: HeaderScanSplitter{},
		recorder: nopRecorder{},
		logger:   logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Plan processes files in order and returns one patch per file that could be
// read, plus the files that failed. A failure never stops the batch.
func (p *Planner) Plan(ctx context.Context, files []types.CandidateFile) ([]types.Patch, []FileFailure) {
	var patches []types.Patch
	var failures []FileFailure
	sources := p.readSources(ctx, files)
	for i, f := range files {
		patch, err := p.planFile(ctx, f, sources[i])
		if err != nil {
			p.logger.WithField("path", f.Path).WithError(err).Warn("planning failed")
			p.recorder.RecordFailure(f.Path, "", err.Error())
			failures = append(failures, FileFailure{Path: f.Path, Reason: err.Error()})
			continue
		}
		p.recorder.RecordSuccess(f.Path, string(patch.Strategy))
		patches = append(patches, patch)
	}
	p.logger.WithFields(logrus.Fields{
		"files":    len(files),
		"patches":  len(patches),
		"failures": len(failures),
	}).Info("planning complete")
	return patches, failures
}

// readSources loads every candidate concurrently. Rewrites stay sequential.
func (p *Planner) readSources(ctx context.Context, files []types.CandidateFile) []worker.Result[string] {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = filepath.Join(p.root, filepath.FromSlash(f.Path))
	}
	return worker.NewPool[string, string](p.readers).Process(ctx, paths, func(path string) (string, error) {
		data, err := os.ReadFile(path)
		return string(data), err
	})
}

func (p *Planner) planFile(ctx context.Context, f types.CandidateFile, src worker.Result[string]) (patch types.Patch, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if src.Err != nil {
		return types.Patch{}, fmt.Errorf("read_error: %w", src.Err)
	}
	content := src.Value
	if content == "" {
		return types.Patch{}, fmt.Errorf("no_content")
	}

	cost := EstimateTokens(content)
	strategy := SelectStrategy(cost, p.budgets.WholeFileLimit, p.budgets.FileLimit)
	log := p.logger.WithFields(logrus.Fields{
		"path":     f.Path,
		"tokens":   cost,
		"strategy": strategy,
		"weight":   f.EffectiveWeight(),
	})
	log.Debug("strategy selected")

	var (
		out  string
		used types.Strategy
	)
	switch strategy {
	case types.StrategyWholeFile:
		if code, ok := p.wholeFile(ctx, f, content, cost, log); ok {
			out, used = code, types.StrategyWholeFile
		} else {
			out, used = p.smallPatch(ctx, f, content, cost, log)
		}
	case types.StrategySmallPatch:
		out, used = p.smallPatch(ctx, f, content, cost, log)
	default:
		if code, ok := p.functionChunk(ctx, f, content, log); ok {
			out, used = code, types.StrategyFunctionChunk
		} else {
			out, used = MinimalAutopatch(content), types.StrategyMinimal
		}
	}

	log.WithField("produced_by", used).Info("patch planned")
	return types.Patch{Path: f.Path, Content: out, Strategy: used}, nil
}

// call invokes the rewriter under the per-call timeout.
func (p *Planner) call(ctx context.Context, prompt string, maxOutput int) (string, error) {
	if p.rewriter == nil {
		return "", rewrite.ErrUnavailable
	}
	if p.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
	}
	return p.rewriter.Rewrite(ctx, prompt, maxOutput)
}

// wholeFile asks for a rewrite of the entire file. It reports false when
// the call fails, the answer is unchanged, or either side exceeds the file budget.
func (p *Planner) wholeFile(ctx context.Context, f types.CandidateFile, content string, cost int, log logrus.FieldLogger) (string, bool) {
	if cost > p.budgets.FileLimit {
		return "", false
	}
	raw, err := p.call(ctx, wholeFilePrompt(f, content), p.budgets.WholeFileOutput)
	if err != nil {
		log.WithError(err).Debug("whole-file rewrite failed")
		return "", false
	}
	code := ExtractCode(raw)
	if code == "" || strings.TrimSpace(code) == strings.TrimSpace(content) {
		return "", false
	}
	if EstimateTokens(code) > p.budgets.FileLimit {
		log.Debug("whole-file rewrite over budget")
		return "", false
	}
	return withTrailingNewline(code), true
}

// smallPatch asks for a conservative change and falls back to the local
// autopatch. The file budget is re-checked here as well as in wholeFile.
func (p *Planner) smallPatch(ctx context.Context, f types.CandidateFile, content string, cost int, log logrus.FieldLogger) (string, types.Strategy) {
	if cost > p.budgets.FileLimit {
		return MinimalAutopatch(content), types.StrategyMinimal
	}
	raw, err := p.call(ctx, smallPatchPrompt(f, content), p.budgets.SmallPatchOutput)
	if err != nil {
		log.WithError(err).Debug("small-patch rewrite failed")
		return MinimalAutopatch(content), types.StrategyMinimal
	}
	code := ExtractCode(raw)
	if code == "" || strings.TrimSpace(code) == strings.TrimSpace(content) {
		return MinimalAutopatch(content), types.StrategyMinimal
	}
	return withTrailingNewline(code), types.StrategySmallPatch
}

type edit struct {
	start, end int
	body       string
}

// functionChunk rewrites the first K functions in place. It reports false
// when no function changed.
func (p *Planner) functionChunk(ctx context.Context, f types.CandidateFile, content string, log logrus.FieldLogger) (string, bool) {
	text := "\n" + content
	spans := p.splitter.Split(text)
	if len(spans) == 0 {
		log.Debug("no functions found")
		return "", false
	}
	if k := p.budgets.MaxFunctions; k > 0 && len(spans) > k {
		spans = spans[:k]
	}

	var edits []edit
	for _, sp := range spans {
		if sp.Start < 0 || sp.End > len(text) || sp.Start >= sp.End {
			continue
		}
		body := text[sp.Start:sp.End]
		cost := EstimateTokens(body)

		var (
			newBody string
			ok      bool
		)
		if cost <= p.budgets.FunctionLimit {
			newBody, ok = p.rewriteFunction(ctx, f.Path, sp.Name, body)
		} else {
			newBody, ok = p.rewriteChunks(ctx, f.Path, sp.Name, body)
			if !ok {
				p.recorder.RecordFunctionSkip(f.Path, sp.Name, fmt.Sprintf("too_large:%d", cost))
			}
		}
		if ok {
			edits = append(edits, edit{start: sp.Start, end: sp.End, body: newBody})
		}
	}
	if len(edits) == 0 {
		return "", false
	}

	// Splice from the end so earlier offsets stay valid.
	sort.Slice(edits, func(i, j int) bool { return edits[i].start > edits[j].start })
	updated := text
	for _, e := range edits {
		updated = updated[:e.start] + "\n" + e.body + "\n" + updated[e.end:]
	}
	if strings.TrimSpace(updated) == strings.TrimSpace(content) {
		return "", false
	}
	return withTrailingNewline(strings.TrimLeft(updated, "\n")), true
}

func (p *Planner) rewriteFunction(ctx context.Context, path, name, body string) (string, bool) {
	raw, err := p.call(ctx, functionPrompt(path, name, body), p.budgets.FunctionOutput)
	if err != nil {
		p.recorder.RecordFunctionSkip(path, name, "rewrite_error")
		return "", false
	}
	code := ExtractCode(raw)
	if code == "" || strings.TrimSpace(code) == strings.TrimSpace(body) {
		return "", false
	}
	return code, true
}

// rewriteChunks rewrites an oversized function chunk by chunk and joins the
// results in order. Chunks that are too large or fail stay as they were.
func (p *Planner) rewriteChunks(ctx context.Context, path, name, body string) (string, bool) {
	chunks := ChunkText(body, p.budgets.ChunkSize, p.budgets.ChunkOverlap)
	out := make([]string, 0, len(chunks))
	changed := false
	for i, ch := range chunks {
		if EstimateTokens(ch) > p.budgets.FunctionLimit {
			out = append(out, ch)
			continue
		}
		raw, err := p.call(ctx, chunkPrompt(path, name, i, ch), p.budgets.FunctionOutput)
		if err != nil {
			out = append(out, ch)
			continue
		}
		code := ExtractCode(raw)
		if code == "" {
			out = append(out, ch)
			continue
		}
		if code != strings.Trim(ch, "\n\r ") {
			changed = true
		}
		out = append(out, code)
	}
	if !changed {
		return "", false
	}
	joined := strings.Join(out, "")
	if strings.TrimSpace(joined) == strings.TrimSpace(body) {
		return "", false
	}
	return joined, true
}

func withTrailingNewline(s string) string {
	if strings.HasSuffix(s, "\n") {
		return s
	}
	return s + "\n"
}

type nopRecorder struct{}

func (nopRecorder) RecordSuccess(string, string)              {}
func (nopRecorder) RecordFailure(string, string, string)      {}
func (nopRecorder) RecordFunctionSkip(string, string, string) {}
