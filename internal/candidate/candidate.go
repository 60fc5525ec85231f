// Package candidate selects the source files handled in a cycle.
package candidate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ai4ohs/ace/internal/storage"
	"github.com/ai4ohs/ace/internal/types"
)

// Options controls discovery.
type Options struct {
	// SourceDir is scanned relative to the project root; empty scans the root.
	SourceDir string

	// IncludeExt keeps only these extensions; empty keeps every file.
	IncludeExt []string

	// ExcludeDirs disqualifies any path containing one of these segments.
	ExcludeDirs []string

	// Attempted holds paths named by earlier processed-log entries.
	Attempted map[string]bool
}

// Discover returns candidate files ordered never-attempted first, then by
// ascending size, then by path, truncated to maxFiles when maxFiles > 0.
// A missing source directory yields no candidates.
func Discover(projectRoot string, maxFiles int, opts Options) ([]types.CandidateFile, error) {
	base := filepath.Join(projectRoot, filepath.FromSlash(opts.SourceDir))
	if _, err := os.Stat(base); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	exclude := make(map[string]bool, len(opts.ExcludeDirs))
	for _, d := range opts.ExcludeDirs {
		if d = strings.Trim(filepath.ToSlash(d), "/"); d != "" {
			exclude[d] = true
		}
	}
	include := make(map[string]bool, len(opts.IncludeExt))
	for _, ext := range opts.IncludeExt {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		if ext != "" {
			include[ext] = true
		}
	}

	var out []types.CandidateFile
	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(projectRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if path != base && exclude[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if excluded(rel, exclude) || strings.HasPrefix(d.Name(), "test_") {
			return nil
		}
		if len(include) > 0 && !include[strings.ToLower(filepath.Ext(rel))] {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Size() == 0 {
			return nil
		}

		out = append(out, types.CandidateFile{
			Path:      rel,
			Size:      info.Size(),
			Attempted: opts.Attempted[rel],
			Weight:    types.WeightDefault,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover candidates under %s: %w", base, err)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Attempted != b.Attempted {
			return !a.Attempted
		}
		if a.Size != b.Size {
			return a.Size < b.Size
		}
		return a.Path < b.Path
	})
	if maxFiles > 0 && len(out) > maxFiles {
		out = out[:maxFiles]
	}
	return out, nil
}

// excluded reports whether any segment of rel is in the exclusion set.
func excluded(rel string, exclude map[string]bool) bool {
	for _, seg := range strings.Split(rel, "/") {
		if exclude[seg] {
			return true
		}
	}
	return false
}

type reportEntry struct {
	Path   string  `json:"path"`
	Reason string  `json:"reason,omitempty"`
	Score  float64 `json:"score,omitempty"`
}

type refReport struct {
	CandidateIntegrate []reportEntry `json:"candidate_integrate"`
	CandidatePrune     []reportEntry `json:"candidate_prune"`
}

// LoadWeights reads the reference report. Integrate candidates weigh 2.0,
// prune candidates 0.5; a missing report yields no weights.
func LoadWeights(reportPath string) (map[string]float64, error) {
	var r refReport
	if err := storage.ReadJSON(reportPath, &r); err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return map[string]float64{}, nil
		}
		return map[string]float64{}, err
	}
	weights := make(map[string]float64, len(r.CandidateIntegrate)+len(r.CandidatePrune))
	for _, e := range r.CandidatePrune {
		weights[filepath.ToSlash(e.Path)] = types.WeightDeprioritized
	}
	for _, e := range r.CandidateIntegrate {
		weights[filepath.ToSlash(e.Path)] = types.WeightPrioritized
	}
	return weights, nil
}

// ApplyWeights sets each candidate's weight from weights, defaulting to 1.0.
func ApplyWeights(files []types.CandidateFile, weights map[string]float64) []types.CandidateFile {
	for i := range files {
		w, ok := weights[files[i].Path]
		if !ok || w <= 0 {
			w = types.WeightDefault
		}
		files[i].Weight = w
	}
	return files
}
