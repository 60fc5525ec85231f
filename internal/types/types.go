// Package types holds the values passed between pipeline stages.
package types

// Strategy names how a patch was produced.
type Strategy string

const (
	// StrategyWholeFile asks the rewriter to improve the entire file.
	StrategyWholeFile Strategy = "whole_file"

	// StrategySmallPatch asks the rewriter for a conservative change.
	StrategySmallPatch Strategy = "small_patch"

	// StrategyFunctionChunk rewrites leading functions, chunking oversized ones.
	StrategyFunctionChunk Strategy = "function_chunk"

	// StrategyMinimal is the local deterministic fallback.
	StrategyMinimal Strategy = "minimal"
)

// Evolution weights from the reference report.
const (
	WeightPrioritized   = 2.0
	WeightDefault       = 1.0
	WeightDeprioritized = 0.5
)

// CandidateFile is a source file selected for this cycle.
type CandidateFile struct {
	// Path is slash-separated and relative to the project root.
	Path      string  `json:"path"`
	Size      int64   `json:"size"`
	Attempted bool    `json:"attempted"`
	Weight    float64 `json:"weight"`
}

// EffectiveWeight returns Weight, or WeightDefault when unset.
func (c CandidateFile) EffectiveWeight() float64 {
	if c.Weight <= 0 {
		return WeightDefault
	}
	return c.Weight
}

// Patch is the full replacement content for one file.
type Patch struct {
	Path     string   `json:"path"`
	Content  string   `json:"content"`
	Strategy Strategy `json:"strategy"`
}
