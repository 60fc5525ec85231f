package planner

import "github.com/ai4ohs/ace/internal/types"

// EstimateTokens approximates a token count as one token per four bytes.
// It is not a tokenizer; it only needs to be monotonic and cheap.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return max(1, len(text)/4)
}

// SelectStrategy maps an estimated cost onto a strategy using the
// whole-file limit t1 and the file budget t2.
func SelectStrategy(cost, t1, t2 int) types.Strategy {
	switch {
	case cost <= t1:
		return types.StrategyWholeFile
	case cost <= t2:
		return types.StrategySmallPatch
	default:
		return types.StrategyFunctionChunk
	}
}
