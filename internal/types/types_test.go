package types

import "testing"

func TestEffectiveWeight(t *testing.T) {
	if w := (CandidateFile{}).EffectiveWeight(); w != WeightDefault {
		t.Errorf("zero weight = %v, want %v", w, WeightDefault)
	}
	if w := (CandidateFile{Weight: WeightPrioritized}).EffectiveWeight(); w != WeightPrioritized {
		t.Errorf("weight = %v, want %v", w, WeightPrioritized)
	}
}
