package similarity

// Scorer rates how alike two frames are, from 0.0 (unrelated) to 1.0 (identical).
// Implementations must be deterministic and symmetric.
type Scorer interface {
	Score(a, b Fingerprint) float64
}

// HammingScorer scores fingerprints by the share of matching bits.
type HammingScorer struct{}

// Score implements Scorer.
func (HammingScorer) Score(a, b Fingerprint) float64 {
	return 1 - float64(Hamming(a, b))/64
}

// Filter decides whether a new frame differs enough from the last kept one.
type Filter struct {
	scorer Scorer
}

// NewFilter returns a Filter using scorer, or HammingScorer when nil.
func NewFilter(scorer Scorer) *Filter {
	if scorer == nil {
		scorer = HammingScorer{}
	}
	return &Filter{scorer: scorer}
}

// Score returns the similarity of a and b.
func (f *Filter) Score(a, b Fingerprint) float64 {
	return f.scorer.Score(a, b)
}

// ShouldKeep reports whether next should be stored.
// The first frame (no previous kept frame) is always kept; a score at or above
// threshold is a duplicate and is skipped.
func (f *Filter) ShouldKeep(next Fingerprint, prevKept *Fingerprint, threshold float64) bool {
	if prevKept == nil {
		return true
	}
	return f.scorer.Score(next, *prevKept) < threshold
}

// ShouldKeep applies the default Hamming filter.
func ShouldKeep(next Fingerprint, prevKept *Fingerprint, threshold float64) bool {
	return NewFilter(nil).ShouldKeep(next, prevKept, threshold)
}
