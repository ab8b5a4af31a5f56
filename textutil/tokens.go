// Package textutil provides token estimation, truncation and identifier
// safety helpers shared by the chunking and embedding pipeline.
//
// Token counts are estimated with the chars/4 heuristic rather than a real
// tokenizer. The Estimator interface lets callers substitute an accurate
// tokenizer without touching the batching algorithms built on top.
package textutil

// Estimator estimates token counts for provider budget decisions.
type Estimator interface {
	EstimateTokens(text string) int
}

// HeuristicEstimator estimates tokens as ceil(len/4). This tracks the rough
// 4-chars-per-token average of English text under BPE tokenizers; it errs
// high for code and low for CJK, which the safety margin absorbs.
type HeuristicEstimator struct{}

// EstimateTokens returns ceil(len(text)/4).
func (HeuristicEstimator) EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateTokens estimates the token count of text using the chars/4 heuristic.
func EstimateTokens(text string) int {
	return HeuristicEstimator{}.EstimateTokens(text)
}

// EstimateTokensForAll returns the summed token estimate over texts.
func EstimateTokensForAll(texts []string) int {
	total := 0
	for _, t := range texts {
		total += EstimateTokens(t)
	}
	return total
}

// IsWithinLimit reports whether the summed token estimate of texts fits
// within safeLimit.
func IsWithinLimit(texts []string, safeLimit int) bool {
	return EstimateTokensForAll(texts) <= safeLimit
}

// FindMaxBatchSize returns the largest prefix length of texts whose summed
// token estimate fits safeLimit, scanning downward from min(startHint,
// len(texts)). It never returns 0: if even a single item might be borderline
// it returns 1 and lets the downstream truncation step protect against
// provider rejection.
func FindMaxBatchSize(texts []string, startHint int, safeLimit int) int {
	if len(texts) == 0 {
		return 1
	}

	size := startHint
	if size > len(texts) {
		size = len(texts)
	}
	for ; size > 1; size-- {
		if IsWithinLimit(texts[:size], safeLimit) {
			return size
		}
	}
	return 1
}
