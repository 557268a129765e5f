package corruption

// Composite folds the detector outputs into the single [0,100] score the
// keep/flag/discard decision is made on.
//
// Heavy disabled or inconclusive: the fast score stands alone. Heavy ran and
// either detector reported a failed check: the lower score wins - a single
// failing signal dominates. Both clean: the two scores are averaged.
func Composite(fast CheckResult, heavy *HeavyResult) float64 {
	if heavy == nil || heavy.Inconclusive {
		return clampScore(fast.Score)
	}
	if len(fast.FailedChecks) > 0 || len(heavy.FailedChecks) > 0 {
		return clampScore(minScore(fast.Score, heavy.Score))
	}
	return clampScore((fast.Score + heavy.Score) / 2)
}

func minScore(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
