package corruption

import (
	"bytes"
	"image"
	"math"
	"time"
)

// HeavyResult extends a detector result with the inconclusive flag set when
// the time budget ran out before all checks finished.
type HeavyResult struct {
	CheckResult
	Inconclusive bool
}

// HeavyDetector runs more expensive analysis: block-uniformity, edge density,
// and histogram entropy. It carries a soft time budget; exceeding it marks
// the result inconclusive and the caller falls back to the fast score. The
// heavy pass must never block the capture workflow.
type HeavyDetector struct {
	Budget        time.Duration
	BlockGrid     int
	BlockVarMin   float64
	UniformRatio  float64
	EdgeThreshold float64
	EdgeRatioMin  float64
	EntropyMin    float64
	sampleGrid    int
	now           func() time.Time
}

// NewHeavyDetector builds a detector with default thresholds and the given
// time budget.
func NewHeavyDetector(budget time.Duration) *HeavyDetector {
	return &HeavyDetector{
		Budget:        budget,
		BlockGrid:     8,
		BlockVarMin:   2.0,
		UniformRatio:  0.5,
		EdgeThreshold: 20.0,
		EdgeRatioMin:  0.01,
		EntropyMin:    3.0,
		sampleGrid:    128,
		now:           time.Now,
	}
}

// Evaluate scores one encoded frame. Stages check the budget between passes;
// a budget overrun yields Inconclusive rather than a partial score.
func (d *HeavyDetector) Evaluate(frame []byte) HeavyResult {
	deadline := d.now().Add(d.Budget)
	res := HeavyResult{CheckResult: CheckResult{Score: 100, Details: map[string]any{}}}

	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		res.FailedChecks = append(res.FailedChecks, CheckDecodeFailed)
		res.Details["decode_error"] = err.Error()
		res.Score = 0
		return res
	}
	if d.overBudget(deadline) {
		res.Inconclusive = true
		return res
	}

	lum := sampleLuminance(img, d.sampleGrid)

	uniformRatio := d.uniformBlockRatio(lum)
	res.Details["uniform_block_ratio"] = round2(uniformRatio)
	if uniformRatio > d.UniformRatio {
		res.FailedChecks = append(res.FailedChecks, CheckUniformBlocks)
		res.Score -= 40
	}
	if d.overBudget(deadline) {
		res.Inconclusive = true
		return res
	}

	edgeRatio := d.edgeRatio(lum)
	res.Details["edge_ratio"] = round2(edgeRatio)
	if edgeRatio < d.EdgeRatioMin {
		res.FailedChecks = append(res.FailedChecks, CheckLowEdgeCount)
		res.Score -= 30
	}
	if d.overBudget(deadline) {
		res.Inconclusive = true
		return res
	}

	entropy := histogramEntropy(lum.values)
	res.Details["entropy"] = round2(entropy)
	if entropy < d.EntropyMin {
		res.FailedChecks = append(res.FailedChecks, CheckLowEntropy)
		res.Score -= 30
	}

	res.Score = clampScore(res.Score)
	return res
}

func (d *HeavyDetector) overBudget(deadline time.Time) bool {
	return d.Budget > 0 && d.now().After(deadline)
}

// uniformBlockRatio splits the sampled plane into BlockGrid x BlockGrid
// blocks and returns the fraction whose variance is near zero. Frozen or
// smeared frames show large runs of dead blocks.
func (d *HeavyDetector) uniformBlockRatio(g lumGrid) float64 {
	grid := d.BlockGrid
	if g.w < grid || g.h < grid {
		return 0
	}
	bw, bh := g.w/grid, g.h/grid
	var uniform, total int
	for by := 0; by < grid; by++ {
		for bx := 0; bx < grid; bx++ {
			var vals []float64
			for y := by * bh; y < (by+1)*bh; y++ {
				for x := bx * bw; x < (bx+1)*bw; x++ {
					vals = append(vals, g.at(x, y))
				}
			}
			_, stddev := meanStddev(vals)
			if stddev < d.BlockVarMin {
				uniform++
			}
			total++
		}
	}
	return float64(uniform) / float64(total)
}

// edgeRatio is the fraction of sample points whose gradient magnitude
// exceeds the edge threshold.
func (d *HeavyDetector) edgeRatio(g lumGrid) float64 {
	if g.w < 2 || g.h < 2 {
		return 0
	}
	var edges, total int
	for y := 0; y < g.h-1; y++ {
		for x := 0; x < g.w-1; x++ {
			v := g.at(x, y)
			gx := v - g.at(x+1, y)
			gy := v - g.at(x, y+1)
			if math.Sqrt(gx*gx+gy*gy) > d.EdgeThreshold {
				edges++
			}
			total++
		}
	}
	return float64(edges) / float64(total)
}

// histogramEntropy computes Shannon entropy over a 64-bin luminance
// histogram, in bits. Heavily corrupted frames collapse to a few bins.
func histogramEntropy(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	const bins = 64
	var hist [bins]int
	for _, v := range vals {
		idx := int(v / 256.0 * bins)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		hist[idx]++
	}
	var entropy float64
	n := float64(len(vals))
	for _, count := range hist {
		if count == 0 {
			continue
		}
		p := float64(count) / n
		entropy -= p * math.Log2(p)
	}
	return entropy
}
