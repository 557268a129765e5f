package corruption

import (
	"image/color"
	"testing"
	"time"
)

func TestHeavyDetectorCleanFrame(t *testing.T) {
	res := NewHeavyDetector(0).Evaluate(noisePNG(t, 128))
	if res.Inconclusive {
		t.Fatalf("expected conclusive result")
	}
	if len(res.FailedChecks) != 0 {
		t.Fatalf("expected no failed checks, got %v", res.FailedChecks)
	}
}

func TestHeavyDetectorUniformFrame(t *testing.T) {
	res := NewHeavyDetector(0).Evaluate(uniformPNG(t, 128, color.RGBA{R: 40, G: 40, B: 40, A: 255}))
	var blocks, edges, entropy bool
	for _, c := range res.FailedChecks {
		switch c {
		case CheckUniformBlocks:
			blocks = true
		case CheckLowEdgeCount:
			edges = true
		case CheckLowEntropy:
			entropy = true
		}
	}
	if !blocks || !edges || !entropy {
		t.Fatalf("expected all heavy checks to fail, got %v", res.FailedChecks)
	}
	if res.Score != 0 {
		t.Fatalf("expected score 0, got %v", res.Score)
	}
}

func TestHeavyDetectorBudgetOverrun(t *testing.T) {
	d := NewHeavyDetector(time.Millisecond)
	// Clock jumps past the deadline on every check.
	base := time.Now()
	calls := 0
	d.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}
	res := d.Evaluate(noisePNG(t, 128))
	if !res.Inconclusive {
		t.Fatalf("expected inconclusive result on budget overrun")
	}
	if len(res.FailedChecks) != 0 {
		t.Fatalf("inconclusive result must not carry failed checks, got %v", res.FailedChecks)
	}
}

func TestHeavyDetectorUndecodable(t *testing.T) {
	res := NewHeavyDetector(0).Evaluate([]byte("not an image"))
	if res.Score != 0 || res.Inconclusive {
		t.Fatalf("expected conclusive zero score, got score=%v inconclusive=%v", res.Score, res.Inconclusive)
	}
}
