// Package corruption classifies captured frames and maintains per-camera
// degraded-mode state. A fast detector always runs; a heavier analysis pass
// runs only for cameras that opt in, under a soft time budget.
package corruption

import (
	"bytes"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"
)

// Failed-check names recorded in detection details.
const (
	CheckDecodeFailed  = "decode_failed"
	CheckFileTooSmall  = "file_too_small"
	CheckUniformColor  = "uniform_color"
	CheckLowSharpness  = "low_sharpness"
	CheckUniformBlocks = "uniform_blocks"
	CheckLowEdgeCount  = "low_edge_density"
	CheckLowEntropy    = "low_entropy"
)

// CheckResult is one detector's output for a frame.
type CheckResult struct {
	Score        float64
	FailedChecks []string
	Details      map[string]any
}

// FastDetector runs cheap heuristics on every frame: size sanity, decode,
// uniform-color, and sharpness.
type FastDetector struct {
	MinFileSize   int64
	UniformStddev float64
	SharpnessMin  float64
	sampleGrid    int
}

// NewFastDetector builds a detector with default thresholds.
func NewFastDetector() *FastDetector {
	return &FastDetector{
		MinFileSize:   1024,
		UniformStddev: 4.0,
		SharpnessMin:  1.5,
		sampleGrid:    64,
	}
}

// Evaluate scores one encoded frame in [0,100], 100 meaning clean. A frame
// that cannot be decoded scores 0: a failed decode is corruption evidence,
// not an error.
func (d *FastDetector) Evaluate(frame []byte) CheckResult {
	res := CheckResult{Score: 100, Details: map[string]any{"file_size": len(frame)}}

	if int64(len(frame)) < d.MinFileSize {
		res.FailedChecks = append(res.FailedChecks, CheckFileTooSmall)
		res.Score -= 40
	}

	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		res.FailedChecks = append(res.FailedChecks, CheckDecodeFailed)
		res.Details["decode_error"] = err.Error()
		res.Score = 0
		return res
	}

	lum := sampleLuminance(img, d.sampleGrid)
	mean, stddev := meanStddev(lum.values)
	res.Details["luminance_mean"] = round2(mean)
	res.Details["luminance_stddev"] = round2(stddev)
	if stddev < d.UniformStddev {
		res.FailedChecks = append(res.FailedChecks, CheckUniformColor)
		res.Score -= 50
	}

	sharp := lum.meanGradient()
	res.Details["sharpness"] = round2(sharp)
	if sharp < d.SharpnessMin {
		res.FailedChecks = append(res.FailedChecks, CheckLowSharpness)
		res.Score -= 30
	}

	res.Score = clampScore(res.Score)
	return res
}

// lumGrid holds a downsampled luminance plane.
type lumGrid struct {
	values []float64
	w, h   int
}

func (g lumGrid) at(x, y int) float64 {
	return g.values[y*g.w+x]
}

// meanGradient is the mean absolute neighbor difference, a cheap stand-in for
// sharpness. Blurred or smeared frames come out near zero.
func (g lumGrid) meanGradient() float64 {
	if g.w < 2 || g.h < 2 {
		return 0
	}
	var sum float64
	var n int
	for y := 0; y < g.h-1; y++ {
		for x := 0; x < g.w-1; x++ {
			v := g.at(x, y)
			sum += math.Abs(v-g.at(x+1, y)) + math.Abs(v-g.at(x, y+1))
			n += 2
		}
	}
	return sum / float64(n)
}

// sampleLuminance reads up to grid x grid evenly spaced pixels.
func sampleLuminance(img image.Image, grid int) lumGrid {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < grid {
		grid = w
	}
	if h < grid {
		grid = h
	}
	if grid < 1 {
		grid = 1
	}
	out := lumGrid{values: make([]float64, 0, grid*grid), w: grid, h: grid}
	for gy := 0; gy < grid; gy++ {
		y := b.Min.Y + gy*h/grid
		for gx := 0; gx < grid; gx++ {
			x := b.Min.X + gx*w/grid
			r, g, bl, _ := img.At(x, y).RGBA()
			out.values = append(out.values, luminance(r, g, bl))
		}
	}
	return out
}

// luminance converts 16-bit RGBA channels to a 0-255 luma value.
func luminance(r, g, b uint32) float64 {
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 257.0
}

func meanStddev(vals []float64) (mean, stddev float64) {
	if len(vals) == 0 {
		return 0, 0
	}
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))
	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	return mean, math.Sqrt(sq / float64(len(vals)))
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
