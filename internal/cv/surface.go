package cv

import (
	"image"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"jordanella.com/screen-locator/pkg/templates"
)

// Surface holds one score per candidate top-left position of the template within the
// searched image. Row index is y, column index is x.
type Surface struct {
	Method MatchMethod
	scores *mat.Dense
}

// NewSurface wraps a score matrix produced for method
func NewSurface(method MatchMethod, scores *mat.Dense) *Surface {
	return &Surface{Method: method, scores: scores}
}

// Dims returns the surface width and height
func (s *Surface) Dims() (width, height int) {
	rows, cols := s.scores.Dims()
	return cols, rows
}

// At returns the score for the template placed with its top-left corner at (x, y)
func (s *Surface) At(x, y int) float64 {
	return s.scores.At(y, x)
}

// Best returns the best-scoring position according to the method's direction. Ties go
// to the first position in row-major order.
func (s *Surface) Best() (image.Point, float64) {
	data := s.scores.RawMatrix().Data
	var idx int
	if s.Method.HigherIsBetter() {
		idx = floats.MaxIdx(data)
	} else {
		idx = floats.MinIdx(data)
	}
	_, cols := s.scores.Dims()
	return image.Point{X: idx % cols, Y: idx / cols}, data[idx]
}

// Above returns every position whose score passes threshold, in reverse row-major order.
// Neighbouring positions around one true match are all reported.
func (s *Surface) Above(threshold float64) []image.Point {
	data := s.scores.RawMatrix().Data
	_, cols := s.scores.Dims()
	higher := s.Method.HigherIsBetter()

	var points []image.Point
	for i := len(data) - 1; i >= 0; i-- {
		if passes(data[i], threshold, higher) {
			points = append(points, image.Point{X: i % cols, Y: i / cols})
		}
	}
	return points
}

func passes(score, threshold float64, higherIsBetter bool) bool {
	if higherIsBetter {
		return score >= threshold
	}
	return score <= threshold
}

// Correlator computes a correlation surface for a template over an image. The image may
// be a sub-image; the surface is relative to its bounds.
type Correlator interface {
	Correlate(img *image.RGBA, tmpl *templates.TemplateImage, method MatchMethod, useMask bool) (*Surface, error)
}

// NativeCorrelator is a pure-Go correlator. Rows of the surface are computed in parallel.
type NativeCorrelator struct {
	Workers int // 0 = GOMAXPROCS
}

// templateStats holds the template side of every correlation sum, restricted to the
// pixels the mask lets through
type templateStats struct {
	points  []image.Point // Active template pixels
	offsets []int         // Pix offsets of points within the searched image
	values  [][3]float64  // RGB of active pixels
	centred [][3]float64  // RGB minus the per-channel mean
	sumSq   float64       // Σ T²
	cSumSq  float64       // Σ T'²
}

func newTemplateStats(tmpl *templates.TemplateImage, useMask bool) *templateStats {
	img := tmpl.Image
	w, h := tmpl.Width(), tmpl.Height()
	ts := &templateStats{}

	var mean [3]float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*img.Stride + x*4
			if useMask && img.Pix[idx+3] == 0 {
				continue
			}
			v := [3]float64{float64(img.Pix[idx]), float64(img.Pix[idx+1]), float64(img.Pix[idx+2])}
			ts.points = append(ts.points, image.Point{X: x, Y: y})
			ts.values = append(ts.values, v)
			for c := 0; c < 3; c++ {
				mean[c] += v[c]
				ts.sumSq += v[c] * v[c]
			}
		}
	}

	n := float64(len(ts.values))
	if n > 0 {
		for c := 0; c < 3; c++ {
			mean[c] /= n
		}
	}
	ts.centred = make([][3]float64, len(ts.values))
	for i, v := range ts.values {
		for c := 0; c < 3; c++ {
			d := v[c] - mean[c]
			ts.centred[i][c] = d
			ts.cSumSq += d * d
		}
	}
	return ts
}

// Correlate implements Correlator
func (nc *NativeCorrelator) Correlate(img *image.RGBA, tmpl *templates.TemplateImage, method MatchMethod, useMask bool) (*Surface, error) {
	bounds := img.Bounds()
	cols := bounds.Dx() - tmpl.Width() + 1
	rows := bounds.Dy() - tmpl.Height() + 1
	if cols <= 0 || rows <= 0 {
		return nil, &InvalidFrameError{Reason: "search area smaller than template"}
	}

	ts := newTemplateStats(tmpl, useMask)
	ts.offsets = make([]int, len(ts.points))
	for i, p := range ts.points {
		ts.offsets[i] = p.Y*img.Stride + p.X*4
	}

	data := make([]float64, rows*cols)

	workers := nc.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for y := 0; y < rows; y++ {
		g.Go(func() error {
			row := data[y*cols : (y+1)*cols]
			for x := 0; x < cols; x++ {
				base := img.PixOffset(bounds.Min.X+x, bounds.Min.Y+y)
				row[x] = scoreAt(img.Pix, base, ts, method)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return NewSurface(method, mat.NewDense(rows, cols, data)), nil
}

// scoreAt evaluates one placement. base is the Pix offset of the placement's top-left.
func scoreAt(pix []uint8, base int, ts *templateStats, method MatchMethod) float64 {
	var sqDiff, cross, winSq, centredCross float64
	var winSum [3]float64

	for i, off := range ts.offsets {
		p := pix[base+off : base+off+3 : base+off+3]
		t := &ts.values[i]
		tc := &ts.centred[i]
		for c := 0; c < 3; c++ {
			v := float64(p[c])
			d := t[c] - v
			sqDiff += d * d
			cross += t[c] * v
			winSq += v * v
			winSum[c] += v
			centredCross += tc[c] * v
		}
	}

	switch method {
	case MethodSqDiff:
		return sqDiff
	case MethodSqDiffNormed:
		return normalize(sqDiff, math.Sqrt(ts.sumSq*winSq), method)
	case MethodCCorr:
		return cross
	case MethodCCorrNormed:
		return normalize(cross, math.Sqrt(ts.sumSq*winSq), method)
	case MethodCCoeff:
		// Σ T'·(I - mean(I)) == Σ T'·I because Σ T' == 0
		return centredCross
	case MethodCCoeffNormed:
		n := float64(len(ts.offsets))
		var winVar float64
		if n > 0 {
			winVar = winSq
			for c := 0; c < 3; c++ {
				winVar -= winSum[c] * winSum[c] / n
			}
			winVar = math.Max(winVar, 0)
		}
		return normalize(centredCross, math.Sqrt(ts.cSumSq*winVar), method)
	}
	return 0
}

// normalize divides num by denom keeping normalised methods inside their range when
// rounding pushes |num| slightly past denom, and scoring a zero denominator as "no
// correlation" (0) or "maximal difference" (1).
func normalize(num, denom float64, method MatchMethod) float64 {
	switch {
	case math.Abs(num) < denom:
		return num / denom
	case math.Abs(num) < denom*1.125:
		if num > 0 {
			return 1
		}
		return -1
	case method == MethodSqDiffNormed:
		return 1
	default:
		return 0
	}
}
