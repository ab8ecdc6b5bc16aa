package cv

import (
	"errors"
	"image"
	"image/color"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jordanella.com/screen-locator/pkg/templates"
)

var (
	red   = color.NRGBA{255, 0, 0, 255}
	black = color.RGBA{0, 0, 0, 255}
)

func blankFrame(w, h int, c color.RGBA) *Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return &Frame{Image: img, Channels: 3, CapturedAt: time.Now()}
}

func solidTemplate(t *testing.T, id string, w, h int, c color.NRGBA) *templates.TemplateImage {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	tmpl, err := templates.NewTemplateImage(id, img)
	require.NoError(t, err)
	return tmpl
}

// noiseTemplate returns a template with random opaque pixels
func noiseTemplate(t *testing.T, rng *rand.Rand, id string, w, h int) *templates.TemplateImage {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	tmpl, err := templates.NewTemplateImage(id, img)
	require.NoError(t, err)
	return tmpl
}

func noiseFrame(rng *rand.Rand, w, h int) *Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = uint8(rng.Intn(256))
		img.Pix[i+1] = uint8(rng.Intn(256))
		img.Pix[i+2] = uint8(rng.Intn(256))
		img.Pix[i+3] = 255
	}
	return &Frame{Image: img, Channels: 3}
}

// paste copies the template's RGB into frame at (x, y), ignoring alpha
func paste(frame *Frame, tmpl *templates.TemplateImage, x, y int) {
	for ty := 0; ty < tmpl.Height(); ty++ {
		for tx := 0; tx < tmpl.Width(); tx++ {
			c := tmpl.Image.NRGBAAt(tx, ty)
			frame.Image.SetRGBA(x+tx, y+ty, color.RGBA{c.R, c.G, c.B, 255})
		}
	}
}

func optsWith(fn func(*MatchOptions)) MatchOptions {
	o := DefaultMatchOptions()
	fn(&o)
	return o
}

func TestMatchBestRedSquare(t *testing.T) {
	engine := NewEngine(nil, nil)
	frame := blankFrame(100, 100, black)
	tmpl := solidTemplate(t, "red", 10, 10, red)
	paste(frame, tmpl, 40, 25)

	result, err := engine.MatchBest(frame, tmpl, DefaultMatchOptions())
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, 40, result.X)
	assert.Equal(t, 25, result.Y)
	assert.InDelta(t, 1.0, result.Score, 1e-9)

	centered, err := engine.MatchBest(frame, tmpl, optsWith(func(o *MatchOptions) { o.Center = true }))
	require.NoError(t, err)
	assert.True(t, centered.Matched)
	assert.Equal(t, image.Pt(45, 30), centered.Point())
}

func TestMatchBestNoMatch(t *testing.T) {
	engine := NewEngine(nil, nil)
	frame := blankFrame(60, 60, color.RGBA{0, 0, 255, 255})
	tmpl := solidTemplate(t, "red", 10, 10, red)

	result, err := engine.MatchBest(frame, tmpl, DefaultMatchOptions())
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Less(t, result.Score, 0.9)
	assert.Equal(t, image.Point{}, result.Point())
}

func TestFlatWindowsNeverProduceNaN(t *testing.T) {
	engine := NewEngine(nil, nil)
	frame := blankFrame(30, 30, black)
	tmpl := solidTemplate(t, "grey", 5, 5, color.NRGBA{128, 128, 128, 255})

	for m := range methodNames {
		surface, _, err := engine.Surface(frame, tmpl, optsWith(func(o *MatchOptions) { o.Method = m }))
		require.NoError(t, err, m.String())
		w, h := surface.Dims()
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				require.False(t, math.IsNaN(surface.At(x, y)), "%v produced NaN at (%d,%d)", m, x, y)
			}
		}
	}

	// Zero denominators: no correlation, or maximal difference
	result, err := engine.MatchBest(frame, tmpl, DefaultMatchOptions())
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Score)

	result, err = engine.MatchBest(frame, tmpl, optsWith(func(o *MatchOptions) {
		o.Method = MethodSqDiffNormed
		o.Threshold = 0.1
	}))
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Equal(t, 1.0, result.Score)
}

func TestMatchAllPlantedCopies(t *testing.T) {
	engine := NewEngine(nil, nil)
	frame := blankFrame(100, 100, black)
	tmpl := solidTemplate(t, "red", 10, 10, red)
	paste(frame, tmpl, 10, 10)
	paste(frame, tmpl, 60, 60)

	// Shifting by one pixel scores sqrt(0.9), so 0.99 leaves exactly the planted copies
	points, err := engine.MatchAll(frame, tmpl, optsWith(func(o *MatchOptions) { o.Threshold = 0.99 }))
	require.NoError(t, err)
	if diff := cmp.Diff([]image.Point{{60, 60}, {10, 10}}, points); diff != "" {
		t.Errorf("MatchAll mismatch (-want +got):\n%s", diff)
	}

	// At the default threshold neighbours of each copy are reported too
	points, err = engine.MatchAll(frame, tmpl, DefaultMatchOptions())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(points), 2)
	assert.Contains(t, points, image.Pt(10, 10))
	assert.Contains(t, points, image.Pt(60, 60))
	for _, p := range points {
		near10 := abs(p.X-10) <= 1 && abs(p.Y-10) <= 1
		near60 := abs(p.X-60) <= 1 && abs(p.Y-60) <= 1
		assert.True(t, near10 || near60, "unexpected hit %v", p)
	}
}

func TestMatchAllReverseRowMajorOrder(t *testing.T) {
	engine := NewEngine(nil, nil)
	frame := blankFrame(80, 80, black)
	tmpl := solidTemplate(t, "red", 6, 6, red)
	paste(frame, tmpl, 50, 5)
	paste(frame, tmpl, 5, 40)
	paste(frame, tmpl, 40, 40)

	points, err := engine.MatchAll(frame, tmpl, optsWith(func(o *MatchOptions) { o.Threshold = 0.999 }))
	require.NoError(t, err)
	want := []image.Point{{40, 40}, {5, 40}, {50, 5}}
	if diff := cmp.Diff(want, points); diff != "" {
		t.Errorf("MatchAll order mismatch (-want +got):\n%s", diff)
	}
}

func TestCenteringIsATranslation(t *testing.T) {
	engine := NewEngine(nil, nil)
	rng := rand.New(rand.NewSource(7))
	frame := noiseFrame(rng, 90, 70)
	tmpl := noiseTemplate(t, rng, "odd", 9, 7)
	paste(frame, tmpl, 30, 20)
	paste(frame, tmpl, 70, 50)

	plain, err := engine.MatchAll(frame, tmpl, DefaultMatchOptions())
	require.NoError(t, err)
	centered, err := engine.MatchAll(frame, tmpl, optsWith(func(o *MatchOptions) { o.Center = true }))
	require.NoError(t, err)

	require.Len(t, centered, len(plain))
	for i := range plain {
		assert.Equal(t, plain[i].Add(image.Pt(4, 3)), centered[i])
	}

	best, err := engine.MatchBest(frame, tmpl, DefaultMatchOptions())
	require.NoError(t, err)
	bestCentered, err := engine.MatchBest(frame, tmpl, optsWith(func(o *MatchOptions) { o.Center = true }))
	require.NoError(t, err)
	assert.Equal(t, best.Point().Add(image.Pt(4, 3)), bestCentered.Point())
}

func TestEveryMethodFindsAnExactCopy(t *testing.T) {
	engine := NewEngine(nil, nil)
	rng := rand.New(rand.NewSource(42))
	tmpl := noiseTemplate(t, rng, "noise", 8, 6)

	// Raw correlation favours bright windows, so plant the copy on black
	frame := blankFrame(64, 48, black)
	paste(frame, tmpl, 21, 13)

	cases := []struct {
		method    MatchMethod
		threshold float64
	}{
		{MethodSqDiff, 0},
		{MethodSqDiffNormed, 1e-9},
		{MethodCCorr, 1},
		{MethodCCorrNormed, 0.999},
		{MethodCCoeffNormed, 0.999},
	}
	for _, tc := range cases {
		t.Run(tc.method.String(), func(t *testing.T) {
			result, err := engine.MatchBest(frame, tmpl, optsWith(func(o *MatchOptions) {
				o.Method = tc.method
				o.Threshold = tc.threshold
			}))
			require.NoError(t, err)
			assert.True(t, result.Matched, "score %v", result.Score)
			assert.Equal(t, image.Pt(21, 13), result.Point())
		})
	}
}

func TestLowerIsBetterThreshold(t *testing.T) {
	engine := NewEngine(nil, nil)
	frame := blankFrame(100, 100, black)
	tmpl := solidTemplate(t, "red", 10, 10, red)
	paste(frame, tmpl, 40, 25)

	result, err := engine.MatchBest(frame, tmpl, optsWith(func(o *MatchOptions) {
		o.Method = MethodSqDiffNormed
		o.Threshold = 0.1
	}))
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, 0.0, result.Score)
	assert.Equal(t, image.Pt(40, 25), result.Point())

	// A blue frame has no acceptable difference anywhere
	result, err = engine.MatchBest(blankFrame(50, 50, color.RGBA{0, 0, 255, 255}), tmpl, optsWith(func(o *MatchOptions) {
		o.Method = MethodSqDiffNormed
		o.Threshold = 0.1
	}))
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Greater(t, result.Score, 0.1)
}

// reference evaluates a method straight from its definition for one placement
func reference(frame *Frame, tmpl *templates.TemplateImage, px, py int, method MatchMethod, useMask bool) float64 {
	type px3 = [3]float64
	var ts, is []px3
	for y := 0; y < tmpl.Height(); y++ {
		for x := 0; x < tmpl.Width(); x++ {
			tc := tmpl.Image.NRGBAAt(x, y)
			if useMask && tc.A == 0 {
				continue
			}
			ic := frame.Image.RGBAAt(px+x, py+y)
			ts = append(ts, px3{float64(tc.R), float64(tc.G), float64(tc.B)})
			is = append(is, px3{float64(ic.R), float64(ic.G), float64(ic.B)})
		}
	}

	var tMean, iMean px3
	for i := range ts {
		for c := 0; c < 3; c++ {
			tMean[c] += ts[i][c] / float64(len(ts))
			iMean[c] += is[i][c] / float64(len(is))
		}
	}

	var sq, cc, co, tt, ii, tv, iv float64
	for i := range ts {
		for c := 0; c < 3; c++ {
			tval, ival := ts[i][c], is[i][c]
			sq += (tval - ival) * (tval - ival)
			cc += tval * ival
			co += (tval - tMean[c]) * (ival - iMean[c])
			tt += tval * tval
			ii += ival * ival
			tv += (tval - tMean[c]) * (tval - tMean[c])
			iv += (ival - iMean[c]) * (ival - iMean[c])
		}
	}

	switch method {
	case MethodSqDiff:
		return sq
	case MethodSqDiffNormed:
		return normalize(sq, math.Sqrt(tt*ii), method)
	case MethodCCorr:
		return cc
	case MethodCCorrNormed:
		return normalize(cc, math.Sqrt(tt*ii), method)
	case MethodCCoeff:
		return co
	default:
		return normalize(co, math.Sqrt(tv*iv), method)
	}
}

func TestNativeCorrelatorMatchesDefinitions(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	frame := noiseFrame(rng, 20, 16)
	tmpl := noiseTemplate(t, rng, "noise", 5, 4)

	// Knock holes in the alpha channel for the masked cases
	holes := *tmpl
	holes.Image = image.NewNRGBA(tmpl.Image.Bounds())
	copy(holes.Image.Pix, tmpl.Image.Pix)
	for i := 3; i < len(holes.Image.Pix); i += 12 {
		holes.Image.Pix[i] = 0
	}

	correlator := &NativeCorrelator{Workers: 3}
	for m := range methodNames {
		for _, useMask := range []bool{false, true} {
			surface, err := correlator.Correlate(frame.Image, &holes, m, useMask)
			require.NoError(t, err)

			w, h := surface.Dims()
			require.Equal(t, 16, w)
			require.Equal(t, 13, h)
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					want := reference(frame, &holes, x, y, m, useMask)
					tol := 1e-6 * math.Max(1, math.Abs(want))
					require.InDelta(t, want, surface.At(x, y), tol, "%v mask=%v at (%d,%d)", m, useMask, x, y)
				}
			}
		}
	}
}

func TestMaskedScoreIgnoresTransparentPixels(t *testing.T) {
	engine := NewEngine(nil, nil)

	// Opaque 4x4 red centre in an 8x8 transparent template with green underneath
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			c := color.NRGBA{0, 255, 0, 0}
			if x >= 2 && x < 6 && y >= 2 && y < 6 {
				c = red
			}
			img.SetNRGBA(x, y, c)
		}
	}
	tmpl, err := templates.NewTemplateImage("ring", img)
	require.NoError(t, err)
	require.True(t, tmpl.HasAlpha)

	opts := optsWith(func(o *MatchOptions) { o.UseMask = true })
	frame := blankFrame(40, 40, black)
	paste(frame, tmpl, 10, 10)

	before, _, err := engine.Surface(frame, tmpl, opts)
	require.NoError(t, err)

	// Repaint only pixels under the transparent border of the placement at (10,10)
	for y := 10; y < 18; y++ {
		for x := 10; x < 18; x++ {
			if x >= 12 && x < 16 && y >= 12 && y < 16 {
				continue
			}
			frame.Image.SetRGBA(x, y, color.RGBA{uint8(x * 7), 200, uint8(y * 5), 255})
		}
	}
	after, _, err := engine.Surface(frame, tmpl, opts)
	require.NoError(t, err)
	assert.Equal(t, before.At(10, 10), after.At(10, 10))

	result, err := engine.MatchBest(frame, tmpl, opts)
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, image.Pt(10, 10), result.Point())
}

func TestFullyTransparentMaskIsIndependentOfFrame(t *testing.T) {
	engine := NewEngine(nil, nil)
	tmpl := solidTemplate(t, "ghost", 6, 6, color.NRGBA{255, 255, 255, 0})
	opts := optsWith(func(o *MatchOptions) { o.UseMask = true })

	rng := rand.New(rand.NewSource(11))
	a, err := engine.MatchBest(noiseFrame(rng, 30, 30), tmpl, opts)
	require.NoError(t, err)
	b, err := engine.MatchBest(blankFrame(30, 30, black), tmpl, opts)
	require.NoError(t, err)
	assert.Equal(t, a.Score, b.Score)
}

func TestRegionRestrictsSearch(t *testing.T) {
	engine := NewEngine(nil, nil)
	frame := blankFrame(100, 100, black)
	tmpl := solidTemplate(t, "red", 10, 10, red)
	paste(frame, tmpl, 5, 5)
	paste(frame, tmpl, 40, 25)

	region := image.Rect(30, 20, 70, 50)
	result, err := engine.MatchBest(frame, tmpl, optsWith(func(o *MatchOptions) { o.Region = &region }))
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, image.Pt(40, 25), result.Point())

	points, err := engine.MatchAll(frame, tmpl, optsWith(func(o *MatchOptions) {
		o.Region = &region
		o.Threshold = 0.99
	}))
	require.NoError(t, err)
	assert.Equal(t, []image.Point{{40, 25}}, points)

	outside := image.Rect(200, 200, 300, 300)
	_, err = engine.MatchBest(frame, tmpl, optsWith(func(o *MatchOptions) { o.Region = &outside }))
	var frameErr *InvalidFrameError
	assert.True(t, errors.As(err, &frameErr))

	tiny := image.Rect(0, 0, 5, 5)
	_, err = engine.MatchBest(frame, tmpl, optsWith(func(o *MatchOptions) { o.Region = &tiny }))
	assert.True(t, errors.As(err, &frameErr))
}

func TestMatchErrors(t *testing.T) {
	engine := NewEngine(nil, nil)
	tmpl := solidTemplate(t, "red", 10, 10, red)

	var frameErr *InvalidFrameError
	var tmplErr *InvalidTemplateError

	_, err := engine.MatchBest(blankFrame(8, 20, black), tmpl, DefaultMatchOptions())
	assert.True(t, errors.As(err, &frameErr), "narrow frame: %v", err)

	_, err = engine.MatchAll(blankFrame(20, 8, black), tmpl, DefaultMatchOptions())
	assert.True(t, errors.As(err, &frameErr), "short frame: %v", err)

	_, err = engine.MatchBest(nil, tmpl, DefaultMatchOptions())
	assert.True(t, errors.As(err, &frameErr), "nil frame: %v", err)

	odd := blankFrame(20, 20, black)
	odd.Channels = 1
	_, err = engine.MatchBest(odd, tmpl, DefaultMatchOptions())
	assert.True(t, errors.As(err, &frameErr), "channels: %v", err)

	empty := &templates.TemplateImage{ID: "empty", Image: image.NewNRGBA(image.Rect(0, 0, 0, 4))}
	_, err = engine.MatchBest(blankFrame(20, 20, black), empty, DefaultMatchOptions())
	assert.True(t, errors.As(err, &tmplErr), "zero area: %v", err)

	_, err = engine.MatchBest(blankFrame(20, 20, black), nil, DefaultMatchOptions())
	assert.True(t, errors.As(err, &tmplErr), "nil template: %v", err)

	opaque := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for i := range opaque.Pix {
		opaque.Pix[i] = 255
	}
	noAlpha, err := templates.NewTemplateImage("opaque", opaque)
	require.NoError(t, err)
	require.False(t, noAlpha.HasAlpha)
	_, err = engine.MatchBest(blankFrame(20, 20, black), noAlpha, optsWith(func(o *MatchOptions) { o.UseMask = true }))
	assert.True(t, errors.As(err, &tmplErr), "mask without alpha: %v", err)

	_, err = engine.MatchBest(blankFrame(20, 20, black), tmpl, optsWith(func(o *MatchOptions) { o.Method = MatchMethod(99) }))
	assert.Error(t, err)
}

func TestDebugRenderingIsASideChannel(t *testing.T) {
	type shown struct {
		title string
		img   image.Image
	}
	got := make(chan shown, 4)
	engine := NewEngine(nil, DebugSinkFunc(func(title string, img image.Image) {
		got <- shown{title, img}
	}))

	frame := blankFrame(100, 100, black)
	tmpl := solidTemplate(t, "red", 10, 10, red)
	paste(frame, tmpl, 40, 25)
	pristine := frame.Clone()

	plain, err := engine.MatchBest(frame, tmpl, DefaultMatchOptions())
	require.NoError(t, err)
	debug, err := engine.MatchBest(frame, tmpl, optsWith(func(o *MatchOptions) { o.Debug = true }))
	require.NoError(t, err)
	assert.Equal(t, plain, debug)
	assert.Equal(t, pristine.Image.Pix, frame.Image.Pix)

	select {
	case s := <-got:
		assert.Contains(t, s.title, "red")
		annotated, ok := s.img.(*image.RGBA)
		require.True(t, ok)
		assert.Equal(t, matchColor, annotated.RGBAAt(40, 25))
		assert.Equal(t, matchColor, annotated.RGBAAt(49, 34))
	case <-time.After(2 * time.Second):
		t.Fatal("debug sink was not called")
	}
}

func TestParseMatchMethod(t *testing.T) {
	cases := map[string]MatchMethod{
		"ccorr_normed":     MethodCCorrNormed,
		"TM_CCOEFF_NORMED": MethodCCoeffNormed,
		"sqdiff-normed":    MethodSqDiffNormed,
		" sqdiff ":         MethodSqDiff,
		"ccorr":            MethodCCorr,
		"ccoeff":           MethodCCoeff,
	}
	for in, want := range cases {
		got, err := ParseMatchMethod(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		assert.Equal(t, want, mustParse(t, got.String()))
	}

	_, err := ParseMatchMethod("sad")
	assert.Error(t, err)

	assert.False(t, MethodSqDiff.HigherIsBetter())
	assert.False(t, MethodSqDiffNormed.HigherIsBetter())
	assert.True(t, MethodCCoeff.HigherIsBetter())
}

func mustParse(t *testing.T, s string) MatchMethod {
	t.Helper()
	m, err := ParseMatchMethod(s)
	require.NoError(t, err)
	return m
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
