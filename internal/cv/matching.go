package cv

import (
	"fmt"
	"image"
	"image/color"
	"strings"

	"jordanella.com/screen-locator/internal/logging"
	"jordanella.com/screen-locator/pkg/templates"
)

// MatchResult contains template matching results
type MatchResult struct {
	X, Y    int     // Top-left (or centre) of the match in frame coordinates; 0 when unmatched
	Matched bool    // Score passed the threshold
	Score   float64 // Best score on the surface
}

// Point returns the result location
func (r MatchResult) Point() image.Point {
	return image.Point{X: r.X, Y: r.Y}
}

// MatchMethod defines the correlation formula
type MatchMethod int

const (
	// MethodSqDiff - sum of squared differences (lower is better)
	MethodSqDiff MatchMethod = iota
	// MethodSqDiffNormed - normalised squared differences in [0,1] (lower is better)
	MethodSqDiffNormed
	// MethodCCorr - raw cross-correlation
	MethodCCorr
	// MethodCCorrNormed - normalised cross-correlation in [0,1] (default)
	MethodCCorrNormed
	// MethodCCoeff - mean-subtracted cross-correlation
	MethodCCoeff
	// MethodCCoeffNormed - correlation coefficient in [-1,1]
	MethodCCoeffNormed
)

var methodNames = map[MatchMethod]string{
	MethodSqDiff:       "sqdiff",
	MethodSqDiffNormed: "sqdiff_normed",
	MethodCCorr:        "ccorr",
	MethodCCorrNormed:  "ccorr_normed",
	MethodCCoeff:       "ccoeff",
	MethodCCoeffNormed: "ccoeff_normed",
}

func (m MatchMethod) String() string {
	if name, ok := methodNames[m]; ok {
		return name
	}
	return fmt.Sprintf("MatchMethod(%d)", int(m))
}

// Valid reports whether m names a known method
func (m MatchMethod) Valid() bool {
	_, ok := methodNames[m]
	return ok
}

// HigherIsBetter is false for the squared-difference methods
func (m MatchMethod) HigherIsBetter() bool {
	return m != MethodSqDiff && m != MethodSqDiffNormed
}

// ParseMatchMethod parses a method name such as "ccorr_normed". Case, dashes and an
// optional "tm_" prefix are ignored.
func ParseMatchMethod(s string) (MatchMethod, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	name = strings.TrimPrefix(name, "tm_")
	name = strings.ReplaceAll(name, "-", "_")
	for m, n := range methodNames {
		if n == name {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown match method %q", s)
}

// Engine runs template matching against frames. It holds no per-call state and is safe
// for concurrent use.
type Engine struct {
	correlator Correlator
	debug      DebugSink
	logger     *logging.Logger
}

// NewEngine creates an engine. A nil correlator selects the build's default correlator;
// a nil sink disables debug rendering.
func NewEngine(correlator Correlator, debug DebugSink) *Engine {
	if correlator == nil {
		correlator = DefaultCorrelator()
	}
	return &Engine{
		correlator: correlator,
		debug:      debug,
		logger:     logging.NewLogger("cv.engine"),
	}
}

// MatchBest returns the single best candidate in frame. When its score does not pass
// opts.Threshold the result is unmatched at (0,0) and carries the best score.
func (e *Engine) MatchBest(frame *Frame, tmpl *templates.TemplateImage, opts MatchOptions) (MatchResult, error) {
	surface, offset, err := e.surface(frame, tmpl, opts)
	if err != nil {
		return MatchResult{}, err
	}

	pos, score := surface.Best()
	matched := passes(score, opts.Threshold, opts.Method.HigherIsBetter())
	top := pos.Add(offset)

	if opts.Debug {
		e.renderDebug(frame, tmpl, []image.Point{top}, matched)
	}

	if !matched {
		return MatchResult{Score: score}, nil
	}
	loc := reportPoint(top, tmpl, opts.Center)
	return MatchResult{X: loc.X, Y: loc.Y, Matched: true, Score: score}, nil
}

// MatchAll returns every position whose score passes opts.Threshold, in reverse
// row-major order. Overlapping hits around one occurrence are not merged.
func (e *Engine) MatchAll(frame *Frame, tmpl *templates.TemplateImage, opts MatchOptions) ([]image.Point, error) {
	surface, offset, err := e.surface(frame, tmpl, opts)
	if err != nil {
		return nil, err
	}

	hits := surface.Above(opts.Threshold)
	for i := range hits {
		hits[i] = hits[i].Add(offset)
	}

	if opts.Debug && len(hits) > 0 {
		e.renderDebug(frame, tmpl, hits, true)
	}

	points := make([]image.Point, len(hits))
	for i, p := range hits {
		points[i] = reportPoint(p, tmpl, opts.Center)
	}
	return points, nil
}

// Surface computes the raw correlation surface of tmpl over the searched part of frame.
// The returned offset maps surface positions to frame coordinates.
func (e *Engine) Surface(frame *Frame, tmpl *templates.TemplateImage, opts MatchOptions) (*Surface, image.Point, error) {
	return e.surface(frame, tmpl, opts)
}

func (e *Engine) surface(frame *Frame, tmpl *templates.TemplateImage, opts MatchOptions) (*Surface, image.Point, error) {
	search, err := validate(frame, tmpl, opts)
	if err != nil {
		return nil, image.Point{}, err
	}

	surface, err := e.correlator.Correlate(search, tmpl, opts.Method, opts.UseMask)
	if err != nil {
		return nil, image.Point{}, err
	}
	return surface, search.Bounds().Min.Sub(frame.Bounds().Min), nil
}

// validate checks the inputs and returns the image to search: the frame itself or the
// part of it inside opts.Region
func validate(frame *Frame, tmpl *templates.TemplateImage, opts MatchOptions) (*image.RGBA, error) {
	if tmpl == nil || tmpl.Image == nil {
		return nil, &InvalidTemplateError{Reason: "no image"}
	}
	if tmpl.Width() == 0 || tmpl.Height() == 0 {
		return nil, &InvalidTemplateError{ID: tmpl.ID, Reason: "zero area"}
	}
	if opts.UseMask && !tmpl.HasAlpha {
		return nil, &InvalidTemplateError{ID: tmpl.ID, Reason: "mask requested but template has no alpha channel"}
	}
	if !opts.Method.Valid() {
		return nil, fmt.Errorf("unsupported match method: %v", opts.Method)
	}

	if frame == nil || frame.Image == nil {
		return nil, &InvalidFrameError{Reason: "no image"}
	}
	if frame.Channels != 3 && frame.Channels != 4 {
		return nil, &InvalidFrameError{Reason: fmt.Sprintf("unsupported channel count %d", frame.Channels)}
	}

	search := frame.Image
	bounds := frame.Bounds()
	if opts.Region != nil {
		region := opts.Region.Add(bounds.Min).Intersect(bounds)
		if region.Empty() {
			return nil, &InvalidFrameError{Reason: fmt.Sprintf("search region %v outside frame", *opts.Region)}
		}
		search = frame.Image.SubImage(region).(*image.RGBA)
	}

	sb := search.Bounds()
	if sb.Dx() < tmpl.Width() || sb.Dy() < tmpl.Height() {
		return nil, &InvalidFrameError{Reason: fmt.Sprintf(
			"search area %dx%d smaller than template %q (%dx%d)",
			sb.Dx(), sb.Dy(), tmpl.ID, tmpl.Width(), tmpl.Height())}
	}
	return search, nil
}

// reportPoint converts a top-left placement to the reported coordinate
func reportPoint(top image.Point, tmpl *templates.TemplateImage, center bool) image.Point {
	if !center {
		return top
	}
	return image.Point{X: top.X + tmpl.Width()/2, Y: top.Y + tmpl.Height()/2}
}

var (
	matchColor = color.RGBA{0, 0, 255, 255}
	missColor  = color.RGBA{255, 0, 0, 255}
)

// renderDebug hands an annotated copy of frame to the debug sink. The caller's frame is
// never modified.
func (e *Engine) renderDebug(frame *Frame, tmpl *templates.TemplateImage, tops []image.Point, matched bool) {
	if e.debug == nil {
		e.logger.Debug("debug rendering requested but no sink configured")
		return
	}

	col := matchColor
	if !matched {
		col = missColor
	}
	annotated := AnnotateMatches(frame.Image, tops, image.Pt(tmpl.Width(), tmpl.Height()), col)
	title := fmt.Sprintf("%s (%d)", tmpl.ID, len(tops))
	go e.debug.ShowDebug(title, annotated)
}
