package cv

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"time"

	"github.com/google/uuid"

	"jordanella.com/screen-locator/internal/events"
	"jordanella.com/screen-locator/internal/logging"
	"jordanella.com/screen-locator/internal/metrics"
	"jordanella.com/screen-locator/pkg/templates"
)

// LocatorConfig configures a Locator. Only Capturer is needed for live matching; a
// locator without one can still match explicit frames.
type LocatorConfig struct {
	Capturer       Capturer
	CaptureTimeout time.Duration

	TemplateDir string              // Base directory for template ids that are file paths
	Loader      templates.Loader    // Overrides the file loader
	Registry    *templates.Registry // Optional: resolves logical names and per-template options

	Defaults   *MatchOptions // nil = DefaultMatchOptions()
	Correlator Correlator    // nil = build default
	DebugSink  DebugSink     // nil = publish on Bus (if set)

	Bus     events.EventBus
	Metrics *metrics.Metrics
}

// Locator finds templates in captured or supplied frames. Each Locator owns its template
// store and its capture cache; lock state is per Locator.
type Locator struct {
	sessionID string
	defaults  MatchOptions

	cache    *CaptureCache
	store    *templates.Store
	registry *templates.Registry
	engine   *Engine

	bus     events.EventBus
	metrics *metrics.Metrics
	logger  *logging.Logger
}

// LocatorStats reports template cache and capture counters
type LocatorStats struct {
	Templates templates.CacheStats
	Capture   CaptureStats
}

// NewLocator creates a locator
func NewLocator(cfg LocatorConfig) (*Locator, error) {
	defaults := DefaultMatchOptions()
	if cfg.Defaults != nil {
		defaults = *cfg.Defaults
	}
	if !defaults.Method.Valid() {
		return nil, fmt.Errorf("invalid default match method: %v", defaults.Method)
	}

	l := &Locator{
		sessionID: uuid.NewString(),
		defaults:  defaults,
		registry:  cfg.Registry,
		bus:       cfg.Bus,
		metrics:   cfg.Metrics,
	}
	l.logger = logging.NewLogger("cv.locator")

	loader := cfg.Loader
	if loader == nil {
		loader = templates.NewFileLoader(cfg.TemplateDir)
	}
	l.store = templates.NewStore(templates.LoaderFunc(func(id string) (*templates.TemplateImage, error) {
		return l.loadTemplate(loader, id)
	}))

	sink := cfg.DebugSink
	if sink == nil && cfg.Bus != nil {
		sink = NewBusDebugSink(cfg.Bus)
	}
	l.engine = NewEngine(cfg.Correlator, sink)

	l.cache = NewCaptureCache(cfg.Capturer, cfg.CaptureTimeout).
		WithEventBus(cfg.Bus).
		WithMetrics(cfg.Metrics)

	return l, nil
}

// SessionID identifies this locator in events and the journal
func (l *Locator) SessionID() string {
	return l.sessionID
}

// Defaults returns the locator-level match options
func (l *Locator) Defaults() MatchOptions {
	return l.defaults
}

// Lock makes subsequent captures reuse one frame until Unlock
func (l *Locator) Lock() {
	l.cache.Lock()
}

// Unlock resumes per-call captures
func (l *Locator) Unlock() {
	l.cache.Unlock()
}

// Locked reports whether the capture cache is locked
func (l *Locator) Locked() bool {
	return l.cache.Locked()
}

// Frame returns the frame the next Find would use
func (l *Locator) Frame(ctx context.Context) (*Frame, error) {
	return l.cache.Frame(ctx)
}

// Stats returns cache counters
func (l *Locator) Stats() LocatorStats {
	return LocatorStats{
		Templates: l.store.Stats(),
		Capture:   l.cache.Stats(),
	}
}

// Find returns the best match for template id. An unmatched result is not an error.
func (l *Locator) Find(ctx context.Context, id string, opts ...Option) (MatchResult, error) {
	start := time.Now()
	tmpl, resolved, frame, err := l.prepare(ctx, id, opts)
	if err != nil {
		l.observe("find", id, resolved, err, start)
		return MatchResult{}, err
	}

	result, err := l.engine.MatchBest(frame, tmpl, resolved)
	l.observe("find", id, resolved, err, start)
	if err != nil {
		return MatchResult{}, err
	}

	l.logger.DebugWithContext("find completed", map[string]interface{}{
		"template": id,
		"matched":  result.Matched,
		"score":    result.Score,
		"x":        result.X,
		"y":        result.Y,
	})
	l.publishMatch(events.MatchCompleted{
		TemplateID: id,
		Operation:  "find",
		Method:     resolved.Method.String(),
		Threshold:  resolved.Threshold,
		Matched:    result.Matched,
		Score:      result.Score,
		X:          result.X,
		Y:          result.Y,
		Duration:   time.Since(start),
	})
	l.metrics.MatchObserved("find", resolved.Method.String(), matchOutcome(result.Matched), time.Since(start).Seconds())
	return result, nil
}

// FindAll returns every location of template id above the threshold, in reverse
// row-major order
func (l *Locator) FindAll(ctx context.Context, id string, opts ...Option) ([]image.Point, error) {
	start := time.Now()
	tmpl, resolved, frame, err := l.prepare(ctx, id, opts)
	if err != nil {
		l.observe("find_all", id, resolved, err, start)
		return nil, err
	}

	points, err := l.engine.MatchAll(frame, tmpl, resolved)
	l.observe("find_all", id, resolved, err, start)
	if err != nil {
		return nil, err
	}

	l.logger.DebugWithContext("find all completed", map[string]interface{}{
		"template": id,
		"count":    len(points),
	})
	mc := events.MatchCompleted{
		TemplateID: id,
		Operation:  "find_all",
		Method:     resolved.Method.String(),
		Threshold:  resolved.Threshold,
		Matched:    len(points) > 0,
		Count:      len(points),
		Duration:   time.Since(start),
	}
	if len(points) > 0 {
		mc.X, mc.Y = points[0].X, points[0].Y
	}
	l.publishMatch(mc)
	l.metrics.MatchObserved("find_all", resolved.Method.String(), matchOutcome(len(points) > 0), time.Since(start).Seconds())
	return points, nil
}

// FindEach matches several templates against one frame. The first error aborts the
// whole call.
func (l *Locator) FindEach(ctx context.Context, ids []string, opts ...Option) (map[string]MatchResult, error) {
	ov := collectOverrides(opts)
	frame := ov.Frame
	if frame == nil {
		var err error
		if frame, err = l.cache.Frame(ctx); err != nil {
			return nil, err
		}
	}

	perCall := append(append([]Option{}, opts...), WithFrame(frame))
	results := make(map[string]MatchResult, len(ids))
	for _, id := range ids {
		result, err := l.Find(ctx, id, perCall...)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", id, err)
		}
		results[id] = result
	}
	return results, nil
}

// WaitFor polls Find with a fresh frame every interval until the template matches or ctx
// ends. Errors end the wait immediately. It refuses to run while locked since every poll
// would see the same frame.
func (l *Locator) WaitFor(ctx context.Context, id string, interval time.Duration, opts ...Option) (MatchResult, error) {
	if collectOverrides(opts).Frame != nil {
		return l.Find(ctx, id, opts...)
	}
	if l.cache.Locked() {
		return MatchResult{}, fmt.Errorf("wait for %q: locator is locked", id)
	}
	if interval <= 0 {
		interval = 50 * time.Millisecond
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last MatchResult
	for {
		result, err := l.Find(ctx, id, opts...)
		if err != nil {
			return MatchResult{}, err
		}
		if result.Matched {
			return result, nil
		}
		last = result

		select {
		case <-ctx.Done():
			return last, fmt.Errorf("template %q not found before deadline: %w", id, ctx.Err())
		case <-ticker.C:
		}
	}
}

// CheckColor reports whether the pixel at p is within tolerance (per channel) of expected
func (l *Locator) CheckColor(ctx context.Context, p image.Point, expected color.Color, tolerance uint8, opts ...Option) (bool, error) {
	actual, err := l.PixelColor(ctx, p, opts...)
	if err != nil {
		return false, err
	}

	r1, g1, b1, _ := actual.RGBA()
	r2, g2, b2, _ := expected.RGBA()
	return colorDistance(uint8(r1>>8), uint8(g1>>8), uint8(b1>>8), uint8(r2>>8), uint8(g2>>8), uint8(b2>>8)) <= tolerance, nil
}

// PixelColor returns the color at p in the current (or supplied) frame
func (l *Locator) PixelColor(ctx context.Context, p image.Point, opts ...Option) (color.RGBA, error) {
	frame := collectOverrides(opts).Frame
	if frame == nil {
		var err error
		if frame, err = l.cache.Frame(ctx); err != nil {
			return color.RGBA{}, err
		}
	}

	bounds := frame.Bounds()
	pt := p.Add(bounds.Min)
	if !pt.In(bounds) {
		return color.RGBA{}, fmt.Errorf("coordinates %v out of bounds %v", p, bounds)
	}
	return frame.Image.RGBAAt(pt.X, pt.Y), nil
}

func colorDistance(r1, g1, b1, r2, g2, b2 uint8) uint8 {
	diff := func(a, b uint8) uint8 {
		if a > b {
			return a - b
		}
		return b - a
	}
	d := diff(r1, r2)
	if g := diff(g1, g2); g > d {
		d = g
	}
	if b := diff(b1, b2); b > d {
		d = b
	}
	return d
}

// Options returns the effective match options for id after registry and per-call
// overrides
func (l *Locator) Options(id string, opts ...Option) (MatchOptions, error) {
	resolved, _, err := l.resolve(id, collectOverrides(opts))
	return resolved, err
}

// Template returns the template an id resolves to, loading it on first use
func (l *Locator) Template(id string) (*templates.TemplateImage, error) {
	_, path, err := l.resolve(id, Overrides{})
	if err != nil {
		return nil, err
	}
	return l.store.Get(path)
}

// prepare resolves the template, the effective options and the frame for one call.
// Options layer as: locator defaults, then the registry entry, then per-call options.
func (l *Locator) prepare(ctx context.Context, id string, opts []Option) (*templates.TemplateImage, MatchOptions, *Frame, error) {
	ov := collectOverrides(opts)
	resolved, path, err := l.resolve(id, ov)
	if err != nil {
		return nil, resolved, nil, err
	}

	tmpl, err := l.store.Get(path)
	if err != nil {
		return nil, resolved, nil, err
	}

	frame := ov.Frame
	if frame == nil {
		if frame, err = l.cache.Frame(ctx); err != nil {
			return nil, resolved, nil, err
		}
	}
	return tmpl, resolved, frame, nil
}

// resolve applies registry and per-call overrides and returns the template path
func (l *Locator) resolve(id string, ov Overrides) (MatchOptions, string, error) {
	resolved := l.defaults
	path := id

	if l.registry != nil {
		if entry, ok := l.registry.Get(id); ok {
			entryOv, err := entryOverrides(entry)
			if err != nil {
				return resolved, "", err
			}
			resolved = resolved.Apply(entryOv)
			path = entry.Path
		}
	}

	return resolved.Apply(ov), path, nil
}

func entryOverrides(entry templates.Entry) (Overrides, error) {
	ov := Overrides{
		Threshold: entry.Threshold,
		Center:    entry.Center,
		UseMask:   entry.UseMask,
		Region:    entry.Region,
	}
	if entry.Method != "" {
		m, err := ParseMatchMethod(entry.Method)
		if err != nil {
			return ov, fmt.Errorf("template %q: %w", entry.Name, err)
		}
		ov.Method = &m
	}
	return ov, nil
}

func (l *Locator) loadTemplate(loader templates.Loader, id string) (*templates.TemplateImage, error) {
	tmpl, err := loader.Load(id)
	l.metrics.TemplateLoaded(err)
	if err != nil {
		l.logger.ErrorWithContext("template load failed", err, map[string]interface{}{"template": id})
		return nil, err
	}

	l.logger.DebugWithContext("template loaded", map[string]interface{}{
		"template": id,
		"width":    tmpl.Width(),
		"height":   tmpl.Height(),
		"alpha":    tmpl.HasAlpha,
	})
	if l.bus != nil {
		l.bus.Publish(events.NewTemplateLoadedEvent(id, tmpl.Width(), tmpl.Height(), tmpl.HasAlpha))
	}
	return tmpl, nil
}

// observe records failed calls; successful calls are recorded by the caller
func (l *Locator) observe(operation, id string, resolved MatchOptions, err error, start time.Time) {
	if err == nil {
		return
	}
	l.logger.ErrorWithContext(operation+" failed", err, map[string]interface{}{"template": id})
	l.metrics.MatchObserved(operation, resolved.Method.String(), "error", time.Since(start).Seconds())
}

func (l *Locator) publishMatch(mc events.MatchCompleted) {
	if l.bus == nil {
		return
	}
	mc.SessionID = l.sessionID
	l.bus.Publish(events.NewMatchCompletedEvent(mc))
}

func matchOutcome(matched bool) string {
	if matched {
		return "matched"
	}
	return "unmatched"
}
