package cv

import "image"

// MatchOptions is a fully resolved set of matching options
type MatchOptions struct {
	Threshold float64          // Compared with >= (or <= for lower-is-better methods)
	Center    bool             // Report the template centre instead of its top-left corner
	Method    MatchMethod      // Correlation method
	UseMask   bool             // Restrict the score to template pixels with alpha > 0
	Debug     bool             // Publish an annotated copy of the frame
	Region    *image.Rectangle // Optional: limit search area (frame coordinates)
}

// DefaultMatchOptions returns recommended settings
func DefaultMatchOptions() MatchOptions {
	return MatchOptions{
		Threshold: 0.9,
		Method:    MethodCCorrNormed,
	}
}

// Overrides holds per-call option overrides. A nil field means "use the default".
type Overrides struct {
	Threshold *float64
	Center    *bool
	Method    *MatchMethod
	UseMask   *bool
	Debug     *bool
	Region    *image.Rectangle
	Frame     *Frame // Explicit frame; bypasses the capture cache
}

// Apply returns o with every non-nil override replacing the matching field
func (o MatchOptions) Apply(ov Overrides) MatchOptions {
	if ov.Threshold != nil {
		o.Threshold = *ov.Threshold
	}
	if ov.Center != nil {
		o.Center = *ov.Center
	}
	if ov.Method != nil {
		o.Method = *ov.Method
	}
	if ov.UseMask != nil {
		o.UseMask = *ov.UseMask
	}
	if ov.Debug != nil {
		o.Debug = *ov.Debug
	}
	if ov.Region != nil {
		region := *ov.Region
		o.Region = &region
	}
	return o
}

// Option sets a per-call override
type Option func(*Overrides)

// WithThreshold sets the matching threshold option
func WithThreshold(t float64) Option {
	return func(ov *Overrides) {
		ov.Threshold = &t
	}
}

// WithCenter toggles centred coordinates
func WithCenter(center bool) Option {
	return func(ov *Overrides) {
		ov.Center = &center
	}
}

// WithMethod sets the correlation method
func WithMethod(m MatchMethod) Option {
	return func(ov *Overrides) {
		ov.Method = &m
	}
}

// WithMask toggles alpha masking
func WithMask(useMask bool) Option {
	return func(ov *Overrides) {
		ov.UseMask = &useMask
	}
}

// WithDebug toggles debug visualization
func WithDebug(debug bool) Option {
	return func(ov *Overrides) {
		ov.Debug = &debug
	}
}

// WithRegion sets the search region option
func WithRegion(r image.Rectangle) Option {
	return func(ov *Overrides) {
		ov.Region = &r
	}
}

// WithFrame matches against f instead of a captured frame
func WithFrame(f *Frame) Option {
	return func(ov *Overrides) {
		ov.Frame = f
	}
}

func collectOverrides(opts []Option) Overrides {
	var ov Overrides
	for _, opt := range opts {
		if opt != nil {
			opt(&ov)
		}
	}
	return ov
}
