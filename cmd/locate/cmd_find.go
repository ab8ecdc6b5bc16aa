package main

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"io"
	"strconv"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/app"
	"github.com/spf13/cobra"

	"jordanella.com/screen-locator/internal/cv"
	"jordanella.com/screen-locator/internal/debugview"
)

var matchColor = color.RGBA{0, 0, 255, 255}

// findEnv provides the environment for the find command.
type findEnv struct {
	root *rootEnv

	imagePath string
	all       bool
	center    bool
	method    string
	threshold float64
	mask      bool
	debug     bool
	region    string
	annotate  string
	wait      time.Duration
	interval  time.Duration
	view      bool
}

// getFindCmd returns the definition of the find command.
func getFindCmd(root *rootEnv) *cobra.Command {
	env := &findEnv{root: root}
	cmd := &cobra.Command{
		Use:   "find <template> [template...]",
		Short: "Find templates in an image file or a live capture",
		Long: `
Finds each template in one frame and prints "<template> <x> <y> <score>" per match.
With --all every location above the threshold is printed as "<template> <x> <y>".

Templates are manifest names or image paths relative to templateDir. Without --image
the frame is captured from the configured window or display. The command exits
non-zero when nothing was found.
`,
		Args: cobra.MinimumNArgs(1),
		RunE: env.runFindCmd,
	}

	cmd.Flags().StringVar(&env.imagePath, "image", "", "match against this image file instead of capturing")
	cmd.Flags().BoolVar(&env.all, "all", false, "print every location above the threshold")
	cmd.Flags().BoolVar(&env.center, "center", false, "report template centres")
	cmd.Flags().StringVar(&env.method, "method", "", "match method (sqdiff, sqdiff_normed, ccorr, ccorr_normed, ccoeff, ccoeff_normed)")
	cmd.Flags().Float64Var(&env.threshold, "threshold", 0, "match threshold")
	cmd.Flags().BoolVar(&env.mask, "mask", false, "ignore transparent template pixels")
	cmd.Flags().BoolVar(&env.debug, "debug", false, "publish annotated debug frames")
	cmd.Flags().StringVar(&env.region, "region", "", "search region as x1,y1,x2,y2")
	cmd.Flags().StringVar(&env.annotate, "annotate", "", "write the frame with match rectangles to this PNG")
	cmd.Flags().DurationVar(&env.wait, "wait", 0, "poll fresh captures until the template appears or this long has passed")
	cmd.Flags().DurationVar(&env.interval, "interval", 250*time.Millisecond, "poll interval for --wait")
	cmd.Flags().BoolVar(&env.view, "view", false, "show debug frames in a window")

	return cmd
}

func (f *findEnv) runFindCmd(cmd *cobra.Command, args []string) error {
	if f.wait > 0 && (len(args) > 1 || f.all || f.annotate != "" || f.imagePath != "") {
		return fmt.Errorf("--wait takes a single template and cannot be combined with --all, --annotate or --image")
	}

	opts, err := f.options(cmd)
	if err != nil {
		return err
	}

	rt, err := f.root.startRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	if !f.view {
		locator, err := f.newLocator(rt, nil)
		if err != nil {
			return err
		}
		return f.find(cmd.Context(), cmd.OutOrStdout(), locator, args, opts)
	}

	a := app.NewWithID("com.jordanella.screen-locator")
	viewer := debugview.NewViewer(a)
	viewer.SetOnAllClosed(a.Quit)

	locator, err := f.newLocator(rt, viewer)
	if err != nil {
		return err
	}
	opts = append(opts, cv.WithDebug(true))

	errCh := make(chan error, 1)
	go func() {
		err := f.find(cmd.Context(), cmd.OutOrStdout(), locator, args, opts)
		errCh <- err
		if err != nil {
			fyne.Do(a.Quit)
		}
	}()
	a.Run()
	return <-errCh
}

// options turns the flags that were set into per-call overrides
func (f *findEnv) options(cmd *cobra.Command) ([]cv.Option, error) {
	var opts []cv.Option
	flags := cmd.Flags()

	if flags.Changed("center") {
		opts = append(opts, cv.WithCenter(f.center))
	}
	if flags.Changed("threshold") {
		opts = append(opts, cv.WithThreshold(f.threshold))
	}
	if flags.Changed("mask") {
		opts = append(opts, cv.WithMask(f.mask))
	}
	if flags.Changed("debug") {
		opts = append(opts, cv.WithDebug(f.debug))
	}
	if flags.Changed("method") {
		m, err := cv.ParseMatchMethod(f.method)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cv.WithMethod(m))
	}
	if flags.Changed("region") {
		r, err := parseRegion(f.region)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cv.WithRegion(r))
	}
	return opts, nil
}

func (f *findEnv) newLocator(rt *runtime, sink cv.DebugSink) (*cv.Locator, error) {
	cfg := f.root.cfg

	defaults, err := cfg.MatchDefaults()
	if err != nil {
		return nil, err
	}
	registry, err := f.root.registry()
	if err != nil {
		return nil, err
	}

	var capturer cv.Capturer
	if f.imagePath == "" {
		if capturer, err = f.root.liveCapturer(); err != nil {
			return nil, err
		}
	}

	return cv.NewLocator(cv.LocatorConfig{
		Capturer:       capturer,
		CaptureTimeout: cfg.CaptureTimeout(),
		TemplateDir:    cfg.TemplateDir,
		Registry:       registry,
		Defaults:       &defaults,
		DebugSink:      sink,
		Bus:            rt.bus,
		Metrics:        rt.metrics,
	})
}

// find runs every template against one frame and prints the results
func (f *findEnv) find(ctx context.Context, out io.Writer, locator *cv.Locator, ids []string, opts []cv.Option) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if f.wait > 0 {
		ctx, cancel := context.WithTimeout(ctx, f.wait)
		defer cancel()
		result, err := locator.WaitFor(ctx, ids[0], f.interval, opts...)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s %d %d %.4f\n", ids[0], result.X, result.Y, result.Score)
		return nil
	}

	var frame *cv.Frame
	if f.imagePath != "" {
		var err error
		if frame, err = loadImageFrame(f.imagePath); err != nil {
			return err
		}
		opts = append(opts, cv.WithFrame(frame))
	} else {
		// Every template sees the same capture
		locator.Lock()
		defer locator.Unlock()
	}

	var annotated *image.RGBA
	found := false
	for _, id := range ids {
		effective, err := locator.Options(id, opts...)
		if err != nil {
			return err
		}

		var points []image.Point
		matched := false
		if f.all {
			if points, err = locator.FindAll(ctx, id, opts...); err != nil {
				return err
			}
			for _, p := range points {
				fmt.Fprintf(out, "%s %d %d\n", id, p.X, p.Y)
			}
			matched = len(points) > 0
		} else {
			result, err := locator.Find(ctx, id, opts...)
			if err != nil {
				return err
			}
			if result.Matched {
				fmt.Fprintf(out, "%s %d %d %.4f\n", id, result.X, result.Y, result.Score)
				points = []image.Point{result.Point()}
			} else {
				fmt.Fprintf(out, "%s not found (best %.4f)\n", id, result.Score)
			}
			matched = result.Matched
		}
		found = found || matched

		if f.annotate == "" || len(points) == 0 {
			continue
		}
		if frame == nil {
			if frame, err = locator.Frame(ctx); err != nil {
				return err
			}
		}
		if annotated == nil {
			annotated = frame.Image
		}
		tmpl, err := locator.Template(id)
		if err != nil {
			return err
		}
		annotated = cv.AnnotateMatches(annotated, topLefts(points, tmpl.Size(), effective.Center), tmpl.Size(), matchColor)
	}

	if f.annotate != "" {
		if annotated == nil {
			if frame == nil {
				var err error
				if frame, err = locator.Frame(ctx); err != nil {
					return err
				}
			}
			annotated = frame.Image
		}
		if err := writePNG(f.annotate, annotated); err != nil {
			return err
		}
	}

	if !found {
		return errNotFound
	}
	return nil
}

// topLefts undoes centring so rectangles land on the template
func topLefts(points []image.Point, size image.Point, centred bool) []image.Point {
	if !centred {
		return points
	}
	tops := make([]image.Point, len(points))
	for i, p := range points {
		tops[i] = p.Sub(size.Div(2))
	}
	return tops
}

// parseRegion reads "x1,y1,x2,y2"
func parseRegion(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("region %q: want x1,y1,x2,y2", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("region %q: %w", s, err)
		}
		v[i] = n
	}
	return image.Rect(v[0], v[1], v[2], v[3]), nil
}
