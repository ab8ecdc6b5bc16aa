package main

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"jordanella.com/screen-locator/internal/cv"
)

// captureEnv provides the environment for the capture command.
type captureEnv struct {
	root *rootEnv

	out     string
	window  string
	display int
}

// getCaptureCmd returns the definition of the capture command.
func getCaptureCmd(root *rootEnv) *cobra.Command {
	env := &captureEnv{root: root}
	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Save one frame from the configured window or display",
		Long: `
Captures a single frame the same way find does and writes it as a PNG. Useful for
cutting new templates out of a real screen.
`,
		Args: cobra.NoArgs,
		RunE: env.runCaptureCmd,
	}

	cmd.Flags().StringVar(&env.out, "out", "capture.png", "output PNG path")
	cmd.Flags().StringVar(&env.window, "window", "", "capture this window instead of the configured one")
	cmd.Flags().IntVar(&env.display, "display", 0, "capture this display index instead of the configured one")

	return cmd
}

func (c *captureEnv) runCaptureCmd(cmd *cobra.Command, _ []string) error {
	cfg := c.root.cfg
	if cmd.Flags().Changed("window") {
		cfg.WindowTitle = c.window
	}
	if cmd.Flags().Changed("display") {
		cfg.WindowTitle = ""
		cfg.DisplayIndex = c.display
	}

	rt, err := c.root.startRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	capturer, err := c.root.liveCapturer()
	if err != nil {
		return err
	}

	cache := cv.NewCaptureCache(capturer, cfg.CaptureTimeout()).
		WithEventBus(rt.bus).
		WithMetrics(rt.metrics)
	frame, err := cache.Frame(cmd.Context())
	if err != nil {
		return err
	}

	if err := writePNG(c.out, frame.Image); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%dx%d)\n", c.out, frame.Width(), frame.Height())
	return nil
}

// writePNG encodes img to path, creating parent directories
func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	return f.Close()
}
