package main

import (
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"jordanella.com/screen-locator/internal/config"
	"jordanella.com/screen-locator/internal/cv"
	"jordanella.com/screen-locator/internal/events"
	"jordanella.com/screen-locator/internal/journal"
	"jordanella.com/screen-locator/internal/logging"
	"jordanella.com/screen-locator/internal/metrics"
	"jordanella.com/screen-locator/pkg/templates"
)

// errNotFound makes the process exit non-zero without printing an error
var errNotFound = errors.New("not found")

// rootEnv holds the settings shared by every command
type rootEnv struct {
	configPath string
	logLevel   string

	cfg *config.Config
}

func (r *rootEnv) load() error {
	cfg, err := config.LoadOrDefault(r.configPath)
	if err != nil {
		return err
	}
	if r.logLevel != "" {
		cfg.LogLevel = r.logLevel
	}
	if err := cfg.ApplyLogging(); err != nil {
		return err
	}
	r.cfg = cfg
	return nil
}

// registry loads every manifest in the configured directory. An empty directory setting
// yields an empty registry. Entry paths stay relative; the locator resolves them under
// templateDir.
func (r *rootEnv) registry() (*templates.Registry, error) {
	reg := templates.NewRegistry("")
	if r.cfg.ManifestDir == "" {
		return reg, nil
	}
	if err := reg.LoadFromDirectory(r.cfg.ManifestDir); err != nil {
		return nil, fmt.Errorf("failed to load manifests: %w", err)
	}
	return reg, nil
}

// liveCapturer picks a window capture when a title is configured, otherwise a display
func (r *rootEnv) liveCapturer() (cv.Capturer, error) {
	if r.cfg.WindowTitle != "" {
		return cv.FindWindowCapture(r.cfg.WindowTitle)
	}
	return cv.NewDisplayCapture(r.cfg.DisplayIndex)
}

// runtime is the event bus plus everything subscribed to it for one command
type runtime struct {
	bus      *events.DefaultEventBus
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	journal  *journal.DB
	recorder *journal.Recorder
	eventLog *logging.EventLogger
	server   *http.Server
	logger   *logging.Logger
}

func (r *rootEnv) startRuntime() (*runtime, error) {
	rt := &runtime{
		bus:      events.NewEventBus(256),
		registry: prometheus.NewRegistry(),
		logger:   logging.NewLogger("locate"),
	}

	var err error
	if rt.metrics, err = metrics.New(rt.registry); err != nil {
		rt.Close()
		return nil, err
	}

	if r.cfg.JournalPath != "" {
		if rt.journal, err = journal.OpenAndMigrate(r.cfg.JournalPath); err != nil {
			rt.Close()
			return nil, err
		}
		rt.recorder = journal.NewRecorder(rt.journal, rt.bus)
	}

	if r.cfg.EventLogDir != "" {
		if rt.eventLog, err = logging.NewEventLogger(rt.bus, r.cfg.EventLogDir); err != nil {
			rt.Close()
			return nil, err
		}
	}

	if r.cfg.Metrics != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(rt.registry))
		rt.server = &http.Server{Addr: r.cfg.Metrics, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := rt.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				rt.logger.Error("metrics server stopped", err)
			}
		}()
		rt.logger.InfoWithContext("serving metrics", map[string]interface{}{"addr": r.cfg.Metrics})
	}

	return rt, nil
}

// Close drains the bus before closing its subscribers
func (rt *runtime) Close() {
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		rt.server.Shutdown(ctx)
		cancel()
	}
	rt.bus.Stop()
	if rt.recorder != nil {
		rt.recorder.Close()
	}
	if rt.journal != nil {
		if err := rt.journal.Close(); err != nil {
			rt.logger.Error("failed to close journal", err)
		}
	}
	if rt.eventLog != nil {
		rt.eventLog.Close()
	}
}

// loadImageFrame decodes an image file into a frame
func loadImageFrame(path string) (*cv.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return cv.NewFrame(img), nil
}
