package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/ini.v1"

	"jordanella.com/screen-locator/internal/cv"
	"jordanella.com/screen-locator/internal/logging"
)

// SectionName is the INI section holding locator settings
const SectionName = "Locator"

// Config holds the locator settings read from Settings.ini
type Config struct {
	// Matching defaults
	Threshold float64
	Center    bool
	Method    string
	UseMask   bool
	Debug     bool

	// Capture
	CaptureTimeoutMs int
	WindowTitle      string
	DisplayIndex     int

	// Files
	TemplateDir string
	ManifestDir string
	JournalPath string
	EventLogDir string

	// Observability
	Metrics   string // Listen address for /metrics; empty disables
	LogLevel  string
	LogFormat string // "text" or "json"
}

// NewDefaultConfig creates a config with default values
func NewDefaultConfig() *Config {
	return &Config{
		Threshold:        0.9,
		Method:           cv.MethodCCorrNormed.String(),
		CaptureTimeoutMs: int(cv.DefaultCaptureTimeout / time.Millisecond),
		TemplateDir:      "templates",
		LogLevel:         string(logging.LogLevelInfo),
		LogFormat:        "text",
	}
}

// LoadFromINI loads configuration from a Settings.ini file. Missing keys keep their
// defaults; a missing file is an error.
func LoadFromINI(path string) (*Config, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}

	def := NewDefaultConfig()
	section := cfg.Section(SectionName)

	config := &Config{}

	// Matching defaults
	config.Threshold = section.Key("threshold").MustFloat64(def.Threshold)
	config.Center = section.Key("center").MustBool(def.Center)
	config.Method = section.Key("method").MustString(def.Method)
	config.UseMask = section.Key("useMask").MustBool(def.UseMask)
	config.Debug = section.Key("debug").MustBool(def.Debug)

	// Capture
	config.CaptureTimeoutMs = section.Key("captureTimeoutMs").MustInt(def.CaptureTimeoutMs)
	config.WindowTitle = section.Key("windowTitle").MustString(def.WindowTitle)
	config.DisplayIndex = section.Key("displayIndex").MustInt(def.DisplayIndex)

	// Files
	config.TemplateDir = section.Key("templateDir").MustString(def.TemplateDir)
	config.ManifestDir = section.Key("manifestDir").MustString(def.ManifestDir)
	config.JournalPath = section.Key("journalPath").MustString(def.JournalPath)
	config.EventLogDir = section.Key("eventLogDir").MustString(def.EventLogDir)

	// Observability
	config.Metrics = section.Key("metrics").MustString(def.Metrics)
	config.LogLevel = section.Key("logLevel").MustString(def.LogLevel)
	config.LogFormat = strings.ToLower(section.Key("logFormat").MustString(def.LogFormat))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return config, nil
}

// LoadOrDefault loads path, falling back to defaults when the file does not exist
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return NewDefaultConfig(), nil
	}
	return LoadFromINI(path)
}

// Validate checks the values that cannot be defaulted silently
func (c *Config) Validate() error {
	if _, err := cv.ParseMatchMethod(c.Method); err != nil {
		return err
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log format %q", c.LogFormat)
	}
	if c.CaptureTimeoutMs < 0 {
		return fmt.Errorf("captureTimeoutMs must not be negative, got %d", c.CaptureTimeoutMs)
	}
	return nil
}

// MatchDefaults converts the matching keys to locator defaults
func (c *Config) MatchDefaults() (cv.MatchOptions, error) {
	method, err := cv.ParseMatchMethod(c.Method)
	if err != nil {
		return cv.MatchOptions{}, err
	}
	return cv.MatchOptions{
		Threshold: c.Threshold,
		Center:    c.Center,
		Method:    method,
		UseMask:   c.UseMask,
		Debug:     c.Debug,
	}, nil
}

// CaptureTimeout returns the capture timeout; zero selects the cache default
func (c *Config) CaptureTimeout() time.Duration {
	return time.Duration(c.CaptureTimeoutMs) * time.Millisecond
}

// ApplyLogging installs the configured level and formatter as logging defaults
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.LogLevel)
	if err != nil {
		return err
	}
	var formatter logging.LogFormatter = &logging.TextFormatter{}
	if c.LogFormat == "json" {
		formatter = &logging.JSONFormatter{}
	}
	logging.SetDefaults(level, nil, formatter)
	return nil
}

// SaveToINI saves configuration to an INI file
func SaveToINI(config *Config, path string) error {
	return config.File().SaveTo(path)
}

// File renders the configuration as an INI document
func (c *Config) File() *ini.File {
	cfg := ini.Empty()
	section := cfg.Section(SectionName)

	// Matching defaults
	section.Key("threshold").SetValue(fmt.Sprintf("%g", c.Threshold))
	section.Key("center").SetValue(fmt.Sprintf("%t", c.Center))
	section.Key("method").SetValue(c.Method)
	section.Key("useMask").SetValue(fmt.Sprintf("%t", c.UseMask))
	section.Key("debug").SetValue(fmt.Sprintf("%t", c.Debug))

	// Capture
	section.Key("captureTimeoutMs").SetValue(fmt.Sprintf("%d", c.CaptureTimeoutMs))
	section.Key("windowTitle").SetValue(c.WindowTitle)
	section.Key("displayIndex").SetValue(fmt.Sprintf("%d", c.DisplayIndex))

	// Files
	section.Key("templateDir").SetValue(c.TemplateDir)
	section.Key("manifestDir").SetValue(c.ManifestDir)
	section.Key("journalPath").SetValue(c.JournalPath)
	section.Key("eventLogDir").SetValue(c.EventLogDir)

	// Observability
	section.Key("metrics").SetValue(c.Metrics)
	section.Key("logLevel").SetValue(c.LogLevel)
	section.Key("logFormat").SetValue(c.LogFormat)

	return cfg
}
