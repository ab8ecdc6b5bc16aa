package templates

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Entry is a named template plus the match options it overrides. Nil fields fall back
// to whatever the caller's defaults are.
type Entry struct {
	Name      string
	Path      string
	Threshold *float64
	Center    *bool
	UseMask   *bool
	Method    string
	Region    *image.Rectangle
}

// Registry manages a collection of named templates loaded from YAML manifests
type Registry struct {
	mu       sync.RWMutex
	entries  map[string]Entry
	basePath string // Base path for template image files
}

// EntryDefinition represents a template in the YAML file
type EntryDefinition struct {
	Name      string     `yaml:"name"`
	Path      string     `yaml:"path"`
	Threshold *float64   `yaml:"threshold,omitempty"`
	Center    *bool      `yaml:"center,omitempty"`
	Mask      *bool      `yaml:"mask,omitempty"`
	Method    string     `yaml:"method,omitempty"`
	Region    *RegionDef `yaml:"region,omitempty"`
}

// RegionDef represents a search region in the YAML file
type RegionDef struct {
	X1 int `yaml:"x1"`
	Y1 int `yaml:"y1"`
	X2 int `yaml:"x2"`
	Y2 int `yaml:"y2"`
}

// ManifestFile represents the structure of a template YAML file
type ManifestFile struct {
	Templates []EntryDefinition `yaml:"templates"`
}

// NewRegistry creates a new registry.
// basePath is the root directory that manifest paths are relative to.
func NewRegistry(basePath string) *Registry {
	return &Registry{
		entries:  make(map[string]Entry),
		basePath: basePath,
	}
}

// LoadFromFile loads entries from a YAML manifest
func (r *Registry) LoadFromFile(filePath string) error {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read manifest %s: %w", filePath, err)
	}

	var manifest ManifestFile
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("failed to unmarshal manifest YAML: %w", err)
	}

	// Validate everything before touching the registry so a bad file adds nothing
	entries := make([]Entry, 0, len(manifest.Templates))
	for i, def := range manifest.Templates {
		if def.Name == "" {
			return fmt.Errorf("template %d: name cannot be empty", i+1)
		}
		if def.Path == "" {
			return fmt.Errorf("template %d (%s): path cannot be empty", i+1, def.Name)
		}

		entry := Entry{
			Name:      def.Name,
			Path:      def.Path,
			Threshold: def.Threshold,
			Center:    def.Center,
			UseMask:   def.Mask,
			Method:    def.Method,
		}
		if !filepath.IsAbs(entry.Path) && r.basePath != "" {
			entry.Path = filepath.Join(r.basePath, def.Path)
		}
		if def.Region != nil {
			rect := image.Rect(def.Region.X1, def.Region.Y1, def.Region.X2, def.Region.Y2)
			if rect.Empty() {
				return fmt.Errorf("template %d (%s): region is empty", i+1, def.Name)
			}
			entry.Region = &rect
		}
		entries = append(entries, entry)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range entries {
		r.entries[entry.Name] = entry
	}

	return nil
}

// LoadFromDirectory loads all YAML manifests from a directory. Every file is attempted;
// failures are aggregated.
func (r *Registry) LoadFromDirectory(dirPath string) error {
	dirEntries, err := os.ReadDir(dirPath)
	if err != nil {
		return fmt.Errorf("failed to read manifest directory %s: %w", dirPath, err)
	}

	var result *multierror.Error
	for _, entry := range dirEntries {
		if entry.IsDir() {
			continue
		}

		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		fullPath := filepath.Join(dirPath, entry.Name())
		if err := r.LoadFromFile(fullPath); err != nil {
			result = multierror.Append(result, fmt.Errorf("file %s: %w", entry.Name(), err))
		}
	}

	return result.ErrorOrNil()
}

// Get retrieves an entry by name
func (r *Registry) Get(name string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.entries[name]
	return entry, ok
}

// Register adds an entry programmatically
func (r *Registry) Register(entry Entry) error {
	if entry.Name == "" {
		return fmt.Errorf("template name cannot be empty")
	}
	if entry.Path == "" {
		return fmt.Errorf("template %s: path cannot be empty", entry.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[entry.Name] = entry
	return nil
}

// Has checks if an entry exists
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.entries[name]
	return ok
}

// List returns all entry names, sorted
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of entries
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.entries)
}
