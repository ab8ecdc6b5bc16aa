package templates

import (
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// FileLoader decodes template images from disk. Relative identifiers are resolved
// under BaseDir; absolute ones are used as-is.
type FileLoader struct {
	BaseDir string
}

// NewFileLoader creates a loader rooted at baseDir
func NewFileLoader(baseDir string) *FileLoader {
	return &FileLoader{BaseDir: baseDir}
}

// Resolve returns the file path an identifier maps to
func (fl *FileLoader) Resolve(id string) string {
	if filepath.IsAbs(id) || fl.BaseDir == "" {
		return id
	}
	return filepath.Join(fl.BaseDir, id)
}

// Load reads and decodes the image for id, keeping every channel
func (fl *FileLoader) Load(id string) (*TemplateImage, error) {
	path := fl.Resolve(id)

	file, err := os.Open(path)
	if err != nil {
		return nil, &TemplateLoadError{ID: id, Err: fmt.Errorf("failed to open template: %w", err)}
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, &TemplateLoadError{ID: id, Err: fmt.Errorf("failed to decode template %s: %w", path, err)}
	}

	return NewTemplateImage(id, img)
}
