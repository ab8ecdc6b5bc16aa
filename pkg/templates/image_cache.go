package templates

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"sync"

	"golang.org/x/sync/singleflight"
)

// TemplateImage is a decoded template, immutable once loaded
type TemplateImage struct {
	ID       string
	Image    *image.NRGBA // Non-premultiplied so colour under transparent pixels survives
	HasAlpha bool
}

// Width returns the template width in pixels
func (t *TemplateImage) Width() int {
	return t.Image.Bounds().Dx()
}

// Height returns the template height in pixels
func (t *TemplateImage) Height() int {
	return t.Image.Bounds().Dy()
}

// Channels returns 4 when the source image carried alpha, 3 otherwise
func (t *TemplateImage) Channels() int {
	if t.HasAlpha {
		return 4
	}
	return 3
}

// Size returns the template dimensions as a point
func (t *TemplateImage) Size() image.Point {
	return image.Point{X: t.Width(), Y: t.Height()}
}

// NewTemplateImage wraps an already decoded image. Alpha is considered present when the
// source colour model carries it or any pixel is not fully opaque.
func NewTemplateImage(id string, src image.Image) (*TemplateImage, error) {
	if src == nil {
		return nil, &TemplateLoadError{ID: id, Err: errors.New("nil image")}
	}
	bounds := src.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return nil, &TemplateLoadError{ID: id, Err: fmt.Errorf("zero-size image %dx%d", bounds.Dx(), bounds.Dy())}
	}

	var nrgba *image.NRGBA
	if n, ok := src.(*image.NRGBA); ok && bounds.Min == (image.Point{}) {
		nrgba = n
	} else {
		nrgba = image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
		draw.Draw(nrgba, nrgba.Bounds(), src, bounds.Min, draw.Src)
	}

	return &TemplateImage{
		ID:       id,
		Image:    nrgba,
		HasAlpha: hasAlphaChannel(src),
	}, nil
}

func hasAlphaChannel(img image.Image) bool {
	switch src := img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.Alpha, *image.Alpha16:
		return true
	case *image.Paletted:
		for _, c := range src.Palette {
			if _, _, _, a := c.RGBA(); a != 0xffff {
				return true
			}
		}
		return false
	case interface{ Opaque() bool }:
		return !src.Opaque()
	}
	return false
}

// TemplateLoadError reports an identifier that could not be resolved to a usable image
type TemplateLoadError struct {
	ID  string
	Err error
}

func (e *TemplateLoadError) Error() string {
	return fmt.Sprintf("template %q: %v", e.ID, e.Err)
}

func (e *TemplateLoadError) Unwrap() error {
	return e.Err
}

// Loader resolves a template identifier to a decoded image
type Loader interface {
	Load(id string) (*TemplateImage, error)
}

// LoaderFunc adapts a function to the Loader interface
type LoaderFunc func(id string) (*TemplateImage, error)

func (f LoaderFunc) Load(id string) (*TemplateImage, error) {
	return f(id)
}

// CacheStats tracks cache performance
type CacheStats struct {
	Hits       int64 // Served from cache
	Misses     int64 // Had to go through the loader (or joined an in-flight load)
	Loads      int64 // Successful loader invocations
	LoadErrors int64 // Failed loader invocations
}

// Store memoizes decoded templates by identifier. Entries are never replaced or evicted;
// use a different identifier to force a reload.
type Store struct {
	loader Loader

	mu        sync.RWMutex
	templates map[string]*TemplateImage
	stats     CacheStats

	group singleflight.Group
}

// NewStore creates a store that loads through loader
func NewStore(loader Loader) *Store {
	return &Store{
		loader:    loader,
		templates: make(map[string]*TemplateImage),
	}
}

// Get returns the cached template for id, loading it on first use
func (s *Store) Get(id string) (*TemplateImage, error) {
	// Fast path: already loaded
	s.mu.RLock()
	tmpl, ok := s.templates[id]
	s.mu.RUnlock()
	if ok {
		s.mu.Lock()
		s.stats.Hits++
		s.mu.Unlock()
		return tmpl, nil
	}

	s.mu.Lock()
	s.stats.Misses++
	s.mu.Unlock()

	// Slow path: one load per id even when several callers miss at once
	v, err, _ := s.group.Do(id, func() (interface{}, error) {
		// Double-check: a previous flight may have finished between our miss and Do
		s.mu.RLock()
		cached, ok := s.templates[id]
		s.mu.RUnlock()
		if ok {
			return cached, nil
		}

		loaded, err := s.load(id)

		s.mu.Lock()
		defer s.mu.Unlock()
		if err != nil {
			s.stats.LoadErrors++
			return nil, err
		}
		s.stats.Loads++
		s.templates[id] = loaded
		return loaded, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*TemplateImage), nil
}

func (s *Store) load(id string) (*TemplateImage, error) {
	tmpl, err := s.loader.Load(id)
	if err != nil {
		var loadErr *TemplateLoadError
		if errors.As(err, &loadErr) {
			return nil, err
		}
		return nil, &TemplateLoadError{ID: id, Err: err}
	}
	if tmpl == nil || tmpl.Image == nil {
		return nil, &TemplateLoadError{ID: id, Err: errors.New("loader returned no image")}
	}
	if tmpl.Width() <= 0 || tmpl.Height() <= 0 {
		return nil, &TemplateLoadError{ID: id, Err: fmt.Errorf("zero-size image %dx%d", tmpl.Width(), tmpl.Height())}
	}
	if tmpl.ID == "" {
		tmpl.ID = id
	}
	return tmpl, nil
}

// Has reports whether id is already cached
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.templates[id]
	return ok
}

// Len returns the number of cached templates
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.templates)
}

// Stats returns cache statistics
func (s *Store) Stats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}
