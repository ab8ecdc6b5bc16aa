package templates

import (
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidTemplate(id string, w, h int) *TemplateImage {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
		img.Pix[i+3] = 255
	}
	return &TemplateImage{ID: id, Image: img}
}

func writePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	file, err := os.Create(path)
	require.NoError(t, err)
	defer file.Close()
	require.NoError(t, png.Encode(file, img))
}

func TestStoreGetCachesAfterFirstLoad(t *testing.T) {
	var loads int32
	store := NewStore(LoaderFunc(func(id string) (*TemplateImage, error) {
		atomic.AddInt32(&loads, 1)
		return solidTemplate(id, 4, 4), nil
	}))

	first, err := store.Get("button.png")
	require.NoError(t, err)
	second, err := store.Get("button.png")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))

	stats := store.Stats()
	assert.Equal(t, int64(1), stats.Loads)
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 1, store.Len())
	assert.True(t, store.Has("button.png"))
}

func TestStoreConcurrentFirstLoadRunsOnce(t *testing.T) {
	var loads int32
	release := make(chan struct{})
	store := NewStore(LoaderFunc(func(id string) (*TemplateImage, error) {
		atomic.AddInt32(&loads, 1)
		<-release
		return solidTemplate(id, 2, 2), nil
	}))

	const callers = 16
	results := make([]*TemplateImage, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			tmpl, err := store.Get("shared")
			assert.NoError(t, err)
			results[i] = tmpl
		}(i)
	}

	// Give the callers time to pile up on the in-flight load
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&loads))
	for _, tmpl := range results {
		assert.Same(t, results[0], tmpl)
	}
}

func TestStoreLoadFailureIsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	store := NewStore(LoaderFunc(func(id string) (*TemplateImage, error) {
		if fail.Load() {
			return nil, errors.New("disk on fire")
		}
		return solidTemplate(id, 3, 3), nil
	}))

	_, err := store.Get("flaky")
	var loadErr *TemplateLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, "flaky", loadErr.ID)
	assert.False(t, store.Has("flaky"))

	fail.Store(false)
	tmpl, err := store.Get("flaky")
	require.NoError(t, err)
	assert.Equal(t, 3, tmpl.Width())
	assert.Equal(t, int64(1), store.Stats().LoadErrors)
}

func TestStoreRejectsZeroSizeImage(t *testing.T) {
	store := NewStore(LoaderFunc(func(id string) (*TemplateImage, error) {
		return &TemplateImage{ID: id, Image: image.NewNRGBA(image.Rect(0, 0, 0, 5))}, nil
	}))

	_, err := store.Get("empty")
	var loadErr *TemplateLoadError
	assert.ErrorAs(t, err, &loadErr)
}

func TestFileLoaderPreservesAlpha(t *testing.T) {
	dir := t.TempDir()

	translucent := image.NewNRGBA(image.Rect(0, 0, 6, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 6; x++ {
			translucent.SetNRGBA(x, y, color.NRGBA{R: 10, G: 20, B: 30, A: uint8(x * 40)})
		}
	}
	writePNG(t, filepath.Join(dir, "masked.png"), translucent)

	opaque := image.NewRGBA(image.Rect(0, 0, 5, 5))
	for i := 0; i < len(opaque.Pix); i += 4 {
		opaque.Pix[i+1] = 200
		opaque.Pix[i+3] = 255
	}
	writePNG(t, filepath.Join(dir, "plain.png"), opaque)

	store := NewStore(NewFileLoader(dir))

	masked, err := store.Get("masked.png")
	require.NoError(t, err)
	assert.True(t, masked.HasAlpha)
	assert.Equal(t, 4, masked.Channels())
	assert.Equal(t, image.Point{X: 6, Y: 4}, masked.Size())
	// Colour under a fully transparent pixel survives decoding
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 0}, masked.Image.NRGBAAt(0, 0))

	plain, err := store.Get("plain.png")
	require.NoError(t, err)
	assert.False(t, plain.HasAlpha)
	assert.Equal(t, 3, plain.Channels())
}

func TestFileLoaderMissingAndUndecodable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.png"), []byte("not an image"), 0644))

	store := NewStore(NewFileLoader(dir))

	_, err := store.Get("missing.png")
	var loadErr *TemplateLoadError
	require.ErrorAs(t, err, &loadErr)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = store.Get("notes.png")
	assert.ErrorAs(t, err, &loadErr)
}

func TestFileLoaderResolve(t *testing.T) {
	loader := NewFileLoader("assets")
	assert.Equal(t, filepath.Join("assets", "ok.png"), loader.Resolve("ok.png"))

	abs := filepath.Join(t.TempDir(), "abs.png")
	assert.Equal(t, abs, loader.Resolve(abs))

	assert.Equal(t, "bare.png", NewFileLoader("").Resolve("bare.png"))
}
