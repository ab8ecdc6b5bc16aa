package cv

import (
	"image"
	"image/color"
	"image/draw"
	"strconv"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// AnnotateMatches returns a copy of img with a rectangle of the given size drawn at each
// top-left position, numbered in order. img is not modified.
func AnnotateMatches(img *image.RGBA, tops []image.Point, size image.Point, col color.RGBA) *image.RGBA {
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	draw.Draw(out, bounds, img, bounds.Min, draw.Src)

	drawer := &font.Drawer{
		Dst:  out,
		Src:  image.NewUniform(col),
		Face: basicfont.Face7x13,
	}

	for i, p := range tops {
		origin := p.Add(bounds.Min)
		rect := image.Rectangle{Min: origin, Max: origin.Add(size)}.Intersect(bounds)
		if rect.Empty() {
			continue
		}
		drawRect(out, rect, col)

		// Label sits just inside the top-left corner
		drawer.Dot = fixed.P(rect.Min.X+2, rect.Min.Y+basicfont.Face7x13.Ascent+1)
		drawer.DrawString(strconv.Itoa(i))
	}
	return out
}

func drawRect(img *image.RGBA, rect image.Rectangle, col color.RGBA) {
	// Top and bottom
	for x := rect.Min.X; x < rect.Max.X; x++ {
		img.SetRGBA(x, rect.Min.Y, col)
		img.SetRGBA(x, rect.Max.Y-1, col)
	}
	// Left and right
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		img.SetRGBA(rect.Min.X, y, col)
		img.SetRGBA(rect.Max.X-1, y, col)
	}
}
