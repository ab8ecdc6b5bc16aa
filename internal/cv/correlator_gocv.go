//go:build gocv

package cv

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/mat"

	"jordanella.com/screen-locator/pkg/templates"
)

// DefaultCorrelator returns the OpenCV-backed correlator
func DefaultCorrelator() Correlator {
	return &GocvCorrelator{}
}

// GocvCorrelator runs cv::matchTemplate through gocv
type GocvCorrelator struct{}

var gocvModes = map[MatchMethod]gocv.TemplateMatchMode{
	MethodSqDiff:       gocv.TmSqdiff,
	MethodSqDiffNormed: gocv.TmSqdiffNormed,
	MethodCCorr:        gocv.TmCcorr,
	MethodCCorrNormed:  gocv.TmCcorrNormed,
	MethodCCoeff:       gocv.TmCcoeff,
	MethodCCoeffNormed: gocv.TmCcoeffNormed,
}

// Correlate implements Correlator
func (gc *GocvCorrelator) Correlate(img *image.RGBA, tmpl *templates.TemplateImage, method MatchMethod, useMask bool) (*Surface, error) {
	mode, ok := gocvModes[method]
	if !ok {
		return nil, fmt.Errorf("unsupported match method: %v", method)
	}

	// ImageToMatRGB expects a zero-origin image
	bounds := img.Bounds()
	search := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(search, search.Bounds(), img, bounds.Min, draw.Src)

	screen, err := gocv.ImageToMatRGB(search)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame: %w", err)
	}
	defer screen.Close()

	tmat, err := gocv.ImageToMatRGB(tmpl.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to convert template %q: %w", tmpl.ID, err)
	}
	defer tmat.Close()

	mask := gocv.NewMat()
	if useMask {
		alpha := image.NewGray(image.Rect(0, 0, tmpl.Width(), tmpl.Height()))
		for y := 0; y < tmpl.Height(); y++ {
			for x := 0; x < tmpl.Width(); x++ {
				if tmpl.Image.NRGBAAt(x, y).A > 0 {
					alpha.SetGray(x, y, color.Gray{Y: 255})
				}
			}
		}
		gray, err := gocv.ImageGrayToMatGray(alpha)
		if err != nil {
			mask.Close()
			return nil, fmt.Errorf("failed to convert mask for %q: %w", tmpl.ID, err)
		}
		mask.Close()
		mask = gray
	}
	defer mask.Close()

	result := gocv.NewMat()
	defer result.Close()
	gocv.MatchTemplate(screen, tmat, &result, mode, mask)

	rows, cols := result.Rows(), result.Cols()
	data := make([]float64, rows*cols)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			data[y*cols+x] = float64(result.GetFloatAt(y, x))
		}
	}
	return NewSurface(method, mat.NewDense(rows, cols, data)), nil
}
