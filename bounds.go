package pdfcrop

import (
	"context"
	"image"
	"log"
	"time"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// BoundsSource discovers the tight content bounding box of each page. The
// boxes it returns are in the rendered page's coordinate frame, with the
// lower-left corner of the page at the origin; callers translate them with
// CorrectForNonzeroOrigin before any delta arithmetic.
//
// Two implementations exist: RasterSource renders pages and thresholds the
// pixels, GhostscriptSource asks Ghostscript's bbox device. The choice is
// made once at the boundary and injected.
type BoundsSource interface {
	TightBoxes(ctx context.Context, fullBoxes []Box, pagesToCrop PageSet) ([]Box, error)
}

// PageRenderer renders a single page to a raster image at the given
// per-axis resolutions. Document implements it on top of pdfium.
type PageRenderer interface {
	RenderPage(ctx context.Context, pageIndex, dpiX, dpiY int) (image.Image, error)
}

// A failed page render is retried a few times before the whole run is
// abandoned; a missing bounding box would break the page-indexed arrays, so
// there is no per-page fallback.
const (
	renderRetries    = 3
	renderRetryDelay = time.Second
)

// Convolution kernels applied before thresholding, matching the classic
// Pillow BLUR and SMOOTH_MORE filters (normalized 5x5 kernels).
var (
	blurKernel = [25]float64{
		1, 1, 1, 1, 1,
		1, 0, 0, 0, 1,
		1, 0, 0, 0, 1,
		1, 0, 0, 0, 1,
		1, 1, 1, 1, 1,
	}
	smoothKernel = [25]float64{
		1, 1, 1, 1, 1,
		1, 5, 5, 5, 1,
		1, 5, 44, 5, 1,
		1, 5, 5, 5, 1,
		1, 1, 1, 1, 1,
	}
)

// RasterSource finds tight bounding boxes by rendering each selected page
// and classifying pixels against an intensity threshold.
type RasterSource struct {
	renderer   PageRenderer
	threshold  int
	numBlurs   int
	numSmooths int
	dpiX       int
	dpiY       int
	verbose    bool
	retryDelay time.Duration
}

// NewRasterSource creates the raster-threshold bounds source for the given
// renderer, configured from the policy.
func NewRasterSource(renderer PageRenderer, policy CropPolicy) *RasterSource {
	return &RasterSource{
		renderer:   renderer,
		threshold:  policy.Threshold,
		numBlurs:   policy.NumBlurs,
		numSmooths: policy.NumSmooths,
		dpiX:       policy.DpiX,
		dpiY:       policy.DpiY,
		verbose:    policy.Verbose,
		retryDelay: renderRetryDelay,
	}
}

// TightBoxes renders every selected page and computes its minimal ink
// rectangle. Pages outside the crop set are not rendered; they get the
// zero-origin equivalent of their full-page box so that origin correction
// restores the full box exactly.
func (s *RasterSource) TightBoxes(ctx context.Context, fullBoxes []Box, pagesToCrop PageSet) ([]Box, error) {
	// A negative threshold flips the ink test, for documents with a dark
	// background and light foreground.
	threshold := s.threshold
	darkBackground := false
	if threshold < 0 {
		threshold = -threshold
		darkBackground = true
	}

	if s.verbose {
		log.Printf("Rendering the PDF pages at %dx%d DPI and finding bounding boxes with threshold %d.",
			s.dpiX, s.dpiY, s.threshold)
	}

	boxes := make([]Box, len(fullBoxes))
	for i := range fullBoxes {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !pagesToCrop.Has(i) {
			boxes[i] = Box{Left: 0, Bottom: 0, Right: fullBoxes[i].Width(), Top: fullBoxes[i].Height()}
			continue
		}

		img, err := s.renderPage(ctx, i)
		if err != nil {
			return nil, err
		}

		gray := imaging.Grayscale(img)
		for b := 0; b < s.numBlurs; b++ {
			gray = imaging.Convolve5x5(gray, blurKernel, &imaging.ConvolveOptions{Normalize: true})
		}
		for b := 0; b < s.numSmooths; b++ {
			gray = imaging.Convolve5x5(gray, smoothKernel, &imaging.ConvolveOptions{Normalize: true})
		}

		boxes[i] = tightBoxFromImage(gray, threshold, darkBackground, fullBoxes[i])
		if s.verbose {
			log.Printf("Page %d bounding box: %+v", i+1, boxes[i])
		}
	}
	return boxes, nil
}

// renderPage renders one page with bounded retries, since transient I/O
// errors reading rendered artifacts are recoverable.
func (s *RasterSource) renderPage(ctx context.Context, pageIndex int) (image.Image, error) {
	var lastErr error
	for attempt := 0; attempt <= renderRetries; attempt++ {
		if attempt > 0 {
			if s.verbose {
				log.Printf("Warning: retrying render of page %d after error: %v", pageIndex+1, lastErr)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
		img, err := s.renderer.RenderPage(ctx, pageIndex, s.dpiX, s.dpiY)
		if err == nil {
			return img, nil
		}
		lastErr = err
	}
	return nil, errors.Wrapf(lastErr, "failed to render page %d after %d attempts", pageIndex+1, renderRetries+1)
}

// tightBoxFromImage finds the minimal rectangle enclosing all ink pixels of
// a grayscale render and converts it from image space (top-left origin, y
// down) to PDF space (bottom-left origin, y up), scaling pixels to points by
// the full-page box size independently per axis. A page with no ink at all
// collapses to a single point at the page center, which signals a blank
// page without being an error.
func tightBoxFromImage(img *image.NRGBA, threshold int, darkBackground bool, fullBox Box) Box {
	width := img.Rect.Dx()
	height := img.Rect.Dy()

	isInk := func(v uint8) bool {
		if darkBackground {
			return int(v) >= threshold
		}
		return int(v) < threshold
	}

	xMin, yMin := width, height
	xMax, yMax := -1, -1
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride : y*img.Stride+width*4]
		for x := 0; x < width; x++ {
			if !isInk(row[x*4]) {
				continue
			}
			if x < xMin {
				xMin = x
			}
			if x > xMax {
				xMax = x
			}
			if y < yMin {
				yMin = y
			}
			yMax = y
		}
	}

	convertX := fullBox.Width() / float64(width)
	convertY := fullBox.Height() / float64(height)

	if xMax < 0 {
		cx := float64(width) / 2 * convertX
		cy := float64(height) / 2 * convertY
		return Box{Left: cx, Bottom: cy, Right: cx, Top: cy}
	}

	// Image rows count down from the top, so the box's top edge is the first
	// ink row and the bottom edge is one past the last.
	return Box{
		Left:   float64(xMin) * convertX,
		Bottom: float64(height-(yMax+1)) * convertY,
		Right:  float64(xMax+1) * convertX,
		Top:    float64(height-yMin) * convertY,
	}
}
