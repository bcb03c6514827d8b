// Package pdfcrop crops the margins of PDF files. It discovers the tight
// content bounding box of each page, either by rendering the page and
// thresholding the pixels or by querying Ghostscript's bbox device, and
// computes a final crop box per page under a configurable policy: per-margin
// retain percentages and absolute offsets, uniform and order-statistic
// cropping, even/odd grouping, common page size normalization, and aspect
// ratio enforcement.
package pdfcrop

import (
	"context"
	"log"
	"time"

	"github.com/klippa-app/go-pdfium"
	"github.com/pkg/errors"
)

// BoundsStrategy selects how tight bounding boxes are discovered.
type BoundsStrategy int

const (
	// RasterThreshold renders each page with pdfium and thresholds pixels.
	RasterThreshold BoundsStrategy = iota
	// VectorQuery runs Ghostscript's bbox device over the document.
	VectorQuery
)

// ComputeCropBoxes is the engine's single calculation boundary: it asks the
// injected bounds source for each page's tight box, translates the results
// into the full-page boxes' coordinate origin, and runs the pure crop
// calculus. It returns one box per page in document order; pages outside
// pagesToCrop keep their full-page box.
func ComputeCropBoxes(ctx context.Context, source BoundsSource, fullBoxes []Box, rotations []int, pagesToCrop PageSet, policy CropPolicy) ([]Box, error) {
	if source == nil {
		return nil, errors.New("no bounding box source available")
	}
	tightBoxes, err := source.TightBoxes(ctx, fullBoxes, pagesToCrop)
	if err != nil {
		return nil, errors.Wrap(err, "failed to find bounding boxes")
	}
	tightBoxes = CorrectForNonzeroOrigin(tightBoxes, fullBoxes)
	return CalculateCropBoxes(fullBoxes, tightBoxes, rotations, pagesToCrop, policy)
}

// CropMetrics contains timing and statistics for one cropping run.
type CropMetrics struct {
	TotalTime        time.Duration
	DocumentOpen     time.Duration
	BoundsExtraction time.Duration
	PageCount        int
	CroppedPages     int
	AlreadyCropped   bool
}

// Cropper crops PDF margins using a pdfium instance for document access and
// rendering.
type Cropper struct {
	instance  pdfium.Pdfium
	policy    CropPolicy
	strategy  BoundsStrategy
	applyOpts ApplyOptions
}

// NewCropper creates a cropper with the default policy and the raster
// threshold strategy.
func NewCropper(instance pdfium.Pdfium) *Cropper {
	return &Cropper{
		instance: instance,
		policy:   DefaultPolicy(),
	}
}

// NewCropperWithPolicy creates a cropper with a custom policy.
func NewCropperWithPolicy(instance pdfium.Pdfium, policy CropPolicy) *Cropper {
	return &Cropper{
		instance: instance,
		policy:   policy,
	}
}

// SetStrategy selects the bounding box discovery strategy.
func (c *Cropper) SetStrategy(strategy BoundsStrategy) {
	c.strategy = strategy
}

// SetApplyOptions overrides how crop boxes are written back to the pages.
func (c *Cropper) SetApplyOptions(opts ApplyOptions) {
	c.applyOpts = opts
}

// CropFile crops the document at inputPath and writes the result to
// outputPath. A nil pagesToCrop selects every page.
func (c *Cropper) CropFile(ctx context.Context, inputPath, outputPath string, pagesToCrop PageSet) error {
	_, err := c.CropFileWithMetrics(ctx, inputPath, outputPath, pagesToCrop)
	return err
}

// CropFileWithMetrics crops a document and returns timing and statistics
// for the run.
func (c *Cropper) CropFileWithMetrics(ctx context.Context, inputPath, outputPath string, pagesToCrop PageSet) (CropMetrics, error) {
	if err := c.policy.Validate(); err != nil {
		return CropMetrics{}, err
	}

	startTime := time.Now()
	openStart := time.Now()
	doc, err := OpenDocument(c.instance, inputPath)
	if err != nil {
		return CropMetrics{}, err
	}
	defer doc.Close()
	openTime := time.Since(openStart)

	if pagesToCrop == nil {
		pagesToCrop = AllPages(doc.NumPages())
	}

	alreadyCropped := doc.AlreadyCropped()
	if c.policy.Verbose {
		if alreadyCropped {
			log.Printf("The document was already cropped at least once by this tool.")
		} else {
			log.Printf("The document was not previously cropped by this tool.")
		}
	}

	fullBoxes, rotations, err := doc.ResolveFullPageBoxes(c.policy)
	if err != nil {
		return CropMetrics{}, err
	}

	var source BoundsSource
	switch c.strategy {
	case RasterThreshold:
		source = NewRasterSource(doc, c.policy)
	case VectorQuery:
		source, err = NewGhostscriptSource(inputPath, c.policy)
		if err != nil {
			return CropMetrics{}, err
		}
	default:
		return CropMetrics{}, errors.Errorf("unknown bounds strategy %d", c.strategy)
	}

	boundsStart := time.Now()
	cropBoxes, err := ComputeCropBoxes(ctx, source, fullBoxes, rotations, pagesToCrop, c.policy)
	if err != nil {
		return CropMetrics{}, err
	}
	boundsTime := time.Since(boundsStart)

	applyOpts := c.applyOpts
	applyOpts.AlreadyCropped = alreadyCropped
	applyOpts.Verbose = applyOpts.Verbose || c.policy.Verbose
	if err := doc.ApplyCropBoxes(cropBoxes, pagesToCrop, applyOpts); err != nil {
		return CropMetrics{}, err
	}

	if err := doc.SaveAs(outputPath); err != nil {
		return CropMetrics{}, err
	}

	metrics := CropMetrics{
		TotalTime:        time.Since(startTime),
		DocumentOpen:     openTime,
		BoundsExtraction: boundsTime,
		PageCount:        doc.NumPages(),
		CroppedPages:     len(pagesToCrop),
		AlreadyCropped:   alreadyCropped,
	}
	if c.policy.Verbose {
		logCropMetrics(metrics)
	}
	return metrics, nil
}

// RestoreFile undoes a previous crop by restoring each page's original size
// from the ArtBox, writing the result to outputPath. It refuses to touch
// documents that this tool did not crop.
func (c *Cropper) RestoreFile(ctx context.Context, inputPath, outputPath string) error {
	doc, err := OpenDocument(c.instance, inputPath)
	if err != nil {
		return err
	}
	defer doc.Close()

	if !doc.AlreadyCropped() {
		return errors.New("the Producer metadata indicates this document was not cropped by this tool; refusing to restore")
	}
	if err := doc.Restore(); err != nil {
		return err
	}
	return doc.SaveAs(outputPath)
}

// logCropMetrics logs the run metrics in a readable format.
func logCropMetrics(m CropMetrics) {
	log.Println("┌─────────────────────────────────────────────┐")
	log.Println("│ PDF Cropping Metrics                        │")
	log.Println("├─────────────────────────────────────────────┤")
	log.Printf("│ Total Time:    %-28v │\n", m.TotalTime.Round(time.Millisecond))
	log.Printf("│ Document Open: %-28v │\n", m.DocumentOpen.Round(time.Millisecond))
	log.Printf("│ Bounding Box:  %-28v │\n", m.BoundsExtraction.Round(time.Millisecond))
	log.Printf("│ Pages:         %-28d │\n", m.PageCount)
	log.Printf("│ Cropped Pages: %-28d │\n", m.CroppedPages)
	log.Println("└─────────────────────────────────────────────┘")
}
