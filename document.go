package pdfcrop

import (
	"context"
	"image"
	"log"
	"math"
	"strings"

	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/enums"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/pkg/errors"
)

// ProducerModifier is the marker appended to the Producer metadata of
// cropped files, used to recognize documents this tool cropped before.
const ProducerModifier = " (Cropped by pdfcrop.)"

// pageState holds the geometry saved per page while the document is being
// worked on, so the original values can be restored before writing.
type pageState struct {
	rotation         int
	originalMediaBox Box
	originalCropBox  Box
}

// Document wraps a pdfium document and gives the engine the page geometry
// access it needs: box resolution, rotation handling, rendering, and
// applying the computed crop boxes back onto the pages.
type Document struct {
	instance pdfium.Pdfium
	ref      references.FPDF_DOCUMENT
	path     string
	numPages int
	pages    []pageState
	resolved bool
}

// OpenDocument opens the PDF at path.
func OpenDocument(instance pdfium.Pdfium, path string) (*Document, error) {
	doc, err := instance.OpenDocument(&requests.OpenDocument{
		FilePath: &path,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to open PDF document")
	}

	pageCount, err := instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})
		return nil, errors.Wrap(err, "failed to get page count")
	}

	return &Document{
		instance: instance,
		ref:      doc.Document,
		path:     path,
		numPages: pageCount.PageCount,
		pages:    make([]pageState, pageCount.PageCount),
	}, nil
}

// Close releases the underlying pdfium document.
func (d *Document) Close() {
	d.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: d.ref})
}

// NumPages returns the number of pages in the document.
func (d *Document) NumPages() int {
	return d.numPages
}

// Path returns the filename the document was opened from.
func (d *Document) Path() string {
	return d.path
}

// page builds a by-index page request for pdfium calls.
func (d *Document) page(index int) requests.Page {
	return requests.Page{
		ByIndex: &requests.PageByIndex{
			Document: d.ref,
			Index:    index,
		},
	}
}

// AlreadyCropped reports whether the Producer metadata carries this tool's
// marker, meaning the document's boxes were already rewritten by a previous
// crop and its ArtBox already holds the undo data. The engine itself never
// computes this; it just receives the boolean.
func (d *Document) AlreadyCropped() bool {
	meta, err := d.instance.FPDF_GetMetaText(&requests.FPDF_GetMetaText{
		Document: d.ref,
		Tag:      "Producer",
	})
	if err != nil {
		return false
	}
	return strings.HasSuffix(strings.TrimSpace(meta.Value), strings.TrimSpace(ProducerModifier))
}

// getBox reads one of a page's boxes, falling back to the media box when the
// requested box is not set on the page.
func (d *Document) getBox(index int, src BoxSource) (Box, error) {
	toBox := func(l, b, r, t float32) Box {
		return Box{Left: float64(l), Bottom: float64(b), Right: float64(r), Top: float64(t)}
	}

	media, err := d.instance.FPDFPage_GetMediaBox(&requests.FPDFPage_GetMediaBox{Page: d.page(index)})
	if err != nil {
		return Box{}, errors.Wrapf(err, "failed to get media box of page %d", index+1)
	}
	mediaBox := toBox(media.Left, media.Bottom, media.Right, media.Top)

	switch src {
	case MediaBox:
		return mediaBox, nil
	case CropBox:
		resp, err := d.instance.FPDFPage_GetCropBox(&requests.FPDFPage_GetCropBox{Page: d.page(index)})
		if err != nil {
			return mediaBox, nil
		}
		return toBox(resp.Left, resp.Bottom, resp.Right, resp.Top), nil
	case TrimBox:
		resp, err := d.instance.FPDFPage_GetTrimBox(&requests.FPDFPage_GetTrimBox{Page: d.page(index)})
		if err != nil {
			return mediaBox, nil
		}
		return toBox(resp.Left, resp.Bottom, resp.Right, resp.Top), nil
	case ArtBox:
		resp, err := d.instance.FPDFPage_GetArtBox(&requests.FPDFPage_GetArtBox{Page: d.page(index)})
		if err != nil {
			return mediaBox, nil
		}
		return toBox(resp.Left, resp.Bottom, resp.Right, resp.Top), nil
	case BleedBox:
		resp, err := d.instance.FPDFPage_GetBleedBox(&requests.FPDFPage_GetBleedBox{Page: d.page(index)})
		if err != nil {
			return mediaBox, nil
		}
		return toBox(resp.Left, resp.Bottom, resp.Right, resp.Top), nil
	}
	return Box{}, errors.Errorf("unknown box source %q", string(src))
}

// setBox writes one of a page's boxes.
func (d *Document) setBox(index int, src BoxSource, box Box) error {
	l, b := float32(box.Left), float32(box.Bottom)
	r, t := float32(box.Right), float32(box.Top)
	var err error
	switch src {
	case MediaBox:
		_, err = d.instance.FPDFPage_SetMediaBox(&requests.FPDFPage_SetMediaBox{
			Page: d.page(index), Left: l, Bottom: b, Right: r, Top: t,
		})
	case CropBox:
		_, err = d.instance.FPDFPage_SetCropBox(&requests.FPDFPage_SetCropBox{
			Page: d.page(index), Left: l, Bottom: b, Right: r, Top: t,
		})
	case TrimBox:
		_, err = d.instance.FPDFPage_SetTrimBox(&requests.FPDFPage_SetTrimBox{
			Page: d.page(index), Left: l, Bottom: b, Right: r, Top: t,
		})
	case ArtBox:
		_, err = d.instance.FPDFPage_SetArtBox(&requests.FPDFPage_SetArtBox{
			Page: d.page(index), Left: l, Bottom: b, Right: r, Top: t,
		})
	case BleedBox:
		_, err = d.instance.FPDFPage_SetBleedBox(&requests.FPDFPage_SetBleedBox{
			Page: d.page(index), Left: l, Bottom: b, Right: r, Top: t,
		})
	default:
		return errors.Errorf("unknown box source %q", string(src))
	}
	return errors.Wrapf(err, "failed to set %q box of page %d", string(src), index+1)
}

// rotation reads a page's stored rotation in degrees clockwise.
func (d *Document) rotation(index int) (int, error) {
	resp, err := d.instance.FPDFPage_GetRotation(&requests.FPDFPage_GetRotation{Page: d.page(index)})
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get rotation of page %d", index+1)
	}
	return NormalizeRotation(int(resp.PageRotation) * 90), nil
}

// setRotation writes a page's rotation in degrees clockwise.
func (d *Document) setRotation(index, degrees int) error {
	_, err := d.instance.FPDFPage_SetRotation(&requests.FPDFPage_SetRotation{
		Page:   d.page(index),
		Rotate: enums.FPDF_PAGE_ROTATION(NormalizeRotation(degrees) / 90),
	})
	return errors.Wrapf(err, "failed to set rotation of page %d", index+1)
}

// ResolveFullPageBoxes computes the reference full-page box and rotation of
// every page. The full-page box is the intersection of the policy's box
// sources, reduced by the rotation-remapped absolute pre-crop. Each page's
// rotation is recorded and stripped so all later geometry is unrotated, and
// the media and crop boxes are set to the full-page box so renders cover
// exactly that region; ApplyCropBoxes restores everything before saving.
func (d *Document) ResolveFullPageBoxes(policy CropPolicy) ([]Box, []int, error) {
	sources := policy.FullPageBoxes
	if len(sources) == 0 {
		sources = []BoxSource{MediaBox, CropBox}
	}

	fullBoxes := make([]Box, d.numPages)
	rotations := make([]int, d.numPages)
	for i := 0; i < d.numPages; i++ {
		rotation, err := d.rotation(i)
		if err != nil {
			return nil, nil, err
		}
		if rotation != 0 {
			if err := d.setRotation(i, 0); err != nil {
				return nil, nil, err
			}
		}
		d.pages[i].rotation = rotation
		rotations[i] = rotation

		var fullBox Box
		for n, src := range sources {
			box, err := d.getBox(i, src)
			if err != nil {
				return nil, nil, err
			}
			if n == 0 {
				fullBox = box
			} else {
				fullBox = fullBox.Intersect(box)
			}
		}

		preCrop := RemapForRotation(policy.AbsolutePreCrop, rotation, false)
		fullBox = Box{
			Left:   fullBox.Left + preCrop[MarginLeft],
			Bottom: fullBox.Bottom + preCrop[MarginBottom],
			Right:  fullBox.Right - preCrop[MarginRight],
			Top:    fullBox.Top - preCrop[MarginTop],
		}

		mediaBox, err := d.getBox(i, MediaBox)
		if err != nil {
			return nil, nil, err
		}
		cropBox, err := d.getBox(i, CropBox)
		if err != nil {
			return nil, nil, err
		}
		d.pages[i].originalMediaBox = mediaBox
		d.pages[i].originalCropBox = cropBox

		if err := d.setBox(i, MediaBox, fullBox); err != nil {
			return nil, nil, err
		}
		if err := d.setBox(i, CropBox, fullBox); err != nil {
			return nil, nil, err
		}

		fullBoxes[i] = fullBox
		if policy.Verbose {
			log.Printf("Page %d: rotation %d, full page box %+v", i+1, rotation, fullBox)
		}
	}
	d.resolved = true
	return fullBoxes, rotations, nil
}

// RenderPage renders one page to a raster at the requested per-axis
// resolutions. The pixel dimensions follow the page size at 72 points per
// inch, so after ResolveFullPageBoxes the raster covers exactly the
// full-page box.
func (d *Document) RenderPage(ctx context.Context, pageIndex, dpiX, dpiY int) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	width, err := d.instance.FPDF_GetPageWidthF(&requests.FPDF_GetPageWidthF{Page: d.page(pageIndex)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get width of page %d", pageIndex+1)
	}
	height, err := d.instance.FPDF_GetPageHeightF(&requests.FPDF_GetPageHeightF{Page: d.page(pageIndex)})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get height of page %d", pageIndex+1)
	}

	pxWidth := int(math.Round(float64(width.PageWidth) * float64(dpiX) / 72.0))
	pxHeight := int(math.Round(float64(height.PageHeight) * float64(dpiY) / 72.0))
	if pxWidth < 1 {
		pxWidth = 1
	}
	if pxHeight < 1 {
		pxHeight = 1
	}

	render, err := d.instance.RenderPageInPixels(&requests.RenderPageInPixels{
		Page:   d.page(pageIndex),
		Width:  pxWidth,
		Height: pxHeight,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to render page %d", pageIndex+1)
	}
	return render.Result.Image, nil
}

// ApplyOptions controls how the final crop boxes are written back.
type ApplyOptions struct {
	// BoxesToSet are the page boxes receiving the crop box. Default is the
	// media box and the crop box.
	BoxesToSet []BoxSource

	// NoUndoSave disables stashing the original page size in the ArtBox.
	NoUndoSave bool

	// AlreadyCropped marks the document as previously cropped by this tool,
	// in which case the ArtBox already holds the original size and must not
	// be overwritten again.
	AlreadyCropped bool

	Verbose bool
}

// ApplyCropBoxes restores every page's rotation and original boxes, then
// writes the computed crop boxes onto the selected pages. Unless disabled,
// the original media-intersect-crop box is first saved into the ArtBox so
// Restore can undo the crop later.
func (d *Document) ApplyCropBoxes(cropBoxes []Box, pagesToCrop PageSet, opts ApplyOptions) error {
	if !d.resolved {
		return errors.New("ApplyCropBoxes called before ResolveFullPageBoxes")
	}
	if len(cropBoxes) != d.numPages {
		return errors.Errorf("got %d crop boxes for a %d page document", len(cropBoxes), d.numPages)
	}

	boxesToSet := opts.BoxesToSet
	if len(boxesToSet) == 0 {
		boxesToSet = []BoxSource{MediaBox, CropBox}
	}

	for i := 0; i < d.numPages; i++ {
		state := d.pages[i]
		if state.rotation != 0 {
			if err := d.setRotation(i, state.rotation); err != nil {
				return err
			}
		}

		if !opts.NoUndoSave && !opts.AlreadyCropped {
			undoBox := state.originalMediaBox.Intersect(state.originalCropBox)
			if err := d.setBox(i, ArtBox, undoBox); err != nil {
				return err
			}
		}

		if err := d.setBox(i, MediaBox, state.originalMediaBox); err != nil {
			return err
		}
		if err := d.setBox(i, CropBox, state.originalCropBox); err != nil {
			return err
		}

		if !pagesToCrop.Has(i) {
			continue
		}
		for _, src := range boxesToSet {
			if err := d.setBox(i, src, cropBoxes[i]); err != nil {
				return err
			}
		}
		if opts.Verbose {
			log.Printf("Page %d cropped to %+v", i+1, cropBoxes[i])
		}
	}
	return nil
}

// Restore sets every page's media and crop boxes back from the ArtBox where
// a previous crop saved the original page size. Pages without a readable
// ArtBox are left unchanged with a warning.
func (d *Document) Restore() error {
	for i := 0; i < d.numPages; i++ {
		resp, err := d.instance.FPDFPage_GetArtBox(&requests.FPDFPage_GetArtBox{Page: d.page(i)})
		if err != nil {
			log.Printf("Warning: page %d has no readable ArtBox to restore from; leaving it unchanged.", i+1)
			continue
		}
		artBox := Box{
			Left: float64(resp.Left), Bottom: float64(resp.Bottom),
			Right: float64(resp.Right), Top: float64(resp.Top),
		}
		if err := d.setBox(i, MediaBox, artBox); err != nil {
			return err
		}
		if err := d.setBox(i, CropBox, artBox); err != nil {
			return err
		}
	}
	return nil
}

// SaveAs writes the document to a new file.
func (d *Document) SaveAs(path string) error {
	_, err := d.instance.FPDF_SaveAsCopy(&requests.FPDF_SaveAsCopy{
		Document: d.ref,
		FilePath: &path,
	})
	return errors.Wrapf(err, "failed to save document to %s", path)
}
