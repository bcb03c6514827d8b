package pdfcrop

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// DefaultThreshold is the default intensity cutoff for the raster strategy,
// on the 0-255 scale where 0 is black. Pixels strictly darker than the
// threshold count as ink.
const DefaultThreshold = 191

// PageSet is a set of zero-based page indices selected for cropping.
type PageSet map[int]struct{}

// AllPages returns the set {0, ..., n-1}.
func AllPages(n int) PageSet {
	s := make(PageSet, n)
	for i := 0; i < n; i++ {
		s[i] = struct{}{}
	}
	return s
}

// Has reports whether page index p is in the set.
func (s PageSet) Has(p int) bool {
	_, ok := s[p]
	return ok
}

// ParsePageRange parses a page range specifier such as "4-5,7,9" into a
// PageSet. Page numbers in the specifier are one-based; the result holds
// zero-based indices and is intersected with the document's page count. An
// empty result is an error.
func ParsePageRange(spec string, numPages int) (PageSet, error) {
	pages := make(PageSet)
	for _, part := range strings.Split(spec, ",") {
		bounds := strings.SplitN(part, "-", 2)
		if len(bounds) == 1 {
			p, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
			if err != nil {
				return nil, errors.Wrapf(err, "bad page number %q in range %q", part, spec)
			}
			if p >= 1 && p <= numPages {
				pages[p-1] = struct{}{}
			}
			continue
		}
		lo, err := strconv.Atoi(strings.TrimSpace(bounds[0]))
		if err != nil {
			return nil, errors.Wrapf(err, "bad page range %q in %q", part, spec)
		}
		hi, err := strconv.Atoi(strings.TrimSpace(bounds[1]))
		if err != nil {
			return nil, errors.Wrapf(err, "bad page range %q in %q", part, spec)
		}
		if lo > hi {
			return nil, errors.Errorf("left side of page range %q cannot exceed the right side", part)
		}
		for p := lo; p <= hi; p++ {
			if p >= 1 && p <= numPages {
				pages[p-1] = struct{}{}
			}
		}
	}
	if len(pages) == 0 {
		return nil, errors.Errorf("page range selection %q results in an empty set", spec)
	}
	return pages, nil
}

// ParsePageRatio parses a width:height aspect ratio given either as a plain
// float ("0.7071") or in colon form ("1:1.4142"). Zero or infinite ratios
// are rejected.
func ParsePageRatio(arg string) (float64, error) {
	parts := strings.Split(arg, ":")
	if len(parts) > 2 {
		return 0, errors.Errorf("bad aspect ratio %q: too many colons", arg)
	}
	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad aspect ratio %q", arg)
	}
	ratio := num
	if len(parts) == 2 {
		den, err := strconv.ParseFloat(parts[1], 64)
		if err != nil {
			return 0, errors.Wrapf(err, "bad aspect ratio %q", arg)
		}
		ratio = num / den
	}
	if ratio == 0 || math.IsInf(ratio, 0) || math.IsNaN(ratio) {
		return 0, errors.Errorf("zero or infinite aspect ratio %q is not allowed", arg)
	}
	return ratio, nil
}

// BoxSource names one of the PDF boxes a page can carry. The full-page box
// that all cropping is relative to is the intersection of the selected
// sources.
type BoxSource byte

const (
	MediaBox BoxSource = 'm'
	CropBox  BoxSource = 'c'
	TrimBox  BoxSource = 't'
	ArtBox   BoxSource = 'a'
	BleedBox BoxSource = 'b'
)

// CropPolicy configures a cropping run. It is treated as immutable once a
// run starts; every calculation stage receives the same value.
type CropPolicy struct {
	// PercentRetain is the percentage of each margin to keep, per margin.
	// 100 keeps the full margins, 0 crops to the tight bounding box, values
	// above 100 or below 0 expand or cut into the text respectively.
	PercentRetain MarginVector

	// PercentText switches PercentRetain to be a percentage of the text
	// (tight bounding box) size rather than of the existing margin.
	PercentText bool

	// AbsoluteOffset is added to each margin reduction, in points. Negative
	// values enlarge the corresponding margin.
	AbsoluteOffset MarginVector

	// AbsolutePreCrop is applied to the full-page boxes, in points, before
	// any bounding box analysis happens.
	AbsolutePreCrop MarginVector

	// Uniform crops all selected pages by the same per-margin amount, the
	// minimum delta over the pages, so every page still fits its content.
	Uniform bool

	// UniformOrderStat selects, per margin, the n-th smallest delta instead
	// of the minimum; implies Uniform. Nil when unset.
	UniformOrderStat *[4]int

	// UniformOrderPercent is the percentage form of UniformOrderStat:
	// n = round(numPagesToCrop * percent / 100). Nil when unset.
	UniformOrderPercent *float64

	// EvenOdd computes uniform crops independently for even and odd pages.
	EvenOdd bool

	// SamePageSize gives all selected pages the same full-page box, the
	// smallest box bounding every page, before cropping.
	SamePageSize bool

	// SamePageSizeOrderStat ignores the given number of extreme pages per
	// edge when computing the common page size. Zero uses the true min/max.
	SamePageSizeOrderStat int

	// PageRatio pads the final crop boxes to a target width:height ratio.
	// Nil disables ratio enforcement.
	PageRatio *float64

	// PageRatioWeights splits ratio padding between opposing margins in
	// proportion to their weights, lbrt order. All weights must be positive.
	PageRatioWeights MarginVector

	// CropSafe clamps the final boxes so no page's tight bounding box is
	// ever cut into, regardless of offsets or percentages.
	CropSafe bool

	// FullPageBoxes are the box sources intersected to form the full-page
	// box. Default is the media box intersected with the crop box, so that
	// cropping an already-cropped file works as expected.
	FullPageBoxes []BoxSource

	// Threshold, NumBlurs and NumSmooths drive the raster strategy's pixel
	// classification. A negative Threshold flips the comparison for
	// documents with dark backgrounds and light text. The vector strategy
	// ignores all three with a warning.
	Threshold  int
	NumBlurs   int
	NumSmooths int

	// DpiX and DpiY are the rendering resolutions used for bounding box
	// discovery, per axis.
	DpiX int
	DpiY int

	// Verbose enables diagnostic logging of per-stage decisions.
	Verbose bool
}

// DefaultPolicy returns the default cropping configuration: retain 10% of
// every margin, resolve the full page from media intersected with crop, and
// analyze renders at 150 DPI with the default threshold.
func DefaultPolicy() CropPolicy {
	return CropPolicy{
		PercentRetain:    UniformMargins(10),
		PageRatioWeights: UniformMargins(1),
		FullPageBoxes:    []BoxSource{MediaBox, CropBox},
		Threshold:        DefaultThreshold,
		DpiX:             150,
		DpiY:             150,
	}
}

// Validate reports configuration errors that must stop a run before any page
// is processed.
func (p CropPolicy) Validate() error {
	if p.PageRatio != nil {
		r := *p.PageRatio
		if r <= 0 || math.IsInf(r, 0) || math.IsNaN(r) {
			return errors.Errorf("page ratio %v is not a positive finite number", r)
		}
		for m, w := range p.PageRatioWeights {
			if w <= 0 {
				return errors.Errorf("page ratio weight %v for margin %d is not positive", w, m)
			}
		}
	}
	for _, src := range p.FullPageBoxes {
		switch src {
		case MediaBox, CropBox, TrimBox, ArtBox, BleedBox:
		default:
			return errors.Errorf("unknown full-page box source %q", string(src))
		}
	}
	if p.DpiX <= 0 || p.DpiY <= 0 {
		return errors.Errorf("rendering resolution %dx%d is not positive", p.DpiX, p.DpiY)
	}
	return nil
}

// wantsUniform reports whether per-page deltas collapse to a shared vector.
func (p CropPolicy) wantsUniform() bool {
	return p.Uniform || p.UniformOrderStat != nil || p.UniformOrderPercent != nil
}
