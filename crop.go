package pdfcrop

import (
	"log"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// CalculateCropBoxes is the pure core of the cropping engine. Given each
// page's full-page box, its tight content bounding box (already corrected
// for a nonzero origin), its rotation angle, and the set of pages selected
// for cropping, it returns the final crop box for every page in document
// order. Pages outside the crop set pass through with their full-page box
// unchanged.
//
// The deltas are the four per-margin differences between a page's full box
// and its final cropped box. They are usually positive reductions, but can
// go negative when PercentRetain exceeds 100 or an absolute offset pushes a
// margin outward; a delta larger than half the page simply yields an
// inverted box, which is accepted as a valid outcome of aggressive settings.
func CalculateCropBoxes(fullBoxes, tightBoxes []Box, rotations []int, pagesToCrop PageSet, policy CropPolicy) ([]Box, error) {
	if len(tightBoxes) != len(fullBoxes) || len(rotations) != len(fullBoxes) {
		return nil, errors.Errorf("mismatched page arrays: %d full boxes, %d bounding boxes, %d rotations",
			len(fullBoxes), len(tightBoxes), len(rotations))
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	// The same-page-size normalization always runs first, even before the
	// even/odd split, since percentage margins are computed relative to the
	// possibly enlarged full-page boxes.
	if policy.SamePageSize || policy.SamePageSizeOrderStat > 0 {
		fullBoxes = normalizeSamePageSize(fullBoxes, pagesToCrop, policy)
	}

	if policy.EvenOdd {
		return cropEvenOdd(fullBoxes, tightBoxes, rotations, pagesToCrop, policy), nil
	}
	return cropGroup(fullBoxes, tightBoxes, rotations, pagesToCrop, policy), nil
}

// normalizeSamePageSize replaces the full-page box of every selected page
// with a single common box bounding all of them. Each edge is chosen
// independently: the smallest left and bottom, the largest right and top.
// A nonzero order statistic ignores that many extreme pages per edge.
func normalizeSamePageSize(fullBoxes []Box, pagesToCrop PageSet, policy CropPolicy) []Box {
	var lefts, bottoms, rights, tops []float64
	for i, box := range fullBoxes {
		if !pagesToCrop.Has(i) {
			continue
		}
		lefts = append(lefts, box.Left)
		bottoms = append(bottoms, box.Bottom)
		rights = append(rights, box.Right)
		tops = append(tops, box.Top)
	}
	if len(lefts) == 0 {
		return fullBoxes
	}
	sort.Float64s(lefts)
	sort.Float64s(bottoms)
	sort.Sort(sort.Reverse(sort.Float64Slice(rights)))
	sort.Sort(sort.Reverse(sort.Float64Slice(tops)))

	orderN := policy.SamePageSizeOrderStat
	if orderN > len(lefts)-1 {
		orderN = len(lefts) - 1
	}
	if orderN < 0 {
		orderN = 0
	}
	common := Box{Left: lefts[orderN], Bottom: bottoms[orderN], Right: rights[orderN], Top: tops[orderN]}

	if policy.Verbose {
		log.Printf("Setting each page size to the smallest box bounding all the pages.")
		if orderN != 0 {
			log.Printf("Ignoring the largest %d pages when calculating each edge.", orderN)
		}
	}

	normalized := make([]Box, len(fullBoxes))
	for i, box := range fullBoxes {
		if pagesToCrop.Has(i) {
			normalized[i] = common
		} else {
			normalized[i] = box
		}
	}
	return normalized
}

// cropEvenOdd computes uniform crops independently over the even and odd
// page subsets and recombines the results by parity. When uniform cropping
// was also requested at the outer level, the bottom and top margins are
// forced to agree across both groups, so only left/right cropping differs
// between even and odd pages.
func cropEvenOdd(fullBoxes, tightBoxes []Box, rotations []int, pagesToCrop PageSet, policy CropPolicy) []Box {
	evenPages := make(PageSet)
	oddPages := make(PageSet)
	for p := range pagesToCrop {
		if p%2 == 0 {
			evenPages[p] = struct{}{}
		} else {
			oddPages[p] = struct{}{}
		}
	}

	// Two independent invocations of the composite, with uniform forced on
	// within each group. Same-page-size normalization already ran.
	sub := policy
	sub.EvenOdd = false
	sub.Uniform = true
	sub.SamePageSize = false
	sub.SamePageSizeOrderStat = 0

	if policy.Verbose {
		log.Printf("Calculating crops separately for even and odd pages.")
	}
	evenCrops := cropGroup(fullBoxes, tightBoxes, rotations, evenPages, sub)
	oddCrops := cropGroup(fullBoxes, tightBoxes, rotations, oddPages, sub)

	combined := make([]Box, len(fullBoxes))
	for i := range fullBoxes {
		if i%2 == 0 {
			combined[i] = evenCrops[i]
		} else {
			combined[i] = oddCrops[i]
		}
	}

	if policy.Uniform {
		minBottom := math.Inf(1)
		maxTop := math.Inf(-1)
		for i, box := range combined {
			if !pagesToCrop.Has(i) {
				continue
			}
			minBottom = math.Min(minBottom, box.Bottom)
			maxTop = math.Max(maxTop, box.Top)
		}
		for i := range combined {
			if pagesToCrop.Has(i) {
				combined[i].Bottom = minBottom
				combined[i].Top = maxTop
			}
		}
	}
	return combined
}

// marginDelta pairs a delta value with the page it came from, numbered from
// one for diagnostics.
type marginDelta struct {
	value float64
	page  int
}

// cropGroup runs the delta calculation over one group of pages: per-page
// deltas, optional collapse to a shared order-statistic value, delta
// application, crop-safe clamping and ratio enforcement.
func cropGroup(fullBoxes, tightBoxes []Box, rotations []int, pagesToCrop PageSet, policy CropPolicy) []Box {
	numPages := len(fullBoxes)
	numToCrop := 0
	for i := 0; i < numPages; i++ {
		if pagesToCrop.Has(i) {
			numToCrop++
		}
	}

	// The percent and offset vectors are remapped per page so that, for
	// example, uniform cropping stays relative to what the user sees on a
	// rotated page.
	deltas := make([]MarginVector, numPages)
	for i := 0; i < numPages; i++ {
		pct := RemapForRotation(policy.PercentRetain, rotations[i], false)
		off := RemapForRotation(policy.AbsoluteOffset, rotations[i], false)

		raw := MarginVector{
			math.Abs(tightBoxes[i].Left - fullBoxes[i].Left),
			math.Abs(tightBoxes[i].Bottom - fullBoxes[i].Bottom),
			math.Abs(tightBoxes[i].Right - fullBoxes[i].Right),
			math.Abs(tightBoxes[i].Top - fullBoxes[i].Top),
		}

		var adjusted MarginVector
		if policy.PercentText {
			// Percentages are relative to the text size on the margin's
			// axis rather than to the existing margin.
			textSize := MarginVector{
				tightBoxes[i].Width(), tightBoxes[i].Height(),
				tightBoxes[i].Width(), tightBoxes[i].Height(),
			}
			for m := range adjusted {
				adjusted[m] = raw[m] - textSize[m]*pct[m]/100.0
			}
		} else {
			for m := range adjusted {
				adjusted[m] = raw[m] * (1.0 - pct[m]/100.0)
			}
		}
		for m := range adjusted {
			adjusted[m] += off[m]
		}
		deltas[i] = adjusted
	}

	// Sorted (delta, page) pairs per margin over the cropped pages, used
	// for the order statistic selection and for diagnostics.
	var sortedDeltas [4][]marginDelta
	for i := 0; i < numPages; i++ {
		if !pagesToCrop.Has(i) {
			continue
		}
		for m := 0; m < 4; m++ {
			sortedDeltas[m] = append(sortedDeltas[m], marginDelta{value: deltas[i][m], page: i + 1})
		}
	}
	for m := 0; m < 4; m++ {
		s := sortedDeltas[m]
		sort.Slice(s, func(a, b int) bool {
			if s[a].value != s[b].value {
				return s[a].value < s[b].value
			}
			return s[a].page < s[b].page
		})
	}

	// skippedPages collects, per margin, the pages whose deltas the order
	// statistic deliberately ignored; crop-safe clamping must not re-protect
	// those pages.
	var skippedPages [4]map[int]struct{}

	if policy.wantsUniform() && numToCrop > 0 {
		var orderIndexes [4]int
		if policy.UniformOrderPercent != nil {
			pv := *policy.UniformOrderPercent
			if pv < 0 {
				pv = 0
			}
			if pv > 100 {
				pv = 100
			}
			n := int(math.Round(float64(numToCrop) * pv / 100.0))
			orderIndexes = [4]int{n, n, n, n}
		} else if policy.UniformOrderStat != nil {
			orderIndexes = *policy.UniformOrderStat
		}
		for m, n := range orderIndexes {
			if n < 0 || n >= numToCrop {
				log.Printf("Warning: the selected order statistic %d is out of range; using the closest value.", n)
				if n >= numToCrop {
					n = numToCrop - 1
				}
				if n < 0 {
					n = 0
				}
				orderIndexes[m] = n
			}
		}

		if policy.CropSafe {
			for m := 0; m < 4; m++ {
				skippedPages[m] = make(map[int]struct{})
				for _, d := range sortedDeltas[m][:orderIndexes[m]] {
					skippedPages[m][d.page-1] = struct{}{}
				}
			}
		}

		shared := MarginVector{
			sortedDeltas[MarginLeft][orderIndexes[MarginLeft]].value,
			sortedDeltas[MarginBottom][orderIndexes[MarginBottom]].value,
			sortedDeltas[MarginRight][orderIndexes[MarginRight]].value,
			sortedDeltas[MarginTop][orderIndexes[MarginTop]].value,
		}
		if policy.Verbose {
			log.Printf("All the selected pages will be uniformly cropped.")
			log.Printf("The common delta values %v were contributed by pages %d, %d, %d, %d (numbered from 1).",
				shared,
				sortedDeltas[MarginLeft][orderIndexes[MarginLeft]].page,
				sortedDeltas[MarginBottom][orderIndexes[MarginBottom]].page,
				sortedDeltas[MarginRight][orderIndexes[MarginRight]].page,
				sortedDeltas[MarginTop][orderIndexes[MarginTop]].page)
		}
		for i := range deltas {
			deltas[i] = shared
		}
	}

	// Apply the deltas; pages outside the crop set keep their full box.
	final := make([]Box, numPages)
	for i := 0; i < numPages; i++ {
		if !pagesToCrop.Has(i) {
			final[i] = fullBoxes[i]
			continue
		}
		final[i] = Box{
			Left:   fullBoxes[i].Left + deltas[i][MarginLeft],
			Bottom: fullBoxes[i].Bottom + deltas[i][MarginBottom],
			Right:  fullBoxes[i].Right - deltas[i][MarginRight],
			Top:    fullBoxes[i].Top - deltas[i][MarginTop],
		}
	}

	if policy.CropSafe {
		clampCropSafe(final, tightBoxes, pagesToCrop, skippedPages, policy)
	}

	if policy.PageRatio != nil {
		enforcePageRatio(final, pagesToCrop, *policy.PageRatio, policy.PageRatioWeights, policy.Verbose)
	}
	return final
}

// clampCropSafe pulls any final box edge that cut into its page's tight
// bounding box back out to the bounding box, except on margins where the
// order statistic deliberately skipped that page. Under uniform cropping the
// clamped boxes are then re-collapsed to a common box so the pages stay
// uniform.
func clampCropSafe(final, tightBoxes []Box, pagesToCrop PageSet, skippedPages [4]map[int]struct{}, policy CropPolicy) {
	skipped := func(m, page int) bool {
		if skippedPages[m] == nil {
			return false
		}
		_, ok := skippedPages[m][page]
		return ok
	}
	for i := range final {
		if !pagesToCrop.Has(i) {
			continue
		}
		if !skipped(MarginLeft, i) && final[i].Left > tightBoxes[i].Left {
			final[i].Left = tightBoxes[i].Left
		}
		if !skipped(MarginBottom, i) && final[i].Bottom > tightBoxes[i].Bottom {
			final[i].Bottom = tightBoxes[i].Bottom
		}
		if !skipped(MarginRight, i) && final[i].Right < tightBoxes[i].Right {
			final[i].Right = tightBoxes[i].Right
		}
		if !skipped(MarginTop, i) && final[i].Top < tightBoxes[i].Top {
			final[i].Top = tightBoxes[i].Top
		}
	}

	if policy.wantsUniform() {
		common := Box{Left: math.Inf(1), Bottom: math.Inf(1), Right: math.Inf(-1), Top: math.Inf(-1)}
		found := false
		for i, box := range final {
			if !pagesToCrop.Has(i) {
				continue
			}
			found = true
			common.Left = math.Min(common.Left, box.Left)
			common.Bottom = math.Min(common.Bottom, box.Bottom)
			common.Right = math.Max(common.Right, box.Right)
			common.Top = math.Max(common.Top, box.Top)
		}
		if !found {
			return
		}
		for i := range final {
			if pagesToCrop.Has(i) {
				final[i] = common
			}
		}
	}
}

// enforcePageRatio pads the selected pages' crop boxes outward to hit the
// target width to height ratio. Whichever axis is too short is padded; the
// padding splits between the two margins of that axis in proportion to their
// weights. The other axis is left untouched.
func enforcePageRatio(final []Box, pagesToCrop PageSet, ratio float64, weights MarginVector, verbose bool) {
	if verbose {
		log.Printf("Setting all page width to height ratios to %v with margin weights %v.", ratio, weights)
	}
	for i, box := range final {
		if !pagesToCrop.Has(i) {
			continue
		}
		width := box.Width()
		height := box.Height()
		newHeight := width / ratio
		if newHeight < height {
			newWidth := height * ratio
			difference := newWidth - width
			totalWeight := weights[MarginLeft] + weights[MarginRight]
			final[i].Left = box.Left - difference*weights[MarginLeft]/totalWeight
			final[i].Right = box.Right + difference*weights[MarginRight]/totalWeight
		} else {
			difference := newHeight - height
			totalWeight := weights[MarginBottom] + weights[MarginTop]
			final[i].Bottom = box.Bottom - difference*weights[MarginBottom]/totalWeight
			final[i].Top = box.Top + difference*weights[MarginTop]/totalWeight
		}
	}
}
