package pdfcrop

// Box is a rectangle in PDF coordinates: lower-left point followed by the
// upper-right point, in points (bp). The origin is at the lower left with y
// growing upward. Aggressive crop settings can legitimately produce a
// degenerate or inverted box (Left > Right or Bottom > Top); that is not an
// error, callers decide what to do with it.
type Box struct {
	Left   float64
	Bottom float64
	Right  float64
	Top    float64
}

// Width returns the width of the box.
func (b Box) Width() float64 {
	return b.Right - b.Left
}

// Height returns the height of the box.
func (b Box) Height() float64 {
	return b.Top - b.Bottom
}

// Intersect returns the intersection of two boxes.
func (b Box) Intersect(other Box) Box {
	return Box{
		Left:   max(b.Left, other.Left),
		Bottom: max(b.Bottom, other.Bottom),
		Right:  min(b.Right, other.Right),
		Top:    min(b.Top, other.Top),
	}
}

// Translate returns the box shifted by dx horizontally and dy vertically.
func (b Box) Translate(dx, dy float64) Box {
	return Box{
		Left:   b.Left + dx,
		Bottom: b.Bottom + dy,
		Right:  b.Right + dx,
		Top:    b.Top + dy,
	}
}

// Margin indexes into a per-margin 4-vector. The ordering matches the PDF
// box convention: left, bottom, right, top.
const (
	MarginLeft = iota
	MarginBottom
	MarginRight
	MarginTop
)

// MarginVector holds one value per margin in lbrt order. Option values such
// as percentages to retain are expressed this way, in screen-relative
// orientation (before any per-page rotation remap).
type MarginVector [4]float64

// UniformMargins returns a vector with the same value on all four margins.
func UniformMargins(v float64) MarginVector {
	return MarginVector{v, v, v, v}
}

// NormalizeRotation maps any stored page rotation onto {0, 90, 180, 270} by
// repeated +-360 adjustment. PDF rotations are clockwise.
func NormalizeRotation(angle int) int {
	for angle >= 360 {
		angle -= 360
	}
	for angle < 0 {
		angle += 360
	}
	return angle
}

// quarterTurns maps a normalized clockwise angle to the number of 90 degree
// clockwise turns to apply to a margin vector, and undoQuarterTurns to the
// number needed to reverse it.
var (
	quarterTurns     = map[int]int{0: 0, 90: 1, 180: 2, 270: 3}
	undoQuarterTurns = map[int]int{0: 0, 90: 3, 180: 2, 270: 1}
)

// RemapForRotation rotates a margin vector to match a page's stored rotation
// angle. The user sees left, bottom, right, and top margins on the rendered
// page, but a page rotated 90 degrees clockwise stores its boxes so that the
// visible left margin is really the stored bottom, and so on. Remapping the
// user's values keeps options like the per-margin retain percentages working
// relative to what the user actually sees. Pass undo=true to reverse a
// previous remap.
func RemapForRotation(v MarginVector, angle int, undo bool) MarginVector {
	angle = NormalizeRotation(angle)
	n := quarterTurns[angle]
	if undo {
		n = undoQuarterTurns[angle]
	}
	for i := 0; i < n; i++ {
		v = MarginVector{v[MarginBottom], v[MarginRight], v[MarginTop], v[MarginLeft]}
	}
	return v
}

// CorrectForNonzeroOrigin translates tight bounding boxes into the full-page
// boxes' coordinate origin. A bounding box calculated from a rendered image,
// or reported by Ghostscript, is relative to a zero lower-left point. If the
// page's full box has been shifted, as happens when cropping a previously
// cropped document, every point needs the same additive translation.
func CorrectForNonzeroOrigin(tightBoxes, fullBoxes []Box) []Box {
	corrected := make([]Box, len(tightBoxes))
	for i, bbox := range tightBoxes {
		corrected[i] = bbox.Translate(fullBoxes[i].Left, fullBoxes[i].Bottom)
	}
	return corrected
}
