package pdfcrop

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func cropTestPolicy() CropPolicy {
	policy := DefaultPolicy()
	policy.PercentRetain = UniformMargins(0)
	return policy
}

func noRotations(n int) []int {
	return make([]int, n)
}

func TestCalculateCropBoxes_PassThrough(t *testing.T) {
	full := []Box{
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 120, Top: 220},
	}
	tight := []Box{
		{Left: 10, Bottom: 10, Right: 90, Top: 190},
		{Left: 0, Bottom: 0, Right: 120, Top: 220},
	}

	// Only page 0 selected; page 1 must keep its full box.
	crops, err := CalculateCropBoxes(full, tight, noRotations(2), PageSet{0: {}}, cropTestPolicy())
	require.NoError(t, err)
	require.Equal(t, full[1], crops[1])
	require.Equal(t, tight[0], crops[0])
}

func TestCalculateCropBoxes_NoOpCrop(t *testing.T) {
	full := []Box{{Left: 5, Bottom: 5, Right: 105, Top: 205}}
	tight := []Box{{Left: 20, Bottom: 15, Right: 95, Top: 190}}

	policy := cropTestPolicy()
	policy.PercentRetain = UniformMargins(100)

	crops, err := CalculateCropBoxes(full, tight, noRotations(1), AllPages(1), policy)
	require.NoError(t, err)
	require.Equal(t, full[0], crops[0])
}

func TestCalculateCropBoxes_FullTightCrop(t *testing.T) {
	full := []Box{{Left: 0, Bottom: 0, Right: 100, Top: 200}}
	tight := []Box{{Left: 12, Bottom: 8, Right: 88, Top: 195}}

	crops, err := CalculateCropBoxes(full, tight, noRotations(1), AllPages(1), cropTestPolicy())
	require.NoError(t, err)
	require.Equal(t, tight[0], crops[0])
}

func TestCalculateCropBoxes_UniformExample(t *testing.T) {
	// Two pages with different margins; uniform picks the minimum delta per
	// margin so every page still fits its content.
	full := []Box{
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 120, Top: 200},
	}
	tight := []Box{
		{Left: 10, Bottom: 10, Right: 90, Top: 190},
		{Left: 20, Bottom: 10, Right: 100, Top: 190},
	}

	policy := cropTestPolicy()
	policy.Uniform = true

	crops, err := CalculateCropBoxes(full, tight, noRotations(2), AllPages(2), policy)
	require.NoError(t, err)
	require.Equal(t, Box{Left: 10, Bottom: 10, Right: 90, Top: 190}, crops[0])
	require.Equal(t, Box{Left: 10, Bottom: 10, Right: 110, Top: 190}, crops[1])
}

func TestCalculateCropBoxes_UniformDeltasIdentical(t *testing.T) {
	full := []Box{
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
	}
	tight := []Box{
		{Left: 10, Bottom: 4, Right: 95, Top: 180},
		{Left: 25, Bottom: 9, Right: 80, Top: 195},
		{Left: 15, Bottom: 6, Right: 90, Top: 185},
	}

	policy := cropTestPolicy()
	policy.Uniform = true

	crops, err := CalculateCropBoxes(full, tight, noRotations(3), AllPages(3), policy)
	require.NoError(t, err)

	first := [4]float64{
		crops[0].Left - full[0].Left,
		crops[0].Bottom - full[0].Bottom,
		full[0].Right - crops[0].Right,
		full[0].Top - crops[0].Top,
	}
	for i := 1; i < 3; i++ {
		require.Equal(t, first[0], crops[i].Left-full[i].Left, "page %d left delta", i)
		require.Equal(t, first[1], crops[i].Bottom-full[i].Bottom, "page %d bottom delta", i)
		require.Equal(t, first[2], full[i].Right-crops[i].Right, "page %d right delta", i)
		require.Equal(t, first[3], full[i].Top-crops[i].Top, "page %d top delta", i)
	}
}

func TestCalculateCropBoxes_OrderStatZeroEqualsUniform(t *testing.T) {
	full := []Box{
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
	}
	tight := []Box{
		{Left: 10, Bottom: 10, Right: 90, Top: 190},
		{Left: 20, Bottom: 5, Right: 95, Top: 180},
	}

	uniform := cropTestPolicy()
	uniform.Uniform = true
	plain, err := CalculateCropBoxes(full, tight, noRotations(2), AllPages(2), uniform)
	require.NoError(t, err)

	orderStat := cropTestPolicy()
	stat := [4]int{0, 0, 0, 0}
	orderStat.UniformOrderStat = &stat
	ordered, err := CalculateCropBoxes(full, tight, noRotations(2), AllPages(2), orderStat)
	require.NoError(t, err)

	require.Equal(t, plain, ordered)
}

func TestCalculateCropBoxes_OrderStatSelectsNthSmallest(t *testing.T) {
	full := []Box{
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
	}
	tight := []Box{
		{Left: 10, Bottom: 10, Right: 90, Top: 190},
		{Left: 20, Bottom: 20, Right: 80, Top: 180},
		{Left: 30, Bottom: 30, Right: 70, Top: 170},
	}

	policy := cropTestPolicy()
	stat := [4]int{1, 1, 1, 1}
	policy.UniformOrderStat = &stat

	crops, err := CalculateCropBoxes(full, tight, noRotations(3), AllPages(3), policy)
	require.NoError(t, err)
	// The second-smallest delta is 20 on every margin.
	require.Equal(t, Box{Left: 20, Bottom: 20, Right: 80, Top: 180}, crops[0])
}

func TestCalculateCropBoxes_OrderStatOutOfRangeClamps(t *testing.T) {
	full := []Box{
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
	}
	tight := []Box{
		{Left: 10, Bottom: 10, Right: 90, Top: 190},
		{Left: 20, Bottom: 20, Right: 80, Top: 180},
	}

	policy := cropTestPolicy()
	stat := [4]int{5, 5, 5, 5}
	policy.UniformOrderStat = &stat

	crops, err := CalculateCropBoxes(full, tight, noRotations(2), AllPages(2), policy)
	require.NoError(t, err)
	// Clamped to the largest valid index, i.e. the maximum delta.
	require.Equal(t, Box{Left: 20, Bottom: 20, Right: 80, Top: 180}, crops[0])
}

func TestCalculateCropBoxes_UniformOrderPercent(t *testing.T) {
	full := make([]Box, 4)
	tight := make([]Box, 4)
	for i := range full {
		full[i] = Box{Left: 0, Bottom: 0, Right: 100, Top: 200}
		d := float64(10 * (i + 1))
		tight[i] = Box{Left: d, Bottom: d, Right: 100 - d, Top: 200 - d}
	}

	policy := cropTestPolicy()
	pct := 50.0
	policy.UniformOrderPercent = &pct

	crops, err := CalculateCropBoxes(full, tight, noRotations(4), AllPages(4), policy)
	require.NoError(t, err)
	// n = round(4 * 50 / 100) = 2, the third-smallest delta of 30.
	require.Equal(t, Box{Left: 30, Bottom: 30, Right: 70, Top: 170}, crops[0])
}

func TestCalculateCropBoxes_SamePageSize(t *testing.T) {
	full := []Box{
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 120, Top: 220},
	}
	tight := []Box{
		{Left: 10, Bottom: 10, Right: 90, Top: 190},
		{Left: 10, Bottom: 10, Right: 110, Top: 210},
	}

	policy := cropTestPolicy()
	policy.PercentRetain = UniformMargins(100)
	policy.SamePageSize = true

	crops, err := CalculateCropBoxes(full, tight, noRotations(2), AllPages(2), policy)
	require.NoError(t, err)
	// Both pages get the smallest box bounding all pages.
	common := Box{Left: 0, Bottom: 0, Right: 120, Top: 220}
	require.Equal(t, common, crops[0])
	require.Equal(t, common, crops[1])
}

func TestCalculateCropBoxes_SamePageSizeOrderStat(t *testing.T) {
	full := []Box{
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 120, Top: 220},
		{Left: 0, Bottom: 0, Right: 110, Top: 210},
	}
	tight := full

	policy := cropTestPolicy()
	policy.PercentRetain = UniformMargins(100)
	policy.SamePageSizeOrderStat = 1

	crops, err := CalculateCropBoxes(full, tight, noRotations(3), AllPages(3), policy)
	require.NoError(t, err)
	// The largest page per edge is ignored.
	common := Box{Left: 0, Bottom: 0, Right: 110, Top: 210}
	for i := range crops {
		require.Equal(t, common, crops[i])
	}
}

func TestCalculateCropBoxes_EvenOddWithUniform(t *testing.T) {
	full := []Box{
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
	}
	tight := []Box{
		{Left: 10, Bottom: 5, Right: 90, Top: 195},
		{Left: 20, Bottom: 8, Right: 100, Top: 192},
		{Left: 12, Bottom: 6, Right: 88, Top: 194},
		{Left: 18, Bottom: 7, Right: 95, Top: 191},
	}

	policy := cropTestPolicy()
	policy.EvenOdd = true
	policy.Uniform = true

	crops, err := CalculateCropBoxes(full, tight, noRotations(4), AllPages(4), policy)
	require.NoError(t, err)

	// Vertical cropping is uniform across all pages.
	for i := 1; i < 4; i++ {
		require.Equal(t, crops[0].Bottom, crops[i].Bottom, "page %d bottom", i)
		require.Equal(t, crops[0].Top, crops[i].Top, "page %d top", i)
	}
	// Horizontal cropping is uniform within each parity group.
	require.Equal(t, crops[0].Left, crops[2].Left)
	require.Equal(t, crops[0].Right, crops[2].Right)
	require.Equal(t, crops[1].Left, crops[3].Left)
	require.Equal(t, crops[1].Right, crops[3].Right)
	// And differs between the groups for this input.
	require.NotEqual(t, crops[0].Left, crops[1].Left)
}

func TestCalculateCropBoxes_EvenOddWithoutUniformKeepsGroupsApart(t *testing.T) {
	full := []Box{
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
	}
	tight := []Box{
		{Left: 10, Bottom: 5, Right: 90, Top: 195},
		{Left: 20, Bottom: 8, Right: 95, Top: 190},
	}

	policy := cropTestPolicy()
	policy.EvenOdd = true

	crops, err := CalculateCropBoxes(full, tight, noRotations(2), AllPages(2), policy)
	require.NoError(t, err)
	// Each parity group is cropped uniformly to its own deltas.
	require.Equal(t, tight[0], crops[0])
	require.Equal(t, tight[1], crops[1])
}

func TestCalculateCropBoxes_RotationRemapsOffsets(t *testing.T) {
	full := []Box{{Left: 0, Bottom: 0, Right: 100, Top: 200}}
	tight := full

	policy := cropTestPolicy()
	policy.AbsoluteOffset = MarginVector{5, 0, 0, 0}

	// On a page rotated 90 degrees clockwise, the user's left margin is the
	// stored top margin.
	crops, err := CalculateCropBoxes(full, tight, []int{90}, AllPages(1), policy)
	require.NoError(t, err)
	require.Equal(t, Box{Left: 0, Bottom: 0, Right: 100, Top: 195}, crops[0])
}

func TestCalculateCropBoxes_NegativePercentYieldsInvertedBox(t *testing.T) {
	full := []Box{{Left: 0, Bottom: 0, Right: 100, Top: 200}}
	tight := []Box{{Left: 49, Bottom: 99, Right: 51, Top: 101}}

	policy := cropTestPolicy()
	policy.PercentRetain = UniformMargins(-200)

	crops, err := CalculateCropBoxes(full, tight, noRotations(1), AllPages(1), policy)
	require.NoError(t, err)
	// Deltas of triple the margins invert the box; that is accepted, not
	// an error.
	require.Greater(t, crops[0].Left, crops[0].Right)
}

func TestCalculateCropBoxes_PercentText(t *testing.T) {
	full := []Box{{Left: 0, Bottom: 0, Right: 100, Top: 200}}
	tight := []Box{{Left: 10, Bottom: 10, Right: 90, Top: 190}}

	policy := cropTestPolicy()
	policy.PercentRetain = UniformMargins(50)
	policy.PercentText = true

	crops, err := CalculateCropBoxes(full, tight, noRotations(1), AllPages(1), policy)
	require.NoError(t, err)
	// Text is 80 wide and 180 tall; each margin keeps half of that.
	require.Equal(t, Box{Left: -30, Bottom: -80, Right: 130, Top: 280}, crops[0])
}

func TestCalculateCropBoxes_CropSafe(t *testing.T) {
	full := []Box{{Left: 0, Bottom: 0, Right: 100, Top: 200}}
	tight := []Box{{Left: 10, Bottom: 10, Right: 90, Top: 190}}

	policy := cropTestPolicy()
	policy.AbsoluteOffset = UniformMargins(20)
	policy.CropSafe = true

	crops, err := CalculateCropBoxes(full, tight, noRotations(1), AllPages(1), policy)
	require.NoError(t, err)
	// The offsets would cut 20 points into the text; crop safe pulls every
	// edge back out to the bounding box.
	require.Equal(t, tight[0], crops[0])
}

func TestCalculateCropBoxes_PageRatioPadsHorizontally(t *testing.T) {
	full := []Box{{Left: 0, Bottom: 0, Right: 100, Top: 200}}
	tight := full

	policy := cropTestPolicy()
	policy.PercentRetain = UniformMargins(100)
	ratio := 1.0
	policy.PageRatio = &ratio

	crops, err := CalculateCropBoxes(full, tight, noRotations(1), AllPages(1), policy)
	require.NoError(t, err)
	box := crops[0]
	require.InDelta(t, ratio, box.Width()/box.Height(), 1e-9)
	// The vertical extent was not the constrained axis and is unchanged.
	require.Equal(t, 0.0, box.Bottom)
	require.Equal(t, 200.0, box.Top)
	// Equal weights split the padding evenly.
	require.Equal(t, -50.0, box.Left)
	require.Equal(t, 150.0, box.Right)
}

func TestCalculateCropBoxes_PageRatioPadsVerticallyWithWeights(t *testing.T) {
	full := []Box{{Left: 0, Bottom: 0, Right: 200, Top: 100}}
	tight := full

	policy := cropTestPolicy()
	policy.PercentRetain = UniformMargins(100)
	ratio := 1.0
	policy.PageRatio = &ratio
	policy.PageRatioWeights = MarginVector{1, 3, 1, 1}

	crops, err := CalculateCropBoxes(full, tight, noRotations(1), AllPages(1), policy)
	require.NoError(t, err)
	box := crops[0]
	require.InDelta(t, ratio, box.Width()/box.Height(), 1e-9)
	require.Equal(t, 0.0, box.Left)
	require.Equal(t, 200.0, box.Right)
	// 100 points of padding split 3:1 between bottom and top.
	require.InDelta(t, -75.0, box.Bottom, 1e-9)
	require.InDelta(t, 125.0, box.Top, 1e-9)
}

func TestCalculateCropBoxes_InvalidRatioRejected(t *testing.T) {
	full := []Box{{Left: 0, Bottom: 0, Right: 100, Top: 200}}

	policy := cropTestPolicy()
	zero := 0.0
	policy.PageRatio = &zero

	_, err := CalculateCropBoxes(full, full, noRotations(1), AllPages(1), policy)
	require.Error(t, err)

	inf := math.Inf(1)
	policy.PageRatio = &inf
	_, err = CalculateCropBoxes(full, full, noRotations(1), AllPages(1), policy)
	require.Error(t, err)
}

func TestCalculateCropBoxes_MismatchedArraysRejected(t *testing.T) {
	full := []Box{{Left: 0, Bottom: 0, Right: 100, Top: 200}}
	_, err := CalculateCropBoxes(full, nil, noRotations(1), AllPages(1), cropTestPolicy())
	require.Error(t, err)
}

func TestCalculateCropBoxes_EmptyCropSet(t *testing.T) {
	full := []Box{
		{Left: 0, Bottom: 0, Right: 100, Top: 200},
		{Left: 0, Bottom: 0, Right: 120, Top: 220},
	}

	policy := cropTestPolicy()
	policy.Uniform = true

	crops, err := CalculateCropBoxes(full, full, noRotations(2), PageSet{}, policy)
	require.NoError(t, err)
	require.Equal(t, full[0], crops[0])
	require.Equal(t, full[1], crops[1])
}
