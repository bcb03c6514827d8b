package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/klippa-app/go-pdfium/webassembly"
	"github.com/urfave/cli/v3"

	"github.com/ivanvanderbyl/pdfcrop"
)

func main() {
	cmd := &cli.Command{
		Name:  "pdfcrop",
		Usage: "Crop the margins of PDF files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "input",
				Aliases:  []string{"i"},
				Usage:    "Input PDF file path",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output PDF file path (default: <input>_cropped.pdf)",
			},
			&cli.StringFlag{
				Name:    "percent-retain",
				Aliases: []string{"p"},
				Usage:   "Percentage of margins to retain, one value or 'l,b,r,t'",
				Value:   "10",
			},
			&cli.BoolFlag{
				Name:  "percent-text",
				Usage: "Interpret percentages relative to the text size instead of the margin",
			},
			&cli.StringFlag{
				Name:    "absolute-offset",
				Aliases: []string{"a"},
				Usage:   "Absolute offset in points added to each margin crop, one value or 'l,b,r,t'",
				Value:   "0",
			},
			&cli.StringFlag{
				Name:  "absolute-pre-crop",
				Usage: "Absolute pre-crop in points applied before analysis, one value or 'l,b,r,t'",
				Value: "0",
			},
			&cli.BoolFlag{
				Name:    "uniform",
				Aliases: []string{"u"},
				Usage:   "Crop all selected pages by the same amount per margin",
			},
			&cli.StringFlag{
				Name:  "uniform-order-stat",
				Usage: "Ignore the n smallest deltas per margin in uniform mode, one value or 'l,b,r,t'",
			},
			&cli.StringFlag{
				Name:  "uniform-order-percent",
				Usage: "Percentage form of --uniform-order-stat",
			},
			&cli.BoolFlag{
				Name:    "evenodd",
				Aliases: []string{"e"},
				Usage:   "Crop even and odd pages uniformly within their own group",
			},
			&cli.BoolFlag{
				Name:    "same-page-size",
				Aliases: []string{"s"},
				Usage:   "Give all selected pages the same full page size before cropping",
			},
			&cli.IntFlag{
				Name:  "same-page-size-order-stat",
				Usage: "Ignore the n most extreme pages per edge for --same-page-size",
			},
			&cli.StringFlag{
				Name:  "pages",
				Usage: "Pages to crop, e.g. '1-5,7,9' (default: all pages)",
			},
			&cli.StringFlag{
				Name:  "set-page-ratio",
				Usage: "Pad final boxes to a width:height ratio, e.g. '1:1.4142' or '0.7071'",
			},
			&cli.StringFlag{
				Name:  "page-ratio-weights",
				Usage: "Per-margin weights for ratio padding as 'l,b,r,t'",
				Value: "1,1,1,1",
			},
			&cli.BoolFlag{
				Name:  "crop-safe",
				Usage: "Never crop into any page's tight bounding box",
			},
			&cli.IntFlag{
				Name:    "threshold",
				Aliases: []string{"t"},
				Usage:   "Intensity below which a pixel counts as ink (negative for dark backgrounds)",
				Value:   pdfcrop.DefaultThreshold,
			},
			&cli.IntFlag{
				Name:  "blurs",
				Usage: "Number of blur passes before thresholding",
			},
			&cli.IntFlag{
				Name:  "smooths",
				Usage: "Number of smoothing passes before thresholding",
			},
			&cli.IntFlag{
				Name:  "dpi",
				Usage: "Rendering resolution for bounding box discovery",
				Value: 150,
			},
			&cli.IntFlag{
				Name:  "dpi-x",
				Usage: "Horizontal rendering resolution (overrides --dpi)",
			},
			&cli.IntFlag{
				Name:  "dpi-y",
				Usage: "Vertical rendering resolution (overrides --dpi)",
			},
			&cli.BoolFlag{
				Name:  "gs-bbox",
				Usage: "Use Ghostscript's bbox device instead of rendering and thresholding",
			},
			&cli.StringFlag{
				Name:  "full-page-box",
				Usage: "Box sources intersected to form the full page box, from 'mctab'",
				Value: "mc",
			},
			&cli.StringFlag{
				Name:  "boxes-to-set",
				Usage: "Boxes the final crop box is written to, from 'mctab'",
				Value: "mc",
			},
			&cli.BoolFlag{
				Name:  "no-undo-save",
				Usage: "Do not save the original page size in the ArtBox",
			},
			&cli.BoolFlag{
				Name:  "restore",
				Usage: "Restore the original page sizes saved by a previous crop",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Print diagnostic information",
			},
		},
		Action: cropPDF,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func cropPDF(ctx context.Context, cmd *cli.Command) error {
	inputPath := cmd.String("input")
	outputPath := cmd.String("output")
	if outputPath == "" {
		outputPath = defaultOutputPath(inputPath)
	}

	policy, err := policyFromFlags(cmd)
	if err != nil {
		return err
	}

	// Initialise pdfium
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1,
		MaxIdle:  1,
		MaxTotal: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to initialise pdfium: %w", err)
	}
	defer pool.Close()

	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		return fmt.Errorf("failed to get pdfium instance: %w", err)
	}

	cropper := pdfcrop.NewCropperWithPolicy(instance, policy)
	if cmd.Bool("gs-bbox") {
		cropper.SetStrategy(pdfcrop.VectorQuery)
	}

	boxesToSet, err := parseBoxSources(cmd.String("boxes-to-set"))
	if err != nil {
		return err
	}
	cropper.SetApplyOptions(pdfcrop.ApplyOptions{
		BoxesToSet: boxesToSet,
		NoUndoSave: cmd.Bool("no-undo-save"),
	})

	if cmd.Bool("restore") {
		fmt.Fprintf(os.Stderr, "Restoring original page sizes...\n")
		if err := cropper.RestoreFile(ctx, inputPath, outputPath); err != nil {
			return fmt.Errorf("failed to restore PDF: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Restored document written to %s\n", outputPath)
		return nil
	}

	var pagesToCrop pdfcrop.PageSet
	if spec := cmd.String("pages"); spec != "" {
		// Page count is needed to bound the range; a cheap open suffices.
		doc, err := pdfcrop.OpenDocument(instance, inputPath)
		if err != nil {
			return err
		}
		numPages := doc.NumPages()
		doc.Close()
		pagesToCrop, err = pdfcrop.ParsePageRange(spec, numPages)
		if err != nil {
			return err
		}
	}

	metrics, err := cropper.CropFileWithMetrics(ctx, inputPath, outputPath, pagesToCrop)
	if err != nil {
		return fmt.Errorf("failed to crop PDF: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Cropped %d of %d pages in %v\n",
		metrics.CroppedPages, metrics.PageCount, metrics.TotalTime.Round(time.Millisecond))
	fmt.Fprintf(os.Stderr, "Cropped document written to %s\n", outputPath)
	return nil
}

func policyFromFlags(cmd *cli.Command) (pdfcrop.CropPolicy, error) {
	policy := pdfcrop.DefaultPolicy()

	var err error
	if policy.PercentRetain, err = parseMargins(cmd.String("percent-retain")); err != nil {
		return policy, err
	}
	if policy.AbsoluteOffset, err = parseMargins(cmd.String("absolute-offset")); err != nil {
		return policy, err
	}
	if policy.AbsolutePreCrop, err = parseMargins(cmd.String("absolute-pre-crop")); err != nil {
		return policy, err
	}
	if policy.PageRatioWeights, err = parseMargins(cmd.String("page-ratio-weights")); err != nil {
		return policy, err
	}

	policy.PercentText = cmd.Bool("percent-text")
	policy.Uniform = cmd.Bool("uniform")
	policy.EvenOdd = cmd.Bool("evenodd")
	policy.SamePageSize = cmd.Bool("same-page-size")
	policy.SamePageSizeOrderStat = cmd.Int("same-page-size-order-stat")
	policy.CropSafe = cmd.Bool("crop-safe")
	policy.Threshold = cmd.Int("threshold")
	policy.NumBlurs = cmd.Int("blurs")
	policy.NumSmooths = cmd.Int("smooths")
	policy.Verbose = cmd.Bool("verbose")

	policy.DpiX = cmd.Int("dpi")
	policy.DpiY = cmd.Int("dpi")
	if v := cmd.Int("dpi-x"); v > 0 {
		policy.DpiX = v
	}
	if v := cmd.Int("dpi-y"); v > 0 {
		policy.DpiY = v
	}

	if spec := cmd.String("uniform-order-stat"); spec != "" {
		margins, err := parseMargins(spec)
		if err != nil {
			return policy, err
		}
		stat := [4]int{int(margins[0]), int(margins[1]), int(margins[2]), int(margins[3])}
		policy.UniformOrderStat = &stat
	}
	if spec := cmd.String("uniform-order-percent"); spec != "" {
		pct, err := strconv.ParseFloat(spec, 64)
		if err != nil {
			return policy, fmt.Errorf("bad uniform order percentage %q: %w", spec, err)
		}
		policy.UniformOrderPercent = &pct
	}
	if spec := cmd.String("set-page-ratio"); spec != "" {
		ratio, err := pdfcrop.ParsePageRatio(spec)
		if err != nil {
			return policy, err
		}
		policy.PageRatio = &ratio
	}
	if policy.FullPageBoxes, err = parseBoxSources(cmd.String("full-page-box")); err != nil {
		return policy, err
	}
	return policy, nil
}

// parseMargins accepts a single value, applied to all four margins, or four
// comma-separated values in left,bottom,right,top order.
func parseMargins(spec string) (pdfcrop.MarginVector, error) {
	parts := strings.Split(spec, ",")
	if len(parts) == 1 {
		v, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		if err != nil {
			return pdfcrop.MarginVector{}, fmt.Errorf("bad margin value %q: %w", spec, err)
		}
		return pdfcrop.UniformMargins(v), nil
	}
	if len(parts) != 4 {
		return pdfcrop.MarginVector{}, fmt.Errorf("margin specifier %q needs one or four values", spec)
	}
	var margins pdfcrop.MarginVector
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return pdfcrop.MarginVector{}, fmt.Errorf("bad margin value %q: %w", part, err)
		}
		margins[i] = v
	}
	return margins, nil
}

func parseBoxSources(spec string) ([]pdfcrop.BoxSource, error) {
	var sources []pdfcrop.BoxSource
	for _, c := range spec {
		switch c {
		case 'm':
			sources = append(sources, pdfcrop.MediaBox)
		case 'c':
			sources = append(sources, pdfcrop.CropBox)
		case 't':
			sources = append(sources, pdfcrop.TrimBox)
		case 'a':
			sources = append(sources, pdfcrop.ArtBox)
		case 'b':
			sources = append(sources, pdfcrop.BleedBox)
		default:
			return nil, fmt.Errorf("unknown box source %q, expected letters from 'mctab'", string(c))
		}
	}
	return sources, nil
}

func defaultOutputPath(inputPath string) string {
	base := inputPath
	if strings.HasSuffix(strings.ToLower(base), ".pdf") {
		base = base[:len(base)-4]
	}
	return base + "_cropped.pdf"
}
