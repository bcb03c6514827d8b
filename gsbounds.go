package pdfcrop

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ghostscriptNames are the executable names tried in order when locating
// Ghostscript. The Windows console variants come after the plain name.
var ghostscriptNames = []string{"gs", "gswin64c", "gswin32c", "mgs"}

// FindGhostscript locates a Ghostscript executable on the PATH. Its absence
// is a configuration error when the vector-query strategy was requested.
func FindGhostscript() (string, error) {
	for _, name := range ghostscriptNames {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", errors.New("no Ghostscript executable found in PATH")
}

// GhostscriptSource finds tight bounding boxes by running Ghostscript's bbox
// device over the whole document in a single external call. Threshold, blur
// and smooth settings have no meaning for this strategy and are ignored with
// a warning.
type GhostscriptSource struct {
	executable string
	docPath    string
	boxArg     string
	dpiX       int
	dpiY       int
	verbose    bool
}

// NewGhostscriptSource creates the vector-query bounds source for the
// document at docPath, configured from the policy. It fails if no
// Ghostscript executable can be located.
func NewGhostscriptSource(docPath string, policy CropPolicy) (*GhostscriptSource, error) {
	executable, err := FindGhostscript()
	if err != nil {
		return nil, err
	}

	if policy.Threshold != DefaultThreshold {
		log.Printf("Warning: the threshold setting is ignored when Ghostscript computes the bounding boxes.")
	}
	if policy.NumBlurs != 0 {
		log.Printf("Warning: the blur setting is ignored when Ghostscript computes the bounding boxes.")
	}
	if policy.NumSmooths != 0 {
		log.Printf("Warning: the smooth setting is ignored when Ghostscript computes the bounding boxes.")
	}

	// Ghostscript only honors one reference box; the last one selected wins.
	boxArg := "-dUseMediaBox"
	for _, src := range policy.FullPageBoxes {
		switch src {
		case CropBox:
			boxArg = "-dUseCropBox"
		case TrimBox:
			boxArg = "-dUseTrimBox"
		case ArtBox:
			boxArg = "-dUseArtBox"
		case BleedBox:
			boxArg = "-dUseBleedBox"
		}
	}

	return &GhostscriptSource{
		executable: executable,
		docPath:    docPath,
		boxArg:     boxArg,
		dpiX:       policy.DpiX,
		dpiY:       policy.DpiY,
		verbose:    policy.Verbose,
	}, nil
}

// TightBoxes runs Ghostscript once for the document and parses the reported
// high-resolution bounding boxes, one per page in order.
func (s *GhostscriptSource) TightBoxes(ctx context.Context, fullBoxes []Box, pagesToCrop PageSet) ([]Box, error) {
	args := []string{
		"-dSAFER", "-dNOPAUSE", "-dBATCH", "-sDEVICE=bbox",
		s.boxArg,
		fmt.Sprintf("-r%dx%d", s.dpiX, s.dpiY),
		s.docPath,
	}
	if s.verbose {
		log.Printf("Using Ghostscript to calculate the bounding boxes: %s %s",
			s.executable, strings.Join(args, " "))
	}

	// The bbox device writes its results to stderr.
	output, err := exec.CommandContext(ctx, s.executable, args...).CombinedOutput()
	if err != nil {
		return nil, errors.Wrapf(err, "ghostscript bounding box run failed: %s", string(output))
	}

	boxes, err := parseGhostscriptBBoxes(output)
	if err != nil {
		return nil, err
	}
	if len(boxes) != len(fullBoxes) {
		return nil, errors.Errorf("ghostscript reported %d bounding boxes for a %d page document",
			len(boxes), len(fullBoxes))
	}
	return boxes, nil
}

// parseGhostscriptBBoxes extracts the %%HiResBoundingBox lines, which list
// the lower-left point followed by the upper-right point.
func parseGhostscriptBBoxes(output []byte) ([]Box, error) {
	var boxes []Box
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 || fields[0] != "%%HiResBoundingBox:" {
			continue
		}
		if len(fields) != 5 {
			log.Printf("Warning: ignoring unparsable Ghostscript bounding box line: %s", scanner.Text())
			continue
		}
		var vals [4]float64
		ok := true
		for i, f := range fields[1:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				log.Printf("Warning: ignoring unparsable Ghostscript bounding box line: %s", scanner.Text())
				ok = false
				break
			}
			vals[i] = v
		}
		if !ok {
			continue
		}
		boxes = append(boxes, Box{Left: vals[0], Bottom: vals[1], Right: vals[2], Top: vals[3]})
	}
	if len(boxes) == 0 {
		return nil, errors.New("ghostscript failed to find any bounding boxes in the document")
	}
	return boxes, nil
}
