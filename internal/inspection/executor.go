package inspection

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/visual-aoi/backend/internal/capability"
	"github.com/visual-aoi/backend/internal/golden"
	"github.com/visual-aoi/backend/internal/roi"
)

// Executor runs one ROI of any type against a decoded frame. It is
// stateless apart from its capability handles and safe for concurrent
// use by the worker pool.
type Executor struct {
	barcode capability.BarcodeDecoder
	ocr     capability.TextRecognizer
	matcher *golden.Matcher
	logger  *log.Logger
}

// NewExecutor wires the per-type capabilities. ocr may be nil when no
// recognizer sidecar is configured; OCR ROIs then fail with an error
// result instead of poisoning the whole inspection.
func NewExecutor(decoder capability.BarcodeDecoder, ocr capability.TextRecognizer, matcher *golden.Matcher) *Executor {
	return &Executor{
		barcode: decoder,
		ocr:     ocr,
		matcher: matcher,
		logger:  log.New(log.Writer(), "[EXECUTOR] ", log.LstdFlags),
	}
}

// Execute crops frame by the ROI's coords, applies rotation, persists
// the crop as output/roi_<idx>.jpg, and dispatches to the type-specific
// processor. It never panics outward; the runner adds a recovery net on
// top for defense in depth.
func (e *Executor) Execute(ctx context.Context, r *roi.ROI, frame image.Image, product, outputDir string) ROIResult {
	res := ROIResult{
		ROIID:       r.Idx,
		DeviceID:    r.DeviceLocation,
		ROITypeName: r.Type.String(),
		Coordinates: [4]int{r.Coords.X1, r.Coords.Y1, r.Coords.X2, r.Coords.Y2},
	}

	crop := imaging.Crop(frame, image.Rect(r.Coords.X1, r.Coords.Y1, r.Coords.X2, r.Coords.Y2))
	if r.Rotation != 0 {
		crop = imaging.Rotate(crop, float64(r.Rotation), color.NRGBA{0, 0, 0, 255})
	}

	cropPath := filepath.Join(outputDir, fmt.Sprintf("roi_%d.jpg", r.Idx))
	if err := imaging.Save(crop, cropPath); err != nil {
		// The crop artifact is a debugging aid; the verdict does not
		// depend on it being written.
		e.logger.Printf("saving crop for roi %d: %v", r.Idx, err)
	} else {
		res.CropPath = cropPath
	}

	switch r.Type {
	case roi.TypeBarcode:
		e.runBarcode(crop, &res)
	case roi.TypeCompare:
		e.runCompare(ctx, crop, r, product, outputDir, &res)
	case roi.TypeOCR:
		e.runOCR(ctx, crop, r, &res)
	case roi.TypeColor:
		cr, passed := MatchColor(crop, r.ColorConfig)
		res.Color = cr
		res.Passed = passed
	}
	return res
}

func (e *Executor) runBarcode(crop image.Image, res *ROIResult) {
	values, err := e.barcode.Decode(crop)
	if err != nil {
		res.Error = fmt.Sprintf("barcode decode: %v", err)
		res.Passed = false
		return
	}
	// The decoded values stay a list end to end; the resolution ladder
	// unwraps it after fan-in.
	res.BarcodeValues = values
	res.Passed = len(values) > 0
}

func (e *Executor) runCompare(ctx context.Context, crop image.Image, r *roi.ROI, product, outputDir string, res *ROIResult) {
	outcome, err := e.matcher.Match(ctx, crop, product, r.Idx, *r.AIThreshold, r.FeatureMethod)
	if err != nil {
		res.Error = fmt.Sprintf("golden match: %v", err)
		res.Passed = false
		return
	}

	similarity := outcome.Similarity
	res.AISimilarity = &similarity
	res.Threshold = r.AIThreshold
	res.Passed = outcome.Passed
	if outcome.Passed {
		res.MatchResult = "Match"
	} else {
		res.MatchResult = "Different"
	}

	if outcome.Golden != nil {
		goldenPath := filepath.Join(outputDir, fmt.Sprintf("golden_%d.jpg", r.Idx))
		if err := imaging.Save(outcome.Golden, goldenPath); err != nil {
			e.logger.Printf("saving golden copy for roi %d: %v", r.Idx, err)
		} else {
			res.GoldenImagePath = goldenPath
		}
	}
}

func (e *Executor) runOCR(ctx context.Context, crop image.Image, r *roi.ROI, res *ROIResult) {
	if e.ocr == nil {
		res.Error = "ocr capability not configured"
		res.Passed = false
		return
	}
	text, err := e.ocr.Recognize(ctx, crop)
	if err != nil {
		res.Error = fmt.Sprintf("ocr: %v", err)
		res.Passed = false
		return
	}

	text = strings.TrimSpace(text)
	var expected string
	if r.ExpectedText != nil {
		expected = strings.TrimSpace(*r.ExpectedText)
	}

	var tag string
	switch {
	case expected != "" && strings.Contains(strings.ToLower(text), strings.ToLower(expected)):
		res.Passed = true
		tag = fmt.Sprintf("[PASS: Contains '%s']", expected)
	case expected != "":
		res.Passed = false
		tag = fmt.Sprintf("[FAIL: Expected '%s', detected '%s']", expected, text)
	case text != "":
		res.Passed = true
		tag = "[PASS: Text detected]"
	default:
		res.Passed = false
		tag = "[FAIL: No text detected]"
	}
	res.OCRText = text + tag
}
