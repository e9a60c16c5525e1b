package inspection

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visual-aoi/backend/internal/capability"
	"github.com/visual-aoi/backend/internal/golden"
	"github.com/visual-aoi/backend/internal/roi"
)

// --- capability fakes ---

type fakeDecoder struct {
	values []string
	err    error
}

func (d fakeDecoder) Decode(image.Image) ([]string, error) { return d.values, d.err }

type fakeRecognizer struct {
	text string
	err  error
}

func (r fakeRecognizer) Recognize(context.Context, image.Image) (string, error) {
	return r.text, r.err
}

// meanRGBExtractor reduces an image to its mean RGB vector.
type meanRGBExtractor struct{}

func (meanRGBExtractor) Method() string { return "stub" }

func (meanRGBExtractor) Extract(_ context.Context, img image.Image) ([]float64, error) {
	bounds := img.Bounds()
	var r, g, b float64
	n := float64(bounds.Dx() * bounds.Dy())
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			pr, pg, pb, _ := img.At(x, y).RGBA()
			r += float64(pr >> 8)
			g += float64(pg >> 8)
			b += float64(pb >> 8)
		}
	}
	return []float64{r / n, g / n, b / n}, nil
}

func solidFrame(c color.NRGBA) image.Image { return imaging.New(100, 100, c) }

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.JPEG))
	return buf.Bytes()
}

func barcodeROI(idx int) *roi.ROI {
	return &roi.ROI{
		Idx: idx, Type: roi.TypeBarcode,
		Coords:         roi.Coords{X1: 0, Y1: 0, X2: 50, Y2: 50},
		DeviceLocation: 1,
	}
}

func newTestExecutor(t *testing.T, dec capability.BarcodeDecoder, ocr capability.TextRecognizer) (*Executor, *golden.Store) {
	t.Helper()
	store := golden.NewStore(t.TempDir())
	registry := capability.NewRegistry("", 0)
	registry.Register("stub", meanRGBExtractor{})
	return NewExecutor(dec, ocr, golden.NewMatcher(store, registry)), store
}

func TestExecuteBarcode(t *testing.T) {
	e, _ := newTestExecutor(t, fakeDecoder{values: []string{"CODE-1", "CODE-2"}}, nil)

	res := e.Execute(context.Background(), barcodeROI(1), solidFrame(color.NRGBA{R: 255, A: 255}), "widget", t.TempDir())

	assert.True(t, res.Passed)
	assert.Equal(t, []string{"CODE-1", "CODE-2"}, res.BarcodeValues)
	assert.Equal(t, "Barcode", res.ROITypeName)
	assert.Equal(t, [4]int{0, 0, 50, 50}, res.Coordinates)
}

func TestExecuteBarcodeEmptyIsFail(t *testing.T) {
	e, _ := newTestExecutor(t, fakeDecoder{}, nil)
	res := e.Execute(context.Background(), barcodeROI(1), solidFrame(color.NRGBA{A: 255}), "widget", t.TempDir())
	assert.False(t, res.Passed)
	assert.Empty(t, res.BarcodeValues)
	assert.Empty(t, res.Error)
}

func TestExecuteBarcodeDecoderError(t *testing.T) {
	e, _ := newTestExecutor(t, fakeDecoder{err: errors.New("camera glitch")}, nil)
	res := e.Execute(context.Background(), barcodeROI(1), solidFrame(color.NRGBA{A: 255}), "widget", t.TempDir())
	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "camera glitch")
}

func TestExecuteSavesCropArtifact(t *testing.T) {
	e, _ := newTestExecutor(t, fakeDecoder{values: []string{"X"}}, nil)
	outputDir := t.TempDir()

	res := e.Execute(context.Background(), barcodeROI(3), solidFrame(color.NRGBA{R: 255, A: 255}), "widget", outputDir)

	assert.Equal(t, filepath.Join(outputDir, "roi_3.jpg"), res.CropPath)
	_, err := os.Stat(res.CropPath)
	assert.NoError(t, err)
}

func TestExecuteOCRDecisionTable(t *testing.T) {
	expected := "OK"
	cases := []struct {
		name     string
		text     string
		expected *string
		passed   bool
		tag      string
	}{
		{"contains expected", " OK GO ", &expected, true, "[PASS: Contains 'OK']"},
		{"case-insensitive match", "all ok here", &expected, true, "[PASS: Contains 'OK']"},
		{"does not contain", "NG", &expected, false, "[FAIL: Expected 'OK', detected 'NG']"},
		{"no expectation, text found", "SN123", nil, true, "[PASS: Text detected]"},
		{"no expectation, no text", "   ", nil, false, "[FAIL: No text detected]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newTestExecutor(t, fakeDecoder{}, fakeRecognizer{text: tc.text})
			r := &roi.ROI{
				Idx: 1, Type: roi.TypeOCR,
				Coords:         roi.Coords{X1: 0, Y1: 0, X2: 50, Y2: 50},
				DeviceLocation: 1,
				ExpectedText:   tc.expected,
			}

			res := e.Execute(context.Background(), r, solidFrame(color.NRGBA{A: 255}), "widget", t.TempDir())

			assert.Equal(t, tc.passed, res.Passed)
			assert.True(t, strings.HasSuffix(res.OCRText, tc.tag), "ocr_text %q should end with %q", res.OCRText, tc.tag)
			assert.True(t, strings.HasPrefix(res.OCRText, strings.TrimSpace(tc.text)))
		})
	}
}

func TestExecuteOCRWithoutRecognizer(t *testing.T) {
	e, _ := newTestExecutor(t, fakeDecoder{}, nil)
	r := &roi.ROI{
		Idx: 1, Type: roi.TypeOCR,
		Coords:         roi.Coords{X1: 0, Y1: 0, X2: 50, Y2: 50},
		DeviceLocation: 1,
	}
	res := e.Execute(context.Background(), r, solidFrame(color.NRGBA{A: 255}), "widget", t.TempDir())
	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "not configured")
}

func TestExecuteCompareMatch(t *testing.T) {
	e, store := newTestExecutor(t, fakeDecoder{}, nil)
	red := imaging.New(16, 16, color.NRGBA{R: 255, A: 255})
	var err error
	_, err = store.Upload("widget", 1, encodeJPEG(t, red), false)
	require.NoError(t, err)

	threshold := 0.9
	r := &roi.ROI{
		Idx: 1, Type: roi.TypeCompare,
		Coords:         roi.Coords{X1: 0, Y1: 0, X2: 50, Y2: 50},
		DeviceLocation: 1,
		AIThreshold:    &threshold,
		FeatureMethod:  "stub",
	}
	outputDir := t.TempDir()

	res := e.Execute(context.Background(), r, solidFrame(color.NRGBA{R: 255, A: 255}), "widget", outputDir)

	assert.True(t, res.Passed)
	assert.Equal(t, "Match", res.MatchResult)
	require.NotNil(t, res.AISimilarity)
	assert.Greater(t, *res.AISimilarity, 0.99)
	assert.Equal(t, &threshold, res.Threshold)
	assert.Equal(t, filepath.Join(outputDir, "golden_1.jpg"), res.GoldenImagePath)
	_, err = os.Stat(res.GoldenImagePath)
	assert.NoError(t, err)
}

func TestExecuteCompareDifferent(t *testing.T) {
	e, store := newTestExecutor(t, fakeDecoder{}, nil)
	green := imaging.New(16, 16, color.NRGBA{G: 255, A: 255})
	_, err := store.Upload("widget", 1, encodeJPEG(t, green), false)
	require.NoError(t, err)

	threshold := 0.9
	r := &roi.ROI{
		Idx: 1, Type: roi.TypeCompare,
		Coords:         roi.Coords{X1: 0, Y1: 0, X2: 50, Y2: 50},
		DeviceLocation: 1,
		AIThreshold:    &threshold,
		FeatureMethod:  "stub",
	}

	res := e.Execute(context.Background(), r, solidFrame(color.NRGBA{R: 255, A: 255}), "widget", t.TempDir())

	assert.False(t, res.Passed)
	assert.Equal(t, "Different", res.MatchResult)
}

func TestExecuteCompareWithoutLibraryIsError(t *testing.T) {
	e, _ := newTestExecutor(t, fakeDecoder{}, nil)
	threshold := 0.9
	r := &roi.ROI{
		Idx: 1, Type: roi.TypeCompare,
		Coords:         roi.Coords{X1: 0, Y1: 0, X2: 50, Y2: 50},
		DeviceLocation: 1,
		AIThreshold:    &threshold,
		FeatureMethod:  "stub",
	}

	res := e.Execute(context.Background(), r, solidFrame(color.NRGBA{R: 255, A: 255}), "widget", t.TempDir())
	assert.False(t, res.Passed)
	assert.Contains(t, res.Error, "golden match")
}

func TestExecuteColor(t *testing.T) {
	e, _ := newTestExecutor(t, fakeDecoder{}, nil)
	r := &roi.ROI{
		Idx: 1, Type: roi.TypeColor,
		Coords:         roi.Coords{X1: 0, Y1: 0, X2: 100, Y2: 100},
		DeviceLocation: 1,
		ColorConfig: &roi.ColorConfig{
			ExpectedColor:      &[3]int{255, 0, 0},
			ColorTolerance:     f64(10),
			MinPixelPercentage: f64(50),
		},
	}

	res := e.Execute(context.Background(), r, solidFrame(color.NRGBA{R: 255, A: 255}), "widget", t.TempDir())
	assert.True(t, res.Passed)
	require.NotNil(t, res.Color)
	assert.InDelta(t, 100, res.Color.MatchPercentage, 0.01)
}
