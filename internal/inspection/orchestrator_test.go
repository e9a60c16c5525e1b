package inspection

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visual-aoi/backend/internal/barcode"
	"github.com/visual-aoi/backend/internal/capability"
	"github.com/visual-aoi/backend/internal/golden"
	"github.com/visual-aoi/backend/internal/imagesource"
	"github.com/visual-aoi/backend/internal/metrics"
	"github.com/visual-aoi/backend/internal/pathmap"
	"github.com/visual-aoi/backend/internal/session"
)

// Prometheus collectors register globally, so the package shares one
// instance across tests.
var testMetrics = metrics.New()

type orchestratorEnv struct {
	orchestrator *Orchestrator
	sessions     *session.Manager
	sessionID    string
	inputDir     string
	productsRoot string
}

// newOrchestratorEnv wires a complete flow over temp dirs: a "widget"
// product with a device-barcode ROI and a color ROI on device 1 plus a
// generic barcode ROI on device 2.
func newOrchestratorEnv(t *testing.T, dec capability.BarcodeDecoder, colorTarget [3]int) *orchestratorEnv {
	t.Helper()
	sharedRoot := t.TempDir()
	productsRoot := t.TempDir()

	writeProductConfig(t, productsRoot, "widget", `[
		{"idx":1,"type":1,"coords":[0,0,40,40],"device_location":1,"is_device_barcode":true},
		{"idx":2,"type":4,"coords":[0,0,100,100],"device_location":1,
		 "color_config":{"expected_color":[`+jsonInts(colorTarget)+`],"color_tolerance":10,"min_pixel_percentage":50}},
		{"idx":3,"type":1,"coords":[40,40,90,90],"device_location":2}
	]`)

	sessions := session.NewManager(sharedRoot)
	sess, err := sessions.Create("widget", "")
	require.NoError(t, err)

	store := golden.NewStore(productsRoot)
	registry := capability.NewRegistry("", 0)
	executor := NewExecutor(dec, nil, golden.NewMatcher(store, registry))
	runner := NewRunner(executor, 4)
	ladder := barcode.NewLadder(barcode.NewLinker("", false, time.Second, nil))
	projector := pathmap.NewProjector(sharedRoot, "/mnt/client")

	o := NewOrchestrator(productsRoot, sessions, runner, ladder, projector, testMetrics, 0)

	return &orchestratorEnv{
		orchestrator: o,
		sessions:     sessions,
		sessionID:    sess.ID,
		inputDir:     sess.InputDir(),
		productsRoot: productsRoot,
	}
}

func redNRGBA() color.NRGBA { return color.NRGBA{R: 255, A: 255} }

func pngOf(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}

func jsonInts(v [3]int) string {
	b, _ := json.Marshal([]int{v[0], v[1], v[2]})
	return strings.Trim(string(b), "[]")
}

func writeProductConfig(t *testing.T, root, product, roisJSON string) {
	t.Helper()
	dir := filepath.Join(root, product)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, "rois_config_"+product+".json"), []byte(roisJSON), 0o644))
}

func writeFrame(t *testing.T, env *orchestratorEnv, name string) {
	t.Helper()
	red := solidFrame(redNRGBA())
	require.NoError(t, os.WriteFile(filepath.Join(env.inputDir, name), pngOf(t, red), 0o644))
}

func TestInspectFullFlow(t *testing.T) {
	env := newOrchestratorEnv(t, fakeDecoder{values: []string{"SCAN-1"}}, [3]int{255, 0, 0})
	writeFrame(t, env, "frame.png")

	report, err := env.orchestrator.Inspect(context.Background(), env.sessionID, InspectRequest{
		Source: imagesource.Source{ImageFilename: "frame.png"},
	})
	require.NoError(t, err)

	assert.True(t, report.OverallResult.Passed)
	assert.Equal(t, 3, report.OverallResult.TotalROIs)
	assert.Equal(t, 3, report.OverallResult.PassedROIs)
	assert.Equal(t, 0, report.OverallResult.FailedROIs)

	require.Len(t, report.ROIResults, 3)
	for i, want := range []int{1, 2, 3} {
		assert.Equal(t, want, report.ROIResults[i].ROIID)
	}

	// Device-barcode ROI scans win for device 1; device 2 resolves from
	// its generic scan.
	require.Contains(t, report.DeviceSummaries, 1)
	require.Contains(t, report.DeviceSummaries, 2)
	assert.Equal(t, "SCAN-1", report.DeviceSummaries[1].Barcode)
	assert.Equal(t, "SCAN-1", report.DeviceSummaries[2].Barcode)
	assert.True(t, report.DeviceSummaries[1].DevicePassed)
	assert.Equal(t, 2, report.DeviceSummaries[1].TotalROIs)
	assert.Equal(t, 1, report.DeviceSummaries[2].TotalROIs)

	// Artifact paths come back in client-mount form.
	for _, res := range report.ROIResults {
		assert.True(t, strings.HasPrefix(res.CropPath, "/mnt/client/"), res.CropPath)
	}
	assert.Greater(t, report.ProcessingTime, 0.0)
}

func TestInspectFailingROIFailsDeviceAndOverall(t *testing.T) {
	// The color ROI expects blue but the frame is red.
	env := newOrchestratorEnv(t, fakeDecoder{values: []string{"SCAN-1"}}, [3]int{0, 0, 255})
	writeFrame(t, env, "frame.png")

	report, err := env.orchestrator.Inspect(context.Background(), env.sessionID, InspectRequest{
		Source: imagesource.Source{ImageFilename: "frame.png"},
	})
	require.NoError(t, err)

	assert.False(t, report.OverallResult.Passed)
	assert.Equal(t, 1, report.OverallResult.FailedROIs)
	assert.Equal(t, 2, report.OverallResult.PassedROIs)
	assert.False(t, report.DeviceSummaries[1].DevicePassed)
	assert.True(t, report.DeviceSummaries[2].DevicePassed)
}

func TestInspectBarcodeFallbackToCallerMapping(t *testing.T) {
	// No scans decode at all: the mapping covers device 1, the scalar
	// covers device 2.
	env := newOrchestratorEnv(t, fakeDecoder{}, [3]int{255, 0, 0})
	writeFrame(t, env, "frame.png")

	report, err := env.orchestrator.Inspect(context.Background(), env.sessionID, InspectRequest{
		Source:         imagesource.Source{ImageFilename: "frame.png"},
		DeviceBarcodes: DeviceBarcodes{1: "MAPPED-1"},
		DeviceBarcode:  "LEGACY",
	})
	require.NoError(t, err)

	assert.Equal(t, "MAPPED-1", report.DeviceSummaries[1].Barcode)
	assert.Equal(t, "LEGACY", report.DeviceSummaries[2].Barcode)
}

func TestInspectUnknownSession(t *testing.T) {
	env := newOrchestratorEnv(t, fakeDecoder{}, [3]int{255, 0, 0})
	_, err := env.orchestrator.Inspect(context.Background(), "no-such-session", InspectRequest{})
	assert.ErrorIs(t, err, session.ErrSessionUnknown)
}

func TestInspectMissingSource(t *testing.T) {
	env := newOrchestratorEnv(t, fakeDecoder{}, [3]int{255, 0, 0})
	_, err := env.orchestrator.Inspect(context.Background(), env.sessionID, InspectRequest{})
	assert.ErrorIs(t, err, imagesource.ErrSourceMissing)
}

func TestGroupedInspectClientGroupingWins(t *testing.T) {
	env := newOrchestratorEnv(t, fakeDecoder{values: []string{"SCAN-1"}}, [3]int{255, 0, 0})
	writeFrame(t, env, "g1.png")
	writeFrame(t, env, "g2.png")

	report, err := env.orchestrator.GroupedInspect(context.Background(), GroupedRequest{
		SessionID: env.sessionID,
		CapturedImages: map[string]CapturedGroup{
			"0_0": {Source: imagesource.Source{ImageFilename: "g1.png"}, ROIs: []int{1, 2}},
			"1_5": {Focus: 1, Exposure: 5, Source: imagesource.Source{ImageFilename: "g2.png"}, ROIs: []int{3}},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.OverallResult.TotalROIs)
	require.Len(t, report.ROIResults, 3)
	for i, want := range []int{1, 2, 3} {
		assert.Equal(t, want, report.ROIResults[i].ROIID)
	}
	assert.True(t, report.OverallResult.Passed)
}

func TestGroupedInspectUnknownROIIdx(t *testing.T) {
	env := newOrchestratorEnv(t, fakeDecoder{}, [3]int{255, 0, 0})
	writeFrame(t, env, "g1.png")

	_, err := env.orchestrator.GroupedInspect(context.Background(), GroupedRequest{
		SessionID: env.sessionID,
		CapturedImages: map[string]CapturedGroup{
			"0_0": {Source: imagesource.Source{ImageFilename: "g1.png"}, ROIs: []int{99}},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown roi idx 99")
}

func TestDeviceBarcodesAcceptsBothEncodings(t *testing.T) {
	var fromMap DeviceBarcodes
	require.NoError(t, json.Unmarshal([]byte(`{"1":"A","2":"B"}`), &fromMap))
	assert.Equal(t, DeviceBarcodes{1: "A", 2: "B"}, fromMap)

	var fromList DeviceBarcodes
	require.NoError(t, json.Unmarshal(
		[]byte(`[{"device_id":1,"barcode":"A"},{"device_id":2,"barcode":"B"}]`), &fromList))
	assert.Equal(t, DeviceBarcodes{1: "A", 2: "B"}, fromList)

	var bad DeviceBarcodes
	assert.Error(t, json.Unmarshal([]byte(`{"x":"A"}`), &bad))
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}
