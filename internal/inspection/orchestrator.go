package inspection

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/visual-aoi/backend/internal/barcode"
	"github.com/visual-aoi/backend/internal/imagesource"
	"github.com/visual-aoi/backend/internal/metrics"
	"github.com/visual-aoi/backend/internal/pathmap"
	"github.com/visual-aoi/backend/internal/roi"
	"github.com/visual-aoi/backend/internal/session"
)

// DeviceBarcodes accepts both request encodings of the per-device
// barcode mapping: an object keyed by device id, or a list of
// {device_id, barcode} entries.
type DeviceBarcodes map[int]string

func (d *DeviceBarcodes) UnmarshalJSON(data []byte) error {
	out := make(DeviceBarcodes)

	var asMap map[string]string
	if err := json.Unmarshal(data, &asMap); err == nil {
		for k, v := range asMap {
			id, err := strconv.Atoi(k)
			if err != nil {
				return fmt.Errorf("device_barcodes: key %q is not a device id", k)
			}
			out[id] = v
		}
		*d = out
		return nil
	}

	var asList []struct {
		DeviceID int    `json:"device_id"`
		Barcode  string `json:"barcode"`
	}
	if err := json.Unmarshal(data, &asList); err != nil {
		return fmt.Errorf("device_barcodes: expected object or list form")
	}
	for _, e := range asList {
		out[e.DeviceID] = e.Barcode
	}
	*d = out
	return nil
}

// InspectRequest is the single-image inspection payload: one frame for
// every ROI of the product, regardless of capture group.
type InspectRequest struct {
	imagesource.Source
	DeviceBarcodes DeviceBarcodes `json:"device_barcodes,omitempty"`
	DeviceBarcode  string         `json:"device_barcode,omitempty"`
}

// CapturedGroup is one client-side capture in a grouped request.
type CapturedGroup struct {
	Focus    int `json:"focus"`
	Exposure int `json:"exposure"`
	imagesource.Source
	ROIs []int `json:"rois"`
}

// GroupedRequest is the pre-grouped inspection payload. The client's
// grouping wins over the server-computed one.
type GroupedRequest struct {
	SessionID      string                   `json:"session_id"`
	DeviceBarcodes DeviceBarcodes           `json:"device_barcodes,omitempty"`
	DeviceBarcode  string                   `json:"device_barcode,omitempty"`
	CapturedImages map[string]CapturedGroup `json:"captured_images"`
}

// Orchestrator owns the full inspection flow: product config load,
// grouping, frame resolution, parallel execution, barcode resolution
// and verdict aggregation.
type Orchestrator struct {
	productsRoot string
	sessions     *session.Manager
	runner       *Runner
	ladder       *barcode.Ladder
	projector    *pathmap.Projector
	metrics      *metrics.Metrics
	deadline     time.Duration
	logger       *log.Logger
}

// NewOrchestrator wires the flow. deadline of zero means no
// per-inspection deadline.
func NewOrchestrator(productsRoot string, sessions *session.Manager, runner *Runner, ladder *barcode.Ladder, projector *pathmap.Projector, m *metrics.Metrics, deadline time.Duration) *Orchestrator {
	return &Orchestrator{
		productsRoot: productsRoot,
		sessions:     sessions,
		runner:       runner,
		ladder:       ladder,
		projector:    projector,
		metrics:      m,
		deadline:     deadline,
		logger:       log.New(log.Writer(), "[ORCHESTRATOR] ", log.LstdFlags),
	}
}

// Inspect runs a single-image inspection: the one resolved frame is
// shared by every ROI of the product.
func (o *Orchestrator) Inspect(ctx context.Context, sessionID string, req InspectRequest) (*Report, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.Acquire()
	defer sess.Release()

	product, err := roi.LoadProduct(o.productsRoot, sess.ProductID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	frame, variant, err := imagesource.Resolve(req.Source, sess.InputDir())
	if err != nil {
		return nil, err
	}
	o.metrics.DegradedSources.WithLabelValues(string(variant)).Inc()

	results := o.runner.Run(ctx, product.ROIs, frame, product.ID, sess.OutputDir())
	degraded := variant == imagesource.VariantInline

	return o.finish(ctx, product, results, req.DeviceBarcodes, req.DeviceBarcode, start, degraded), nil
}

// GroupedInspect runs one inspection over client-captured frames, one
// frame per (focus, exposure) group.
func (o *Orchestrator) GroupedInspect(ctx context.Context, req GroupedRequest) (*Report, error) {
	sess, err := o.sessions.Get(req.SessionID)
	if err != nil {
		return nil, err
	}
	sess.Acquire()
	defer sess.Release()

	product, err := roi.LoadProduct(o.productsRoot, sess.ProductID)
	if err != nil {
		return nil, err
	}
	byIdx := make(map[int]*roi.ROI, len(product.ROIs))
	for _, r := range product.ROIs {
		byIdx[r.Idx] = r
	}

	start := time.Now()
	ctx, cancel := o.withDeadline(ctx)
	defer cancel()

	// Deterministic group order keeps logs and artifact writes stable.
	keys := make([]string, 0, len(req.CapturedImages))
	for k := range req.CapturedImages {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var results []ROIResult
	degraded := false
	for _, key := range keys {
		group := req.CapturedImages[key]

		// The client's grouping wins: the listed indices are taken as
		// given, not recomputed from (focus, exposure).
		rois := make([]*roi.ROI, 0, len(group.ROIs))
		for _, idx := range group.ROIs {
			r, ok := byIdx[idx]
			if !ok {
				return nil, fmt.Errorf("group %s references unknown roi idx %d", key, idx)
			}
			rois = append(rois, r)
		}
		if len(rois) == 0 {
			continue
		}

		frame, variant, err := imagesource.Resolve(group.Source, sess.InputDir())
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", key, err)
		}
		o.metrics.DegradedSources.WithLabelValues(string(variant)).Inc()
		if variant == imagesource.VariantInline {
			degraded = true
		}

		results = append(results, o.runner.Run(ctx, rois, frame, product.ID, sess.OutputDir())...)
	}

	return o.finish(ctx, product, results, req.DeviceBarcodes, req.DeviceBarcode, start, degraded), nil
}

func (o *Orchestrator) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.deadline > 0 {
		return context.WithTimeout(ctx, o.deadline)
	}
	return context.WithCancel(ctx)
}

// finish aggregates per-ROI results into the response: barcode
// resolution after fan-in, device summaries, overall verdict, path
// projection.
func (o *Orchestrator) finish(ctx context.Context, product *roi.Product, results []ROIResult, deviceBarcodes DeviceBarcodes, deviceBarcode string, start time.Time, degraded bool) *Report {
	sort.Slice(results, func(i, j int) bool { return results[i].ROIID < results[j].ROIID })

	byIdx := make(map[int]*roi.ROI, len(product.ROIs))
	for _, r := range product.ROIs {
		byIdx[r.Idx] = r
	}

	// Collect devices and raw barcode scans for the ladder.
	deviceSet := make(map[int]bool)
	var scans []barcode.ROIScan
	for _, res := range results {
		deviceSet[res.DeviceID] = true
		r := byIdx[res.ROIID]
		if r == nil || r.Type != roi.TypeBarcode || len(res.BarcodeValues) == 0 {
			continue
		}
		isDevice := r.IsDeviceBarcode != nil && *r.IsDeviceBarcode
		scans = append(scans, barcode.ROIScan{
			Idx:             res.ROIID,
			DeviceLocation:  res.DeviceID,
			IsDeviceBarcode: isDevice,
			Values:          res.BarcodeValues,
		})
	}
	devices := make([]int, 0, len(deviceSet))
	for d := range deviceSet {
		devices = append(devices, d)
	}
	sort.Ints(devices)

	// The ladder runs after fan-in so a late-finishing device-barcode
	// ROI can still outrank an early generic scan.
	resolved := o.ladder.Resolve(ctx, devices, scans, deviceBarcodes, deviceBarcode)

	summaries := make(map[int]DeviceSummary, len(devices))
	for _, d := range devices {
		summaries[d] = DeviceSummary{DeviceID: d, Barcode: resolved[d].Value, DevicePassed: true}
	}

	report := &Report{
		DeviceSummaries: summaries,
		ROIResults:      results,
		Degraded:        degraded,
	}
	report.OverallResult.Passed = true
	report.OverallResult.TotalROIs = len(results)

	for i := range results {
		res := &results[i]
		res.CropPath = o.projector.Project(res.CropPath)
		res.GoldenImagePath = o.projector.Project(res.GoldenImagePath)

		s := summaries[res.DeviceID]
		s.TotalROIs++
		if res.Passed {
			s.PassedROIs++
			report.OverallResult.PassedROIs++
		} else {
			s.DevicePassed = false
			report.OverallResult.Passed = false
			report.OverallResult.FailedROIs++
		}
		summaries[res.DeviceID] = s

		o.metrics.RecordROI(res.ROITypeName, verdictLabel(res))
	}

	report.ProcessingTime = time.Since(start).Seconds()

	outcome := "pass"
	if ctx.Err() != nil {
		outcome = "timeout"
		report.OverallResult.Passed = false
	} else if !report.OverallResult.Passed {
		outcome = "fail"
	}
	o.metrics.RecordInspection(product.ID, outcome, report.ProcessingTime)
	o.logger.Printf("inspection product=%s rois=%d passed=%t in %.3fs",
		product.ID, len(results), report.OverallResult.Passed, report.ProcessingTime)

	return report
}

func verdictLabel(res *ROIResult) string {
	switch {
	case res.Passed:
		return "pass"
	case res.TimedOut:
		return "timeout"
	case res.Error != "":
		return "error"
	default:
		return "fail"
	}
}
