// Package inspection drives a single inspection from request to
// aggregated response: grouping, parallel ROI execution, barcode
// resolution, and verdict aggregation.
package inspection

// ColorResult is the type-specific payload of a Color ROI.
type ColorResult struct {
	DetectedColor      string  `json:"detected_color"`
	DominantColor      [3]int  `json:"dominant_color"`
	MatchPercentage    float64 `json:"match_percentage"`
	MatchPercentageRaw float64 `json:"match_percentage_raw"`
	Threshold          float64 `json:"threshold"`
}

// ROIResult is one per-ROI verdict. Type-specific payload fields are
// populated for the matching type only.
type ROIResult struct {
	ROIID       int    `json:"roi_id"`
	DeviceID    int    `json:"device_id"`
	ROITypeName string `json:"roi_type_name"`
	Passed      bool   `json:"passed"`
	Coordinates [4]int `json:"coordinates"`
	CropPath    string `json:"crop_image_path,omitempty"`
	Error       string `json:"error,omitempty"`

	// TimedOut marks results synthesized for tasks the deadline
	// preempted; metrics count these apart from executor errors.
	TimedOut bool `json:"-"`

	// Barcode.
	BarcodeValues []string `json:"barcode_values,omitempty"`

	// Compare.
	AISimilarity    *float64 `json:"ai_similarity,omitempty"`
	Threshold       *float64 `json:"threshold,omitempty"`
	MatchResult     string   `json:"match_result,omitempty"`
	GoldenImagePath string   `json:"golden_image_path,omitempty"`

	// OCR.
	OCRText string `json:"ocr_text,omitempty"`

	// Color.
	Color *ColorResult `json:"color_result,omitempty"`
}

// DeviceSummary aggregates the verdict for one physical unit in the
// frame.
type DeviceSummary struct {
	DeviceID     int    `json:"device_id"`
	Barcode      string `json:"barcode"`
	DevicePassed bool   `json:"device_passed"`
	PassedROIs   int    `json:"passed_rois"`
	TotalROIs    int    `json:"total_rois"`
}

// OverallResult is the whole-inspection verdict.
type OverallResult struct {
	Passed     bool `json:"passed"`
	TotalROIs  int  `json:"total_rois"`
	PassedROIs int  `json:"passed_rois"`
	FailedROIs int  `json:"failed_rois"`
}

// Report is the aggregate returned per inspection call. All file paths
// are in client-mount form.
type Report struct {
	OverallResult   OverallResult         `json:"overall_result"`
	DeviceSummaries map[int]DeviceSummary `json:"device_summaries"`
	ROIResults      []ROIResult           `json:"roi_results"`
	ProcessingTime  float64               `json:"processing_time"`
	Degraded        bool                  `json:"degraded,omitempty"`
}
