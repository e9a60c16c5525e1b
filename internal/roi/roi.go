// Package roi defines the canonical Region-Of-Interest record (config
// schema v3.2) and its validating deserializer. Product configs may
// list ROIs in object form (keyed map) or legacy positional tuple form;
// both normalize to the same immutable record.
package roi

import (
	"fmt"
)

// Type enumerates the ROI processor kinds.
type Type int

const (
	TypeBarcode Type = 1
	TypeCompare Type = 2
	TypeOCR     Type = 3
	TypeColor   Type = 4
)

func (t Type) String() string {
	switch t {
	case TypeBarcode:
		return "Barcode"
	case TypeCompare:
		return "Compare"
	case TypeOCR:
		return "OCR"
	case TypeColor:
		return "Color"
	default:
		return fmt.Sprintf("Unknown(%d)", int(t))
	}
}

// Valid reports whether t is one of the four known processor kinds.
func (t Type) Valid() bool {
	return t >= TypeBarcode && t <= TypeColor
}

// Coords is an axis-aligned rectangle in source-image pixel space.
type Coords struct {
	X1, Y1, X2, Y2 int
}

// ColorRange is one named range of the enumerated color-match variant.
type ColorRange struct {
	Name       string     `json:"name"`
	Lower      [3]float64 `json:"lower"`
	Upper      [3]float64 `json:"upper"`
	ColorSpace string     `json:"color_space"` // "RGB" or "HSV"
	Threshold  float64    `json:"threshold"`
}

// ColorConfig carries exactly one of the two color-match variants.
type ColorConfig struct {
	// Simple variant.
	ExpectedColor      *[3]int  `json:"expected_color,omitempty"`
	ColorTolerance     *float64 `json:"color_tolerance,omitempty"`
	MinPixelPercentage *float64 `json:"min_pixel_percentage,omitempty"`

	// Ranges variant.
	ColorRanges []ColorRange `json:"color_ranges,omitempty"`
}

// IsSimple reports whether the simple target+tolerance variant applies.
func (cc *ColorConfig) IsSimple() bool {
	return cc != nil && cc.ExpectedColor != nil
}

// IsRanges reports whether the enumerated ranges variant applies.
func (cc *ColorConfig) IsRanges() bool {
	return cc != nil && len(cc.ColorRanges) > 0
}

// ROI is the canonical record describing one region to inspect. All
// fields are fixed at normalization time; executors never mutate it.
type ROI struct {
	Idx             int
	Type            Type
	Coords          Coords
	Focus           int
	Exposure        int
	AIThreshold     *float64 // required iff Type == TypeCompare
	FeatureMethod   string   // "mobilenet", "opencv", "barcode", "ocr"
	Rotation        int      // degrees applied to the crop before processing
	DeviceLocation  int
	ExpectedText    *string // consulted iff Type == TypeOCR
	IsDeviceBarcode *bool   // consulted iff Type == TypeBarcode
	ColorConfig     *ColorConfig
}

// GroupKey is the capture-settings tuple used to share one decoded
// frame across ROIs.
type GroupKey struct {
	Focus    int
	Exposure int
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%d_%d", k.Focus, k.Exposure)
}

// Group returns the ROI's capture group key.
func (r *ROI) Group() GroupKey {
	return GroupKey{Focus: r.Focus, Exposure: r.Exposure}
}

// Validate enforces the type-specific required fields. A config that
// fails here is rejected before any inspection work starts.
func (r *ROI) Validate() error {
	if r.Idx <= 0 {
		return fmt.Errorf("roi idx must be positive (got %d)", r.Idx)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("roi %d: unknown type %d", r.Idx, int(r.Type))
	}
	if r.Coords.X1 >= r.Coords.X2 || r.Coords.Y1 >= r.Coords.Y2 {
		return fmt.Errorf("roi %d: degenerate coords [%d,%d,%d,%d]",
			r.Idx, r.Coords.X1, r.Coords.Y1, r.Coords.X2, r.Coords.Y2)
	}
	if r.Focus < 0 || r.Exposure < 0 {
		return fmt.Errorf("roi %d: focus/exposure must be non-negative", r.Idx)
	}
	if r.DeviceLocation <= 0 {
		return fmt.Errorf("roi %d: device_location must be positive (got %d)", r.Idx, r.DeviceLocation)
	}
	if r.Type == TypeCompare {
		if r.AIThreshold == nil {
			return fmt.Errorf("roi %d: ai_threshold is required for Compare ROIs", r.Idx)
		}
		if *r.AIThreshold < 0 || *r.AIThreshold > 1 {
			return fmt.Errorf("roi %d: ai_threshold %.4f outside [0,1]", r.Idx, *r.AIThreshold)
		}
	}
	if r.Type == TypeColor {
		cc := r.ColorConfig
		if cc == nil || (!cc.IsSimple() && !cc.IsRanges()) {
			return fmt.Errorf("roi %d: color ROI needs a color_config (simple or ranges variant)", r.Idx)
		}
		if cc.IsSimple() && cc.IsRanges() {
			return fmt.Errorf("roi %d: color_config must carry exactly one variant", r.Idx)
		}
		for i, cr := range cc.ColorRanges {
			if cr.ColorSpace != "RGB" && cr.ColorSpace != "HSV" {
				return fmt.Errorf("roi %d: color range %d: color_space must be RGB or HSV (got %q)", r.Idx, i, cr.ColorSpace)
			}
			if cr.Name == "" {
				return fmt.Errorf("roi %d: color range %d: name is required", r.Idx, i)
			}
		}
	}
	return nil
}
