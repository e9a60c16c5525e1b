package roi

import (
	"encoding/json"
	"fmt"
)

// objectForm mirrors the keyed JSON layout of a v3.2 ROI record.
// Unknown fields are ignored; missing optional fields stay absent.
type objectForm struct {
	Idx             int          `json:"idx"`
	Type            int          `json:"type"`
	Coords          []int        `json:"coords"`
	Focus           int          `json:"focus"`
	Exposure        int          `json:"exposure"`
	AIThreshold     *float64     `json:"ai_threshold"`
	FeatureMethod   string       `json:"feature_method"`
	Rotation        int          `json:"rotation"`
	DeviceLocation  int          `json:"device_location"`
	ExpectedText    *string      `json:"expected_text"`
	IsDeviceBarcode *bool        `json:"is_device_barcode"`
	ColorConfig     *ColorConfig `json:"color_config"`
}

// tupleOrder is the positional layout of the legacy tuple form:
// [idx, type, coords, focus, exposure, ai_threshold, feature_method,
//  rotation, device_location, expected_text, is_device_barcode,
//  color_config]. Short tuples are tolerated; trailing extras ignored.

// Normalize parses one ROI record in either object or tuple form into
// the canonical record and validates it.
func Normalize(raw json.RawMessage) (*ROI, error) {
	r, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Parse decodes a record without validating it. LoadProduct uses this
// so legacy per-product color ranges can be backfilled before the
// validation pass.
func Parse(raw json.RawMessage) (*ROI, error) {
	switch firstNonSpace(raw) {
	case '{':
		return parseObject(raw)
	case '[':
		return parseTuple(raw)
	default:
		return nil, fmt.Errorf("roi record must be a JSON object or array")
	}
}

// ParseAll decodes a JSON array of ROI records without validation,
// rejecting duplicate idx values. The error names the offending record
// so broken configs fail fast and loud.
func ParseAll(data []byte) ([]*ROI, error) {
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("roi config is not a JSON array: %w", err)
	}
	rois := make([]*ROI, 0, len(records))
	seen := make(map[int]bool, len(records))
	for i, rec := range records {
		r, err := Parse(rec)
		if err != nil {
			return nil, fmt.Errorf("roi config record %d: %w", i, err)
		}
		if seen[r.Idx] {
			return nil, fmt.Errorf("roi config record %d: duplicate idx %d", i, r.Idx)
		}
		seen[r.Idx] = true
		rois = append(rois, r)
	}
	return rois, nil
}

// NormalizeAll parses and validates a JSON array of ROI records.
func NormalizeAll(data []byte) ([]*ROI, error) {
	rois, err := ParseAll(data)
	if err != nil {
		return nil, err
	}
	for _, r := range rois {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}
	return rois, nil
}

func parseObject(raw json.RawMessage) (*ROI, error) {
	var o objectForm
	if err := json.Unmarshal(raw, &o); err != nil {
		return nil, fmt.Errorf("parsing object-form roi: %w", err)
	}
	coords, err := coordsFromSlice(o.Coords)
	if err != nil {
		return nil, err
	}
	r := &ROI{
		Idx:             o.Idx,
		Type:            Type(o.Type),
		Coords:          coords,
		Focus:           o.Focus,
		Exposure:        o.Exposure,
		AIThreshold:     o.AIThreshold,
		FeatureMethod:   o.FeatureMethod,
		Rotation:        o.Rotation,
		DeviceLocation:  o.DeviceLocation,
		ExpectedText:    o.ExpectedText,
		IsDeviceBarcode: o.IsDeviceBarcode,
		ColorConfig:     o.ColorConfig,
	}
	applyDefaults(r)
	return r, nil
}

func parseTuple(raw json.RawMessage) (*ROI, error) {
	var fields []json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("parsing tuple-form roi: %w", err)
	}
	r := &ROI{}

	get := func(i int, dst interface{}) error {
		if i >= len(fields) || string(fields[i]) == "null" {
			return nil
		}
		if err := json.Unmarshal(fields[i], dst); err != nil {
			return fmt.Errorf("tuple field %d: %w", i, err)
		}
		return nil
	}

	var typ int
	var coords []int
	if err := get(0, &r.Idx); err != nil {
		return nil, err
	}
	if err := get(1, &typ); err != nil {
		return nil, err
	}
	if err := get(2, &coords); err != nil {
		return nil, err
	}
	if err := get(3, &r.Focus); err != nil {
		return nil, err
	}
	if err := get(4, &r.Exposure); err != nil {
		return nil, err
	}
	if err := get(5, &r.AIThreshold); err != nil {
		return nil, err
	}
	if err := get(6, &r.FeatureMethod); err != nil {
		return nil, err
	}
	if err := get(7, &r.Rotation); err != nil {
		return nil, err
	}
	if err := get(8, &r.DeviceLocation); err != nil {
		return nil, err
	}
	if err := get(9, &r.ExpectedText); err != nil {
		return nil, err
	}
	if err := get(10, &r.IsDeviceBarcode); err != nil {
		return nil, err
	}
	if err := get(11, &r.ColorConfig); err != nil {
		return nil, err
	}
	r.Type = Type(typ)

	c, err := coordsFromSlice(coords)
	if err != nil {
		return nil, err
	}
	r.Coords = c

	applyDefaults(r)
	return r, nil
}

func applyDefaults(r *ROI) {
	if r.DeviceLocation == 0 {
		r.DeviceLocation = 1
	}
	if r.FeatureMethod == "" {
		switch r.Type {
		case TypeBarcode:
			r.FeatureMethod = "barcode"
		case TypeOCR:
			r.FeatureMethod = "ocr"
		default:
			r.FeatureMethod = "opencv"
		}
	}
}

func coordsFromSlice(s []int) (Coords, error) {
	if len(s) < 4 {
		return Coords{}, fmt.Errorf("coords need 4 values x1,y1,x2,y2 (got %d)", len(s))
	}
	return Coords{X1: s[0], Y1: s[1], X2: s[2], Y2: s[3]}, nil
}

func firstNonSpace(raw []byte) byte {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}
