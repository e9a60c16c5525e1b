package roi

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ErrConfigInvalid marks any product configuration failure: a missing
// config file, a record that does not parse, or one that fails
// validation. The HTTP adapter maps it to a client error.
var ErrConfigInvalid = errors.New("product config invalid")

// Product is the on-disk inspection configuration for one product_id:
// its ROI list plus optional legacy per-product color ranges.
type Product struct {
	ID   string
	ROIs []*ROI
}

// legacyColors is the shape of colors_config_<product>.json. Newer
// configs embed ranges per-ROI; this file backfills Color ROIs that
// have none.
type legacyColors struct {
	ColorRanges []ColorRange `json:"color_ranges"`
}

// LoadProduct reads rois_config_<product>.json (and the legacy colors
// file, if present) from productsRoot. ROIs come back sorted by idx.
func LoadProduct(productsRoot, productID string) (*Product, error) {
	dir := filepath.Join(productsRoot, productID)
	cfgPath := filepath.Join(dir, fmt.Sprintf("rois_config_%s.json", productID))

	data, err := os.ReadFile(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("%w: product %s: reading roi config: %v", ErrConfigInvalid, productID, err)
	}
	rois, err := ParseAll(data)
	if err != nil {
		return nil, fmt.Errorf("%w: product %s: %v", ErrConfigInvalid, productID, err)
	}

	colorsPath := filepath.Join(dir, fmt.Sprintf("colors_config_%s.json", productID))
	if cdata, err := os.ReadFile(colorsPath); err == nil {
		var legacy legacyColors
		if err := json.Unmarshal(cdata, &legacy); err != nil {
			return nil, fmt.Errorf("%w: product %s: parsing legacy colors config: %v", ErrConfigInvalid, productID, err)
		}
		if len(legacy.ColorRanges) > 0 {
			for _, r := range rois {
				if r.Type == TypeColor && r.ColorConfig == nil {
					r.ColorConfig = &ColorConfig{ColorRanges: legacy.ColorRanges}
				}
			}
		}
	}

	// Validation happens after the backfill so a Color ROI fed by the
	// legacy file is not rejected for a missing embedded config.
	for _, r := range rois {
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("%w: product %s: %v", ErrConfigInvalid, productID, err)
		}
	}

	sort.Slice(rois, func(i, j int) bool { return rois[i].Idx < rois[j].Idx })
	return &Product{ID: productID, ROIs: rois}, nil
}
