// Package capability wraps the pluggable perception engines (barcode
// decoding, OCR, and feature extraction) behind small interfaces so
// the executors stay testable and the engines swappable.
package capability

import (
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// BarcodeDecoder decodes zero or more symbologies from an image crop.
// Implementations return decoded strings as a list, never a
// stringified representation of one.
type BarcodeDecoder interface {
	Decode(img image.Image) ([]string, error)
}

// ZXingDecoder decodes 1D symbologies and QR codes with gozxing.
// Formats follow what gozxing v0.1.1 ships: CODE_128, CODE_39, EAN_13,
// EAN_8, ITF, QR_CODE.
type ZXingDecoder struct {
	readers []gozxing.Reader
}

// NewZXingDecoder builds a decoder trying every supported symbology.
func NewZXingDecoder() *ZXingDecoder {
	return &ZXingDecoder{
		readers: []gozxing.Reader{
			oned.NewCode128Reader(),
			oned.NewCode39Reader(),
			oned.NewEAN13Reader(),
			oned.NewEAN8Reader(),
			oned.NewITFReader(),
			qrcode.NewQRCodeReader(),
		},
	}
}

// Decode runs each symbology reader over the crop and returns the
// distinct decoded values in first-seen order. An empty result with a
// nil error means no barcode was present.
func (d *ZXingDecoder) Decode(img image.Image) ([]string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return nil, err
	}

	var values []string
	seen := make(map[string]bool)
	for _, reader := range d.readers {
		result, err := reader.Decode(bmp, nil)
		if err != nil {
			// NotFoundException and friends just mean this symbology
			// is absent in the crop.
			continue
		}
		text := result.GetText()
		if text == "" || seen[text] {
			continue
		}
		seen[text] = true
		values = append(values, text)
	}
	return values, nil
}
