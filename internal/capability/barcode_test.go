package capability

import (
	"image"
	"image/color"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func qrImage(t *testing.T, content string) image.Image {
	t.Helper()
	matrix, err := qrcode.NewQRCodeWriter().Encode(
		content, gozxing.BarcodeFormat_QR_CODE, 128, 128, nil)
	require.NoError(t, err)

	img := image.NewGray(image.Rect(0, 0, matrix.GetWidth(), matrix.GetHeight()))
	for y := 0; y < matrix.GetHeight(); y++ {
		for x := 0; x < matrix.GetWidth(); x++ {
			if matrix.Get(x, y) {
				img.SetGray(x, y, color.Gray{Y: 0})
			} else {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	return img
}

func TestZXingDecoderRoundTripsQR(t *testing.T) {
	dec := NewZXingDecoder()

	values, err := dec.Decode(qrImage(t, "SN-12345"))
	require.NoError(t, err)
	assert.Equal(t, []string{"SN-12345"}, values)
}

func TestZXingDecoderBlankCropIsEmptyNotError(t *testing.T) {
	dec := NewZXingDecoder()

	values, err := dec.Decode(imaging.New(64, 64, color.NRGBA{R: 255, G: 255, B: 255, A: 255}))
	require.NoError(t, err)
	assert.Empty(t, values)
}
