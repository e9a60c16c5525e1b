package inspection

import (
	"image"
	"math"

	"github.com/visual-aoi/backend/internal/roi"
)

// MatchColor evaluates a rotated crop against a color config and
// returns the payload plus the verdict. The config carries exactly one
// variant; validation upstream guarantees that.
func MatchColor(crop image.Image, cc *roi.ColorConfig) (*ColorResult, bool) {
	if cc.IsSimple() {
		return matchSimple(crop, cc)
	}
	return matchRanges(crop, cc)
}

func matchSimple(crop image.Image, cc *roi.ColorConfig) (*ColorResult, bool) {
	target := *cc.ExpectedColor
	tol := 0.0
	if cc.ColorTolerance != nil {
		tol = *cc.ColorTolerance
	}
	threshold := 0.0
	if cc.MinPixelPercentage != nil {
		threshold = *cc.MinPixelPercentage
	}

	var lo, hi [3]float64
	for i := 0; i < 3; i++ {
		lo[i] = clamp255(float64(target[i]) - tol)
		hi[i] = clamp255(float64(target[i]) + tol)
	}

	bounds := crop.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return &ColorResult{DetectedColor: "target", Threshold: threshold}, false
	}

	var matched int
	var matchSum, allSum [3]float64
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b := rgb8(crop.At(x, y).RGBA())
			allSum[0] += r
			allSum[1] += g
			allSum[2] += b
			if r >= lo[0] && r <= hi[0] && g >= lo[1] && g <= hi[1] && b >= lo[2] && b <= hi[2] {
				matched++
				matchSum[0] += r
				matchSum[1] += g
				matchSum[2] += b
			}
		}
	}

	pct := 100 * float64(matched) / float64(total)
	res := &ColorResult{
		DetectedColor:      "target",
		MatchPercentage:    pct,
		MatchPercentageRaw: pct,
		Threshold:          threshold,
	}
	// Dominant color: mean of matching pixels, or the overall mean when
	// nothing matched.
	if matched > 0 {
		res.DominantColor = meanRGB(matchSum, matched)
	} else {
		res.DominantColor = meanRGB(allSum, total)
	}
	return res, pct >= threshold
}

func matchRanges(crop image.Image, cc *roi.ColorConfig) (*ColorResult, bool) {
	bounds := crop.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return &ColorResult{DetectedColor: "Unknown"}, false
	}

	// Per-name aggregation: raw percentages of ranges sharing a name
	// are summed, so the sum may exceed 100 when ranges overlap.
	sums := make(map[string]float64, len(cc.ColorRanges))
	thresholds := make(map[string]float64, len(cc.ColorRanges))
	var anySum [3]float64
	anyCount := 0

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b := rgb8(crop.At(x, y).RGBA())
			h, s, v := rgbToHSV(r, g, b)
			inAny := false
			for _, cr := range cc.ColorRanges {
				var px [3]float64
				if cr.ColorSpace == "HSV" {
					px = [3]float64{h, s, v}
				} else {
					px = [3]float64{r, g, b}
				}
				if inRange(px, cr.Lower, cr.Upper) {
					sums[cr.Name] += 100 / float64(total)
					inAny = true
				}
			}
			if inAny {
				anyCount++
				anySum[0] += r
				anySum[1] += g
				anySum[2] += b
			}
		}
	}
	for _, cr := range cc.ColorRanges {
		thresholds[cr.Name] = cr.Threshold
	}

	winner, winnerSum := "", 0.0
	for name, sum := range sums {
		if sum > winnerSum || (sum == winnerSum && winner == "") {
			winner, winnerSum = name, sum
		}
	}

	if winner == "" || winnerSum == 0 {
		res := &ColorResult{DetectedColor: "Unknown"}
		if anyCount == 0 {
			res.DominantColor = [3]int{0, 0, 0}
		}
		return res, false
	}

	res := &ColorResult{
		DetectedColor:      winner,
		MatchPercentage:    math.Min(100, winnerSum),
		MatchPercentageRaw: winnerSum,
		Threshold:          thresholds[winner],
	}
	if anyCount > 0 {
		res.DominantColor = meanRGB(anySum, anyCount)
	}
	return res, res.MatchPercentage >= res.Threshold
}

func inRange(px, lo, hi [3]float64) bool {
	for i := 0; i < 3; i++ {
		if px[i] < lo[i] || px[i] > hi[i] {
			return false
		}
	}
	return true
}

func rgb8(r, g, b, _ uint32) (float64, float64, float64) {
	return float64(r >> 8), float64(g >> 8), float64(b >> 8)
}

func meanRGB(sum [3]float64, n int) [3]int {
	return [3]int{
		int(math.Round(sum[0] / float64(n))),
		int(math.Round(sum[1] / float64(n))),
		int(math.Round(sum[2] / float64(n))),
	}
}

// rgbToHSV converts 8-bit RGB to the OpenCV HSV convention:
// H in [0,180), S and V in [0,255].
func rgbToHSV(r, g, b float64) (float64, float64, float64) {
	r, g, b = r/255, g/255, b/255
	max := math.Max(r, math.Max(g, b))
	min := math.Min(r, math.Min(g, b))
	delta := max - min

	v := max * 255
	var s float64
	if max > 0 {
		s = delta / max * 255
	}

	var h float64
	switch {
	case delta == 0:
		h = 0
	case max == r:
		h = 60 * (g - b) / delta
	case max == g:
		h = 60*(b-r)/delta + 120
	default:
		h = 60*(r-g)/delta + 240
	}
	if h < 0 {
		h += 360
	}
	return h / 2, s, v
}

func clamp255(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return v
}
