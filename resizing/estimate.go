package resizing

import (
	"fmt"
	"math"
	"strconv"
)

var byteUnits = []string{"Bytes", "KB", "MB", "GB", "TB"}

// Ratio is the pixel count of target relative to original. It is 0 when the original size
// is unknown.
func Ratio(original, target Dimensions) float64 {
	if original.Width <= 0 || original.Height <= 0 {
		return 0
	}
	return float64(target.Width) * float64(target.Height) / (float64(original.Width) * float64(original.Height))
}

func EstimatedBytes(originalBytes int64, ratio float64) int64 {
	return int64(math.Round(float64(originalBytes) * ratio))
}

// ReductionPercent is positive when the result is smaller than the original.
func ReductionPercent(ratio float64) int {
	return int(math.Round((1 - ratio) * 100))
}

// FormatReduction renders a reduction as "-75%" or, for growth, "+20%".
func FormatReduction(percent int) string {
	if percent > 0 {
		return fmt.Sprintf("-%d%%", percent)
	}
	return fmt.Sprintf("+%d%%", -percent)
}

// FormatBytes renders n in 1024 steps with at most two decimals, e.g. "1.5 KB".
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	if i >= len(byteUnits) {
		i = len(byteUnits) - 1
	}
	v := math.Round(float64(n)/math.Pow(1024, float64(i))*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + byteUnits[i]
}
