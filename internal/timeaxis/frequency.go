package timeaxis

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FrequencyStatic marks a file holding a single, unaveraged time value.
const FrequencyStatic = "static"

// InferFrequency derives an output frequency label from the spacing of the
// first time interval, following the original heuristic: the averaging
// period when bounds are present, the spacing of time values otherwise.
func InferFrequency(deltaDays float64) string {
	switch {
	case deltaDays >= 365:
		return fmt.Sprintf("%d yearly", int(math.Round(deltaDays/365)))
	case deltaDays >= 28:
		return fmt.Sprintf("%d monthly", int(math.Round(deltaDays/30)))
	case deltaDays >= 1:
		return fmt.Sprintf("%d daily", int(deltaDays))
	default:
		return fmt.Sprintf("%d hourly", int(deltaDays*24))
	}
}

// FrequencyHours returns the approximate interval of a frequency label in
// hours, used to order frequencies from finest to coarsest. Static and
// unknown frequencies sort last.
func FrequencyHours(freq string) float64 {
	fields := strings.Fields(freq)
	if len(fields) != 2 {
		return math.Inf(1)
	}

	n, err := strconv.Atoi(fields[0])
	if err != nil || n <= 0 {
		return math.Inf(1)
	}

	switch fields[1] {
	case "hourly":
		return float64(n)
	case "daily":
		return float64(n) * 24
	case "monthly":
		return float64(n) * 24 * 30
	case "yearly":
		return float64(n) * 24 * 365
	default:
		return math.Inf(1)
	}
}

// FinerFrequency reports whether a is a strictly finer output frequency
// than b (shorter interval between samples).
func FinerFrequency(a, b string) bool {
	return FrequencyHours(a) < FrequencyHours(b)
}
