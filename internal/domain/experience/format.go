package experience

import (
	"math"
	"strconv"
	"strings"
)

// FormatQuantity renders experience compactly: 1260000 -> "1.3M", 12345 -> "12.3K", 999.6 -> "1000".
func FormatQuantity(x float64) string {
	switch {
	case x < 0:
		return "<0"
	case x < 1_000:
		return strconv.FormatFloat(math.Round(x), 'f', 0, 64)
	case x < 1_000_000:
		return oneDecimal(x/1_000) + "K"
	default:
		return oneDecimal(x/1_000_000) + "M"
	}
}

func oneDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', 1, 64)
	return strings.TrimSuffix(s, ".0")
}
