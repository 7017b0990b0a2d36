package enrich

import (
	"strconv"
	"strings"
)

// decimals returns the number of fractional digits needed to represent
// m losslessly: decimals(0.1)=1, decimals(0.001)=3, decimals(1.0)=0
// (spec §8 boundary behaviors), ported from _calculate_decimal_places.
func decimals(m float64) int {
	s := strconv.FormatFloat(m, 'f', -1, 64)
	dot := strings.IndexByte(s, '.')
	if dot < 0 {
		return 0
	}
	return len(s) - dot - 1
}

// formatValue renders v either as an integer (digital IO with no
// effective multiplier) or to exactly `decimals(multiplier)` places.
func formatValue(v float64, multiplier float64, digital bool) string {
	if digital && multiplier == 1.0 {
		return strconv.FormatInt(int64(v), 10)
	}
	return strconv.FormatFloat(v, 'f', decimals(multiplier), 64)
}

// dallasSentinels maps Dallas 1-wire temperature sensor error codes to
// their meaning; any match means "emit empty" (spec §4.5 step 5).
var dallasSentinels = map[int64]string{
	850:  "not-ready",
	5000: "not-ready",
	2000: "read-error",
	3000: "disconnected",
	4000: "id-failed",
}

// bleSentinels maps BLE temperature/humidity sensor error codes.
var bleSentinels = map[int64]string{
	4000: "abnormal",
	3000: "not-found",
	2000: "parse-fail",
}

// temperatureSentinel reports whether raw is a known error sentinel for
// an IO property whose name marks it as a temperature reading. The name
// picks the sentinel table: "dallas" uses dallasSentinels, "ble" uses
// bleSentinels, and any other temperature name is never flagged.
func temperatureSentinel(ioName string, raw int64) (isError bool) {
	lower := strings.ToLower(ioName)
	if !strings.Contains(lower, "temperature") {
		return false
	}
	if strings.Contains(lower, "dallas") {
		_, isError = dallasSentinels[raw]
		return isError
	}
	if strings.Contains(lower, "ble") {
		_, isError = bleSentinels[raw]
		return isError
	}
	return false
}
