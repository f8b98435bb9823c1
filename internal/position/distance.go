package position

import (
	"math"

	"smartcrowd.klederson.com/internal/calibration"
	"smartcrowd.klederson.com/internal/config"
)

// Distances holds the estimated range to each anchor in meters.
type Distances struct {
	A1 float64 `json:"A1"`
	A2 float64 `json:"A2"`
	A3 float64 `json:"A3"`
}

// Distance estimates range from RSSI using the log-distance path loss model.
// Formula: d = 10^((rssiAt1m - rssi) / (10 * n)), clamped to [0.1, 20] m.
// Non-negative RSSI is physically invalid and yields 0, as does any
// computation that has no numeric answer (zero or NaN exponent, NaN input).
func Distance(rssi, rssiAt1m, pathLossExp float64) float64 {
	if rssi >= 0 || pathLossExp == 0 {
		return 0
	}
	exp := (rssiAt1m - rssi) / (10 * pathLossExp)
	if math.IsNaN(exp) {
		return 0
	}
	d := math.Pow(10, exp)
	if math.IsNaN(d) {
		return 0
	}
	return clamp(d, config.MinDistance, config.MaxDistance)
}

// EstimateDistances converts the three anchor readings using each anchor's
// calibration. Results are rounded to centimeters.
func EstimateDistances(rssi1, rssi2, rssi3 float64, t calibration.Table) Distances {
	return Distances{
		A1: Round(Distance(rssi1, t.A1.RSSIAt1m, t.A1.PathLossExp), 2),
		A2: Round(Distance(rssi2, t.A2.RSSIAt1m, t.A2.PathLossExp), 2),
		A3: Round(Distance(rssi3, t.A3.RSSIAt1m, t.A3.PathLossExp), 2),
	}
}

// Round rounds v to the given number of decimal places, half away from zero.
// Values too large to scale are already integral and come back unchanged.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	scaled := v * p
	if math.IsInf(scaled, 0) || math.IsNaN(scaled) {
		return v
	}
	return math.Round(scaled) / p
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
