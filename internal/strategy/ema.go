package strategy

// ema returns the exponential moving average of the series at its last
// point, seeded with the simple average of the first period values. Returns
// false when the series is shorter than the period.
func ema(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}

	var seed float64
	for _, value := range values[:period] {
		seed += value
	}
	seed /= float64(period)

	k := 2.0 / (float64(period) + 1.0)
	current := seed
	for _, value := range values[period:] {
		current = value*k + current*(1-k)
	}

	return current, true
}
