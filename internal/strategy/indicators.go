package strategy

// sma returns the simple moving average of the last window values, and false
// when fewer than window values exist.
func sma(prices []float64, window int) (float64, bool) {
	if window < 1 || len(prices) < window {
		return 0, false
	}
	sum := 0.0
	for _, p := range prices[len(prices)-window:] {
		sum += p
	}
	return sum / float64(window), true
}

// rsi computes the Relative Strength Index over the last window price
// changes using simple (unsmoothed) average gain and loss. It needs window+1
// prices; with fewer it returns the neutral 50.
func rsi(prices []float64, window int) float64 {
	if window < 1 || len(prices) < window+1 {
		return 50
	}
	recent := prices[len(prices)-window-1:]
	var gain, loss float64
	for i := 1; i < len(recent); i++ {
		delta := recent[i] - recent[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	if loss == 0 {
		if gain == 0 {
			return 50
		}
		return 100
	}
	rs := (gain / float64(window)) / (loss / float64(window))
	return 100 - 100/(1+rs)
}
