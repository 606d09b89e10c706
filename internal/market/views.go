package market

import "cryptop/internal/domain"

// MinMaxPrice scans close prices and returns the lowest and highest.
// Both checks run for every kline, so the first close can set the maximum too.
// An empty slice yields (0, 0).
func MinMaxPrice(klines []*domain.Kline) (float64, float64) {
	if len(klines) == 0 {
		return 0, 0
	}
	min, max := klines[0].Close, klines[0].Close
	for _, k := range klines[1:] {
		if k.Close < min {
			min = k.Close
		}
		if k.Close > max {
			max = k.Close
		}
	}
	return min, max
}

// PlotProjection maps each kline to (close time in unix ms, close price), in order.
func PlotProjection(klines []*domain.Kline) []domain.PlotPoint {
	out := make([]domain.PlotPoint, 0, len(klines))
	for _, k := range klines {
		out = append(out, domain.PlotPoint{
			Time:  float64(k.CloseTime.UnixMilli()),
			Price: k.Close,
		})
	}
	return out
}
