package domain

import "time"

// PlotPoint is one (x, y) pair of the price chart.
// Time is the candle close time in unix milliseconds.
type PlotPoint struct {
	Time  float64
	Price float64
}

// Snapshot is a read-only copy of the chart state handed from the update task
// to the render task. Nothing in it aliases the live series.
type Snapshot struct {
	Symbol      string
	Interval    string
	Price       float64
	Klines      []Kline
	Plot        []PlotPoint
	Overlay     []PlotPoint // moving-average line, empty when disabled
	OverlayName string
	MinPrice    float64
	MaxPrice    float64
	TakenAt     time.Time
}

// TimeBounds returns the first and last plot timestamps (x-axis bounds).
func (s Snapshot) TimeBounds() (float64, float64) {
	if len(s.Plot) == 0 {
		return 0, 0
	}
	return s.Plot[0].Time, s.Plot[len(s.Plot)-1].Time
}

// Empty reports whether the snapshot carries any chart data.
func (s Snapshot) Empty() bool {
	return len(s.Plot) == 0
}
