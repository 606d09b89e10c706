package indicators

import (
	"context"
	"fmt"
	"strings"

	"cryptop/internal/domain"
)

// MovingAverageType defines the type of moving average
type MovingAverageType string

const (
	// SimpleMovingAverage represents a simple moving average
	SimpleMovingAverage MovingAverageType = "SMA"
	// ExponentialMovingAverage represents an exponential moving average
	ExponentialMovingAverage MovingAverageType = "EMA"
)

// ParseMovingAverageType accepts "sma"/"ema" in any case.
func ParseMovingAverageType(s string) (MovingAverageType, error) {
	switch MovingAverageType(strings.ToUpper(strings.TrimSpace(s))) {
	case SimpleMovingAverage:
		return SimpleMovingAverage, nil
	case ExponentialMovingAverage:
		return ExponentialMovingAverage, nil
	default:
		return "", fmt.Errorf("unsupported moving average type: %q", s)
	}
}

// MovingAverageConfig holds configuration for moving average overlays
type MovingAverageConfig struct {
	Period int
	Type   MovingAverageType
}

// MovingAverage draws an SMA or EMA line over kline close prices.
type MovingAverage struct {
	config MovingAverageConfig
}

// NewMovingAverage creates a new moving average overlay.
func NewMovingAverage(config MovingAverageConfig) (*MovingAverage, error) {
	if config.Period <= 0 {
		return nil, fmt.Errorf("moving average period must be positive, got %d", config.Period)
	}
	if config.Type != SimpleMovingAverage && config.Type != ExponentialMovingAverage {
		return nil, fmt.Errorf("unsupported moving average type: %s", config.Type)
	}
	return &MovingAverage{config: config}, nil
}

// Name returns a chart label such as "SMA(20)".
func (m *MovingAverage) Name() string {
	return fmt.Sprintf("%s(%d)", m.config.Type, m.config.Period)
}

// RequiredDataPoints returns the minimum number of klines needed for the first point.
func (m *MovingAverage) RequiredDataPoints() int {
	return m.config.Period
}

// Line returns one point per kline from index Period-1 on, placed at the kline's close time.
func (m *MovingAverage) Line(ctx context.Context, klines []*domain.Kline) ([]domain.PlotPoint, error) {
	period := m.config.Period
	if len(klines) < period {
		return nil, fmt.Errorf("not enough data (%d) to calculate %s for period %d", len(klines), m.config.Type, period)
	}

	out := make([]domain.PlotPoint, 0, len(klines)-period+1)
	point := func(i int, v float64) domain.PlotPoint {
		return domain.PlotPoint{Time: float64(klines[i].CloseTime.UnixMilli()), Price: v}
	}

	// Seed with the SMA of the first window; EMA continues from it.
	total := 0.0
	for i := 0; i < period; i++ {
		total += klines[i].Close
	}
	value := total / float64(period)
	out = append(out, point(period-1, value))

	multiplier := 2.0 / float64(period+1)
	for i := period; i < len(klines); i++ {
		switch m.config.Type {
		case SimpleMovingAverage:
			total += klines[i].Close - klines[i-period].Close
			value = total / float64(period)
		case ExponentialMovingAverage:
			value = (klines[i].Close-value)*multiplier + value
		}
		out = append(out, point(i, value))
	}
	return out, nil
}
