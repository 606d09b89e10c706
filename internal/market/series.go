package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cryptop/internal/domain"
	"cryptop/internal/ports"
)

const (
	// InitialCandleNum is the size of the window fetched at bootstrap.
	InitialCandleNum = 32
	// maxSeriesLen bounds memory for long-running processes; oldest klines are dropped first.
	maxSeriesLen = 5000
)

// Overlay computes an extra chart line from the series, e.g. a moving average.
type Overlay interface {
	Name() string
	Line(ctx context.Context, klines []*domain.Kline) ([]domain.PlotPoint, error)
}

// Config holds the dependencies and validated settings of a Series.
type Config struct {
	Source   ports.MarketSource
	Logger   ports.Logger
	Symbol   string
	Interval string  // e.g. "15m"
	Overlay  Overlay // optional
}

// Series owns the rolling kline window, the current price and the
// synchronization flag. It is not safe for concurrent use: one goroutine
// calls Update and hands Snapshot copies to readers.
type Series struct {
	source   ports.MarketSource
	logger   ports.Logger
	symbol   string
	interval domain.CandleInterval
	overlay  Overlay

	price  float64
	klines []*domain.Kline

	// receivedNewKline is true once the current boundary has been serviced.
	receivedNewKline bool
}

// NewSeries fetches the current price and the initial kline window.
// Both fetches must succeed.
func NewSeries(ctx context.Context, cfg Config) (*Series, error) {
	if cfg.Source == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("market source and logger are required for Series")
	}
	if cfg.Symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ports.ErrConfigurationError)
	}
	interval, err := domain.ParseInterval(cfg.Interval)
	if err != nil {
		return nil, err
	}

	price, err := cfg.Source.GetTickerPrice(ctx, cfg.Symbol)
	if err != nil {
		return nil, fetchErr("bootstrap price", err)
	}

	klines, err := cfg.Source.GetKlines(ctx, cfg.Symbol, interval.String(), InitialCandleNum)
	if err != nil {
		return nil, fetchErr("bootstrap klines", err)
	}
	if len(klines) == 0 {
		return nil, fetchErr("bootstrap klines", fmt.Errorf("%w for %s %s", ports.ErrNoData, cfg.Symbol, interval))
	}
	window := make([]*domain.Kline, 0, len(klines))
	for i, k := range klines {
		if k == nil {
			return nil, fetchErr("bootstrap klines", fmt.Errorf("%w: nil kline at index %d", ports.ErrMalformedResponse, i))
		}
		if i > 0 && !k.OpenTime.After(klines[i-1].OpenTime) {
			return nil, fetchErr("bootstrap klines", fmt.Errorf("%w: open times not strictly increasing at index %d", ports.ErrMalformedResponse, i))
		}
		c := *k
		window = append(window, &c)
	}

	s := &Series{
		source:           cfg.Source,
		logger:           cfg.Logger,
		symbol:           cfg.Symbol,
		interval:         interval,
		overlay:          cfg.Overlay,
		price:            price,
		klines:           window,
		receivedNewKline: true, // the window is fresh, no boundary pending
	}
	s.logger.Info(ctx, "Candle series initialized", map[string]interface{}{
		"symbol":   s.symbol,
		"interval": s.interval.String(),
		"klines":   len(s.klines),
		"price":    s.price,
	})
	return s, nil
}

// Update runs one synchronization step for the tick at now and refreshes the
// current price. It returns the kline merged during this tick, if any; the
// kline is returned even when the price refresh afterwards fails.
//
// Candles are synced first. A failed candle fetch returns before the price is
// refreshed, so the whole tick is skipped and the next tick retries both.
func (s *Series) Update(ctx context.Context, now time.Time) (*domain.Kline, error) {
	merged, err := s.syncKlines(ctx, now)
	if err != nil {
		return nil, err
	}

	price, err := s.source.GetTickerPrice(ctx, s.symbol)
	if err != nil {
		return merged, fetchErr("refresh price", err)
	}
	s.price = price
	return merged, nil
}

// syncKlines is the edge-triggered detector. The flag turns the level signal
// "inside a boundary stretch" into a single fetch-and-merge per boundary, and
// keeps retrying within the stretch while the exchange still reports the old
// candle as the latest one.
func (s *Series) syncKlines(ctx context.Context, now time.Time) (*domain.Kline, error) {
	if !atBoundary(s.interval, now) {
		if s.receivedNewKline {
			s.receivedNewKline = false
			s.logger.Debug(ctx, "Boundary passed, detector re-armed", map[string]interface{}{"now": now})
		}
		return nil, nil
	}
	if s.receivedNewKline {
		return nil, nil
	}

	latest, err := s.source.GetKlines(ctx, s.symbol, s.interval.String(), 1)
	if err != nil {
		return nil, fetchErr("fetch latest kline", err)
	}
	if len(latest) == 0 || latest[len(latest)-1] == nil {
		return nil, fetchErr("fetch latest kline", fmt.Errorf("%w for %s %s", ports.ErrNoData, s.symbol, s.interval))
	}
	candidate := latest[len(latest)-1]
	last := s.klines[len(s.klines)-1]

	if candidate.SameCandle(last) {
		s.logger.Debug(ctx, "Latest kline not finalized yet, retrying next tick", map[string]interface{}{
			"openTime": last.OpenTime,
		})
		return nil, nil
	}
	if candidate.OpenTime.Before(last.OpenTime) {
		s.logger.Warn(ctx, "Exchange returned a kline older than the series tail, ignoring", map[string]interface{}{
			"openTime":     candidate.OpenTime,
			"lastOpenTime": last.OpenTime,
		})
		return nil, nil
	}

	k := *candidate
	s.klines = append(s.klines, &k)
	if len(s.klines) > maxSeriesLen {
		s.klines = s.klines[len(s.klines)-maxSeriesLen:]
	}
	s.receivedNewKline = true
	s.logger.Info(ctx, "Received new kline", map[string]interface{}{
		"openTime":      k.OpenTime,
		"previousClose": last.Close,
		"klines":        len(s.klines),
	})

	out := k
	return &out, nil
}

// Price returns the last fetched price.
func (s *Series) Price() float64 { return s.price }

// Interval returns the parsed candle interval.
func (s *Series) Interval() domain.CandleInterval { return s.interval }

// Symbol returns the tracked trading pair.
func (s *Series) Symbol() string { return s.symbol }

// ReceivedNewKline exposes the synchronization flag.
func (s *Series) ReceivedNewKline() bool { return s.receivedNewKline }

// Len returns the number of klines in the series.
func (s *Series) Len() int { return len(s.klines) }

// Klines returns a copy of the series, oldest first.
func (s *Series) Klines() []*domain.Kline {
	out := make([]*domain.Kline, len(s.klines))
	for i, k := range s.klines {
		c := *k
		out[i] = &c
	}
	return out
}

// Snapshot computes the derived views and copies everything a renderer needs.
func (s *Series) Snapshot(ctx context.Context, takenAt time.Time) domain.Snapshot {
	klines := s.Klines()
	min, max := MinMaxPrice(klines)

	snap := domain.Snapshot{
		Symbol:   s.symbol,
		Interval: s.interval.String(),
		Price:    s.price,
		Klines:   make([]domain.Kline, len(klines)),
		Plot:     PlotProjection(klines),
		MinPrice: min,
		MaxPrice: max,
		TakenAt:  takenAt,
	}
	for i, k := range klines {
		snap.Klines[i] = *k
	}

	if s.overlay != nil {
		line, err := s.overlay.Line(ctx, klines)
		if err != nil {
			s.logger.Debug(ctx, "Overlay unavailable", map[string]interface{}{"overlay": s.overlay.Name(), "error": err.Error()})
		} else {
			snap.Overlay = line
			snap.OverlayName = s.overlay.Name()
		}
	}
	return snap
}

// fetchErr tags a MarketSource failure as a fetch error exactly once.
func fetchErr(op string, err error) error {
	if errors.Is(err, ports.ErrFetchFailed) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ports.ErrFetchFailed, err)
}
