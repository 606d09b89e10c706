package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptop/internal/domain"
	"cryptop/internal/ports"
)

// Mock implementations
type mockLogger struct {
	infoMsgs []string
	warnMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// stubSource serves a fixed bootstrap window and a scripted "latest" kline.
type stubSource struct {
	price    float64
	priceErr error

	initial   []*domain.Kline
	latest    func() *domain.Kline
	klinesErr error

	priceCalls     int
	klinesCalls    int
	lastLimit      int
	lastInterval   string
	initialFetches int
}

func (s *stubSource) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	s.priceCalls++
	return s.price, s.priceErr
}

func (s *stubSource) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	s.klinesCalls++
	s.lastLimit = limit
	s.lastInterval = interval
	if s.klinesErr != nil {
		return nil, s.klinesErr
	}
	if limit == InitialCandleNum {
		s.initialFetches++
		return s.initial, nil
	}
	if s.latest == nil {
		return nil, nil
	}
	return []*domain.Kline{s.latest()}, nil
}

var base = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

// makeKlines builds n ascending klines whose last one opens at lastOpen.
func makeKlines(n int, lastOpen time.Time, step time.Duration) []*domain.Kline {
	klines := make([]*domain.Kline, n)
	for i := 0; i < n; i++ {
		open := lastOpen.Add(-time.Duration(n-1-i) * step)
		klines[i] = kline(open, step, 100+float64(i))
	}
	return klines
}

func kline(open time.Time, step time.Duration, close float64) *domain.Kline {
	return &domain.Kline{
		OpenTime:  open,
		CloseTime: open.Add(step - time.Millisecond),
		Symbol:    "ETHUSDT",
		Interval:  "15m",
		Open:      close - 1,
		High:      close + 1,
		Low:       close - 2,
		Close:     close,
		Volume:    10,
	}
}

func newTestSeries(t *testing.T, src *stubSource) *Series {
	t.Helper()
	s, err := NewSeries(context.Background(), Config{
		Source:   src,
		Logger:   &mockLogger{},
		Symbol:   "ETHUSDT",
		Interval: "15m",
	})
	require.NoError(t, err)
	return s
}

func at(h, m, sec int) time.Time {
	return time.Date(2024, 3, 4, h, m, sec, 0, time.UTC)
}

func TestNewSeries_Bootstrap(t *testing.T) {
	src := &stubSource{price: 100.5, initial: makeKlines(32, base, 15*time.Minute)}
	s := newTestSeries(t, src)

	assert.Equal(t, 32, s.Len())
	assert.Equal(t, 100.5, s.Price())
	assert.True(t, s.ReceivedNewKline())
	assert.Equal(t, domain.CandleInterval{Unit: domain.UnitMinute, Magnitude: 15}, s.Interval())
	assert.Equal(t, "15m", src.lastInterval)
	assert.Equal(t, 1, src.priceCalls)
	assert.Equal(t, 1, src.klinesCalls)

	plot := PlotProjection(s.Klines())
	require.Len(t, plot, 32)
	for i, k := range src.initial {
		assert.Equal(t, float64(k.CloseTime.UnixMilli()), plot[i].Time)
		assert.Equal(t, k.Close, plot[i].Price)
	}
}

func TestNewSeries_Errors(t *testing.T) {
	fetchFailure := errors.New("connection reset by peer")
	descending := makeKlines(3, base, 15*time.Minute)
	descending[1], descending[2] = descending[2], descending[1]

	tests := []struct {
		name     string
		src      *stubSource
		interval string
		wantErr  error
	}{
		{
			name:     "malformed interval",
			src:      &stubSource{price: 1, initial: makeKlines(2, base, time.Minute)},
			interval: "abc",
			wantErr:  ports.ErrInvalidInterval,
		},
		{
			name:     "price fetch fails",
			src:      &stubSource{priceErr: fetchFailure, initial: makeKlines(2, base, time.Minute)},
			interval: "15m",
			wantErr:  ports.ErrFetchFailed,
		},
		{
			name:     "kline fetch fails",
			src:      &stubSource{price: 1, klinesErr: fetchFailure},
			interval: "15m",
			wantErr:  ports.ErrFetchFailed,
		},
		{
			name:     "empty window",
			src:      &stubSource{price: 1},
			interval: "15m",
			wantErr:  ports.ErrNoData,
		},
		{
			name:     "window out of order",
			src:      &stubSource{price: 1, initial: descending},
			interval: "15m",
			wantErr:  ports.ErrMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSeries(context.Background(), Config{
				Source:   tt.src,
				Logger:   &mockLogger{},
				Symbol:   "ETHUSDT",
				Interval: tt.interval,
			})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := NewSeries(context.Background(), Config{Logger: &mockLogger{}, Symbol: "ETHUSDT", Interval: "15m"})
	assert.Error(t, err, "missing source")
}

func TestSeries_UpdateRefreshesPriceEveryTick(t *testing.T) {
	src := &stubSource{price: 100, initial: makeKlines(32, base, 15*time.Minute)}
	s := newTestSeries(t, src)

	src.price = 101.25
	merged, err := s.Update(context.Background(), at(10, 7, 0))
	require.NoError(t, err)
	assert.Nil(t, merged)
	assert.Equal(t, 101.25, s.Price())
	assert.Equal(t, 2, src.priceCalls)
	assert.Equal(t, 1, src.klinesCalls, "no kline fetch outside a boundary")
}

func TestSeries_BoundaryAlreadyServicedAtStartup(t *testing.T) {
	src := &stubSource{price: 100, initial: makeKlines(32, base, 15*time.Minute)}
	s := newTestSeries(t, src)

	// The flag starts true, so a tick that lands inside a boundary does nothing.
	_, err := s.Update(context.Background(), at(10, 15, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, src.klinesCalls)
	assert.True(t, s.ReceivedNewKline())
}

func TestSeries_BoundaryIdempotence(t *testing.T) {
	next := kline(base.Add(15*time.Minute), 15*time.Minute, 200)
	src := &stubSource{
		price:   100,
		initial: makeKlines(32, base, 15*time.Minute),
		latest:  func() *domain.Kline { return next },
	}
	s := newTestSeries(t, src)
	ctx := context.Background()

	_, err := s.Update(ctx, at(10, 14, 59))
	require.NoError(t, err)
	assert.False(t, s.ReceivedNewKline(), "leaving the boundary arms the detector")

	merged, err := s.Update(ctx, at(10, 15, 0))
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.True(t, merged.OpenTime.Equal(next.OpenTime))
	assert.Equal(t, 1, src.lastLimit)
	assert.Equal(t, 33, s.Len())
	assert.True(t, s.ReceivedNewKline())

	for sec := 1; sec < 60; sec++ {
		merged, err := s.Update(ctx, at(10, 15, sec))
		require.NoError(t, err)
		assert.Nil(t, merged)
	}
	assert.Equal(t, 2, src.klinesCalls, "one bootstrap fetch plus one boundary fetch")
	assert.Equal(t, 33, s.Len())
}

func TestSeries_SkewTolerance(t *testing.T) {
	initial := makeKlines(32, base, 15*time.Minute)
	current := initial[len(initial)-1]
	src := &stubSource{
		price:   100,
		initial: initial,
		latest:  func() *domain.Kline { return current },
	}
	s := newTestSeries(t, src)
	ctx := context.Background()

	_, err := s.Update(ctx, at(10, 14, 59))
	require.NoError(t, err)

	// Exchange has not rolled over yet: same open time as the tail.
	merged, err := s.Update(ctx, at(10, 15, 0))
	require.NoError(t, err)
	assert.Nil(t, merged)
	assert.False(t, s.ReceivedNewKline())
	assert.Equal(t, 32, s.Len())

	current = kline(base.Add(15*time.Minute), 15*time.Minute, 250)
	merged, err = s.Update(ctx, at(10, 15, 1))
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.True(t, s.ReceivedNewKline())
	assert.Equal(t, 33, s.Len())
	assert.Equal(t, 3, src.klinesCalls)
}

func TestSeries_ReArming(t *testing.T) {
	next := kline(base.Add(15*time.Minute), 15*time.Minute, 200)
	src := &stubSource{
		price:   100,
		initial: makeKlines(32, base, 15*time.Minute),
		latest:  func() *domain.Kline { return next },
	}
	s := newTestSeries(t, src)
	ctx := context.Background()

	_, err := s.Update(ctx, at(10, 14, 0))
	require.NoError(t, err)
	_, err = s.Update(ctx, at(10, 15, 0))
	require.NoError(t, err)
	require.True(t, s.ReceivedNewKline())

	_, err = s.Update(ctx, at(10, 16, 0))
	require.NoError(t, err)
	assert.False(t, s.ReceivedNewKline())

	// Still false on later non-boundary ticks.
	_, err = s.Update(ctx, at(10, 17, 0))
	require.NoError(t, err)
	assert.False(t, s.ReceivedNewKline())
}

func TestSeries_FailedFetchDoesNotMutate(t *testing.T) {
	src := &stubSource{
		price:   100,
		initial: makeKlines(32, base, 15*time.Minute),
	}
	s := newTestSeries(t, src)
	ctx := context.Background()

	_, err := s.Update(ctx, at(10, 14, 0))
	require.NoError(t, err)

	src.klinesErr = errors.New("i/o timeout")
	src.price = 999
	priceCalls := src.priceCalls
	merged, err := s.Update(ctx, at(10, 15, 0))
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrFetchFailed)
	assert.Nil(t, merged)
	assert.False(t, s.ReceivedNewKline())
	assert.Equal(t, 32, s.Len())
	assert.Equal(t, priceCalls, src.priceCalls, "a failed candle fetch skips the price request")
	assert.Equal(t, 100.0, s.Price(), "price is not refreshed on a failed tick")

	// The next tick retries candles and price together.
	src.klinesErr = nil
	src.latest = func() *domain.Kline { return kline(at(10, 15, 0), 15*time.Minute, 150) }
	merged, err = s.Update(ctx, at(10, 15, 1))
	require.NoError(t, err)
	require.NotNil(t, merged)
	assert.Equal(t, priceCalls+1, src.priceCalls)
	assert.Equal(t, 999.0, s.Price())

	src.priceErr = errors.New("rate limited")
	src.price = 1
	_, err = s.Update(ctx, at(10, 20, 0))
	assert.ErrorIs(t, err, ports.ErrFetchFailed)
	assert.Equal(t, 999.0, s.Price())
}

func TestSeries_EmptyLatestIsFetchError(t *testing.T) {
	src := &stubSource{price: 100, initial: makeKlines(32, base, 15*time.Minute)}
	s := newTestSeries(t, src)
	ctx := context.Background()

	_, err := s.Update(ctx, at(10, 14, 0))
	require.NoError(t, err)
	_, err = s.Update(ctx, at(10, 15, 0))
	assert.ErrorIs(t, err, ports.ErrNoData)
	assert.False(t, s.ReceivedNewKline())
}

func TestSeries_OlderKlineIgnored(t *testing.T) {
	initial := makeKlines(32, base, 15*time.Minute)
	stale := initial[len(initial)-2]
	src := &stubSource{
		price:   100,
		initial: initial,
		latest:  func() *domain.Kline { return stale },
	}
	log := &mockLogger{}
	s, err := NewSeries(context.Background(), Config{Source: src, Logger: log, Symbol: "ETHUSDT", Interval: "15m"})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Update(ctx, at(10, 14, 0))
	require.NoError(t, err)
	merged, err := s.Update(ctx, at(10, 15, 0))
	require.NoError(t, err)
	assert.Nil(t, merged)
	assert.Equal(t, 32, s.Len())
	assert.False(t, s.ReceivedNewKline())
	assert.NotEmpty(t, log.warnMsgs)
}

// TestSeries_UniqueOpenTimes drives the series with a one-second clock for two
// hours against an exchange that finalizes each candle three seconds late.
func TestSeries_UniqueOpenTimes(t *testing.T) {
	step := 15 * time.Minute
	now := at(10, 5, 0)
	initial := makeKlines(32, base, step)
	src := &stubSource{
		price:   100,
		initial: initial,
		latest: func() *domain.Kline {
			open := now.Truncate(step)
			if now.Sub(open) < 3*time.Second {
				open = open.Add(-step)
			}
			return kline(open, step, 300)
		},
	}
	s := newTestSeries(t, src)
	ctx := context.Background()

	for end := at(12, 5, 0); now.Before(end); now = now.Add(time.Second) {
		_, err := s.Update(ctx, now)
		require.NoError(t, err)
	}

	klines := s.Klines()
	for i := 1; i < len(klines); i++ {
		require.True(t, klines[i].OpenTime.After(klines[i-1].OpenTime), "open times must be strictly increasing at %d", i)
	}
	// 10:15, 10:30, ..., 12:00
	assert.Equal(t, 32+8, len(klines))
	assert.True(t, klines[len(klines)-1].OpenTime.Equal(at(12, 0, 0)))
}

// TestSeries_MinuteIntervalToleratesLateExchange drives a 1m series with a
// one-second clock for ten minutes against an exchange that finalizes each
// candle a few seconds after the local boundary. Every candle must be merged
// within the minute it opens.
func TestSeries_MinuteIntervalToleratesLateExchange(t *testing.T) {
	for _, lag := range []time.Duration{0, time.Second, 3 * time.Second, 10 * time.Second, 25 * time.Second} {
		t.Run(lag.String(), func(t *testing.T) {
			step := time.Minute
			now := at(10, 0, 30)
			src := &stubSource{
				price:   100,
				initial: makeKlines(32, base, step),
				latest: func() *domain.Kline {
					open := now.Add(-lag).Truncate(step)
					k := kline(open, step, 300)
					k.Interval = "1m"
					return k
				},
			}
			s, err := NewSeries(context.Background(), Config{
				Source:   src,
				Logger:   &mockLogger{},
				Symbol:   "ETHUSDT",
				Interval: "1m",
			})
			require.NoError(t, err)
			ctx := context.Background()

			for end := at(10, 10, 30); now.Before(end); now = now.Add(time.Second) {
				merged, err := s.Update(ctx, now)
				require.NoError(t, err)
				if merged != nil {
					assert.True(t, merged.OpenTime.Equal(now.Truncate(step)), "kline %s merged at %s", merged.OpenTime, now)
				}
			}

			klines := s.Klines()
			for i := 1; i < len(klines); i++ {
				require.True(t, klines[i].OpenTime.After(klines[i-1].OpenTime), "open times must be strictly increasing at %d", i)
			}
			// 10:01, 10:02, ..., 10:10
			assert.Equal(t, 32+10, len(klines))
			assert.True(t, klines[len(klines)-1].OpenTime.Equal(at(10, 10, 0)))
		})
	}
}

func TestSeries_KlinesReturnsCopies(t *testing.T) {
	src := &stubSource{price: 100, initial: makeKlines(32, base, 15*time.Minute)}
	s := newTestSeries(t, src)

	klines := s.Klines()
	klines[0].Close = -1
	src.initial[1].Close = -1

	fresh := s.Klines()
	assert.NotEqual(t, -1.0, fresh[0].Close)
	assert.NotEqual(t, -1.0, fresh[1].Close)
}

type stubOverlay struct{ err error }

func (o stubOverlay) Name() string { return "SMA(2)" }
func (o stubOverlay) Line(ctx context.Context, klines []*domain.Kline) ([]domain.PlotPoint, error) {
	if o.err != nil {
		return nil, o.err
	}
	return []domain.PlotPoint{{Time: 1, Price: 2}}, nil
}

func TestSeries_Snapshot(t *testing.T) {
	src := &stubSource{price: 123.4, initial: makeKlines(4, base, 15*time.Minute)}
	s, err := NewSeries(context.Background(), Config{
		Source:   src,
		Logger:   &mockLogger{},
		Symbol:   "ETHUSDT",
		Interval: "15m",
		Overlay:  stubOverlay{},
	})
	require.NoError(t, err)

	taken := at(10, 6, 0)
	snap := s.Snapshot(context.Background(), taken)
	assert.Equal(t, "ETHUSDT", snap.Symbol)
	assert.Equal(t, "15m", snap.Interval)
	assert.Equal(t, 123.4, snap.Price)
	assert.Equal(t, taken, snap.TakenAt)
	assert.Len(t, snap.Klines, 4)
	assert.Len(t, snap.Plot, 4)
	assert.Equal(t, 100.0, snap.MinPrice)
	assert.Equal(t, 103.0, snap.MaxPrice)
	assert.Equal(t, "SMA(2)", snap.OverlayName)
	assert.Len(t, snap.Overlay, 1)

	first, last := snap.TimeBounds()
	assert.Equal(t, snap.Plot[0].Time, first)
	assert.Equal(t, snap.Plot[3].Time, last)

	s.overlay = stubOverlay{err: errors.New("not enough data")}
	snap = s.Snapshot(context.Background(), taken)
	assert.Empty(t, snap.Overlay)
	assert.Empty(t, snap.OverlayName)
}
