package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"cryptop/config"
	"cryptop/internal/domain"
	"cryptop/internal/indicators"
	"cryptop/internal/market"
	"cryptop/internal/ports"
)

const (
	// maxClockOffset is the local/server clock difference above which a warning is logged.
	maxClockOffset = time.Second
)

// ChartService runs the candle series: an update task that keeps the series in
// sync with the exchange and a render task that draws the latest snapshot.
type ChartService struct {
	cfg      *config.Config
	logger   ports.Logger
	exchange ports.ExchangeClient
	recorder ports.KlineRecorder
	renderer ports.Renderer
	overlay  market.Overlay
	now      func() time.Time

	// series is owned by the update task after Bootstrap.
	series *market.Series

	mu       sync.RWMutex // Protects the fields below
	latest   domain.Snapshot
	failures int // consecutive failed updates
}

// NewChartService creates a new application service instance.
func NewChartService(
	cfg *config.Config,
	logger ports.Logger,
	exchange ports.ExchangeClient,
	recorder ports.KlineRecorder,
	renderer ports.Renderer,
) (*ChartService, error) {

	// Validate dependencies
	if cfg == nil || logger == nil || exchange == nil || recorder == nil || renderer == nil {
		return nil, fmt.Errorf("missing required dependencies for ChartService")
	}

	// Validate config values needed by service
	if cfg.UpdatePeriod <= 0 || cfg.RenderPeriod <= 0 {
		return nil, fmt.Errorf("%w: update and render periods must be positive", ports.ErrConfigurationError)
	}

	s := &ChartService{
		cfg:      cfg,
		logger:   logger,
		exchange: exchange,
		recorder: recorder,
		renderer: renderer,
		now:      time.Now,
	}

	if cfg.OverlayPeriod > 0 {
		ma, err := indicators.NewMovingAverage(indicators.MovingAverageConfig{
			Period: cfg.OverlayPeriod,
			Type:   cfg.OverlayType,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ports.ErrConfigurationError, err)
		}
		s.overlay = ma
	}
	return s, nil
}

// Start bootstraps the series and runs both tasks until ctx is canceled or a
// shutdown signal arrives.
func (s *ChartService) Start(ctx context.Context) error {
	s.logger.Info(ctx, "Starting Chart Service...", map[string]interface{}{
		"symbol":   s.cfg.Symbol,
		"interval": s.cfg.CandleInterval.String(),
	})

	// Create a context that can be canceled by signals
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			s.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel() // Cancel the main context
		case <-ctx.Done():
		}
	}()

	// --- Initialization Steps ---
	if err := s.preflight(ctx); err != nil {
		return err
	}
	if err := s.Bootstrap(ctx); err != nil {
		return err
	}

	// --- Render Task ---
	scheduler := cron.New(cron.WithChain(cron.SkipIfStillRunning(cronLogger{ctx: ctx, logger: s.logger})))
	schedule := fmt.Sprintf("@every %s", s.cfg.RenderPeriod)
	if _, err := scheduler.AddFunc(schedule, func() { s.RenderLatest(ctx) }); err != nil {
		return fmt.Errorf("register render task: %w", err)
	}
	s.RenderLatest(ctx) // first frame without waiting for the schedule
	scheduler.Start()
	s.logger.Info(ctx, "Render task scheduled", map[string]interface{}{"schedule": schedule})

	// --- Update Task ---
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.runUpdates(ctx)
	}()

	<-ctx.Done()
	s.logger.Info(ctx, "Context cancelled, initiating shutdown...")
	wg.Wait()

	// Wait for a running render to finish
	stopCtx := scheduler.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn(context.Background(), "Timeout waiting for render task to finish")
	}

	s.logger.Info(context.Background(), "Chart Service stopped.")
	return nil
}

// preflight checks connectivity and reports clock drift. The drift is only
// logged; boundary detection uses the local clock.
func (s *ChartService) preflight(ctx context.Context) error {
	if err := s.exchange.Ping(ctx); err != nil {
		s.logger.Error(ctx, err, "Exchange ping failed")
		return fmt.Errorf("failed to reach exchange: %w", err)
	}

	before := s.now()
	serverTime, err := s.exchange.GetServerTime(ctx)
	if err != nil {
		s.logger.Warn(ctx, "Could not read exchange server time", map[string]interface{}{"error": err.Error()})
		return nil
	}
	local := before.Add(s.now().Sub(before) / 2)
	offset := serverTime.Sub(local)
	fields := map[string]interface{}{"serverTime": serverTime.UTC(), "offset": offset}
	if offset.Abs() > maxClockOffset {
		s.logger.Warn(ctx, "Local clock differs from exchange server time", fields)
	} else {
		s.logger.Info(ctx, "Clock offset to exchange", fields)
	}
	return nil
}

// Bootstrap builds the series from the exchange, journals the initial window
// and publishes the first snapshot.
func (s *ChartService) Bootstrap(ctx context.Context) error {
	series, err := market.NewSeries(ctx, market.Config{
		Source:   s.exchange,
		Logger:   s.logger,
		Symbol:   s.cfg.Symbol,
		Interval: s.cfg.CandleInterval.String(),
		Overlay:  s.overlay,
	})
	if err != nil {
		s.logger.Error(ctx, err, "Failed to initialize candle series")
		return fmt.Errorf("failed to initialize candle series: %w", err)
	}
	s.series = series

	s.record(ctx, series.Klines())
	s.publish(ctx)
	return nil
}

// Tick runs one update step: sync the series, journal a merged kline and
// publish a fresh snapshot. A failed fetch leaves the series unchanged; the
// error is returned after it has been counted and logged.
func (s *ChartService) Tick(ctx context.Context) error {
	if s.series == nil {
		return fmt.Errorf("chart service not bootstrapped")
	}

	merged, err := s.series.Update(ctx, s.now())
	if merged != nil {
		s.record(ctx, []*domain.Kline{merged})
	}

	s.mu.Lock()
	if err != nil {
		s.failures++
	} else {
		s.failures = 0
	}
	failures := s.failures
	s.mu.Unlock()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		s.logger.Warn(ctx, "Update failed, keeping previous state", map[string]interface{}{
			"error":               err.Error(),
			"consecutiveFailures": failures,
		})
	}

	s.publish(ctx)
	return err
}

// runUpdates calls Tick once per update period, measuring each frame and
// sleeping for the remainder of the period.
func (s *ChartService) runUpdates(ctx context.Context) {
	period := s.cfg.UpdatePeriod
	for {
		frameStart := time.Now()
		_ = s.Tick(ctx) // failures are logged and counted by Tick
		frameTime := time.Since(frameStart)
		s.logger.Debug(ctx, "Update frame", map[string]interface{}{"frameTime": frameTime})

		wait := period - frameTime
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// RenderLatest draws the most recent snapshot.
func (s *ChartService) RenderLatest(ctx context.Context) {
	snap := s.LatestSnapshot()
	if err := s.renderer.Render(ctx, snap); err != nil && ctx.Err() == nil {
		s.logger.Warn(ctx, "Render failed", map[string]interface{}{"error": err.Error()})
	}
}

// LatestSnapshot returns the snapshot published by the last update.
func (s *ChartService) LatestSnapshot() domain.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// ConsecutiveFailures returns the number of update failures since the last success.
func (s *ChartService) ConsecutiveFailures() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.failures
}

func (s *ChartService) publish(ctx context.Context) {
	snap := s.series.Snapshot(ctx, s.now())
	s.mu.Lock()
	s.latest = snap
	s.mu.Unlock()
}

// record journals klines. Journal failures never stop the chart.
func (s *ChartService) record(ctx context.Context, klines []*domain.Kline) {
	if err := s.recorder.RecordKlines(ctx, klines); err != nil {
		s.logger.Warn(ctx, "Failed to journal klines", map[string]interface{}{
			"error": err.Error(),
			"count": len(klines),
		})
	}
}

// cronLogger adapts ports.Logger to the cron.Logger interface.
type cronLogger struct {
	ctx    context.Context
	logger ports.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(l.ctx, "cron: "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(l.ctx, err, "cron: "+msg, kvFields(keysAndValues))
}

func kvFields(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
