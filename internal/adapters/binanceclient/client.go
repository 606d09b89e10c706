package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cryptop/internal/domain"
	"cryptop/internal/ports"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	spotURLProduction    = "https://api.binance.com"
	spotURLTestnet       = "https://testnet.binance.vision"
	futuresURLProduction = "https://fapi.binance.com"
	futuresURLTestnet    = "https://testnet.binancefuture.com"

	// Per-request kline caps of the two APIs.
	spotMaxKlines    = 1000
	futuresMaxKlines = 1500

	defaultRequestTimeout = 10 * time.Second
)

// Market selects which Binance API the client talks to.
type Market string

const (
	MarketSpot    Market = "spot"
	MarketFutures Market = "futures"
)

// ParseMarket accepts "spot" or "futures" in any case; empty means spot.
func ParseMarket(s string) (Market, error) {
	switch Market(strings.ToLower(strings.TrimSpace(s))) {
	case "", MarketSpot:
		return MarketSpot, nil
	case MarketFutures:
		return MarketFutures, nil
	default:
		return "", fmt.Errorf("unknown market %q (want spot or futures)", s)
	}
}

// Client implements the ports.ExchangeClient interface using the go-binance library.
type Client struct {
	market        Market
	spotClient    *binance.Client
	futuresClient *futures.Client
	logger        ports.Logger
	now           func() time.Time
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey         string
	SecretKey      string
	Market         Market
	UseTestnet     bool
	Logger         ports.Logger
	RequestTimeout time.Duration // per HTTP request, defaults to 10s
	BaseURL        string        // overrides the production/testnet URL when set
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	market := cfg.Market
	if market == "" {
		market = MarketSpot
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	httpClient := &http.Client{Timeout: timeout}

	c := &Client{market: market, logger: cfg.Logger, now: time.Now}
	var baseURL string
	switch market {
	case MarketSpot:
		client := binance.NewClient(cfg.APIKey, cfg.SecretKey)
		baseURL = pickURL(cfg, spotURLProduction, spotURLTestnet)
		client.BaseURL = baseURL
		client.HTTPClient = httpClient
		c.spotClient = client
	case MarketFutures:
		client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
		baseURL = pickURL(cfg, futuresURLProduction, futuresURLTestnet)
		client.BaseURL = baseURL
		client.HTTPClient = httpClient
		c.futuresClient = client
	default:
		return nil, fmt.Errorf("%w: unsupported market %q", ports.ErrConfigurationError, market)
	}

	cfg.Logger.Info(context.Background(), "Binance client configured", map[string]interface{}{
		"market":  string(market),
		"baseURL": baseURL,
		"testnet": cfg.UseTestnet,
		"timeout": timeout.String(),
	})
	return c, nil
}

func pickURL(cfg Config, production, testnet string) string {
	switch {
	case cfg.BaseURL != "":
		return cfg.BaseURL
	case cfg.UseTestnet:
		return testnet
	default:
		return production
	}
}

// Market returns the API the client is bound to.
func (c *Client) Market() Market { return c.market }

// handleError translates common Binance API errors into standardized ports errors.
// Every returned error wraps ports.ErrFetchFailed.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "market": string(c.market), "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1001, -1007: // Disconnected / timeout waiting for backend
			mappedErr = ports.ErrExchangeUnavailable
		case -1021: // Timestamp for this request is outside of the recvWindow
			mappedErr = ports.ErrTimeout
		case -1022, -2014, -2015: // Signature or API-key problems
			mappedErr = ports.ErrAuthenticationFailed
		case -1100, -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/Request format errors
			mappedErr = ports.ErrInvalidRequest
		default:
			// General classification for unmapped API errors
			mappedErr = ports.ErrUnknown
		}
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return fmt.Errorf("%s failed: %w: %w: %w", operation, ports.ErrFetchFailed, mappedErr, err)
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var mappedErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded) || isTimeout(err):
		mappedErr = ports.ErrTimeout
	case errors.Is(err, context.Canceled):
		mappedErr = ports.ErrContextCanceled
	case errors.Is(err, ports.ErrNoData), errors.Is(err, ports.ErrMalformedResponse):
		mappedErr = nil // already categorized by the adapter
	case strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") ||
		strings.Contains(err.Error(), "no such host"):
		mappedErr = ports.ErrConnectionFailed
	default:
		mappedErr = ports.ErrUnknown
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	if mappedErr == nil {
		return fmt.Errorf("%s failed: %w: %w", operation, ports.ErrFetchFailed, err)
	}
	return fmt.Errorf("%s failed: %w: %w: %w", operation, ports.ErrFetchFailed, mappedErr, err)
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	var err error
	if c.market == MarketFutures {
		err = c.futuresClient.NewPingService().Do(ctx)
	} else {
		err = c.spotClient.NewPingService().Do(ctx)
	}
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// GetServerTime retrieves the current server time from the exchange.
func (c *Client) GetServerTime(ctx context.Context) (time.Time, error) {
	op := "GetServerTime"
	var serverTimeMs int64
	var err error
	if c.market == MarketFutures {
		serverTimeMs, err = c.futuresClient.NewServerTimeService().Do(ctx)
	} else {
		serverTimeMs, err = c.spotClient.NewServerTimeService().Do(ctx)
	}
	if err != nil {
		return time.Time{}, c.handleError(ctx, err, op)
	}
	return time.UnixMilli(serverTimeMs), nil
}

// GetTickerPrice retrieves the last traded price for a given symbol.
func (c *Client) GetTickerPrice(ctx context.Context, symbol string) (float64, error) {
	op := "GetTickerPrice"
	var raw string
	if c.market == MarketFutures {
		stats, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
		if err != nil {
			return 0, c.handleError(ctx, err, op)
		}
		if len(stats) == 0 {
			return 0, c.handleError(ctx, fmt.Errorf("%w: no ticker data returned for symbol %s", ports.ErrNoData, symbol), op)
		}
		raw = stats[0].LastPrice
	} else {
		prices, err := c.spotClient.NewListPricesService().Symbol(symbol).Do(ctx)
		if err != nil {
			return 0, c.handleError(ctx, err, op)
		}
		if len(prices) == 0 {
			return 0, c.handleError(ctx, fmt.Errorf("%w: no price data returned for symbol %s", ports.ErrNoData, symbol), op)
		}
		raw = prices[0].Price
	}

	price, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		parseErr := fmt.Errorf("%w: could not parse price '%s': %v", ports.ErrMalformedResponse, raw, err)
		return 0, c.handleError(ctx, parseErr, op)
	}
	return price, nil
}

// GetKlines retrieves the most recent klines for the given symbol, oldest first.
func (c *Client) GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error) {
	op := "GetKlines"
	raws, err := c.fetchKlines(ctx, symbol, interval, limit, nil, nil)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	klines, err := c.translateAll(raws, symbol, interval)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful", map[string]interface{}{"symbol": symbol, "interval": interval, "count": len(klines)})
	return klines, nil
}

// GetKlinesRange fetches all klines for a symbol/interval between start and end time.
func (c *Client) GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error) {
	op := "GetKlinesRange"
	maxLimit := spotMaxKlines
	if c.market == MarketFutures {
		maxLimit = futuresMaxKlines
	}

	var allKlines []*domain.Kline
	from := start.UnixMilli()
	to := end.UnixMilli()
	for {
		raws, err := c.fetchKlines(ctx, symbol, interval, maxLimit, &from, &to)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		if len(raws) == 0 {
			break
		}
		klines, err := c.translateAll(raws, symbol, interval)
		if err != nil {
			return nil, c.handleError(ctx, err, op)
		}
		allKlines = append(allKlines, klines...)

		from = raws[len(raws)-1].closeTime + 1
		if from > to || len(raws) < maxLimit {
			break
		}
	}

	return allKlines, nil
}

// rawKline is the subset of the spot and futures kline payloads we use.
type rawKline struct {
	openTime, closeTime            int64
	open, high, low, close, volume string
}

func (c *Client) fetchKlines(ctx context.Context, symbol, interval string, limit int, start, end *int64) ([]rawKline, error) {
	if c.market == MarketFutures {
		svc := c.futuresClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
		if start != nil {
			svc = svc.StartTime(*start)
		}
		if end != nil {
			svc = svc.EndTime(*end)
		}
		res, err := svc.Do(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]rawKline, 0, len(res))
		for _, k := range res {
			if k == nil {
				return nil, fmt.Errorf("%w: received nil historical kline", ports.ErrMalformedResponse)
			}
			out = append(out, rawKline{k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume})
		}
		return out, nil
	}

	svc := c.spotClient.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit)
	if start != nil {
		svc = svc.StartTime(*start)
	}
	if end != nil {
		svc = svc.EndTime(*end)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]rawKline, 0, len(res))
	for _, k := range res {
		if k == nil {
			return nil, fmt.Errorf("%w: received nil historical kline", ports.ErrMalformedResponse)
		}
		out = append(out, rawKline{k.OpenTime, k.CloseTime, k.Open, k.High, k.Low, k.Close, k.Volume})
	}
	return out, nil
}

// --- Translation Helpers ---

func (c *Client) translateAll(raws []rawKline, symbol, interval string) ([]*domain.Kline, error) {
	now := c.now()
	klines := make([]*domain.Kline, 0, len(raws))
	for _, rk := range raws {
		k, err := translateKline(rk, symbol, interval, now)
		if err != nil {
			return nil, fmt.Errorf("failed to translate historical kline: %w", err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func translateKline(rk rawKline, symbol, interval string, now time.Time) (*domain.Kline, error) {
	parse := func(name, v string) (float64, error) {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: parsing %s '%s': %v", ports.ErrMalformedResponse, name, v, err)
		}
		return f, nil
	}
	open, err := parse("open price", rk.open)
	if err != nil {
		return nil, err
	}
	high, err := parse("high price", rk.high)
	if err != nil {
		return nil, err
	}
	low, err := parse("low price", rk.low)
	if err != nil {
		return nil, err
	}
	cls, err := parse("close price", rk.close)
	if err != nil {
		return nil, err
	}
	vol, err := parse("volume", rk.volume)
	if err != nil {
		return nil, err
	}

	closeTime := time.UnixMilli(rk.closeTime)
	return &domain.Kline{
		OpenTime:  time.UnixMilli(rk.openTime),
		CloseTime: closeTime,
		Symbol:    symbol,   // Not part of the REST payload
		Interval:  interval, // Use passed interval
		Open:      open,
		High:      high,
		Low:       low,
		Close:     cls,
		Volume:    vol,
		IsFinal:   closeTime.Before(now), // the newest REST kline is usually still open
	}, nil
}
