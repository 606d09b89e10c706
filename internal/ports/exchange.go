package ports

import (
	"context"
	"time"

	"cryptop/internal/domain"
)

// MarketSource is the capability the candle series depends on: the latest
// price and the most recent klines of a symbol. Calls block until the remote
// service answers; timeouts belong to the transport.
type MarketSource interface {
	// GetTickerPrice retrieves the last traded price for a given symbol.
	GetTickerPrice(ctx context.Context, symbol string) (float64, error)

	// GetKlines retrieves the most recent `limit` klines, ascending by open time.
	GetKlines(ctx context.Context, symbol string, interval string, limit int) ([]*domain.Kline, error)
}

// ExchangeClient is the full exchange adapter used by the host process.
type ExchangeClient interface {
	MarketSource

	// Ping checks the connectivity to the exchange API.
	Ping(ctx context.Context) error

	// GetServerTime retrieves the current server time from the exchange.
	GetServerTime(ctx context.Context) (time.Time, error)

	// GetKlinesRange fetches all klines for a symbol/interval between start and end time.
	GetKlinesRange(ctx context.Context, symbol, interval string, start, end time.Time) ([]*domain.Kline, error)
}
