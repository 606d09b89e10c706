package ports

import (
	"context"

	"cryptop/internal/domain"
)

// KlineRecorder journals klines the series has accepted. The journal is
// write-only at runtime; nothing reads it back on startup.
type KlineRecorder interface {
	// RecordKlines stores klines, ignoring ones already journaled.
	RecordKlines(ctx context.Context, klines []*domain.Kline) error
	Close() error
}

// NoopRecorder is used when no journal database is configured.
type NoopRecorder struct{}

func (NoopRecorder) RecordKlines(context.Context, []*domain.Kline) error { return nil }
func (NoopRecorder) Close() error                                        { return nil }

// Renderer draws a chart snapshot.
type Renderer interface {
	Render(ctx context.Context, snap domain.Snapshot) error
}
