package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptop/internal/domain"
)

func sampleKlines() []*domain.Kline {
	open := time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)
	return []*domain.Kline{
		{
			OpenTime:  open,
			CloseTime: open.Add(15*time.Minute - time.Millisecond),
			Symbol:    "ETHUSDT",
			Interval:  "15m",
			Open:      3500.1,
			High:      3512,
			Low:       3490.25,
			Close:     3505.5,
			Volume:    12.75,
		},
		nil,
	}
}

func TestWriteKlines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteKlines(&buf, sampleKlines()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2, "header plus one row; nil klines are skipped")
	assert.Equal(t, "open_time,close_time,symbol,interval,open,high,low,close,volume", lines[0])
	assert.Equal(t, "2024-03-04T10:00:00.000Z,2024-03-04T10:14:59.999Z,ETHUSDT,15m,3500.1,3512,3490.25,3505.5,12.75", lines[1])
}

func TestWriteKlinesToCSV(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "klines.csv")
	require.NoError(t, WriteKlinesToCSV(sampleKlines(), filename))

	data, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "open_time,"))

	err = WriteKlinesToCSV(sampleKlines(), filepath.Join(t.TempDir(), "missing", "klines.csv"))
	assert.Error(t, err)
}
