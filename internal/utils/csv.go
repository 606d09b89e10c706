package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"cryptop/internal/domain"
)

// csvHeader is the column layout written by WriteKlines.
var csvHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteKlinesToCSV creates filename and writes klines to it.
func WriteKlinesToCSV(klines []*domain.Kline, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create csv file %s: %w", filename, err)
	}
	defer file.Close()

	if err := WriteKlines(file, klines); err != nil {
		return fmt.Errorf("write csv file %s: %w", filename, err)
	}
	return file.Sync()
}

// WriteKlines writes a header row and one row per kline. Times are UTC RFC 3339
// with millisecond precision.
func WriteKlines(w io.Writer, klines []*domain.Kline) error {
	writer := csv.NewWriter(w)

	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, k := range klines {
		if k == nil {
			continue
		}
		row := []string{
			formatTime(k.OpenTime),
			formatTime(k.CloseTime),
			k.Symbol,
			k.Interval,
			formatFloat(k.Open),
			formatFloat(k.High),
			formatFloat(k.Low),
			formatFloat(k.Close),
			formatFloat(k.Volume),
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
