package domain

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrInvalidInterval is returned when a candle interval string cannot be parsed.
// ports.ErrInvalidInterval aliases it for callers outside the domain.
var ErrInvalidInterval = errors.New("invalid candle interval")

// IntervalUnit is the calendar unit a candle interval is measured in.
type IntervalUnit string

const (
	UnitMinute IntervalUnit = "minute"
	UnitHour   IntervalUnit = "hour"
	UnitDay    IntervalUnit = "day"
	UnitWeek   IntervalUnit = "week"
	UnitMonth  IntervalUnit = "month"
)

// unitCodes maps the single-character suffix of an interval string to its unit.
// Upper-case D and W are accepted as aliases; M is always month.
var unitCodes = map[byte]IntervalUnit{
	'm': UnitMinute,
	'h': UnitHour,
	'd': UnitDay,
	'D': UnitDay,
	'w': UnitWeek,
	'W': UnitWeek,
	'M': UnitMonth,
}

// CandleInterval is a parsed candle interval such as 15m -> (minute, 15).
type CandleInterval struct {
	Unit      IntervalUnit
	Magnitude int
}

// ParseInterval parses strings of the form <magnitude><unit>, e.g. "15m", "1h", "1M".
func ParseInterval(s string) (CandleInterval, error) {
	if len(s) < 2 {
		return CandleInterval{}, fmt.Errorf("%w: %q is too short", ErrInvalidInterval, s)
	}
	unit, ok := unitCodes[s[len(s)-1]]
	if !ok {
		return CandleInterval{}, fmt.Errorf("%w: unknown unit %q in %q", ErrInvalidInterval, s[len(s)-1:], s)
	}
	digits := s[:len(s)-1]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return CandleInterval{}, fmt.Errorf("%w: magnitude %q is not a number", ErrInvalidInterval, digits)
		}
	}
	magnitude, err := strconv.Atoi(digits)
	if err != nil {
		return CandleInterval{}, fmt.Errorf("%w: magnitude %q: %v", ErrInvalidInterval, digits, err)
	}
	if magnitude <= 0 {
		return CandleInterval{}, fmt.Errorf("%w: magnitude must be positive, got %d", ErrInvalidInterval, magnitude)
	}
	return CandleInterval{Unit: unit, Magnitude: magnitude}, nil
}

// Code returns the exchange suffix for the unit.
func (u IntervalUnit) Code() string {
	switch u {
	case UnitMinute:
		return "m"
	case UnitHour:
		return "h"
	case UnitDay:
		return "d"
	case UnitWeek:
		return "w"
	case UnitMonth:
		return "M"
	default:
		return "?"
	}
}

// String renders the interval in the form the exchange API expects ("15m", "1w", "1M").
func (ci CandleInterval) String() string {
	return strconv.Itoa(ci.Magnitude) + ci.Unit.Code()
}
