package market

import (
	"time"

	"cryptop/internal/domain"
)

// watchElement extracts the calendar field that advances once per interval unit.
// Candle periods on the exchange are aligned in UTC.
func watchElement(unit domain.IntervalUnit, t time.Time) int {
	t = t.UTC()
	switch unit {
	case domain.UnitMinute:
		return t.Minute()
	case domain.UnitHour:
		return t.Hour()
	case domain.UnitDay:
		return t.Day()
	case domain.UnitWeek:
		_, week := t.ISOWeek()
		return week
	case domain.UnitMonth:
		return int(t.Month()) - 1
	default:
		return -1
	}
}

// finerElement extracts the field one step below the unit, zero-based, so that
// zero is the first sub-period of a new candle.
func finerElement(unit domain.IntervalUnit, t time.Time) int {
	t = t.UTC()
	switch unit {
	case domain.UnitMinute:
		return t.Second()
	case domain.UnitHour:
		return t.Minute()
	case domain.UnitDay:
		return t.Hour()
	case domain.UnitWeek:
		// Weekday with Monday as 0, weekly candles open on Monday.
		return (int(t.Weekday()) + 6) % 7
	case domain.UnitMonth:
		return t.Day() - 1
	default:
		return -1
	}
}

// finerCycle is the number of values finerElement takes within one unit.
func finerCycle(unit domain.IntervalUnit, t time.Time) int {
	t = t.UTC()
	switch unit {
	case domain.UnitMinute, domain.UnitHour:
		return 60
	case domain.UnitDay:
		return 24
	case domain.UnitWeek:
		return 7
	case domain.UnitMonth:
		// Day zero of the next month is the last day of this one.
		return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, time.UTC).Day()
	default:
		return 0
	}
}

// atBoundary reports whether now falls in the stretch right after a candle of
// the given interval should have closed.
//
// For magnitude > 1 the watched field modulo the magnitude must be zero; the
// condition then stays true for a whole unit (e.g. the entire minute 15 for
// 15m). Magnitude 1 would make that condition permanently true, so those
// intervals watch the first half of the next finer field's cycle instead
// (30s for 1m, 30min for 1h, 12h for 1d), leaving room for an exchange that
// finalizes a candle late.
func atBoundary(iv domain.CandleInterval, now time.Time) bool {
	if iv.Magnitude <= 0 {
		return false
	}
	if iv.Magnitude == 1 {
		e := finerElement(iv.Unit, now)
		return e >= 0 && 2*e < finerCycle(iv.Unit, now)
	}
	e := watchElement(iv.Unit, now)
	return e >= 0 && e%iv.Magnitude == 0
}
