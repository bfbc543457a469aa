package core

import (
	"fmt"
	"time"
)

// Window holds the calendar boundaries of one month in a location. The
// month is the half-open range [Start, Until); every instant belongs to
// exactly one window. End and PriorEnd are the last millisecond of their
// day (23:59:59.999) and are meant for display only.
type Window struct {
	Year     int
	Month    int
	Start    time.Time
	Until    time.Time
	End      time.Time
	PriorEnd time.Time
}

// NewWindow computes the boundaries of (year, month) in loc. A nil loc means
// time.Local. Months outside 1..12 are rejected; use NormalizeMonth first
// when rolling over.
func NewWindow(year, month int, loc *time.Location) (Window, error) {
	if month < 1 || month > 12 {
		return Window{}, fmt.Errorf("%w: month %d out of range", ErrInvalidPeriod, month)
	}
	if year < 1 || year > 9999 {
		return Window{}, fmt.Errorf("%w: year %d out of range", ErrInvalidPeriod, year)
	}
	if loc == nil {
		loc = time.Local
	}
	start := time.Date(year, time.Month(month), 1, 0, 0, 0, 0, loc)
	next := time.Date(year, time.Month(month)+1, 1, 0, 0, 0, 0, loc)
	return Window{
		Year:     year,
		Month:    month,
		Start:    start,
		Until:    next,
		End:      next.Add(-time.Millisecond),
		PriorEnd: start.Add(-time.Millisecond),
	}, nil
}

// NormalizeMonth folds an out-of-range month into the proper year, so that
// (2024, 0) becomes (2023, 12) and (2024, 13) becomes (2025, 1).
func NormalizeMonth(year, month int) (int, int) {
	m := month - 1
	year += m / 12
	m %= 12
	if m < 0 {
		m += 12
		year--
	}
	return year, m + 1
}

// MonthOf returns the calendar month t falls in, seen from loc.
func MonthOf(t time.Time, loc *time.Location) (int, int) {
	if loc == nil {
		loc = time.Local
	}
	t = t.In(loc)
	return t.Year(), int(t.Month())
}

// Contains reports whether Start <= t < Until.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.Until)
}

// Prior returns the window of the preceding month.
func (w Window) Prior() Window {
	y, m := NormalizeMonth(w.Year, w.Month-1)
	p, _ := NewWindow(y, m, w.Start.Location())
	return p
}

// Next returns the window of the following month.
func (w Window) Next() Window {
	y, m := NormalizeMonth(w.Year, w.Month+1)
	n, _ := NewWindow(y, m, w.Start.Location())
	return n
}

// Before reports whether w is an earlier month than o.
func (w Window) Before(o Window) bool {
	return w.Year < o.Year || (w.Year == o.Year && w.Month < o.Month)
}

func (w Window) String() string {
	return fmt.Sprintf("%04d-%02d", w.Year, w.Month)
}
