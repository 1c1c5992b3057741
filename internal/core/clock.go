package core

import (
	"fmt"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	MonthLayout = "2006-01"

	// TimestampLayout is fixed width so stored timestamps sort lexically.
	TimestampLayout = "2006-01-02T15:04:05.000Z"
)

// timestamp layouts accepted when reading rows written by other writers,
// including SQLite's datetime('now').
var readLayouts = []string{
	TimestampLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	DateLayout,
}

// Clock returns the current time. Repositories take one so tests can pin it.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }

func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range readLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q: unsupported format", s)
}

// NextTimestamp returns now, or prev+1ms when the clock has not moved past
// prev. Updates must strictly advance updated_at.
func NextTimestamp(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Millisecond)
	if !now.After(prev) {
		return prev.Add(time.Millisecond)
	}
	return now
}

// CurrentMonth returns the YYYY-MM of t.
func CurrentMonth(t time.Time) string {
	return t.Format(MonthLayout)
}

// DaysInMonth returns the number of days of a valid YYYY-MM month.
func DaysInMonth(month string) (int, error) {
	if err := ValidateMonth(month); err != nil {
		return 0, err
	}
	start, _ := time.Parse(MonthLayout, month)
	return start.AddDate(0, 1, -1).Day(), nil
}
