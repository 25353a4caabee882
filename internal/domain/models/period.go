package models

import (
	"fmt"
	"time"
)

// Half-month labels as stored in the aggregated tables.
const (
	HalfFirst  = "前半" // days 1-15
	HalfSecond = "後半" // day 16 to end of month
)

// Period identifies one half-month bucket, the smallest time unit of all
// aggregated and forecast data.
type Period struct {
	Year  int
	Month int
	Half  string
}

// HalfFromDay maps a day of month to its half-month label.
func HalfFromDay(day int) string {
	if day <= 15 {
		return HalfFirst
	}
	return HalfSecond
}

// ValidHalf reports whether s is one of the two half labels.
func ValidHalf(s string) bool {
	return s == HalfFirst || s == HalfSecond
}

func halfBit(half string) int {
	if half == HalfSecond {
		return 1
	}
	return 0
}

// Index returns the linear half-month index of the period. Two consecutive
// indices are exactly one half-month apart, across month and year borders.
func (p Period) Index() int {
	return (p.Year*12+(p.Month-1))*2 + halfBit(p.Half)
}

// PeriodFromIndex converts a linear half-month index back to a period.
func PeriodFromIndex(idx int) Period {
	half := HalfFirst
	if idx%2 != 0 {
		half = HalfSecond
	}
	months := idx / 2
	return Period{
		Year:  months / 12,
		Month: months%12 + 1,
		Half:  half,
	}
}

// Minus returns the period terms half-months earlier.
func (p Period) Minus(terms int) Period {
	return PeriodFromIndex(p.Index() - terms)
}

// After reports whether p is strictly later than q.
func (p Period) After(q Period) bool {
	return p.Index() > q.Index()
}

// StartDate returns the first calendar day of the period.
func (p Period) StartDate() time.Time {
	day := 1
	if p.Half == HalfSecond {
		day = 16
	}
	return time.Date(p.Year, time.Month(p.Month), day, 0, 0, 0, 0, time.UTC)
}

func (p Period) String() string {
	return fmt.Sprintf("%d/%d %s", p.Year, p.Month, p.Half)
}
