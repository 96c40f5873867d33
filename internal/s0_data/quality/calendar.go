package quality

import (
	"time"

	"github.com/scmhub/calendar"
)

// TradingCalendar answers whether an exchange was open on a calendar day
type TradingCalendar struct {
	cal      *calendar.Calendar
	fallback bool
	loc      *time.Location
}

// NewTradingCalendar loads the exchange calendar for an ISO 10383 MIC (e.g. "xnys").
// An empty MIC returns nil: every day counts. An unknown MIC falls back to Mon-Fri.
func NewTradingCalendar(mic string) *TradingCalendar {
	if mic == "" {
		return nil
	}

	cal := calendar.GetCalendar(mic)
	if cal == nil {
		return &TradingCalendar{fallback: true, loc: time.UTC}
	}

	loc := cal.Loc
	if loc == nil {
		loc = time.UTC
	}
	return &TradingCalendar{cal: cal, loc: loc}
}

// IsTradingDay reports whether the exchange traded on day's calendar date
func (tc *TradingCalendar) IsTradingDay(day time.Time) bool {
	// noon in exchange time keeps the date from shifting across zones
	local := time.Date(day.Year(), day.Month(), day.Day(), 12, 0, 0, 0, tc.loc)

	if tc.fallback {
		weekday := local.Weekday()
		return weekday != time.Saturday && weekday != time.Sunday
	}
	return tc.cal.IsBusinessDay(local)
}

// ClosedDaysBetween counts non-trading days strictly between two UTC days
func (tc *TradingCalendar) ClosedDaysBetween(from, to time.Time) int {
	closed := 0
	for d := from.AddDate(0, 0, 1); d.Before(to); d = d.AddDate(0, 0, 1) {
		if !tc.IsTradingDay(d) {
			closed++
		}
	}
	return closed
}
