package util

import (
	"time"
)

// TradingCalendar provides regular-session awareness for US equities:
// weekdays 09:30 to 16:00 in the exchange timezone. Holidays are not modelled.
type TradingCalendar struct {
	loc *time.Location
}

// NewTradingCalendar creates a TradingCalendar in America/New_York, falling
// back to a fixed UTC-5 zone when tzdata is unavailable.
func NewTradingCalendar() *TradingCalendar {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("EST", -5*60*60)
	}
	return &TradingCalendar{loc: loc}
}

// Location returns the exchange timezone.
func (tc *TradingCalendar) Location() *time.Location {
	return tc.loc
}

func (tc *TradingCalendar) session(day time.Time) (openAt, closeAt time.Time) {
	y, m, d := day.In(tc.loc).Date()
	openAt = time.Date(y, m, d, 9, 30, 0, 0, tc.loc)
	closeAt = time.Date(y, m, d, 16, 0, 0, 0, tc.loc)
	return openAt, closeAt
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// IsMarketOpen returns whether the market is open at time t.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.loc)
	if !isWeekday(local) {
		return false
	}
	openAt, closeAt := tc.session(local)
	return !local.Before(openAt) && local.Before(closeAt)
}

// NextOpen returns the next market open time at or after t.
func (tc *TradingCalendar) NextOpen(t time.Time) time.Time {
	local := t.In(tc.loc)
	for i := 0; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		if !isWeekday(day) {
			continue
		}
		openAt, _ := tc.session(day)
		if !openAt.Before(local) {
			return openAt
		}
	}
	return time.Time{}
}

// NextClose returns the next market close time at or after t.
func (tc *TradingCalendar) NextClose(t time.Time) time.Time {
	local := t.In(tc.loc)
	for i := 0; i < 8; i++ {
		day := local.AddDate(0, 0, i)
		if !isWeekday(day) {
			continue
		}
		_, closeAt := tc.session(day)
		if !closeAt.Before(local) {
			return closeAt
		}
	}
	return time.Time{}
}
