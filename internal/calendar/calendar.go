// Package calendar provides the US equity market session model used across
// the data layer: session boundaries, full trading days, and bar granularity
// parsing.
package calendar

import (
	"strconv"
	"strings"
	"time"

	"github.com/meridianlab/intraday/pkg/errors"
)

// Clock is a wall-clock time of day within a session, independent of date.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// ParseClock parses "HH:MM:SS" or "HH:MM".
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return Clock{}, errors.Newf(errors.ErrCodeInvalidConfiguration, "invalid clock time %q", s)
	}

	values := make([]int, 3)
	for i, part := range parts {
		value, err := strconv.Atoi(part)
		if err != nil {
			return Clock{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "invalid clock time %q", s)
		}
		values[i] = value
	}

	return Clock{Hour: values[0], Minute: values[1], Second: values[2]}, nil
}

// Seconds is the offset from midnight.
func (c Clock) Seconds() int {
	return c.Hour*3600 + c.Minute*60 + c.Second
}

// On anchors the clock time onto the given date.
func (c Clock) On(date time.Time) time.Time {
	return time.Date(date.Year(), date.Month(), date.Day(), c.Hour, c.Minute, c.Second, 0, date.Location())
}

// ParseGranularity converts a bar granularity string such as "5 S", "5 M" or
// "1 H" into its length in seconds.
func ParseGranularity(s string) (int, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, errors.Newf(errors.ErrCodeInvalidGranularity, "invalid granularity %q, expected \"<n> <S|M|H>\"", s)
	}

	quantity, err := strconv.Atoi(fields[0])
	if err != nil || quantity <= 0 {
		return 0, errors.Newf(errors.ErrCodeInvalidGranularity, "invalid granularity quantity %q", fields[0])
	}

	switch strings.ToUpper(fields[1]) {
	case "S":
		return quantity, nil
	case "M":
		return quantity * 60, nil
	case "H":
		return quantity * 3600, nil
	default:
		return 0, errors.Newf(errors.ErrCodeInvalidGranularity, "invalid granularity unit %q", fields[1])
	}
}

// Calendar models the regular session of a US equity exchange. Open and close
// are wall-clock times in the timezone the bar data is stored in.
type Calendar struct {
	Open  Clock
	Close Clock
}

// New builds a calendar from "HH:MM:SS" open and close times.
func New(openTime, closeTime string) (*Calendar, error) {
	open, err := ParseClock(openTime)
	if err != nil {
		return nil, err
	}

	closeClock, err := ParseClock(closeTime)
	if err != nil {
		return nil, err
	}

	if closeClock.Seconds() <= open.Seconds() {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration,
			"market close %s must be after open %s", closeTime, openTime)
	}

	return &Calendar{Open: open, Close: closeClock}, nil
}

// SessionSeconds is the length of the regular session.
func (c *Calendar) SessionSeconds() int {
	return c.Close.Seconds() - c.Open.Seconds()
}

// ExpectedBarsPerDay is the number of complete bars of the given granularity
// that fit into one regular session.
func (c *Calendar) ExpectedBarsPerDay(granularitySeconds int) int {
	if granularitySeconds <= 0 {
		return 0
	}

	return c.SessionSeconds() / granularitySeconds
}

// WithinSession reports whether t falls inside the regular session,
// open inclusive, close inclusive.
func (c *Calendar) WithinSession(t time.Time) bool {
	seconds := t.Hour()*3600 + t.Minute()*60 + t.Second()

	return seconds >= c.Open.Seconds() && seconds <= c.Close.Seconds()
}

// IsMarketClosing reports whether t is within cutoff of the session close.
func (c *Calendar) IsMarketClosing(t time.Time, cutoff time.Duration) bool {
	seconds := t.Hour()*3600 + t.Minute()*60 + t.Second()

	return seconds >= c.Close.Seconds()-int(cutoff.Seconds())
}

// AfterCutoff reports whether t has passed the daily trading end time. The
// cutoff should land on a time step of the chosen bar granularity.
func AfterCutoff(t time.Time, cutoff Clock) bool {
	seconds := t.Hour()*3600 + t.Minute()*60 + t.Second()

	return seconds >= cutoff.Seconds()
}

// SameDay reports whether two timestamps fall on the same calendar date.
func SameDay(a, b time.Time) bool {
	return a.Year() == b.Year() && a.YearDay() == b.YearDay()
}

// TradingDays returns the exchange trading days in [start, end], weekends and
// exchange holidays excluded. Dates are truncated to midnight in start's
// location.
func TradingDays(start, end time.Time) []time.Time {
	var days []time.Time

	for day := midnight(start); !day.After(midnight(end)); day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		if isHoliday(day) {
			continue
		}
		days = append(days, day)
	}

	return days
}

// EarlyCloseDays returns the trading days in [start, end] on which the
// exchange closes early: July 3rd when it trades, the day after Thanksgiving,
// and Christmas Eve when it trades.
func EarlyCloseDays(start, end time.Time) []time.Time {
	var days []time.Time

	for _, day := range TradingDays(start, end) {
		if isEarlyClose(day) {
			days = append(days, day)
		}
	}

	return days
}

// FullTradingDays returns the trading days in [start, end) with a full
// regular session. The end day itself is excluded, matching a half-open
// backtest range, as are early-close days.
func FullTradingDays(start, end time.Time) []time.Time {
	trading := TradingDays(start, end)
	if len(trading) > 0 && SameDay(trading[len(trading)-1], end) {
		trading = trading[:len(trading)-1]
	}

	full := make([]time.Time, 0, len(trading))
	for _, day := range trading {
		if !isEarlyClose(day) {
			full = append(full, day)
		}
	}

	return full
}

// WeekdayBefore walks back the given number of weekdays from end. Holidays
// are not considered; callers use it for coarse lookback windows only.
func WeekdayBefore(end time.Time, days int) time.Time {
	current := end
	for count := 0; count < days; {
		current = current.AddDate(0, 0, -1)
		if current.Weekday() != time.Saturday && current.Weekday() != time.Sunday {
			count++
		}
	}

	return current
}

func midnight(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func isHoliday(day time.Time) bool {
	for _, holiday := range holidays(day.Year()) {
		if day.Month() == holiday.Month() && day.Day() == holiday.Day() {
			return true
		}
	}

	return false
}

func isEarlyClose(day time.Time) bool {
	// July 3rd, when the exchange trades that day.
	if day.Month() == time.July && day.Day() == 3 {
		return true
	}
	// Christmas Eve, when the exchange trades that day.
	if day.Month() == time.December && day.Day() == 24 {
		return true
	}
	// Day after Thanksgiving.
	thanksgiving := nthWeekday(day.Year(), time.November, time.Thursday, 4)
	dayAfter := thanksgiving.AddDate(0, 0, 1)

	return day.Month() == dayAfter.Month() && day.Day() == dayAfter.Day()
}

// holidays lists the NYSE full-closure holidays of a year, with weekend
// observation shifts applied.
func holidays(year int) []time.Time {
	days := []time.Time{
		observed(time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)),
		nthWeekday(year, time.January, time.Monday, 3),  // Martin Luther King Jr. Day
		nthWeekday(year, time.February, time.Monday, 3), // Washington's Birthday
		goodFriday(year),
		lastWeekday(year, time.May, time.Monday), // Memorial Day
		observed(time.Date(year, time.July, 4, 0, 0, 0, 0, time.UTC)),
		nthWeekday(year, time.September, time.Monday, 1),  // Labor Day
		nthWeekday(year, time.November, time.Thursday, 4), // Thanksgiving
		observed(time.Date(year, time.December, 25, 0, 0, 0, 0, time.UTC)),
	}

	if year >= 2022 {
		days = append(days, observed(time.Date(year, time.June, 19, 0, 0, 0, 0, time.UTC)))
	}

	return days
}

// observed shifts a fixed-date holiday to Friday when it falls on Saturday
// and to Monday when it falls on Sunday.
func observed(day time.Time) time.Time {
	switch day.Weekday() {
	case time.Saturday:
		return day.AddDate(0, 0, -1)
	case time.Sunday:
		return day.AddDate(0, 0, 1)
	default:
		return day
	}
}

func nthWeekday(year int, month time.Month, weekday time.Weekday, n int) time.Time {
	day := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	for day.Weekday() != weekday {
		day = day.AddDate(0, 0, 1)
	}

	return day.AddDate(0, 0, (n-1)*7)
}

func lastWeekday(year int, month time.Month, weekday time.Weekday) time.Time {
	day := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	for day.Weekday() != weekday {
		day = day.AddDate(0, 0, -1)
	}

	return day
}

// goodFriday is two days before Easter Sunday, computed with the anonymous
// Gregorian algorithm.
func goodFriday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1

	easter := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)

	return easter.AddDate(0, 0, -2)
}
