package executor

import (
	"time"

	"github.com/rustyeddy/trading-executor/market"
)

const secondsPerDay = 24 * 60 * 60

// ValidateInstrumentDayOff fails with DayOff when now falls inside any of
// the instrument's day-off windows.
func ValidateInstrumentDayOff(inst market.Instrument, now time.Time) error {
	for _, d := range inst.DaysOff {
		if err := validateDayOff(d, now); err != nil {
			return err
		}
	}
	return nil
}

// validateDayOff places the window bounds and now on a single week axis,
// Monday 00:00:00 being 0. When from < to the window is [from, to]; otherwise
// it wraps past the end of the week and covers [from, end] and [0, to].
func validateDayOff(d market.DayOff, now time.Time) error {
	from, err := windowIndex(d.DowFrom, d.TimeFrom)
	if err != nil {
		return err
	}
	to, err := windowIndex(d.DowTo, d.TimeTo)
	if err != nil {
		return err
	}

	now = now.UTC()
	cur := weekIndex(mondayBased(now.Weekday()), now.Hour(), now.Minute(), now.Second())

	var off bool
	if from < to {
		off = from <= cur && cur <= to
	} else {
		off = cur >= from || cur <= to
	}
	if off {
		return failf(StatusDayOff, "day off %d %s - %d %s", d.DowFrom, d.TimeFrom, d.DowTo, d.TimeTo)
	}
	return nil
}

func windowIndex(dayCode int, clock string) (int, error) {
	wd, ok := dayCodeToWeekday(dayCode)
	if !ok {
		return 0, failf(StatusInstrumentIsNotTradable, "bad day-off day code %d", dayCode)
	}
	t, err := time.Parse(time.TimeOnly, clock)
	if err != nil {
		return 0, failf(StatusInstrumentIsNotTradable, "bad day-off time %q: %v", clock, err)
	}
	return weekIndex(wd, t.Hour(), t.Minute(), t.Second()), nil
}

// dayCodeToWeekday converts the venue day code (0 Sunday, 1..6 Monday to
// Saturday) to a Monday-based weekday (0 Monday .. 6 Sunday). This is the
// only place the two numberings meet.
func dayCodeToWeekday(code int) (int, bool) {
	if code < 0 || code > 6 {
		return 0, false
	}
	if code == 0 {
		return 6, true
	}
	return code - 1, true
}

func mondayBased(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func weekIndex(weekday, h, m, s int) int {
	return weekday*secondsPerDay + h*3600 + m*60 + s
}
