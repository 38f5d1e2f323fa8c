package calendar

import (
	"fmt"
	"time"
)

const dateLayout = "2006-01-02"

// Calendar knows the KRX trading days: weekdays that are not listed holidays.
type Calendar struct {
	loc      *time.Location
	holidays map[string]struct{}
}

// New parses holidays given as YYYY-MM-DD.
func New(loc *time.Location, holidays []string) (*Calendar, error) {
	if loc == nil {
		loc = time.Local
	}
	c := &Calendar{
		loc:      loc,
		holidays: make(map[string]struct{}, len(holidays)),
	}
	for _, h := range holidays {
		d, err := time.ParseInLocation(dateLayout, h, loc)
		if err != nil {
			return nil, fmt.Errorf("calendar: bad holiday %q: %w", h, err)
		}
		c.holidays[d.Format(dateLayout)] = struct{}{}
	}
	return c, nil
}

func (c *Calendar) Location() *time.Location { return c.loc }

func (c *Calendar) IsHoliday(d time.Time) bool {
	_, ok := c.holidays[d.In(c.loc).Format(dateLayout)]
	return ok
}

func (c *Calendar) IsBusinessDay(d time.Time) bool {
	d = d.In(c.loc)
	switch d.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	return !c.IsHoliday(d)
}

// BusinessDay rolls d back to the closest business day at or before it.
func (c *Calendar) BusinessDay(d time.Time) time.Time {
	d = Day(d.In(c.loc))
	for !c.IsBusinessDay(d) {
		d = d.AddDate(0, 0, -1)
	}
	return d
}

// PreviousBusinessDay is the business day strictly before d.
func (c *Calendar) PreviousBusinessDay(d time.Time) time.Time {
	return c.BusinessDay(Day(d.In(c.loc)).AddDate(0, 0, -1))
}

// TargetDate is the forced-exit date: start adjusted to a business day, then n business days later.
func (c *Calendar) TargetDate(start time.Time, n int) time.Time {
	d := c.BusinessDay(start)
	for i := 0; i < n; i++ {
		d = d.AddDate(0, 0, 1)
		for !c.IsBusinessDay(d) {
			d = d.AddDate(0, 0, 1)
		}
	}
	return d
}

// Day truncates t to midnight in its own location.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
