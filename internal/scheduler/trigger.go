package scheduler

import (
	"fmt"
	"time"
)

// Trigger computes the next fire time strictly after the given instant.
type Trigger interface {
	Next(after time.Time) time.Time
	String() string
}

type every struct {
	d time.Duration
}

// Every fires on multiples of d, so Every(time.Minute) fires at hh:mm:00.
func Every(d time.Duration) Trigger {
	if d <= 0 {
		d = time.Minute
	}
	return every{d: d}
}

func (e every) Next(after time.Time) time.Time {
	return after.Truncate(e.d).Add(e.d)
}

func (e every) String() string { return "every " + e.d.String() }

type dailyAt struct {
	hour, minute int
	loc          *time.Location
}

// DailyAt fires once a day at hour:minute in loc.
func DailyAt(hour, minute int, loc *time.Location) Trigger {
	if loc == nil {
		loc = time.Local
	}
	return dailyAt{hour: hour, minute: minute, loc: loc}
}

func (d dailyAt) Next(after time.Time) time.Time {
	a := after.In(d.loc)
	next := time.Date(a.Year(), a.Month(), a.Day(), d.hour, d.minute, 0, 0, d.loc)
	if !next.After(after) {
		next = time.Date(a.Year(), a.Month(), a.Day()+1, d.hour, d.minute, 0, 0, d.loc)
	}
	return next
}

func (d dailyAt) String() string {
	return fmt.Sprintf("daily at %02d:%02d %s", d.hour, d.minute, d.loc)
}
