package reminder

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var ErrInvalidTimeOfDay = errors.New("invalid time of day")

const dayLayout = "2006-01-02"

// TimeOfDay is a wall-clock HH:MM in the scheduler's location.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay accepts "H:MM" or "HH:MM" (24h).
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) == 0 || len(mm) > 2 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}

	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalidTimeOfDay, s)
	}

	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// On returns the instant t falls on for the calendar day of ref, in ref's location.
func (t TimeOfDay) On(ref time.Time) time.Time {
	return time.Date(ref.Year(), ref.Month(), ref.Day(), t.Hour, t.Minute, 0, 0, ref.Location())
}

// SplitDoseTimes splits a comma separated time_to_take column into raw slots.
func SplitDoseTimes(raw string) []string {
	var slots []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			slots = append(slots, part)
		}
	}
	if len(slots) == 0 {
		// keep the empty value so the item is reported as unparsable
		slots = append(slots, strings.TrimSpace(raw))
	}
	return slots
}

// NormalizeSlot returns the canonical HH:MM form of a slot, or the trimmed input if it cannot be parsed.
func NormalizeSlot(slot string) string {
	t, err := ParseTimeOfDay(slot)
	if err != nil {
		return strings.TrimSpace(slot)
	}
	return t.String()
}

// DayOf formats the calendar day of t in t's location.
func DayOf(t time.Time) string {
	return t.Format(dayLayout)
}

// FormatElapsed renders whole minutes as "45 minutes", "1 hour", "2 hours 5 minutes".
func FormatElapsed(minutes int) string {
	if minutes < 1 {
		return "a moment"
	}
	if minutes < 60 {
		return plural(minutes, "minute")
	}

	hours, rest := minutes/60, minutes%60
	if rest == 0 {
		return plural(hours, "hour")
	}
	return plural(hours, "hour") + " " + plural(rest, "minute")
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}
