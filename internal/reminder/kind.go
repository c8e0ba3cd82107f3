package reminder

import "fmt"

// Kind is the reminder variant an evaluation produced.
type Kind int

const (
	KindPreReminder Kind = iota + 1
	KindDueNow
	KindOverdueRepeat
	KindNextDayAdvance
)

var kindNames = map[Kind]string{
	KindPreReminder:    "pre_reminder",
	KindDueNow:         "due_now",
	KindOverdueRepeat:  "overdue_repeat",
	KindNextDayAdvance: "next_day_advance",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown reminder kind %q", s)
}

// Windowed reports whether the kind is deduplicated per window rather than per day.
func (k Kind) Windowed() bool {
	return k == KindOverdueRepeat
}

// ItemType identifies the schedule item variant.
type ItemType string

const (
	ItemMedication  ItemType = "medication"
	ItemAppointment ItemType = "appointment"
)

// Audience tells whether a reminder addresses the patient or one of the managers.
type Audience string

const (
	AudiencePatient Audience = "patient"
	AudienceManager Audience = "manager"
)
