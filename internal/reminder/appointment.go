package reminder

import (
	"time"
)

const StatusPending = "pending"

// AppointmentItem is a pending appointment evaluated on its own day.
type AppointmentItem struct {
	AppointmentID int64
	Title         string
	DoctorName    string
	Location      string
	Notes         string
	At            time.Time
	Status        string
	Patient       Contact
	Managers      []Contact
}

func (a AppointmentItem) Type() ItemType { return ItemAppointment }
func (a AppointmentItem) ID() int64      { return a.AppointmentID }
func (a AppointmentItem) Slot() string   { return "" }

// Evaluate fires the due-now notice at the exact minute and manager-only overdue
// repeats every AppointmentRepeatMinutes while the appointment stays pending.
func (a AppointmentItem) Evaluate(now time.Time, cfg Config, history History) ([]Reminder, error) {
	if a.Status != StatusPending {
		return nil, nil
	}

	at := a.At.In(now.Location())
	day := DayOf(now)
	if DayOf(at) != day {
		return nil, nil
	}

	e := &emitter{history: history}

	if now.Hour() == at.Hour() && now.Minute() == at.Minute() {
		e.emit(a.key(KindDueNow, a.Patient.UserID, day, 0), AudiencePatient, a.Patient, a.dueNowPatientMessage(at))
		for _, m := range a.Managers {
			e.emit(a.key(KindDueNow, m.UserID, day, 0), AudienceManager, m, a.dueNowManagerMessage(at))
		}
	}

	due := at.Truncate(time.Minute)
	if past := now.Sub(due); past > 0 {
		elapsed := elapsedWhole(past)
		repeat := cfg.AppointmentRepeatMinutes
		if elapsed >= repeat && elapsed%repeat == 0 {
			window := due.Add(time.Duration(elapsed) * time.Minute).Unix()
			for _, m := range a.Managers {
				e.emit(a.key(KindOverdueRepeat, m.UserID, day, window), AudienceManager, m, a.overdueManagerMessage(elapsed))
			}
		}
	}

	return e.out, nil
}

func (a AppointmentItem) key(kind Kind, recipient int64, day string, window int64) Key {
	return Key{
		ItemType:    ItemAppointment,
		ItemID:      a.AppointmentID,
		Kind:        kind,
		RecipientID: recipient,
		Day:         day,
		Window:      window,
	}
}

// AdvanceNotice wraps an appointment for the once-daily "tomorrow" notice.
type AdvanceNotice struct {
	Appointment AppointmentItem
}

func (n AdvanceNotice) Type() ItemType { return ItemAppointment }
func (n AdvanceNotice) ID() int64      { return n.Appointment.AppointmentID }
func (n AdvanceNotice) Slot() string   { return "" }

// Evaluate notifies patient and managers once per appointment day when the
// appointment falls on the day after now.
func (n AdvanceNotice) Evaluate(now time.Time, _ Config, history History) ([]Reminder, error) {
	a := n.Appointment
	if a.Status != StatusPending {
		return nil, nil
	}

	at := a.At.In(now.Location())
	tomorrow := DayOf(now.AddDate(0, 0, 1))
	if DayOf(at) != tomorrow {
		return nil, nil
	}

	e := &emitter{history: history}
	e.emit(a.key(KindNextDayAdvance, a.Patient.UserID, tomorrow, 0), AudiencePatient, a.Patient, a.advancePatientMessage(at))
	for _, m := range a.Managers {
		e.emit(a.key(KindNextDayAdvance, m.UserID, tomorrow, 0), AudienceManager, m, a.advanceManagerMessage(at))
	}
	return e.out, nil
}
