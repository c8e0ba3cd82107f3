package reminder

import (
	"fmt"
	"time"
)

// Fulfillment summarizes a day's medication_logs for one medication.
// AllDay is set by a log without dose_time.
type Fulfillment struct {
	AllDay bool
	Slots  map[string]bool
}

// Covers reports whether the given slot was taken.
func (f Fulfillment) Covers(slot string) bool {
	return f.AllDay || f.Slots[NormalizeSlot(slot)]
}

// MedicationDose is one dose slot of a medication on the evaluated day.
type MedicationDose struct {
	MedicationID    int64
	Name            string
	Dosage          string
	MealInstruction string
	DoseTime        string
	Patient         Contact
	Managers        []Contact
	Fulfilled       bool
}

func (d MedicationDose) Type() ItemType { return ItemMedication }
func (d MedicationDose) ID() int64      { return d.MedicationID }
func (d MedicationDose) Slot() string   { return NormalizeSlot(d.DoseTime) }

// Evaluate checks fulfillment first, then the pre-reminder, due-now and overdue branches.
func (d MedicationDose) Evaluate(now time.Time, cfg Config, history History) ([]Reminder, error) {
	if d.Fulfilled {
		return nil, nil
	}

	tod, err := ParseTimeOfDay(d.DoseTime)
	if err != nil {
		return nil, fmt.Errorf("medication %d: %w", d.MedicationID, err)
	}

	due := tod.On(now)
	day := DayOf(now)
	until := due.Sub(now)
	untilMin := until.Minutes()
	e := &emitter{history: history}

	before := cfg.ReminderBeforeMinutes
	if float64(before-1) < untilMin && untilMin <= float64(before) {
		e.emit(d.key(KindPreReminder, d.Patient.UserID, day, 0), AudiencePatient, d.Patient, d.preReminderMessage(tod, before))
	}

	if now.Hour() == tod.Hour && now.Minute() == tod.Minute {
		e.emit(d.key(KindDueNow, d.Patient.UserID, day, 0), AudiencePatient, d.Patient, d.dueNowPatientMessage(tod))
		for _, m := range d.Managers {
			e.emit(d.key(KindDueNow, m.UserID, day, 0), AudienceManager, m, d.dueNowManagerMessage(tod))
		}
	}

	if until < 0 {
		elapsed := elapsedWhole(-until)
		alert := cfg.AlertAfterMinutes
		if elapsed >= alert && elapsed%alert == 0 {
			window := due.Add(time.Duration(elapsed) * time.Minute).Unix()
			e.emit(d.key(KindOverdueRepeat, d.Patient.UserID, day, window), AudiencePatient, d.Patient, d.overduePatientMessage(tod, elapsed))
			for _, m := range d.Managers {
				e.emit(d.key(KindOverdueRepeat, m.UserID, day, window), AudienceManager, m, d.overdueManagerMessage(tod, elapsed))
			}
		}
	}

	return e.out, nil
}

func (d MedicationDose) key(kind Kind, recipient int64, day string, window int64) Key {
	return Key{
		ItemType:    ItemMedication,
		ItemID:      d.MedicationID,
		Slot:        d.Slot(),
		Kind:        kind,
		RecipientID: recipient,
		Day:         day,
		Window:      window,
	}
}
