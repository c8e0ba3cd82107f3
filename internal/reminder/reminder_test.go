package reminder

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	loc     = time.FixedZone("ICT", 7*3600)
	patient = Contact{UserID: 10, FirstName: "Somchai", LastName: "Dee", Email: "somchai@example.org"}
	mgrA    = Contact{UserID: 20, FirstName: "Anan", LastName: "K", Email: "anan@example.org"}
	mgrB    = Contact{UserID: 21, FirstName: "Mali", LastName: "S"}
)

func at(hh, mm, ss int) time.Time {
	return time.Date(2026, 3, 14, hh, mm, ss, 0, loc)
}

func dose(slot string) MedicationDose {
	return MedicationDose{
		MedicationID: 1,
		Name:         "Metformin",
		Dosage:       "500mg",
		DoseTime:     slot,
		Patient:      patient,
		Managers:     []Contact{mgrA, mgrB},
	}
}

// tick evaluates items and records every emitted key, like a committed tick would.
func tick(now time.Time, cfg Config, log KeySet, items ...Item) []Reminder {
	res := Evaluate(now, cfg, items, log)
	for _, r := range res.Reminders {
		log.Add(r.Key)
	}
	return res.Reminders
}

func kinds(rs []Reminder) map[Kind][]int64 {
	out := map[Kind][]int64{}
	for _, r := range rs {
		out[r.Key.Kind] = append(out[r.Key.Kind], r.Recipient.UserID)
	}
	return out
}

func TestParseTimeOfDay(t *testing.T) {
	cases := map[string]TimeOfDay{
		"09:00":   {9, 0},
		"9:05":    {9, 5},
		" 23:59 ": {23, 59},
		"00:00":   {0, 0},
	}
	for in, want := range cases {
		got, err := ParseTimeOfDay(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "9", "24:00", "12:60", "ab:cd", "9:5:1", "123:00", "-1:00"} {
		_, err := ParseTimeOfDay(bad)
		assert.ErrorIs(t, err, ErrInvalidTimeOfDay, bad)
	}
}

func TestSplitDoseTimes(t *testing.T) {
	assert.Equal(t, []string{"08:00", "20:00"}, SplitDoseTimes("08:00, 20:00"))
	assert.Equal(t, []string{"08:00"}, SplitDoseTimes("08:00"))
	assert.Equal(t, []string{""}, SplitDoseTimes(" "))
	assert.Equal(t, "08:05", NormalizeSlot("8:05"))
	assert.Equal(t, "later", NormalizeSlot(" later "))
}

func TestFormatElapsed(t *testing.T) {
	assert.Equal(t, "a moment", FormatElapsed(0))
	assert.Equal(t, "1 minute", FormatElapsed(1))
	assert.Equal(t, "45 minutes", FormatElapsed(45))
	assert.Equal(t, "1 hour", FormatElapsed(60))
	assert.Equal(t, "2 hours", FormatElapsed(120))
	assert.Equal(t, "1 hour 20 minutes", FormatElapsed(80))
	assert.Equal(t, "3 hours 1 minute", FormatElapsed(181))
}

func TestConfigFromSettings(t *testing.T) {
	cfg, fallbacks := ConfigFromSettings(nil)
	assert.Equal(t, Config{15, 15, 60}, cfg)
	assert.Len(t, fallbacks, 3)

	cfg, fallbacks = ConfigFromSettings(map[string]string{
		SettingReminderBeforeMinutes:    "abc",
		SettingAlertAfterMinutes:        " 20 ",
		SettingAppointmentRepeatMinutes: "0",
	})
	assert.Equal(t, 15, cfg.ReminderBeforeMinutes)
	assert.Equal(t, 20, cfg.AlertAfterMinutes)
	assert.Equal(t, 60, cfg.AppointmentRepeatMinutes)
	assert.ElementsMatch(t, []string{SettingReminderBeforeMinutes, SettingAppointmentRepeatMinutes}, fallbacks)
}

func TestKind(t *testing.T) {
	for _, k := range []Kind{KindPreReminder, KindDueNow, KindOverdueRepeat, KindNextDayAdvance} {
		parsed, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	}
	_, err := ParseKind("later")
	assert.Error(t, err)
	assert.True(t, KindOverdueRepeat.Windowed())
	assert.False(t, KindDueNow.Windowed())
}

func TestMedication_NoDuplicateDueNow(t *testing.T) {
	log := NewKeySet()
	cfg := DefaultConfig()

	first := tick(at(9, 0, 0), cfg, log, dose("09:00"))
	second := tick(at(9, 0, 40), cfg, log, dose("09:00"))

	assert.Equal(t, []int64{10, 20, 21}, kinds(first)[KindDueNow])
	assert.Empty(t, second)
}

func TestMedication_SuppressedWhenFulfilled(t *testing.T) {
	log := NewKeySet()
	cfg := DefaultConfig()
	d := dose("09:00")
	d.Fulfilled = true

	for m := 0; m < 24*60; m++ {
		now := at(0, 0, 0).Add(time.Duration(m) * time.Minute)
		assert.Empty(t, tick(now, cfg, log, d), now)
	}
}

func TestFulfillment_Covers(t *testing.T) {
	f := Fulfillment{Slots: map[string]bool{"08:00": true}}
	assert.True(t, f.Covers("8:00"))
	assert.False(t, f.Covers("20:00"))
	assert.True(t, Fulfillment{AllDay: true}.Covers("20:00"))
}

func TestMedication_PreReminderFiresOnce(t *testing.T) {
	log := NewKeySet()
	cfg := DefaultConfig()

	var pre []Reminder
	for m := 15; m >= 1; m-- {
		now := at(9, 0, 0).Add(-time.Duration(m) * time.Minute)
		for _, r := range tick(now, cfg, log, dose("09:00")) {
			if r.Key.Kind == KindPreReminder {
				assert.Equal(t, at(8, 45, 0), now)
				pre = append(pre, r)
			}
		}
	}

	require.Len(t, pre, 1)
	assert.Equal(t, AudiencePatient, pre[0].Audience)
	assert.Equal(t, patient.UserID, pre[0].Recipient.UserID)
	assert.Equal(t, "Medication in 15 minutes", pre[0].Subject)
}

func TestMedication_OverdueCadence(t *testing.T) {
	log := NewKeySet()
	cfg := Config{ReminderBeforeMinutes: 15, AlertAfterMinutes: 20, AppointmentRepeatMinutes: 60}

	var fired []time.Duration
	for m := 1; m <= 130; m++ {
		now := at(9, 0, 0).Add(time.Duration(m)*time.Minute + 250*time.Millisecond)
		rs := tick(now, cfg, log, dose("09:00"))
		if ids := kinds(rs)[KindOverdueRepeat]; len(ids) > 0 {
			assert.Equal(t, []int64{10, 20, 21}, ids)
			fired = append(fired, time.Duration(m)*time.Minute)
		}
	}

	assert.Equal(t, []time.Duration{20 * time.Minute, 40 * time.Minute, 60 * time.Minute,
		80 * time.Minute, 100 * time.Minute, 120 * time.Minute}, fired)
}

func TestMedication_OverdueWindowKeys(t *testing.T) {
	cfg := DefaultConfig()
	rs := Evaluate(at(9, 15, 2), cfg, []Item{dose("09:00")}, nil).Reminders
	require.NotEmpty(t, rs)
	for _, r := range rs {
		assert.Equal(t, KindOverdueRepeat, r.Key.Kind)
		assert.Equal(t, at(9, 15, 0).Unix(), r.Key.Window)
		assert.Equal(t, "2026-03-14", r.Key.Day)
		assert.Equal(t, "09:00", r.Key.Slot)
	}
	assert.Contains(t, rs[0].Text, "Somchai")
	assert.Contains(t, rs[1].Text, "about 15 minutes overdue")
}

func TestMedication_EndToEndScenario(t *testing.T) {
	log := NewKeySet()
	cfg := Config{ReminderBeforeMinutes: 15, AlertAfterMinutes: 20, AppointmentRepeatMinutes: 60}
	d := dose("09:00")

	// a tick landing within the minute before 08:46
	rs := tick(at(8, 45, 30), cfg, log, d)
	require.Len(t, rs, 1)
	assert.Equal(t, KindPreReminder, rs[0].Key.Kind)
	assert.Equal(t, patient.UserID, rs[0].Recipient.UserID)

	rs = tick(at(9, 0, 0), cfg, log, d)
	assert.Equal(t, map[Kind][]int64{KindDueNow: {10, 20, 21}}, kinds(rs))

	rs = tick(at(9, 20, 0), cfg, log, d)
	assert.Equal(t, map[Kind][]int64{KindOverdueRepeat: {10, 20, 21}}, kinds(rs))

	assert.Empty(t, tick(at(9, 21, 0), cfg, log, d))
}

func TestMedication_MultipleSlotsIndependent(t *testing.T) {
	log := NewKeySet()
	cfg := DefaultConfig()
	morning := dose("08:00")
	evening := dose("20:00")
	morning.Fulfilled = true

	assert.Empty(t, tick(at(8, 0, 0), cfg, log, morning, evening))
	rs := tick(at(20, 0, 0), cfg, log, morning, evening)
	require.Len(t, rs, 3)
	for _, r := range rs {
		assert.Equal(t, "20:00", r.Key.Slot)
	}
}

func TestEvaluate_SkipsUnparsableItems(t *testing.T) {
	bad := dose("soon")
	bad.MedicationID = 2
	good := dose("09:00")

	res := Evaluate(at(9, 0, 0), DefaultConfig(), []Item{bad, good}, nil)
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, int64(2), res.Skipped[0].ItemID)
	assert.True(t, errors.Is(res.Skipped[0].Err, ErrInvalidTimeOfDay))
	assert.Len(t, res.Reminders, 3)
}

func TestEvaluate_StableOrderAndBatchDedup(t *testing.T) {
	a := dose("09:00")
	a.MedicationID = 5
	b := dose("09:00")
	b.MedicationID = 3
	dup := dose("9:00")
	dup.MedicationID = 3

	res := Evaluate(at(9, 0, 0), DefaultConfig(), []Item{a, b, dup}, nil)
	require.Len(t, res.Reminders, 6)
	assert.Equal(t, int64(3), res.Reminders[0].Key.ItemID)
	assert.Equal(t, int64(5), res.Reminders[5].Key.ItemID)
}

func appt(hh, mm int) AppointmentItem {
	return AppointmentItem{
		AppointmentID: 7,
		Title:         "Eye check",
		DoctorName:    "Dr. Prasert",
		Location:      "City Hospital",
		At:            at(hh, mm, 0),
		Status:        StatusPending,
		Patient:       patient,
		Managers:      []Contact{mgrA, mgrB},
	}
}

func TestAppointment_DueNowAndHourlyOverdue(t *testing.T) {
	log := NewKeySet()
	cfg := DefaultConfig()
	a := appt(10, 30)

	rs := tick(at(10, 30, 5), cfg, log, a)
	assert.Equal(t, map[Kind][]int64{KindDueNow: {10, 20, 21}}, kinds(rs))
	assert.Empty(t, tick(at(10, 30, 45), cfg, log, a))

	var overdue []int
	for m := 1; m <= 180; m++ {
		now := at(10, 30, 0).Add(time.Duration(m) * time.Minute)
		if ids := kinds(tick(now, cfg, log, a))[KindOverdueRepeat]; len(ids) > 0 {
			assert.Equal(t, []int64{20, 21}, ids)
			overdue = append(overdue, m)
		}
	}
	assert.Equal(t, []int{60, 120, 180}, overdue)
}

func TestAppointment_NotPendingOrOtherDay(t *testing.T) {
	cfg := DefaultConfig()
	confirmed := appt(10, 30)
	confirmed.Status = "confirmed"
	assert.Empty(t, Evaluate(at(10, 30, 0), cfg, []Item{confirmed}, nil).Reminders)

	yesterday := appt(10, 30)
	yesterday.At = yesterday.At.AddDate(0, 0, -1)
	assert.Empty(t, Evaluate(at(11, 30, 0), cfg, []Item{yesterday}, nil).Reminders)
}

func TestAdvanceNotice(t *testing.T) {
	log := NewKeySet()
	cfg := DefaultConfig()
	a := appt(10, 30)
	a.At = a.At.AddDate(0, 0, 1)

	rs := tick(at(7, 0, 0), cfg, log, AdvanceNotice{Appointment: a})
	assert.Equal(t, map[Kind][]int64{KindNextDayAdvance: {10, 20, 21}}, kinds(rs))
	assert.Equal(t, "2026-03-15", rs[0].Key.Day)
	assert.Contains(t, rs[0].Text, "15/03/2026")
	assert.Contains(t, rs[0].HTML, "City Hospital")

	// a restarted daily job must not send again
	assert.Empty(t, tick(at(7, 5, 0), cfg, log, AdvanceNotice{Appointment: a}))

	// appointment today is not a next-day notice
	assert.Empty(t, Evaluate(at(7, 0, 0), cfg, []Item{AdvanceNotice{Appointment: appt(10, 30)}}, nil).Reminders)
}

func TestRenderHTMLEscapes(t *testing.T) {
	html := renderHTML("Hello <b>\n\nline1\nline2")
	assert.Equal(t, "<html><body><p>Hello &lt;b&gt;</p><p>line1<br>line2</p></body></html>", html)
}

func TestKeyString(t *testing.T) {
	k := Key{ItemType: ItemMedication, ItemID: 1, Slot: "09:00", Kind: KindOverdueRepeat, RecipientID: 10, Day: "2026-03-14", Window: 42}
	assert.Equal(t, "medication:1@09:00:overdue_repeat:u10:2026-03-14:w42", k.String())
	assert.Equal(t, time.Unix(0, 0).UTC(), Key{}.WindowStart())
}
