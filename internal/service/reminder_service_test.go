package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	dbcontracts "medreminder/contracts/db"
	"medreminder/internal/dispatch"
	"medreminder/internal/reminder"
	"medreminder/internal/repository"
	"medreminder/internal/scheduler"
	"medreminder/pkg/outbox"
)

type fakeSettings struct {
	values map[string]string
	err    error
}

func (f *fakeSettings) GetValues(context.Context, ...string) (map[string]string, error) {
	return f.values, f.err
}

type fakeSchedule struct {
	meds      []repository.ScheduledMedication
	fulfilled map[int64]reminder.Fulfillment
	appts     []repository.ScheduledAppointment

	apptFrom, apptTo time.Time
}

func (f *fakeSchedule) ListActiveMedications(context.Context, string) ([]repository.ScheduledMedication, error) {
	return f.meds, nil
}

func (f *fakeSchedule) ListFulfillments(context.Context, []int64, time.Time, time.Time) (map[int64]reminder.Fulfillment, error) {
	if f.fulfilled == nil {
		return map[int64]reminder.Fulfillment{}, nil
	}
	return f.fulfilled, nil
}

func (f *fakeSchedule) ListPendingAppointments(_ context.Context, from, to time.Time) ([]repository.ScheduledAppointment, error) {
	f.apptFrom, f.apptTo = from, to
	return f.appts, nil
}

// fakeLog keeps committed rows in memory; the unique index is the map key.
type fakeLog struct {
	mu        sync.Mutex
	rows      map[reminder.Key]bool
	nextID    int64
	insertErr error
	daysAsked []string
}

func newFakeLog() *fakeLog { return &fakeLog{rows: map[reminder.Key]bool{}} }

func (f *fakeLog) DayKeys(_ context.Context, _ repository.DBTX, _ reminder.ItemType, day string) (reminder.KeySet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.daysAsked = append(f.daysAsked, day)
	ks := reminder.NewKeySet()
	for k := range f.rows {
		if k.Day == day {
			ks.Add(k)
		}
	}
	return ks, nil
}

func (f *fakeLog) InsertIfAbsent(_ context.Context, _ repository.DBTX, rem reminder.Reminder) (*dbcontracts.NotificationLog, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return nil, false, f.insertErr
	}
	if f.rows[rem.Key] {
		return nil, false, nil
	}
	f.rows[rem.Key] = true
	f.nextID++
	return &dbcontracts.NotificationLog{ID: f.nextID, UserID: rem.Key.RecipientID}, true, nil
}

type fakeGateway struct {
	sent []dispatch.Message
}

func (g *fakeGateway) WithTx(outbox.DBTX) dispatch.Gateway { return g }

func (g *fakeGateway) Send(_ context.Context, msg dispatch.Message) error {
	g.sent = append(g.sent, msg)
	return nil
}

func strptr(s string) *string { return &s }

var (
	patient = dbcontracts.User{ID: 1, Email: strptr("alice@example.com"), FirstName: "Alice", LastName: "Smith"}
	manager = dbcontracts.User{ID: 2, FirstName: "Bob", LastName: "Jones"}
)

func medication(id int64, times string) repository.ScheduledMedication {
	return repository.ScheduledMedication{
		Medication: dbcontracts.Medication{ID: id, UserID: patient.ID, Name: "Aspirin", Dosage: "100mg", TimeToTake: times},
		Patient:    patient,
		Managers:   []dbcontracts.User{manager},
	}
}

type fixture struct {
	mock     pgxmock.PgxPoolIface
	settings *fakeSettings
	schedule *fakeSchedule
	log      *fakeLog
	gateway  *fakeGateway
	svc      *ReminderService
}

func newFixture(t *testing.T, now time.Time) *fixture {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	f := &fixture{
		mock:     mock,
		settings: &fakeSettings{values: map[string]string{}},
		schedule: &fakeSchedule{},
		log:      newFakeLog(),
		gateway:  &fakeGateway{},
	}
	f.svc = NewReminderService(mock, f.settings, f.schedule, f.log, f.gateway, time.UTC, zap.NewNop()).
		WithClock(func() time.Time { return now })
	return f
}

func at(hh, mm, ss int) time.Time {
	return time.Date(2025, 3, 10, hh, mm, ss, 0, time.UTC)
}

func TestCheckMedications_PreReminderCommitted(t *testing.T) {
	f := newFixture(t, at(8, 45, 30))
	f.schedule.meds = []repository.ScheduledMedication{medication(10, "09:00")}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	res, err := f.svc.CheckMedications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	assert.Equal(t, 1, res.Enqueued)
	require.Len(t, f.gateway.sent, 1)
	assert.Equal(t, []string{"alice@example.com"}, f.gateway.sent[0].Recipients)
	assert.Equal(t, reminder.KindPreReminder.String(), f.gateway.sent[0].Kind)
	assert.NoError(t, f.mock.ExpectationsWereMet())

	// a second tick in the same minute finds the key in the day snapshot and opens no transaction
	res, err = f.svc.CheckMedications(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Pending)
	assert.Len(t, f.gateway.sent, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckMedications_DueNowSkipsRecipientWithoutEmail(t *testing.T) {
	f := newFixture(t, at(9, 0, 5))
	f.schedule.meds = []repository.ScheduledMedication{medication(10, "09:00")}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	res, err := f.svc.CheckMedications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, 1, res.Enqueued)
	assert.Len(t, f.log.rows, 2)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckMedications_FulfilledSlotIsSilent(t *testing.T) {
	f := newFixture(t, at(9, 0, 0))
	f.schedule.meds = []repository.ScheduledMedication{medication(10, "09:00, 21:00")}
	f.schedule.fulfilled = map[int64]reminder.Fulfillment{10: {Slots: map[string]bool{"09:00": true}}}

	res, err := f.svc.CheckMedications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Items)
	assert.Zero(t, res.Pending)
	assert.Empty(t, f.gateway.sent)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckMedications_UnparsableSlotSkipped(t *testing.T) {
	f := newFixture(t, at(9, 0, 0))
	f.schedule.meds = []repository.ScheduledMedication{
		medication(10, "9am"),
		medication(11, "09:00"),
	}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	res, err := f.svc.CheckMedications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 2, res.Inserted)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckMedications_StorageFailureRollsBack(t *testing.T) {
	f := newFixture(t, at(9, 0, 0))
	f.schedule.meds = []repository.ScheduledMedication{medication(10, "09:00")}
	f.log.insertErr = errors.New("connection reset by peer")

	f.mock.ExpectBegin()
	f.mock.ExpectRollback()

	res, err := f.svc.CheckMedications(context.Background())
	require.Error(t, err)
	assert.Zero(t, res.Inserted)
	assert.Empty(t, f.gateway.sent)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckMedications_ConcurrentInsertIsNotDispatched(t *testing.T) {
	f := newFixture(t, at(9, 0, 0))
	f.schedule.meds = []repository.ScheduledMedication{medication(10, "09:00")}

	// another instance committed the patient's row after our snapshot was taken
	taken := reminder.Key{
		ItemType:    reminder.ItemMedication,
		ItemID:      10,
		Slot:        "09:00",
		Kind:        reminder.KindDueNow,
		RecipientID: patient.ID,
		Day:         "2025-03-10",
	}
	f.svc.log = &racingLog{fakeLog: f.log, afterSnapshot: func() {
		f.log.rows[taken] = true
	}}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	res, err := f.svc.CheckMedications(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Inserted)
	assert.Empty(t, f.gateway.sent)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

type racingLog struct {
	*fakeLog
	afterSnapshot func()
}

func (r *racingLog) DayKeys(ctx context.Context, q repository.DBTX, it reminder.ItemType, day string) (reminder.KeySet, error) {
	ks, err := r.fakeLog.DayKeys(ctx, q, it, day)
	r.afterSnapshot()
	return ks, err
}

func TestLoadConfig_FallsBackToDefaults(t *testing.T) {
	f := newFixture(t, at(9, 0, 0))

	f.settings.values = map[string]string{reminder.SettingReminderBeforeMinutes: "30"}
	cfg := f.svc.loadConfig(context.Background(), zap.NewNop())
	assert.Equal(t, 30, cfg.ReminderBeforeMinutes)
	assert.Equal(t, reminder.DefaultAlertAfterMinutes, cfg.AlertAfterMinutes)

	f.settings.err = errors.New("db down")
	cfg = f.svc.loadConfig(context.Background(), zap.NewNop())
	assert.Equal(t, reminder.DefaultConfig(), cfg)
}

func TestCheckTodayAppointments_DueNow(t *testing.T) {
	f := newFixture(t, at(14, 0, 20))
	f.schedule.appts = []repository.ScheduledAppointment{{
		Appointment: dbcontracts.Appointment{ID: 5, UserID: patient.ID, Title: "Checkup", AppointmentDatetime: at(14, 0, 0), Status: "pending"},
		Patient:     patient,
		Managers:    []dbcontracts.User{manager},
	}}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	res, err := f.svc.CheckTodayAppointments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	assert.Equal(t, at(0, 0, 0), f.schedule.apptFrom)
	assert.Equal(t, at(0, 0, 0).AddDate(0, 0, 1), f.schedule.apptTo)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckTomorrowAppointments_AdvanceNoticeOncePerDay(t *testing.T) {
	f := newFixture(t, at(7, 0, 0))
	tomorrow := at(10, 30, 0).AddDate(0, 0, 1)
	f.schedule.appts = []repository.ScheduledAppointment{{
		Appointment: dbcontracts.Appointment{ID: 6, UserID: patient.ID, Title: "Dentist", AppointmentDatetime: tomorrow, Status: "pending"},
		Patient:     patient,
	}}

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	res, err := f.svc.CheckTomorrowAppointments(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Enqueued)
	assert.Equal(t, []string{"2025-03-11"}, f.log.daysAsked)

	res, err = f.svc.CheckTomorrowAppointments(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Pending)
	assert.Len(t, f.gateway.sent, 1)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestCheckMedications_UsesScheduledInstantOverLateClock(t *testing.T) {
	// the worker woke up late, after the due minute had already passed
	f := newFixture(t, at(9, 1, 2))
	f.schedule.meds = []repository.ScheduledMedication{medication(10, "09:00")}

	res, err := f.svc.CheckMedications(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Pending)

	f.mock.ExpectBegin()
	f.mock.ExpectCommit()

	ctx := scheduler.WithScheduledTime(context.Background(), at(9, 0, 0))
	res, err = f.svc.CheckMedications(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Inserted)
	require.NotEmpty(t, f.gateway.sent)
	assert.Equal(t, reminder.KindDueNow.String(), f.gateway.sent[0].Kind)
	assert.NoError(t, f.mock.ExpectationsWereMet())
}
