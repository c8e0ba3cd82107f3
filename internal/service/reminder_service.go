package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	dbcontracts "medreminder/contracts/db"
	"medreminder/internal/dispatch"
	"medreminder/internal/reminder"
	"medreminder/internal/repository"
	"medreminder/internal/scheduler"
	"medreminder/pkg/logger"
	"medreminder/pkg/metrics"
	"medreminder/pkg/trace"
)

// DB 同时被 *pgxpool.Pool 和 pgxmock 满足
type DB interface {
	repository.DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

type SettingStore interface {
	GetValues(ctx context.Context, keys ...string) (map[string]string, error)
}

type ScheduleStore interface {
	ListActiveMedications(ctx context.Context, day string) ([]repository.ScheduledMedication, error)
	ListFulfillments(ctx context.Context, medicationIDs []int64, from, to time.Time) (map[int64]reminder.Fulfillment, error)
	ListPendingAppointments(ctx context.Context, from, to time.Time) ([]repository.ScheduledAppointment, error)
}

type NotificationLog interface {
	DayKeys(ctx context.Context, q repository.DBTX, itemType reminder.ItemType, day string) (reminder.KeySet, error)
	InsertIfAbsent(ctx context.Context, q repository.DBTX, rem reminder.Reminder) (*dbcontracts.NotificationLog, bool, error)
}

// TickResult 汇总一次检查的结果
type TickResult struct {
	Items      int `json:"items"`
	Skipped    int `json:"skipped"`
	Pending    int `json:"pending"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Enqueued   int `json:"enqueued"`
}

// ReminderService 执行一次提醒检查：读取配置与条目，评估，并在同一事务中写日志与 outbox
type ReminderService struct {
	db       DB
	settings SettingStore
	schedule ScheduleStore
	log      NotificationLog
	gateway  dispatch.TxGateway
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

func NewReminderService(
	db DB,
	settings SettingStore,
	schedule ScheduleStore,
	log NotificationLog,
	gateway dispatch.TxGateway,
	loc *time.Location,
	logger *zap.Logger,
) *ReminderService {
	if loc == nil {
		loc = time.Local
	}
	return &ReminderService{
		db:       db,
		settings: settings,
		schedule: schedule,
		log:      log,
		gateway:  gateway,
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock 替换时间源，测试使用
func (s *ReminderService) WithClock(now func() time.Time) *ReminderService {
	s.now = now
	return s
}

// CheckMedications 评估当天所有有效药物的每个剂次
func (s *ReminderService) CheckMedications(ctx context.Context) (TickResult, error) {
	ctx, log := s.begin(ctx, "medication-check")
	now := s.tickTime(ctx)
	day := reminder.DayOf(now)
	dayStart := startOfDay(now)

	cfg := s.loadConfig(ctx, log)

	meds, err := s.schedule.ListActiveMedications(ctx, day)
	if err != nil {
		return TickResult{}, err
	}

	ids := make([]int64, 0, len(meds))
	for _, m := range meds {
		ids = append(ids, m.Medication.ID)
	}
	fulfilled, err := s.schedule.ListFulfillments(ctx, ids, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return TickResult{}, err
	}

	var items []reminder.Item
	for _, m := range meds {
		patient := toContact(m.Patient)
		managers := toContacts(m.Managers)
		f := fulfilled[m.Medication.ID]
		for _, slot := range reminder.SplitDoseTimes(m.Medication.TimeToTake) {
			items = append(items, reminder.MedicationDose{
				MedicationID:    m.Medication.ID,
				Name:            m.Medication.Name,
				Dosage:          m.Medication.Dosage,
				MealInstruction: m.Medication.MealInstruction,
				DoseTime:        slot,
				Patient:         patient,
				Managers:        managers,
				Fulfilled:       f.Covers(slot),
			})
		}
	}

	return s.run(ctx, log, now, cfg, reminder.ItemMedication, day, items)
}

// CheckTodayAppointments 评估今天待处理的预约：准点提醒与逾期重复提醒
func (s *ReminderService) CheckTodayAppointments(ctx context.Context) (TickResult, error) {
	ctx, log := s.begin(ctx, "appointment-check")
	now := s.tickTime(ctx)
	day := reminder.DayOf(now)
	dayStart := startOfDay(now)

	cfg := s.loadConfig(ctx, log)

	appts, err := s.schedule.ListPendingAppointments(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return TickResult{}, err
	}

	items := make([]reminder.Item, 0, len(appts))
	for _, a := range appts {
		items = append(items, toAppointmentItem(a))
	}

	return s.run(ctx, log, now, cfg, reminder.ItemAppointment, day, items)
}

// CheckTomorrowAppointments 为明天的预约发送一次提前通知
func (s *ReminderService) CheckTomorrowAppointments(ctx context.Context) (TickResult, error) {
	ctx, log := s.begin(ctx, "appointment-advance-notice")
	now := s.tickTime(ctx)
	tomorrowStart := startOfDay(now).AddDate(0, 0, 1)
	tomorrow := reminder.DayOf(tomorrowStart)

	cfg := s.loadConfig(ctx, log)

	appts, err := s.schedule.ListPendingAppointments(ctx, tomorrowStart, tomorrowStart.AddDate(0, 0, 1))
	if err != nil {
		return TickResult{}, err
	}

	items := make([]reminder.Item, 0, len(appts))
	for _, a := range appts {
		items = append(items, reminder.AdvanceNotice{Appointment: toAppointmentItem(a)})
	}

	return s.run(ctx, log, now, cfg, reminder.ItemAppointment, tomorrow, items)
}

// tickTime 定时触发时使用触发器的计划时刻，手动执行时使用当前时钟
func (s *ReminderService) tickTime(ctx context.Context) time.Time {
	if at, ok := scheduler.ScheduledTime(ctx); ok {
		return at.In(s.loc)
	}
	return s.now().In(s.loc)
}

func (s *ReminderService) begin(ctx context.Context, job string) (context.Context, *zap.Logger) {
	if trace.FromContext(ctx) == "" {
		ctx = trace.WithContext(ctx, trace.GenerateTraceID())
	}
	return ctx, logger.WithTrace(ctx, s.logger).With(zap.String("job", job))
}

// loadConfig 读取失败或缺失时使用默认值，不中断本次检查
func (s *ReminderService) loadConfig(ctx context.Context, log *zap.Logger) reminder.Config {
	values, err := s.settings.GetValues(ctx,
		reminder.SettingReminderBeforeMinutes,
		reminder.SettingAlertAfterMinutes,
		reminder.SettingAppointmentRepeatMinutes,
	)
	if err != nil {
		log.Warn("Failed to load system settings, using defaults", zap.Error(err))
		return reminder.DefaultConfig()
	}

	cfg, fallbacks := reminder.ConfigFromSettings(values)
	if len(fallbacks) > 0 {
		log.Debug("Using default values for settings", zap.Strings("keys", fallbacks))
	}
	return cfg
}

func (s *ReminderService) run(
	ctx context.Context,
	log *zap.Logger,
	now time.Time,
	cfg reminder.Config,
	itemType reminder.ItemType,
	day string,
	items []reminder.Item,
) (TickResult, error) {
	res := TickResult{Items: len(items)}

	history, err := s.log.DayKeys(ctx, s.db, itemType, day)
	if err != nil {
		return res, err
	}

	eval := reminder.Evaluate(now, cfg, items, history)
	for _, sk := range eval.Skipped {
		log.Warn("Skipping schedule item",
			zap.String("item_type", string(sk.ItemType)),
			zap.Int64("item_id", sk.ItemID),
			zap.String("slot", sk.Slot),
			zap.Error(sk.Err),
		)
		metrics.IncrementItemSkipped(skipReason(sk.Err))
	}
	res.Skipped = len(eval.Skipped)
	res.Pending = len(eval.Reminders)

	if len(eval.Reminders) == 0 {
		return res, nil
	}

	if err := s.persist(ctx, log, eval.Reminders, &res); err != nil {
		return TickResult{Items: res.Items, Skipped: res.Skipped, Pending: res.Pending}, err
	}

	log.Info("Reminder check completed",
		zap.Int("items", res.Items),
		zap.Int("pending", res.Pending),
		zap.Int("inserted", res.Inserted),
		zap.Int("duplicates", res.Duplicates),
		zap.Int("enqueued", res.Enqueued),
	)
	return res, nil
}

// persist 在一个事务中写入 notification_log，只为真正插入的行入队 outbox；任何存储错误整体回滚
func (s *ReminderService) persist(ctx context.Context, log *zap.Logger, reminders []reminder.Reminder, res *TickResult) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	gw := s.gateway.WithTx(tx)
	for _, rem := range reminders {
		entry, inserted, err := s.log.InsertIfAbsent(ctx, tx, rem)
		if err != nil {
			return err
		}
		if !inserted {
			res.Duplicates++
			continue
		}
		res.Inserted++
		metrics.IncrementReminderEmitted(string(rem.Key.ItemType), rem.Key.Kind.String())

		if rem.Recipient.Email == "" {
			log.Debug("Recipient has no email, notification logged only",
				zap.Int64("user_id", rem.Recipient.UserID),
				zap.String("key", rem.Key.String()),
			)
			continue
		}

		err = gw.Send(ctx, dispatch.Message{
			Subject:        rem.Subject,
			Recipients:     []string{rem.Recipient.Email},
			Text:           rem.Text,
			HTML:           rem.HTML,
			NotificationID: entry.ID,
			RecipientID:    rem.Recipient.UserID,
			ItemType:       string(rem.Key.ItemType),
			ItemID:         rem.Key.ItemID,
			Kind:           rem.Key.Kind.String(),
		})
		if errors.Is(err, dispatch.ErrNoRecipients) {
			continue
		}
		if err != nil {
			return err
		}
		res.Enqueued++
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reminders: %w", err)
	}
	committed = true
	return nil
}

func skipReason(err error) string {
	if errors.Is(err, reminder.ErrInvalidTimeOfDay) {
		return "invalid_time"
	}
	return "evaluation_error"
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func toContact(u dbcontracts.User) reminder.Contact {
	c := reminder.Contact{UserID: u.ID, FirstName: u.FirstName, LastName: u.LastName}
	if u.Email != nil {
		c.Email = *u.Email
	}
	return c
}

func toContacts(users []dbcontracts.User) []reminder.Contact {
	out := make([]reminder.Contact, 0, len(users))
	for _, u := range users {
		out = append(out, toContact(u))
	}
	return out
}

func toAppointmentItem(a repository.ScheduledAppointment) reminder.AppointmentItem {
	return reminder.AppointmentItem{
		AppointmentID: a.Appointment.ID,
		Title:         a.Appointment.Title,
		DoctorName:    a.Appointment.DoctorName,
		Location:      a.Appointment.Location,
		Notes:         a.Appointment.Notes,
		At:            a.Appointment.AppointmentDatetime,
		Status:        a.Appointment.Status,
		Patient:       toContact(a.Patient),
		Managers:      toContacts(a.Managers),
	}
}
