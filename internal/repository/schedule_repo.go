package repository

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	dbcontracts "medreminder/contracts/db"
	"medreminder/internal/reminder"
)

// ScheduledMedication 是当天有效的药物及其联系人
type ScheduledMedication struct {
	Medication dbcontracts.Medication
	Patient    dbcontracts.User
	Managers   []dbcontracts.User
}

// ScheduledAppointment 是待处理的预约及其联系人
type ScheduledAppointment struct {
	Appointment dbcontracts.Appointment
	Patient     dbcontracts.User
	Managers    []dbcontracts.User
}

type ScheduleRepository struct {
	db     DBTX
	logger *zap.Logger
}

func NewScheduleRepository(db DBTX, logger *zap.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

// ListActiveMedications 返回 start_date <= day <= end_date（或无 end_date）的药物
func (r *ScheduleRepository) ListActiveMedications(ctx context.Context, day string) ([]ScheduledMedication, error) {
	query := `
		SELECT m.id, m.user_id, m.name, m.dosage, m.meal_instruction, m.time_to_take, m.start_date, m.end_date,
		       u.id, u.email, u.first_name, u.last_name
		FROM medications m
		JOIN users u ON u.id = m.user_id
		WHERE m.start_date <= $1::date
		AND (m.end_date IS NULL OR m.end_date >= $1::date)
		ORDER BY m.id
	`

	rows, err := r.db.Query(ctx, query, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query active medications: %w", err)
	}
	defer rows.Close()

	var meds []ScheduledMedication
	for rows.Next() {
		var sm ScheduledMedication
		m, u := &sm.Medication, &sm.Patient
		if err := rows.Scan(&m.ID, &m.UserID, &m.Name, &m.Dosage, &m.MealInstruction, &m.TimeToTake, &m.StartDate, &m.EndDate,
			&u.ID, &u.Email, &u.FirstName, &u.LastName); err != nil {
			return nil, fmt.Errorf("failed to scan medication: %w", err)
		}
		meds = append(meds, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	patientIDs := make([]int64, 0, len(meds))
	for _, m := range meds {
		patientIDs = append(patientIDs, m.Patient.ID)
	}
	managers, err := r.managersByPatient(ctx, patientIDs)
	if err != nil {
		return nil, err
	}
	for i := range meds {
		meds[i].Managers = managers[meds[i].Patient.ID]
	}

	return meds, nil
}

// ListFulfillments 返回 [from, to) 内的服药记录，按药物汇总
func (r *ScheduleRepository) ListFulfillments(ctx context.Context, medicationIDs []int64, from, to time.Time) (map[int64]reminder.Fulfillment, error) {
	result := make(map[int64]reminder.Fulfillment)
	if len(medicationIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT medication_id, dose_time
		FROM medication_logs
		WHERE medication_id = ANY($1)
		AND taken_at >= $2 AND taken_at < $3
		AND status = 'taken'
	`

	rows, err := r.db.Query(ctx, query, medicationIDs, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query medication logs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var medID int64
		var doseTime *string
		if err := rows.Scan(&medID, &doseTime); err != nil {
			return nil, fmt.Errorf("failed to scan medication log: %w", err)
		}

		f := result[medID]
		if doseTime == nil || *doseTime == "" {
			f.AllDay = true
		} else {
			if f.Slots == nil {
				f.Slots = make(map[string]bool)
			}
			f.Slots[reminder.NormalizeSlot(*doseTime)] = true
		}
		result[medID] = f
	}

	return result, rows.Err()
}

// ListPendingAppointments 返回 [from, to) 内状态为 pending 的预约
func (r *ScheduleRepository) ListPendingAppointments(ctx context.Context, from, to time.Time) ([]ScheduledAppointment, error) {
	query := `
		SELECT a.id, a.user_id, a.title, a.doctor_name, a.location, a.appointment_datetime, a.notes, a.status,
		       u.id, u.email, u.first_name, u.last_name
		FROM appointments a
		JOIN users u ON u.id = a.user_id
		WHERE a.status = 'pending'
		AND a.appointment_datetime >= $1 AND a.appointment_datetime < $2
		ORDER BY a.id
	`

	rows, err := r.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending appointments: %w", err)
	}
	defer rows.Close()

	var appts []ScheduledAppointment
	for rows.Next() {
		var sa ScheduledAppointment
		a, u := &sa.Appointment, &sa.Patient
		if err := rows.Scan(&a.ID, &a.UserID, &a.Title, &a.DoctorName, &a.Location, &a.AppointmentDatetime, &a.Notes, &a.Status,
			&u.ID, &u.Email, &u.FirstName, &u.LastName); err != nil {
			return nil, fmt.Errorf("failed to scan appointment: %w", err)
		}
		appts = append(appts, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	patientIDs := make([]int64, 0, len(appts))
	for _, a := range appts {
		patientIDs = append(patientIDs, a.Patient.ID)
	}
	managers, err := r.managersByPatient(ctx, patientIDs)
	if err != nil {
		return nil, err
	}
	for i := range appts {
		appts[i].Managers = managers[appts[i].Patient.ID]
	}

	return appts, nil
}

func (r *ScheduleRepository) managersByPatient(ctx context.Context, patientIDs []int64) (map[int64][]dbcontracts.User, error) {
	result := make(map[int64][]dbcontracts.User)
	if len(patientIDs) == 0 {
		return result, nil
	}

	query := `
		SELECT l.elder_id, u.id, u.email, u.first_name, u.last_name
		FROM manager_elder_link l
		JOIN users u ON u.id = l.manager_id
		WHERE l.elder_id = ANY($1)
		ORDER BY l.elder_id, u.id
	`

	rows, err := r.db.Query(ctx, query, patientIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query managers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var elderID int64
		var u dbcontracts.User
		if err := rows.Scan(&elderID, &u.ID, &u.Email, &u.FirstName, &u.LastName); err != nil {
			return nil, fmt.Errorf("failed to scan manager: %w", err)
		}
		result[elderID] = append(result[elderID], u)
	}

	return result, rows.Err()
}
