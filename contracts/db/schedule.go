package db

import "time"

// User 表示 users 表中调度需要的字段
type User struct {
	ID        int64   `json:"id"`
	Email     *string `json:"email,omitempty"`
	FirstName string  `json:"first_name"`
	LastName  string  `json:"last_name"`
}

// Medication 表示 medications 表
// time_to_take 为逗号分隔的 HH:MM
type Medication struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"user_id"`
	Name            string     `json:"name"`
	Dosage          string     `json:"dosage"`
	MealInstruction string     `json:"meal_instruction"`
	TimeToTake      string     `json:"time_to_take"`
	StartDate       time.Time  `json:"start_date"`
	EndDate         *time.Time `json:"end_date,omitempty"`
}

// MedicationLog 表示 medication_logs 表，dose_time 为空表示当天全部剂次
type MedicationLog struct {
	ID           int64     `json:"id"`
	MedicationID int64     `json:"medication_id"`
	UserID       int64     `json:"user_id"`
	TakenAt      time.Time `json:"taken_at"`
	Status       string    `json:"status"`
	DoseTime     *string   `json:"dose_time,omitempty"`
}

// Appointment 表示 appointments 表
type Appointment struct {
	ID                  int64     `json:"id"`
	UserID              int64     `json:"user_id"`
	Title               string    `json:"title"`
	DoctorName          string    `json:"doctor_name"`
	Location            string    `json:"location"`
	AppointmentDatetime time.Time `json:"appointment_datetime"`
	Notes               string    `json:"notes"`
	Status              string    `json:"status"` // pending / confirmed / cancelled
}

// SystemSetting 表示 system_settings 表
type SystemSetting struct {
	Key         string `json:"key"`
	Value       string `json:"value"`
	Description string `json:"description"`
}
