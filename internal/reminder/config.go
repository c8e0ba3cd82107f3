package reminder

import (
	"strconv"
	"strings"
)

const (
	SettingReminderBeforeMinutes    = "REMINDER_BEFORE_MINUTES"
	SettingAlertAfterMinutes        = "ALERT_AFTER_MINUTES"
	SettingAppointmentRepeatMinutes = "APPOINTMENT_REPEAT_MINUTES"

	DefaultReminderBeforeMinutes    = 15
	DefaultAlertAfterMinutes        = 15
	DefaultAppointmentRepeatMinutes = 60
)

// Config holds the tunables read from system settings on every tick.
type Config struct {
	ReminderBeforeMinutes    int
	AlertAfterMinutes        int
	AppointmentRepeatMinutes int
}

func DefaultConfig() Config {
	return Config{
		ReminderBeforeMinutes:    DefaultReminderBeforeMinutes,
		AlertAfterMinutes:        DefaultAlertAfterMinutes,
		AppointmentRepeatMinutes: DefaultAppointmentRepeatMinutes,
	}
}

// ConfigFromSettings builds a Config from raw setting rows. Missing, non-numeric
// or non-positive values fall back to the defaults; their keys are returned.
func ConfigFromSettings(settings map[string]string) (Config, []string) {
	cfg := DefaultConfig()
	var fallbacks []string

	read := func(key string, dst *int) {
		raw, ok := settings[key]
		if !ok {
			fallbacks = append(fallbacks, key)
			return
		}
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || v <= 0 {
			fallbacks = append(fallbacks, key)
			return
		}
		*dst = v
	}

	read(SettingReminderBeforeMinutes, &cfg.ReminderBeforeMinutes)
	read(SettingAlertAfterMinutes, &cfg.AlertAfterMinutes)
	read(SettingAppointmentRepeatMinutes, &cfg.AppointmentRepeatMinutes)

	return cfg, fallbacks
}
