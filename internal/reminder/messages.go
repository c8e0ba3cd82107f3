package reminder

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	"time"
)

type message struct {
	log     string
	subject string
	text    string
}

var htmlBody = template.Must(template.New("body").Parse(
	`<html><body>{{range .}}<p>{{range $i, $line := .}}{{if $i}}<br>{{end}}{{$line}}{{end}}</p>{{end}}</body></html>`,
))

// renderHTML turns blank-line separated paragraphs into escaped HTML.
func renderHTML(text string) string {
	var paragraphs [][]string
	for _, p := range strings.Split(text, "\n\n") {
		paragraphs = append(paragraphs, strings.Split(p, "\n"))
	}

	var buf bytes.Buffer
	if err := htmlBody.Execute(&buf, paragraphs); err != nil {
		return ""
	}
	return buf.String()
}

func (d MedicationDose) label(tod TimeOfDay) string {
	return fmt.Sprintf("%s (%s)", d.Name, tod)
}

func (d MedicationDose) details() string {
	var parts []string
	if d.Dosage != "" {
		parts = append(parts, "Dosage: "+d.Dosage)
	}
	if d.MealInstruction != "" {
		parts = append(parts, "Instruction: "+d.MealInstruction)
	}
	if len(parts) == 0 {
		return ""
	}
	return "\n" + strings.Join(parts, "\n")
}

func (d MedicationDose) preReminderMessage(tod TimeOfDay, before int) message {
	return message{
		log:     "Upcoming dose: " + d.label(tod),
		subject: fmt.Sprintf("Medication in %s", FormatElapsed(before)),
		text: fmt.Sprintf("Hello %s,\n\nIn about %s it will be time to take '%s' (%s).%s\nPlease get ready.",
			d.Patient.FirstName, FormatElapsed(before), d.Name, tod, d.details()),
	}
}

func (d MedicationDose) dueNowPatientMessage(tod TimeOfDay) message {
	return message{
		log:     "Time to take: " + d.label(tod),
		subject: "Time to take your medication: " + d.Name,
		text: fmt.Sprintf("Hello %s,\n\nIt is time to take '%s'.\nTime: %s%s",
			d.Patient.FirstName, d.Name, tod, d.details()),
	}
}

func (d MedicationDose) dueNowManagerMessage(tod TimeOfDay) message {
	name := d.Patient.FullName()
	return message{
		log:     fmt.Sprintf("Dose due: %s for %s", d.label(tod), name),
		subject: "Medication due for " + name,
		text: fmt.Sprintf("It is time for %s to take '%s'.\nPlease check and follow up on the dose.",
			name, d.label(tod)),
	}
}

func (d MedicationDose) overduePatientMessage(tod TimeOfDay, elapsed int) message {
	return message{
		log:     fmt.Sprintf("Missed dose (repeat): %s, %s late", d.label(tod), FormatElapsed(elapsed)),
		subject: "Missed medication (reminder): " + d.Name,
		text: fmt.Sprintf("Hello %s,\n\nIt looks like you have not taken '%s' scheduled for %s yet.\n\nPlease check and confirm the dose in the app.",
			d.Patient.FirstName, d.Name, tod),
	}
}

func (d MedicationDose) overdueManagerMessage(tod TimeOfDay, elapsed int) message {
	name := d.Patient.FullName()
	return message{
		log:     fmt.Sprintf("Missed dose (repeat): %s for %s", d.label(tod), name),
		subject: "Missed medication (reminder): " + name,
		text: fmt.Sprintf("Alert: %s has not confirmed taking '%s', now about %s overdue.",
			name, d.label(tod), FormatElapsed(elapsed)),
	}
}

func (a AppointmentItem) where() string {
	var b strings.Builder
	if a.Location != "" {
		b.WriteString("\nLocation: " + a.Location)
	}
	if a.DoctorName != "" {
		b.WriteString("\nDoctor: " + a.DoctorName)
	}
	if a.Notes != "" {
		b.WriteString("\nNotes: " + a.Notes)
	}
	return b.String()
}

func clock(t time.Time) string {
	return t.Format("15:04")
}

func (a AppointmentItem) dueNowPatientMessage(at time.Time) message {
	return message{
		log:     fmt.Sprintf("Appointment now: %s (%s)", a.Title, clock(at)),
		subject: "Appointment time: " + a.Title,
		text: fmt.Sprintf("Hello %s,\n\nIt is time for your appointment '%s'.\nTime: %s%s",
			a.Patient.FirstName, a.Title, clock(at), a.where()),
	}
}

func (a AppointmentItem) dueNowManagerMessage(at time.Time) message {
	name := a.Patient.FullName()
	return message{
		log:     fmt.Sprintf("Appointment today: %s (%s) for %s", a.Title, clock(at), name),
		subject: "Appointment today: " + name,
		text: fmt.Sprintf("Reminder: %s has an appointment '%s' now at %s.%s",
			name, a.Title, clock(at), a.where()),
	}
}

func (a AppointmentItem) overdueManagerMessage(elapsed int) message {
	name := a.Patient.FullName()
	return message{
		log:     fmt.Sprintf("Appointment overdue (repeat): %s for %s", a.Title, name),
		subject: "Appointment overdue (reminder): " + name,
		text: fmt.Sprintf("Alert: the appointment '%s' for %s is about %s past its time and has not been confirmed.",
			a.Title, name, FormatElapsed(elapsed)),
	}
}

func (a AppointmentItem) advancePatientMessage(at time.Time) message {
	return message{
		log:     fmt.Sprintf("Appointment tomorrow: %s (%s)", a.Title, clock(at)),
		subject: "Appointment tomorrow: " + a.Title,
		text: fmt.Sprintf("Hello %s,\n\nThis is a reminder that you have an appointment tomorrow (%s).\n\nTitle: %s\nTime: %s%s\n\nPlease prepare in advance.",
			a.Patient.FirstName, at.Format("02/01/2006"), a.Title, clock(at), a.where()),
	}
}

func (a AppointmentItem) advanceManagerMessage(at time.Time) message {
	name := a.Patient.FullName()
	return message{
		log:     fmt.Sprintf("Appointment tomorrow: %s (%s) for %s", a.Title, clock(at), name),
		subject: "Appointment tomorrow for " + name,
		text: fmt.Sprintf("Reminder: %s has an appointment tomorrow.\n\nTitle: %s\nTime: %s%s",
			name, a.Title, clock(at), a.where()),
	}
}
