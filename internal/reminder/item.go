package reminder

import (
	"strings"
	"time"
)

// Contact is a notification recipient. Email may be empty.
type Contact struct {
	UserID    int64
	FirstName string
	LastName  string
	Email     string
}

func (c Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

// Reminder is one pending notification for one recipient.
type Reminder struct {
	Key       Key
	Audience  Audience
	Recipient Contact
	// Message is the short in-app notification text.
	Message string
	Subject string
	Text    string
	HTML    string
}

// Item is a schedule entry the evaluator can reason about.
type Item interface {
	Type() ItemType
	ID() int64
	// Slot distinguishes several evaluations of the same item (dose times); empty otherwise.
	Slot() string
	Evaluate(now time.Time, cfg Config, history History) ([]Reminder, error)
}

// emitter collects reminders for one item evaluation, skipping keys already in history.
type emitter struct {
	history History
	out     []Reminder
}

func (e *emitter) emit(key Key, audience Audience, to Contact, msg message) {
	if e.history != nil && e.history.Has(key) {
		return
	}
	e.out = append(e.out, Reminder{
		Key:       key,
		Audience:  audience,
		Recipient: to,
		Message:   msg.log,
		Subject:   msg.subject,
		Text:      msg.text,
		HTML:      renderHTML(msg.text),
	})
}

func elapsedWhole(d time.Duration) int {
	return int(d / time.Minute)
}
