package types

import "fmt"

// Locale selects the language of scraped page texts and user-facing messages.
type Locale string

const (
	LocaleFR Locale = "FR"
	LocaleEN Locale = "EN"
)

// Messages holds every localized string rollcall needs.
type Messages struct {
	// AttendanceLinkText is the anchor text of the submit link on the
	// attendance page.
	AttendanceLinkText string
	// AttendanceRecordedText is shown by the site once attendance is saved.
	AttendanceRecordedText string

	planned   string
	starting  string
	succeeded string
	failed    string
	missed    string
}

var messages = map[Locale]Messages{
	LocaleFR: {
		AttendanceLinkText:     "Envoyer le statut de présence",
		AttendanceRecordedText: "Votre présence à cette session a été enregistrée.",
		planned:                "Émargement planifié pour %s à %s.",
		starting:               "Démarrage de l'émargement pour : %s à %s.",
		succeeded:              "Émargement réussi pour %s.",
		failed:                 "Échec lors de la procédure d'émargement pour %s.",
		missed:                 "Créneau d'émargement dépassé pour %s.",
	},
	LocaleEN: {
		AttendanceLinkText:     "Submit attendance",
		AttendanceRecordedText: "Your attendance in this session has been recorded.",
		planned:                "Attendance planned for %s at %s.",
		starting:               "Starting attendance for: %s at %s.",
		succeeded:              "Attendance recorded for %s.",
		failed:                 "Attendance submission failed for %s.",
		missed:                 "Attendance window missed for %s.",
	},
}

// MessagesFor returns the message catalog of l, falling back to French.
func MessagesFor(l Locale) Messages {
	if m, ok := messages[l]; ok {
		return m
	}
	return messages[LocaleFR]
}

// Planned formats the plan summary line of one job.
func (m Messages) Planned(label, at string) string { return fmt.Sprintf(m.planned, label, at) }

// Starting formats the firing start line.
func (m Messages) Starting(label, at string) string { return fmt.Sprintf(m.starting, label, at) }

// Succeeded formats the success notification.
func (m Messages) Succeeded(label string) string { return "✅ " + fmt.Sprintf(m.succeeded, label) }

// Failed formats the failure notification.
func (m Messages) Failed(label string) string { return "❌ " + fmt.Sprintf(m.failed, label) }

// Missed formats the notification sent when a job's window closed before it ran.
func (m Messages) Missed(label string) string { return "❌ " + fmt.Sprintf(m.missed, label) }
