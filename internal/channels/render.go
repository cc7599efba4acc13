// internal/channels/render.go
package channels

import (
	"fmt"
	"strings"

	"reminder-orchestrator/internal/models"
)

// reminderText renders the plain-text reminder body for a language.
// Unknown languages fall back to English.
func reminderText(content models.ReminderContent, language string) string {
	var b strings.Builder

	switch normalizeLanguage(language) {
	case "ar":
		b.WriteString(fmt.Sprintf("تذكير بالدواء: %s، الجرعة %s.", content.MedicationName, content.Dosage))
	case "es":
		b.WriteString(fmt.Sprintf("Recordatorio de medicación: %s, dosis %s.", content.MedicationName, content.Dosage))
	case "fr":
		b.WriteString(fmt.Sprintf("Rappel de médicament : %s, dose %s.", content.MedicationName, content.Dosage))
	default:
		b.WriteString(fmt.Sprintf("Medication reminder: %s, dose %s.", content.MedicationName, content.Dosage))
	}

	if content.Instructions != "" {
		b.WriteString(" ")
		b.WriteString(content.Instructions)
	}
	return b.String()
}

// reminderTitle renders the short title used by push and visual channels.
func reminderTitle(content models.ReminderContent, language string) string {
	switch normalizeLanguage(language) {
	case "ar":
		return "وقت الدواء"
	case "es":
		return "Hora de la medicación"
	case "fr":
		return "Heure du médicament"
	default:
		return "Time for your medication"
	}
}

func normalizeLanguage(language string) string {
	lang := strings.ToLower(language)
	if i := strings.IndexAny(lang, "-_"); i > 0 {
		lang = lang[:i]
	}
	return lang
}
