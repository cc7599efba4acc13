// internal/family/content.go
package family

import (
	"fmt"
	"strings"

	"reminder-orchestrator/internal/models"
)

// Static emergency templates per language. Placeholders: %[1]s patient
// name, %[2]s medication name, %[3]d missed doses.
type emergencyTemplate struct {
	honorific     string
	titles        map[models.EmergencyType]string
	bodies        map[models.EmergencyType]string
	instructions  string
	urgentPrefix  string
	actionButtons []string
}

var templates = map[string]emergencyTemplate{
	"en": {
		honorific: "Dear family member,",
		titles: map[models.EmergencyType]string{
			models.EmergencyMissedDoses: "Medication alert for %[1]s",
			models.EmergencyNoResponse:  "%[1]s is not responding to reminders",
			models.EmergencySOS:         "EMERGENCY: %[1]s needs help",
		},
		bodies: map[models.EmergencyType]string{
			models.EmergencyMissedDoses: "%[1]s has missed %[3]d dose(s) of %[2]s.",
			models.EmergencyNoResponse:  "%[1]s has not responded to medication reminders for %[2]s.",
			models.EmergencySOS:         "%[1]s triggered an emergency alert. Please act immediately.",
		},
		instructions:  "Please check on them and confirm they are safe.",
		urgentPrefix:  "URGENT: ",
		actionButtons: []string{"Patient is safe", "I will check", "Call for help"},
	},
	"ar": {
		honorific: "عزيزي أحد أفراد العائلة،",
		titles: map[models.EmergencyType]string{
			models.EmergencyMissedDoses: "تنبيه دوائي بخصوص %[1]s",
			models.EmergencyNoResponse:  "%[1]s لا يستجيب للتذكيرات",
			models.EmergencySOS:         "طوارئ: %[1]s بحاجة إلى مساعدة",
		},
		bodies: map[models.EmergencyType]string{
			models.EmergencyMissedDoses: "فات %[1]s تناول %[3]d جرعة من %[2]s.",
			models.EmergencyNoResponse:  "لم يستجب %[1]s لتذكيرات دواء %[2]s.",
			models.EmergencySOS:         "أطلق %[1]s تنبيه طوارئ. الرجاء التصرف فوراً.",
		},
		instructions:  "يرجى الاطمئنان عليه والتأكد من سلامته.",
		urgentPrefix:  "عاجل: ",
		actionButtons: []string{"المريض بخير", "سأطمئن عليه", "اطلب المساعدة"},
	},
	"es": {
		honorific: "Estimado familiar:",
		titles: map[models.EmergencyType]string{
			models.EmergencyMissedDoses: "Alerta de medicación para %[1]s",
			models.EmergencyNoResponse:  "%[1]s no responde a los recordatorios",
			models.EmergencySOS:         "EMERGENCIA: %[1]s necesita ayuda",
		},
		bodies: map[models.EmergencyType]string{
			models.EmergencyMissedDoses: "%[1]s ha omitido %[3]d dosis de %[2]s.",
			models.EmergencyNoResponse:  "%[1]s no ha respondido a los recordatorios de %[2]s.",
			models.EmergencySOS:         "%[1]s activó una alerta de emergencia. Actúe de inmediato.",
		},
		instructions:  "Por favor verifique que se encuentre bien.",
		urgentPrefix:  "URGENTE: ",
		actionButtons: []string{"El paciente está bien", "Voy a verificar", "Pedir ayuda"},
	},
	"fr": {
		honorific: "Cher membre de la famille,",
		titles: map[models.EmergencyType]string{
			models.EmergencyMissedDoses: "Alerte médicament pour %[1]s",
			models.EmergencyNoResponse:  "%[1]s ne répond pas aux rappels",
			models.EmergencySOS:         "URGENCE : %[1]s a besoin d'aide",
		},
		bodies: map[models.EmergencyType]string{
			models.EmergencyMissedDoses: "%[1]s a manqué %[3]d dose(s) de %[2]s.",
			models.EmergencyNoResponse:  "%[1]s n'a pas répondu aux rappels pour %[2]s.",
			models.EmergencySOS:         "%[1]s a déclenché une alerte d'urgence. Agissez immédiatement.",
		},
		instructions:  "Veuillez vérifier qu'il va bien.",
		urgentPrefix:  "URGENT : ",
		actionButtons: []string{"Le patient va bien", "Je vais vérifier", "Appeler à l'aide"},
	},
}

func normalizeLanguage(language string) string {
	lang := strings.ToLower(language)
	if i := strings.Index(lang, "-"); i > 0 {
		lang = lang[:i]
	}
	if _, ok := templates[lang]; !ok {
		return "en"
	}
	return lang
}

// BuildContent renders the emergency bundle for one language. Critical
// severity drops the honorific greeting and prepends urgency wording;
// clarity beats politeness in an emergency.
func BuildContent(emergency models.EmergencyContext, emergencyType models.EmergencyType, language string) models.EmergencyContent {
	tpl := templates[normalizeLanguage(language)]

	patientName := emergency.PatientName
	if patientName == "" {
		patientName = emergency.PatientID
	}
	medicationName := emergency.MedicationName
	if medicationName == "" {
		medicationName = emergency.MedicationID
	}

	title := fmt.Sprintf(tpl.titles[emergencyType], patientName, medicationName, emergency.MissedDoses)
	body := fmt.Sprintf(tpl.bodies[emergencyType], patientName, medicationName, emergency.MissedDoses)

	critical := emergency.Severity == models.PriorityCritical || emergencyType == models.EmergencySOS
	if critical {
		title = tpl.urgentPrefix + title
	} else {
		body = tpl.honorific + " " + body
	}

	return models.EmergencyContent{
		Title:         title,
		Body:          body,
		Instructions:  tpl.instructions,
		ActionButtons: append([]string(nil), tpl.actionButtons...),
	}
}

// smsText flattens a content bundle into one SMS-sized message.
func smsText(content models.EmergencyContent) string {
	return content.Title + " " + content.Body + " " + content.Instructions
}
