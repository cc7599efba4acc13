// internal/delivery/optimizer.go
package delivery

import (
	"sort"

	"reminder-orchestrator/internal/cultural"
	"reminder-orchestrator/internal/models"
)

// orderMethods produces the channel invocation order for a request.
// Starting from the configured weight order it applies, in increasing
// precedence: learned per-patient preference, elderly voice-first, and
// prayer-time SMS-before-audio.
func orderMethods(
	methods []models.DeliveryMethod,
	weights map[models.DeliveryMethod]int,
	assessment *cultural.Assessment,
	profile models.PatientProfile,
	preferred []models.DeliveryMethod,
) []models.DeliveryMethod {
	ordered := make([]models.DeliveryMethod, len(methods))
	copy(ordered, methods)

	sort.SliceStable(ordered, func(i, j int) bool {
		return weights[ordered[i]] > weights[ordered[j]]
	})

	if len(preferred) > 0 {
		rank := make(map[models.DeliveryMethod]int, len(preferred))
		for i, m := range preferred {
			rank[m] = len(preferred) - i
		}
		sort.SliceStable(ordered, func(i, j int) bool {
			return rank[ordered[i]] > rank[ordered[j]]
		})
	}

	if profile.Elderly {
		moveToFront(ordered, models.MethodVoice)
	}

	if assessment != nil && assessment.IsPrayerTime {
		moveBefore(ordered, models.MethodSMS, models.MethodVoice)
	}

	return ordered
}

// moveToFront moves method to index 0 when present, preserving the
// relative order of the rest.
func moveToFront(methods []models.DeliveryMethod, method models.DeliveryMethod) {
	idx := indexOf(methods, method)
	if idx <= 0 {
		return
	}
	copy(methods[1:idx+1], methods[:idx])
	methods[0] = method
}

// moveBefore places method immediately before target when method currently
// sorts after it.
func moveBefore(methods []models.DeliveryMethod, method, target models.DeliveryMethod) {
	mIdx := indexOf(methods, method)
	tIdx := indexOf(methods, target)
	if mIdx < 0 || tIdx < 0 || mIdx < tIdx {
		return
	}
	copy(methods[tIdx+1:mIdx+1], methods[tIdx:mIdx])
	methods[tIdx] = method
}

func indexOf(methods []models.DeliveryMethod, method models.DeliveryMethod) int {
	for i, m := range methods {
		if m == method {
			return i
		}
	}
	return -1
}
