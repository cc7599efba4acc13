// internal/channels/adapter.go
package channels

import (
	"context"
	"sort"

	"reminder-orchestrator/internal/models"
)

// SendResult is the uniform outcome of one channel send.
type SendResult struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Adapter is the uniform contract over push/SMS/voice/visual/email senders.
// Implementations read only their own entry from the targets and must
// respect ctx cancellation.
type Adapter interface {
	Method() models.DeliveryMethod
	Send(ctx context.Context, targets models.DeliveryTargets, content models.ReminderContent, language string) (*SendResult, error)
}

// Registry holds the configured adapter per delivery method.
type Registry struct {
	adapters map[models.DeliveryMethod]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.DeliveryMethod]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Method()] = a
	}
	return r
}

// Get returns the adapter for a method, if one is registered.
func (r *Registry) Get(method models.DeliveryMethod) (Adapter, bool) {
	a, ok := r.adapters[method]
	return a, ok
}

// Methods lists the registered methods in stable order.
func (r *Registry) Methods() []models.DeliveryMethod {
	out := make([]models.DeliveryMethod, 0, len(r.adapters))
	for m := range r.adapters {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
