// internal/delivery/responses.go
package delivery

import "sync"

// responseHub routes user responses to in-flight confirmation waits. A wait
// is cancelled the moment a response arrives; an unmatched response is
// simply not pending (the tracker still records it).
type responseHub struct {
	mu      sync.Mutex
	waiters map[string]chan string
}

func newResponseHub() *responseHub {
	return &responseHub{waiters: make(map[string]chan string)}
}

// register opens a wait slot for a request. One waiter per request id.
func (h *responseHub) register(requestID string) <-chan string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan string, 1)
	h.waiters[requestID] = ch
	return ch
}

// resolve delivers a response to a pending wait, reporting whether one
// was pending.
func (h *responseHub) resolve(requestID, response string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch, ok := h.waiters[requestID]
	if !ok {
		return false
	}
	delete(h.waiters, requestID)
	ch <- response
	return true
}

// drop removes a wait slot without delivering anything.
func (h *responseHub) drop(requestID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.waiters, requestID)
}
