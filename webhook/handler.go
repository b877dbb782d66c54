package webhook

import (
	"github.com/MindCtrl01/template-backend/models"
)

// Handler normalizes one provider's webhook traffic. VerifySignature
// must be constant-time; Handle returns the payment facts extracted from
// the payload, or nil when the event type carries none.
type Handler interface {
	Provider() string
	VerifySignature(payload []byte, signature string) bool
	Handle(eventType string, payload []byte) ([]models.PaymentFact, error)
}

// Registry holds the configured provider handlers keyed by provider name.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{handlers: make(map[string]Handler)}
	for _, h := range handlers {
		r.handlers[h.Provider()] = h
	}
	return r
}

func (r *Registry) Get(provider string) (Handler, bool) {
	h, ok := r.handlers[provider]
	return h, ok
}

func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	return names
}
