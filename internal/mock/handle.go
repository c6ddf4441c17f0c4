package mock

import (
	"sync"
	"time"
)

// Handle is an in-memory notification channel.
type Handle struct {
	mu   sync.Mutex
	sent []any

	PingErr error
	SendErr error
	Closed  bool
}

func (h *Handle) Send(v any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.SendErr != nil {
		return h.SendErr
	}
	h.sent = append(h.sent, v)
	return nil
}

func (h *Handle) Ping(time.Duration) error { return h.PingErr }

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.Closed = true
	return nil
}

// Messages returns everything sent so far.
func (h *Handle) Messages() []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]any(nil), h.sent...)
}
