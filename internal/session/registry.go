package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/marketops/internal/domain"
)

// Registry maps trader identities to live handles. Membership is
// self-healing: a failed liveness probe evicts the session on the spot, so a
// trader whose channel died silently can log in again without operator help.
type Registry struct {
	mu           sync.Mutex
	sessions     map[string]Handle
	probeTimeout time.Duration
	log          *zap.Logger
}

func NewRegistry(probeTimeout time.Duration, log *zap.Logger) *Registry {
	return &Registry{
		sessions:     make(map[string]Handle),
		probeTimeout: probeTimeout,
		log:          log,
	}
}

// IsLive reports whether the trader has a registered handle that answers a
// probe. The probe runs outside the registry lock so a slow peer cannot
// stall unrelated logins.
func (r *Registry) IsLive(identity string) bool {
	r.mu.Lock()
	h, ok := r.sessions[identity]
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := h.Ping(r.probeTimeout); err != nil {
		r.log.Info("evicting unreachable session",
			zap.String("trader", identity), zap.Error(err))
		r.evictHandle(identity, h)
		return false
	}
	return true
}

// Admit binds the trader to a handle, rejecting with ErrAlreadyLoggedIn when
// a live session already exists.
func (r *Registry) Admit(identity string, h Handle) error {
	// A dead leftover session must not block a fresh login; IsLive clears it.
	if r.IsLive(identity) {
		return domain.ErrAlreadyLoggedIn
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[identity]; ok {
		return domain.ErrAlreadyLoggedIn
	}
	r.sessions[identity] = h
	return nil
}

// Evict removes the trader's session. Idempotent; absent is not an error.
func (r *Registry) Evict(identity string) {
	r.mu.Lock()
	h, ok := r.sessions[identity]
	delete(r.sessions, identity)
	r.mu.Unlock()
	if ok {
		_ = h.Close()
	}
}

// EvictHandle removes the trader's session only if it is still bound to h.
// Used by connection teardown so a reconnect that already replaced the
// session is left alone.
func (r *Registry) EvictHandle(identity string, h Handle) {
	r.evictHandle(identity, h)
}

func (r *Registry) evictHandle(identity string, h Handle) {
	r.mu.Lock()
	cur, ok := r.sessions[identity]
	if ok && cur == h {
		delete(r.sessions, identity)
	}
	r.mu.Unlock()
	if ok && cur == h {
		_ = h.Close()
	}
}

// Lookup returns the trader's handle without probing it.
func (r *Registry) Lookup(identity string) (Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.sessions[identity]
	return h, ok
}
