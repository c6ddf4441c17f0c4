package session

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/punchamoorthee/marketops/internal/domain"
)

type fakeHandle struct {
	mu      sync.Mutex
	sent    []any
	pingErr error
	closed  bool
}

func (h *fakeHandle) Send(v any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sent = append(h.sent, v)
	return nil
}

func (h *fakeHandle) Ping(time.Duration) error { return h.pingErr }

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	return NewRegistry(time.Second, zaptest.NewLogger(t))
}

func TestAdmit(t *testing.T) {
	t.Run("SecondAdmitRejected", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Admit("alice", &fakeHandle{}))

		err := r.Admit("alice", &fakeHandle{})
		assert.ErrorIs(t, err, domain.ErrAlreadyLoggedIn)
	})

	t.Run("DeadSessionDoesNotBlockFreshAdmit", func(t *testing.T) {
		r := newTestRegistry(t)
		stale := &fakeHandle{pingErr: errors.New("gone")}
		require.NoError(t, r.Admit("alice", stale))

		// The probe inside Admit evicts the unreachable leftover.
		fresh := &fakeHandle{}
		require.NoError(t, r.Admit("alice", fresh))
		assert.True(t, stale.closed)

		h, ok := r.Lookup("alice")
		require.True(t, ok)
		assert.Same(t, fresh, h.(*fakeHandle))
	})
}

func TestIsLive(t *testing.T) {
	t.Run("LiveSessionAnswersProbe", func(t *testing.T) {
		r := newTestRegistry(t)
		require.NoError(t, r.Admit("alice", &fakeHandle{}))
		assert.True(t, r.IsLive("alice"))
	})

	t.Run("FailedProbeSelfEvicts", func(t *testing.T) {
		r := newTestRegistry(t)
		h := &fakeHandle{pingErr: errors.New("broken pipe")}
		require.NoError(t, r.Admit("alice", h))

		assert.False(t, r.IsLive("alice"))
		assert.True(t, h.closed)

		_, ok := r.Lookup("alice")
		assert.False(t, ok)
	})

	t.Run("UnknownIdentity", func(t *testing.T) {
		r := newTestRegistry(t)
		assert.False(t, r.IsLive("nobody"))
	})
}

func TestEvict(t *testing.T) {
	t.Run("Idempotent", func(t *testing.T) {
		r := newTestRegistry(t)
		h := &fakeHandle{}
		require.NoError(t, r.Admit("alice", h))

		r.Evict("alice")
		assert.True(t, h.closed)
		r.Evict("alice") // absent, no error, no panic

		_, ok := r.Lookup("alice")
		assert.False(t, ok)
	})

	t.Run("EvictHandleIgnoresReplacedSession", func(t *testing.T) {
		r := newTestRegistry(t)
		old := &fakeHandle{}
		require.NoError(t, r.Admit("alice", old))
		r.Evict("alice")

		replacement := &fakeHandle{}
		require.NoError(t, r.Admit("alice", replacement))

		// Teardown of the old connection must not kill the new session.
		r.EvictHandle("alice", old)
		assert.True(t, r.IsLive("alice"))
	})
}
