package scheduler

import (
	"sync"

	"github.com/google/uuid"
)

// lockRegistry hands out non-blocking per-schedule locks. A firing that
// finds its lock held is dropped, never queued — overlapping runs of the
// same schedule must not stack up behind a slow fleet.
type lockRegistry struct {
	mu   sync.Mutex
	held map[uuid.UUID]struct{}
}

func newLockRegistry() *lockRegistry {
	return &lockRegistry{held: make(map[uuid.UUID]struct{})}
}

// tryAcquire takes the lock for id if it is free and reports whether it
// succeeded. It never blocks.
func (r *lockRegistry) tryAcquire(id uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.held[id]; ok {
		return false
	}
	r.held[id] = struct{}{}
	return true
}

// release frees the lock for id. Releasing an unheld lock is a no-op.
func (r *lockRegistry) release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, id)
}
