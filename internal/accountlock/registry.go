package accountlock

import (
	"sort"
	"sync"
	"sync/atomic"
)

// profileLock is a non-blocking mutex that also reports whether it is taken
type profileLock struct {
	mu   sync.Mutex
	held atomic.Bool
}

// Registry holds one non-blocking mutex per profile. A profile's lock is
// created lazily on first use and lives for the lifetime of the process.
type Registry struct {
	mu    sync.RWMutex
	locks map[uint]*profileLock
}

// NewRegistry creates an empty lock registry
func NewRegistry() *Registry {
	return &Registry{
		locks: make(map[uint]*profileLock),
	}
}

// TryAcquire attempts to take the lock for profileID without waiting.
// On success it returns a release function that is safe to call more than once.
func (r *Registry) TryAcquire(profileID uint) (release func(), ok bool) {
	lock := r.lockFor(profileID)
	if !lock.mu.TryLock() {
		return nil, false
	}
	lock.held.Store(true)

	var once sync.Once
	return func() {
		once.Do(func() {
			lock.held.Store(false)
			lock.mu.Unlock()
		})
	}, true
}

// IsHeld reports whether the lock for profileID is currently taken
func (r *Registry) IsHeld(profileID uint) bool {
	r.mu.RLock()
	lock, exists := r.locks[profileID]
	r.mu.RUnlock()
	return exists && lock.held.Load()
}

// Held returns the ids of all profiles whose lock is taken, in ascending order
func (r *Registry) Held() []uint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var ids []uint
	for id, lock := range r.locks {
		if lock.held.Load() {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of profiles that have a lock entry
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.locks)
}

func (r *Registry) lockFor(profileID uint) *profileLock {
	r.mu.RLock()
	lock, exists := r.locks[profileID]
	r.mu.RUnlock()
	if exists {
		return lock
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if lock, exists = r.locks[profileID]; exists {
		return lock
	}
	lock = &profileLock{}
	r.locks[profileID] = lock
	return lock
}
