package service

import "sync"

// lockRegistry hands out one mutex per key so mutations on the same room (or
// the same train/station pair) serialize without a global lock. Entries are
// never evicted; the population is bounded by the number of rooms.
type lockRegistry struct {
	locks sync.Map
}

func (r *lockRegistry) acquire(key string) func() {
	value, _ := r.locks.LoadOrStore(key, &sync.Mutex{})
	mu := value.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
