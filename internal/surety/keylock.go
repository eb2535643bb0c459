package surety

import (
	"sort"
	"sync"
)

// keyLocks hands out one mutex per entity key. Locks for a single operation
// are always taken in sorted key order so overlapping operations cannot
// deadlock. Entries are reference counted and dropped when idle.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

// lock acquires every key and returns a function releasing them.
func (k *keyLocks) lock(keys ...string) (unlock func()) {
	keys = dedupeSorted(keys)

	held := make([]*keyLock, 0, len(keys))
	for _, key := range keys {
		l := k.acquire(key)
		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()
			k.release(keys[i], held[i])
		}
	}
}

func (k *keyLocks) acquire(key string) *keyLock {
	k.mu.Lock()
	defer k.mu.Unlock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyLock{}
		k.locks[key] = l
	}
	l.refs++
	return l
}

func (k *keyLocks) release(key string, l *keyLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, key)
	}
}

// size returns the number of live lock entries.
func (k *keyLocks) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}

func dedupeSorted(keys []string) []string {
	out := append([]string(nil), keys...)
	sort.Strings(out)
	n := 0
	for i, key := range out {
		if i > 0 && key == out[n-1] {
			continue
		}
		out[n] = key
		n++
	}
	return out[:n]
}

const (
	governanceKey = "governance"
	// poolKey serializes withdrawals, the only operations that drain the pool.
	poolKey = "pool"
)

func airlineKey(id Principal) string { return "airline:" + string(id) }
func flightKey(k FlightKey) string { return "flight:" + k.String() }
func queryKey(k QueryKey) string { return "query:" + k.String() }
func passengerKey(id Principal) string { return "passenger:" + string(id) }
