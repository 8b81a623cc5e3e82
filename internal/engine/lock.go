package engine

import "sync"

// KeyedLocks serializes work per key within one process. The router
// holds the (bot, contact) lock across the session read-modify-write
// cycle so two near-simultaneous occurrences for the same contact
// cannot both observe the same session state.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*lockEntry)}
}

// Lock acquires the lock for key and returns its release func. Entries
// are reference counted so the map does not grow with dead contacts.
func (l *KeyedLocks) Lock(key string) func() {
	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}

// SessionLockKey builds the canonical lock key for a (bot, contact)
// pair.
func SessionLockKey(botID, contactID string) string {
	return botID + ":" + contactID
}
