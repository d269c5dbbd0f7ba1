// Package blacklist maintains the set of blocked token mints and creator
// addresses consulted by the pipeline's cheap gates (spec 4.I stage 1),
// backed by the store's blacklist table with an in-memory mirror refreshed
// at startup, grounded on the teacher's trading.PositionTracker DB-then-
// memory load pattern.
package blacklist

import (
	"sync"
	"time"

	"pumpfun-trading-bot/internal/store"
)

// Blacklist is a mutex-guarded in-memory mirror of the store's blacklist
// table, refreshed once at startup and kept current by Add.
type Blacklist struct {
	mu      sync.RWMutex
	entries map[string]store.BlacklistEntry
	db      *store.Store
}

// Load constructs a Blacklist and populates it from the persistent store.
func Load(db *store.Store) (*Blacklist, error) {
	b := &Blacklist{
		entries: make(map[string]store.BlacklistEntry),
		db:      db,
	}

	existing, err := db.GetAllBlacklistEntries()
	if err != nil {
		return nil, err
	}
	for _, e := range existing {
		b.entries[e.Address] = *e
	}
	return b, nil
}

// IsBlacklisted reports whether address (a mint or creator pubkey) is
// blocked.
func (b *Blacklist) IsBlacklisted(address string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.entries[address]
	return ok
}

// Add blocks address, persisting it and updating the in-memory mirror.
func (b *Blacklist) Add(address, addrType, reason string) error {
	entry := store.BlacklistEntry{
		Address: address,
		Type:    addrType,
		AddedTS: time.Now().UnixMilli(),
	}
	if reason != "" {
		entry.Reason = &reason
	}

	if err := b.db.InsertBlacklistEntry(&entry); err != nil {
		return err
	}

	b.mu.Lock()
	b.entries[address] = entry
	b.mu.Unlock()
	return nil
}

// Size returns the number of blacklisted addresses.
func (b *Blacklist) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}
