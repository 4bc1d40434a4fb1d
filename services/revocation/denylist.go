// Package revocation keeps the ids of logged-out tokens until those tokens expire.
package revocation

import (
	"container/list"
	"errors"
	"sync"
	"time"
)

// DefaultCapacity bounds the number of tracked token ids
const DefaultCapacity = 100000

// ErrFull is returned when every slot holds a live revocation.
// Live entries are never dropped to make room.
var ErrFull = errors.New("revocation list is full")

type entry struct {
	tokenID   string
	expiresAt time.Time
	element   *list.Element
}

// Denylist is a process-local set of revoked token ids. Each id is kept only
// until the token's own expiry; after that the signature check rejects it anyway.
type Denylist struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    *list.List // front = most recently revoked
	capacity int
	now      func() time.Time
	hits     uint64
	misses   uint64
	rejected uint64
}

// Option configures a Denylist
type Option func(*Denylist)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(d *Denylist) {
		d.now = now
	}
}

// NewDenylist creates a denylist holding at most capacity ids
func NewDenylist(capacity int, opts ...Option) *Denylist {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	d := &Denylist{
		entries:  make(map[string]*entry),
		order:    list.New(),
		capacity: capacity,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Revoke denies tokenID until expiresAt. Already expired tokens are ignored.
// It returns ErrFull when the list has no room even after dropping expired ids.
func (d *Denylist) Revoke(tokenID string, expiresAt time.Time) error {
	if tokenID == "" {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if !expiresAt.After(d.now()) {
		return nil
	}

	if e, exists := d.entries[tokenID]; exists {
		if expiresAt.After(e.expiresAt) {
			e.expiresAt = expiresAt
		}
		d.order.MoveToFront(e.element)
		return nil
	}

	if d.order.Len() >= d.capacity {
		d.removeExpired()
	}
	if d.order.Len() >= d.capacity {
		d.rejected++
		return ErrFull
	}

	e := &entry{tokenID: tokenID, expiresAt: expiresAt}
	e.element = d.order.PushFront(tokenID)
	d.entries[tokenID] = e
	return nil
}

// IsRevoked reports whether tokenID is currently denied
func (d *Denylist) IsRevoked(tokenID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	e, exists := d.entries[tokenID]
	if !exists {
		d.misses++
		return false
	}
	if !e.expiresAt.After(d.now()) {
		d.remove(e)
		d.misses++
		return false
	}
	d.hits++
	return true
}

// CleanupExpired removes ids whose tokens have expired and returns how many
func (d *Denylist) CleanupExpired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.removeExpired()
}

// StartCleanupWorker periodically removes expired ids until stopCh is closed
func (d *Denylist) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

// Stats returns denylist statistics
func (d *Denylist) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return Stats{
		Size:     d.order.Len(),
		Capacity: d.capacity,
		Hits:     d.hits,
		Misses:   d.misses,
		Rejected: d.rejected,
	}
}

// Stats represents denylist statistics
type Stats struct {
	Size     int
	Capacity int
	Hits     uint64 // lookups that found a revoked id
	Misses   uint64
	Rejected uint64 // revocations refused because the list was full
}

// must be called with lock held
func (d *Denylist) removeExpired() int {
	now := d.now()
	removed := 0
	for _, e := range d.entries {
		if !e.expiresAt.After(now) {
			d.remove(e)
			removed++
		}
	}
	return removed
}

// must be called with lock held
func (d *Denylist) remove(e *entry) {
	d.order.Remove(e.element)
	delete(d.entries, e.tokenID)
}
