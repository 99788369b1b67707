// Package cache implements the list-ID cache: an LRU-ish map from list-ID
// to list entry with parent/child links, size/count/age accounting, pin
// support, and threshold-driven eviction (§4.B).
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/strbo/listbroker/cmn"
	"github.com/strbo/listbroker/ids"
)

// CacheMode tags whether an entry may be cached across sessions at all.
type CacheMode int

const (
	Cacheable CacheMode = iota
	NeverCache
)

// Entry is a cached list: the cache itself doesn't know about item
// payloads, just enough bookkeeping to run GC and maintain the tree
// topology (§3's "List entry").
type Entry struct {
	ID        ids.List
	Parent    ids.List // zero value (invalid) if root
	ParentPos ids.Item
	Size      int64
	Mode      CacheMode
	Pinned    bool
	LastUsed  time.Time

	// Children is this entry's outgoing child-links, keyed by the item
	// that owns them. Populated by the tree manager; the cache only
	// reads it to decide eviction leaf-ness and to locate a child-link
	// to clear ("obliviate") when the child is evicted.
	Children map[ids.Item]ids.List
}

func (e *Entry) isLeaf() bool { return len(e.Children) == 0 }

// depth is filled in lazily by the cache during GC ordering; it is not a
// field on Entry because it requires walking the parent chain, which the
// cache (holding the full map) can do directly.

// Callbacks are the cache's hook set (§4.B set_callbacks).
type Callbacks struct {
	OnFirstInsert func()
	OnNeedGCSoon  func()
	OnDiscard     func(id ids.List)
	OnLastRemoved func()
}

// Cache is the list-ID cache described in §4.B. All methods are safe for
// concurrent use, though §5 notes the cache is in practice driven from a
// single (event-loop) thread by the tree manager.
type Cache struct {
	mu    sync.Mutex
	byID  map[uint32]*Entry
	bytes int64
	count int

	maxBytes     int64
	maxCount     int
	ageThreshold time.Duration

	nextCooked uint32
	shutdown   bool

	callbacks Callbacks
}

// New builds an empty cache with the given ceilings.
func New(maxBytes int64, maxCount int, ageThreshold time.Duration) *Cache {
	return &Cache{
		byID:         make(map[uint32]*Entry),
		maxBytes:     maxBytes,
		maxCount:     maxCount,
		ageThreshold: ageThreshold,
		nextCooked:   1,
	}
}

// SetCallbacks installs the cache's hook set.
func (c *Cache) SetCallbacks(cb Callbacks) {
	c.mu.Lock()
	c.callbacks = cb
	c.mu.Unlock()
}

// Insert mints a fresh list-ID tagged with ctx, wraps entry in it, links
// it under parent (if valid), and adds it to the cache. Returns the
// minted ID, or the invalid ID with an error if the cache has been shut
// down. Every list-ID a given Cache mints carries the same ctx (§4.A: one
// cache per backend context), keeping raw IDs minted by different
// backends from colliding even though each cache counts cooked IDs up
// from 1 independently.
func (c *Cache) Insert(parent ids.List, parentPos ids.Item, size int64, mode CacheMode, ctx ids.Context) (ids.List, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shutdown {
		return ids.Invalid, cmn.NewError(cmn.Internal, "cache is shut down")
	}

	wasEmpty := len(c.byID) == 0

	cooked := c.nextCooked
	c.nextCooked++
	newID := ids.NewListWith(cooked, ctx, mode == NeverCache)

	e := &Entry{
		ID:        newID,
		Parent:    parent,
		ParentPos: parentPos,
		Size:      size,
		Mode:      mode,
		LastUsed:  time.Now(),
		Children:  make(map[ids.Item]ids.List),
	}
	c.byID[newID.Raw()] = e
	c.bytes += size
	c.count++

	if parent.IsValid() {
		if p, ok := c.byID[parent.Raw()]; ok {
			p.Children[parentPos] = newID
		}
	}

	if wasEmpty && c.callbacks.OnFirstInsert != nil {
		c.callbacks.OnFirstInsert()
	}
	if (c.bytes > c.maxBytes || c.count > c.maxCount) && c.callbacks.OnNeedGCSoon != nil {
		c.callbacks.OnNeedGCSoon()
	}

	return newID, nil
}

// Lookup returns the entry for id, or nil if absent.
func (c *Cache) Lookup(id ids.List) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byID[id.Raw()]
}

// Use resets the age of id and all of its ancestors to zero, and, if pin
// is true, transfers the single process-wide pin to this entry (unpinning
// whichever entry held it before). Returns false if id is not present.
func (c *Cache) Use(id ids.List, pin bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.byID[id.Raw()]
	if !ok {
		return false
	}

	now := time.Now()
	for cur := e; cur != nil; {
		cur.LastUsed = now
		if !cur.Parent.IsValid() {
			break
		}
		next, ok := c.byID[cur.Parent.Raw()]
		if !ok {
			break
		}
		cur = next
	}

	if pin {
		for _, other := range c.byID {
			other.Pinned = false
		}
		e.Pinned = true
	}

	return true
}

// SetPinned implements force_in_cache's unpin direction: unlike Use's pin
// argument, it never transfers a singleton pin elsewhere, it just flips
// this one entry's flag. Returns false if id is not present.
func (c *Cache) SetPinned(id ids.List, pinned bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id.Raw()]
	if !ok {
		return false
	}
	e.Pinned = pinned
	return true
}

// RemainingLife reports how much longer id has before it becomes eligible
// for age-based eviction, for force_in_cache's effective-expiry-ms reply.
// A pinned entry (or one on a pinned entry's ancestor path) has no
// effective expiry; the second return value is false in that case.
func (c *Cache) RemainingLife(id ids.List) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id.Raw()]
	if !ok {
		return 0, false
	}
	if e.Pinned || c.isOnPinPathUnlocked(e) {
		return 0, false
	}
	remaining := c.ageThreshold - time.Since(e.LastUsed)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// KeepAlive refreshes the age of every entry in idList (and each one's
// ancestors, same as Use) that is still present, and reports which ones
// were not (keep_alive's "array of invalid ids").
func (c *Cache) KeepAlive(idList []ids.List) []ids.List {
	c.mu.Lock()
	defer c.mu.Unlock()
	var invalid []ids.List
	now := time.Now()
	for _, id := range idList {
		e, ok := c.byID[id.Raw()]
		if !ok {
			invalid = append(invalid, id)
			continue
		}
		for cur := e; cur != nil; {
			cur.LastUsed = now
			if !cur.Parent.IsValid() {
				break
			}
			next, ok := c.byID[cur.Parent.Raw()]
			if !ok {
				break
			}
			cur = next
		}
	}
	return invalid
}

// Expire backdates id's age past the eviction threshold, so the next GC
// pass collects it unless it is used (or pinned) again first. Backs
// discard_list_hint: a hint, not a removal. Returns false if id is not
// present.
func (c *Cache) Expire(id ids.List) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[id.Raw()]
	if !ok {
		return false
	}
	e.LastUsed = time.Now().Add(-(c.ageThreshold + time.Second))
	return true
}

// AgeThreshold reports the age past which a non-pinned entry becomes
// eligible for eviction, for force_in_cache/keep_alive replies that need
// to expose the cache's own configuration.
func (c *Cache) AgeThreshold() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ageThreshold
}

// Bytes and Count report the cache's current aggregate accounting.
func (c *Cache) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// depthUnlocked walks the parent chain to compute an entry's depth from
// the root (0 == root). Caller must hold c.mu.
func (c *Cache) depthUnlocked(e *Entry) int {
	depth := 0
	cur := e
	for cur.Parent.IsValid() {
		next, ok := c.byID[cur.Parent.Raw()]
		if !ok {
			break
		}
		cur = next
		depth++
	}
	return depth
}

// isOnPinPathUnlocked reports whether e is the pinned entry or an
// ancestor of it. Caller must hold c.mu.
func (c *Cache) isOnPinPathUnlocked(e *Entry) bool {
	for _, pinned := range c.byID {
		if !pinned.Pinned {
			continue
		}
		for cur := pinned; cur != nil; {
			if cur.ID.Equal(e.ID) {
				return true
			}
			if !cur.Parent.IsValid() {
				break
			}
			next, ok := c.byID[cur.Parent.Raw()]
			if !ok {
				break
			}
			cur = next
		}
	}
	return false
}

// GC performs one collection pass (§4.B gc()): first an age-threshold
// pass, then a size/count-cap pass evicting the oldest non-pinned leaf
// first. Returns the duration until the next entry would cross the age
// threshold (or an arbitrarily large duration if the cache is empty or
// everything left is pinned).
func (c *Cache) GC() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	wasNonEmpty := c.count > 0

	// Pass 1: age threshold.
	for {
		victim := c.oldestExpiredUnlocked(now)
		if victim == nil {
			break
		}
		c.evictUnlocked(victim)
	}

	// Pass 2: size/count caps, oldest non-pinned leaf first.
	for c.bytes > c.maxBytes || c.count > c.maxCount {
		victim := c.oldestEvictableUnlocked()
		if victim == nil {
			break // everything left is pinned; nothing more we can do
		}
		c.evictUnlocked(victim)
	}

	if wasNonEmpty && c.count == 0 && c.callbacks.OnLastRemoved != nil {
		c.callbacks.OnLastRemoved()
	}

	return c.nextExpiryUnlocked(now)
}

func (c *Cache) oldestExpiredUnlocked(now time.Time) *Entry {
	var victim *Entry
	for _, e := range c.byID {
		if e.Pinned || c.isOnPinPathUnlocked(e) {
			continue
		}
		if now.Sub(e.LastUsed) <= c.ageThreshold {
			continue
		}
		if victim == nil || entryLess(c, e, victim) {
			victim = e
		}
	}
	return victim
}

func (c *Cache) oldestEvictableUnlocked() *Entry {
	var victim *Entry
	for _, e := range c.byID {
		if e.Pinned || c.isOnPinPathUnlocked(e) {
			continue
		}
		if !e.isLeaf() {
			continue
		}
		if victim == nil || entryLess(c, e, victim) {
			victim = e
		}
	}
	return victim
}

// entryLess implements the eviction tie-break order from §4.B: oldest age
// first, then leaf-before-non-leaf, then deeper-before-shallower, then
// lexicographically-smaller-ID.
func entryLess(c *Cache, a, b *Entry) bool {
	if !a.LastUsed.Equal(b.LastUsed) {
		return a.LastUsed.Before(b.LastUsed)
	}
	if a.isLeaf() != b.isLeaf() {
		return a.isLeaf()
	}
	da, db := c.depthUnlocked(a), c.depthUnlocked(b)
	if da != db {
		return da > db
	}
	return a.ID.Less(b.ID)
}

// evictUnlocked removes e from the map, clears its parent's child-link
// (obliviate), and fires the discard callback. Caller must hold c.mu.
func (c *Cache) evictUnlocked(e *Entry) {
	delete(c.byID, e.ID.Raw())
	c.bytes -= e.Size
	c.count--

	if e.Parent.IsValid() {
		if p, ok := c.byID[e.Parent.Raw()]; ok {
			delete(p.Children, e.ParentPos)
		}
	}

	if c.callbacks.OnDiscard != nil {
		c.callbacks.OnDiscard(e.ID)
	}
}

// nextExpiryUnlocked computes the time-to-live of the entry that will
// expire soonest, used as the GC timer's next reprogram value.
func (c *Cache) nextExpiryUnlocked(now time.Time) time.Duration {
	var soonest *Entry
	for _, e := range c.byID {
		if e.Pinned || c.isOnPinPathUnlocked(e) {
			continue
		}
		if soonest == nil || e.LastUsed.Before(soonest.LastUsed) {
			soonest = e
		}
	}
	if soonest == nil {
		return time.Duration(1<<62 - 1) // effectively infinite
	}
	remaining := c.ageThreshold - now.Sub(soonest.LastUsed)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Remove discards id unconditionally, as used by purge_subtree (§4.D):
// bypasses age/pin checks entirely since the manager itself decided this
// subtree is gone.
func (c *Cache) Remove(id ids.List) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.byID[id.Raw()]; ok {
		c.evictUnlocked(e)
	}
}

// SnapshotIDs returns every live list-ID, sorted, for diagnostics and
// tests.
func (c *Cache) SnapshotIDs() []ids.List {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ids.List, 0, len(c.byID))
	for _, e := range c.byID {
		out = append(out, e.ID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}
