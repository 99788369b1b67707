package cache

import (
	"testing"
	"time"

	"github.com/strbo/listbroker/ids"
)

func TestInsertAccounting(t *testing.T) {
	c := New(1<<30, 1000, time.Hour)
	id1, err := c.Insert(ids.Invalid, ids.NewItem(0), 100, Cacheable, 0)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	id2, err := c.Insert(id1, ids.NewItem(0), 50, Cacheable, 0)
	if err != nil {
		t.Fatalf("insert child: %v", err)
	}
	if c.Bytes() != 150 {
		t.Fatalf("bytes = %d, want 150", c.Bytes())
	}
	if c.Count() != 2 {
		t.Fatalf("count = %d, want 2", c.Count())
	}
	e := c.Lookup(id2)
	if e == nil || !e.Parent.Equal(id1) {
		t.Fatalf("child's parent pointer not recorded correctly")
	}
}

func TestUseResetsAgeUpAncestry(t *testing.T) {
	c := New(1<<30, 1000, time.Hour)
	root, _ := c.Insert(ids.Invalid, ids.NewItem(0), 10, Cacheable, 0)
	child, _ := c.Insert(root, ids.NewItem(0), 10, Cacheable, 0)

	rootEntry := c.Lookup(root)
	rootEntry.LastUsed = time.Now().Add(-time.Hour)

	if !c.Use(child, false) {
		t.Fatalf("Use should succeed for a live ID")
	}
	if time.Since(c.Lookup(root).LastUsed) > time.Second {
		t.Fatalf("Use(child) should have refreshed the root's age too")
	}
}

func TestUsePinTransfersSingleProcessWidePin(t *testing.T) {
	c := New(1<<30, 1000, time.Hour)
	a, _ := c.Insert(ids.Invalid, ids.NewItem(0), 10, Cacheable, 0)
	b, _ := c.Insert(ids.Invalid, ids.NewItem(1), 10, Cacheable, 0)

	c.Use(a, true)
	if !c.Lookup(a).Pinned {
		t.Fatalf("a should be pinned")
	}
	c.Use(b, true)
	if c.Lookup(a).Pinned {
		t.Fatalf("pinning b should have unpinned a")
	}
	if !c.Lookup(b).Pinned {
		t.Fatalf("b should be pinned")
	}
}

func TestGCPinPathSurvives(t *testing.T) {
	// Small ceiling forces eviction; list 3 is pinned and must survive
	// along with its ancestors (§8 scenario 6).
	c := New(1, 1, time.Hour)
	root, _ := c.Insert(ids.Invalid, ids.NewItem(0), 1, Cacheable, 0)
	var ids5 []ids.List
	ids5 = append(ids5, root)
	for i := 0; i < 4; i++ {
		id, _ := c.Insert(root, ids.NewItem(uint32(i)), 1, Cacheable, 0)
		ids5 = append(ids5, id)
	}
	pinned := ids5[3]
	c.Use(pinned, true)

	var discarded []ids.List
	c.SetCallbacks(Callbacks{OnDiscard: func(id ids.List) { discarded = append(discarded, id) }})

	for i := 0; i < 10; i++ {
		c.GC()
	}

	if !c.Lookup(pinned).Pinned {
		t.Fatalf("pinned entry should survive GC")
	}
	if c.Lookup(root) == nil {
		t.Fatalf("root (ancestor of pinned entry) should survive GC")
	}
	for i, id := range ids5 {
		if i == 3 { // the pinned one
			continue
		}
		if id.Equal(root) {
			continue // root is an ancestor of pinned, also survives
		}
		if c.Lookup(id) != nil {
			t.Fatalf("entry %d should have been evicted", i)
		}
	}
}

func TestGCEvictsOldestFirst(t *testing.T) {
	c := New(1<<30, 2, time.Hour)
	first, _ := c.Insert(ids.Invalid, ids.NewItem(0), 1, Cacheable, 0)
	time.Sleep(2 * time.Millisecond)
	second, _ := c.Insert(ids.Invalid, ids.NewItem(1), 1, Cacheable, 0)
	time.Sleep(2 * time.Millisecond)
	c.Insert(ids.Invalid, ids.NewItem(2), 1, Cacheable, 0) // third, over the count cap

	c.GC()

	if c.Lookup(first) != nil {
		t.Fatalf("oldest entry should have been evicted first")
	}
	if c.Lookup(second) == nil {
		t.Fatalf("second-oldest entry should still be present")
	}
}

func TestGCTimerEnableDisableIdempotent(t *testing.T) {
	c := New(1<<30, 1000, time.Hour)
	gt := NewGCTimer(c, 10*time.Millisecond, time.Second)
	gt.Enable()
	gt.Enable() // idempotent, must not panic or double-schedule
	gt.Disable()
	gt.Disable() // idempotent
}

func TestSetPinnedUnpinsWithoutTransferringTheSingletonPin(t *testing.T) {
	c := New(1<<30, 1000, time.Hour)
	id, _ := c.Insert(ids.Invalid, ids.NewItem(0), 10, Cacheable, 0)
	c.Use(id, true)

	if !c.SetPinned(id, false) {
		t.Fatalf("SetPinned on a live id should succeed")
	}
	if c.Lookup(id).Pinned {
		t.Fatalf("expected id to be unpinned")
	}
	if c.SetPinned(ids.NewListWith(9999, 0, false), true) {
		t.Fatalf("SetPinned on an unknown id should report false")
	}
}

func TestRemainingLifeReportsNoExpiryWhilePinned(t *testing.T) {
	c := New(1<<30, 1000, time.Hour)
	id, _ := c.Insert(ids.Invalid, ids.NewItem(0), 10, Cacheable, 0)

	if _, ok := c.RemainingLife(id); !ok {
		t.Fatalf("unpinned entry should report a remaining life")
	}

	c.Use(id, true)
	if _, ok := c.RemainingLife(id); ok {
		t.Fatalf("pinned entry should report no effective expiry")
	}
}

func TestInsertTagsContextAndKeepsDistinctCachesFromColliding(t *testing.T) {
	usb := New(1<<30, 1000, time.Hour)
	upnp := New(1<<30, 1000, time.Hour)

	usbRoot, _ := usb.Insert(ids.Invalid, ids.NewItem(0), 0, Cacheable, ids.Context(1))
	upnpRoot, _ := upnp.Insert(ids.Invalid, ids.NewItem(0), 0, Cacheable, ids.Context(2))

	if usbRoot.ContextTag() != ids.Context(1) {
		t.Fatalf("expected context tag 1, got %d", usbRoot.ContextTag())
	}
	if upnpRoot.ContextTag() != ids.Context(2) {
		t.Fatalf("expected context tag 2, got %d", upnpRoot.ContextTag())
	}
	if usbRoot.Cooked() == upnpRoot.Cooked() && usbRoot.Equal(upnpRoot) {
		t.Fatalf("two different contexts' first-minted IDs should not collide: %v vs %v", usbRoot, upnpRoot)
	}
	if usbRoot.Raw() == upnpRoot.Raw() {
		t.Fatalf("raw list-IDs from different contexts must differ even with identical cooked counters: %v vs %v", usbRoot, upnpRoot)
	}
}

func TestKeepAliveRefreshesAgeAndReportsInvalidIDs(t *testing.T) {
	c := New(1<<30, 1000, time.Millisecond)
	root, _ := c.Insert(ids.Invalid, ids.NewItem(0), 10, Cacheable, 0)
	bogus := ids.NewListWith(12345, 0, false)

	time.Sleep(5 * time.Millisecond)
	invalid := c.KeepAlive([]ids.List{root, bogus})

	if len(invalid) != 1 || !invalid[0].Equal(bogus) {
		t.Fatalf("unexpected invalid-id set: %+v", invalid)
	}
	remaining, ok := c.RemainingLife(root)
	if !ok || remaining <= 0 {
		t.Fatalf("expected KeepAlive to have refreshed root's age, got %v", remaining)
	}
}
