// Package tree implements the list-tree manager (§4.D) and the tree
// realizer (§4.J): the owner of parent/child topology layered over the
// cache, lazy child materialization via backend adapters, and the
// URL<->live-coordinate round trip. Built around a mutex-guarded map
// with a build-once/idempotent-lookup lifecycle, the same shape as an
// extended-action registry repointed at list nodes instead of extended
// actions, and wired to golang.org/x/sync/singleflight to collapse
// concurrent identical enter_child calls and hashicorp/golang-lru to
// memoize URL recency.
package tree

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/strbo/listbroker/backend"
	"github.com/strbo/listbroker/cache"
	"github.com/strbo/listbroker/cmn"
	"github.com/strbo/listbroker/ids"
)

// Kind tags what a tree node actually enumerates.
type Kind int

const (
	// KindDeviceList enumerates the devices a backend currently sees.
	KindDeviceList Kind = iota
	// KindVolumeList enumerates the partitions on one device.
	KindVolumeList
	// KindDirectory enumerates the entries of one directory (the
	// partition root when path is empty).
	KindDirectory
)

func (k Kind) String() string {
	switch k {
	case KindDeviceList:
		return "DEVICE_LIST"
	case KindVolumeList:
		return "VOLUME_LIST"
	case KindDirectory:
		return "DIRECTORY"
	default:
		return "UNKNOWN"
	}
}

// node is the manager's own per-list metadata, kept alongside (not inside)
// the cache entry: the cache only knows topology and accounting, not what
// a list actually enumerates.
type node struct {
	kind      Kind
	backend   backend.Adapter
	device    string
	partition string
	path      string // relative path within the partition; "" at the partition root
	name      string // this node's own name as an item of its parent, for get_location_key/get_location_trace
	title     string
}

// root associates one backend's device list with the manager.
type root struct {
	id      ids.List
	backend backend.Adapter
}

// ListTree is the interface the manager publishes to content code: lazy
// child entry, ranged enumeration, URI and stream-link resolution, the
// location-URL round trip, and cache lifetime hints, plus the push/pop
// cancellation counter backends poll mid-operation (§4.D).
type ListTree interface {
	EnterChild(parent ids.List, item ids.Item) (ids.List, error)
	ForEach(listID ids.List, first ids.Item, count int, fn func(ids.Item, backend.Entry) bool) error
	ForEachContext(fn func(ContextInfo) bool)
	GetURIsForItem(listID ids.List, item ids.Item) ([]string, error)
	GetRankedLinksForItem(listID ids.List, item ids.Item) ([]backend.StreamLink, error)
	CanHandleStrboURL(url string) bool
	Realize(url string) (*RealizeResult, error)
	GetLocationKey(listID ids.List, itemPos ids.Item, asReference bool) (string, error)
	GetLocationTrace(listID ids.List, itemPos ids.Item, refListID ids.List, refItemPos ids.Item) (string, error)
	DiscardListHint(id ids.List)
	KeepAlive(idList []ids.List) (time.Duration, []ids.List)
	CancelCounter() *cmn.CancelCounter
}

// Manager owns the parent/child topology and lazy materialization
// described in §4.D. It implements the ListTree interface that content
// code consumes.
type Manager struct {
	mu      sync.Mutex
	cache   *cache.Cache
	nodes   map[uint32]*node
	roots   []root
	killed  map[uint32]bool
	recency *lru.Cache

	sf singleflight.Group

	cancel cmn.CancelCounter

	// OnTreeChanged fires from ReinsertList: clients must be told the
	// tree shape changed at this point. Out of scope is the IPC signal
	// binding itself; this is the seam it plugs into.
	OnTreeChanged func(id ids.List)
}

var _ ListTree = (*Manager)(nil)

// New builds a manager over cache c, installing the discard hook that
// keeps node metadata in sync with cache evictions.
func New(c *cache.Cache) *Manager {
	recency, _ := lru.New(4096)
	m := &Manager{
		cache:   c,
		nodes:   make(map[uint32]*node),
		killed:  make(map[uint32]bool),
		recency: recency,
	}
	c.SetCallbacks(cache.Callbacks{OnDiscard: m.onCacheDiscard})
	return m
}

func (m *Manager) onCacheDiscard(id ids.List) {
	m.mu.Lock()
	delete(m.nodes, id.Raw())
	m.mu.Unlock()
}

// SetNeedGCSoon installs f as the cache's over-ceiling kick, preserving
// the manager's own discard hook. f runs with the cache lock held, so it
// must not call back into the cache directly; trigger the GC timer from
// a fresh goroutine instead.
func (m *Manager) SetNeedGCSoon(f func()) {
	m.cache.SetCallbacks(cache.Callbacks{OnDiscard: m.onCacheDiscard, OnNeedGCSoon: f})
}

// CancelCounter exposes the manager's push/pop cancellation counter to
// backend adapters and work implementations (§4.D).
func (m *Manager) CancelCounter() *cmn.CancelCounter { return &m.cancel }

func (m *Manager) cancelAllowed() bool { return m.cancel.IsBlockingOperationAllowed() }

// AllocateBlessedList implements allocate_blessed_list: it creates and
// pins a device-list root for a backend. The returned ID survives GC
// until something else is pinned (§4.D).
func (m *Manager) AllocateBlessedList(b backend.Adapter, title string) (ids.List, error) {
	id, err := m.cache.Insert(ids.Invalid, ids.NewItem(0), 0, cache.Cacheable, b.Context())
	if err != nil {
		return ids.Invalid, cmn.NewInternalError(err, "allocate_blessed_list")
	}
	m.cache.Use(id, true)

	m.mu.Lock()
	m.nodes[id.Raw()] = &node{kind: KindDeviceList, backend: b, title: title}
	m.roots = append(m.roots, root{id: id, backend: b})
	m.mu.Unlock()

	return id, nil
}

// ReinsertList implements reinsert_list: announces that the tree shape at
// id changed (a device or volume arrived/departed out of band).
func (m *Manager) ReinsertList(id ids.List) {
	if m.OnTreeChanged != nil {
		m.OnTreeChanged(id)
	}
}

// GetParentListID implements get_parent_list_id.
func (m *Manager) GetParentListID(id ids.List) (ids.List, error) {
	e := m.cache.Lookup(id)
	if e == nil {
		return ids.Invalid, cmn.NewError(cmn.InvalidID, "unknown list id")
	}
	return e.Parent, nil
}

// ParentLink is get_parent_link's reply (§6): the same (list-id, item-id,
// title, translatable) shape get_list_id/get_parameterized_list_id return,
// so a client can treat "go up a level" the same way as any other list-id
// reply. For a list that is its own root (no parent recorded), the source
// returns the list itself rather than an error or a sentinel; §9's Open
// Questions says to preserve that here.
type ParentLink struct {
	ListID       ids.List
	ItemID       ids.Item
	Title        string
	Translatable bool
}

// GetParentLink implements get_parent_link.
func (m *Manager) GetParentLink(id ids.List) (ParentLink, error) {
	e := m.cache.Lookup(id)
	if e == nil {
		return ParentLink{}, cmn.NewError(cmn.InvalidID, "unknown list id")
	}
	if !e.Parent.IsValid() {
		return ParentLink{ListID: id, ItemID: ids.NewItem(0), Title: m.titleOf(id)}, nil
	}
	return ParentLink{ListID: e.Parent, ItemID: e.ParentPos, Title: m.titleOf(e.Parent)}, nil
}

// GetListDepth implements get_list_depth: O(depth) walk to the root.
func (m *Manager) GetListDepth(id ids.List) (int, error) {
	depth := 0
	cur := id
	for {
		e := m.cache.Lookup(cur)
		if e == nil {
			return 0, cmn.NewError(cmn.InvalidID, "unknown list id")
		}
		if !e.Parent.IsValid() {
			return depth, nil
		}
		cur = e.Parent
		depth++
	}
}

// PurgeSubtree implements purge_subtree: recursively removes id and every
// descendant, recording each as killed so a concurrent GC pass that
// stumbles on an already-gone node doesn't raise a bug flag.
func (m *Manager) PurgeSubtree(id ids.List) {
	e := m.cache.Lookup(id)
	if e == nil {
		return
	}
	for _, child := range e.Children {
		m.PurgeSubtree(child)
	}
	m.mu.Lock()
	m.killed[id.Raw()] = true
	m.mu.Unlock()
	m.cache.Remove(id)
}

// WasKilled reports whether id was torn down by PurgeSubtree, as opposed
// to evicted by ordinary GC (§3's "killed-list set").
func (m *Manager) WasKilled(id ids.List) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.killed[id.Raw()]
}

// EnterChild implements enter_child<ParentKind, ChildDataKind>: returns
// the existing child list-ID if the cache still has it, otherwise builds
// it via the parent's backend and stores it. Concurrent identical calls
// (same parent, same item) collapse onto one build via singleflight.
func (m *Manager) EnterChild(parentID ids.List, itemID ids.Item) (ids.List, error) {
	if e := m.cache.Lookup(parentID); e != nil {
		if child, ok := e.Children[itemID]; ok {
			if ce := m.cache.Lookup(child); ce != nil {
				m.cache.Use(child, false)
				return child, nil
			}
		}
	}

	key := fmt.Sprintf("%d:%d", parentID.Raw(), itemID.Raw())
	v, err, _ := m.sf.Do(key, func() (interface{}, error) {
		return m.buildChild(parentID, itemID)
	})
	if err != nil {
		return ids.Invalid, err
	}
	return v.(ids.List), nil
}

func (m *Manager) buildChild(parentID ids.List, itemID ids.Item) (ids.List, error) {
	m.mu.Lock()
	pn, ok := m.nodes[parentID.Raw()]
	m.mu.Unlock()
	if !ok {
		return ids.Invalid, cmn.NewError(cmn.InvalidID, "unknown parent list")
	}

	if !m.cancelAllowed() {
		return ids.Invalid, cmn.NewError(cmn.Interrupted, "enter_child canceled")
	}

	switch pn.kind {
	case KindDeviceList:
		names, err := pn.backend.Devices(m.cancelAllowed)
		if err != nil {
			return ids.Invalid, err
		}
		idx := int(itemID.Raw())
		if idx < 0 || idx >= len(names) {
			return ids.Invalid, cmn.NewError(cmn.InvalidID, "no such device item")
		}
		return m.insertChild(parentID, itemID, &node{
			kind: KindVolumeList, backend: pn.backend,
			device: names[idx], name: names[idx], title: names[idx],
		}, 0)

	case KindVolumeList:
		names, err := pn.backend.Partitions(pn.device, m.cancelAllowed)
		if err != nil {
			return ids.Invalid, err
		}
		idx := int(itemID.Raw())
		if idx < 0 || idx >= len(names) {
			return ids.Invalid, cmn.NewError(cmn.InvalidID, "no such partition item")
		}
		return m.insertChild(parentID, itemID, &node{
			kind: KindDirectory, backend: pn.backend,
			device: pn.device, partition: names[idx], path: "",
			name: names[idx], title: names[idx],
		}, 0)

	case KindDirectory:
		entries, err := pn.backend.Entries(pn.device, pn.partition, pn.path, m.cancelAllowed)
		if err != nil {
			return ids.Invalid, err
		}
		idx := int(itemID.Raw())
		if idx < 0 || idx >= len(entries) {
			return ids.Invalid, cmn.NewError(cmn.InvalidID, "no such directory entry")
		}
		ent := entries[idx]
		if ent.Kind != backend.EntryDirectory {
			return ids.Invalid, cmn.NewError(cmn.NotSupported, "item is not a directory: %s", ent.Name)
		}
		newPath := ent.Name
		if pn.path != "" {
			newPath = pn.path + "/" + ent.Name
		}
		return m.insertChild(parentID, itemID, &node{
			kind: KindDirectory, backend: pn.backend,
			device: pn.device, partition: pn.partition, path: newPath,
			name: ent.Name, title: ent.Name,
		}, ent.Size)

	default:
		return ids.Invalid, cmn.NewInternalError(nil, "unknown parent node kind %v", pn.kind)
	}
}

// ChildListInfo is get_list_id/get_parameterized_list_id's reply payload
// (§6): the child list-id plus the (title, translatable-flag) pair those
// two methods return alongside it.
type ChildListInfo struct {
	ListID       ids.List
	Title        string
	Translatable bool
}

// GetChildListInfo implements get_list_id: EnterChild plus the title
// lookup the bus method's reply additionally carries. Every title this
// manager mints comes straight from a backend name (a filename, a UPnP
// item title); none of them are ever translatable, so Translatable is
// always false here — unlike the root-context titles AllocateBlessedList
// installs, nothing downstream currently looks these up in a
// translation table, so there's no synthetic title that could be.
func (m *Manager) GetChildListInfo(parentID ids.List, itemID ids.Item) (ChildListInfo, error) {
	id, err := m.EnterChild(parentID, itemID)
	if err != nil {
		return ChildListInfo{}, err
	}
	return ChildListInfo{ListID: id, Title: m.titleOf(id)}, nil
}

func (m *Manager) titleOf(id ids.List) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n, ok := m.nodes[id.Raw()]; ok {
		return n.title
	}
	return ""
}

// EnterChildParameterized implements get_parameterized_list_id (§6): like
// GetChildListInfo, but the parent's backend must additionally implement
// backend.ParameterizedAdapter to interpret parameter; a parent that
// can't is reported as NOT_SUPPORTED, per §4.D's "NOT_SUPPORTED when the
// parent refuses parameterized entry".
func (m *Manager) EnterChildParameterized(parentID ids.List, itemID ids.Item, parameter string) (ChildListInfo, error) {
	m.mu.Lock()
	pn, ok := m.nodes[parentID.Raw()]
	m.mu.Unlock()
	if !ok {
		return ChildListInfo{}, cmn.NewError(cmn.InvalidID, "unknown parent list")
	}
	if pn.kind != KindDirectory {
		return ChildListInfo{}, cmn.NewError(cmn.NotSupported, "parent does not support parameterized entry")
	}
	pa, ok := pn.backend.(backend.ParameterizedAdapter)
	if !ok {
		return ChildListInfo{}, cmn.NewError(cmn.NotSupported, "backend does not support parameterized entry")
	}
	if !m.cancelAllowed() {
		return ChildListInfo{}, cmn.NewError(cmn.Interrupted, "enter_child (parameterized) canceled")
	}

	entries, err := pa.EntriesWithParameter(pn.device, pn.partition, pn.path, parameter, m.cancelAllowed)
	if err != nil {
		return ChildListInfo{}, err
	}
	idx := int(itemID.Raw())
	if idx < 0 || idx >= len(entries) {
		return ChildListInfo{}, cmn.NewError(cmn.InvalidID, "no such item for parameter %q", parameter)
	}
	ent := entries[idx]
	if ent.Kind != backend.EntryDirectory {
		return ChildListInfo{}, cmn.NewError(cmn.NotSupported, "item is not a directory: %s", ent.Name)
	}

	newPath := ent.Name
	if pn.path != "" {
		newPath = pn.path + "/" + ent.Name
	}
	title := ent.Title
	if title == "" {
		title = ent.Name
	}
	id, err := m.insertChild(parentID, itemID, &node{
		kind: KindDirectory, backend: pn.backend,
		device: pn.device, partition: pn.partition, path: newPath,
		name: ent.Name, title: title,
	}, ent.Size)
	if err != nil {
		return ChildListInfo{}, err
	}
	return ChildListInfo{ListID: id, Title: title}, nil
}

func (m *Manager) insertChild(parentID ids.List, itemID ids.Item, n *node, size int64) (ids.List, error) {
	id, err := m.cache.Insert(parentID, itemID, size, cache.Cacheable, n.backend.Context())
	if err != nil {
		return ids.Invalid, cmn.NewInternalError(err, "enter_child: inserting child list")
	}
	m.mu.Lock()
	m.nodes[id.Raw()] = n
	m.mu.Unlock()
	return id, nil
}

// findItemByName resolves name to an item index within parentID, trying
// position first (1-based, per §4.J: "first look it up at that exact
// 1-based slot; if not matching, fall back to whole-list scan") and
// falling back to a linear scan. A position/name mismatch is non-fatal.
func (m *Manager) findItemByName(parentID ids.List, name string, position ids.RefPos) (ids.Item, error) {
	m.mu.Lock()
	n, ok := m.nodes[parentID.Raw()]
	m.mu.Unlock()
	if !ok {
		return ids.Item{}, cmn.NewError(cmn.InvalidID, "unknown parent list")
	}

	names, err := m.listNames(n)
	if err != nil {
		return ids.Item{}, err
	}

	if position.IsValid() {
		idx := int(position.Raw()) - 1
		if idx >= 0 && idx < len(names) && names[idx] == name {
			return ids.NewItem(uint32(idx)), nil
		}
		cmn.L().Warnw("item position did not match name, falling back to scan",
			"parent", parentID.Raw(), "name", name, "position", position.Raw())
	}

	for i, candidate := range names {
		if candidate == name {
			return ids.NewItem(uint32(i)), nil
		}
	}
	return ids.Item{}, cmn.NewError(cmn.NotFound, "no such entry: %s", name)
}

func (m *Manager) listNames(n *node) ([]string, error) {
	entries, err := m.entriesOf(n)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, nil
}

// entriesOf returns n's children as a uniform []backend.Entry slice,
// regardless of node kind: device and volume lists synthesize directory
// entries from their name lists (every device/partition item is itself
// enterable as a child list), while directory nodes delegate straight to
// the backend.
func (m *Manager) entriesOf(n *node) ([]backend.Entry, error) {
	switch n.kind {
	case KindDeviceList:
		names, err := n.backend.Devices(m.cancelAllowed)
		if err != nil {
			return nil, err
		}
		return namesToEntries(names), nil
	case KindVolumeList:
		names, err := n.backend.Partitions(n.device, m.cancelAllowed)
		if err != nil {
			return nil, err
		}
		return namesToEntries(names), nil
	case KindDirectory:
		return n.backend.Entries(n.device, n.partition, n.path, m.cancelAllowed)
	default:
		return nil, cmn.NewInternalError(nil, "unknown node kind %v", n.kind)
	}
}

func namesToEntries(names []string) []backend.Entry {
	out := make([]backend.Entry, len(names))
	for i, name := range names {
		out[i] = backend.Entry{Name: name, Kind: backend.EntryDirectory}
	}
	return out
}

// GetRange implements get_range/get_range_with_meta_data's shared core
// (§6): clip [first, first+count) against the list's current entry count
// and return that slice. first beyond the end of the list yields an empty
// slice rather than an error, matching a client paging past the end of a
// list it hasn't refreshed yet.
func (m *Manager) GetRange(listID ids.List, first ids.Item, count int) (ids.Item, []backend.Entry, error) {
	m.mu.Lock()
	n, ok := m.nodes[listID.Raw()]
	m.mu.Unlock()
	if !ok {
		return ids.Item{}, nil, cmn.NewError(cmn.InvalidID, "unknown list id")
	}

	entries, err := m.entriesOf(n)
	if err != nil {
		return ids.Item{}, nil, err
	}

	start := int(first.Raw())
	if start >= len(entries) || count <= 0 {
		return first, nil, nil
	}
	end := start + count
	if end > len(entries) {
		end = len(entries)
	}
	return first, entries[start:end], nil
}

// MetaEntry is one element of get_range_with_meta_data's reply array:
// (artist, album, title, primary-idx, kind) per §6. PrimaryIdx is always
// 0 (no backend wired here distinguishes a "primary" take of an item
// from alternates); Title falls back to the entry's plain Name when a
// backend has no richer title of its own.
type MetaEntry struct {
	Artist     string
	Album      string
	Title      string
	PrimaryIdx int
	Kind       backend.EntryKind
}

// GetRangeWithMetaData implements get_range_with_meta_data (§6): same
// clipping semantics as GetRange, reshaped into the metadata tuple a
// media-oriented client (UPnP/DLNA) wants instead of a bare name.
func (m *Manager) GetRangeWithMetaData(listID ids.List, first ids.Item, count int) (ids.Item, []MetaEntry, error) {
	start, entries, err := m.GetRange(listID, first, count)
	if err != nil {
		return ids.Item{}, nil, err
	}
	out := make([]MetaEntry, len(entries))
	for i, e := range entries {
		title := e.Title
		if title == "" {
			title = e.Name
		}
		out[i] = MetaEntry{Artist: e.Artist, Album: e.Album, Title: title, Kind: e.Kind}
	}
	return start, out, nil
}

// CheckRange implements check_range (§6): like GetRange but reports only
// the clipped first-item-id and count instead of the entries themselves
// — a cheap range-validity probe for a client that already has the
// entries cached and only wants to know how many are still there.
func (m *Manager) CheckRange(listID ids.List, first ids.Item, count int) (ids.Item, int, error) {
	m.mu.Lock()
	n, ok := m.nodes[listID.Raw()]
	m.mu.Unlock()
	if !ok {
		return ids.Item{}, 0, cmn.NewError(cmn.InvalidID, "unknown list id")
	}

	entries, err := m.entriesOf(n)
	if err != nil {
		return ids.Item{}, 0, err
	}

	start := int(first.Raw())
	if start >= len(entries) || count <= 0 {
		return first, 0, nil
	}
	end := start + count
	if end > len(entries) {
		end = len(entries)
	}
	return first, end - start, nil
}

// ForEach applies fn to each item of [first, first+count) within listID,
// stopping early when fn returns false; count <= 0 means "to the end of
// the list". The same clipping rules as GetRange apply, so paging past
// the end visits nothing rather than failing.
func (m *Manager) ForEach(listID ids.List, first ids.Item, count int, fn func(ids.Item, backend.Entry) bool) error {
	m.mu.Lock()
	n, ok := m.nodes[listID.Raw()]
	m.mu.Unlock()
	if !ok {
		return cmn.NewError(cmn.InvalidID, "unknown list id")
	}

	entries, err := m.entriesOf(n)
	if err != nil {
		return err
	}

	start := int(first.Raw())
	if start >= len(entries) {
		return nil
	}
	end := len(entries)
	if count > 0 && start+count < end {
		end = start + count
	}
	for i := start; i < end; i++ {
		if !fn(ids.NewItem(uint32(i)), entries[i]) {
			break
		}
	}
	return nil
}

// ForEachContext applies fn to each blessed root context, stopping early
// when fn returns false.
func (m *Manager) ForEachContext(fn func(ContextInfo) bool) {
	for _, c := range m.ListContexts() {
		if !fn(c) {
			break
		}
	}
}

// DiscardListHint marks id as a good eviction candidate without tearing
// anything down: the client says it is done with this list, so its age
// is pushed past the threshold and the next GC pass collects it unless
// something touches it again first. Contrast DiscardList, which removes
// the subtree immediately.
func (m *Manager) DiscardListHint(id ids.List) {
	m.cache.Expire(id)
}

// GetURIsForItem implements get_uris_for_item.
func (m *Manager) GetURIsForItem(dirID ids.List, item ids.Item) ([]string, error) {
	m.mu.Lock()
	n, ok := m.nodes[dirID.Raw()]
	m.mu.Unlock()
	if !ok || n.kind != KindDirectory {
		return nil, cmn.NewError(cmn.InvalidID, "not a directory list")
	}
	entries, err := n.backend.Entries(n.device, n.partition, n.path, m.cancelAllowed)
	if err != nil {
		return nil, err
	}
	idx := int(item.Raw())
	if idx < 0 || idx >= len(entries) {
		return nil, cmn.NewError(cmn.InvalidID, "no such item")
	}
	path := entries[idx].Name
	if n.path != "" {
		path = n.path + "/" + path
	}
	return n.backend.URIsForItem(n.device, n.partition, path, m.cancelAllowed)
}

// GetRankedLinksForItem implements get_ranked_links_for_item.
func (m *Manager) GetRankedLinksForItem(dirID ids.List, item ids.Item) ([]backend.StreamLink, error) {
	m.mu.Lock()
	n, ok := m.nodes[dirID.Raw()]
	m.mu.Unlock()
	if !ok || n.kind != KindDirectory {
		return nil, cmn.NewError(cmn.InvalidID, "not a directory list")
	}
	entries, err := n.backend.Entries(n.device, n.partition, n.path, m.cancelAllowed)
	if err != nil {
		return nil, err
	}
	idx := int(item.Raw())
	if idx < 0 || idx >= len(entries) {
		return nil, cmn.NewError(cmn.InvalidID, "no such item")
	}
	path := entries[idx].Name
	if n.path != "" {
		path = n.path + "/" + path
	}
	return n.backend.RankedStreamLinksForItem(n.device, n.partition, path, m.cancelAllowed)
}

// GetRootLinkToContext implements get_root_link_to_context: the blessed
// device-list root for the backend tagged with ctx, as (list-id,
// item-id, title). item-id is always 0 — a context's root has no parent
// item of its own to address by position.
func (m *Manager) GetRootLinkToContext(ctx ids.Context) (ids.List, ids.Item, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roots {
		if r.backend.Context() != ctx {
			continue
		}
		n := m.nodes[r.id.Raw()]
		title := ""
		if n != nil {
			title = n.title
		}
		return r.id, ids.NewItem(0), title, nil
	}
	return ids.Invalid, ids.Item{}, "", cmn.NewError(cmn.InvalidID, "no root for context %v", ctx)
}

// ContextInfo is one element of get_list_contexts' reply (§6): a
// backend's context tag plus a human-readable description.
type ContextInfo struct {
	Context     ids.Context
	Description string
}

// ListContexts implements get_list_contexts for every backend blessed
// into this manager: each blessed root is one top-level context/namespace
// (§2's Context, §6: "always fast" since it never touches a backend).
func (m *Manager) ListContexts() []ContextInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ContextInfo, 0, len(m.roots))
	for _, r := range m.roots {
		desc := ""
		if n, ok := m.nodes[r.id.Raw()]; ok {
			desc = n.title
		}
		out = append(out, ContextInfo{Context: r.backend.Context(), Description: desc})
	}
	return out
}

// DiscardList implements discard_list: evicts id and its whole subtree
// from the cache right away, the same recursive teardown PurgeSubtree
// performs for an abandoned subtree.
func (m *Manager) DiscardList(id ids.List) {
	m.PurgeSubtree(id)
}

// ForceInCache implements force_in_cache: pins or unpins id and reports
// its effective expiry afterward (0 while pinned, since a pinned entry
// never expires).
func (m *Manager) ForceInCache(id ids.List, force bool) (time.Duration, error) {
	if force {
		if !m.cache.Use(id, true) {
			return 0, cmn.NewError(cmn.InvalidID, "unknown list id")
		}
		return 0, nil
	}
	if !m.cache.SetPinned(id, false) {
		return 0, cmn.NewError(cmn.InvalidID, "unknown list id")
	}
	remaining, _ := m.cache.RemainingLife(id)
	return remaining, nil
}

// KeepAlive implements keep_alive: refreshes every id still present and
// reports the cache's own GC interval alongside whichever ids were not
// found, per §6's (gc-interval-ms, array of invalid ids) reply shape.
func (m *Manager) KeepAlive(idList []ids.List) (time.Duration, []ids.List) {
	return m.cache.AgeThreshold(), m.cache.KeepAlive(idList)
}
