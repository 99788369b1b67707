package tree

import (
	"fmt"
	"strings"

	"github.com/strbo/listbroker/backend"
	"github.com/strbo/listbroker/cmn"
	"github.com/strbo/listbroker/ids"
	"github.com/strbo/listbroker/locurl"
)

// RealizeResult is populated by Realize (§4.J realize_strbo_url): the live
// coordinates a persistent URL resolved to.
type RealizeResult struct {
	ListID      ids.List
	ItemID      ids.Item
	ItemKind    backend.EntryKind
	RefListID   ids.List
	RefItemID   ids.Item
	Distance    int
	TraceLength int
	ListTitle   string
}

// Realize implements realize_strbo_url: try each scheme in turn; a
// scheme-prefix mismatch (WRONG_SCHEME) falls through to the next
// grammar, a syntactic failure (INVALID_CHARACTERS/PARSING_ERROR) fails
// the whole call with INVALID_STRBO_URL, and a successful parse runs the
// staged traversal.
func (m *Manager) Realize(url string) (*RealizeResult, error) {
	var sk locurl.SimpleKey
	switch sk.SetURL(url) {
	case locurl.OK:
		c, _ := sk.Unpack()
		return m.realizeSimpleKey(c)
	case locurl.WrongScheme:
		// fall through
	default:
		return nil, cmn.NewError(cmn.InvalidStrboURL, "malformed %s URL", locurl.SimpleKeyScheme)
	}

	var rk locurl.RefKey
	switch rk.SetURL(url) {
	case locurl.OK:
		c, _ := rk.Unpack()
		return m.realizeRefKey(c)
	case locurl.WrongScheme:
		// fall through
	default:
		return nil, cmn.NewError(cmn.InvalidStrboURL, "malformed %s URL", locurl.RefKeyScheme)
	}

	var tr locurl.Trace
	switch tr.SetURL(url) {
	case locurl.OK:
		c, _ := tr.Unpack()
		return m.realizeTrace(c)
	case locurl.WrongScheme:
		return nil, cmn.NewError(cmn.InvalidStrboURL, "unrecognized URL scheme")
	default:
		return nil, cmn.NewError(cmn.InvalidStrboURL, "malformed %s URL", locurl.TraceScheme)
	}
}

// CanHandleStrboURL reports whether url names one of the three location
// grammars this tree can realize, without attempting the traversal.
func (m *Manager) CanHandleStrboURL(url string) bool {
	for _, scheme := range []string{locurl.SimpleKeyScheme, locurl.RefKeyScheme, locurl.TraceScheme} {
		if strings.HasPrefix(url, scheme+"://") {
			return true
		}
	}
	return false
}

// enterDeviceAndPartition runs stage 1-2 of §4.J's traversal, common to
// all three grammars: match device by name across every registered
// backend root, then match partition (or stop at the volume list if
// partition is empty).
func (m *Manager) enterDeviceAndPartition(device, partition string) (volumeOrDirID ids.List, stoppedAtVolume bool, err error) {
	m.mu.Lock()
	roots := append([]root(nil), m.roots...)
	m.mu.Unlock()

	var lastErr error
	for _, r := range roots {
		if !m.cancelAllowed() {
			return ids.Invalid, false, cmn.NewError(cmn.Interrupted, "realize: canceled")
		}
		deviceItem, err := m.findItemByName(r.id, device, ids.InvalidRefPos)
		if err != nil {
			lastErr = err
			continue
		}
		volID, err := m.EnterChild(r.id, deviceItem)
		if err != nil {
			return ids.Invalid, false, err
		}
		if partition == "" {
			return volID, true, nil
		}
		partItem, err := m.findItemByName(volID, partition, ids.InvalidRefPos)
		if err != nil {
			return ids.Invalid, false, cmn.NewError(cmn.NotFound, "no such partition: %s", partition)
		}
		dirID, err := m.EnterChild(volID, partItem)
		if err != nil {
			return ids.Invalid, false, err
		}
		return dirID, false, nil
	}
	if lastErr == nil {
		lastErr = cmn.NewError(cmn.NotFound, "no such device: %s", device)
	}
	return ids.Invalid, false, lastErr
}

// descend walks a '/'-separated component chain from startID, entering
// each as a child directory. If finalMayBeItem, the last component may
// resolve to a non-directory entry instead of being entered; its index
// and kind are then reported rather than a child list-ID. position, if
// valid, is tried as the 1-based slot for the FINAL component only.
func (m *Manager) descend(startID ids.List, components []string, finalMayBeItem bool, position ids.RefPos) (
	curID ids.List, lastItem ids.Item, lastKind backend.EntryKind, distance int, err error) {

	curID = startID
	lastKind = backend.EntryDirectory
	for i, comp := range components {
		if !m.cancelAllowed() {
			return ids.Invalid, ids.Item{}, 0, 0, cmn.NewError(cmn.Interrupted, "realize: canceled")
		}
		isFinal := i == len(components)-1
		pos := ids.InvalidRefPos
		if isFinal {
			pos = position
		}
		itemIdx, ferr := m.findItemByName(curID, comp, pos)
		if ferr != nil {
			return ids.Invalid, ids.Item{}, 0, 0, ferr
		}

		if isFinal && finalMayBeItem {
			kind, kerr := m.itemKind(curID, itemIdx)
			if kerr != nil {
				return ids.Invalid, ids.Item{}, 0, 0, kerr
			}
			if kind != backend.EntryDirectory {
				lastItem = itemIdx
				lastKind = kind
				distance = i + 1
				return curID, lastItem, lastKind, distance, nil
			}
		}

		child, eerr := m.EnterChild(curID, itemIdx)
		if eerr != nil {
			return ids.Invalid, ids.Item{}, 0, 0, eerr
		}
		curID = child
		lastItem = itemIdx
		distance = i + 1
	}
	return curID, lastItem, lastKind, distance, nil
}

func (m *Manager) itemKind(dirID ids.List, item ids.Item) (backend.EntryKind, error) {
	m.mu.Lock()
	n, ok := m.nodes[dirID.Raw()]
	m.mu.Unlock()
	if !ok || n.kind != KindDirectory {
		return 0, cmn.NewError(cmn.InvalidID, "not a directory list")
	}
	entries, err := n.backend.Entries(n.device, n.partition, n.path, m.cancelAllowed)
	if err != nil {
		return 0, err
	}
	idx := int(item.Raw())
	if idx < 0 || idx >= len(entries) {
		return 0, cmn.NewError(cmn.InvalidID, "no such item")
	}
	return entries[idx].Kind, nil
}

func splitPath(p string) []string {
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func (m *Manager) realizeSimpleKey(c locurl.SimpleKeyComponents) (*RealizeResult, error) {
	dirID, stoppedAtVolume, err := m.enterDeviceAndPartition(c.Device, c.Partition)
	if err != nil {
		return nil, err
	}
	if stoppedAtVolume || c.Path == "" {
		return &RealizeResult{ListID: dirID, ItemKind: backend.EntryDirectory, ListTitle: m.titleOf(dirID)}, nil
	}
	finalID, item, kind, _, err := m.descend(dirID, splitPath(c.Path), true, ids.InvalidRefPos)
	if err != nil {
		return nil, err
	}
	return &RealizeResult{ListID: finalID, ItemID: item, ItemKind: kind, ListTitle: m.titleOf(finalID)}, nil
}

func (m *Manager) realizeRefKey(c locurl.RefKeyComponents) (*RealizeResult, error) {
	dirID, stoppedAtVolume, err := m.enterDeviceAndPartition(c.Device, c.Partition)
	if err != nil {
		return nil, err
	}
	refListID := dirID
	if !stoppedAtVolume && c.ReferencePath != "" {
		refListID, _, _, _, err = m.descend(dirID, splitPath(c.ReferencePath), false, ids.InvalidRefPos)
		if err != nil {
			return nil, err
		}
	}
	if c.Item == "" {
		return &RealizeResult{ListID: refListID, RefListID: refListID, ItemKind: backend.EntryDirectory, ListTitle: m.titleOf(refListID)}, nil
	}
	finalID, item, kind, _, err := m.descend(refListID, []string{c.Item}, true, c.Position)
	if err != nil {
		return nil, err
	}
	return &RealizeResult{
		ListID: finalID, ItemID: item, ItemKind: kind,
		RefListID: refListID, RefItemID: item,
		ListTitle: m.titleOf(finalID),
	}, nil
}

func (m *Manager) realizeTrace(c locurl.TraceComponents) (*RealizeResult, error) {
	dirID, stoppedAtVolume, err := m.enterDeviceAndPartition(c.Device, c.Partition)
	if err != nil {
		return nil, err
	}
	refListID := dirID
	if !stoppedAtVolume && c.ReferencePath != "" {
		refListID, _, _, _, err = m.descend(dirID, splitPath(c.ReferencePath), false, ids.InvalidRefPos)
		if err != nil {
			return nil, err
		}
	}
	if c.ItemPath == "" {
		return &RealizeResult{ListID: refListID, RefListID: refListID, ItemKind: backend.EntryDirectory, ListTitle: m.titleOf(refListID)}, nil
	}
	finalID, item, kind, distance, err := m.descend(refListID, splitPath(c.ItemPath), true, c.Position)
	if err != nil {
		return nil, err
	}
	return &RealizeResult{
		ListID: finalID, ItemID: item, ItemKind: kind,
		RefListID: refListID, RefItemID: item,
		Distance: distance, TraceLength: c.TraceLength(),
		ListTitle: m.titleOf(finalID),
	}, nil
}

// pathStep is one level of an item-chain walk: the list visited at that
// level and the name of the item addressed within it. For the leaf level
// that is the requested item itself; for every ancestor level it is the
// visited child's own position within its parent.
type pathStep struct {
	list ids.List
	item ids.Item
	kind Kind
	name string
}

// walkItemChain climbs from (listID, item) to the device-list root.
// steps[0] is the leaf level, steps[len-1] the device list.
func (m *Manager) walkItemChain(listID ids.List, item ids.Item) ([]pathStep, error) {
	var steps []pathStep
	cur, curItem := listID, item
	for {
		m.mu.Lock()
		n, ok := m.nodes[cur.Raw()]
		m.mu.Unlock()
		if !ok {
			return nil, cmn.NewError(cmn.InvalidID, "unknown list id on walk")
		}
		e := m.cache.Lookup(cur)
		if e == nil {
			return nil, cmn.NewError(cmn.InvalidID, "unknown list id on walk")
		}
		names, err := m.listNames(n)
		if err != nil {
			return nil, err
		}
		idx := int(curItem.Raw())
		if idx < 0 || idx >= len(names) {
			return nil, cmn.NewError(cmn.InvalidID, "no such item on walk")
		}
		steps = append(steps, pathStep{list: cur, item: curItem, kind: n.kind, name: names[idx]})
		if !e.Parent.IsValid() {
			if n.kind != KindDeviceList {
				return nil, cmn.NewInternalError(nil, "walk ended on a parentless %v list", n.kind)
			}
			return steps, nil
		}
		cur, curItem = e.Parent, e.ParentPos
	}
}

// GetLocationKey implements get_location_key: the inverse of the realize
// direction — walk from (listID, itemPos) up to the device-list root,
// collecting the item name addressed at each level, and fold that into
// either a simple key (full path, asReference false) or a reference key
// (the last surviving name becomes the item, the remaining prefix the
// reference path). Results are memoized in the realizer's recency cache:
// cooked IDs are never reused within a cache's lifetime, so a computed
// URL stays valid for as long as its coordinates do.
func (m *Manager) GetLocationKey(listID ids.List, itemPos ids.Item, asReference bool) (string, error) {
	memoKey := fmt.Sprintf("key:%d:%d:%t", listID.Raw(), itemPos.Raw(), asReference)
	if url, ok := m.recency.Get(memoKey); ok {
		return url.(string), nil
	}

	steps, err := m.walkItemChain(listID, itemPos)
	if err != nil {
		return "", err
	}
	device, partition, dirNames := splitChain(steps)

	var url string
	if !asReference {
		url = locurl.NewSimpleKey(locurl.SimpleKeyComponents{
			Device: device, Partition: partition,
			Path: strings.Join(dirNames, "/"),
		}).Emit()
	} else {
		c := locurl.RefKeyComponents{Device: device, Partition: partition}
		switch steps[0].kind {
		case KindDeviceList:
			// The addressed item is a device: there is no partition
			// entry yet, which a reference key encodes as an empty
			// item at position zero.
		case KindVolumeList:
			c.Position = ids.NewRefPos(itemPos.Raw() + 1)
		default:
			c.Item = dirNames[len(dirNames)-1]
			c.ReferencePath = strings.Join(dirNames[:len(dirNames)-1], "/")
			c.Position = ids.NewRefPos(itemPos.Raw() + 1)
		}
		url = locurl.NewRefKey(c).Emit()
	}

	m.recency.Add(memoKey, url)
	return url, nil
}

// GetLocationTrace implements get_location_trace: like GetLocationKey with
// asReference set, but the walk additionally verifies that (refListID,
// refItemPos) lies on the path to the root — absence or a position
// mismatch is INVALID_ID (§4.J) — and splits the collected names there:
// the reference item's own name and everything above it become the
// reference path, everything below it the item-path chain.
func (m *Manager) GetLocationTrace(listID ids.List, itemPos ids.Item, refListID ids.List, refItemPos ids.Item) (string, error) {
	memoKey := fmt.Sprintf("trace:%d:%d:%d:%d",
		listID.Raw(), itemPos.Raw(), refListID.Raw(), refItemPos.Raw())
	if url, ok := m.recency.Get(memoKey); ok {
		return url.(string), nil
	}

	steps, err := m.walkItemChain(listID, itemPos)
	if err != nil {
		return "", err
	}

	var device, partition string
	var itemElems, refElems []string // each collected leaf-to-root
	target := &itemElems
	foundRef := !refListID.IsValid()
	for _, s := range steps {
		if refListID.IsValid() && s.list.Equal(refListID) {
			if !s.item.Equal(refItemPos) {
				cmn.L().Warnw("reference point mismatch",
					"list", refListID.Raw(), "item", refItemPos.Raw(), "walked", s.item.Raw())
				return "", cmn.NewError(cmn.InvalidID, "reference point mismatch")
			}
			foundRef = true
			target = &refElems
		}
		switch s.kind {
		case KindDeviceList:
			device = s.name
		case KindVolumeList:
			partition = s.name
		default:
			*target = append(*target, s.name)
		}
	}
	if !foundRef {
		return "", cmn.NewError(cmn.InvalidID, "reference point does not exist on path to root")
	}

	reverse(itemElems)
	reverse(refElems)
	c := locurl.TraceComponents{
		Device: device, Partition: partition,
		ReferencePath: strings.Join(refElems, "/"),
		ItemPath:      strings.Join(itemElems, "/"),
	}
	if steps[0].kind != KindDeviceList {
		c.Position = ids.NewRefPos(itemPos.Raw() + 1)
	}
	url := locurl.NewTrace(c).Emit()

	m.recency.Add(memoKey, url)
	return url, nil
}

// splitChain separates an item-chain walk into the device name, the
// partition name, and the directory-level names in root-to-leaf order
// (the last of which is the addressed item's own name).
func splitChain(steps []pathStep) (device, partition string, dirNames []string) {
	for i := len(steps) - 1; i >= 0; i-- {
		switch steps[i].kind {
		case KindDeviceList:
			device = steps[i].name
		case KindVolumeList:
			partition = steps[i].name
		default:
			dirNames = append(dirNames, steps[i].name)
		}
	}
	return device, partition, dirNames
}

func reverse(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
