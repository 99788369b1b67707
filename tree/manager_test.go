package tree

import (
	"testing"
	"time"

	"github.com/strbo/listbroker/backend"
	"github.com/strbo/listbroker/backend/upnpstub"
	"github.com/strbo/listbroker/cache"
	"github.com/strbo/listbroker/ids"
)

func newTestManager(t *testing.T) (*Manager, *upnpstub.Adapter, ids.List) {
	t.Helper()
	c := cache.New(1<<20, 1000, time.Hour)
	m := New(c)

	a := upnpstub.New(ids.Context(1))
	a.AddPartition("living-room", "music", &upnpstub.Node{
		Name: "music",
		Kind: 0, // directory
		Children: []*upnpstub.Node{
			{Name: "Artist", Kind: 0, Children: []*upnpstub.Node{
				{Name: "song.flac", Kind: 1, Size: 12345, URI: "file:///song.flac"},
			}},
		},
	})

	rootID, err := m.AllocateBlessedList(a, "Living Room Media Server")
	if err != nil {
		t.Fatalf("AllocateBlessedList: %v", err)
	}
	return m, a, rootID
}

func TestEnterChildBuildsDeviceThenPartitionThenDirectory(t *testing.T) {
	m, _, rootID := newTestManager(t)

	deviceItem, err := m.findItemByName(rootID, "living-room", ids.InvalidRefPos)
	if err != nil {
		t.Fatalf("findItemByName(device): %v", err)
	}
	volID, err := m.EnterChild(rootID, deviceItem)
	if err != nil {
		t.Fatalf("EnterChild(device): %v", err)
	}

	partItem, err := m.findItemByName(volID, "music", ids.InvalidRefPos)
	if err != nil {
		t.Fatalf("findItemByName(partition): %v", err)
	}
	dirID, err := m.EnterChild(volID, partItem)
	if err != nil {
		t.Fatalf("EnterChild(partition): %v", err)
	}

	artistItem, err := m.findItemByName(dirID, "Artist", ids.InvalidRefPos)
	if err != nil {
		t.Fatalf("findItemByName(Artist): %v", err)
	}
	artistID, err := m.EnterChild(dirID, artistItem)
	if err != nil {
		t.Fatalf("EnterChild(Artist): %v", err)
	}

	songItem, err := m.findItemByName(artistID, "song.flac", ids.InvalidRefPos)
	if err != nil {
		t.Fatalf("findItemByName(song.flac): %v", err)
	}
	if songItem.Raw() != 0 {
		t.Fatalf("expected song.flac at index 0, got %d", songItem.Raw())
	}
}

func TestEnterChildIsIdempotentForSameParentAndItem(t *testing.T) {
	m, _, rootID := newTestManager(t)
	deviceItem, _ := m.findItemByName(rootID, "living-room", ids.InvalidRefPos)

	first, err := m.EnterChild(rootID, deviceItem)
	if err != nil {
		t.Fatalf("first EnterChild: %v", err)
	}
	second, err := m.EnterChild(rootID, deviceItem)
	if err != nil {
		t.Fatalf("second EnterChild: %v", err)
	}
	if !first.Equal(second) {
		t.Fatalf("expected the same child list-id on repeated EnterChild, got %v and %v", first, second)
	}
}

func TestEnterChildRejectsNonDirectoryItem(t *testing.T) {
	m, _, rootID := newTestManager(t)
	deviceItem, _ := m.findItemByName(rootID, "living-room", ids.InvalidRefPos)
	volID, _ := m.EnterChild(rootID, deviceItem)
	partItem, _ := m.findItemByName(volID, "music", ids.InvalidRefPos)
	dirID, _ := m.EnterChild(volID, partItem)
	artistItem, _ := m.findItemByName(dirID, "Artist", ids.InvalidRefPos)
	artistID, _ := m.EnterChild(dirID, artistItem)
	songItem, _ := m.findItemByName(artistID, "song.flac", ids.InvalidRefPos)

	if _, err := m.EnterChild(artistID, songItem); err == nil {
		t.Fatalf("expected an error entering a regular file as a directory")
	}
}

func TestGetParentListIDAndDepth(t *testing.T) {
	m, _, rootID := newTestManager(t)
	deviceItem, _ := m.findItemByName(rootID, "living-room", ids.InvalidRefPos)
	volID, _ := m.EnterChild(rootID, deviceItem)

	parent, err := m.GetParentListID(volID)
	if err != nil {
		t.Fatalf("GetParentListID: %v", err)
	}
	if !parent.Equal(rootID) {
		t.Fatalf("expected parent %v, got %v", rootID, parent)
	}

	depth, err := m.GetListDepth(volID)
	if err != nil {
		t.Fatalf("GetListDepth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("expected depth 1, got %d", depth)
	}
}

func TestPurgeSubtreeMarksDescendantsKilled(t *testing.T) {
	m, _, rootID := newTestManager(t)
	deviceItem, _ := m.findItemByName(rootID, "living-room", ids.InvalidRefPos)
	volID, _ := m.EnterChild(rootID, deviceItem)

	m.PurgeSubtree(volID)

	if !m.WasKilled(volID) {
		t.Fatalf("expected volID to be recorded as killed")
	}
	if _, err := m.GetParentListID(volID); err == nil {
		t.Fatalf("expected GetParentListID to fail on a purged list")
	}
}

func TestGetURIsForItem(t *testing.T) {
	m, _, rootID := newTestManager(t)
	deviceItem, _ := m.findItemByName(rootID, "living-room", ids.InvalidRefPos)
	volID, _ := m.EnterChild(rootID, deviceItem)
	partItem, _ := m.findItemByName(volID, "music", ids.InvalidRefPos)
	dirID, _ := m.EnterChild(volID, partItem)
	artistItem, _ := m.findItemByName(dirID, "Artist", ids.InvalidRefPos)
	artistID, _ := m.EnterChild(dirID, artistItem)
	songItem, _ := m.findItemByName(artistID, "song.flac", ids.InvalidRefPos)

	uris, err := m.GetURIsForItem(artistID, songItem)
	if err != nil {
		t.Fatalf("GetURIsForItem: %v", err)
	}
	if len(uris) != 1 || uris[0] != "file:///song.flac" {
		t.Fatalf("unexpected uris: %v", uris)
	}
}

func TestGetRangeClipsToListLength(t *testing.T) {
	m, _, rootID := newTestManager(t)

	start, entries, err := m.GetRange(rootID, ids.NewItem(0), 10)
	if err != nil {
		t.Fatalf("GetRange: %v", err)
	}
	if start.Raw() != 0 {
		t.Fatalf("start = %d, want 0", start.Raw())
	}
	if len(entries) != 1 || entries[0].Name != "living-room" {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	_, empty, err := m.GetRange(rootID, ids.NewItem(5), 10)
	if err != nil {
		t.Fatalf("GetRange past end: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected an empty slice past the end of the list, got %+v", empty)
	}
}

func TestGetRootLinkToContextFindsTheBlessedRoot(t *testing.T) {
	m, a, rootID := newTestManager(t)

	gotID, item, title, err := m.GetRootLinkToContext(a.Context())
	if err != nil {
		t.Fatalf("GetRootLinkToContext: %v", err)
	}
	if !gotID.Equal(rootID) {
		t.Fatalf("got root %v, want %v", gotID, rootID)
	}
	if item.Raw() != 0 {
		t.Fatalf("expected item 0, got %d", item.Raw())
	}
	if title != "Living Room Media Server" {
		t.Fatalf("unexpected title: %q", title)
	}

	if _, _, _, err := m.GetRootLinkToContext(ids.Context(255)); err == nil {
		t.Fatalf("expected an error for an unknown context")
	}
}

func TestDiscardListRemovesTheSubtree(t *testing.T) {
	m, _, rootID := newTestManager(t)
	deviceItem, _ := m.findItemByName(rootID, "living-room", ids.InvalidRefPos)
	volID, _ := m.EnterChild(rootID, deviceItem)

	m.DiscardList(volID)

	if _, err := m.GetParentListID(volID); err == nil {
		t.Fatalf("expected GetParentListID to fail on a discarded list")
	}
}

func TestForceInCachePinsAndUnpins(t *testing.T) {
	m, _, rootID := newTestManager(t)

	if _, err := m.ForceInCache(rootID, true); err != nil {
		t.Fatalf("ForceInCache(pin): %v", err)
	}
	remaining, err := m.ForceInCache(rootID, false)
	if err != nil {
		t.Fatalf("ForceInCache(unpin): %v", err)
	}
	if remaining <= 0 {
		t.Fatalf("expected a positive remaining life after unpinning, got %v", remaining)
	}

	if _, err := m.ForceInCache(ids.NewListWith(404, 0, false), true); err == nil {
		t.Fatalf("expected an error for an unknown list id")
	}
}

func TestKeepAliveReportsGCIntervalAndInvalidIDs(t *testing.T) {
	m, _, rootID := newTestManager(t)
	bogus := ids.NewListWith(404, 0, false)

	interval, invalid := m.KeepAlive([]ids.List{rootID, bogus})
	if interval <= 0 {
		t.Fatalf("expected a positive GC interval, got %v", interval)
	}
	if len(invalid) != 1 || !invalid[0].Equal(bogus) {
		t.Fatalf("unexpected invalid-id set: %+v", invalid)
	}
}

func TestCheckRangeReportsClippedCount(t *testing.T) {
	m, _, rootID := newTestManager(t)

	first, count, err := m.CheckRange(rootID, ids.NewItem(0), 10)
	if err != nil {
		t.Fatalf("CheckRange: %v", err)
	}
	if first.Raw() != 0 || count != 1 {
		t.Fatalf("first=%d count=%d, want 0,1", first.Raw(), count)
	}
}

func TestGetChildListInfoReportsTitle(t *testing.T) {
	m, _, rootID := newTestManager(t)
	deviceItem, _ := m.findItemByName(rootID, "living-room", ids.InvalidRefPos)

	info, err := m.GetChildListInfo(rootID, deviceItem)
	if err != nil {
		t.Fatalf("GetChildListInfo: %v", err)
	}
	if info.Title != "living-room" {
		t.Fatalf("unexpected title: %q", info.Title)
	}
	if info.Translatable {
		t.Fatalf("expected a backend-sourced title to never be translatable")
	}
}

func TestGetRangeWithMetaDataFallsBackToNameWhenTitleIsEmpty(t *testing.T) {
	m, _, rootID := newTestManager(t)

	_, entries, err := m.GetRangeWithMetaData(rootID, ids.NewItem(0), 10)
	if err != nil {
		t.Fatalf("GetRangeWithMetaData: %v", err)
	}
	if len(entries) != 1 || entries[0].Title != "living-room" {
		t.Fatalf("unexpected meta entries: %+v", entries)
	}
}

func TestEnterChildParameterizedFiltersByMatchingTag(t *testing.T) {
	m, _, rootID := newTestManager(t)
	deviceItem, _ := m.findItemByName(rootID, "living-room", ids.InvalidRefPos)
	volID, _ := m.EnterChild(rootID, deviceItem)
	partItem, _ := m.findItemByName(volID, "music", ids.InvalidRefPos)
	dirID, _ := m.EnterChild(volID, partItem)

	// "Artist" is the only child of dirID and matches the parameter.
	info, err := m.EnterChildParameterized(dirID, ids.NewItem(0), "art")
	if err != nil {
		t.Fatalf("EnterChildParameterized: %v", err)
	}
	if info.Title != "Artist" {
		t.Fatalf("unexpected title: %q", info.Title)
	}

	if _, err := m.EnterChildParameterized(dirID, ids.NewItem(0), "no-such-match"); err == nil {
		t.Fatalf("expected an error when the parameter matches nothing")
	}
}

func TestEnterChildParameterizedRejectsNonDirectoryParent(t *testing.T) {
	m, _, rootID := newTestManager(t)
	deviceItem, _ := m.findItemByName(rootID, "living-room", ids.InvalidRefPos)
	volID, _ := m.EnterChild(rootID, deviceItem)

	// volID (a KindVolumeList) never supports parameterized entry.
	if _, err := m.EnterChildParameterized(volID, ids.NewItem(0), "anything"); err == nil {
		t.Fatalf("expected NOT_SUPPORTED entering a non-directory list parameterized")
	}
}

func TestGetParentLinkReturnsItselfForARootList(t *testing.T) {
	m, _, rootID := newTestManager(t)

	link, err := m.GetParentLink(rootID)
	if err != nil {
		t.Fatalf("GetParentLink: %v", err)
	}
	if !link.ListID.Equal(rootID) {
		t.Fatalf("expected a root list to report itself as its own parent link, got %v", link.ListID)
	}
	if link.ItemID.Raw() != 0 {
		t.Fatalf("expected item 0 for a self-referential parent link, got %d", link.ItemID.Raw())
	}
}

func TestGetParentLinkReportsParentAndOriginatingItem(t *testing.T) {
	m, _, rootID := newTestManager(t)
	deviceItem, _ := m.findItemByName(rootID, "living-room", ids.InvalidRefPos)
	volID, _ := m.EnterChild(rootID, deviceItem)

	link, err := m.GetParentLink(volID)
	if err != nil {
		t.Fatalf("GetParentLink: %v", err)
	}
	if !link.ListID.Equal(rootID) {
		t.Fatalf("expected parent %v, got %v", rootID, link.ListID)
	}
	if !link.ItemID.Equal(deviceItem) {
		t.Fatalf("expected the originating item %v, got %v", deviceItem, link.ItemID)
	}
	if link.Title != "Living Room Media Server" {
		t.Fatalf("unexpected parent title: %q", link.Title)
	}
}

func TestForEachVisitsClippedRangeAndStopsEarly(t *testing.T) {
	m, _, rootID := newTestManager(t)

	var seen []string
	err := m.ForEach(rootID, ids.NewItem(0), 10, func(item ids.Item, e backend.Entry) bool {
		seen = append(seen, e.Name)
		return true
	})
	if err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if len(seen) != 1 || seen[0] != "living-room" {
		t.Fatalf("unexpected visit order: %v", seen)
	}

	// fn returning false stops the walk immediately.
	calls := 0
	if err := m.ForEach(rootID, ids.NewItem(0), 0, func(ids.Item, backend.Entry) bool {
		calls++
		return false
	}); err != nil {
		t.Fatalf("ForEach: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected the walk to stop after one visit, got %d", calls)
	}

	if err := m.ForEach(ids.NewListWith(404, 0, false), ids.NewItem(0), 1, func(ids.Item, backend.Entry) bool { return true }); err == nil {
		t.Fatalf("expected an error for an unknown list id")
	}
}

func TestCanHandleStrboURLChecksSchemesOnly(t *testing.T) {
	m, _, _ := newTestManager(t)

	for _, url := range []string{
		"strbo-usb://d:p/x",
		"strbo-ref-usb://d:p/x:1",
		"strbo-trace-usb://d:p/x:1",
	} {
		if !m.CanHandleStrboURL(url) {
			t.Fatalf("expected %s to be handled", url)
		}
	}
	if m.CanHandleStrboURL("http://example.com/") {
		t.Fatalf("foreign schemes must not be handled")
	}
}

func TestDiscardListHintMakesTheListCollectable(t *testing.T) {
	c := cache.New(1<<20, 1000, time.Hour)
	m := New(c)

	a := upnpstub.New(ids.Context(1))
	a.AddPartition("living-room", "music", &upnpstub.Node{Name: "music", Kind: 0})
	rootID, err := m.AllocateBlessedList(a, "Living Room Media Server")
	if err != nil {
		t.Fatalf("AllocateBlessedList: %v", err)
	}
	deviceItem, _ := m.findItemByName(rootID, "living-room", ids.InvalidRefPos)
	volID, _ := m.EnterChild(rootID, deviceItem)

	m.DiscardListHint(volID)
	c.GC()

	if c.Lookup(volID) != nil {
		t.Fatalf("hinted list should have been collected by the next GC pass")
	}
	if c.Lookup(rootID) == nil {
		t.Fatalf("the blessed (pinned) root must survive")
	}
}

func TestListContextsReportsEveryBlessedRoot(t *testing.T) {
	m, a, _ := newTestManager(t)

	ctxs := m.ListContexts()
	if len(ctxs) != 1 {
		t.Fatalf("expected one context, got %d", len(ctxs))
	}
	if ctxs[0].Context != a.Context() {
		t.Fatalf("unexpected context: %v", ctxs[0].Context)
	}
	if ctxs[0].Description != "Living Room Media Server" {
		t.Fatalf("unexpected description: %q", ctxs[0].Description)
	}
}
