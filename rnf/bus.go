// bus.go wires the method table from §6 to the tree manager: each bus
// method becomes a work.Impl factory plus an rnf.Method, all sharing one
// cookie registry and one queue per method family (§4.G: each method gets
// its own bounded queue so a slow directory listing on one method can't
// starve an unrelated one).
package rnf

import (
	"time"

	"github.com/OneOfOne/xxhash"

	"github.com/strbo/listbroker/backend"
	"github.com/strbo/listbroker/cmn"
	"github.com/strbo/listbroker/cookie"
	"github.com/strbo/listbroker/ids"
	"github.com/strbo/listbroker/tree"
	"github.com/strbo/listbroker/work"
	"github.com/strbo/listbroker/workqueue"
)

// Bus is the process-wide collection of RNF methods, one per bus method
// family, all sharing the tree manager and cookie registry.
type Bus struct {
	Tree     *tree.Manager
	Registry *cookie.Registry

	GetRange      *Method
	GetRangeMeta  *Method
	EnterChild    *Method
	EnterChildP   *Method
	Realize       *Method
	GetURIs       *Method
	GetLinks      *Method
	LocationTrace *Method
}

// NewBus builds every method's queue (mode/length from cfg) and binds it to
// t and r.
func NewBus(t *tree.Manager, r *cookie.Registry, queueMode workqueue.Mode, maxLength int) *Bus {
	return &Bus{
		Tree:          t,
		Registry:      r,
		GetRange:      NewMethod("get_range", workqueue.New(queueMode, maxLength), r, cookie.NotifyAfterTimeout),
		GetRangeMeta:  NewMethod("get_range_with_meta_data", workqueue.New(queueMode, maxLength), r, cookie.NotifyAfterTimeout),
		EnterChild:    NewMethod("get_list_id", workqueue.New(queueMode, maxLength), r, cookie.NotifyAfterTimeout),
		EnterChildP:   NewMethod("get_parameterized_list_id", workqueue.New(queueMode, maxLength), r, cookie.NotifyAfterTimeout),
		Realize:       NewMethod("realize_location", workqueue.New(queueMode, maxLength), r, cookie.NotifyAlways),
		GetURIs:       NewMethod("get_uris", workqueue.New(queueMode, maxLength), r, cookie.NotifyAfterTimeout),
		GetLinks:      NewMethod("get_ranked_stream_links", workqueue.New(queueMode, maxLength), r, cookie.NotifyAfterTimeout),
		LocationTrace: NewMethod("get_location_trace", workqueue.New(queueMode, maxLength), r, cookie.NotifyAfterTimeout),
	}
}

// Shutdown tears down every method's queue.
func (b *Bus) Shutdown() {
	b.GetRange.queue.Shutdown()
	b.GetRangeMeta.queue.Shutdown()
	b.EnterChild.queue.Shutdown()
	b.EnterChildP.queue.Shutdown()
	b.Realize.queue.Shutdown()
	b.GetURIs.queue.Shutdown()
	b.GetLinks.queue.Shutdown()
	b.LocationTrace.queue.Shutdown()
}

// GetRootLinkToContext, DiscardList, ForceInCache, and KeepAlive are
// §6's "sync" methods: they answer directly off the tree manager/cache
// without going through a Method's queue/cookie pair, since none of them
// ever blocks on backend I/O.

func (b *Bus) GetRootLinkToContext(ctx ids.Context) (ids.List, ids.Item, string, error) {
	return b.Tree.GetRootLinkToContext(ctx)
}

// GetParentLink implements get_parent_link.
func (b *Bus) GetParentLink(id ids.List) (tree.ParentLink, error) {
	return b.Tree.GetParentLink(id)
}

// ListContexts implements get_list_contexts.
func (b *Bus) ListContexts() []tree.ContextInfo {
	return b.Tree.ListContexts()
}

// CheckRange implements check_range: like get_range but replies with
// only the clipped first-item-id and count, answered directly rather
// than through a Method's queue. It still enumerates the list's entries
// through the backend to learn the count.
func (b *Bus) CheckRange(listID ids.List, first ids.Item, count int) (ids.Item, int, error) {
	return b.Tree.CheckRange(listID, first, count)
}

// GetLocationKey implements get_location_key: §6 classifies it "sync"
// unlike its ref-checking sibling get_location_trace, so it answers
// directly off the tree manager rather than through a Method's queue.
// asReference selects the strbo-ref-usb grammar over the plain strbo-usb
// one.
func (b *Bus) GetLocationKey(listID ids.List, itemPos ids.Item, asReference bool) (string, error) {
	return b.Tree.GetLocationKey(listID, itemPos, asReference)
}

func (b *Bus) DiscardList(id ids.List) {
	b.Tree.DiscardList(id)
}

func (b *Bus) ForceInCache(id ids.List, force bool) (time.Duration, error) {
	return b.Tree.ForceInCache(id, force)
}

func (b *Bus) KeepAlive(idList []ids.List) (time.Duration, []ids.List) {
	return b.Tree.KeepAlive(idList)
}

// DataAbort implements data_abort: cancel the work named by each
// (cookie, keepAround) pair. Any NotifyAlways method (realize_location)
// still signals data_error through its own done-notification hook; this
// just triggers the cancel that makes that hook fire with success=false.
func (b *Bus) DataAbort(cookies []uint32, keepAround []bool) {
	for i, ck := range cookies {
		ka := false
		if i < len(keepAround) {
			ka = keepAround[i]
		}
		b.Registry.Abort(ck, ka)
	}
}

// The wrappers below bind §6's fast-path method table to the Method
// adapters: each "request" call runs try_fast_path and each "by cookie"
// call runs finish_slow_path, with the work.Impl factories further down
// this file supplying the actual tree-manager calls.

func (b *Bus) GetRangeCall(listID ids.List, first ids.Item, count int, n cookie.Notifier) (interface{}, uint32, error) {
	return b.GetRange.Invoke(NewGetRangeWork(b.Tree, listID, first, count), n)
}

func (b *Bus) GetRangeByCookie(ck uint32) (interface{}, error) {
	return b.GetRange.ByCookie(ck)
}

func (b *Bus) GetRangeWithMetaDataCall(listID ids.List, first ids.Item, count int, n cookie.Notifier) (interface{}, uint32, error) {
	return b.GetRangeMeta.Invoke(NewGetRangeWithMetaDataWork(b.Tree, listID, first, count), n)
}

func (b *Bus) GetRangeWithMetaDataByCookie(ck uint32) (interface{}, error) {
	return b.GetRangeMeta.ByCookie(ck)
}

func (b *Bus) GetListID(parent ids.List, item ids.Item, n cookie.Notifier) (interface{}, uint32, error) {
	return b.EnterChild.Invoke(NewEnterChildWork(b.Tree, parent, item), n)
}

func (b *Bus) GetListIDByCookie(ck uint32) (interface{}, error) {
	return b.EnterChild.ByCookie(ck)
}

func (b *Bus) GetParameterizedListID(parent ids.List, item ids.Item, parameter string, n cookie.Notifier) (interface{}, uint32, error) {
	return b.EnterChildP.Invoke(NewEnterChildParameterizedWork(b.Tree, parent, item, parameter), n)
}

func (b *Bus) GetParameterizedListIDByCookie(ck uint32) (interface{}, error) {
	return b.EnterChildP.ByCookie(ck)
}

func (b *Bus) GetURIsCall(listID ids.List, item ids.Item, n cookie.Notifier) (interface{}, uint32, error) {
	return b.GetURIs.Invoke(NewGetURIsWork(b.Tree, listID, item), n)
}

func (b *Bus) GetURIsByCookie(ck uint32) (interface{}, error) {
	return b.GetURIs.ByCookie(ck)
}

func (b *Bus) GetRankedStreamLinks(listID ids.List, item ids.Item, n cookie.Notifier) (interface{}, uint32, error) {
	return b.GetLinks.Invoke(NewGetLinksWork(b.Tree, listID, item), n)
}

func (b *Bus) GetRankedStreamLinksByCookie(ck uint32) (interface{}, error) {
	return b.GetLinks.ByCookie(ck)
}

func (b *Bus) GetLocationTrace(listID ids.List, itemPos ids.Item, refListID ids.List, refItemPos ids.Item, n cookie.Notifier) (interface{}, uint32, error) {
	return b.LocationTrace.Invoke(NewGetLocationTraceWork(b.Tree, listID, itemPos, refListID, refItemPos), n)
}

func (b *Bus) GetLocationTraceByCookie(ck uint32) (interface{}, error) {
	return b.LocationTrace.ByCookie(ck)
}

// RealizeLocation implements realize_location, the one pure-async method
// in the table (§6): the reply is always a cookie, and the realized
// coordinates are fetched with RealizeLocationByCookie after the
// data_available signal.
func (b *Bus) RealizeLocation(url string, n cookie.Notifier) (uint32, error) {
	return b.Realize.InvokeAsync(NewRealizeWork(b.Tree, url), n)
}

func (b *Bus) RealizeLocationByCookie(ck uint32) (interface{}, error) {
	return b.Realize.ByCookie(ck)
}

// ItemKeyHash hashes a (list, item) pair into a stable 64-bit key, used to
// correlate get_uris/get_ranked_stream_links results with a client-visible
// opaque handle without leaking the live cache-ID numbering scheme.
func ItemKeyHash(list ids.List, item ids.Item) uint64 {
	h := xxhash.New64()
	var buf [8]byte
	putU32(buf[0:4], list.Raw())
	putU32(buf[4:8], item.Raw())
	h.Write(buf[:])
	return h.Sum64()
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

// RangeResult is get_range's reply payload on success: the (possibly
// clipped) start item-id and the entries found there (§6).
type RangeResult struct {
	StartID ids.Item
	Entries []backend.Entry
}

type getRangeWork struct {
	tree  *tree.Manager
	list  ids.List
	first ids.Item
	count int
}

func NewGetRangeWork(t *tree.Manager, list ids.List, first ids.Item, count int) work.Impl {
	return &getRangeWork{tree: t, list: list, first: first, count: count}
}

func (w *getRangeWork) Run(*work.Item) (interface{}, error) {
	startID, entries, err := w.tree.GetRange(w.list, w.first, w.count)
	if err != nil {
		return nil, err
	}
	return RangeResult{StartID: startID, Entries: entries}, nil
}

func (w *getRangeWork) Cancel(*work.Item) bool { return false }

// MetaRangeResult is get_range_with_meta_data's payload: the (possibly
// clipped) start item-id and the metadata-tagged entries found there.
type MetaRangeResult struct {
	StartID ids.Item
	Entries []tree.MetaEntry
}

type getRangeMetaWork struct {
	tree  *tree.Manager
	list  ids.List
	first ids.Item
	count int
}

func NewGetRangeWithMetaDataWork(t *tree.Manager, list ids.List, first ids.Item, count int) work.Impl {
	return &getRangeMetaWork{tree: t, list: list, first: first, count: count}
}

func (w *getRangeMetaWork) Run(*work.Item) (interface{}, error) {
	startID, entries, err := w.tree.GetRangeWithMetaData(w.list, w.first, w.count)
	if err != nil {
		return nil, err
	}
	return MetaRangeResult{StartID: startID, Entries: entries}, nil
}

func (w *getRangeMetaWork) Cancel(*work.Item) bool { return false }

// enterChildWork adapts tree.Manager.GetChildListInfo to a work.Impl so it
// can run through a Method's queue/cookie pair instead of blocking the
// caller directly — a directory listing behind a slow USB read gets the
// same fast-path/slow-path treatment as any other method.
type enterChildWork struct {
	tree   *tree.Manager
	parent ids.List
	item   ids.Item
}

func NewEnterChildWork(t *tree.Manager, parent ids.List, item ids.Item) work.Impl {
	return &enterChildWork{tree: t, parent: parent, item: item}
}

func (w *enterChildWork) Run(*work.Item) (interface{}, error) {
	return w.tree.GetChildListInfo(w.parent, w.item)
}

func (w *enterChildWork) Cancel(*work.Item) bool {
	// Cache lookups and backend enumeration calls poll the tree's
	// cancellation counter themselves; nothing to tear down immediately.
	return false
}

// enterChildParameterizedWork adapts tree.Manager.EnterChildParameterized
// to a work.Impl, backing get_parameterized_list_id the same way
// enterChildWork backs get_list_id.
type enterChildParameterizedWork struct {
	tree      *tree.Manager
	parent    ids.List
	item      ids.Item
	parameter string
}

func NewEnterChildParameterizedWork(t *tree.Manager, parent ids.List, item ids.Item, parameter string) work.Impl {
	return &enterChildParameterizedWork{tree: t, parent: parent, item: item, parameter: parameter}
}

func (w *enterChildParameterizedWork) Run(*work.Item) (interface{}, error) {
	return w.tree.EnterChildParameterized(w.parent, w.item, w.parameter)
}

func (w *enterChildParameterizedWork) Cancel(*work.Item) bool { return false }

// locationTraceWork adapts tree.Manager.GetLocationTrace to a work.Impl:
// the reference-point walk can run long on a deep tree, so it gets the
// same fast-path/slow-path treatment as get_range instead of blocking
// the caller directly.
type locationTraceWork struct {
	tree                *tree.Manager
	listID, refListID   ids.List
	itemPos, refItemPos ids.Item
}

func NewGetLocationTraceWork(t *tree.Manager, listID ids.List, itemPos ids.Item, refListID ids.List, refItemPos ids.Item) work.Impl {
	return &locationTraceWork{tree: t, listID: listID, itemPos: itemPos, refListID: refListID, refItemPos: refItemPos}
}

func (w *locationTraceWork) Run(*work.Item) (interface{}, error) {
	return w.tree.GetLocationTrace(w.listID, w.itemPos, w.refListID, w.refItemPos)
}

func (w *locationTraceWork) Cancel(*work.Item) bool { return false }

type realizeWork struct {
	tree *tree.Manager
	url  string
}

func NewRealizeWork(t *tree.Manager, url string) work.Impl {
	return &realizeWork{tree: t, url: url}
}

func (w *realizeWork) Run(*work.Item) (interface{}, error) {
	return w.tree.Realize(w.url)
}

func (w *realizeWork) Cancel(*work.Item) bool { return false }

type getURIsWork struct {
	tree *tree.Manager
	dir  ids.List
	item ids.Item
}

func NewGetURIsWork(t *tree.Manager, dir ids.List, item ids.Item) work.Impl {
	return &getURIsWork{tree: t, dir: dir, item: item}
}

func (w *getURIsWork) Run(*work.Item) (interface{}, error) {
	return w.tree.GetURIsForItem(w.dir, w.item)
}

func (w *getURIsWork) Cancel(*work.Item) bool { return false }

type getLinksWork struct {
	tree *tree.Manager
	dir  ids.List
	item ids.Item
}

func NewGetLinksWork(t *tree.Manager, dir ids.List, item ids.Item) work.Impl {
	return &getLinksWork{tree: t, dir: dir, item: item}
}

func (w *getLinksWork) Run(*work.Item) (interface{}, error) {
	return w.tree.GetRankedLinksForItem(w.dir, w.item)
}

func (w *getLinksWork) Cancel(*work.Item) bool { return false }

// nopNotifier satisfies cookie.Notifier for callers that poll by_cookie
// themselves instead of wiring a real IPC signal path (out of scope: the
// signal transport itself, §2's Non-goals).
type nopNotifier struct{ onAvailable, onError func(uint32) }

func (n *nopNotifier) NotifyDataAvailable(ck uint32) {
	if n.onAvailable != nil {
		n.onAvailable(ck)
	}
}

func (n *nopNotifier) NotifyDataError(ck uint32, err error) {
	if n.onError != nil {
		n.onError(ck)
	} else {
		cmn.L().Debugw("work finished with error, no notifier installed", "cookie", ck, "err", err)
	}
}

// NewNotifier builds a cookie.Notifier from two optional callbacks, for
// binding to whatever IPC signal mechanism a deployment provides.
func NewNotifier(onAvailable, onError func(cookie uint32)) cookie.Notifier {
	return &nopNotifier{onAvailable: onAvailable, onError: onError}
}
