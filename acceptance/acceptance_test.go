package acceptance

import (
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/strbo/listbroker/backend"
	"github.com/strbo/listbroker/backend/upnpstub"
	"github.com/strbo/listbroker/cache"
	"github.com/strbo/listbroker/cookie"
	"github.com/strbo/listbroker/ids"
	"github.com/strbo/listbroker/locurl"
	"github.com/strbo/listbroker/rnf"
	"github.com/strbo/listbroker/tree"
	"github.com/strbo/listbroker/work"
	"github.com/strbo/listbroker/workqueue"
)

func newLivingRoom() *upnpstub.Adapter {
	a := upnpstub.New(ids.Context(7))
	a.AddPartition("living-room", "music", &upnpstub.Node{
		Name: "music",
		Kind: 0,
		Children: []*upnpstub.Node{
			{Name: "song.flac", Kind: 1, Size: 12345, URI: "file:///song.flac"},
		},
	})
	return a
}

var _ = Describe("get_range", func() {
	var (
		m      *tree.Manager
		rootID ids.List
	)

	BeforeEach(func() {
		c := cache.New(1<<20, 1000, time.Hour)
		m = tree.New(c)
		var err error
		rootID, err = m.AllocateBlessedList(newLivingRoom(), "Living Room Media Server")
		Expect(err).NotTo(HaveOccurred())
	})

	It("answers on the fast path when the backend replies quickly", func() {
		q := workqueue.New(workqueue.Async, 4)
		defer q.Shutdown()
		reg := cookie.NewRegistry(150 * time.Millisecond)
		method := rnf.NewMethod("get_range", q, reg, cookie.NotifyAfterTimeout)

		impl := rnf.NewGetRangeWork(m, rootID, ids.NewItem(0), 10)
		result, _, err := method.Invoke(impl, nil)
		Expect(err).NotTo(HaveOccurred())

		rr, ok := result.(rnf.RangeResult)
		Expect(ok).To(BeTrue())
		Expect(rr.Entries).To(HaveLen(1))
		Expect(rr.Entries[0].Name).To(Equal("living-room"))
	})

	It("falls back to a cookie when the backend is slow, then delivers by_cookie", func() {
		q := workqueue.New(workqueue.Async, 4)
		defer q.Shutdown()
		reg := cookie.NewRegistry(20 * time.Millisecond)
		method := rnf.NewMethod("get_range", q, reg, cookie.NotifyAfterTimeout)

		notified := make(chan uint32, 1)
		notifier := rnf.NewNotifier(func(ck uint32) { notified <- ck }, nil)

		impl := &slowRangeWork{inner: rnf.NewGetRangeWork(m, rootID, ids.NewItem(0), 10), delay: 80 * time.Millisecond}
		_, ck, err := method.Invoke(impl, notifier)
		_, isPending := err.(*cookie.PendingError)
		Expect(isPending).To(BeTrue())
		Expect(ck).NotTo(BeZero())

		Eventually(notified, time.Second).Should(Receive(Equal(ck)))

		result, err := method.ByCookie(ck)
		Expect(err).NotTo(HaveOccurred())
		rr, ok := result.(rnf.RangeResult)
		Expect(ok).To(BeTrue())
		Expect(rr.Entries).To(HaveLen(1))
	})

	It("lets a client abandon a pending cookie instead of fetching it", func() {
		q := workqueue.New(workqueue.Async, 4)
		defer q.Shutdown()
		reg := cookie.NewRegistry(10 * time.Millisecond)
		method := rnf.NewMethod("get_range", q, reg, cookie.NotifyAfterTimeout)

		impl := &slowRangeWork{inner: rnf.NewGetRangeWork(m, rootID, ids.NewItem(0), 10), delay: 150 * time.Millisecond}
		_, ck, err := method.Invoke(impl, nil)
		_, isPending := err.(*cookie.PendingError)
		Expect(isPending).To(BeTrue())

		method.CookieNotWanted(ck)
		Expect(reg.Len()).To(Equal(0))
	})
})

var _ = Describe("get_list_id and friends", func() {
	It("reports the child list's title on the fast path", func() {
		c := cache.New(1<<20, 1000, time.Hour)
		m := tree.New(c)
		rootID, err := m.AllocateBlessedList(newLivingRoom(), "Living Room Media Server")
		Expect(err).NotTo(HaveOccurred())

		q := workqueue.New(workqueue.Async, 4)
		defer q.Shutdown()
		reg := cookie.NewRegistry(150 * time.Millisecond)
		method := rnf.NewMethod("get_list_id", q, reg, cookie.NotifyAfterTimeout)

		impl := rnf.NewEnterChildWork(m, rootID, ids.NewItem(0))
		result, _, err := method.Invoke(impl, nil)
		Expect(err).NotTo(HaveOccurred())

		info, ok := result.(tree.ChildListInfo)
		Expect(ok).To(BeTrue())
		Expect(info.ListID.IsValid()).To(BeTrue())
		Expect(info.Title).To(Equal("living-room"))
		Expect(info.Translatable).To(BeFalse())
	})

	It("reshapes get_range's entries into the metadata tuple", func() {
		c := cache.New(1<<20, 1000, time.Hour)
		m := tree.New(c)
		rootID, err := m.AllocateBlessedList(newLivingRoom(), "Living Room Media Server")
		Expect(err).NotTo(HaveOccurred())

		q := workqueue.New(workqueue.Async, 4)
		defer q.Shutdown()
		reg := cookie.NewRegistry(150 * time.Millisecond)
		method := rnf.NewMethod("get_range_with_meta_data", q, reg, cookie.NotifyAfterTimeout)

		impl := rnf.NewGetRangeWithMetaDataWork(m, rootID, ids.NewItem(0), 10)
		result, _, err := method.Invoke(impl, nil)
		Expect(err).NotTo(HaveOccurred())

		mr, ok := result.(rnf.MetaRangeResult)
		Expect(ok).To(BeTrue())
		Expect(mr.Entries).To(HaveLen(1))
		Expect(mr.Entries[0].Title).To(Equal("living-room"))
	})

	It("filters by a search parameter when the backend supports it", func() {
		c := cache.New(1<<20, 1000, time.Hour)
		m := tree.New(c)
		a := upnpstub.New(ids.Context(7))
		a.AddPartition("living-room", "music", &upnpstub.Node{
			Name: "music",
			Kind: 0,
			Children: []*upnpstub.Node{
				{Name: "Polka Party", Kind: 0, Artist: "Weird Al", Children: []*upnpstub.Node{
					{Name: "song.flac", Kind: 1, Size: 12345, URI: "file:///song.flac"},
				}},
			},
		})
		rootID, err := m.AllocateBlessedList(a, "Living Room Media Server")
		Expect(err).NotTo(HaveOccurred())

		volID, err := m.EnterChild(rootID, ids.NewItem(0))
		Expect(err).NotTo(HaveOccurred())
		dirID, err := m.EnterChild(volID, ids.NewItem(0))
		Expect(err).NotTo(HaveOccurred())

		q := workqueue.New(workqueue.Async, 4)
		defer q.Shutdown()
		reg := cookie.NewRegistry(150 * time.Millisecond)
		method := rnf.NewMethod("get_parameterized_list_id", q, reg, cookie.NotifyAfterTimeout)

		impl := rnf.NewEnterChildParameterizedWork(m, dirID, ids.NewItem(0), "weird")
		result, _, err := method.Invoke(impl, nil)
		Expect(err).NotTo(HaveOccurred())

		info, ok := result.(tree.ChildListInfo)
		Expect(ok).To(BeTrue())
		Expect(info.Title).To(Equal("Polka Party"))
	})
})

var _ = Describe("get_parent_link and get_list_contexts", func() {
	It("reports a context for every blessed root and lets get_parent_link walk back up", func() {
		c := cache.New(1<<20, 1000, time.Hour)
		m := tree.New(c)
		a := newLivingRoom()
		rootID, err := m.AllocateBlessedList(a, "Living Room Media Server")
		Expect(err).NotTo(HaveOccurred())

		bus := &rnf.Bus{Tree: m, Registry: cookie.NewRegistry(150 * time.Millisecond)}

		ctxs := bus.ListContexts()
		Expect(ctxs).To(HaveLen(1))
		Expect(ctxs[0].Context).To(Equal(a.Context()))
		Expect(ctxs[0].Description).To(Equal("Living Room Media Server"))

		volID, err := m.EnterChild(rootID, ids.NewItem(0))
		Expect(err).NotTo(HaveOccurred())

		link, err := bus.GetParentLink(volID)
		Expect(err).NotTo(HaveOccurred())
		Expect(link.ListID).To(Equal(rootID))

		rootLink, err := bus.GetParentLink(rootID)
		Expect(err).NotTo(HaveOccurred())
		Expect(rootLink.ListID).To(Equal(rootID))
	})
})

var _ = Describe("get_location_key and get_location_trace", func() {
	It("mints a reference-key URL on the sync path and resolves a matching trace through the bus", func() {
		c := cache.New(1<<20, 1000, time.Hour)
		m := tree.New(c)
		rootID, err := m.AllocateBlessedList(newLivingRoom(), "Living Room Media Server")
		Expect(err).NotTo(HaveOccurred())

		volID, err := m.EnterChild(rootID, ids.NewItem(0))
		Expect(err).NotTo(HaveOccurred())
		dirID, err := m.EnterChild(volID, ids.NewItem(0))
		Expect(err).NotTo(HaveOccurred())

		reg := cookie.NewRegistry(150 * time.Millisecond)
		bus := &rnf.Bus{Tree: m, Registry: reg}

		url, err := bus.GetLocationKey(dirID, ids.NewItem(0), true)
		Expect(err).NotTo(HaveOccurred())
		Expect(url).NotTo(BeEmpty())

		q := workqueue.New(workqueue.Async, 4)
		defer q.Shutdown()
		method := rnf.NewMethod("get_location_trace", q, reg, cookie.NotifyAfterTimeout)

		impl := rnf.NewGetLocationTraceWork(m, dirID, ids.NewItem(0), volID, ids.NewItem(0))
		result, _, err := method.Invoke(impl, nil)
		Expect(err).NotTo(HaveOccurred())
		trace, ok := result.(string)
		Expect(ok).To(BeTrue())
		Expect(trace).NotTo(BeEmpty())
	})
})

var _ = Describe("data_abort", func() {
	It("cancels a pending realize_location and signals data_error on it", func() {
		c := cache.New(1<<20, 1000, time.Hour)
		m := tree.New(c)
		_, err := m.AllocateBlessedList(newLivingRoom(), "Living Room Media Server")
		Expect(err).NotTo(HaveOccurred())

		q := workqueue.New(workqueue.Async, 4)
		defer q.Shutdown()
		reg := cookie.NewRegistry(20 * time.Millisecond)
		method := rnf.NewMethod("realize_location", q, reg, cookie.NotifyAlways)
		bus := &rnf.Bus{Tree: m, Registry: reg}

		errored := make(chan uint32, 1)
		notifier := rnf.NewNotifier(nil, func(ck uint32) { errored <- ck })

		impl := &blockingWork{unblock: make(chan struct{})}
		ck, err := method.InvokeAsync(impl, notifier)
		Expect(err).NotTo(HaveOccurred())
		Expect(ck).NotTo(BeZero())

		bus.DataAbort([]uint32{ck}, []bool{false})
		close(impl.unblock)

		Eventually(errored, time.Second).Should(Receive(Equal(ck)))

		_, err = method.ByCookie(ck)
		_, isBadCookie := err.(*cookie.BadCookieError)
		Expect(isBadCookie).To(BeTrue())
	})
})

// blockingWork runs until told to stop, so a test can abort it mid-flight
// deterministically instead of racing a sleep against a cancel.
type blockingWork struct {
	unblock chan struct{}
}

func (w *blockingWork) Run(*work.Item) (interface{}, error) {
	<-w.unblock
	return nil, nil
}

func (w *blockingWork) Cancel(*work.Item) bool { return true }

// slowRangeWork delays before delegating to a real get_range work.Impl, to
// force the slow path deterministically without sleeping inside the tree
// manager itself.
type slowRangeWork struct {
	inner work.Impl
	delay time.Duration
}

func (w *slowRangeWork) Run(it *work.Item) (interface{}, error) {
	time.Sleep(w.delay)
	return w.inner.Run(it)
}

func (w *slowRangeWork) Cancel(it *work.Item) bool { return w.inner.Cancel(it) }

var _ = Describe("location URLs", func() {
	It("round-trips a strbo-usb URL through parse and emit", func() {
		raw := "strbo-usb://living%20room:music/song.flac"
		var k locurl.SimpleKey
		Expect(k.SetURL(raw)).To(Equal(locurl.OK))

		c, ok := k.Unpack()
		Expect(ok).To(BeTrue())
		Expect(c.Device).To(Equal("living room"))
		Expect(c.Partition).To(Equal("music"))
		Expect(c.Path).To(Equal("song.flac"))

		Expect(k.Emit()).To(Equal(raw))
	})

	It("resolves a strbo-usb URL back to live coordinates via Realize", func() {
		c := cache.New(1<<20, 1000, time.Hour)
		m := tree.New(c)
		_, err := m.AllocateBlessedList(newLivingRoom(), "Living Room Media Server")
		Expect(err).NotTo(HaveOccurred())

		url := locurl.NewSimpleKey(locurl.SimpleKeyComponents{
			Device: "living-room", Partition: "music", Path: "song.flac",
		}).Emit()

		result, err := m.Realize(url)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.ItemKind).To(Equal(backend.EntryRegularFile))
		Expect(result.ListID.IsValid()).To(BeTrue())
	})

	It("rejects a reference URL whose reference path doesn't exist", func() {
		c := cache.New(1<<20, 1000, time.Hour)
		m := tree.New(c)
		_, err := m.AllocateBlessedList(newLivingRoom(), "Living Room Media Server")
		Expect(err).NotTo(HaveOccurred())

		url := "strbo-ref-usb://living-room:music/no-such-dir/song.flac:1"
		_, err = m.Realize(url)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("cache GC and pinning", func() {
	It("never evicts the pinned list even past its age threshold", func() {
		c := cache.New(1<<20, 1, time.Millisecond)

		pinned, err := c.Insert(ids.Invalid, ids.NewItem(0), 10, cache.Cacheable, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(c.Use(pinned, true)).To(BeTrue())

		other, err := c.Insert(ids.Invalid, ids.NewItem(1), 10, cache.Cacheable, 0)
		Expect(err).NotTo(HaveOccurred())

		time.Sleep(5 * time.Millisecond)
		c.GC()

		Expect(c.Lookup(pinned)).NotTo(BeNil())
		Expect(c.Lookup(other)).To(BeNil())
	})
})
