// Command listbrokerd starts the list-broker process: one cache/GC timer
// and tree manager per configured backend context, a shared cookie
// registry, and the RNF method bus (§2, §6). The actual IPC binding that
// exposes the bus methods on the wire is an external collaborator per
// spec.md §1; this binary wires the in-process components and, when built
// against a real IPC layer, would hand the resulting *rnf.Bus to it.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jacobsa/daemonize"
	"github.com/urfave/cli"

	"github.com/strbo/listbroker/backend"
	"github.com/strbo/listbroker/backend/upnpstub"
	"github.com/strbo/listbroker/backend/usbfs"
	"github.com/strbo/listbroker/cache"
	"github.com/strbo/listbroker/cmn"
	"github.com/strbo/listbroker/cookie"
	"github.com/strbo/listbroker/ids"
	"github.com/strbo/listbroker/rnf"
	"github.com/strbo/listbroker/tree"
	"github.com/strbo/listbroker/workqueue"
)

// Context tags for the two backend kinds this reference build wires up; a
// real deployment would source these from configuration per backend
// instance instead of hardcoding them.
const (
	usbContext  ids.Context = 1
	upnpContext ids.Context = 2
)

// broker bundles everything the daemonized process holds onto for its
// lifetime: one tree manager, one GC timer, and one RNF bus per backend
// context, plus the process-wide cookie registry (§6: "one tree per
// backend kind ... one singleton cookie registry"), mirroring the
// original's separate per-backend D-Bus interfaces
// (dbus_usb_iface.c vs dbus_upnp_iface.c) as separate buses sharing one
// process instead of one bus serving only the first-wired backend.
type broker struct {
	managers []*tree.Manager
	gcTimers []*cache.GCTimer
	registry *cookie.Registry
	buses    []*rnf.Bus
}

func newBroker(cfg cmn.Config, usbRoot string) *broker {
	registry := cookie.NewRegistry(cfg.RNF.FastPathTimeout())

	var adapters []backend.Adapter
	if usbRoot != "" {
		adapters = append(adapters, usbfs.New(usbRoot, usbContext))
	}
	adapters = append(adapters, upnpstub.New(upnpContext))

	b := &broker{registry: registry}
	for _, a := range adapters {
		c := cache.New(cfg.Cache.MaxBytes, cfg.Cache.MaxCount, cfg.Cache.AgeThreshold())
		m := tree.New(c)
		gt := cache.NewGCTimer(c, cfg.Cache.MinGCTimer(), maxGCTimer)
		m.SetNeedGCSoon(func() { go gt.TriggerNow() })
		if _, err := m.AllocateBlessedList(a, contextTitle(a)); err != nil {
			cmn.L().Errorw("failed to bless root list for backend", "err", err)
			continue
		}
		gt.Enable()

		b.managers = append(b.managers, m)
		b.gcTimers = append(b.gcTimers, gt)
		b.buses = append(b.buses, rnf.NewBus(m, registry, workqueue.Async, cfg.Queue.MaxLength))
	}

	return b
}

// BusForContext returns the RNF bus independently browsing ctx, or nil if
// no backend was wired up for it.
func (b *broker) BusForContext(ctx ids.Context) *rnf.Bus {
	for i, m := range b.managers {
		for _, c := range m.ListContexts() {
			if c.Context == ctx {
				return b.buses[i]
			}
		}
	}
	return nil
}

// ListContexts implements get_list_contexts across every backend context
// this process wired up, not just the one the RNF bus happens to be bound
// to (§6: "array of (context-id, description)", one entry per context).
func (b *broker) ListContexts() []tree.ContextInfo {
	var out []tree.ContextInfo
	for _, m := range b.managers {
		out = append(out, m.ListContexts()...)
	}
	return out
}

func (b *broker) shutdown() {
	for _, gt := range b.gcTimers {
		gt.Disable()
	}
	for _, bus := range b.buses {
		bus.Shutdown()
	}
}

func contextTitle(a backend.Adapter) string {
	return fmt.Sprintf("context-%d", a.Context())
}

// maxGCTimer is the event loop's maximum representable timeout (§4.C),
// here just a generous ceiling since Go's timer isn't bounded the way a
// GLib main loop's uint millisecond source is.
const maxGCTimer = 24 * time.Hour

func main() {
	app := cli.NewApp()
	app.Name = "listbrokerd"
	app.Usage = "USB/UPnP list-broker daemon"
	app.Version = "0.1.0"
	app.Flags = []cli.Flag{
		cli.StringFlag{Name: "verbose", Value: "info", Usage: "log level: quiet|error|notice|info|debug|trace"},
		cli.BoolFlag{Name: "quiet", Usage: "equivalent to --verbose quiet"},
		cli.BoolFlag{Name: "stderr", Usage: "also log to stderr"},
		cli.StringFlag{Name: "config", Usage: "path to a TOML config file"},
		cli.StringFlag{Name: "usb-root", Usage: "directory whose subdirectories are treated as USB devices"},
		cli.BoolFlag{Name: "daemonize", Usage: "fork into the background and report readiness via daemonize"},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	level := cmn.ParseLevel(c.String("verbose"))
	if c.Bool("quiet") {
		level = cmn.LevelQuiet
	}
	cmn.Configure(cmn.LogConfig{Level: level, ToStderr: c.Bool("stderr") || !c.Bool("daemonize")})

	cfg, err := cmn.LoadConfig(c.String("config"))
	if err != nil {
		return err
	}

	if c.Bool("daemonize") {
		// Signal readiness to the parent once everything below has been
		// built successfully; jacobsa/daemonize's child-side contract
		// is a single SignalOutcome call after (or instead of) the
		// usual double-fork dance.
		defer func() {
			if r := recover(); r != nil {
				_ = daemonize.SignalOutcome(fmt.Errorf("listbrokerd: %v", r))
				panic(r)
			}
		}()
	}

	b := newBroker(cfg, c.String("usb-root"))
	defer b.shutdown()

	if c.Bool("daemonize") {
		if err := daemonize.SignalOutcome(nil); err != nil {
			cmn.L().Errorw("failed to signal daemonize outcome", "err", err)
		}
	}

	cmn.L().Infow("listbrokerd started", "contexts", len(b.managers))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cmn.L().Infow("listbrokerd shutting down")
	return nil
}
