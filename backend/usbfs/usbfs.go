// Package usbfs implements backend.Adapter over real mounted USB mass
// storage volumes: devices are subdirectories of a root mount-point
// directory, partitions are subdirectories of a device, and entries below
// that are ordinary directory listings. Directory enumeration is exposed
// as a named adapter boundary and wired to karrick/godirwalk for the
// actual syscalls.
package usbfs

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/karrick/godirwalk"

	"github.com/strbo/listbroker/backend"
	"github.com/strbo/listbroker/cmn"
	"github.com/strbo/listbroker/ids"
)

// defaultIOLimit caps concurrent directory reads against the medium:
// USB mass storage degrades badly under parallel seeks.
const defaultIOLimit = 2

// Adapter lists devices as the immediate children of Root, partitions as
// the immediate children of a device directory, and entries as ordinary
// directory contents below that — e.g. Root/<device>/<partition>/<path>.
type Adapter struct {
	Root string
	Ctx  ids.Context

	// io holds one slot per in-flight godirwalk enumeration.
	io *cmn.DynSemaphore
}

func New(root string, ctx ids.Context) *Adapter {
	return &Adapter{Root: root, Ctx: ctx, io: cmn.NewDynSemaphore(defaultIOLimit)}
}

// SetIOLimit adjusts the concurrent-read cap live, e.g. down to 1 for a
// medium that has started reporting I/O errors under load.
func (a *Adapter) SetIOLimit(n int) { a.io.SetSize(n) }

func (a *Adapter) Context() ids.Context { return a.Ctx }

func (a *Adapter) Devices(cancelAllowed func() bool) ([]string, error) {
	return a.readDirNames(a.Root, cancelAllowed)
}

func (a *Adapter) Partitions(device string, cancelAllowed func() bool) ([]string, error) {
	return a.readDirNames(filepath.Join(a.Root, device), cancelAllowed)
}

func (a *Adapter) Entries(device, partition, path string, cancelAllowed func() bool) ([]backend.Entry, error) {
	dir := filepath.Join(a.Root, device, partition, path)
	if !cancelAllowed() {
		return nil, cmn.NewError(cmn.Interrupted, "entries: canceled before reading %s", dir)
	}

	a.io.Acquire()
	defer a.io.Release()

	dirents, err := godirwalk.ReadDirents(dir, nil)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, cmn.NewError(cmn.NotFound, "no such directory: %s", dir)
		}
		return nil, cmn.NewError(cmn.PhysicalMediaIO, "reading %s: %v", dir, err)
	}
	sort.Sort(dirents)

	entries := make([]backend.Entry, 0, len(dirents))
	for _, de := range dirents {
		if !cancelAllowed() {
			return nil, cmn.NewError(cmn.Interrupted, "entries: canceled while reading %s", dir)
		}
		kind := backend.EntryRegularFile
		var size int64
		if de.IsDir() {
			kind = backend.EntryDirectory
		} else {
			if info, statErr := os.Stat(filepath.Join(dir, de.Name())); statErr == nil {
				size = info.Size()
			}
		}
		entries = append(entries, backend.Entry{Name: de.Name(), Kind: kind, Size: size})
	}
	return entries, nil
}

func (a *Adapter) URIsForItem(device, partition, path string, cancelAllowed func() bool) ([]string, error) {
	if !cancelAllowed() {
		return nil, cmn.NewError(cmn.Interrupted, "uris: canceled")
	}
	full := filepath.Join(a.Root, device, partition, path)
	if _, err := os.Stat(full); err != nil {
		return nil, cmn.NewError(cmn.NotFound, "no such item: %s", full)
	}
	return []string{"file://" + full}, nil
}

func (a *Adapter) RankedStreamLinksForItem(device, partition, path string, cancelAllowed func() bool) ([]backend.StreamLink, error) {
	uris, err := a.URIsForItem(device, partition, path, cancelAllowed)
	if err != nil {
		return nil, err
	}
	links := make([]backend.StreamLink, 0, len(uris))
	for i, u := range uris {
		links = append(links, backend.StreamLink{Rank: i, Bitrate: 0, URI: u})
	}
	return links, nil
}

func (a *Adapter) readDirNames(dir string, cancelAllowed func() bool) ([]string, error) {
	if !cancelAllowed() {
		return nil, cmn.NewError(cmn.Interrupted, "canceled before reading %s", dir)
	}
	a.io.Acquire()
	defer a.io.Release()
	dirents, err := godirwalk.ReadDirents(dir, nil)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, cmn.NewError(cmn.PhysicalMediaIO, "reading %s: %v", dir, err)
	}
	sort.Sort(dirents)
	names := make([]string, 0, len(dirents))
	for _, de := range dirents {
		if de.IsDir() {
			names = append(names, de.Name())
		}
	}
	return names, nil
}
