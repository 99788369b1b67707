// Package upnpstub implements backend.Adapter entirely in memory, standing
// in for a UPnP/DLNA control-point adapter (out of scope per spec.md's
// "Out of scope" list: actual SOAP/control-point queries). It exists to
// exercise the tree manager's multi-context behavior — a second backend
// sharing the process with usbfs, tagged with its own ids.Context — and
// to give tests a deterministic content source without real devices.
package upnpstub

import (
	"sort"
	"strings"
	"sync"

	"github.com/strbo/listbroker/backend"
	"github.com/strbo/listbroker/cmn"
	"github.com/strbo/listbroker/ids"
)

// Node is one in-memory entry in the stub's fixed content tree. Artist/
// Album/Title are UPnP/DLNA media tags (a real control point adapter
// would fill these from the item's upnp:class/dc:creator/upnp:album
// properties); they feed get_range_with_meta_data's reply tuple (§6).
type Node struct {
	Name     string
	Kind     backend.EntryKind
	Size     int64
	Children []*Node
	URI      string
	Artist   string
	Album    string
	Title    string
}

// Adapter serves a fixed, in-memory tree of devices (media servers), each
// with a flat set of partitions (content directories), each containing a
// Node tree.
type Adapter struct {
	mu      sync.RWMutex
	Ctx     ids.Context
	devices map[string]map[string]*Node // device -> partition -> root
}

func New(ctx ids.Context) *Adapter {
	return &Adapter{Ctx: ctx, devices: make(map[string]map[string]*Node)}
}

// AddPartition installs (or replaces) the content tree for a device's
// partition, used by tests and by a future SOAP-driven discovery loop to
// publish what it found.
func (a *Adapter) AddPartition(device, partition string, root *Node) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.devices[device] == nil {
		a.devices[device] = make(map[string]*Node)
	}
	a.devices[device][partition] = root
}

func (a *Adapter) Context() ids.Context { return a.Ctx }

func (a *Adapter) Devices(cancelAllowed func() bool) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.devices))
	for d := range a.devices {
		names = append(names, d)
	}
	sort.Strings(names)
	return names, nil
}

func (a *Adapter) Partitions(device string, cancelAllowed func() bool) ([]string, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	parts, ok := a.devices[device]
	if !ok {
		return nil, cmn.NewError(cmn.NotFound, "no such media server: %s", device)
	}
	names := make([]string, 0, len(parts))
	for p := range parts {
		names = append(names, p)
	}
	sort.Strings(names)
	return names, nil
}

func (a *Adapter) find(device, partition, path string) (*Node, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	parts, ok := a.devices[device]
	if !ok {
		return nil, cmn.NewError(cmn.NotFound, "no such media server: %s", device)
	}
	cur, ok := parts[partition]
	if !ok {
		return nil, cmn.NewError(cmn.NotFound, "no such content directory: %s", partition)
	}
	if path == "" {
		return cur, nil
	}
	for _, seg := range strings.Split(path, "/") {
		var next *Node
		for _, c := range cur.Children {
			if c.Name == seg {
				next = c
				break
			}
		}
		if next == nil {
			return nil, cmn.NewError(cmn.NotFound, "no such item: %s", path)
		}
		cur = next
	}
	return cur, nil
}

func (a *Adapter) Entries(device, partition, path string, cancelAllowed func() bool) ([]backend.Entry, error) {
	if !cancelAllowed() {
		return nil, cmn.NewError(cmn.Interrupted, "entries: canceled")
	}
	node, err := a.find(device, partition, path)
	if err != nil {
		return nil, err
	}
	entries := make([]backend.Entry, 0, len(node.Children))
	for _, c := range node.Children {
		entries = append(entries, nodeToEntry(c))
	}
	return entries, nil
}

func nodeToEntry(n *Node) backend.Entry {
	return backend.Entry{
		Name: n.Name, Kind: n.Kind, Size: n.Size,
		Artist: n.Artist, Album: n.Album, Title: n.Title,
	}
}

// EntriesWithParameter implements backend.ParameterizedAdapter: parameter
// is matched as a case-insensitive substring against each child's name,
// artist, and album, standing in for a real control point's ContentDirectory
// Search() criteria string (out of scope per spec.md: actual SOAP/UPnP
// search-criteria grammar).
func (a *Adapter) EntriesWithParameter(device, partition, path, parameter string, cancelAllowed func() bool) ([]backend.Entry, error) {
	if !cancelAllowed() {
		return nil, cmn.NewError(cmn.Interrupted, "entries_with_parameter: canceled")
	}
	node, err := a.find(device, partition, path)
	if err != nil {
		return nil, err
	}
	if parameter == "" {
		return a.Entries(device, partition, path, cancelAllowed)
	}
	needle := strings.ToLower(parameter)
	entries := make([]backend.Entry, 0, len(node.Children))
	for _, c := range node.Children {
		if strings.Contains(strings.ToLower(c.Name), needle) ||
			strings.Contains(strings.ToLower(c.Artist), needle) ||
			strings.Contains(strings.ToLower(c.Album), needle) {
			entries = append(entries, nodeToEntry(c))
		}
	}
	return entries, nil
}

func (a *Adapter) URIsForItem(device, partition, path string, cancelAllowed func() bool) ([]string, error) {
	node, err := a.find(device, partition, path)
	if err != nil {
		return nil, err
	}
	if node.URI == "" {
		return nil, nil
	}
	return []string{node.URI}, nil
}

func (a *Adapter) RankedStreamLinksForItem(device, partition, path string, cancelAllowed func() bool) ([]backend.StreamLink, error) {
	uris, err := a.URIsForItem(device, partition, path, cancelAllowed)
	if err != nil || len(uris) == 0 {
		return nil, err
	}
	return []backend.StreamLink{{Rank: 0, Bitrate: 320, URI: uris[0]}}, nil
}
