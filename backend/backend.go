// Package backend declares the Adapter contract a content source (USB mass
// storage, UPnP/DLNA control point) implements to populate list-tree nodes
// lazily. The tree manager calls into an Adapter only when a list is
// actually requested (enter_child) or realized from a URL; it never walks
// a whole device proactively.
package backend

import "github.com/strbo/listbroker/ids"

// EntryKind tags what a directory entry actually is, mirroring the list
// entry's "kind tag (directory, regular file, logout-link…)" from §3.
type EntryKind int

const (
	EntryDirectory EntryKind = iota
	EntryRegularFile
	EntryLogoutLink
)

func (k EntryKind) String() string {
	switch k {
	case EntryDirectory:
		return "DIRECTORY"
	case EntryRegularFile:
		return "REGULAR_FILE"
	case EntryLogoutLink:
		return "LOGOUT_LINK"
	default:
		return "UNKNOWN"
	}
}

// Entry is one child of a directory-like list: a name, a kind, and (for
// regular files) a size estimate used for the cache's byte accounting.
// Artist/Album/Title are populated only by backends that actually carry
// media tags (UPnP/DLNA content directories); a backend with nothing to
// report (plain USB mass storage) leaves them empty and callers fall
// back to Name, per get_range_with_meta_data's (artist, album, title,
// primary-idx, kind) reply tuple (§6).
type Entry struct {
	Name   string
	Kind   EntryKind
	Size   int64
	Artist string
	Album  string
	Title  string
}

// ParameterizedAdapter is an optional capability a backend.Adapter may
// additionally implement to serve get_parameterized_list_id (§6):
// entering a child list with an extra, backend-defined filter/search
// parameter rather than a plain item index. A backend that doesn't
// implement it causes the tree manager to report NOT_SUPPORTED, per
// §4.D's "NOT_SUPPORTED when the parent refuses parameterized entry".
type ParameterizedAdapter interface {
	// EntriesWithParameter is like Entries but additionally filters (or
	// otherwise interprets) parameter in a backend-defined way, e.g. a
	// UPnP ContentDirectory Search() criteria string.
	EntriesWithParameter(device, partition, path, parameter string, cancelAllowed func() bool) ([]Entry, error)
}

// StreamLink is one ranked playback URI for a media item, used by
// get_ranked_stream_links (§6).
type StreamLink struct {
	Rank    int
	Bitrate int
	URI     string
}

// Adapter is implemented once per backend kind (USB mass storage, UPnP).
// All methods may block on physical I/O; long-running implementations
// should poll CancelAllowed and return a cmn.Interrupted error
// promptly once it turns false, per §4.D's "is_blocking_operation_allowed"
// contract. CancelAllowed is supplied by the tree manager, not stored by
// the adapter, since the manager owns the cancellation counter.
type Adapter interface {
	// Context identifies this backend's namespace tag for list-ID
	// context bits (§4.A).
	Context() ids.Context

	// Devices lists the top-level device names this backend currently
	// sees attached.
	Devices(cancelAllowed func() bool) ([]string, error)

	// Partitions lists the partition names on a device. An empty slice
	// is valid (device with no addressable partitions yet).
	Partitions(device string, cancelAllowed func() bool) ([]string, error)

	// Entries lists the directory entries at device:partition/path
	// (path may be empty, meaning the partition root).
	Entries(device, partition, path string, cancelAllowed func() bool) ([]Entry, error)

	// URIsForItem returns direct-access URIs for a single non-directory
	// item, used by get_uris (§6).
	URIsForItem(device, partition, path string, cancelAllowed func() bool) ([]string, error)

	// RankedStreamLinksForItem returns ranked playback links for a
	// single media item, used by get_ranked_stream_links (§6).
	RankedStreamLinksForItem(device, partition, path string, cancelAllowed func() bool) ([]StreamLink, error)
}
