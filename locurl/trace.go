package locurl

import (
	"strings"

	"github.com/strbo/listbroker/cmn"
	"github.com/strbo/listbroker/ids"
)

// TraceScheme is the "strbo-trace-usb" grammar:
// device:partition/reference-path/item-path:position.
const TraceScheme = "strbo-trace-usb"

// TraceComponents is the unpacked record for a strbo-trace-usb URL.
type TraceComponents struct {
	Device        string
	Partition     string
	ReferencePath string
	ItemPath      string
	Position      ids.RefPos
}

// TraceLength is 1 + the number of '/' separators in ItemPath (0 if
// ItemPath is empty), i.e. the number of nested items the trace chains
// through beneath the reference point.
func (c TraceComponents) TraceLength() int {
	if c.ItemPath == "" {
		return 0
	}
	return 1 + strings.Count(c.ItemPath, "/")
}

// Trace is a strbo-trace-usb location trace: like RefKey, but the item
// component may itself be a '/'-separated chain of nested items.
type Trace struct {
	c  TraceComponents
	ok bool
}

func NewTrace(c TraceComponents) *Trace {
	return &Trace{c: c, ok: true}
}

// SetURL parses raw as a strbo-trace-usb URL.
//
// Quirk preserved from the reference parser: the reference-path/item-path
// boundary is always the *first* '/' found after the partition, if any
// exists at all in the remainder of the URL. For a URL whose item-path is
// itself multi-segment with an intentionally empty reference-path, this
// picks the first item-path separator as if it were the reference-path
// boundary instead — a genuine asymmetry in the original grammar, not a
// bug introduced here. See DESIGN.md Open Questions.
func (k *Trace) SetURL(raw string) ParseStatus {
	offset, status := stripScheme(raw, TraceScheme)
	if status != OK {
		return status
	}

	endDevice, endPartition, ok := parseDeviceAndPartition(raw, offset)
	if !ok {
		return ParsingError
	}

	var endReference int
	if strings.IndexByte(raw[endPartition+1:], '/') >= 0 {
		endReference, ok = extractField(raw, endPartition+1, '/', fieldMayBeEmpty)
		if !ok {
			return ParsingError
		}
	} else {
		endReference = endPartition
	}
	referenceEmpty := endReference == endPartition

	itemPolicy := fieldMustNotBeEmpty
	if referenceEmpty {
		itemPolicy = fieldMayBeEmpty
	}
	endItem, ok := extractField(raw, endReference+1, ':', itemPolicy)
	if !ok {
		return ParsingError
	}

	position, ok := parseItemPosition(raw, endItem+1)
	if !ok {
		return ParsingError
	}

	device, ok := percentDecode(raw[offset:endDevice])
	if !ok {
		return ParsingError
	}
	partition, ok := percentDecode(raw[endDevice+1 : endPartition])
	if !ok {
		return ParsingError
	}

	var reference string
	if endPartition < endReference {
		reference, ok = percentDecode(raw[endPartition+1 : endReference])
		if !ok {
			return ParsingError
		}
	}

	itemPath, ok := percentDecode(raw[endReference+1 : endItem])
	if !ok {
		return ParsingError
	}

	if reference == "/" {
		// An explicit reference to the root is redundant; fold it
		// away rather than reject the URL.
		cmn.L().Warnw("reference-path '/' folded to empty", "url", raw)
		reference = ""
	}

	k.c = TraceComponents{
		Device:        device,
		Partition:     partition,
		ReferencePath: reference,
		ItemPath:      itemPath,
		Position:      position,
	}
	k.ok = true
	return OK
}

func (k *Trace) Unpack() (TraceComponents, bool) { return k.c, k.ok }

func (k *Trace) Emit() string {
	var b strings.Builder
	b.WriteString(TraceScheme)
	b.WriteString("://")
	b.WriteString(percentEncode(k.c.Device))
	b.WriteByte(':')
	b.WriteString(percentEncode(k.c.Partition))
	b.WriteByte('/')
	if k.c.ReferencePath != "" {
		b.WriteString(percentEncode(k.c.ReferencePath))
		b.WriteByte('/')
	}
	b.WriteString(percentEncode(k.c.ItemPath))
	b.WriteByte(':')
	b.WriteString(itoa(k.c.Position.Raw()))
	return b.String()
}
