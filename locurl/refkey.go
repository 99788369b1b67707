package locurl

import "github.com/strbo/listbroker/ids"

// RefKeyScheme is the "strbo-ref-usb" grammar:
// device:partition/reference-path/item:position.
const RefKeyScheme = "strbo-ref-usb"

// RefKeyComponents is the unpacked record for a strbo-ref-usb URL.
type RefKeyComponents struct {
	Device        string
	Partition     string
	ReferencePath string
	Item          string
	Position      ids.RefPos
}

// RefKey is a strbo-ref-usb reference key: a single item addressed by a
// reference path plus a 1-based position. The item component must be a
// single path segment — a decoded '/' inside it is rejected.
type RefKey struct {
	c  RefKeyComponents
	ok bool
}

func NewRefKey(c RefKeyComponents) *RefKey {
	return &RefKey{c: c, ok: true}
}

// SetURL parses raw as a strbo-ref-usb URL.
func (k *RefKey) SetURL(raw string) ParseStatus {
	offset, status := stripScheme(raw, RefKeyScheme)
	if status != OK {
		return status
	}

	endDevice, endPartition, ok := parseDeviceAndPartition(raw, offset)
	if !ok {
		return ParsingError
	}

	endReference, ok := extractField(raw, endPartition+1, '/', fieldMayBeEmpty)
	if !ok {
		return ParsingError
	}
	referenceEmpty := endReference == endPartition+1

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

	rawItem := raw[endReference+1 : endItem]
	item, ok := percentDecode(rawItem)
	if !ok {
		return ParsingError
	}
	for i := 0; i < len(item); i++ {
		if item[i] == '/' {
			// Item component is itself a path: the original parser
			// rejects this explicitly, since the single-segment
			// contract is what tells a reference key apart from a
			// trace.
			return ParsingError
		}
	}

	device, ok := percentDecode(raw[offset:endDevice])
	if !ok {
		return ParsingError
	}
	partition, ok := percentDecode(raw[endDevice+1 : endPartition])
	if !ok {
		return ParsingError
	}
	reference, ok := percentDecode(raw[endPartition+1 : endReference])
	if !ok {
		return ParsingError
	}

	k.c = RefKeyComponents{
		Device:        device,
		Partition:     partition,
		ReferencePath: reference,
		Item:          item,
		Position:      position,
	}
	k.ok = true
	return OK
}

func (k *RefKey) Unpack() (RefKeyComponents, bool) { return k.c, k.ok }

func (k *RefKey) Emit() string {
	return RefKeyScheme + "://" +
		percentEncode(k.c.Device) + ":" +
		percentEncode(k.c.Partition) + "/" +
		percentEncode(k.c.ReferencePath) + "/" +
		percentEncode(k.c.Item) + ":" +
		itoa(k.c.Position.Raw())
}
