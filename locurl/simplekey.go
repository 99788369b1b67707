package locurl

// SimpleKeyScheme is the "strbo-usb" grammar: device:partition/path.
const SimpleKeyScheme = "strbo-usb"

// SimpleKeyComponents is the unpacked record for a strbo-usb URL.
type SimpleKeyComponents struct {
	Device    string
	Partition string
	Path      string
}

// SimpleKey is a strbo-usb location key: a device, a partition, and an
// opaque, percent-encoded path blob (never split into further
// sub-components by this codec).
type SimpleKey struct {
	c  SimpleKeyComponents
	ok bool
}

// NewSimpleKey builds a SimpleKey directly from components, for emitting a
// URL without going through SetURL first.
func NewSimpleKey(c SimpleKeyComponents) *SimpleKey {
	return &SimpleKey{c: c, ok: true}
}

// SetURL parses raw as a strbo-usb URL.
func (k *SimpleKey) SetURL(raw string) ParseStatus {
	offset, status := stripScheme(raw, SimpleKeyScheme)
	if status != OK {
		return status
	}

	endDevice, endPartition, ok := parseDeviceAndPartition(raw, offset)
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
	path, ok := percentDecode(raw[endPartition+1:])
	if !ok {
		return ParsingError
	}

	k.c = SimpleKeyComponents{Device: device, Partition: partition, Path: path}
	k.ok = true
	return OK
}

// Unpack returns the parsed component record. The second return value is
// false if SetURL has not yet succeeded.
func (k *SimpleKey) Unpack() (SimpleKeyComponents, bool) { return k.c, k.ok }

// Emit rebuilds the URL string from the component record.
func (k *SimpleKey) Emit() string {
	return SimpleKeyScheme + "://" +
		percentEncode(k.c.Device) + ":" +
		percentEncode(k.c.Partition) + "/" +
		percentEncode(k.c.Path)
}
