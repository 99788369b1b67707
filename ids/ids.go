// Package ids implements the broker's typed identifiers: list-IDs, item-IDs,
// and reference positions. A list-ID packs a cooked numeric ID, a one-byte
// context tag, and a no-cache bit into a single uint32, mirroring the wire
// representation the rest of the system carries around.
package ids

import "fmt"

const (
	// ContextMask selects the context-tag byte within a raw list-ID. Only
	// the low nibble of that byte is the actual context tag; the rest of
	// the byte is reserved.
	ContextMask uint32 = 0xFF000000

	// NoCacheBit sits in the top bit of the byte directly below the
	// context tag.
	NoCacheBit uint32 = (ContextMask >> 1) & ^ContextMask

	// ValueMask is everything that isn't context tag or no-cache bit: the
	// cooked-ID proper.
	ValueMask uint32 = ^(ContextMask | NoCacheBit)

	contextNibbleMask uint32 = 0x0F
)

// Context is a backend-defined namespace tag, e.g. one nibble identifying
// "USB" vs "UPnP".
type Context uint8

// List is a typed list identifier. The zero value is the invalid sentinel.
type List struct {
	raw uint32
}

// NewList wraps a raw 32-bit value as a List ID without validating it.
func NewList(raw uint32) List { return List{raw: raw} }

// NewListWith mints a List ID from a cooked value, context tag, and
// no-cache flag.
func NewListWith(cooked uint32, ctx Context, noCache bool) List {
	raw := cooked & ValueMask
	raw |= (uint32(ctx) << 24) & ContextMask
	if noCache {
		raw |= NoCacheBit
	}
	return List{raw: raw}
}

// Raw returns the underlying 32-bit value.
func (l List) Raw() uint32 { return l.raw }

// Cooked returns the value with context tag and no-cache bit masked off.
func (l List) Cooked() uint32 { return l.raw & ValueMask }

// IsValid reports whether the cooked-ID portion is non-zero. Zero cooked-ID
// is the universal invalid sentinel regardless of context/no-cache bits.
func (l List) IsValid() bool { return l.Cooked() != 0 }

// ContextTag extracts the context's low nibble from the raw value.
func (l List) ContextTag() Context {
	return Context((l.raw >> 24) & contextNibbleMask)
}

// NoCache reports whether this ID must never be cached across sessions.
func (l List) NoCache() bool { return l.raw&NoCacheBit != 0 }

// Equal reports whether two list-IDs carry the same raw value.
func (l List) Equal(other List) bool { return l.raw == other.raw }

// Less provides a deterministic, total order over list-IDs, used to break
// eviction ties lexicographically.
func (l List) Less(other List) bool { return l.raw < other.raw }

func (l List) String() string {
	return fmt.Sprintf("List(raw=%#08x, cooked=%d, ctx=%d, nocache=%t)",
		l.raw, l.Cooked(), l.ContextTag(), l.NoCache())
}

// Invalid is the zero-value, invalid List ID.
var Invalid = List{}

// Item identifies an element within a list: a zero-based index. Every
// uint32 value is a structurally valid Item; whether a given Item actually
// exists in a given list is the list's business, not this type's.
type Item struct {
	raw uint32
}

// NewItem wraps a raw index as an Item ID.
func NewItem(raw uint32) Item { return Item{raw: raw} }

// Raw returns the underlying index.
func (i Item) Raw() uint32 { return i.raw }

// IsValid is always true for Item: any index is structurally valid.
func (i Item) IsValid() bool { return true }

func (i Item) Equal(other Item) bool { return i.raw == other.raw }
func (i Item) Less(other Item) bool  { return i.raw < other.raw }

func (i Item) String() string { return fmt.Sprintf("Item(%d)", i.raw) }

// RefPos is a 1-based object index used in persistent location URLs. Zero
// is the invalid sentinel.
type RefPos struct {
	raw uint32
}

// NewRefPos wraps a raw value as a RefPos.
func NewRefPos(raw uint32) RefPos { return RefPos{raw: raw} }

// Raw returns the underlying 1-based value (0 if invalid/absent).
func (p RefPos) Raw() uint32 { return p.raw }

// IsValid reports whether this is a nonzero (1-based) position.
func (p RefPos) IsValid() bool { return p.raw > 0 }

func (p RefPos) Equal(other RefPos) bool { return p.raw == other.raw }

func (p RefPos) String() string { return fmt.Sprintf("RefPos(%d)", p.raw) }

// InvalidRefPos is the zero-value, invalid reference position.
var InvalidRefPos = RefPos{}
