// Package locurl implements the location-URL codec: the three "strbo"
// schemes used to address list items persistently, independent of the
// live cache-ID space (§4.E, §6).
package locurl

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/strbo/listbroker/ids"
)

// ParseStatus is the codec-level result of SetURL, distinct from the bus's
// cmn.Status: a location URL can fail to parse long before it ever
// produces a bus reply.
type ParseStatus int

const (
	OK ParseStatus = iota
	WrongScheme
	InvalidCharacters
	ParsingError
)

func (s ParseStatus) String() string {
	switch s {
	case OK:
		return "OK"
	case WrongScheme:
		return "WRONG_SCHEME"
	case InvalidCharacters:
		return "INVALID_CHARACTERS"
	case ParsingError:
		return "PARSING_ERROR"
	default:
		return fmt.Sprintf("ParseStatus(%d)", int(s))
	}
}

// safeCharacters never need percent-encoding.
const safeCharacters = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789$-_.~"

// validCharacters is safeCharacters plus the reserved set that may appear
// literally (mostly the grammar's own separators) or percent-encoded.
const validCharacters = safeCharacters + "+!*'(),;/?:@=&%"

func isSafe(b byte) bool { return strings.IndexByte(safeCharacters, b) >= 0 }
func isValid(b byte) bool { return strings.IndexByte(validCharacters, b) >= 0 }

// validateRaw reports whether every byte of a raw (not yet percent-decoded)
// URL tail belongs to the valid character set.
func validateRaw(raw string) bool {
	for i := 0; i < len(raw); i++ {
		if !isValid(raw[i]) {
			return false
		}
	}
	return true
}

// percentEncode escapes bytes outside the safe set as %XX (uppercase hex).
func percentEncode(src string) string {
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); i++ {
		ch := src[i]
		if isSafe(ch) {
			b.WriteByte(ch)
		} else {
			fmt.Fprintf(&b, "%%%02X", ch)
		}
	}
	return b.String()
}

func hexDigit(ch byte) (uint8, bool) {
	switch {
	case ch >= '0' && ch <= '9':
		return ch - '0', true
	case ch >= 'A' && ch <= 'F':
		return ch - 'A' + 10, true
	default:
		return 0, false
	}
}

// percentDecode decodes %HH escapes (uppercase hex only, per §6) in src.
// Any malformed escape is a parse failure: the distilled spec lists
// PARSING_ERROR as a codec-level outcome, so unlike the reference parser
// (which silently truncated decoding at the bad escape) this codec fails
// the whole field rather than returning a truncated value that would
// violate the round-trip law tested in §8 scenario 4.
func percentDecode(src string) (string, bool) {
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); i++ {
		ch := src[i]
		if ch != '%' {
			b.WriteByte(ch)
			continue
		}
		if i+3 > len(src) {
			return "", false
		}
		hi, ok1 := hexDigit(src[i+1])
		lo, ok2 := hexDigit(src[i+2])
		if !ok1 || !ok2 {
			return "", false
		}
		b.WriteByte(hi<<4 | lo)
		i += 2
	}
	return b.String(), true
}

type fieldPolicy int

const (
	fieldOptional fieldPolicy = iota
	fieldMayBeEmpty
	fieldMustNotBeEmpty
)

// extractField finds the next occurrence of separator at or after offset,
// applying the field policy to empty-field and not-found cases. Mirrors
// Url::Parse::extract_field exactly, including searching from the given
// offset rather than from the end of a prior field.
func extractField(url string, offset int, separator byte, policy fieldPolicy) (end int, ok bool) {
	idx := strings.IndexByte(url[offset:], separator)
	if idx < 0 {
		switch policy {
		case fieldOptional:
			return len(url), true
		default:
			return 0, false
		}
	}
	end = offset + idx
	if policy == fieldMustNotBeEmpty && end <= offset {
		return 0, false
	}
	return end, true
}

// parseDeviceAndPartition locates the mandatory ':' (device/partition
// separator) and '/' (partition/rest separator), both searched
// independently from offset; the slash must land strictly after the
// colon, matching parse_device_and_partition in the reference parser.
func parseDeviceAndPartition(url string, offset int) (endDevice, endPartition int, ok bool) {
	endDevice, ok = extractField(url, offset, ':', fieldMustNotBeEmpty)
	if !ok {
		return 0, 0, false
	}
	endPartition, ok = extractField(url, offset, '/', fieldMustNotBeEmpty)
	if !ok {
		return 0, 0, false
	}
	if endPartition <= endDevice {
		return 0, 0, false
	}
	return endDevice, endPartition, true
}

// parseItemPosition parses the tail of url starting at offset as a
// base-10, uint32-range reference position. The whole remainder of the
// string must be digits (no trailing junk), matching the
// expecting_zero_terminator=true overload both URL grammars use.
func parseItemPosition(url string, offset int) (ids.RefPos, bool) {
	if offset >= len(url) {
		return ids.InvalidRefPos, false
	}
	tail := url[offset:]
	v, err := strconv.ParseUint(tail, 10, 32)
	if err != nil {
		return ids.InvalidRefPos, false
	}
	return ids.NewRefPos(uint32(v)), true
}

// itoa formats a raw uint32 the way the reference position is rendered in
// a location URL.
func itoa(v uint32) string { return strconv.FormatUint(uint64(v), 10) }

// stripScheme checks that raw begins with "<scheme>://" and that the
// remainder passes character validation, returning the remainder's start
// offset (== len(prefix)) on success.
func stripScheme(raw, scheme string) (offset int, status ParseStatus) {
	prefix := scheme + "://"
	if !strings.HasPrefix(raw, prefix) {
		return 0, WrongScheme
	}
	if !validateRaw(raw[len(prefix):]) {
		return 0, InvalidCharacters
	}
	return len(prefix), OK
}
