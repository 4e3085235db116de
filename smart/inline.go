// Package smart implements String, a string value the size of a Go string
// header that keeps short content inline and refers to static, interned or
// heap-owned content otherwise.
package smart

import (
	"fmt"
	"unicode/utf8"
	"unsafe"
)

// Size is the byte size of a native string header and the inline capacity.
const Size = int(unsafe.Sizeof(""))

// LengthMask marks the final byte of a partially filled inline buffer; the
// low six bits hold the length.
const LengthMask byte = 0b1100_0000

// InlineBuffer stores up to Size bytes of UTF-8 text in place.
//
// Final byte:
//
//	0xC0 | len    1 <= len < Size
//	0x00..0xBF    full, the byte is content (valid UTF-8 never ends in 0xC0..0xFF)
//
// The all-zero buffer is the empty string, so Size NUL bytes are the only text
// that cannot be stored inline.
type InlineBuffer [Size]byte

// EncodeInline copies text into a new buffer. It panics if text is longer than
// Size, is not valid UTF-8, or consists of Size NUL bytes.
func EncodeInline(text string) InlineBuffer {
	b, ok := TryEncodeInline(text)
	if !ok {
		panic(fmt.Sprintf("smart: cannot inline %d byte text (capacity %d, valid UTF-8 %t)", len(text), Size, utf8.ValidString(text)))
	}
	return b
}

// TryEncodeInline is EncodeInline reporting failure instead of panicking.
func TryEncodeInline(text string) (InlineBuffer, bool) {
	var b InlineBuffer
	n := len(text)
	if n > Size || !utf8.ValidString(text) {
		return b, false
	}
	copy(b[:], text)
	if n == Size && b == (InlineBuffer{}) {
		return InlineBuffer{}, false
	}
	if n > 0 && n < Size {
		b[Size-1] = LengthMask | byte(n)
	}
	return b, true
}

// Len decodes the content length from the final byte.
func (b *InlineBuffer) Len() int {
	last := b[Size-1]
	switch {
	case last == 0 && *b == (InlineBuffer{}):
		return 0
	case last < LengthMask:
		return Size
	default:
		return int(last &^ LengthMask)
	}
}

// SetLen re-encodes the length, keeping the first n bytes as content. It
// panics if n is out of range or the content would not be valid text.
func (b *InlineBuffer) SetLen(n int) {
	if n < 0 || n > Size {
		panic(fmt.Sprintf("smart: inline length %d out of range [0, %d]", n, Size))
	}
	if !utf8.Valid(b[:n]) || (n == Size && *b == (InlineBuffer{})) {
		panic("smart: inline content is not valid text")
	}
	switch {
	case n == 0:
		*b = InlineBuffer{}
	case n < Size:
		b[Size-1] = LengthMask | byte(n)
	}
}

// View returns the content without copying. The view aliases b and is only
// valid while b is alive and unmodified.
func (b *InlineBuffer) View() string {
	n := b.Len()
	if n == 0 {
		return ""
	}
	return unsafe.String(&b[0], n)
}

// String returns a copy of the content.
func (b InlineBuffer) String() string {
	return string(b[:b.Len()])
}

// Smart reinterprets the buffer as an inlined String.
func (b InlineBuffer) Smart() String {
	return String{buf: b}
}
