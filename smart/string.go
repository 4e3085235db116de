package smart

import (
	"bytes"
	"errors"
	"fmt"
	"unicode/utf8"
	"unsafe"

	"github.com/nyar-vm/nyar-string/internal/arena"
	"github.com/nyar-vm/nyar-string/manager"
)

// Kind is the two-bit discriminant of a String.
type Kind uint8

const (
	// Inlined content lives in the value itself.
	Inlined Kind = iota
	// Static content is borrowed for the lifetime of the process.
	Static
	// Managed content is interned in the default manager.
	Managed
	// Heap content is a buffer owned exclusively by the value.
	Heap
)

var kindNames = [...]string{
	Inlined: "inlined",
	Static:  "static",
	Managed: "managed",
	Heap:    "heap",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// ErrReleased is returned when a value's content has been released.
var ErrReleased = errors.New("smart: string content is no longer available")

// String is a compact string value exactly as large as a Go string header.
// The zero value is the empty string.
//
// Values returned by the constructors and Clone each hold one reference to
// their content; Release hands it back. Copying a String by assignment shares
// that reference.
type String struct {
	buf InlineBuffer
}

// Empty returns the empty string.
func Empty() String {
	return String{}
}

// New stores text inline when it fits and interns it otherwise.
func New(text string) String {
	if b, ok := TryEncodeInline(text); ok {
		return b.Smart()
	}
	return FromOwned(text)
}

// MustInline is like New but panics when text cannot be stored inline.
func MustInline(text string) String {
	return EncodeInline(text).Smart()
}

// FromOwned interns text in the default manager regardless of its length.
func FromOwned(text string) String {
	checkLength(len(text))
	key := manager.Default().Insert(text)
	return record(Managed, uintptr(key), len(text))
}

// FromStatic borrows text without copying. The caller guarantees that text's
// memory stays valid for the rest of the process, as string literals do.
func FromStatic(text string) String {
	checkLength(len(text))
	return record(Static, uintptr(unsafe.Pointer(unsafe.StringData(text))), len(text))
}

// FromHeap takes ownership of buf. The caller must not use buf afterwards.
// It panics if buf is not valid UTF-8 or its memory is already owned by
// another String.
func FromHeap(buf []byte) String {
	checkLength(len(buf))
	if !utf8.Valid(buf) {
		panic("smart: heap text is not valid UTF-8")
	}
	ptr, ok := arena.Default().Adopt(buf)
	if !ok {
		panic("smart: heap buffer is already owned by another String")
	}
	return record(Heap, ptr, len(buf))
}

// Kind reads only the discriminant.
func (s String) Kind() Kind {
	if last := s.buf[Size-1]; last >= tagMarker {
		return Kind(last & 0b11)
	}
	return Inlined
}

// Len returns the content length without consulting the manager or arena.
func (s String) Len() int {
	if s.Kind() == Inlined {
		return s.buf.Len()
	}
	return s.length()
}

func (s String) IsEmpty() bool {
	return s.Len() == 0
}

// Lookup returns the content. It reports false when managed or heap content
// has been released.
func (s String) Lookup() (string, bool) {
	switch s.Kind() {
	case Static:
		n := s.length()
		if n == 0 {
			return "", true
		}
		// The address came from unsafe.StringData of process-lifetime text.
		return unsafe.String((*byte)(unsafe.Pointer(s.pointer())), n), true
	case Managed:
		body, ok := manager.Default().Get(manager.Key(s.pointer()))
		if !ok || len(body) != s.length() {
			return "", false
		}
		return body, true
	case Heap:
		return arena.Default().Load(s.pointer(), s.length())
	default:
		return s.buf.String(), true
	}
}

// View returns the content without copying. Inline content aliases s, so the
// view is only valid while s is alive and unmodified; other kinds return the
// same string as Lookup. Released content reads as "".
func (s *String) View() string {
	if s.Kind() == Inlined {
		return s.buf.View()
	}
	text, _ := s.Lookup()
	return text
}

// String returns the content, or "" if it was released.
func (s String) String() string {
	text, _ := s.Lookup()
	return text
}

// AppendTo appends the content to dst. Inline content is appended without an
// intermediate string.
func (s String) AppendTo(dst []byte) []byte {
	if s.Kind() == Inlined {
		return append(dst, s.buf[:s.buf.Len()]...)
	}
	text, _ := s.Lookup()
	return append(dst, text...)
}

// AsStatic returns the borrowed content of a Static value.
func (s String) AsStatic() (string, bool) {
	if s.Kind() != Static {
		return "", false
	}
	return s.Lookup()
}

// AsManaged returns the interned body of a Managed value.
func (s String) AsManaged() (string, bool) {
	if s.Kind() != Managed {
		return "", false
	}
	return s.Lookup()
}

// Key returns the manager key of a Managed value.
func (s String) Key() (manager.Key, bool) {
	if s.Kind() != Managed {
		return 0, false
	}
	return manager.Key(s.pointer()), true
}

// Raw returns the value's bytes.
func (s String) Raw() [Size]byte {
	return s.buf
}

// Hex dumps the raw layout as upper-case hex.
func (s String) Hex() string {
	return fmt.Sprintf("%X", s.buf[:])
}

// Equal compares content.
func (s String) Equal(other String) bool {
	if s.buf == other.buf {
		return true
	}
	if s.Len() != other.Len() {
		return false
	}
	if s.Kind() == Inlined && other.Kind() == Inlined {
		return bytes.Equal(s.buf[:s.buf.Len()], other.buf[:other.buf.Len()])
	}
	a, okA := s.Lookup()
	b, okB := other.Lookup()
	return okA && okB && a == b
}

// Clone returns a value holding its own reference: managed content is
// retained again and heap content is copied into a new buffer. Cloning a
// released value yields the empty string.
func (s String) Clone() String {
	switch s.Kind() {
	case Managed:
		if !manager.Default().Retain(manager.Key(s.pointer())) {
			return Empty()
		}
		return s
	case Heap:
		text, ok := s.Lookup()
		if !ok {
			return Empty()
		}
		return FromHeap([]byte(text))
	default:
		return s
	}
}

// Release hands back the value's reference. It reports whether a managed
// reference or heap buffer was given back; inline and static values hold
// neither. Releasing a heap value twice returns false the second time.
func (s String) Release() bool {
	switch s.Kind() {
	case Managed:
		return manager.Default().Release(manager.Key(s.pointer()))
	case Heap:
		return arena.Default().Free(s.pointer())
	default:
		return false
	}
}

func (s String) MarshalText() ([]byte, error) {
	text, ok := s.Lookup()
	if !ok {
		return nil, fmt.Errorf("marshal %s string: %w", s.Kind(), ErrReleased)
	}
	return []byte(text), nil
}

// UnmarshalText releases the reference s holds and replaces it with
// New(string(text)).
func (s *String) UnmarshalText(text []byte) error {
	s.Release()
	*s = New(string(text))
	return nil
}
