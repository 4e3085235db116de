package smart

import (
	"encoding/binary"
	"fmt"
	"unsafe"
)

const wordSize = int(unsafe.Sizeof(uintptr(0)))

// tagMarker occupies the final byte of every non-inline record; the low two
// bits carry the Kind. It is above any inline length stamp (0xC0 | len).
const tagMarker byte = 0b1111_1100

// MaxLength is the longest content a non-inline record can describe: the
// length word gives up its top byte to the tag.
const MaxLength = 1<<(8*(wordSize-1)) - 1

const lengthBits = uintptr(MaxLength)

// Non-inline records are two little-endian words:
//
//	[0, wordSize)        pointer or manager key
//	[wordSize, Size)     length, top byte replaced by tagMarker | kind
func record(kind Kind, word uintptr, length int) String {
	var s String
	putWord(s.buf[:wordSize], word)
	putWord(s.buf[wordSize:], uintptr(length))
	s.buf[Size-1] = tagMarker | byte(kind)
	return s
}

func putWord(b []byte, v uintptr) {
	if wordSize == 8 {
		binary.LittleEndian.PutUint64(b, uint64(v))
		return
	}
	binary.LittleEndian.PutUint32(b, uint32(v))
}

func readWord(b []byte) uintptr {
	if wordSize == 8 {
		return uintptr(binary.LittleEndian.Uint64(b))
	}
	return uintptr(binary.LittleEndian.Uint32(b))
}

func (s *String) pointer() uintptr {
	return readWord(s.buf[:wordSize])
}

func (s *String) length() int {
	return int(readWord(s.buf[wordSize:]) & lengthBits)
}

func checkLength(n int) {
	if n > MaxLength {
		panic(fmt.Sprintf("smart: %d bytes exceeds the maximum length %d", n, MaxLength))
	}
}
