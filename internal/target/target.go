// Package target describes the machine parameters every layout, encode,
// and decode computation is parameterized over. It plays the role that
// the ptrSize/logPtrSize/byteOrder/littleEndian fields play on
// core.Process in the teacher repository: threaded explicitly through
// every call site rather than assumed from the host.
package target

import "encoding/binary"

// Target is the configuration surface named in spec.md §6.
type Target struct {
	PtrSizeBits  int // e.g. 64
	PtrAlign     int64
	LittleEndian bool
	IntMaxAlign  int64 // INT_MAX_ALIGN: caps integer alignment regardless of size
	MaxAtomic    int64 // MAX_ATOMIC_SIZE in bytes
}

// Default64 is the x86_64-like target used by tests and the CLI default.
func Default64() Target {
	return Target{
		PtrSizeBits:  64,
		PtrAlign:     8,
		LittleEndian: true,
		IntMaxAlign:  16,
		MaxAtomic:    8,
	}
}

func (t Target) PtrSize() int64 {
	return int64(t.PtrSizeBits / 8)
}

func (t Target) ByteOrder() binary.ByteOrder {
	if t.LittleEndian {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// IntAlign is the alignment of an integer of the given byte size: the
// size itself, capped at IntMaxAlign (spec.md §4.1).
func (t Target) IntAlign(size int64) int64 {
	if size > t.IntMaxAlign {
		return t.IntMaxAlign
	}
	return size
}

// AddrSpaceBits is the width in bits of the pointer-sized unsigned address
// space (PTR_SIZE_BITS); addresses lie below 2^AddrSpaceBits.
func (t Target) AddrSpaceBits() uint {
	return uint(t.PtrSizeBits)
}
