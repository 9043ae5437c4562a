// Package bigint provides the unbounded mathematical integer type that the
// rest of the abstract machine is built on. The core spec treats this as an
// external collaborator with a fixed interface (arbitrary-precision integers
// plus a handful of range and two's-complement helpers); nothing here is
// MiniRust-specific.
package bigint

import "math/big"

// Int is an unbounded, two's-complement-agnostic mathematical integer.
// All arithmetic is exact; truncation to a machine width only happens at
// the edges (Representation, BinOp with IntToInt casts) via Truncate.
type Int struct {
	v big.Int
}

// Zero is the additive identity. The zero value of Int is already zero,
// so this exists only for readability at call sites.
var Zero = Int{}

func FromInt64(n int64) Int {
	var i Int
	i.v.SetInt64(n)
	return i
}

func FromUint64(n uint64) Int {
	var i Int
	i.v.SetUint64(n)
	return i
}

// FromBytes reconstructs an Int from its two's-complement encoding in the
// given byte order, interpreted as signed or unsigned.
func FromBytes(b []byte, signed bool, littleEndian bool) Int {
	buf := make([]byte, len(b))
	copy(buf, b)
	if littleEndian {
		for i, j := 0, len(buf)-1; i < j; i, j = i+1, j-1 {
			buf[i], buf[j] = buf[j], buf[i]
		}
	}
	var i Int
	i.v.SetBytes(buf)
	if signed && len(buf) > 0 && buf[0]&0x80 != 0 {
		// Subtract 2^(8*len) to interpret as negative.
		mod := new(big.Int).Lsh(big.NewInt(1), uint(len(buf)*8))
		i.v.Sub(&i.v, mod)
	}
	return i
}

// Bytes encodes i into exactly size bytes of two's complement, in the
// requested byte order. Panics if i does not fit (callers must range-check
// with FitsIn first; this mirrors the teacher's pattern of hard-asserting
// layout invariants rather than silently truncating, e.g.
// internal/gocore/type.go's layout panics).
func (i Int) Bytes(size int, littleEndian bool) []byte {
	n := new(big.Int).Set(&i.v)
	if n.Sign() < 0 {
		mod := new(big.Int).Lsh(big.NewInt(1), uint(size*8))
		n.Add(n, mod)
	}
	raw := n.Bytes()
	if len(raw) > size {
		panic("bigint: value does not fit in requested size")
	}
	out := make([]byte, size)
	copy(out[size-len(raw):], raw)
	if littleEndian {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

func (i Int) Add(o Int) Int { var r Int; r.v.Add(&i.v, &o.v); return r }
func (i Int) Sub(o Int) Int { var r Int; r.v.Sub(&i.v, &o.v); return r }
func (i Int) Mul(o Int) Int { var r Int; r.v.Mul(&i.v, &o.v); return r }
func (i Int) Neg() Int      { var r Int; r.v.Neg(&i.v); return r }

// Quot and Rem are truncated (toward zero) division, matching Rust's
// integer division/remainder semantics for signed and unsigned ints alike.
func (i Int) Quot(o Int) Int { var r Int; r.v.Quo(&i.v, &o.v); return r }
func (i Int) Rem(o Int) Int  { var r Int; r.v.Rem(&i.v, &o.v); return r }

func (i Int) Cmp(o Int) int { return i.v.Cmp(&o.v) }
func (i Int) IsZero() bool  { return i.v.Sign() == 0 }
func (i Int) Sign() int     { return i.v.Sign() }

func (i Int) Lsh(n uint) Int { var r Int; r.v.Lsh(&i.v, n); return r }
func (i Int) Rsh(n uint) Int { var r Int; r.v.Rsh(&i.v, n); return r }

func (i Int) Int64() int64   { return i.v.Int64() }
func (i Int) Uint64() uint64 { return i.v.Uint64() }
func (i Int) String() string { return i.v.String() }

// PopCount returns the number of set bits in the unsigned size-byte
// two's-complement representation of i (used by UnOp population count).
func (i Int) PopCount(size int) uint32 {
	b := i.Bytes(size, false)
	var n uint32
	for _, by := range b {
		for by != 0 {
			n += uint32(by & 1)
			by >>= 1
		}
	}
	return n
}

// Bounds returns the inclusive [min, max] range representable by an
// integer of the given size (in bytes) and signedness.
func Bounds(size int, signed bool) (min, max Int) {
	bits := uint(size * 8)
	if !signed {
		var lo, hi Int
		lo.v.SetInt64(0)
		hi.v.Lsh(big.NewInt(1), bits)
		hi.v.Sub(&hi.v, big.NewInt(1))
		return lo, hi
	}
	var lo, hi Int
	hi.v.Lsh(big.NewInt(1), bits-1)
	hi.v.Sub(&hi.v, big.NewInt(1))
	lo.v.Neg(&hi.v)
	lo.v.Sub(&lo.v, big.NewInt(1))
	return lo, hi
}

// FitsIn reports whether i is representable by an integer of the given
// size and signedness.
func FitsIn(i Int, size int, signed bool) bool {
	lo, hi := Bounds(size, signed)
	return i.Cmp(lo) >= 0 && i.Cmp(hi) <= 0
}

// Truncate reinterprets i modulo 2^(size*8), then maps it back into the
// signed or unsigned range of that width, matching Rust's `as` truncation.
func Truncate(i Int, size int, signed bool) Int {
	b := i.Bytes8OrWrap(size)
	return FromBytes(b, signed, false)
}

// Bytes8OrWrap produces the size-byte two's complement of i, wrapping
// (rather than panicking) when i is out of range — the helper Truncate
// needs, kept separate from Bytes so Bytes can keep its "must fit" contract.
func (i Int) Bytes8OrWrap(size int) []byte {
	n := new(big.Int).Set(&i.v)
	mod := new(big.Int).Lsh(big.NewInt(1), uint(size*8))
	n.Mod(n, mod)
	if n.Sign() < 0 {
		n.Add(n, mod)
	}
	raw := n.Bytes()
	out := make([]byte, size)
	copy(out[size-len(raw):], raw)
	return out
}
