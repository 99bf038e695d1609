// Package value implements the NaN-boxed runtime value representation and
// heap object model described in spec §3/§4.A.
//
// Grounded on sentra's internal/vmregister/value.go NaN-boxing scheme
// (Value uint64, tag bits carved out of the quiet-NaN space, Box*/As*/Is*
// naming). Differs from the teacher in two ways spec §3 requires: there is
// no small-integer tag (numbers are always float64; LOAD_SMALL is purely a
// bytecode-level encoding optimization handled by the compiler, not a
// distinct Value representation), and an enum-ordinal tag is added.
package value

import (
	"math"
	"unsafe"
)

type Value uint64

const (
	nanMask = 0x7FF8000000000000
	tagMask = 0xFFFF000000000000

	tagNull  = 0x7FF8000000000000
	tagFalse = 0x7FF8000000000001
	tagTrue  = 0x7FF8000000000002

	tagPtr  = 0x7FFC000000000000
	ptrMask = 0x0000FFFFFFFFFFFF

	tagEnum  = 0x7FFE000000000000
	enumMask = 0x00000000FFFFFFFF

	numberMask = 0x7FF8000000000000
)

func Number(n float64) Value { return Value(math.Float64bits(n)) }
func Bool(b bool) Value {
	if b {
		return tagTrue
	}
	return tagFalse
}
func Null() Value { return tagNull }

func Ptr(p unsafe.Pointer) Value {
	bits := uint64(uintptr(p))
	if bits > ptrMask {
		panic("object pointer exceeds 47-bit NaN-box budget")
	}
	return Value(tagPtr | bits)
}

func Enum(ordinal int32) Value {
	return Value(tagEnum | uint64(uint32(ordinal)))
}

func IsNumber(v Value) bool { return (v & numberMask) != numberMask }
func IsNull(v Value) bool   { return v == tagNull }
func IsBool(v Value) bool   { return v == tagTrue || v == tagFalse }
func IsPtr(v Value) bool    { return (v & tagMask) == tagPtr }
func IsEnum(v Value) bool   { return (v & tagMask) == tagEnum }

func AsNumber(v Value) float64 { return math.Float64frombits(uint64(v)) }
func AsBool(v Value) bool      { return v == tagTrue }
func AsPtr(v Value) unsafe.Pointer {
	return unsafe.Pointer(uintptr(v & ptrMask))
}
func AsEnum(v Value) int32 { return int32(uint32(v & enumMask)) }

func AsObject(v Value) *Object { return (*Object)(AsPtr(v)) }

// Equal implements §3's invariant: number equality uses an epsilon; all
// other values use bitwise equality except strings, which compare by
// length-bounded content with an optional precomputed hash fast path.
func Equal(a, b Value) bool {
	if a == b {
		return true
	}
	if IsNumber(a) && IsNumber(b) {
		const eps = 1e-9
		x, y := AsNumber(a), AsNumber(b)
		d := x - y
		if d < 0 {
			d = -d
		}
		return d <= eps*maxAbs(x, y, 1)
	}
	if IsPtr(a) && IsPtr(b) {
		oa, ob := AsObject(a), AsObject(b)
		if oa.Tag == TagString && ob.Tag == TagString {
			sa, sb := (*StringObj)(unsafe.Pointer(oa)), (*StringObj)(unsafe.Pointer(ob))
			if sa.Hash != 0 && sb.Hash != 0 && sa.Hash != sb.Hash {
				return false
			}
			return sa.Str == sb.Str
		}
	}
	return false
}

func maxAbs(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}

// IsTruthy: null and false are falsy, everything else (including 0) is
// truthy — the core has no implicit numeric truthiness per spec's
// boolean/number separation.
func IsTruthy(v Value) bool {
	if IsNull(v) {
		return false
	}
	if IsBool(v) {
		return AsBool(v)
	}
	return true
}
