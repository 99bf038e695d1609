package value

import (
	"unsafe"

	"ember/internal/bytecode"
	"ember/internal/types"
)

// Tag is the small header enum from spec §3: "Type, String, Module,
// Import, Fn, NativeFn, Closure, Method, Array, Table, Userdata,
// Annotation, None".
type Tag uint8

const (
	TagType Tag = iota
	TagString
	TagModule
	TagImport
	TagFn
	TagNativeFn
	TagClosure
	TagMethod
	TagArray
	TagTable
	TagUserdata
	TagAnnotation
	TagNone
)

// Object is the header every heap object begins with: an intrusive
// next-pointer forming the collector's object list, a type tag, and a
// mark bit (§3 Object). Kept as separate fields rather than the
// bit-packed MASKED_GC_HEADER micro-optimization spec §9 permits but does
// not require.
type Object struct {
	Tag    Tag
	Marked bool
	Next   *Object
}

// StringObj: length, optional precomputed hash, content. Interned when
// "hashed" (§3 String) — Hash is computed eagerly here since the core has
// no separate un-hashed string representation worth the complexity.
type StringObj struct {
	Object
	Str  string
	Hash uint64
}

func HashString(s string) uint64 {
	h := uint64(14695981039346656037)
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

// TypeObj boxes a reflective types.Type as a first-class runtime value
// (produced by `typeof`, accepted by is/as/satisfies, registered via
// register_type). The header tag list in §3 lists Type alongside String,
// Module, etc., so the type system is reachable from ordinary values, not
// just from the compiler's static analysis.
type TypeObj struct {
	Object
	T *types.Type
}

func NewType(t *types.Type) *TypeObj { return &TypeObj{Object: Object{Tag: TagType}, T: t} }

func BoxType(t *types.Type) Value { return Ptr(unsafe.Pointer(NewType(t))) }
func AsType(v Value) *TypeObj     { return (*TypeObj)(AsPtr(v)) }
func IsType(v Value) bool         { return TagOf(v) == TagType }

// Pair is one (key,value) entry of a Table.
type Pair struct {
	Key   Value
	Value Value
}

const inlineCap = 4

// TableObj: optional prototype reference, array of (key,value) pairs, a
// small-inline capacity to avoid an extra allocation for small tables
// (§3 Table), plus the structural type assigned at cast time (used by
// the hoistable dot-access accelerator and metamethod lookup).
type TableObj struct {
	Object
	Proto  *TableObj
	ShapeT *types.Type // structural type, set by TCAST / TTABLE

	inline   [inlineCap]Pair
	inlineN  int
	outline  []Pair
}

func NewTable() *TableObj { return &TableObj{Object: Object{Tag: TagTable}} }

func (t *TableObj) pairs(fn func(i int, p *Pair) bool) {
	for i := 0; i < t.inlineN; i++ {
		if !fn(i, &t.inline[i]) {
			return
		}
	}
	for i := range t.outline {
		if !fn(i, &t.outline[i]) {
			return
		}
	}
}

func (t *TableObj) Len() int { return t.inlineN + len(t.outline) }

// Each visits every local (key,value) pair; used by the collector to
// blacken a table without exposing the inline/outline split.
func (t *TableObj) Each(fn func(k, v Value)) {
	t.pairs(func(_ int, p *Pair) bool {
		fn(p.Key, p.Value)
		return true
	})
}

func (t *TableObj) PairAt(idx int) (Value, Value, bool) {
	if idx < t.inlineN {
		return t.inline[idx].Key, t.inline[idx].Value, true
	}
	idx -= t.inlineN
	if idx < len(t.outline) {
		return t.outline[idx].Key, t.outline[idx].Value, true
	}
	return Null(), Null(), false
}

// Get looks up key locally (no prototype walk); used by the compiler's
// hoistable fast path once a field index is known statically.
func (t *TableObj) getLocal(key Value) (Value, bool) {
	var out Value
	found := false
	t.pairs(func(_ int, p *Pair) bool {
		if Equal(p.Key, key) {
			out, found = p.Value, true
			return false
		}
		return true
	})
	return out, found
}

// Get performs the generic prototype-chained lookup (§4.A).
func (t *TableObj) Get(key Value) (Value, bool) {
	for cur := t; cur != nil; cur = cur.Proto {
		if v, ok := cur.getLocal(key); ok {
			return v, true
		}
	}
	return Null(), false
}

// Set writes key locally, appending a new pair if absent, using the
// inline slots before spilling to the outline slice (§3).
func (t *TableObj) Set(key, val Value) {
	found := false
	t.pairs(func(_ int, p *Pair) bool {
		if Equal(p.Key, key) {
			p.Value = val
			found = true
			return false
		}
		return true
	})
	if found {
		return
	}
	if t.inlineN < inlineCap {
		t.inline[t.inlineN] = Pair{Key: key, Value: val}
		t.inlineN++
		return
	}
	t.outline = append(t.outline, Pair{Key: key, Value: val})
}

// SetAt writes directly by flattened pair index; used by the compiler's
// accelerated LOAD_IDX/STORE_IDX when the field offset is statically
// known (§9 Dot-access accelerator).
func (t *TableObj) SetAt(idx int, val Value) bool {
	if idx < t.inlineN {
		t.inline[idx].Value = val
		return true
	}
	idx -= t.inlineN
	if idx < len(t.outline) {
		t.outline[idx].Value = val
		return true
	}
	return false
}

// ArrayObj: growable sequence of values (§3 Array).
type ArrayObj struct {
	Object
	Elems []Value
}

func NewArray(cap int) *ArrayObj {
	return &ArrayObj{Object: Object{Tag: TagArray}, Elems: make([]Value, 0, cap)}
}

// FnObj: owning Module reference, signature type, constant pool,
// instruction stream, stack-size hint, optional debug mapping (§3 Fn).
type FnObj struct {
	Object
	Name       string
	Module     *ModuleObj
	Sig        *types.Signature
	Constants  []Value
	Code       []bytecode.Instruction
	StackSize  int
	Upvalues   []UpvalueDesc
	Debug      *bytecode.DebugMap
	IsMethod   bool
}

// UpvalueDesc describes, for one captured identifier, whether it comes
// from the enclosing function's locals or its own upvalue array, and at
// what index (§4.F Closure capture).
type UpvalueDesc struct {
	Index   uint8
	IsLocal bool
}

// ClosureObj: reference to an Fn plus its captured upvalue cells (§3
// Closure). Each entry points directly into the defining frame's register
// slice (or, for a re-capture, into that frame's own Upvalues slice) so a
// write from either the closure or the enclosing function is visible to
// both — Go's GC keeps the backing register array alive as long as any
// such pointer survives, so no separate "close upvalue on frame return"
// step is needed the way a non-GC'd host would require.
type ClosureObj struct {
	Object
	Fn       *FnObj
	Upvalues []*Value
}

// NativeFnObj: signature plus a host function pointer (§3 NativeFn). The
// host function receives argv by value and returns a result or an error
// that becomes a runtime fatal error.
type NativeFn func(args []Value) (Value, error)

type NativeFnObj struct {
	Object
	Name string
	Sig  *types.Signature
	Fn   NativeFn
}

// MethodObj is a bound method: a receiver value paired with its Fn or
// Closure, produced by method-sugar resolution at the call site or by
// explicit `obj.method` access without a call (§4.E Method sugar).
type MethodObj struct {
	Object
	Receiver Value
	Fn       Value // FnObj or ClosureObj
}

// ModuleObj: constants, instructions, import list, exports table,
// structural type, name, path, debug artifacts, stack-size hint (§3
// Module). CompiledAt/ID are SPEC_FULL ambient-stack additions (uuid +
// strftime wiring), not part of the bare spec.
type ModuleObj struct {
	Object
	Name       string
	Path       string
	Entry      *FnObj
	Exports    *TableObj
	Imports    []*ImportObj
	ShapeT     *types.Type
	StackSize  int
	Loaded     bool
	ID         string // uuid, stamped by host.Context on compile
	CompiledAt string // strftime-formatted compile timestamp
}

// ImportObj is used uniformly for prelude and explicit imports: a bound
// name, its type, and its value (§3 ModuleImport).
type ImportObj struct {
	Object
	Name string
	Type *types.Type
	Val  Value
}

// UserdataObj: type reference, opaque byte blob, optional finalizer (§3
// Userdata).
type UserdataObj struct {
	Object
	TypeT      *types.Type
	Data       []byte
	Finalize   func(*UserdataObj)
}

// AnnotationObj attaches host-defined metadata to a tableshape field
// (original_source bt_object.h bt_Annotation: name + value list + next).
type AnnotationObj struct {
	Object
	Name   string
	Values []Value
	Next   *AnnotationObj
}

func NewAnnotation(name string) *AnnotationObj {
	return &AnnotationObj{Object: Object{Tag: TagAnnotation}, Name: name}
}

func (a *AnnotationObj) Push(v Value) { a.Values = append(a.Values, v) }

// --- constructors that box directly to Value --------------------------

func BoxString(s string) Value {
	o := &StringObj{Object: Object{Tag: TagString}, Str: s, Hash: HashString(s)}
	return Ptr(unsafe.Pointer(o))
}

func BoxTable(t *TableObj) Value    { return Ptr(unsafe.Pointer(t)) }
func BoxArray(a *ArrayObj) Value    { return Ptr(unsafe.Pointer(a)) }
func BoxFn(f *FnObj) Value          { return Ptr(unsafe.Pointer(f)) }
func BoxClosure(c *ClosureObj) Value { return Ptr(unsafe.Pointer(c)) }
func BoxNativeFn(n *NativeFnObj) Value { return Ptr(unsafe.Pointer(n)) }
func BoxMethod(m *MethodObj) Value  { return Ptr(unsafe.Pointer(m)) }
func BoxModule(m *ModuleObj) Value  { return Ptr(unsafe.Pointer(m)) }
func BoxImport(i *ImportObj) Value  { return Ptr(unsafe.Pointer(i)) }
func BoxUserdata(u *UserdataObj) Value { return Ptr(unsafe.Pointer(u)) }
func BoxAnnotation(a *AnnotationObj) Value { return Ptr(unsafe.Pointer(a)) }

func AsString(v Value) *StringObj     { return (*StringObj)(AsPtr(v)) }
func AsTable(v Value) *TableObj       { return (*TableObj)(AsPtr(v)) }
func AsArray(v Value) *ArrayObj       { return (*ArrayObj)(AsPtr(v)) }
func AsFn(v Value) *FnObj             { return (*FnObj)(AsPtr(v)) }
func AsClosure(v Value) *ClosureObj   { return (*ClosureObj)(AsPtr(v)) }
func AsNativeFn(v Value) *NativeFnObj { return (*NativeFnObj)(AsPtr(v)) }
func AsMethod(v Value) *MethodObj     { return (*MethodObj)(AsPtr(v)) }
func AsModule(v Value) *ModuleObj     { return (*ModuleObj)(AsPtr(v)) }
func AsImport(v Value) *ImportObj     { return (*ImportObj)(AsPtr(v)) }
func AsUserdata(v Value) *UserdataObj { return (*UserdataObj)(AsPtr(v)) }
func AsAnnotation(v Value) *AnnotationObj { return (*AnnotationObj)(AsPtr(v)) }

func TagOf(v Value) Tag {
	if !IsPtr(v) {
		return TagNone
	}
	return AsObject(v).Tag
}

func IsTable(v Value) bool    { return TagOf(v) == TagTable }
func IsArray(v Value) bool    { return TagOf(v) == TagArray }
func IsString(v Value) bool   { return TagOf(v) == TagString }
func IsCallable(v Value) bool {
	t := TagOf(v)
	return t == TagFn || t == TagClosure || t == TagNativeFn || t == TagMethod
}
