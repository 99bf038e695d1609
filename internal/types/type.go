// Package types implements the reflective type system described in spec
// §3 (Type) and §4.D: construction, equality, and the satisfier predicate
// that drives assignability checks during parsing.
//
// Grounded on bt_type.c/bt_type.h (original_source): a Type is a tagged
// union of primitive/array/tableshape/signature/enum/alias/union/userdata/
// type-of-type variants, each carrying its own satisfier. The teacher repo
// (sentra) has no static type system to ground on directly — sentra is
// dynamically typed — so this package follows the original C source's
// shape and is rendered in the teacher's naming/commenting register
// (terse doc comments, no "why" commentary) rather than literal C types.
package types

import "strings"

// Kind discriminates the Type variants from spec §3.
type Kind uint8

const (
	KNumber Kind = iota
	KBool
	KString
	KNull
	KAny
	KArray
	KTableShape
	KSignature
	KEnum
	KAlias
	KUnion
	KUserdata
	KTypeOfType
)

// PolyApplicator synthesizes a concrete Signature from the actual argument
// types at a call site (§4.D make_poly_signature). Returning nil signals
// "not applicable" so the parser can retry the call without an implicit
// self argument (§4.E Polymorphic call resolution).
type PolyApplicator func(args []*Type) *Signature

// Signature describes a callable's shape.
type Signature struct {
	Args       []*Type
	Return     *Type
	Variadic   *Type // non-nil tail type when IsVararg
	IsVararg   bool
	IsMethod   bool
	Applicator PolyApplicator // non-nil => IsPolymorphic
}

func (s *Signature) IsPolymorphic() bool { return s.Applicator != nil }

// String renders "fn(arg0, arg1...): ret" per §4.D make_signature.
func (s *Signature) String() string {
	var sb strings.Builder
	sb.WriteString("fn(")
	for i, a := range s.Args {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.String())
	}
	if s.IsVararg {
		if len(s.Args) > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("...")
		sb.WriteString(s.Variadic.String())
	}
	sb.WriteString("): ")
	if s.Return != nil {
		sb.WriteString(s.Return.String())
	} else {
		sb.WriteString("null")
	}
	return sb.String()
}

// Field is one entry of a tableshape layout.
type Field struct {
	Name string
	Type *Type
}

// TableShape is a structural record type description (distinct from a
// runtime table value — GLOSSARY: Tableshape).
type TableShape struct {
	Fields []Field
	Sealed bool // composition is disallowed once sealed+final pairing is hoistable
	Final  bool // stable: dot-access may be hoisted (GLOSSARY: Hoistable access)
	IsMap  bool // map-shaped: any string key satisfies, value type uniform
	ValueT *Type
	Parent *TableShape // composition base, walked recursively (SPEC_FULL supplement)
}

func (ts *TableShape) field(name string) (Field, bool) {
	for _, f := range ts.Fields {
		if f.Name == name {
			return f, true
		}
	}
	if ts.Parent != nil {
		return ts.Parent.field(name)
	}
	return Field{}, false
}

// allFields flattens the parent chain, child fields shadowing parent ones.
func (ts *TableShape) allFields() []Field {
	seen := map[string]bool{}
	var out []Field
	cur := ts
	var chain []*TableShape
	for cur != nil {
		chain = append(chain, cur)
		cur = cur.Parent
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for _, f := range chain[i].Fields {
			if !seen[f.Name] {
				seen[f.Name] = true
				out = append(out, f)
			} else {
				for j, o := range out {
					if o.Name == f.Name {
						out[j] = f
					}
				}
			}
		}
	}
	return out
}

// Enum is an ordered name -> ordinal mapping.
type Enum struct {
	Name    string
	Options []string
}

func (e *Enum) Ordinal(name string) (int32, bool) {
	for i, o := range e.Options {
		if o == name {
			return int32(i), true
		}
	}
	return 0, false
}

// Userdata describes a host-registered opaque type: named fields, named
// methods, and an optional finalizer identity (the finalizer function
// itself lives on the runtime object, not the type).
type Userdata struct {
	Name        string
	Fields      map[string]*Type
	Methods     map[string]*Type
	HasFinalize bool
}

// Type is the reflective type object described in spec §3.
type Type struct {
	Kind Kind

	// KArray
	Elem *Type

	// KTableShape
	Shape *TableShape

	// KSignature
	Sig *Signature

	// KEnum
	EnumT *Enum

	// KAlias
	AliasName string
	Aliased   *Type

	// KUnion: ordered vector of variants
	Variants []*Type

	// KUserdata
	UserdataT *Userdata
}

func Number() *Type { return &Type{Kind: KNumber} }
func Bool() *Type   { return &Type{Kind: KBool} }
func Str() *Type    { return &Type{Kind: KString} }
func Null() *Type   { return &Type{Kind: KNull} }
func Any() *Type    { return &Type{Kind: KAny} }

func Array(elem *Type) *Type { return &Type{Kind: KArray, Elem: elem} }

func TableShapeType(shape *TableShape) *Type { return &Type{Kind: KTableShape, Shape: shape} }

func SignatureType(sig *Signature) *Type { return &Type{Kind: KSignature, Sig: sig} }

func EnumType(e *Enum) *Type { return &Type{Kind: KEnum, EnumT: e} }

func Alias(name string, t *Type) *Type { return &Type{Kind: KAlias, AliasName: name, Aliased: t} }

func UserdataType(u *Userdata) *Type { return &Type{Kind: KUserdata, UserdataT: u} }

func TypeOfType() *Type { return &Type{Kind: KTypeOfType} }

// Union builds a KUnion type from variants, flattening nested unions and
// de-duplicating by structural equality so ordering stays deterministic.
func Union(variants ...*Type) *Type {
	var flat []*Type
	for _, v := range variants {
		dv := Dealias(v)
		if dv.Kind == KUnion {
			flat = append(flat, dv.Variants...)
		} else {
			flat = append(flat, v)
		}
	}
	var out []*Type
	for _, v := range flat {
		dup := false
		for _, o := range out {
			if Equal(o, v) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, v)
		}
	}
	if len(out) == 1 {
		return out[0]
	}
	return &Type{Kind: KUnion, Variants: out}
}

// MakeNullable returns union{T, null}; idempotent for already-nullable T
// (spec §4.D, §8 Nullable idempotence).
func MakeNullable(t *Type) *Type {
	dt := Dealias(t)
	if dt.Kind == KUnion {
		for _, v := range dt.Variants {
			if Dealias(v).Kind == KNull {
				return t
			}
		}
	}
	if dt.Kind == KNull {
		return t
	}
	return Union(t, Null())
}

// RemoveNullable strips the null variant; if exactly two variants remain
// the survivor is returned directly (§4.D).
func RemoveNullable(t *Type) *Type {
	dt := Dealias(t)
	if dt.Kind != KUnion {
		return t
	}
	var rest []*Type
	for _, v := range dt.Variants {
		if Dealias(v).Kind != KNull {
			rest = append(rest, v)
		}
	}
	if len(rest) == 1 {
		return rest[0]
	}
	if len(rest) == 0 {
		return Null()
	}
	return &Type{Kind: KUnion, Variants: rest}
}

// IsNullable reports whether t's union contains null.
func IsNullable(t *Type) bool {
	dt := Dealias(t)
	if dt.Kind == KNull {
		return true
	}
	if dt.Kind != KUnion {
		return false
	}
	for _, v := range dt.Variants {
		if Dealias(v).Kind == KNull {
			return true
		}
	}
	return false
}

// MakeSignature builds a non-variadic, non-method signature.
func MakeSignature(args []*Type, ret *Type) *Signature {
	return &Signature{Args: args, Return: ret}
}

// MakeVararg marks a signature as variadic with a typed tail (§4.D).
func MakeVararg(sig *Signature, tail *Type) *Signature {
	sig.IsVararg = true
	sig.Variadic = tail
	return sig
}

// MakePolySignature records a host-side applicator (§4.D).
func MakePolySignature(applicator PolyApplicator) *Signature {
	return &Signature{Applicator: applicator}
}

// Dealias is transparent at comparison time (§3 invariant: aliases are
// transparent via dealias).
func Dealias(t *Type) *Type {
	for t != nil && t.Kind == KAlias {
		t = t.Aliased
	}
	return t
}

// String renders a human-readable type name.
func (t *Type) String() string {
	if t == nil {
		return "<nil-type>"
	}
	switch t.Kind {
	case KNumber:
		return "number"
	case KBool:
		return "bool"
	case KString:
		return "string"
	case KNull:
		return "null"
	case KAny:
		return "any"
	case KArray:
		return "[" + t.Elem.String() + "]"
	case KTableShape:
		var sb strings.Builder
		if t.Shape.Final && t.Shape.Sealed {
			sb.WriteString("final ")
		} else if !t.Shape.Sealed {
			sb.WriteString("unsealed ")
		}
		sb.WriteString("{ ")
		for i, f := range t.Shape.allFields() {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(f.Name)
			sb.WriteString(": ")
			sb.WriteString(f.Type.String())
		}
		sb.WriteString(" }")
		return sb.String()
	case KSignature:
		return t.Sig.String()
	case KEnum:
		return t.EnumT.Name
	case KAlias:
		return t.AliasName
	case KUnion:
		parts := make([]string, len(t.Variants))
		for i, v := range t.Variants {
			parts[i] = v.String()
		}
		return strings.Join(parts, " | ")
	case KUserdata:
		return t.UserdataT.Name
	case KTypeOfType:
		return "type"
	}
	return "?"
}

// Equal is structural equality (§3: "Type by structural equality").
func Equal(a, b *Type) bool {
	a, b = Dealias(a), Dealias(b)
	if a == b {
		return true
	}
	if a == nil || b == nil || a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KNumber, KBool, KString, KNull, KAny, KTypeOfType:
		return true
	case KArray:
		return Equal(a.Elem, b.Elem)
	case KTableShape:
		af, bf := a.Shape.allFields(), b.Shape.allFields()
		if len(af) != len(bf) || a.Shape.Sealed != b.Shape.Sealed || a.Shape.Final != b.Shape.Final {
			return false
		}
		for _, fa := range af {
			fb, ok := findField(bf, fa.Name)
			if !ok || !Equal(fa.Type, fb.Type) {
				return false
			}
		}
		return true
	case KSignature:
		return signatureEqual(a.Sig, b.Sig)
	case KEnum:
		return a.EnumT == b.EnumT
	case KUnion:
		if len(a.Variants) != len(b.Variants) {
			return false
		}
		for i := range a.Variants {
			if !Equal(a.Variants[i], b.Variants[i]) {
				return false
			}
		}
		return true
	case KUserdata:
		return a.UserdataT == b.UserdataT
	}
	return false
}

func findField(fs []Field, name string) (Field, bool) {
	for _, f := range fs {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func signatureEqual(a, b *Signature) bool {
	if len(a.Args) != len(b.Args) || a.IsVararg != b.IsVararg || a.IsMethod != b.IsMethod {
		return false
	}
	for i := range a.Args {
		if !Equal(a.Args[i], b.Args[i]) {
			return false
		}
	}
	if (a.Return == nil) != (b.Return == nil) {
		return false
	}
	if a.Return != nil && !Equal(a.Return, b.Return) {
		return false
	}
	return true
}
