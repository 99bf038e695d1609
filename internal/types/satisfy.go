package types

// Satisfies decides whether a value of type `from` may be used where `to`
// is expected (§3: "A value satisfies a type via the type's satisfier
// predicate"). Composable: union defers to member satisfaction, array
// recurses into element type, signature applies contravariant argument
// matching and covariant return matching, tableshape requires each
// left-layout key to exist in right with a satisfying value type (sealed
// types additionally require equal cardinality).
func Satisfies(from, to *Type) bool {
	from, to = Dealias(from), Dealias(to)
	if from == nil || to == nil {
		return false
	}
	if to.Kind == KAny {
		return true
	}
	if to.Kind == KUnion && from.Kind != KUnion {
		// from satisfies union if from satisfies at least one variant. A
		// union from is handled by the branch below instead: every variant
		// of from must satisfy some variant of to.
		for _, v := range to.Variants {
			if Satisfies(from, v) {
				return true
			}
		}
		return false
	}
	if from.Kind == KUnion {
		for _, v := range from.Variants {
			found := false
			for _, rv := range unionVariants(to) {
				if Satisfies(v, rv) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	}
	if from.Kind != to.Kind {
		return false
	}
	switch from.Kind {
	case KNumber, KBool, KString, KNull, KAny, KTypeOfType:
		return true
	case KArray:
		return Satisfies(from.Elem, to.Elem)
	case KTableShape:
		return tableShapesSatisfy(from.Shape, to.Shape)
	case KSignature:
		return signatureSatisfies(from.Sig, to.Sig)
	case KEnum:
		return from.EnumT == to.EnumT
	case KUserdata:
		return from.UserdataT == to.UserdataT
	}
	return false
}

func unionVariants(t *Type) []*Type {
	if t.Kind == KUnion {
		return t.Variants
	}
	return []*Type{t}
}

// tableShapeSatisfies: each left-layout key must exist in right with a
// satisfying value type; sealed requires equal cardinality (§3).
func tableShapeSatisfies(from, to *Type) bool { return tableShapesSatisfy(from.shapeOf(), to.shapeOf()) }

func (t *Type) shapeOf() *TableShape { return t.Shape }

func tableShapesSatisfy(from, to *TableShape) bool {
	toFields := to.allFields()
	for _, tf := range toFields {
		ff, ok := from.field(tf.Name)
		if !ok || !Satisfies(ff.Type, tf.Type) {
			return false
		}
	}
	if to.Sealed {
		return len(from.allFields()) == len(toFields)
	}
	return true
}

// signatureSatisfies: contravariant args, covariant return (§8).
func signatureSatisfies(from, to *Signature) bool {
	if from.IsPolymorphic() || to.IsPolymorphic() {
		// A polymorphic signature is only satisfied by itself; its shape
		// is determined per call site, not ahead of time.
		return from == to
	}
	if len(from.Args) != len(to.Args) {
		return false
	}
	for i := range from.Args {
		// contravariant: to's arg type must satisfy from's arg type
		if !Satisfies(to.Args[i], from.Args[i]) {
			return false
		}
	}
	if from.Return == nil || to.Return == nil {
		return from.Return == to.Return
	}
	return Satisfies(from.Return, to.Return)
}

// Compose merges two tableshapes' layouts (`+` operator). Per SPEC_FULL's
// original_source supplement, composition walks the parent chain of both
// operands rather than just their immediate fields, and reports a parse
// error (via the returned ok=false) on overlapping keys with conflicting
// types instead of silently picking one side.
func Compose(a, b *TableShape) (*TableShape, bool) {
	merged := map[string]*Type{}
	order := []string{}
	for _, f := range a.allFields() {
		merged[f.Name] = f.Type
		order = append(order, f.Name)
	}
	for _, f := range b.allFields() {
		if existing, ok := merged[f.Name]; ok {
			if !Equal(existing, f.Type) {
				return nil, false
			}
			continue
		}
		merged[f.Name] = f.Type
		order = append(order, f.Name)
	}
	out := &TableShape{Sealed: a.Sealed && b.Sealed, Final: a.Final && b.Final}
	for _, name := range order {
		out.Fields = append(out.Fields, Field{Name: name, Type: merged[name]})
	}
	return out, true
}
