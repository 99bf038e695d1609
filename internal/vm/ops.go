package vm

import (
	"ember/internal/bytecode"
	"ember/internal/types"
	"ember/internal/value"
)

// execLoad handles LOAD's one piece of extra behavior beyond a plain
// constant fetch: a constant Fn whose Upvalues list is non-empty is turned
// into a Closure on the spot, capturing straight out of the executing
// frame (§4.F Closure capture — "implicit closure construction at LOAD
// time" rather than a dedicated CLOSE/MAKE_CLOSURE instruction).
func (t *Thread) execLoad(f *frame, instr bytecode.Instruction) error {
	c := f.fn.Constants[instr.Bx()]
	if value.TagOf(c) == value.TagFn {
		fn := value.AsFn(c)
		if len(fn.Upvalues) > 0 {
			cl := t.makeClosure(f, fn)
			t.setr(f, instr.A(), value.BoxClosure(cl))
			return nil
		}
	}
	t.setr(f, instr.A(), c)
	return nil
}

// makeClosure captures one upvalue cell per descriptor: IsLocal points
// directly into the defining frame's own register window, otherwise the
// cell is re-shared from that frame's own closure (§4.F: a nested closure
// two levels deep re-captures its parent's already-captured cell instead
// of indirecting through the grandparent frame).
func (t *Thread) makeClosure(f *frame, fn *value.FnObj) *value.ClosureObj {
	ups := make([]*value.Value, len(fn.Upvalues))
	for i, d := range fn.Upvalues {
		if d.IsLocal {
			ups[i] = &t.regs[f.base+int(d.Index)]
		} else {
			ups[i] = f.closure.Upvalues[d.Index]
		}
	}
	cl := &value.ClosureObj{Object: value.Object{Tag: value.TagClosure}, Fn: fn, Upvalues: ups}
	t.track(&cl.Object)
	return cl
}

func (t *Thread) execArray(f *frame, instr bytecode.Instruction) error {
	n := int(instr.C())
	arr := value.NewArray(n)
	base := f.base + int(instr.B())
	arr.Elems = append(arr.Elems, t.regs[base:base+n]...)
	t.track(&arr.Object)
	t.setr(f, instr.A(), value.BoxArray(arr))
	return nil
}

func (t *Thread) execExportType(f *frame, instr bytecode.Instruction) error {
	typ := value.AsType(t.r(f, instr.A())).T
	if t.module == nil {
		return nil
	}
	t.module.Exports.Set(value.BoxString(t.pendingKey), t.pendingVal)
	recordExportType(t.module, t.pendingKey, typ)
	t.pendingVal = value.Null()
	return nil
}

// recordExportType grows the module's structural type one exported field
// at a time, mirroring the exports table itself being filled one triple at
// a time (§4.E export forms: the module's own type is a sealed, final
// tableshape of its exports).
func recordExportType(m *value.ModuleObj, name string, typ *types.Type) {
	var shape *types.TableShape
	if m.ShapeT != nil && m.ShapeT.Kind == types.KTableShape {
		shape = m.ShapeT.Shape
	} else {
		shape = &types.TableShape{Sealed: true, Final: true}
	}
	shape.Fields = append(shape.Fields, types.Field{Name: name, Type: typ})
	m.ShapeT = types.TableShapeType(shape)
}

func (t *Thread) execCall(f *frame, instr bytecode.Instruction) error {
	calleeVal := t.r(f, instr.A())
	argc := int(instr.C())
	argBase := f.base + int(instr.B())
	args := append([]value.Value(nil), t.regs[argBase:argBase+argc]...)
	result, err := t.callSync(calleeVal, args)
	if err != nil {
		return err
	}
	t.setr(f, instr.A(), result)
	return nil
}

// arithMetaName maps an arithmetic/comparison opcode to the prototype key
// its metamethod fallback looks up (§4.G Metamethod dispatch).
func arithMetaName(op bytecode.Op) string {
	switch op {
	case bytecode.ADD:
		return value.MetaNames.Add
	case bytecode.SUB:
		return value.MetaNames.Sub
	case bytecode.MUL:
		return value.MetaNames.Mul
	case bytecode.DIV:
		return value.MetaNames.Div
	case bytecode.LT:
		return value.MetaNames.Lt
	case bytecode.LTE:
		return value.MetaNames.Lte
	}
	return ""
}

// tryMeta dispatches to lv's prototype-chain metamethod, if any, returning
// ok=false when lv isn't a table or carries no such entry.
func (t *Thread) tryMeta(name string, lv, rv value.Value) (value.Value, bool, error) {
	if value.TagOf(lv) != value.TagTable {
		return value.Null(), false, nil
	}
	fn, found := value.AsTable(lv).Get(value.BoxString(name))
	if !found {
		return value.Null(), false, nil
	}
	res, err := t.callSync(fn, []value.Value{lv, rv})
	return res, true, err
}

// execArith implements ADD/SUB/MUL/DIV: the accelerated form trusts the
// parser's type proof and always does float arithmetic; the generic form
// additionally accepts string concatenation for ADD (the ".." operator is
// lowered to the ADD opcode) and falls back to the LHS's @add/@sub/@mul/
// @div metamethod before failing (§4.G).
func (t *Thread) execArith(f *frame, instr bytecode.Instruction) error {
	op := instr.Op()
	base := op.Base()
	dst, lv, rv := instr.A(), t.r(f, instr.B()), t.r(f, instr.C())

	if op.IsAccelerated() {
		t.setr(f, dst, value.Number(applyArith(base, value.AsNumber(lv), value.AsNumber(rv))))
		return nil
	}

	if value.IsNumber(lv) && value.IsNumber(rv) {
		t.setr(f, dst, value.Number(applyArith(base, value.AsNumber(lv), value.AsNumber(rv))))
		return nil
	}
	if base == bytecode.ADD && value.IsString(lv) && value.IsString(rv) {
		t.setr(f, dst, value.BoxString(value.AsString(lv).Str+value.AsString(rv).Str))
		return nil
	}
	if res, ok, err := t.tryMeta(arithMetaName(base), lv, rv); ok {
		if err != nil {
			return err
		}
		t.setr(f, dst, res)
		return nil
	}
	return t.runtimeErrorf("unsupported operand types for %s", base)
}

func applyArith(op bytecode.Op, l, r float64) float64 {
	switch op {
	case bytecode.ADD:
		return l + r
	case bytecode.SUB:
		return l - r
	case bytecode.MUL:
		return l * r
	case bytecode.DIV:
		return l / r
	}
	return 0
}

// execEquality implements EQ/NEQ: always generic (the compiler never sets
// the accelerated bit on these), with an @eq/@neq metamethod checked first
// when the LHS is a table, falling back to value.Equal (§4.G).
func (t *Thread) execEquality(f *frame, instr bytecode.Instruction) error {
	base := instr.Op().Base()
	dst, lv, rv := instr.A(), t.r(f, instr.B()), t.r(f, instr.C())
	name := value.MetaNames.Eq
	if base == bytecode.NEQ {
		name = value.MetaNames.Neq
	}
	if res, ok, err := t.tryMeta(name, lv, rv); ok {
		if err != nil {
			return err
		}
		t.setr(f, dst, res)
		return nil
	}
	eq := value.Equal(lv, rv)
	if base == bytecode.NEQ {
		eq = !eq
	}
	t.setr(f, dst, value.Bool(eq))
	return nil
}

// execCompare implements LT/LTE: accelerated trusts number operands;
// generic compares numbers directly or falls back to @lt/@lte (§4.G).
func (t *Thread) execCompare(f *frame, instr bytecode.Instruction) error {
	op := instr.Op()
	base := op.Base()
	dst, lv, rv := instr.A(), t.r(f, instr.B()), t.r(f, instr.C())

	if op.IsAccelerated() || (value.IsNumber(lv) && value.IsNumber(rv)) {
		l, r := value.AsNumber(lv), value.AsNumber(rv)
		var result bool
		if base == bytecode.LT {
			result = l < r
		} else {
			result = l <= r
		}
		t.setr(f, dst, value.Bool(result))
		return nil
	}
	if res, ok, err := t.tryMeta(arithMetaName(base), lv, rv); ok {
		if err != nil {
			return err
		}
		t.setr(f, dst, res)
		return nil
	}
	return t.runtimeErrorf("unsupported operand types for comparison")
}

func (t *Thread) execLoadSubF(f *frame, instr bytecode.Instruction) error {
	obj := t.r(f, instr.B())
	if value.TagOf(obj) != value.TagArray {
		return t.runtimeErrorf("LOAD_SUB_F requires an array operand")
	}
	arr := value.AsArray(obj)
	idx := int(instr.C())
	if idx < 0 || idx >= len(arr.Elems) {
		return t.runtimeErrorf("array index %d out of bounds (len %d)", idx, len(arr.Elems))
	}
	t.setr(f, instr.A(), arr.Elems[idx])
	return nil
}

func (t *Thread) execStoreSubF(f *frame, instr bytecode.Instruction) error {
	obj := t.r(f, instr.A())
	if value.TagOf(obj) != value.TagArray {
		return t.runtimeErrorf("STORE_SUB_F requires an array operand")
	}
	arr := value.AsArray(obj)
	idx := int(instr.B())
	if idx < 0 || idx >= len(arr.Elems) {
		return t.runtimeErrorf("array index %d out of bounds (len %d)", idx, len(arr.Elems))
	}
	arr.Elems[idx] = t.r(f, instr.C())
	return nil
}

// execCompose shallow-merges two tables into a fresh one, right operand's
// keys winning on conflict (§4.D table-shape Compose, applied to runtime
// values rather than types).
func (t *Thread) execCompose(f *frame, instr bytecode.Instruction) error {
	lv, rv := t.r(f, instr.B()), t.r(f, instr.C())
	if value.TagOf(lv) != value.TagTable || value.TagOf(rv) != value.TagTable {
		return t.runtimeErrorf("compose requires two tables")
	}
	merged := value.NewTable()
	value.AsTable(lv).Each(func(k, v value.Value) { merged.Set(k, v) })
	value.AsTable(rv).Each(func(k, v value.Value) { merged.Set(k, v) })
	t.track(&merged.Object)
	t.setr(f, instr.A(), value.BoxTable(merged))
	return nil
}

// execNumFor plays FORLOOP's role for `for x in start to stop [by step]`:
// advance the counter by the pre-subtracted step, compare against the
// limit in the direction the step implies, and either publish the counter
// into the visible loop variable and jump back into the body, or fall
// through once exhausted (§4.F numeric for-loop lowering).
func (t *Thread) execNumFor(f *frame, instr bytecode.Instruction) {
	base := f.base + int(instr.A())
	counter := value.AsNumber(t.regs[base]) + value.AsNumber(t.regs[base+2])
	limit := value.AsNumber(t.regs[base+1])
	step := value.AsNumber(t.regs[base+2])

	var cont bool
	if step >= 0 {
		cont = counter <= limit
	} else {
		cont = counter >= limit
	}
	if !cont {
		return
	}
	t.regs[base] = value.Number(counter)
	t.regs[base+3] = value.Number(counter)
	f.pc += int(instr.SBx())
}

// execIterFor plays ITERFOR's dual role: an Array iterates its own cursor,
// anything callable (Fn/Closure/NativeFn/bound Method) is invoked with no
// arguments each iteration and a null result signals the end (§4.G: "ITERFOR
// invokes a closure (the generator) which returns null to terminate").
func (t *Thread) execIterFor(f *frame, instr bytecode.Instruction) error {
	base := f.base + int(instr.A())
	iterable := t.regs[base]

	switch value.TagOf(iterable) {
	case value.TagArray:
		arr := value.AsArray(iterable)
		idx := int(value.AsNumber(t.regs[base+1])) + 1
		if idx >= len(arr.Elems) {
			return nil
		}
		t.regs[base+1] = value.Number(float64(idx))
		t.regs[base+2] = arr.Elems[idx]
		f.pc += int(instr.SBx())
		return nil

	case value.TagFn, value.TagClosure, value.TagNativeFn, value.TagMethod:
		next, err := t.callSync(iterable, nil)
		if err != nil {
			return err
		}
		if value.IsNull(next) {
			return nil
		}
		t.regs[base+2] = next
		f.pc += int(instr.SBx())
		return nil

	default:
		return t.runtimeErrorf("value is not iterable")
	}
}

// funcSigOf recovers a callable value's Signature regardless of which of
// the three callable tags it carries, for dynamicTypeOf's benefit.
func funcSigOf(v value.Value) *types.Signature {
	switch value.TagOf(v) {
	case value.TagFn:
		return value.AsFn(v).Sig
	case value.TagClosure:
		return value.AsClosure(v).Fn.Sig
	case value.TagNativeFn:
		return value.AsNativeFn(v).Sig
	}
	return nil
}

// dynamicTypeOf recovers a reflective Type for a runtime value, the way
// `typeof` and the `is`/`satisfies`/`as` runtime checks need (§4.D, §4.G).
// Tables carry their cast-time ShapeT directly; everything else is
// recovered structurally from the value itself. Enums have no runtime type
// registry to recover their declaring Enum from, so they report `any` —
// a known gap, see DESIGN.md.
func dynamicTypeOf(v value.Value) *types.Type {
	switch {
	case value.IsNumber(v):
		return types.Number()
	case value.IsBool(v):
		return types.Bool()
	case value.IsNull(v):
		return types.Null()
	case value.IsEnum(v):
		return types.Any()
	}
	switch value.TagOf(v) {
	case value.TagString:
		return types.Str()
	case value.TagArray:
		arr := value.AsArray(v)
		if len(arr.Elems) == 0 {
			return types.Array(types.Any())
		}
		return types.Array(dynamicTypeOf(arr.Elems[0]))
	case value.TagTable:
		tbl := value.AsTable(v)
		if tbl.ShapeT != nil {
			return tbl.ShapeT
		}
		return types.TableShapeType(&types.TableShape{IsMap: true, ValueT: types.Any()})
	case value.TagFn, value.TagClosure, value.TagNativeFn:
		if sig := funcSigOf(v); sig != nil {
			return types.SignatureType(sig)
		}
		return types.Any()
	case value.TagMethod:
		if sig := funcSigOf(value.AsMethod(v).Fn); sig != nil {
			return types.SignatureType(sig)
		}
		return types.Any()
	case value.TagModule:
		if m := value.AsModule(v); m.ShapeT != nil {
			return m.ShapeT
		}
		return types.Any()
	case value.TagType:
		return types.TypeOfType()
	case value.TagUserdata:
		return value.AsUserdata(v).TypeT
	}
	return types.Any()
}

// execTCheck implements both of TCHECK's overloaded forms (§9 supplement):
// C==0 is `typeof` (produce a boxed Type), C!=0 is the `is` test (exact
// structural equality against the type constant held in register C). A
// real typeReg is never register 0 in practice since it is always
// allocated strictly after the operand register.
func (t *Thread) execTCheck(f *frame, instr bytecode.Instruction) error {
	operand := t.r(f, instr.B())
	if instr.C() == 0 {
		typ := dynamicTypeOf(operand)
		boxed := value.BoxType(typ)
		t.track(value.AsObject(boxed))
		t.setr(f, instr.A(), boxed)
		return nil
	}
	target := value.AsType(t.r(f, instr.C())).T
	t.setr(f, instr.A(), value.Bool(types.Equal(dynamicTypeOf(operand), target)))
	return nil
}

func (t *Thread) execTSatis(f *frame, instr bytecode.Instruction) error {
	operand := t.r(f, instr.B())
	target := value.AsType(t.r(f, instr.C())).T
	t.setr(f, instr.A(), value.Bool(types.Satisfies(dynamicTypeOf(operand), target)))
	return nil
}

// execTCast implements `as`: the operand must satisfy the target type, and
// casting onto a tableshape builds a fresh table sharing that shape's
// canonical prototype (§8 scenario 3: "the cast creates a new table whose
// prototype is V's prototype").
func (t *Thread) execTCast(f *frame, instr bytecode.Instruction) error {
	operand := t.r(f, instr.B())
	target := value.AsType(t.r(f, instr.C())).T
	if !types.Satisfies(dynamicTypeOf(operand), target) {
		return t.runtimeErrorf("value does not satisfy %s", target.String())
	}
	result := operand
	dt := types.Dealias(target)
	if dt.Kind == types.KTableShape && value.TagOf(operand) == value.TagTable {
		src := value.AsTable(operand)
		dst := value.NewTable()
		src.Each(func(k, v value.Value) { dst.Set(k, v) })
		dst.Proto = t.protoFor(dt.Shape)
		dst.ShapeT = target
		t.track(&dst.Object)
		result = value.BoxTable(dst)
	}
	t.setr(f, instr.A(), result)
	return nil
}

// protoFor lazily builds the one canonical prototype table each distinct
// tableshape casts onto, so every value cast `as` the same shape shares a
// single prototype object (needed for metamethod dispatch to find a
// shape-level @add/@eq/... once one is attached to it).
func (t *Thread) protoFor(shape *types.TableShape) *value.TableObj {
	if p, ok := t.protoCache[shape]; ok {
		return p
	}
	p := value.NewTable()
	t.track(&p.Object)
	t.protoCache[shape] = p
	return p
}

// execSetMeta attaches a declared @name meta-method onto a type's canonical
// prototype table (§3 meta-name, §8 scenario 5), so any value later cast `as`
// that type dispatches through tryMeta. Register A holds the declared type
// constant, B the meta-name string, C the compiled meta-fn value.
func (t *Thread) execSetMeta(f *frame, instr bytecode.Instruction) error {
	declared := value.AsType(t.r(f, instr.A())).T
	dt := types.Dealias(declared)
	if dt.Kind != types.KTableShape {
		return t.runtimeErrorf("meta-methods only attach to tableshape types, got %s", declared.String())
	}
	name := value.AsString(t.r(f, instr.B())).Str
	fn := t.r(f, instr.C())
	proto := t.protoFor(dt.Shape)
	proto.Set(value.BoxString(name), fn)
	return nil
}
