// Package vm implements the register-window bytecode interpreter described
// in spec §4.G: one Thread per call chain, a fixed backing register array
// shared by every active (and any still-captured) call frame, and a single
// per-instruction dispatch step driving the top-of-stack frame.
//
// Grounded on sentra-language-sentra/internal/vmregister's RegisterVM (a
// register file plus a call-frame stack walked by a switch-on-opcode hot
// loop); this package simplifies that shape in one deliberate way: instead
// of an iterative loop threading its own call stack, a CALL instruction
// recursively drives a nested dispatch (callSync) that runs to completion
// before the instruction after CALL executes. This trades a little Go
// stack depth (bounded by maxCallDepth) for a much simpler, easier to
// verify-by-reading implementation, and it is what makes ITERFOR's
// generator-closure case and binary-operator metamethod fallback possible
// at all without a continuation mechanism: both need a call's result before
// they can decide what the *current* instruction does next.
//
// Every call frame's registers are bump-allocated from Thread.regs and
// never reclaimed for the Thread's lifetime (Thread.top only grows). This
// is the load-bearing reason a closure can safely hold `*value.Value`
// pointers directly into a defining frame's register slots (§4.F Closure
// capture) even after that frame returns: the memory is never reused by a
// later call, so the pointer stays valid as long as the Thread does. The
// cost is that a program making unboundedly many calls over a long-lived
// Thread will eventually exhaust the register budget; this is a accepted
// simplification (no open/closed-upvalue bookkeeping the way Lua's
// compacting stack requires) appropriate for the scope here, documented in
// DESIGN.md.
package vm

import (
	"fmt"

	"ember/internal/bytecode"
	"ember/internal/errors"
	"ember/internal/gc"
	"ember/internal/types"
	"ember/internal/value"
)

const (
	maxStack     = 1 << 20 // total register slots shared by every frame, ever
	maxCallDepth = 1024
)

// frame is one active (or logically-suspended, while something it called
// runs) function invocation.
type frame struct {
	fn        *value.FnObj
	closure   *value.ClosureObj
	base      int // absolute index into Thread.regs of this frame's register 0
	pc        int
	resultReg int // absolute index the caller is waiting to receive RETURN's value at
}

// Thread executes one module's bytecode. It owns the only register storage
// EMBER ever allocates at runtime; Tables, Arrays, Closures etc. are
// ordinary Go heap objects tracked by the attached gc.Collector instead.
type Thread struct {
	regs   []value.Value
	top    int
	frames []frame

	gc     *gc.Collector
	module *value.ModuleObj

	// pendingKey/pendingVal stage one EXPORT_KEY/EXPORT_VAL/EXPORT_TYPE
	// triple between the three instructions that make it up (§4.F export
	// forms always emit the triple back to back, never interleaved).
	pendingKey string
	pendingVal value.Value

	protoCache map[*types.TableShape]*value.TableObj
}

// NewThread prepares a Thread to run mod. Attach a collector with
// SetCollector before calling Run/Call if garbage collection is wanted;
// a Thread with no collector simply never frees heap objects (useful for
// short-lived test runs).
func NewThread(mod *value.ModuleObj) *Thread {
	return &Thread{
		regs:       make([]value.Value, maxStack),
		module:     mod,
		pendingVal: value.Null(),
		protoCache: make(map[*types.TableShape]*value.TableObj),
	}
}

func (t *Thread) SetCollector(c *gc.Collector) { t.gc = c }

// GCStats reports the attached collector's introspection figures (§4.B,
// backing the host's gc()/mem_size surface), or the zero Stats if no
// collector is attached.
func (t *Thread) GCStats() gc.Stats {
	if t.gc == nil {
		return gc.Stats{}
	}
	return t.gc.Stats()
}

// GCRoots implements gc.RootProvider: every register up to the current
// high-water mark is live-or-might-be-captured, the module itself and its
// still-loading exports table must survive, and any in-flight export value
// and cached tableshape prototype round things out.
func (t *Thread) GCRoots() []value.Value {
	roots := make([]value.Value, 0, t.top+4)
	roots = append(roots, t.regs[:t.top]...)
	if t.module != nil {
		roots = append(roots, value.BoxModule(t.module))
	}
	roots = append(roots, t.pendingVal)
	for _, p := range t.protoCache {
		roots = append(roots, value.BoxTable(p))
	}
	return roots
}

// Run executes the module's entry function with no arguments (§6 Execute).
func (t *Thread) Run() (value.Value, error) {
	if t.module == nil || t.module.Entry == nil {
		return value.Null(), t.runtimeErrorf("thread has no entry function to run")
	}
	return t.callSync(value.BoxFn(t.module.Entry), nil)
}

// Call invokes any callable value (an export, a stored closure, ...) and
// waits for its result, the way host.Execute calls into a loaded module's
// exported functions.
func (t *Thread) Call(callee value.Value, args ...value.Value) (value.Value, error) {
	return t.callSync(callee, args)
}

func (t *Thread) track(o *value.Object) {
	if t.gc != nil {
		t.gc.Track(o, gc.EstimateSize(o))
	}
}

func (t *Thread) runtimeErrorf(format string, args ...interface{}) error {
	name := "<module>"
	if t.module != nil && t.module.Name != "" {
		name = t.module.Name
	}
	return errors.New(errors.Runtime, name, fmt.Sprintf(format, args...), 0, 0)
}

// runtimeErrorWrap is runtimeErrorf's counterpart for a failure that
// originates from a Go error (a native function call) rather than the
// interpreter itself: it keeps cause's stack context reachable via
// errors.Unwrap/errors.As instead of flattening it into the message text.
func (t *Thread) runtimeErrorWrap(cause error, format string, args ...interface{}) error {
	name := "<module>"
	if t.module != nil && t.module.Name != "" {
		name = t.module.Name
	}
	msg := fmt.Sprintf(format, args...) + ": " + cause.Error()
	return errors.Wrap(cause, errors.Runtime, name, msg, 0, 0)
}

// pushCall bump-allocates a fresh register window for fn, copies argv into
// its first len(argv) registers (its declared parameters), and pushes the
// new frame. resultAbs is the absolute register index that frame's RETURN
// must deliver its value to.
func (t *Thread) pushCall(fn *value.FnObj, cl *value.ClosureObj, argv []value.Value, resultAbs int) error {
	if len(t.frames) >= maxCallDepth {
		return t.runtimeErrorf("stack overflow: call depth exceeds %d", maxCallDepth)
	}
	need := fn.StackSize
	if need < len(argv) {
		need = len(argv)
	}
	base := t.top
	if base+need > len(t.regs) {
		return t.runtimeErrorf("register stack exhausted")
	}
	copy(t.regs[base:base+len(argv)], argv)
	t.top += need
	t.frames = append(t.frames, frame{fn: fn, closure: cl, base: base, resultReg: resultAbs})
	return nil
}

// callSync dispatches one call to completion: native functions run
// synchronously in Go, bound methods unwrap their receiver and recurse,
// and Fn/Closure values push a frame and step the interpreter until that
// frame (and anything it calls) has returned.
func (t *Thread) callSync(callee value.Value, args []value.Value) (value.Value, error) {
	switch value.TagOf(callee) {
	case value.TagNativeFn:
		n := value.AsNativeFn(callee)
		res, err := n.Fn(args)
		if err != nil {
			return value.Null(), t.runtimeErrorWrap(err, "native function %q failed", n.Name)
		}
		return res, nil

	case value.TagMethod:
		m := value.AsMethod(callee)
		full := make([]value.Value, 0, len(args)+1)
		full = append(full, m.Receiver)
		full = append(full, args...)
		return t.callSync(m.Fn, full)

	case value.TagFn, value.TagClosure:
		var fn *value.FnObj
		var cl *value.ClosureObj
		if value.TagOf(callee) == value.TagClosure {
			cl = value.AsClosure(callee)
			fn = cl.Fn
		} else {
			fn = value.AsFn(callee)
		}
		if t.top >= len(t.regs) {
			return value.Null(), t.runtimeErrorf("register stack exhausted")
		}
		resultAbs := t.top
		t.regs[resultAbs] = value.Null()
		t.top++

		depth := len(t.frames)
		if err := t.pushCall(fn, cl, args, resultAbs); err != nil {
			return value.Null(), err
		}
		for len(t.frames) > depth {
			if err := t.step(); err != nil {
				return value.Null(), err
			}
		}
		return t.regs[resultAbs], nil

	default:
		return value.Null(), t.runtimeErrorf("attempt to call a non-callable value")
	}
}

// step executes exactly one instruction of the top-of-stack frame.
func (t *Thread) step() error {
	f := &t.frames[len(t.frames)-1]
	instr := f.fn.Code[f.pc]
	f.pc++
	op := instr.Op()

	switch op.Base() {
	case bytecode.LOAD:
		return t.execLoad(f, instr)
	case bytecode.LOAD_SMALL:
		t.setr(f, instr.A(), value.Number(float64(instr.SBx())))
	case bytecode.LOAD_NULL:
		t.setr(f, instr.A(), value.Null())
	case bytecode.LOAD_BOOL:
		t.setr(f, instr.A(), value.Bool(instr.B() != 0))
	case bytecode.LOAD_IMPORT:
		idx := int(instr.Bx())
		if f.fn.Module == nil || idx >= len(f.fn.Module.Imports) {
			return t.runtimeErrorf("invalid import index %d", idx)
		}
		t.setr(f, instr.A(), f.fn.Module.Imports[idx].Val)

	case bytecode.TABLE, bytecode.TTABLE:
		tbl := value.NewTable()
		t.track(&tbl.Object)
		t.setr(f, instr.A(), value.BoxTable(tbl))
	case bytecode.ARRAY:
		return t.execArray(f, instr)
	case bytecode.MOVE:
		t.setr(f, instr.A(), t.r(f, instr.B()))

	case bytecode.EXPORT_KEY:
		t.pendingKey = value.AsString(f.fn.Constants[instr.Bx()]).Str
	case bytecode.EXPORT_VAL:
		t.pendingVal = t.r(f, instr.A())
	case bytecode.EXPORT_TYPE:
		return t.execExportType(f, instr)
	case bytecode.CLOSE:
		// closures are built at LOAD time (see execLoad); nothing to do.

	case bytecode.LOADUP:
		t.setr(f, instr.A(), *f.closure.Upvalues[instr.Bx()])
	case bytecode.STOREUP:
		*f.closure.Upvalues[instr.Bx()] = t.r(f, instr.A())

	case bytecode.NEG:
		t.setr(f, instr.A(), value.Number(-value.AsNumber(t.r(f, instr.B()))))
	case bytecode.NOT:
		t.setr(f, instr.A(), value.Bool(!value.IsTruthy(t.r(f, instr.B()))))
	case bytecode.AND:
		t.setr(f, instr.A(), value.Bool(value.IsTruthy(t.r(f, instr.B())) && value.IsTruthy(t.r(f, instr.C()))))
	case bytecode.OR:
		t.setr(f, instr.A(), value.Bool(value.IsTruthy(t.r(f, instr.B())) || value.IsTruthy(t.r(f, instr.C()))))

	case bytecode.ADD, bytecode.SUB, bytecode.MUL, bytecode.DIV:
		return t.execArith(f, instr)
	case bytecode.EQ, bytecode.NEQ:
		return t.execEquality(f, instr)
	case bytecode.LT, bytecode.LTE:
		return t.execCompare(f, instr)

	case bytecode.LOAD_IDX:
		v, _ := value.Get(t.r(f, instr.B()), t.r(f, instr.C()))
		t.setr(f, instr.A(), v)
	case bytecode.STORE_IDX:
		value.Set(t.r(f, instr.A()), t.r(f, instr.B()), t.r(f, instr.C()))
	case bytecode.LOAD_IDX_K:
		key := f.fn.Constants[instr.C()]
		v, _ := value.Get(t.r(f, instr.B()), key)
		t.setr(f, instr.A(), v)
	case bytecode.STORE_IDX_K:
		key := f.fn.Constants[instr.C()]
		value.Set(t.r(f, instr.A()), key, t.r(f, instr.B()))
	case bytecode.LOAD_SUB_F:
		return t.execLoadSubF(f, instr)
	case bytecode.STORE_SUB_F:
		return t.execStoreSubF(f, instr)

	case bytecode.EXPECT:
		v := t.r(f, instr.B())
		if value.IsNull(v) {
			return t.runtimeErrorf("expected a value, got null")
		}
		t.setr(f, instr.A(), v)
	case bytecode.EXISTS:
		t.setr(f, instr.A(), value.Bool(!value.IsNull(t.r(f, instr.B()))))
	case bytecode.COALESCE:
		l := t.r(f, instr.B())
		if !value.IsNull(l) {
			t.setr(f, instr.A(), l)
		} else {
			t.setr(f, instr.A(), t.r(f, instr.C()))
		}

	case bytecode.TCHECK:
		return t.execTCheck(f, instr)
	case bytecode.TSATIS:
		return t.execTSatis(f, instr)
	case bytecode.TCAST:
		return t.execTCast(f, instr)
	case bytecode.TSET:
		t.setr(f, instr.A(), t.r(f, instr.B()))
	case bytecode.COMPOSE:
		return t.execCompose(f, instr)
	case bytecode.SETMETA:
		return t.execSetMeta(f, instr)

	case bytecode.CALL:
		return t.execCall(f, instr)

	case bytecode.JMP:
		f.pc += int(instr.SBx())
	case bytecode.JMPF:
		if !value.IsTruthy(t.r(f, instr.A())) {
			f.pc += int(instr.SBx())
		}

	case bytecode.RETURN:
		ret := value.Null()
		if instr.B() == 2 {
			ret = t.r(f, instr.A())
		}
		resultAbs := f.resultReg
		t.frames = t.frames[:len(t.frames)-1]
		t.regs[resultAbs] = ret
	case bytecode.END:
		// unreachable: every function body ends in an explicit RETURN.

	case bytecode.NUMFOR:
		t.execNumFor(f, instr)
	case bytecode.ITERFOR:
		return t.execIterFor(f, instr)

	default:
		return t.runtimeErrorf("unimplemented opcode %s", op)
	}
	return nil
}

func (t *Thread) r(f *frame, idx uint8) value.Value        { return t.regs[f.base+int(idx)] }
func (t *Thread) setr(f *frame, idx uint8, v value.Value)  { t.regs[f.base+int(idx)] = v }
