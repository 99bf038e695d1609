package host

import (
	"ember/internal/value"
	"ember/internal/vm"
)

// NativeFunc is the Go-idiom shape every native function embedding this
// package exposes: the argument slice in, a value/error pair out. Spec §6
// additionally names a C-style thread-argument API (argc/arg/return/push/
// pop) built around indexing into a running bt_Thread's stack one slot at a
// time; that shape has no natural home here since value.NativeFnObj.Fn
// already receives its arguments as a plain Go slice and returns its result
// directly (§3 NativeFn, §4.G CALL dispatch) rather than writing into a
// shared stack the caller then reads back from. Argc/Arg below are
// kept as thin, rarely-needed adapters over that slice for native functions
// translated mechanically from bt_NativeFunc-shaped C code, not as the
// primary way to write one.
type NativeFunc = value.NativeFn

// Argc returns the argument count — equivalent to bt_argc(thread).
func Argc(args []value.Value) int { return len(args) }

// Arg returns argument i, or null if the call was made with fewer
// arguments than the native function expects — equivalent to
// bt_arg(thread, i), except EMBER's arity is already checked at compile
// time (§4.E), so out-of-range here only happens for a variadic signature.
func Arg(args []value.Value, i int) value.Value {
	if i < 0 || i >= len(args) {
		return value.Null()
	}
	return args[i]
}

// NewFn wraps a plain Go function as a value.NativeFnObj ready to box into
// a Value and bind into a module, prelude entry, or table field.
func NewFn(name string, fn NativeFunc) *value.NativeFnObj {
	return &value.NativeFnObj{Object: value.Object{Tag: value.TagNativeFn}, Name: name, Fn: fn}
}

// MakeClosure builds a ClosureObj around fn with the given upvalue cells —
// equivalent to bt_make_closure(num_upvals) followed by bt_setup for each
// slot, collapsed into one call since Go has no stack to push intermediate
// upvalues onto.
func MakeClosure(fn *value.FnObj, upvalues []*value.Value) *value.ClosureObj {
	return &value.ClosureObj{Object: value.Object{Tag: value.TagClosure}, Fn: fn, Upvalues: upvalues}
}

// GetUp/SetUp read and write one upvalue cell of a closure built by
// MakeClosure — equivalent to bt_getup/bt_setup.
func GetUp(cl *value.ClosureObj, i int) value.Value { return *cl.Upvalues[i] }
func SetUp(cl *value.ClosureObj, i int, v value.Value) { *cl.Upvalues[i] = v }

// Call invokes callee on thread with args and waits for its result —
// equivalent to bt_call(thread, argc) once the caller has already pushed
// argc values, except args arrive as an ordinary slice instead of having
// been pushed one at a time beforehand.
func Call(thread *vm.Thread, callee value.Value, args ...value.Value) (value.Value, error) {
	return thread.Call(callee, args...)
}
